package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveRoster(t *testing.T) {
	all := []Student{
		student("A", "Ada", "Lovelace", "R-001"),
		{ID: "B", FirstName: "Bob", Status: StudentGraduated},
		student("C", "Cleo", "Marsh", "R-003"),
		student("D", "Dan", "Reed", "R-004"),
	}

	tests := []struct {
		name     string
		offering CourseOffering
		students []Student
		want     []string
	}{
		{name: "enrolled subset in source order", offering: CourseOffering{EnrolledStudents: []string{"D", "B", "Z"}}, students: all, want: []string{"B", "D"}},
		{name: "active students without enrolment", offering: CourseOffering{}, students: all, want: []string{"A", "C", "D"}},
		{name: "empty input", offering: CourseOffering{EnrolledStudents: []string{"A"}}, students: nil, want: []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StudentIDs(ResolveRoster(tc.offering, tc.students)))
		})
	}
}

func TestFilterRoster(t *testing.T) {
	roster := []Student{
		student("A", "Ada", "Lovelace", "R-001"),
		student("B", "Bob", "Stone", "R-002"),
		student("C", "Søren", "Kierkegaard", "X-003"),
	}

	assert.Equal(t, []string{"A", "B", "C"}, StudentIDs(FilterRoster(roster, "  ")))
	assert.Equal(t, []string{"A"}, StudentIDs(FilterRoster(roster, "LOVE")))
	assert.Equal(t, []string{"A", "B"}, StudentIDs(FilterRoster(roster, "r-00")))
	assert.Equal(t, []string{"C"}, StudentIDs(FilterRoster(roster, "SØREN")))
	assert.Empty(t, FilterRoster(roster, "nobody"))
}

func TestKeyedMutex(t *testing.T) {
	k := NewKeyedMutex()
	release := k.Lock("a")
	other := k.Lock("b")
	assert.Equal(t, 2, k.Len())

	acquired := make(chan struct{})
	go func() {
		r := k.Lock("a")
		close(acquired)
		r()
	}()
	other()
	release()
	<-acquired
	assert.Eventually(t, func() bool { return k.Len() == 0 }, time.Second, time.Millisecond)
}
