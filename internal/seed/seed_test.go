package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance"
)

const doc = `
students:
  - {id: s1, first_name: Ada, last_name: Lovelace, roll_number: R-001}
  - {id: s2, first_name: Bob, last_name: Stone, roll_number: R-002, status: dropped}
offerings:
  - id: off-1
    course_id: cs101
    enrolled_students: [s1, s2]
lectures:
  - id: lec-1
    course_offering_id: off-1
    course_id: cs101
    date: "2026-03-10"
    attendance_locked: true
`

func TestReadAndApply(t *testing.T) {
	ctx := context.Background()
	f, err := Read(strings.NewReader(doc))
	require.NoError(t, err)

	st := attendance.NewMemoryStore()
	counts, err := Apply(ctx, st, f)
	require.NoError(t, err)
	assert.Equal(t, Counts{Students: 2, Offerings: 1, Lectures: 1}, counts)

	s, err := st.GetStudent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", s.FullName())
	assert.Equal(t, attendance.StudentActive, s.Status)

	o, err := st.GetOffering(ctx, "off-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, o.EnrolledStudents)

	l, err := st.GetLecture(ctx, "lec-1")
	require.NoError(t, err)
	assert.True(t, l.Locked)
	assert.Equal(t, attendance.LectureScheduled, l.Status)

	// applying twice is harmless
	_, err = Apply(ctx, st, f)
	require.NoError(t, err)
}

func TestRead_Errors(t *testing.T) {
	_, err := Read(strings.NewReader("students:\n  - {id: s1, nickname: x}\n"))
	assert.Error(t, err, "unknown keys are rejected")

	f, err := Read(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Students)

	f, err = Read(strings.NewReader("lectures:\n  - {id: l1, status: postponed}\n"))
	require.NoError(t, err)
	_, err = Apply(context.Background(), attendance.NewMemoryStore(), f)
	assert.ErrorContains(t, err, "unknown status")
}
