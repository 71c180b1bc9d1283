package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	prefix string
	n      atomic.Int64
}

func (g *seqIDs) New() string { return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1)) }

func student(id, first, last, roll string) Student {
	return Student{ID: id, FirstName: first, LastName: last, RollNumber: roll, Status: StudentActive}
}

// seedStore loads an offering with students A, B and C and one unlocked lecture.
func seedStore(t *testing.T, st Store) Lecture {
	t.Helper()
	ctx := context.Background()
	for _, s := range []Student{
		student("A", "Ada", "Lovelace", "R-001"),
		student("B", "Bob", "Stone", "R-002"),
		student("C", "Cleo", "Marsh", "R-003"),
	} {
		_, err := st.CreateStudent(ctx, s)
		require.NoError(t, err)
	}
	_, err := st.CreateOffering(ctx, CourseOffering{ID: "off-1", CourseID: "course-1", Section: "A"})
	require.NoError(t, err)
	l, err := st.CreateLecture(ctx, Lecture{
		ID:               "lec-1",
		CourseOfferingID: "off-1",
		CourseID:         "course-1",
		Title:            "Intro",
		Date:             "2026-03-10",
	})
	require.NoError(t, err)
	return l
}

var errBackend = errors.New("backend unavailable")

// flakyStore fails writes for chosen students until healed.
type flakyStore struct {
	*MemoryStore
	mu   sync.Mutex
	fail map[string]bool
}

func newFlakyStore(students ...string) *flakyStore {
	return &flakyStore{MemoryStore: NewMemoryStore(), fail: setOfBool(students)}
}

func setOfBool(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func (f *flakyStore) heal() {
	f.mu.Lock()
	f.fail = map[string]bool{}
	f.mu.Unlock()
}

func (f *flakyStore) failing(studentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[studentID]
}

func (f *flakyStore) CreateRecord(ctx context.Context, r AttendanceRecord) (AttendanceRecord, error) {
	if f.failing(r.StudentID) {
		return AttendanceRecord{}, errBackend
	}
	return f.MemoryStore.CreateRecord(ctx, r)
}

func (f *flakyStore) UpdateRecordStatus(ctx context.Context, id string, status Status, markedAt time.Time) (AttendanceRecord, error) {
	f.MemoryStore.mu.RLock()
	rec, ok := f.MemoryStore.records[id]
	f.MemoryStore.mu.RUnlock()
	if ok && f.failing(rec.StudentID) {
		return AttendanceRecord{}, errBackend
	}
	return f.MemoryStore.UpdateRecordStatus(ctx, id, status, markedAt)
}
