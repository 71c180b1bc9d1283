package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"rollcall/internal/attendance"
	"rollcall/internal/queue"
)

type statusLog struct {
	mu   sync.Mutex
	seen []string
}

func (s *statusLog) JobFinished(status string) {
	s.mu.Lock()
	s.seen = append(s.seen, status)
	s.mu.Unlock()
}

func (s *statusLog) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

func TestWorker_RunsCommitJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := zaptest.NewLogger(t)

	st := attendance.NewMemoryStore()
	_, err := st.CreateStudent(ctx, attendance.Student{ID: "A", FirstName: "Ada", RollNumber: "R-001"})
	require.NoError(t, err)
	_, err = st.CreateOffering(ctx, attendance.CourseOffering{ID: "off-1", CourseID: "c1"})
	require.NoError(t, err)
	_, err = st.CreateLecture(ctx, attendance.Lecture{ID: "lec-1", CourseOfferingID: "off-1", CourseID: "c1", Date: "2026-03-10"})
	require.NoError(t, err)

	svc := attendance.NewService(st, st, attendance.NewEngine(st), attendance.NewSessions(time.Hour, nil), log)
	sess, err := svc.OpenSession(ctx, "lec-1")
	require.NoError(t, err)
	_, err = svc.Mark(ctx, sess.ID, "A", attendance.StatusPresent)
	require.NoError(t, err)
	job, err := svc.CreateCommitJob(ctx, sess.ID)
	require.NoError(t, err)

	q := queue.NewInMemory(4)
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "other", Body: []byte("x")}))
	require.NoError(t, q.Publish(ctx, queue.Commit(job.ID)))
	require.NoError(t, q.Publish(ctx, queue.Commit(job.ID)))
	require.NoError(t, q.Publish(ctx, queue.Commit("missing")))

	obs := &statusLog{}
	w := &Worker{Service: svc, Queue: q, Log: log, Observer: obs, Timeout: time.Second}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(obs.snapshot()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"done", "done"}, obs.snapshot(), "a redelivered job reports its stored outcome")
	assert.Equal(t, 1, st.RecordCount())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop")
	}
}
