package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"rollcall/internal/attendance"
	"rollcall/internal/queue"
)

// JobObserver is told the final status of every job the worker runs.
type JobObserver interface {
	JobFinished(status string)
}

// Worker applies queued commit jobs.
type Worker struct {
	Service  *attendance.Service
	Queue    queue.Queue
	Log      *zap.Logger
	Observer JobObserver   // optional
	Timeout  time.Duration // per job; zero means no deadline
}

// Run consumes messages until ctx is cancelled or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.Queue.Consume(ctx)
	if err != nil {
		return err
	}
	w.Log.Info("worker started, waiting for messages")
	for msg := range messages {
		if msg.Type != queue.TypeCommit {
			w.Log.Warn("skipping unknown message", zap.String("type", msg.Type))
			continue
		}
		w.handle(ctx, string(msg.Body))
	}
	w.Log.Info("worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, jobID string) {
	jctx, cancel := ctx, context.CancelFunc(func() {})
	if w.Timeout > 0 {
		jctx, cancel = context.WithTimeout(ctx, w.Timeout)
	}
	defer cancel()

	job, err := w.Service.RunCommitJob(jctx, jobID)
	if err != nil {
		w.Log.Error("commit job failed to run", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if w.Observer != nil {
		w.Observer.JobFinished(string(job.Status))
	}
}
