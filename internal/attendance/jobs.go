package attendance

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// JobStatus tracks an asynchronous commit.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// CommitJob is a draft snapshot queued for the worker, plus its outcome once applied.
type CommitJob struct {
	ID        string            `json:"id"`
	LectureID string            `json:"lecture_id"`
	Entries   map[string]Status `json:"entries"`
	Status    JobStatus         `json:"status"`
	Results   []JobResult       `json:"results,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// JobResult is the serialisable form of a Result.
type JobResult struct {
	StudentID string `json:"student_id"`
	Kind      OpKind `json:"kind"`
	Status    Status `json:"status"`
	RecordID  string `json:"record_id,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Failed counts the failed operations of the job.
func (j CommitJob) Failed() int {
	n := 0
	for _, r := range j.Results {
		if r.Error != "" {
			n++
		}
	}
	return n
}

func JobResults(results []Result) []JobResult {
	out := make([]JobResult, len(results))
	for i, r := range results {
		jr := JobResult{
			StudentID: r.Op.StudentID,
			Kind:      r.Op.Kind,
			Status:    r.Op.Status,
			RecordID:  r.Record.ID,
			Skipped:   r.Skipped,
		}
		if r.Err != nil {
			jr.Error = r.Err.Error()
		}
		out[i] = jr
	}
	return out
}

// JobStore persists commit jobs.
type JobStore interface {
	CreateJob(ctx context.Context, j CommitJob) (CommitJob, error)
	GetJob(ctx context.Context, id string) (CommitJob, error)
	UpdateJob(ctx context.Context, j CommitJob) (CommitJob, error)
}

type ulidGen struct{}

// New returns a lexically sortable id, so jobs list in creation order.
func (ulidGen) New() string {
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}

// ULIDs returns an IDGen producing ULIDs.
func ULIDs() IDGen { return ulidGen{} }
