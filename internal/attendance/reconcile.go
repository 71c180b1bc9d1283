package attendance

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OpKind distinguishes the two ledger writes a commit can issue.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
)

// Operation is one planned ledger write.
type Operation struct {
	Kind      OpKind           `json:"kind"`
	StudentID string           `json:"student_id"`
	Status    Status           `json:"status"`
	RecordID  string           `json:"record_id,omitempty"` // update target
	Record    AttendanceRecord `json:"-"`                   // create payload
}

// Result is the observable outcome of one operation. Record holds the persisted state
// after the write, so callers read their own writes without re-fetching.
type Result struct {
	Op      Operation
	Record  AttendanceRecord
	Skipped bool // the ledger already held the requested status
	Err     error
}

func (r Result) Failed() bool { return r.Err != nil }

// Plan diffs draft entries against the lecture's existing records. Unchanged marks
// produce no operation. The output is sorted by student id.
func Plan(entries map[string]Status, existing []AttendanceRecord, lc LectureContext, now time.Time) []Operation {
	byStudent := recordsByStudent(existing)
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ops := make([]Operation, 0, len(ids))
	for _, id := range ids {
		status := entries[id]
		if rec, ok := byStudent[id]; ok {
			if rec.Status == status {
				continue
			}
			ops = append(ops, Operation{Kind: OpUpdate, StudentID: id, Status: status, RecordID: rec.ID})
			continue
		}
		ops = append(ops, Operation{
			Kind:      OpCreate,
			StudentID: id,
			Status:    status,
			Record:    newRecord(lc, id, status, now),
		})
	}
	return ops
}

func newRecord(lc LectureContext, studentID string, status Status, now time.Time) AttendanceRecord {
	return AttendanceRecord{
		LectureID:        lc.LectureID,
		StudentID:        studentID,
		CourseID:         lc.CourseID,
		CourseOfferingID: lc.CourseOfferingID,
		Date:             lc.Date,
		Status:           status,
		MarkedAt:         now,
	}
}

// Recorder receives commit telemetry.
type Recorder interface {
	ObserveOperation(kind, outcome string)
	ObserveCommit(d time.Duration)
	LockRejected()
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string) {}
func (nopRecorder) ObserveCommit(time.Duration) {}
func (nopRecorder) LockRejected() {}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithClock(c Clock) EngineOption { return func(e *Engine) { e.clock = c } }
func WithIDGen(g IDGen) EngineOption { return func(e *Engine) { e.ids = g } }
func WithRecorder(r Recorder) EngineOption { return func(e *Engine) { e.rec = r } }
func WithLogger(l *zap.Logger) EngineOption { return func(e *Engine) { e.log = l } }
func WithConcurrency(n int) EngineOption { return func(e *Engine) { e.concurrency = n } }
func WithTracer(t trace.Tracer) EngineOption { return func(e *Engine) { e.tracer = t } }

// Engine reconciles drafts against the ledger.
type Engine struct {
	store       Store
	clock       Clock
	ids         IDGen
	rec         Recorder
	log         *zap.Logger
	tracer      trace.Tracer
	concurrency int
	pairs       *KeyedMutex
}

func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		clock:       RealClock(),
		ids:         UUIDs(),
		rec:         nopRecorder{},
		log:         zap.NewNop(),
		tracer:      otel.Tracer("rollcall/attendance"),
		concurrency: 8,
		pairs:       NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.concurrency <= 0 {
		e.concurrency = 1
	}
	return e
}

// Commit persists a draft. It refuses to start while the lecture is locked; once
// started it runs to completion even if the lecture is locked meanwhile. The returned
// error covers only failures before any operation was issued; per-operation failures
// are reported in the results.
func (e *Engine) Commit(ctx context.Context, d *Draft, lc LectureContext) ([]Result, error) {
	done, err := d.Gate().BeginCommit()
	if err != nil {
		e.rec.LockRejected()
		return nil, err
	}
	defer done()

	start := e.clock.Now()
	ctx, span := e.tracer.Start(ctx, "attendance.Commit",
		trace.WithAttributes(attribute.String("lecture.id", lc.LectureID)))
	defer span.End()

	existing, err := e.store.ListRecords(ctx, RecordFilter{LectureID: lc.LectureID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load records")
		return nil, Persistence("load lecture records", err)
	}

	ops := Plan(d.Entries(), existing, lc, e.clock.Now())
	span.SetAttributes(attribute.Int("operations", len(ops)))
	results := e.apply(ctx, lc, ops)

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	if failed > 0 {
		span.SetStatus(codes.Error, "partial failure")
		e.log.Warn("commit finished with failures",
			zap.String("lecture_id", lc.LectureID),
			zap.Int("operations", len(ops)),
			zap.Int("failed", failed))
	} else {
		e.log.Debug("commit finished",
			zap.String("lecture_id", lc.LectureID),
			zap.Int("operations", len(ops)))
	}
	e.rec.ObserveCommit(e.clock.Now().Sub(start))
	return results, nil
}

// Retry re-issues only the failed operations of an earlier commit.
func (e *Engine) Retry(ctx context.Context, d *Draft, lc LectureContext, previous []Result) ([]Result, error) {
	done, err := d.Gate().BeginCommit()
	if err != nil {
		e.rec.LockRejected()
		return nil, err
	}
	defer done()

	var ops []Operation
	for _, r := range previous {
		if r.Failed() {
			ops = append(ops, r.Op)
		}
	}
	return e.apply(ctx, lc, ops), nil
}

func (e *Engine) apply(ctx context.Context, lc LectureContext, ops []Operation) []Result {
	results := make([]Result, len(ops))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, op := range ops {
		g.Go(func() error {
			results[i] = e.applyOne(ctx, lc, op)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// applyOne writes a single pair under its key lock, re-reading the pair's record right
// before the write so that concurrent commits for the same student converge on one record.
func (e *Engine) applyOne(ctx context.Context, lc LectureContext, op Operation) Result {
	release := e.pairs.Lock(pairKey(lc.LectureID, op.StudentID))
	defer release()

	ctx, span := e.tracer.Start(ctx, "attendance.apply",
		trace.WithAttributes(
			attribute.String("student.id", op.StudentID),
			attribute.String("op.kind", string(op.Kind))))
	defer span.End()

	res := Result{Op: op}
	if err := ctx.Err(); err != nil {
		res.Err = Persistence("commit cancelled", err)
		e.rec.ObserveOperation(string(op.Kind), "error")
		return res
	}

	current, found, err := e.store.FindRecord(ctx, lc.LectureID, op.StudentID)
	if err != nil {
		res.Err = Persistence("look up record", err)
		span.RecordError(err)
		e.rec.ObserveOperation(string(op.Kind), "error")
		return res
	}

	now := e.clock.Now()
	switch {
	case found && current.Status == op.Status:
		res.Record = current
		res.Skipped = true
		e.rec.ObserveOperation(string(op.Kind), "skipped")
		return res
	case found:
		res.Record, err = e.store.UpdateRecordStatus(ctx, current.ID, op.Status, now)
	default:
		rec := op.Record
		if op.Kind != OpCreate || rec.LectureID == "" {
			// the record we meant to update is gone; recreate it
			rec = newRecord(lc, op.StudentID, op.Status, now)
		}
		rec.ID = e.ids.New()
		res.Record, err = e.store.CreateRecord(ctx, rec)
	}
	if err != nil {
		res.Err = Persistence("write record for student "+op.StudentID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		e.log.Warn("attendance write failed",
			zap.String("lecture_id", lc.LectureID),
			zap.String("student_id", op.StudentID),
			zap.Error(err))
		e.rec.ObserveOperation(string(op.Kind), "error")
		return res
	}
	e.rec.ObserveOperation(string(op.Kind), "ok")
	return res
}
