package attendance

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/store"
)

func openTempRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "rollcall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return NewRepository(db)
}

func TestRepository_Entities(t *testing.T) {
	ctx := context.Background()
	repo := openTempRepository(t)
	seedStore(t, repo)

	l, err := repo.GetLecture(ctx, "lec-1")
	require.NoError(t, err)
	assert.Equal(t, LectureScheduled, l.Status)
	assert.False(t, l.Locked)

	l, err = repo.SetLectureLocked(ctx, "lec-1", true)
	require.NoError(t, err)
	assert.True(t, l.Locked)
	l, err = repo.GetLecture(ctx, "lec-1")
	require.NoError(t, err)
	assert.Equal(t, Locked, l.LockState())

	_, err = repo.GetLecture(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.SetLectureStatus(ctx, "missing", LectureCompleted)
	assert.ErrorIs(t, err, ErrNotFound)

	lectures, err := repo.ListLectures(ctx, LectureFilter{CourseOfferingID: "off-1"})
	require.NoError(t, err)
	assert.Len(t, lectures, 1)

	students, err := repo.ListStudents(ctx, StudentFilter{IDs: []string{"C", "A"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, StudentIDs(students))

	_, err = repo.CreateOffering(ctx, CourseOffering{ID: "off-2", CourseID: "course-2", Status: "inactive", EnrolledStudents: []string{"B"}})
	require.NoError(t, err)
	o, err := repo.GetOffering(ctx, "off-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, o.EnrolledStudents)
	active, err := repo.ListOfferings(ctx, "active")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "off-1", active[0].ID)
	assert.Empty(t, active[0].EnrolledStudents)
}

func TestRepository_RecordsUpsertOnPair(t *testing.T) {
	ctx := context.Background()
	repo := openTempRepository(t)
	seedStore(t, repo)

	first, err := repo.CreateRecord(ctx, AttendanceRecord{ID: "r-1", LectureID: "lec-1", StudentID: "A", Date: "2026-03-10", Status: StatusAbsent, MarkedAt: testNow})
	require.NoError(t, err)
	assert.Equal(t, testNow, first.MarkedAt)

	second, err := repo.CreateRecord(ctx, AttendanceRecord{ID: "r-2", LectureID: "lec-1", StudentID: "A", Date: "2026-03-10", Status: StatusPresent, MarkedAt: testNow})
	require.NoError(t, err)
	assert.Equal(t, "r-1", second.ID, "the pair keeps its original record")
	assert.Equal(t, StatusPresent, second.Status)

	rec, found, err := repo.FindRecord(ctx, "lec-1", "A")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusPresent, rec.Status)

	_, found, err = repo.FindRecord(ctx, "lec-1", "B")
	require.NoError(t, err)
	assert.False(t, found)

	updated, err := repo.UpdateRecordStatus(ctx, "r-1", StatusExcused, testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusExcused, updated.Status)
	_, err = repo.UpdateRecordStatus(ctx, "nope", StatusExcused, testNow)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.DeleteRecord(ctx, "r-1"))
	assert.ErrorIs(t, repo.DeleteRecord(ctx, "r-1"), ErrNotFound)
}

func TestRepository_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	repo := openTempRepository(t)
	seedStore(t, repo)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng := NewEngine(repo, WithConcurrency(3))
			d := Seed(NewGate("lec-1", Unlocked), nil)
			_ = d.BulkSetStatus([]string{"A", "B", "C"}, StatusPresent)
			results, err := eng.Commit(ctx, d, lc1)
			assert.NoError(t, err)
			for _, r := range results {
				assert.NoError(t, r.Err)
			}
		}()
	}
	wg.Wait()

	records, err := repo.ListRecords(ctx, RecordFilter{LectureID: "lec-1"})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestRepository_FailedWriteIsPersistenceError(t *testing.T) {
	ctx := context.Background()
	repo := openTempRepository(t)
	seedStore(t, repo)

	// student Z does not exist, so the foreign key rejects the insert
	d := Seed(NewGate("lec-1", Unlocked), nil)
	require.NoError(t, d.BulkSetStatus([]string{"A", "Z"}, StatusPresent))
	results, err := NewEngine(repo).Commit(ctx, d, lc1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrPersistence)
}

func TestRepository_Jobs(t *testing.T) {
	ctx := context.Background()
	repo := openTempRepository(t)

	job, err := repo.CreateJob(ctx, CommitJob{ID: "01J0000000000000000000000", LectureID: "lec-1", Status: JobPending, Entries: map[string]Status{"A": StatusLate}})
	require.NoError(t, err)
	assert.Equal(t, map[string]Status{"A": StatusLate}, job.Entries)

	job.Status = JobDone
	job.Results = []JobResult{{StudentID: "A", Kind: OpCreate, Status: StatusLate, RecordID: "r-1"}}
	_, err = repo.UpdateJob(ctx, job)
	require.NoError(t, err)

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobDone, got.Status)
	assert.Equal(t, job.Results, got.Results)

	_, err = repo.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// cancellingRepository cancels the caller's context once the lecture has been read.
type cancellingRepository struct {
	*Repository
	cancel context.CancelFunc
}

func (r *cancellingRepository) GetLecture(ctx context.Context, id string) (Lecture, error) {
	l, err := r.Repository.GetLecture(ctx, id)
	if r.cancel != nil {
		r.cancel()
	}
	return l, err
}

func TestService_CommitJobSettlesAfterDeadline(t *testing.T) {
	ctx := context.Background()
	repo := &cancellingRepository{Repository: openTempRepository(t)}
	seedStore(t, repo)
	svc := newTestService(t, repo)

	sess, err := svc.OpenSession(ctx, "lec-1")
	require.NoError(t, err)
	_, err = svc.Mark(ctx, sess.ID, "A", StatusPresent)
	require.NoError(t, err)
	job, err := svc.CreateCommitJob(ctx, sess.ID)
	require.NoError(t, err)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	repo.cancel = cancel
	out, err := svc.RunCommitJob(jobCtx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, out.Status)

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, stored.Status, "a cancelled job must not stay running")
	assert.NotEmpty(t, stored.Error)
}
