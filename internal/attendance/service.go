package attendance

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service coordinates marking sessions, the lock and commits for the API and the worker.
type Service struct {
	store    Store
	jobs     JobStore
	engine   *Engine
	sessions *Sessions
	log      *zap.Logger
	clock    Clock
	ids      IDGen
	jobIDs   IDGen

	gmu   sync.Mutex
	gates map[string]*Gate
	// serialises lock changes with the read-then-sync of a lecture's gate
	locks *KeyedMutex
}

// NewService creates a service backed by a store. jobs may be nil when asynchronous
// commits are not offered.
func NewService(store Store, jobs JobStore, engine *Engine, sessions *Sessions, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:    store,
		jobs:     jobs,
		engine:   engine,
		sessions: sessions,
		log:      log,
		clock:    RealClock(),
		ids:      UUIDs(),
		jobIDs:   ULIDs(),
		gates:    make(map[string]*Gate),
		locks:    NewKeyedMutex(),
	}
}

// gate returns the process-wide gate of a lecture, aligned with its persisted lock flag.
func (s *Service) gate(l Lecture) *Gate {
	s.gmu.Lock()
	g, ok := s.gates[l.ID]
	if !ok {
		g = NewGate(l.ID, l.LockState())
		s.gates[l.ID] = g
	}
	s.gmu.Unlock()
	if ok {
		g.Sync(l.LockState())
	}
	return g
}

// syncLecture reads a lecture and aligns its gate with the stored lock flag. The read and
// the sync happen under the lecture's lock mutex, so a snapshot taken before a concurrent
// Lock or Unlock can never overwrite the gate transition that followed it.
func (s *Service) syncLecture(ctx context.Context, lectureID string) (Lecture, *Gate, error) {
	release := s.locks.Lock(lectureID)
	defer release()
	lecture, err := s.store.GetLecture(ctx, lectureID)
	if err != nil {
		return Lecture{}, nil, err
	}
	return lecture, s.gate(lecture), nil
}

// Roster resolves the students of an offering, optionally narrowed by a search query.
// An unknown offering yields an empty roster.
func (s *Service) Roster(ctx context.Context, offeringID, query string) ([]Student, error) {
	offering, err := s.store.GetOffering(ctx, offeringID)
	if err != nil {
		if CodeOf(err) == CodeNotFound {
			s.log.Info("roster requested for unknown offering", zap.String("offering_id", offeringID))
			return []Student{}, nil
		}
		return nil, err
	}
	// only active students are candidates; an enrolment list narrows them further
	filter := StudentFilter{Status: StudentActive}
	if len(offering.EnrolledStudents) > 0 {
		filter.IDs = offering.EnrolledStudents
	}
	all, err := s.store.ListStudents(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FilterRoster(ResolveRoster(offering, all), query), nil
}

func (s *Service) Offerings(ctx context.Context, status string) ([]CourseOffering, error) {
	return s.store.ListOfferings(ctx, status)
}

func (s *Service) Lectures(ctx context.Context, offeringID string) ([]Lecture, error) {
	return s.store.ListLectures(ctx, LectureFilter{CourseOfferingID: offeringID})
}

// OpenSession starts a marking session for a lecture: the roster is resolved and the
// draft seeded from the lecture's records. Locked lectures can still be opened for viewing.
func (s *Service) OpenSession(ctx context.Context, lectureID string) (*Session, error) {
	lecture, g, err := s.syncLecture(ctx, lectureID)
	if err != nil {
		return nil, err
	}
	roster, err := s.Roster(ctx, lecture.CourseOfferingID, "")
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListRecords(ctx, RecordFilter{LectureID: lecture.ID})
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:        s.ids.New(),
		Lecture:   lecture,
		Roster:    roster,
		members:   SetOf(StudentIDs(roster)),
		Draft:     Seed(g, records),
		CreatedAt: s.clock.Now(),
	}
	s.sessions.Put(sess)
	s.log.Debug("marking session opened",
		zap.String("session_id", sess.ID),
		zap.String("lecture_id", lecture.ID),
		zap.Int("roster", len(roster)),
		zap.Int("seeded", sess.Draft.Len()))
	return sess, nil
}

func (s *Service) Session(id string) (*Session, error) { return s.sessions.Get(id) }

// CloseSession discards a session and its draft.
func (s *Service) CloseSession(id string) error {
	if !s.sessions.Delete(id) {
		return NotFound("session %s not found", id)
	}
	return nil
}

// Mark sets one student's status in a session's draft.
func (s *Service) Mark(_ context.Context, sessionID, studentID string, status Status) (*Session, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.OnRoster(studentID) {
		return nil, NotFound("student %s is not on the roster", studentID)
	}
	if err := sess.Draft.SetStatus(studentID, status); err != nil {
		return nil, err
	}
	return sess, nil
}

// BulkMark sets status for the listed students, or for every roster student matching
// query when no ids are given. It returns how many students were marked.
func (s *Service) BulkMark(_ context.Context, sessionID string, studentIDs []string, query string, status Status) (int, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return 0, err
	}
	if len(studentIDs) == 0 {
		studentIDs = StudentIDs(FilterRoster(sess.Roster, query))
	} else {
		for _, id := range studentIDs {
			if !sess.OnRoster(id) {
				return 0, NotFound("student %s is not on the roster", id)
			}
		}
	}
	if err := sess.Draft.BulkSetStatus(studentIDs, status); err != nil {
		return 0, err
	}
	return len(studentIDs), nil
}

// CommitOutcome is what a commit reports back: every operation's result, the number
// that failed, and the session's stats after the write.
type CommitOutcome struct {
	Results []Result
	Failed  int
	Stats   Stats
}

func outcome(results []Result, sess *Session) CommitOutcome {
	o := CommitOutcome{Results: results, Stats: sess.Stats()}
	for _, r := range results {
		if r.Failed() {
			o.Failed++
		}
	}
	return o
}

// refreshGate re-reads the lecture so a lock set by another process is honoured.
func (s *Service) refreshGate(ctx context.Context, sess *Session) (Lecture, error) {
	lecture, _, err := s.syncLecture(ctx, sess.Lecture.ID)
	return lecture, err
}

// Commit persists a session's draft.
func (s *Service) Commit(ctx context.Context, sessionID string) (CommitOutcome, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return CommitOutcome{}, err
	}
	lecture, err := s.refreshGate(ctx, sess)
	if err != nil {
		return CommitOutcome{}, err
	}
	results, err := s.engine.Commit(ctx, sess.Draft, lecture.Context())
	if err != nil {
		return CommitOutcome{}, err
	}
	sess.setResults(results)
	return outcome(results, sess), nil
}

// RetryCommit re-issues the operations that failed in the session's last commit.
// Results of the earlier successful operations are carried over.
func (s *Service) RetryCommit(ctx context.Context, sessionID string) (CommitOutcome, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return CommitOutcome{}, err
	}
	lecture, err := s.refreshGate(ctx, sess)
	if err != nil {
		return CommitOutcome{}, err
	}
	previous := sess.LastResults()
	retried, err := s.engine.Retry(ctx, sess.Draft, lecture.Context(), previous)
	if err != nil {
		return CommitOutcome{}, err
	}
	byStudent := IndexBy(retried, func(r Result) string { return r.Op.StudentID })
	merged := make([]Result, len(previous))
	for i, r := range previous {
		if nr, ok := byStudent[r.Op.StudentID]; ok && r.Failed() {
			r = nr
		}
		merged[i] = r
	}
	sess.setResults(merged)
	return outcome(merged, sess), nil
}

// CreateCommitJob snapshots a session's draft into a pending job for the worker.
func (s *Service) CreateCommitJob(ctx context.Context, sessionID string) (CommitJob, error) {
	if s.jobs == nil {
		return CommitJob{}, Internal("asynchronous commits are not configured", nil)
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return CommitJob{}, err
	}
	if _, err := s.refreshGate(ctx, sess); err != nil {
		return CommitJob{}, err
	}
	if sess.Draft.Gate().Locked() {
		return CommitJob{}, ErrLocked
	}
	return s.jobs.CreateJob(ctx, CommitJob{
		ID:        s.jobIDs.New(),
		LectureID: sess.Lecture.ID,
		Entries:   sess.Draft.Entries(),
		Status:    JobPending,
	})
}

func (s *Service) Job(ctx context.Context, id string) (CommitJob, error) {
	if s.jobs == nil {
		return CommitJob{}, NotFound("commit job %s not found", id)
	}
	return s.jobs.GetJob(ctx, id)
}

// RunCommitJob applies a queued job. Jobs already finished are returned unchanged, so
// a redelivered message is harmless.
func (s *Service) RunCommitJob(ctx context.Context, id string) (CommitJob, error) {
	if s.jobs == nil {
		return CommitJob{}, Internal("asynchronous commits are not configured", nil)
	}
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return CommitJob{}, err
	}
	if job.Status == JobDone || job.Status == JobFailed {
		return job, nil
	}
	job.Status = JobRunning
	if job, err = s.jobs.UpdateJob(ctx, job); err != nil {
		return CommitJob{}, err
	}

	lecture, g, err := s.syncLecture(ctx, job.LectureID)
	if err == nil {
		var results []Result
		results, err = s.engine.Commit(ctx, Restore(g, job.Entries), lecture.Context())
		job.Results = JobResults(results)
	}
	switch {
	case err != nil:
		job.Status = JobFailed
		job.Error = err.Error()
	case job.Failed() > 0:
		job.Status = JobFailed
		job.Error = "some operations failed"
	default:
		job.Status = JobDone
	}
	s.log.Info("commit job finished",
		zap.String("job_id", job.ID),
		zap.String("lecture_id", job.LectureID),
		zap.String("status", string(job.Status)),
		zap.Int("operations", len(job.Results)),
		zap.Int("failed", job.Failed()))
	// the terminal status must land even when the job's deadline cut the commit short
	final, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	return s.jobs.UpdateJob(final, job)
}

const finalWriteTimeout = 5 * time.Second

// Lock persists the lecture's lock flag, then closes its gate so no draft write lands
// afterwards. Locking a locked lecture is a no-op.
func (s *Service) Lock(ctx context.Context, lectureID string) (Lecture, error) {
	return s.setLock(ctx, lectureID, true)
}

// Unlock reopens a lecture for marking, idempotently.
func (s *Service) Unlock(ctx context.Context, lectureID string) (Lecture, error) {
	return s.setLock(ctx, lectureID, false)
}

func (s *Service) setLock(ctx context.Context, lectureID string, locked bool) (Lecture, error) {
	release := s.locks.Lock(lectureID)
	defer release()
	current, err := s.store.GetLecture(ctx, lectureID)
	if err != nil {
		return Lecture{}, err
	}
	g := s.gate(current)
	if current.Locked != locked {
		if current, err = s.store.SetLectureLocked(ctx, lectureID, locked); err != nil {
			return Lecture{}, err
		}
	}
	var changed bool
	if locked {
		changed = g.Lock()
	} else {
		changed = g.Unlock()
	}
	s.log.Info("lecture lock updated",
		zap.String("lecture_id", lectureID),
		zap.Bool("locked", locked),
		zap.Bool("changed", changed),
		zap.Int("commits_in_flight", g.InFlight()))
	return current, nil
}

func (s *Service) SetLectureStatus(ctx context.Context, lectureID string, status LectureStatus) (Lecture, error) {
	if !status.Valid() {
		return Lecture{}, Invalid("invalid lecture status " + string(status))
	}
	return s.store.SetLectureStatus(ctx, lectureID, status)
}

// StudentAttendance is a student's attendance history with its summary.
type StudentAttendance struct {
	Student Student            `json:"student"`
	Summary Summary            `json:"summary"`
	Records []AttendanceRecord `json:"records"`
}

func (s *Service) StudentAttendance(ctx context.Context, studentID string) (StudentAttendance, error) {
	st, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return StudentAttendance{}, err
	}
	records, err := s.store.ListRecords(ctx, RecordFilter{StudentID: studentID})
	if err != nil {
		return StudentAttendance{}, err
	}
	return StudentAttendance{Student: st, Summary: Summarize(records), Records: records}, nil
}

// RecordQuery narrows the records listing. Query matches student name or roll number.
type RecordQuery struct {
	LectureID string
	StudentID string
	Query     string
	Limit     int
}

const defaultRecordLimit = 100

// RecordView is a record joined with its student's display fields.
type RecordView struct {
	AttendanceRecord
	StudentName string `json:"student_name"`
	RollNumber  string `json:"roll_number"`
}

// Records lists attendance records newest first, joined with student names.
func (s *Service) Records(ctx context.Context, q RecordQuery) ([]RecordView, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultRecordLimit
	}
	filter := RecordFilter{LectureID: q.LectureID, StudentID: q.StudentID}
	query := strings.TrimSpace(q.Query)
	if query == "" {
		filter.Limit = limit
	}
	records, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	students, err := s.store.ListStudents(ctx, StudentFilter{})
	if err != nil {
		return nil, err
	}
	byID := IndexBy(students, func(st Student) string { return st.ID })
	var matching map[string]struct{}
	if query != "" {
		matching = SetOf(StudentIDs(FilterRoster(students, query)))
	}

	out := make([]RecordView, 0, len(records))
	for _, r := range records {
		if matching != nil {
			if _, ok := matching[r.StudentID]; !ok {
				continue
			}
		}
		st := byID[r.StudentID]
		out = append(out, RecordView{AttendanceRecord: r, StudentName: st.FullName(), RollNumber: st.RollNumber})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Overview is the dashboard roll-up across all lectures and records.
type Overview struct {
	Lectures          int `json:"lectures"`
	CompletedRate     int `json:"lecture_completion_rate"`
	Records           int `json:"records"`
	AverageAttendance int `json:"average_attendance"`
	Students          int `json:"students"`
	Good              int `json:"students_good"`
	Warning           int `json:"students_warning"`
	Critical          int `json:"students_critical"`
}

func (s *Service) Overview(ctx context.Context) (Overview, error) {
	lectures, err := s.store.ListLectures(ctx, LectureFilter{})
	if err != nil {
		return Overview{}, err
	}
	records, err := s.store.ListRecords(ctx, RecordFilter{})
	if err != nil {
		return Overview{}, err
	}
	students, err := s.store.ListStudents(ctx, StudentFilter{Status: StudentActive})
	if err != nil {
		return Overview{}, err
	}
	ov := Overview{
		Lectures:          len(lectures),
		CompletedRate:     LectureCompletionRate(lectures),
		Records:           len(records),
		AverageAttendance: Historical(records),
		Students:          len(students),
	}
	for _, sum := range StudentSummaries(students, records) {
		if sum.Total == 0 {
			continue
		}
		switch sum.Band {
		case BandGood:
			ov.Good++
		case BandWarning:
			ov.Warning++
		default:
			ov.Critical++
		}
	}
	return ov, nil
}

// Trend returns the monthly attendance rate for the last months months.
func (s *Service) Trend(ctx context.Context, months int) ([]TrendPoint, error) {
	if months <= 0 || months > 24 {
		return nil, Invalid("months must be between 1 and 24")
	}
	records, err := s.store.ListRecords(ctx, RecordFilter{})
	if err != nil {
		return nil, err
	}
	return MonthlyTrend(records, s.clock.Now(), months), nil
}

// StudentReport is one row of the attendance workbook.
type StudentReport struct {
	Student Student
	Summary Summary
}

// Report gathers what the attendance workbook needs: per-student summaries and the
// newest records.
func (s *Service) Report(ctx context.Context) ([]StudentReport, []RecordView, error) {
	students, err := s.store.ListStudents(ctx, StudentFilter{})
	if err != nil {
		return nil, nil, err
	}
	records, err := s.store.ListRecords(ctx, RecordFilter{})
	if err != nil {
		return nil, nil, err
	}
	sums := StudentSummaries(students, records)
	rows := make([]StudentReport, len(students))
	for i, st := range students {
		rows[i] = StudentReport{Student: st, Summary: sums[st.ID]}
	}
	views, err := s.Records(ctx, RecordQuery{Limit: len(records)})
	if err != nil {
		return nil, nil, err
	}
	return rows, views, nil
}

// CommitsInFlight reports how many commits of a lecture are still running.
func (s *Service) CommitsInFlight(lectureID string) int {
	s.gmu.Lock()
	g, ok := s.gates[lectureID]
	s.gmu.Unlock()
	if !ok {
		return 0
	}
	return g.InFlight()
}

// WaitCommits blocks until the commits of a lecture that started before its lock have
// finished, or ctx is done.
func (s *Service) WaitCommits(ctx context.Context, lectureID string) error {
	s.gmu.Lock()
	g, ok := s.gates[lectureID]
	s.gmu.Unlock()
	if !ok {
		return nil
	}
	return g.WaitContext(ctx)
}

// OpenSessions reports how many marking sessions are open.
func (s *Service) OpenSessions() int { return s.sessions.Len() }
