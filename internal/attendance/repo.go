package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"rollcall/internal/store"
)

// Repository persists attendance data in Postgres or SQLite.
type Repository struct {
	db    *store.DB
	clock Clock
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db, clock: RealClock()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// storeErr maps driver errors onto the domain codes.
func storeErr(err error, op string, notFound string) error {
	if errors.Is(err, sql.ErrNoRows) && notFound != "" {
		return NotFound("%s", notFound)
	}
	return Persistence(op, errors.WithStack(err))
}

const lectureColumns = `id, course_offering_id, course_id, title, date, start_time, end_time, room, attendance_locked, status, created_at`

func scanLecture(row rowScanner) (Lecture, error) {
	var l Lecture
	var created int64
	if err := row.Scan(&l.ID, &l.CourseOfferingID, &l.CourseID, &l.Title, &l.Date, &l.StartTime, &l.EndTime, &l.Room, &l.Locked, &l.Status, &created); err != nil {
		return Lecture{}, err
	}
	l.CreatedAt = store.FromMillis(created)
	return l, nil
}

func (r *Repository) GetLecture(ctx context.Context, id string) (Lecture, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`SELECT `+lectureColumns+` FROM lectures WHERE id = ?`), id)
	l, err := scanLecture(row)
	if err != nil {
		return Lecture{}, storeErr(err, "get lecture", "lecture "+id+" not found")
	}
	return l, nil
}

func (r *Repository) ListLectures(ctx context.Context, f LectureFilter) ([]Lecture, error) {
	query := `SELECT ` + lectureColumns + ` FROM lectures`
	var clauses []string
	var args []any
	if f.CourseOfferingID != "" {
		clauses = append(clauses, "course_offering_id = ?")
		args = append(args, f.CourseOfferingID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY date, start_time, id"

	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, storeErr(err, "list lectures", "")
	}
	defer rows.Close()
	var out []Lecture
	for rows.Next() {
		l, err := scanLecture(rows)
		if err != nil {
			return nil, storeErr(err, "scan lecture", "")
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "list lectures", "")
	}
	return out, nil
}

// CreateLecture inserts a lecture, replacing any lecture with the same id.
func (r *Repository) CreateLecture(ctx context.Context, l Lecture) (Lecture, error) {
	if l.ID == "" {
		return Lecture{}, Invalid("lecture id required")
	}
	if l.Status == "" {
		l.Status = LectureScheduled
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = r.clock.Now()
	}
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		INSERT INTO lectures (`+lectureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			course_offering_id = excluded.course_offering_id,
			course_id = excluded.course_id,
			title = excluded.title,
			date = excluded.date,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			room = excluded.room,
			attendance_locked = excluded.attendance_locked,
			status = excluded.status
		RETURNING `+lectureColumns),
		l.ID, l.CourseOfferingID, l.CourseID, l.Title, l.Date, l.StartTime, l.EndTime, l.Room, l.Locked, string(l.Status), store.ToMillis(l.CreatedAt))
	out, err := scanLecture(row)
	if err != nil {
		return Lecture{}, storeErr(err, "create lecture", "")
	}
	return out, nil
}

func (r *Repository) SetLectureLocked(ctx context.Context, id string, locked bool) (Lecture, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		UPDATE lectures SET attendance_locked = ? WHERE id = ?
		RETURNING `+lectureColumns), locked, id)
	l, err := scanLecture(row)
	if err != nil {
		return Lecture{}, storeErr(err, "set lecture lock", "lecture "+id+" not found")
	}
	return l, nil
}

func (r *Repository) SetLectureStatus(ctx context.Context, id string, status LectureStatus) (Lecture, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		UPDATE lectures SET status = ? WHERE id = ?
		RETURNING `+lectureColumns), string(status), id)
	l, err := scanLecture(row)
	if err != nil {
		return Lecture{}, storeErr(err, "set lecture status", "lecture "+id+" not found")
	}
	return l, nil
}

const studentColumns = `id, first_name, last_name, roll_number, email, department_id, status, created_at`

func scanStudent(row rowScanner) (Student, error) {
	var s Student
	var created int64
	if err := row.Scan(&s.ID, &s.FirstName, &s.LastName, &s.RollNumber, &s.Email, &s.DepartmentID, &s.Status, &created); err != nil {
		return Student{}, err
	}
	s.CreatedAt = store.FromMillis(created)
	return s, nil
}

func (r *Repository) GetStudent(ctx context.Context, id string) (Student, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`SELECT `+studentColumns+` FROM students WHERE id = ?`), id)
	s, err := scanStudent(row)
	if err != nil {
		return Student{}, storeErr(err, "get student", "student "+id+" not found")
	}
	return s, nil
}

func (r *Repository) ListStudents(ctx context.Context, f StudentFilter) ([]Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students`
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(f.IDs) > 0 {
		clauses = append(clauses, "id IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(f.IDs)), ", ")+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY roll_number, id"

	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, storeErr(err, "list students", "")
	}
	defer rows.Close()
	var out []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, storeErr(err, "scan student", "")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "list students", "")
	}
	return out, nil
}

func (r *Repository) CreateStudent(ctx context.Context, s Student) (Student, error) {
	if s.ID == "" {
		return Student{}, Invalid("student id required")
	}
	if s.Status == "" {
		s.Status = StudentActive
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.clock.Now()
	}
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		INSERT INTO students (`+studentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			roll_number = excluded.roll_number,
			email = excluded.email,
			department_id = excluded.department_id,
			status = excluded.status
		RETURNING `+studentColumns),
		s.ID, s.FirstName, s.LastName, s.RollNumber, s.Email, s.DepartmentID, string(s.Status), store.ToMillis(s.CreatedAt))
	out, err := scanStudent(row)
	if err != nil {
		return Student{}, storeErr(err, "create student", "")
	}
	return out, nil
}

const offeringColumns = `id, course_id, section, status, enrolled_students, created_at`

func scanOffering(row rowScanner) (CourseOffering, error) {
	var o CourseOffering
	var enrolled string
	var created int64
	if err := row.Scan(&o.ID, &o.CourseID, &o.Section, &o.Status, &enrolled, &created); err != nil {
		return CourseOffering{}, err
	}
	if enrolled != "" {
		if err := json.Unmarshal([]byte(enrolled), &o.EnrolledStudents); err != nil {
			return CourseOffering{}, errors.Wrapf(err, "decode enrolled students of %s", o.ID)
		}
	}
	o.CreatedAt = store.FromMillis(created)
	return o, nil
}

func (r *Repository) GetOffering(ctx context.Context, id string) (CourseOffering, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`SELECT `+offeringColumns+` FROM course_offerings WHERE id = ?`), id)
	o, err := scanOffering(row)
	if err != nil {
		return CourseOffering{}, storeErr(err, "get course offering", "course offering "+id+" not found")
	}
	return o, nil
}

func (r *Repository) ListOfferings(ctx context.Context, status string) ([]CourseOffering, error) {
	query := `SELECT ` + offeringColumns + ` FROM course_offerings`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id`
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, storeErr(err, "list course offerings", "")
	}
	defer rows.Close()
	var out []CourseOffering
	for rows.Next() {
		o, err := scanOffering(rows)
		if err != nil {
			return nil, storeErr(err, "scan course offering", "")
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "list course offerings", "")
	}
	return out, nil
}

func (r *Repository) CreateOffering(ctx context.Context, o CourseOffering) (CourseOffering, error) {
	if o.ID == "" {
		return CourseOffering{}, Invalid("course offering id required")
	}
	if o.Status == "" {
		o.Status = "active"
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.clock.Now()
	}
	enrolled := o.EnrolledStudents
	if enrolled == nil {
		enrolled = []string{}
	}
	raw, err := json.Marshal(enrolled)
	if err != nil {
		return CourseOffering{}, Internal("encode enrolled students", err)
	}
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		INSERT INTO course_offerings (`+offeringColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			course_id = excluded.course_id,
			section = excluded.section,
			status = excluded.status,
			enrolled_students = excluded.enrolled_students
		RETURNING `+offeringColumns),
		o.ID, o.CourseID, o.Section, o.Status, string(raw), store.ToMillis(o.CreatedAt))
	out, err := scanOffering(row)
	if err != nil {
		return CourseOffering{}, storeErr(err, "create course offering", "")
	}
	return out, nil
}

const recordColumns = `id, lecture_id, student_id, course_id, course_offering_id, date, status, marked_at, created_at`

func scanRecord(row rowScanner) (AttendanceRecord, error) {
	var rec AttendanceRecord
	var marked, created int64
	if err := row.Scan(&rec.ID, &rec.LectureID, &rec.StudentID, &rec.CourseID, &rec.CourseOfferingID, &rec.Date, &rec.Status, &marked, &created); err != nil {
		return AttendanceRecord{}, err
	}
	rec.MarkedAt = store.FromMillis(marked)
	rec.CreatedAt = store.FromMillis(created)
	return rec, nil
}

func (r *Repository) ListRecords(ctx context.Context, f RecordFilter) ([]AttendanceRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	var clauses []string
	var args []any
	if f.LectureID != "" {
		clauses = append(clauses, "lecture_id = ?")
		args = append(args, f.LectureID)
	}
	if f.StudentID != "" {
		clauses = append(clauses, "student_id = ?")
		args = append(args, f.StudentID)
	}
	if f.CourseOfferingID != "" {
		clauses = append(clauses, "course_offering_id = ?")
		args = append(args, f.CourseOfferingID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY date DESC, marked_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, storeErr(err, "list attendance records", "")
	}
	defer rows.Close()
	var out []AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr(err, "scan attendance record", "")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "list attendance records", "")
	}
	return out, nil
}

func (r *Repository) FindRecord(ctx context.Context, lectureID, studentID string) (AttendanceRecord, bool, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+recordColumns+` FROM attendance_records
		WHERE lecture_id = ? AND student_id = ?`), lectureID, studentID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AttendanceRecord{}, false, nil
	}
	if err != nil {
		return AttendanceRecord{}, false, storeErr(err, "find attendance record", "")
	}
	return rec, true, nil
}

// CreateRecord inserts a record. A concurrent writer that already created the pair's
// record loses nothing: the unique (lecture_id, student_id) key turns the insert into
// an update of that record.
func (r *Repository) CreateRecord(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, error) {
	if rec.ID == "" || rec.LectureID == "" || rec.StudentID == "" {
		return AttendanceRecord{}, Invalid("record id, lecture id and student id required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.clock.Now()
	}
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (lecture_id, student_id) DO UPDATE SET
			status = excluded.status,
			marked_at = excluded.marked_at
		RETURNING `+recordColumns),
		rec.ID, rec.LectureID, rec.StudentID, rec.CourseID, rec.CourseOfferingID, rec.Date,
		string(rec.Status), store.ToMillis(rec.MarkedAt), store.ToMillis(rec.CreatedAt))
	out, err := scanRecord(row)
	if err != nil {
		return AttendanceRecord{}, storeErr(err, "create attendance record", "")
	}
	return out, nil
}

func (r *Repository) UpdateRecordStatus(ctx context.Context, id string, status Status, markedAt time.Time) (AttendanceRecord, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		UPDATE attendance_records SET status = ?, marked_at = ? WHERE id = ?
		RETURNING `+recordColumns), string(status), store.ToMillis(markedAt), id)
	rec, err := scanRecord(row)
	if err != nil {
		return AttendanceRecord{}, storeErr(err, "update attendance record", "attendance record "+id+" not found")
	}
	return rec, nil
}

func (r *Repository) DeleteRecord(ctx context.Context, id string) error {
	res, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`DELETE FROM attendance_records WHERE id = ?`), id)
	if err != nil {
		return storeErr(err, "delete attendance record", "")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return NotFound("attendance record %s not found", id)
	}
	return nil
}

const jobColumns = `id, lecture_id, status, entries, results, error, created_at, updated_at`

func scanJob(row rowScanner) (CommitJob, error) {
	var j CommitJob
	var entries, results string
	var created, updated int64
	if err := row.Scan(&j.ID, &j.LectureID, &j.Status, &entries, &results, &j.Error, &created, &updated); err != nil {
		return CommitJob{}, err
	}
	if err := json.Unmarshal([]byte(entries), &j.Entries); err != nil {
		return CommitJob{}, errors.Wrapf(err, "decode entries of job %s", j.ID)
	}
	if results != "" {
		if err := json.Unmarshal([]byte(results), &j.Results); err != nil {
			return CommitJob{}, errors.Wrapf(err, "decode results of job %s", j.ID)
		}
	}
	j.CreatedAt = store.FromMillis(created)
	j.UpdatedAt = store.FromMillis(updated)
	return j, nil
}

func encodeJob(j CommitJob) (entries, results string, err error) {
	e, err := json.Marshal(j.Entries)
	if err != nil {
		return "", "", err
	}
	res := j.Results
	if res == nil {
		res = []JobResult{}
	}
	rr, err := json.Marshal(res)
	if err != nil {
		return "", "", err
	}
	return string(e), string(rr), nil
}

func (r *Repository) CreateJob(ctx context.Context, j CommitJob) (CommitJob, error) {
	if j.ID == "" {
		return CommitJob{}, Invalid("job id required")
	}
	now := r.clock.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	entries, results, err := encodeJob(j)
	if err != nil {
		return CommitJob{}, Internal("encode commit job", err)
	}
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		INSERT INTO commit_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+jobColumns),
		j.ID, j.LectureID, string(j.Status), entries, results, j.Error, store.ToMillis(j.CreatedAt), store.ToMillis(j.UpdatedAt))
	out, err := scanJob(row)
	if err != nil {
		return CommitJob{}, storeErr(err, "create commit job", "")
	}
	return out, nil
}

func (r *Repository) GetJob(ctx context.Context, id string) (CommitJob, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`SELECT `+jobColumns+` FROM commit_jobs WHERE id = ?`), id)
	j, err := scanJob(row)
	if err != nil {
		return CommitJob{}, storeErr(err, "get commit job", "commit job "+id+" not found")
	}
	return j, nil
}

func (r *Repository) UpdateJob(ctx context.Context, j CommitJob) (CommitJob, error) {
	j.UpdatedAt = r.clock.Now()
	entries, results, err := encodeJob(j)
	if err != nil {
		return CommitJob{}, Internal("encode commit job", err)
	}
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		UPDATE commit_jobs SET status = ?, entries = ?, results = ?, error = ?, updated_at = ?
		WHERE id = ?
		RETURNING `+jobColumns),
		string(j.Status), entries, results, j.Error, store.ToMillis(j.UpdatedAt), j.ID)
	out, err := scanJob(row)
	if err != nil {
		return CommitJob{}, storeErr(err, "update commit job", "commit job "+j.ID+" not found")
	}
	return out, nil
}
