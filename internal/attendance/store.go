package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LectureFilter narrows ListLectures. Zero fields are ignored; results are ordered by date.
type LectureFilter struct {
	CourseOfferingID string
	Status           LectureStatus
}

// StudentFilter narrows ListStudents. Results are ordered by roll number.
type StudentFilter struct {
	Status StudentStatus
	IDs    []string
}

// RecordFilter narrows ListRecords. Results are newest first; Limit <= 0 means no limit.
type RecordFilter struct {
	LectureID        string
	StudentID        string
	CourseOfferingID string
	Limit            int
}

// Store is the entity persistence service the attendance subsystem works against.
// Create and update calls return the full persisted entity. Missing entities are
// reported as NotFound errors, and failures of the backend as Persistence errors.
type Store interface {
	GetLecture(ctx context.Context, id string) (Lecture, error)
	ListLectures(ctx context.Context, f LectureFilter) ([]Lecture, error)
	CreateLecture(ctx context.Context, l Lecture) (Lecture, error)
	SetLectureLocked(ctx context.Context, id string, locked bool) (Lecture, error)
	SetLectureStatus(ctx context.Context, id string, status LectureStatus) (Lecture, error)

	GetStudent(ctx context.Context, id string) (Student, error)
	ListStudents(ctx context.Context, f StudentFilter) ([]Student, error)
	CreateStudent(ctx context.Context, s Student) (Student, error)

	GetOffering(ctx context.Context, id string) (CourseOffering, error)
	ListOfferings(ctx context.Context, status string) ([]CourseOffering, error)
	CreateOffering(ctx context.Context, o CourseOffering) (CourseOffering, error)

	ListRecords(ctx context.Context, f RecordFilter) ([]AttendanceRecord, error)
	// FindRecord looks up the record of a (lecture, student) pair.
	FindRecord(ctx context.Context, lectureID, studentID string) (AttendanceRecord, bool, error)
	// CreateRecord inserts a record, or updates the pair's existing record in place
	// when one already exists, so a pair never holds two records.
	CreateRecord(ctx context.Context, r AttendanceRecord) (AttendanceRecord, error)
	UpdateRecordStatus(ctx context.Context, id string, status Status, markedAt time.Time) (AttendanceRecord, error)
	DeleteRecord(ctx context.Context, id string) error
}

// Clock abstracts time for the engine and tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock returns the wall clock in UTC.
func RealClock() Clock { return realClock{} }

// IDGen generates record identifiers.
type IDGen interface {
	New() string
}

type uuidGen struct{}

func (uuidGen) New() string { return uuid.NewString() }

// UUIDs returns an IDGen producing random UUIDs.
func UUIDs() IDGen { return uuidGen{} }
