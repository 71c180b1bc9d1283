package attendance

import (
	"strings"
	"time"
)

// Status is the attendance mark for one student at one lecture.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusExcused Status = "excused"
)

// Statuses lists every valid mark in display order.
var Statuses = []Status{StatusPresent, StatusAbsent, StatusLate, StatusExcused}

// Valid reports whether s is one of the known marks.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	}
	return false
}

// Attended reports whether the mark counts towards the attendance rate.
func (s Status) Attended() bool {
	return s == StatusPresent || s == StatusLate
}

// ParseStatus normalises and validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", Invalid("status must be one of present, absent, late, excused")
	}
	return s, nil
}

// LectureStatus is the scheduling lifecycle of a lecture.
type LectureStatus string

const (
	LectureScheduled   LectureStatus = "scheduled"
	LectureCompleted   LectureStatus = "completed"
	LectureCancelled   LectureStatus = "cancelled"
	LectureRescheduled LectureStatus = "rescheduled"
)

func (s LectureStatus) Valid() bool {
	switch s {
	case LectureScheduled, LectureCompleted, LectureCancelled, LectureRescheduled:
		return true
	}
	return false
}

// StudentStatus is the enrolment state of a student.
type StudentStatus string

const (
	StudentActive    StudentStatus = "active"
	StudentGraduated StudentStatus = "graduated"
	StudentDropped   StudentStatus = "dropped"
	StudentSuspended StudentStatus = "suspended"
)

// Lecture is one scheduled meeting of a course offering.
type Lecture struct {
	ID               string        `json:"id"`
	CourseOfferingID string        `json:"course_offering_id"`
	CourseID         string        `json:"course_id"`
	Title            string        `json:"title"`
	Date             string        `json:"date"` // YYYY-MM-DD
	StartTime        string        `json:"start_time,omitempty"`
	EndTime          string        `json:"end_time,omitempty"`
	Room             string        `json:"room,omitempty"`
	Locked           bool          `json:"attendance_locked"`
	Status           LectureStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
}

// LockState maps the persisted flag onto the gate's state.
func (l Lecture) LockState() LockState {
	if l.Locked {
		return Locked
	}
	return Unlocked
}

// Context returns the fields copied onto records created for this lecture.
func (l Lecture) Context() LectureContext {
	return LectureContext{
		LectureID:        l.ID,
		CourseID:         l.CourseID,
		CourseOfferingID: l.CourseOfferingID,
		Date:             l.Date,
	}
}

// Student is read-only reference data for this subsystem.
type Student struct {
	ID           string        `json:"id"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	RollNumber   string        `json:"roll_number"`
	Email        string        `json:"email,omitempty"`
	DepartmentID string        `json:"department_id,omitempty"`
	Status       StudentStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// CourseOffering is a course assignment; EnrolledStudents narrows its roster when set.
type CourseOffering struct {
	ID               string    `json:"id"`
	CourseID         string    `json:"course_id"`
	Section          string    `json:"section,omitempty"`
	Status           string    `json:"status"`
	EnrolledStudents []string  `json:"enrolled_students,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// AttendanceRecord is the ledger entry for one (lecture, student) pair.
type AttendanceRecord struct {
	ID               string    `json:"id"`
	LectureID        string    `json:"lecture_id"`
	StudentID        string    `json:"student_id"`
	CourseID         string    `json:"course_id"`
	CourseOfferingID string    `json:"course_offering_id"`
	Date             string    `json:"date"`
	Status           Status    `json:"status"`
	MarkedAt         time.Time `json:"marked_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// LectureContext carries the lecture fields denormalised onto new records.
type LectureContext struct {
	LectureID        string `json:"lecture_id"`
	CourseID         string `json:"course_id"`
	CourseOfferingID string `json:"course_offering_id"`
	Date             string `json:"date"`
}

// pairKey identifies the (lecture, student) pair a record belongs to.
func pairKey(lectureID, studentID string) string {
	return lectureID + "/" + studentID
}
