// Package seed loads reference data (students, offerings, lectures) from a YAML file.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"rollcall/internal/attendance"
)

type File struct {
	Students  []Student  `yaml:"students"`
	Offerings []Offering `yaml:"offerings"`
	Lectures  []Lecture  `yaml:"lectures"`
}

type Student struct {
	ID           string `yaml:"id"`
	FirstName    string `yaml:"first_name"`
	LastName     string `yaml:"last_name"`
	RollNumber   string `yaml:"roll_number"`
	Email        string `yaml:"email"`
	DepartmentID string `yaml:"department_id"`
	Status       string `yaml:"status"`
}

type Offering struct {
	ID       string   `yaml:"id"`
	CourseID string   `yaml:"course_id"`
	Section  string   `yaml:"section"`
	Status   string   `yaml:"status"`
	Enrolled []string `yaml:"enrolled_students"`
}

type Lecture struct {
	ID         string `yaml:"id"`
	OfferingID string `yaml:"course_offering_id"`
	CourseID   string `yaml:"course_id"`
	Title      string `yaml:"title"`
	Date       string `yaml:"date"`
	StartTime  string `yaml:"start_time"`
	EndTime    string `yaml:"end_time"`
	Room       string `yaml:"room"`
	Locked     bool   `yaml:"attendance_locked"`
	Status     string `yaml:"status"`
}

// Read decodes a seed document. Unknown keys are rejected.
func Read(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return File{}, fmt.Errorf("decode seed: %w", err)
	}
	return f, nil
}

func Load(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open seed file: %w", err)
	}
	defer fh.Close()
	return Read(fh)
}

// Counts reports how many entities Apply wrote.
type Counts struct {
	Students  int
	Offerings int
	Lectures  int
}

// Apply writes the seed into st. Existing entities with the same ids are replaced, so
// re-running a seed is safe.
func Apply(ctx context.Context, st attendance.Store, f File) (Counts, error) {
	var c Counts
	for _, s := range f.Students {
		if _, err := st.CreateStudent(ctx, attendance.Student{
			ID:           s.ID,
			FirstName:    s.FirstName,
			LastName:     s.LastName,
			RollNumber:   s.RollNumber,
			Email:        s.Email,
			DepartmentID: s.DepartmentID,
			Status:       attendance.StudentStatus(s.Status),
		}); err != nil {
			return c, fmt.Errorf("student %s: %w", s.ID, err)
		}
		c.Students++
	}
	for _, o := range f.Offerings {
		if _, err := st.CreateOffering(ctx, attendance.CourseOffering{
			ID:               o.ID,
			CourseID:         o.CourseID,
			Section:          o.Section,
			Status:           o.Status,
			EnrolledStudents: o.Enrolled,
		}); err != nil {
			return c, fmt.Errorf("offering %s: %w", o.ID, err)
		}
		c.Offerings++
	}
	for _, l := range f.Lectures {
		status := attendance.LectureStatus(l.Status)
		if status != "" && !status.Valid() {
			return c, fmt.Errorf("lecture %s: unknown status %q", l.ID, l.Status)
		}
		if _, err := st.CreateLecture(ctx, attendance.Lecture{
			ID:               l.ID,
			CourseOfferingID: l.OfferingID,
			CourseID:         l.CourseID,
			Title:            l.Title,
			Date:             l.Date,
			StartTime:        l.StartTime,
			EndTime:          l.EndTime,
			Room:             l.Room,
			Locked:           l.Locked,
			Status:           status,
		}); err != nil {
			return c, fmt.Errorf("lecture %s: %w", l.ID, err)
		}
		c.Lectures++
	}
	return c, nil
}
