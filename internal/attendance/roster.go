package attendance

import (
	"strings"

	"golang.org/x/text/cases"
)

// ResolveRoster returns the students subject to attendance for an offering: the explicit
// enrolment list when one is set, every active student otherwise. Source order is kept.
// Callers that want only active enrolled students pass active students in.
func ResolveRoster(offering CourseOffering, all []Student) []Student {
	out := make([]Student, 0, len(all))
	if len(offering.EnrolledStudents) > 0 {
		enrolled := SetOf(offering.EnrolledStudents)
		for _, s := range all {
			if _, ok := enrolled[s.ID]; ok {
				out = append(out, s)
			}
		}
		return out
	}
	for _, s := range all {
		if s.Status == StudentActive {
			out = append(out, s)
		}
	}
	return out
}

// FilterRoster keeps students whose first name, last name or roll number contains query,
// compared under Unicode case folding. An empty query keeps everyone.
func FilterRoster(students []Student, query string) []Student {
	query = strings.TrimSpace(query)
	if query == "" {
		return students
	}
	fold := cases.Fold()
	q := fold.String(query)
	out := make([]Student, 0, len(students))
	for _, s := range students {
		if strings.Contains(fold.String(s.FirstName), q) ||
			strings.Contains(fold.String(s.LastName), q) ||
			strings.Contains(fold.String(s.RollNumber), q) {
			out = append(out, s)
		}
	}
	return out
}

// StudentIDs returns the ids of students in order.
func StudentIDs(students []Student) []string {
	ids := make([]string, len(students))
	for i, s := range students {
		ids[i] = s.ID
	}
	return ids
}
