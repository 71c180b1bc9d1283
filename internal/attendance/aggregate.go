package attendance

import (
	"math"
	"time"
)

// Stats is the live tally of a marking session.
type Stats struct {
	Present    int `json:"present"`
	Absent     int `json:"absent"`
	Late       int `json:"late"`
	Excused    int `json:"excused"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Percent returns round(100*part/whole) clamped to [0,100], and 0 when whole is 0.
func Percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(part) / float64(whole)))
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Aggregate tallies the draft over the roster. Total is the roster size; unmarked
// students count towards Total only. Marks for students outside the roster are ignored.
func Aggregate(d *Draft, roster []Student) Stats {
	st := Stats{Total: len(roster)}
	if d == nil {
		return st
	}
	entries := d.Entries()
	for _, s := range roster {
		switch entries[s.ID] {
		case StatusPresent:
			st.Present++
		case StatusAbsent:
			st.Absent++
		case StatusLate:
			st.Late++
		case StatusExcused:
			st.Excused++
		}
	}
	st.Percentage = Percent(st.Present+st.Late, st.Total)
	return st
}

// Historical is the attendance rate over a set of records: present or late over all.
func Historical(records []AttendanceRecord) int {
	attended := 0
	for _, r := range records {
		if r.Status.Attended() {
			attended++
		}
	}
	return Percent(attended, len(records))
}

// Summary is a student's attendance across every lecture on record.
type Summary struct {
	Attended   int  `json:"attended"`
	Total      int  `json:"total"`
	Percentage int  `json:"percentage"`
	Band       Band `json:"band"`
}

// StudentSummaries computes a Summary per student from one pass over the records.
// Students with no records get a zero summary.
func StudentSummaries(students []Student, records []AttendanceRecord) map[string]Summary {
	byStudent := GroupBy(records, func(r AttendanceRecord) string { return r.StudentID })
	out := make(map[string]Summary, len(students))
	for _, s := range students {
		out[s.ID] = Summarize(byStudent[s.ID])
	}
	return out
}

// Summarize builds one student's Summary from their records.
func Summarize(records []AttendanceRecord) Summary {
	sum := Summary{Total: len(records)}
	for _, r := range records {
		if r.Status.Attended() {
			sum.Attended++
		}
	}
	sum.Percentage = Percent(sum.Attended, sum.Total)
	sum.Band = BandFor(sum.Percentage)
	return sum
}

// Band buckets an attendance percentage.
type Band string

const (
	BandGood     Band = "good"
	BandWarning  Band = "warning"
	BandCritical Band = "critical"
)

func BandFor(percentage int) Band {
	switch {
	case percentage >= 75:
		return BandGood
	case percentage >= 50:
		return BandWarning
	default:
		return BandCritical
	}
}

// TrendPoint is the attendance rate of one calendar month.
type TrendPoint struct {
	Month   string `json:"month"` // YYYY-MM
	Present int    `json:"present"`
	Total   int    `json:"total"`
	Rate    int    `json:"rate"`
}

// MonthlyTrend returns the rate for each of the last months calendar months ending
// with the month of now, oldest first. Records with unparsable dates are skipped.
func MonthlyTrend(records []AttendanceRecord, now time.Time, months int) []TrendPoint {
	if months <= 0 {
		return nil
	}
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	points := make([]TrendPoint, months)
	slot := make(map[string]int, months)
	for i := range points {
		key := first.AddDate(0, i, 0).Format("2006-01")
		points[i].Month = key
		slot[key] = i
	}
	for _, r := range records {
		d, err := time.Parse(DateLayout, r.Date)
		if err != nil {
			continue
		}
		i, ok := slot[d.Format("2006-01")]
		if !ok {
			continue
		}
		points[i].Total++
		if r.Status.Attended() {
			points[i].Present++
		}
	}
	for i := range points {
		points[i].Rate = Percent(points[i].Present, points[i].Total)
	}
	return points
}

// LectureCompletionRate is the share of lectures that reached completed.
func LectureCompletionRate(lectures []Lecture) int {
	done := 0
	for _, l := range lectures {
		if l.Status == LectureCompleted {
			done++
		}
	}
	return Percent(done, len(lectures))
}

// DateLayout is the wire format of lecture and record dates.
const DateLayout = "2006-01-02"
