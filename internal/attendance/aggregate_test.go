package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		part, whole, want int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{3, 3, 100},
		{4, 3, 100},
		{-1, 3, 0},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Percent(tc.part, tc.whole), "Percent(%d, %d)", tc.part, tc.whole)
	}
}

func TestAggregate(t *testing.T) {
	roster := []Student{{ID: "A"}, {ID: "B"}, {ID: "C"}}

	t.Run("bulk present", func(t *testing.T) {
		d := Seed(NewGate("lec-1", Unlocked), nil)
		require.NoError(t, d.BulkSetStatus([]string{"A", "B", "C"}, StatusPresent))
		assert.Equal(t, Stats{Present: 3, Total: 3, Percentage: 100}, Aggregate(d, roster))
	})

	t.Run("unmarked students count towards total only", func(t *testing.T) {
		d := Seed(NewGate("lec-1", Unlocked), nil)
		require.NoError(t, d.SetStatus("A", StatusLate))
		require.NoError(t, d.SetStatus("B", StatusExcused))
		require.NoError(t, d.SetStatus("Z", StatusPresent)) // not on the roster

		st := Aggregate(d, roster)
		assert.Equal(t, Stats{Late: 1, Excused: 1, Total: 3, Percentage: 33}, st)
		assert.LessOrEqual(t, st.Present+st.Absent+st.Late+st.Excused, st.Total)
	})

	t.Run("empty roster", func(t *testing.T) {
		d := Seed(NewGate("lec-1", Unlocked), nil)
		require.NoError(t, d.SetStatus("A", StatusPresent))
		assert.Equal(t, Stats{}, Aggregate(d, nil))
	})

	t.Run("nil draft", func(t *testing.T) {
		assert.Equal(t, Stats{Total: 3}, Aggregate(nil, roster))
	})
}

func TestHistoricalAndSummaries(t *testing.T) {
	records := []AttendanceRecord{
		{StudentID: "A", Status: StatusPresent},
		{StudentID: "A", Status: StatusLate},
		{StudentID: "A", Status: StatusAbsent},
		{StudentID: "A", Status: StatusExcused},
		{StudentID: "B", Status: StatusAbsent},
	}
	assert.Equal(t, 0, Historical(nil))
	assert.Equal(t, 40, Historical(records))

	sums := StudentSummaries([]Student{{ID: "A"}, {ID: "B"}, {ID: "C"}}, records)
	assert.Equal(t, Summary{Attended: 2, Total: 4, Percentage: 50, Band: BandWarning}, sums["A"])
	assert.Equal(t, Summary{Attended: 0, Total: 1, Percentage: 0, Band: BandCritical}, sums["B"])
	assert.Equal(t, 0, sums["C"].Total)
}

func TestBandFor(t *testing.T) {
	assert.Equal(t, BandGood, BandFor(100))
	assert.Equal(t, BandGood, BandFor(75))
	assert.Equal(t, BandWarning, BandFor(74))
	assert.Equal(t, BandWarning, BandFor(50))
	assert.Equal(t, BandCritical, BandFor(49))
}

func TestMonthlyTrend(t *testing.T) {
	now := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)
	records := []AttendanceRecord{
		{Date: "2026-03-02", Status: StatusPresent},
		{Date: "2026-03-03", Status: StatusAbsent},
		{Date: "2026-01-20", Status: StatusLate},
		{Date: "2025-11-30", Status: StatusPresent}, // outside the window
		{Date: "garbage", Status: StatusPresent},
	}

	got := MonthlyTrend(records, now, 3)
	assert.Equal(t, []TrendPoint{
		{Month: "2026-01", Present: 1, Total: 1, Rate: 100},
		{Month: "2026-02"},
		{Month: "2026-03", Present: 1, Total: 2, Rate: 50},
	}, got)
	assert.Nil(t, MonthlyTrend(records, now, 0))
}

func TestLectureCompletionRate(t *testing.T) {
	assert.Equal(t, 0, LectureCompletionRate(nil))
	assert.Equal(t, 50, LectureCompletionRate([]Lecture{
		{Status: LectureCompleted},
		{Status: LectureScheduled},
		{Status: LectureCompleted},
		{Status: LectureCancelled},
	}))
}
