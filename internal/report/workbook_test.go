package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"rollcall/internal/attendance"
)

func TestWrite(t *testing.T) {
	markedAt := time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)
	students := []attendance.StudentReport{
		{
			Student: attendance.Student{ID: "s1", FirstName: "Ada", LastName: "Lovelace", RollNumber: "R-001", Status: attendance.StudentActive},
			Summary: attendance.Summarize([]attendance.AttendanceRecord{{Status: attendance.StatusPresent}, {Status: attendance.StatusAbsent}}),
		},
		{
			Student: attendance.Student{ID: "s2", FirstName: "Bob", LastName: "Stone", RollNumber: "R-002", Status: attendance.StudentActive},
			Summary: attendance.Summarize(nil),
		},
	}
	records := []attendance.RecordView{{
		AttendanceRecord: attendance.AttendanceRecord{ID: "r1", LectureID: "lec-1", StudentID: "s1", Date: "2026-03-10", Status: attendance.StatusPresent, MarkedAt: markedAt},
		StudentName:      "Ada Lovelace",
		RollNumber:       "R-001",
	}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, students, records))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SheetStudents, SheetRecords}, f.GetSheetList())

	rows, err := f.GetRows(SheetStudents)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Roll number", rows[0][0])
	assert.Equal(t, []string{"R-001", "Ada Lovelace", "", "active", "1", "2", "50", "warning"}, rows[1])
	assert.Equal(t, "0", rows[2][6])
	assert.Equal(t, "critical", rows[2][7])

	rows, err = f.GetRows(SheetRecords)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"2026-03-10", "lec-1", "R-001", "Ada Lovelace", "present", "2026-03-10T09:05:00Z"}, rows[1])
}

func TestWrite_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SheetRecords)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
