// Package report renders attendance data as an Excel workbook.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"rollcall/internal/attendance"
)

const (
	SheetStudents = "Students"
	SheetRecords  = "Records"
)

var (
	studentHeader = []any{"Roll number", "Name", "Email", "Status", "Attended", "Total", "Percentage", "Band"}
	recordHeader  = []any{"Date", "Lecture", "Roll number", "Student", "Status", "Marked at"}
)

// Write renders one sheet of per-student summaries and one of records, newest first.
func Write(w io.Writer, students []attendance.StudentReport, records []attendance.RecordView) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetStudents); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetRecords); err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	if err := writeRows(f, SheetStudents, studentHeader, bold, len(students), func(i int) []any {
		s := students[i]
		return []any{
			s.Student.RollNumber,
			s.Student.FullName(),
			s.Student.Email,
			string(s.Student.Status),
			s.Summary.Attended,
			s.Summary.Total,
			s.Summary.Percentage,
			string(s.Summary.Band),
		}
	}); err != nil {
		return err
	}
	if err := writeRows(f, SheetRecords, recordHeader, bold, len(records), func(i int) []any {
		r := records[i]
		return []any{r.Date, r.LectureID, r.RollNumber, r.StudentName, string(r.Status), r.MarkedAt.UTC().Format(time.RFC3339)}
	}); err != nil {
		return err
	}

	_ = f.SetColWidth(SheetStudents, "A", "C", 22)
	_ = f.SetColWidth(SheetRecords, "A", "F", 20)
	f.SetActiveSheet(0)
	return f.Write(w)
}

func writeRows(f *excelize.File, sheet string, header []any, style, n int, row func(i int) []any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("%s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("%s header style: %w", sheet, err)
	}
	for i := 0; i < n; i++ {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row(i)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}
