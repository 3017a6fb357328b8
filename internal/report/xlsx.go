// Package report renders attendance summaries as spreadsheets.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"faceattend/internal/attendance"
)

// ContentType is the MIME type of Write's output.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var headers = []string{"No", "Student ID", "Name", "Status", "Time", "Method", "Confidence"}

// Filename is the suggested download name for a day's report.
func Filename(date string) string {
	return fmt.Sprintf("attendance-%s.xlsx", date)
}

// Write renders sum as a single-sheet workbook: present students first in
// arrival order, then absent students. Times are shown in loc.
func Write(w io.Writer, sum attendance.Summary, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	f := excelize.NewFile()
	defer f.Close()

	sheet := sum.Date
	if sheet == "" {
		sheet = "Attendance"
	}
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if sheet != "Sheet1" {
		_ = f.DeleteSheet("Sheet1")
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheet, "A1", last, headerStyle)
	_ = f.SetColWidth(sheet, "A", "A", 6)
	_ = f.SetColWidth(sheet, "B", "C", 24)
	_ = f.SetColWidth(sheet, "D", "G", 16)

	row := 2
	for _, p := range sum.Present {
		conf := ""
		if p.Record.Confidence != nil {
			conf = fmt.Sprintf("%.1f%%", *p.Record.Confidence*100)
		}
		setRow(f, sheet, row, row-1, p.Student.StudentID, p.Student.Name, "Present",
			p.Record.Timestamp.In(loc).Format("15:04:05"), string(p.Record.Method), conf)
		row++
	}
	for _, st := range sum.Absent {
		setRow(f, sheet, row, row-1, st.StudentID, st.Name, "Absent", "", "", "")
		row++
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
