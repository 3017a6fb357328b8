package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"faceattend/internal/attendance"
	"faceattend/internal/report"
)

var (
	exportDate string
	exportOut  string
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Inspect and record attendance",
}

var attendanceTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show who is present and who is absent today",
	Args:  cobra.NoArgs,
	RunE:  runAttendanceToday,
}

var attendanceMarkCmd = &cobra.Command{
	Use:   "mark <id>",
	Short: "Mark a student present without a scan",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttendanceMark,
}

var attendanceExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a day's attendance to an xlsx file",
	Args:  cobra.NoArgs,
	RunE:  runAttendanceExport,
}

func init() {
	attendanceExportCmd.Flags().StringVar(&exportDate, "date", "", "Day to export as YYYY-MM-DD (default today)")
	attendanceExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default attendance-<date>.xlsx)")
	attendanceCmd.AddCommand(attendanceTodayCmd, attendanceMarkCmd, attendanceExportCmd)
	rootCmd.AddCommand(attendanceCmd)
}

func runAttendanceToday(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.svc.TodaySummary(cmd.Context())
	if err != nil {
		return err
	}
	loc := a.svc.Location()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Attendance for %s: %d present, %d absent\n\n", sum.Date, len(sum.Present), len(sum.Absent))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tSTUDENT ID\tNAME\tTIME\tMETHOD")
	for _, p := range sum.Present {
		fmt.Fprintf(w, "present\t%s\t%s\t%s\t%s\n", p.Student.StudentID, p.Student.Name,
			p.Record.Timestamp.In(loc).Format(time.TimeOnly), p.Record.Method)
	}
	for _, st := range sum.Absent {
		fmt.Fprintf(w, "absent\t%s\t%s\t-\t-\n", st.StudentID, st.Name)
	}
	return w.Flush()
}

func runAttendanceMark(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	st, rec, err := a.svc.MarkManual(cmd.Context(), args[0])
	switch {
	case errors.Is(err, attendance.ErrAlreadyMarked):
		fmt.Fprintf(cmd.OutOrStdout(), "%s was already marked at %s (%s)\n",
			st.Name, rec.Timestamp.In(a.svc.Location()).Format(time.TimeOnly), rec.Method)
		return nil
	case err != nil:
		return fmt.Errorf("mark %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "marked %s present at %s\n", st.Name, rec.Timestamp.In(a.svc.Location()).Format(time.TimeOnly))
	return nil
}

func runAttendanceExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	day := a.svc.Today()
	if exportDate != "" {
		day, err = attendance.ParseDay(exportDate, a.svc.Location())
		if err != nil {
			return err
		}
	}
	sum, err := a.svc.SummaryOn(cmd.Context(), day)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, sum, a.svc.Location()); err != nil {
		return err
	}
	path := exportOut
	if path == "" {
		path = report.Filename(sum.Date)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d present, %d absent)\n", path, len(sum.Present), len(sum.Absent))
	return nil
}
