package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var studentsQuery string

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Manage enrolled students",
}

var studentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled students",
	Long:  `Lists enrolled students in enrollment order. --query keeps students whose name or student id contains the text, ignoring case and accents.`,
	Args:  cobra.NoArgs,
	RunE:  runStudentsList,
}

var studentsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a student; their attendance history is kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.svc.DeleteStudent(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("delete %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	studentsListCmd.Flags().StringVarP(&studentsQuery, "query", "q", "", "Filter by name or student id")
	studentsCmd.AddCommand(studentsListCmd, studentsDeleteCmd)
	rootCmd.AddCommand(studentsCmd)
}

func runStudentsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	students, err := a.svc.ListStudents(cmd.Context(), studentsQuery)
	if err != nil {
		return err
	}
	loc := a.svc.Location()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTUDENT ID\tNAME\tENROLLED\tLAST SEEN")
	for _, st := range students {
		last := "-"
		if st.LastAttendance != nil {
			last = st.LastAttendance.In(loc).Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.ID, st.StudentID, st.Name,
			st.EnrolledAt.In(loc).Format(time.DateOnly), last)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d student(s)\n", len(students))
	return nil
}
