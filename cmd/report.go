package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/ait/internal/issues"
	"github.com/joescharf/ait/internal/models"
)

var (
	reportFormat string
	exportType   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export data as JSON, CSV, or Markdown",
	Long:  "Export the issues visible to you, or the lecturer list (registrars), in various formats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun(cmd.Context())
	},
}

func init() {
	exportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "issues", "Data type: issues, lecturers")
	exportCmd.Flags().StringVar(&issueStatus, "status", "", "Only issues with this status")
	rootCmd.AddCommand(exportCmd)
}

func exportRun(ctx context.Context) error {
	switch reportFormat {
	case "json", "csv", "markdown":
	default:
		return fmt.Errorf("unknown format: %s (use: json, csv, markdown)", reportFormat)
	}
	d, err := getApp(ctx)
	if err != nil {
		return err
	}

	switch exportType {
	case "issues":
		list, err := d.issues.List(ctx, issues.Filter{Status: models.IssueStatus(issueStatus), Refresh: true})
		if err != nil {
			return err
		}
		return exportIssues(list)
	case "lecturers":
		ls, err := d.issues.Lecturers(ctx)
		if err != nil {
			return err
		}
		return exportLecturers(ls)
	default:
		return fmt.Errorf("unknown export type: %s (use: issues, lecturers)", exportType)
	}
}

func exportIssues(list []*models.Issue) error {
	switch reportFormat {
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "Title", "Course", "Category", "Status", "Priority", "StudentID", "StudentName", "AssignedTo", "Semester", "AcademicYear", "Date"})
		for _, i := range list {
			_ = w.Write([]string{
				string(i.ID), i.Title, i.CourseCode, string(i.Category), string(i.Status), string(i.Priority),
				i.StudentID, i.StudentName, string(i.AssignedTo), i.Semester, i.AcademicYear, issueDate(i),
			})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Issues")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| ID | Title | Course | Status | Priority | Date |")
		fmt.Fprintln(ui.Out, "|----|-------|--------|--------|----------|------|")
		for _, i := range list {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %s | %s | %s |\n",
				i.ID, mdEscape(i.Title), i.CourseCode, i.Status, i.Priority, issueDate(i))
		}
		return nil
	default:
		return ui.JSON(list)
	}
}

func exportLecturers(ls []models.Lecturer) error {
	switch reportFormat {
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "Username", "FullName", "Department"})
		for _, l := range ls {
			_ = w.Write([]string{string(l.ID), l.Username, l.FullName, l.Department})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Lecturers")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| ID | Username | Name | Department |")
		fmt.Fprintln(ui.Out, "|----|----------|------|------------|")
		for _, l := range ls {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %s |\n", l.ID, l.Username, mdEscape(l.FullName), l.Department)
		}
		return nil
	default:
		return ui.JSON(ls)
	}
}

func mdEscape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
