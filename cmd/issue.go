package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/ait/internal/issues"
	"github.com/joescharf/ait/internal/models"
	"github.com/joescharf/ait/internal/output"
)

var (
	issueTitle       string
	issueDesc        string
	issueCategory    string
	issueCourse      string
	issueStudentID   string
	issueStudentName string
	issuePriority    string
	issueLecturer    string
	issueDepartment  string
	issueSemester    string
	issueYear        string
	issueAttachment  string
	issueSuggest     bool

	issueStatus  string
	issueRefresh bool
	assignTo     string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Raise and manage academic issues",
	Long:  "Submit issues as a student, or list, assign and progress them as staff.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun(cmd.Context())
	},
}

var issueSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new issue (students)",
	Long: `Submit a new issue. Title, description, category, course, student id and
student name are required. With --suggest, an empty --category or --priority
is filled from the triage suggestion.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueSubmitRun(cmd.Context())
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues visible to you",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun(cmd.Context())
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(cmd.Context(), args[0])
	},
}

var issueAssignCmd = &cobra.Command{
	Use:   "assign <issue-id>",
	Short: "Assign an issue to a lecturer (registrars)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueAssignRun(cmd.Context(), args[0])
	},
}

var issueStatusCmd = &cobra.Command{
	Use:   "status <issue-id> <assigned|in_progress|resolved>",
	Short: "Move an issue forward (lecturers and registrars)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueStatusRun(cmd.Context(), args[0], args[1])
	},
}

var issueSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest a category and priority for a draft",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueSuggestRun(cmd.Context())
	},
}

var issueRewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: "Tighten a draft's title and description with the LLM",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueRewriteRun(cmd.Context())
	},
}

func init() {
	issueSubmitCmd.Flags().StringVar(&issueTitle, "title", "", "Issue title (required)")
	issueSubmitCmd.Flags().StringVar(&issueDesc, "desc", "", "Description (required)")
	issueSubmitCmd.Flags().StringVar(&issueCategory, "category", "", "Category: missing_marks, appeal, correction, other (required)")
	issueSubmitCmd.Flags().StringVar(&issueCourse, "course", "", "Course code, e.g. CSC1100 (required)")
	issueSubmitCmd.Flags().StringVar(&issueStudentID, "student-id", "", "Student registration number (required)")
	issueSubmitCmd.Flags().StringVar(&issueStudentName, "student-name", "", "Student full name (required)")
	issueSubmitCmd.Flags().StringVar(&issuePriority, "priority", "", "Priority: low, medium, high, critical (default medium)")
	issueSubmitCmd.Flags().StringVar(&issueLecturer, "lecturer", "", "Lecturer name")
	issueSubmitCmd.Flags().StringVar(&issueDepartment, "department", "", "Department")
	issueSubmitCmd.Flags().StringVar(&issueSemester, "semester", "", "Semester")
	issueSubmitCmd.Flags().StringVar(&issueYear, "year", "", "Academic year, e.g. 2025/2026")
	issueSubmitCmd.Flags().StringVar(&issueAttachment, "attachment", "", "File to attach")
	issueSubmitCmd.Flags().BoolVar(&issueSuggest, "suggest", false, "Fill empty category/priority from the triage suggestion")

	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "Filter by status: pending, assigned, in_progress, resolved")
	issueListCmd.Flags().BoolVar(&issueRefresh, "refresh", false, "Bypass the local cache")

	issueAssignCmd.Flags().StringVar(&assignTo, "lecturer", "", "Lecturer id (see 'ait lecturers')")
	_ = issueAssignCmd.MarkFlagRequired("lecturer")

	for _, c := range []*cobra.Command{issueSuggestCmd, issueRewriteCmd} {
		c.Flags().StringVar(&issueTitle, "title", "", "Draft title")
		c.Flags().StringVar(&issueDesc, "desc", "", "Draft description")
		c.Flags().StringVar(&issueCourse, "course", "", "Course code")
	}

	issueCmd.AddCommand(issueSubmitCmd)
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueAssignCmd)
	issueCmd.AddCommand(issueStatusCmd)
	issueCmd.AddCommand(issueSuggestCmd)
	issueCmd.AddCommand(issueRewriteCmd)
	rootCmd.AddCommand(issueCmd)
}

func draftFromFlags() models.IssueDraft {
	return models.IssueDraft{
		Title:          issueTitle,
		Description:    issueDesc,
		Category:       models.IssueCategory(issueCategory),
		CourseCode:     issueCourse,
		StudentID:      issueStudentID,
		StudentName:    issueStudentName,
		Priority:       models.IssuePriority(issuePriority),
		Lecturer:       issueLecturer,
		Department:     issueDepartment,
		Semester:       issueSemester,
		AcademicYear:   issueYear,
		AttachmentPath: issueAttachment,
	}
}

func issueSubmitRun(ctx context.Context) error {
	d, err := getApp(ctx)
	if err != nil {
		return err
	}
	draft := draftFromFlags()

	if issueSuggest && (draft.Category == "" || draft.Priority == "") {
		s := d.triage.Suggest(ctx, draft)
		if draft.Category == "" {
			draft.Category = s.Category
		}
		if draft.Priority == "" {
			draft.Priority = s.Priority
		}
		ui.VerboseLog("Suggested %s/%s (%s)", s.Category, s.Priority, s.Source)
	}

	if dryRun {
		if err := issues.Validate(draft); err != nil {
			return err
		}
		draft = d.issues.Normalize(draft)
		ui.DryRunMsg("Would submit issue: %s [%s/%s] for %s", draft.Title, draft.Category, draft.Priority, draft.CourseCode)
		return nil
	}

	iss, err := d.issues.Submit(ctx, draft)
	if err != nil {
		return err
	}
	if iss == nil {
		ui.Success("Issue submitted")
		return nil
	}
	if jsonOut {
		return ui.JSON(iss)
	}
	ui.Success("Submitted issue %s: %s", output.Cyan(string(iss.ID)), iss.Title)
	return nil
}

func issueListRun(ctx context.Context) error {
	d, err := getApp(ctx)
	if err != nil {
		return err
	}

	list, err := d.issues.List(ctx, issues.Filter{Status: models.IssueStatus(issueStatus), Refresh: issueRefresh})
	if err != nil {
		return err
	}
	if jsonOut {
		return ui.JSON(list)
	}
	if len(list) == 0 {
		ui.Info("No issues found.")
		return nil
	}
	renderIssues(list)
	return nil
}

func renderIssues(list []*models.Issue) {
	table := ui.Table([]string{"ID", "Title", "Course", "Category", "Status", "Priority", "Assigned", "Date"})
	for _, iss := range list {
		_ = table.Append([]string{
			string(iss.ID),
			truncate(iss.Title, 40),
			iss.CourseCode,
			string(iss.Category),
			output.StatusColor(string(iss.Status)),
			output.PriorityColor(string(iss.Priority)),
			string(iss.AssignedTo),
			issueDate(iss),
		})
	}
	_ = table.Render()
}

func issueShowRun(ctx context.Context, id string) error {
	d, err := getApp(ctx)
	if err != nil {
		return err
	}
	iss, err := d.issues.Get(ctx, id)
	if err != nil {
		return err
	}
	if jsonOut {
		return ui.JSON(iss)
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(string(iss.ID)), iss.Title)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(iss.Status)))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(iss.Priority)))
	fmt.Fprintf(ui.Out, "  Category:   %s\n", iss.Category)
	fmt.Fprintf(ui.Out, "  Course:     %s\n", iss.CourseCode)
	fmt.Fprintf(ui.Out, "  Student:    %s (%s)\n", iss.StudentName, iss.StudentID)
	if iss.AssignedTo != "" {
		fmt.Fprintf(ui.Out, "  Assigned:   %s\n", iss.AssignedTo)
	}
	if iss.Lecturer != "" {
		fmt.Fprintf(ui.Out, "  Lecturer:   %s\n", iss.Lecturer)
	}
	if iss.Semester != "" || iss.AcademicYear != "" {
		fmt.Fprintf(ui.Out, "  Term:       %s %s\n", iss.Semester, iss.AcademicYear)
	}
	if iss.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", iss.Description)
	}
	if iss.Attachment != "" {
		fmt.Fprintf(ui.Out, "  Attachment: %s\n", iss.Attachment)
	}
	fmt.Fprintf(ui.Out, "  Date:       %s\n", issueDate(iss))
	return nil
}

func issueAssignRun(ctx context.Context, id string) error {
	d, err := getApp(ctx)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would assign issue %s to lecturer %s", id, assignTo)
		return nil
	}
	iss, err := d.issues.Assign(ctx, id, assignTo)
	if err != nil {
		return err
	}
	ui.Success("Assigned issue %s to %s (%s)", output.Cyan(string(iss.ID)), iss.AssignedTo, output.StatusColor(string(iss.Status)))
	return nil
}

func issueStatusRun(ctx context.Context, id, status string) error {
	d, err := getApp(ctx)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would move issue %s to %s", id, status)
		return nil
	}
	iss, err := d.issues.UpdateStatus(ctx, id, models.IssueStatus(strings.ToLower(status)))
	if err != nil {
		return err
	}
	ui.Success("Issue %s is now %s", output.Cyan(string(iss.ID)), output.StatusColor(string(iss.Status)))
	return nil
}

func issueSuggestRun(ctx context.Context) error {
	if strings.TrimSpace(issueTitle) == "" && strings.TrimSpace(issueDesc) == "" {
		return fmt.Errorf("--title or --desc is required")
	}
	d, err := getApp(ctx)
	if err != nil {
		return err
	}
	s := d.triage.Suggest(ctx, models.IssueDraft{Title: issueTitle, Description: issueDesc, CourseCode: issueCourse})
	if jsonOut {
		return ui.JSON(s)
	}
	fmt.Fprintf(ui.Out, "  Category:   %s\n", s.Category)
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(s.Priority)))
	fmt.Fprintf(ui.Out, "  Source:     %s\n", s.Source)
	if s.Reason != "" {
		fmt.Fprintf(ui.Out, "  Reason:     %s\n", s.Reason)
	}
	return nil
}

func issueRewriteRun(ctx context.Context) error {
	if strings.TrimSpace(issueTitle) == "" || strings.TrimSpace(issueDesc) == "" {
		return fmt.Errorf("--title and --desc are required")
	}
	c := newLLMClient()
	if c == nil {
		return fmt.Errorf("no Anthropic API key configured (set anthropic.api_key or ANTHROPIC_API_KEY)")
	}
	rw, err := c.RewriteDraft(ctx, issueTitle, issueDesc)
	if err != nil {
		return fmt.Errorf("rewrite draft: %w", err)
	}
	if jsonOut {
		return ui.JSON(rw)
	}
	fmt.Fprintf(ui.Out, "%s\n\n%s\n", output.Cyan(rw.Title), rw.Description)
	return nil
}

func issueDate(iss *models.Issue) string {
	if iss.IssueDate != "" {
		return iss.IssueDate
	}
	if !iss.CreatedAt.IsZero() {
		return iss.CreatedAt.Format(issues.IssueDateLayout)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
