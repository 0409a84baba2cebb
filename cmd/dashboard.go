package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/ait/internal/backlog"
	"github.com/joescharf/ait/internal/issues"
	"github.com/joescharf/ait/internal/models"
	"github.com/joescharf/ait/internal/output"
	"github.com/joescharf/ait/internal/router"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show your role's dashboard",
	Long: `Show the dashboard for the signed-in role: the issues you can see, counts
per status and a 0-100 backlog score.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return dashboardRun(cmd.Context())
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show your account profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return profileRun(cmd.Context())
	},
}

var lecturersCmd = &cobra.Command{
	Use:   "lecturers",
	Short: "List lecturers issues can be assigned to (registrars)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return lecturersRun(cmd.Context())
	},
}

func init() {
	dashboardCmd.Flags().BoolVar(&issueRefresh, "refresh", false, "Bypass the local cache")
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(lecturersCmd)
}

func dashboardRun(ctx context.Context) error {
	d, err := getApp(ctx)
	if err != nil {
		return err
	}
	snap := d.router.Current()
	if dec := d.router.Resolve(router.DashboardFor(snap.Role())); dec.Outcome != router.Allow || snap.State != router.StateAuthenticated {
		return fmt.Errorf("not signed in: run 'ait login <role>' first")
	}

	list, err := d.issues.List(ctx, issues.Filter{Refresh: issueRefresh})
	if err != nil {
		return err
	}
	sum := backlog.NewScorer().Summarize(list)

	if jsonOut {
		return ui.JSON(map[string]any{"role": snap.Role(), "issues": list, "summary": sum})
	}

	fmt.Fprintf(ui.Out, "%s dashboard for %s\n\n", titleCase(string(snap.Role())), output.Cyan(snap.Session.Username))
	renderSummary(sum)
	fmt.Fprintln(ui.Out)
	if len(list) == 0 {
		ui.Info("No issues yet.")
		return nil
	}
	renderIssues(list)
	return nil
}

func renderSummary(sum *backlog.Summary) {
	fmt.Fprintf(ui.Out, "  Total:      %d (%d open, %d unassigned)\n", sum.Total, sum.Open, sum.Unassigned)
	for _, st := range models.IssueStatuses {
		pad := strings.Repeat(" ", max(0, 11-len(st)))
		fmt.Fprintf(ui.Out, "  %s:%s %d\n", output.StatusColor(string(st)), pad, sum.ByStatus[st])
	}
	if !sum.OldestPending.IsZero() {
		fmt.Fprintf(ui.Out, "  Oldest pending: %s\n", formatAge(sum.OldestPendingAge))
	}
	fmt.Fprintf(ui.Out, "  Backlog score: %s\n", output.ScoreColor(sum.Score.Total))
	ui.VerboseLog("resolution %d/50, pending recency %d/30, assignment %d/20",
		sum.Score.Resolution, sum.Score.PendingRecency, sum.Score.Assignment)
}

func profileRun(ctx context.Context) error {
	d, err := getApp(ctx)
	if err != nil {
		return err
	}
	p, err := d.issues.Profile(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return ui.JSON(p)
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(p.Username), p.FullName())
	fmt.Fprintf(ui.Out, "  Role:       %s\n", p.Role)
	if p.Email != "" {
		fmt.Fprintf(ui.Out, "  Email:      %s\n", p.Email)
	}
	if p.Department != "" {
		fmt.Fprintf(ui.Out, "  Department: %s\n", p.Department)
	}
	if p.StudentNumber != "" {
		fmt.Fprintf(ui.Out, "  Student #:  %s\n", p.StudentNumber)
	}
	if p.StaffNumber != "" {
		fmt.Fprintf(ui.Out, "  Staff #:    %s\n", p.StaffNumber)
	}
	return nil
}

func lecturersRun(ctx context.Context) error {
	d, err := getApp(ctx)
	if err != nil {
		return err
	}
	ls, err := d.issues.Lecturers(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return ui.JSON(ls)
	}
	if len(ls) == 0 {
		ui.Info("No lecturers found.")
		return nil
	}
	table := ui.Table([]string{"ID", "Username", "Name", "Department"})
	for _, l := range ls {
		_ = table.Append([]string{string(l.ID), l.Username, l.FullName, l.Department})
	}
	_ = table.Render()
	return nil
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
