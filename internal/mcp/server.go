package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/ait/internal/apperr"
	"github.com/joescharf/ait/internal/backlog"
	"github.com/joescharf/ait/internal/issues"
	"github.com/joescharf/ait/internal/models"
	"github.com/joescharf/ait/internal/router"
	"github.com/joescharf/ait/internal/triage"
)

// IssueService is the part of issues.Service the tools call.
type IssueService interface {
	List(ctx context.Context, f issues.Filter) ([]*models.Issue, error)
	Get(ctx context.Context, id string) (*models.Issue, error)
	Submit(ctx context.Context, d models.IssueDraft) (*models.Issue, error)
	Assign(ctx context.Context, id, lecturerID string) (*models.Issue, error)
	UpdateStatus(ctx context.Context, id string, status models.IssueStatus) (*models.Issue, error)
	Lecturers(ctx context.Context) ([]models.Lecturer, error)
}

// Server exposes the signed-in session's issues as MCP tools. Every tool is
// gated by the same route table as the web views.
type Server struct {
	router *router.Router
	issues IssueService
	triage *triage.Suggester
	scorer *backlog.Scorer
}

// NewServer creates the MCP server wrapper. suggester may be nil.
func NewServer(r *router.Router, svc IssueService, suggester *triage.Suggester) *Server {
	if suggester == nil {
		suggester = triage.NewSuggester(nil, nil)
	}
	return &Server{
		router: r,
		issues: svc,
		triage: suggester,
		scorer: backlog.NewScorer(),
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("ait", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.whoamiTool())
	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.getIssueTool())
	srv.AddTool(s.submitIssueTool())
	srv.AddTool(s.suggestTriageTool())
	srv.AddTool(s.updateIssueStatusTool())
	srv.AddTool(s.assignIssueTool())
	srv.AddTool(s.listLecturersTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// ait_whoami
func (s *Server) whoamiTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ait_whoami",
		mcp.WithDescription("Show the current session: state (loading, anonymous, authenticated), role, username and the dashboard path for the role."),
	)
	return tool, s.handleWhoami
}

func (s *Server) handleWhoami(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.router.Current()
	return jsonResult(map[string]any{
		"state":     snap.State.String(),
		"role":      snap.Role(),
		"username":  snap.Session.Username,
		"user_id":   snap.Session.UserID,
		"dashboard": router.DashboardFor(snap.Role()).Path,
	})
}

// ait_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ait_list_issues",
		mcp.WithDescription("List the issues visible to the signed-in user with a backlog summary. Students see their own issues, lecturers see issues assigned to them, registrars see all issues."),
		mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("pending", "assigned", "in_progress", "resolved")),
		mcp.WithBoolean("refresh", mcp.Description("Bypass the local cache")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := s.guard(router.IssueDetail); res != nil {
		return res, nil
	}
	status := models.IssueStatus(request.GetString("status", ""))
	if status != "" && !status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status %q: use pending, assigned, in_progress or resolved", status)), nil
	}
	all, err := s.issues.List(ctx, issues.Filter{Refresh: request.GetBool("refresh", false)})
	if err != nil {
		return s.toolError(ctx, "failed to list issues", err), nil
	}

	shown := make([]*models.Issue, 0, len(all))
	for _, iss := range all {
		if status == "" || iss.Status == status {
			shown = append(shown, iss)
		}
	}
	return jsonResult(map[string]any{
		"issues":  shown,
		"summary": s.scorer.Summarize(all),
	})
}

// ait_get_issue
func (s *Server) getIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ait_get_issue",
		mcp.WithDescription("Fetch one issue by id from the server."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue id")),
	)
	return tool, s.handleGetIssue
}

func (s *Server) handleGetIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	if res := s.guard(router.IssueDetail); res != nil {
		return res, nil
	}
	iss, err := s.issues.Get(ctx, id)
	if err != nil {
		return s.toolError(ctx, "failed to get issue", err), nil
	}
	return jsonResult(iss)
}

// ait_submit_issue
func (s *Server) submitIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ait_submit_issue",
		mcp.WithDescription("Submit a new academic issue as the signed-in student. Returns the created issue, or a message when the server accepted it without returning one."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short summary")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What happened")),
		mcp.WithString("category", mcp.Required(), mcp.Description("Issue category"), mcp.Enum("missing_marks", "appeal", "correction", "other")),
		mcp.WithString("course_code", mcp.Required(), mcp.Description("Course code, e.g. CSC1100")),
		mcp.WithString("student_id", mcp.Required(), mcp.Description("Student registration number")),
		mcp.WithString("student_name", mcp.Required(), mcp.Description("Student full name")),
		mcp.WithString("priority", mcp.Description("Priority (default: medium)"), mcp.Enum("low", "medium", "high", "critical")),
		mcp.WithString("lecturer", mcp.Description("Lecturer name")),
		mcp.WithString("department", mcp.Description("Department")),
		mcp.WithString("semester", mcp.Description("Semester")),
		mcp.WithString("academic_year", mcp.Description("Academic year, e.g. 2025/2026")),
	)
	return tool, s.handleSubmitIssue
}

func (s *Server) handleSubmitIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := s.guard(router.StudentNewIssue); res != nil {
		return res, nil
	}
	d := models.IssueDraft{
		Title:        request.GetString("title", ""),
		Description:  request.GetString("description", ""),
		Category:     models.IssueCategory(request.GetString("category", "")),
		CourseCode:   request.GetString("course_code", ""),
		StudentID:    request.GetString("student_id", ""),
		StudentName:  request.GetString("student_name", ""),
		Priority:     models.IssuePriority(request.GetString("priority", "")),
		Lecturer:     request.GetString("lecturer", ""),
		Department:   request.GetString("department", ""),
		Semester:     request.GetString("semester", ""),
		AcademicYear: request.GetString("academic_year", ""),
	}
	iss, err := s.issues.Submit(ctx, d)
	if err != nil {
		return s.toolError(ctx, "failed to submit issue", err), nil
	}
	if iss == nil {
		return mcp.NewToolResultText("Issue submitted successfully."), nil
	}
	return jsonResult(iss)
}

// ait_suggest_triage
func (s *Server) suggestTriageTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ait_suggest_triage",
		mcp.WithDescription("Suggest a category and priority for a draft issue. Advisory only; nothing is sent to the issue server."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Draft title")),
		mcp.WithString("description", mcp.Description("Draft description")),
		mcp.WithString("course_code", mcp.Description("Course code")),
	)
	return tool, s.handleSuggestTriage
}

func (s *Server) handleSuggestTriage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil || strings.TrimSpace(title) == "" {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}
	return jsonResult(s.triage.Suggest(ctx, models.IssueDraft{
		Title:       title,
		Description: request.GetString("description", ""),
		CourseCode:  request.GetString("course_code", ""),
	}))
}

// ait_update_issue_status
func (s *Server) updateIssueStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ait_update_issue_status",
		mcp.WithDescription("Move an issue forward in the workflow (pending, assigned, in_progress, resolved). Lecturers and registrars only. Returns the issue as re-fetched from the server."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithString("status", mcp.Required(), mcp.Description("New status"), mcp.Enum("assigned", "in_progress", "resolved")),
	)
	return tool, s.handleUpdateIssueStatus
}

func (s *Server) handleUpdateIssueStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	status, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status"), nil
	}
	if res := s.guard(router.IssueStatus); res != nil {
		return res, nil
	}
	iss, err := s.issues.UpdateStatus(ctx, id, models.IssueStatus(status))
	if err != nil {
		return s.toolError(ctx, "failed to update issue", err), nil
	}
	return jsonResult(iss)
}

// ait_assign_issue
func (s *Server) assignIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ait_assign_issue",
		mcp.WithDescription("Assign an issue to a lecturer. Registrars only. A pending issue becomes assigned."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithString("lecturer_id", mcp.Required(), mcp.Description("Lecturer id from ait_list_lecturers")),
	)
	return tool, s.handleAssignIssue
}

func (s *Server) handleAssignIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	lecturer, err := request.RequireString("lecturer_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: lecturer_id"), nil
	}
	if res := s.guard(router.RegistrarAssign); res != nil {
		return res, nil
	}
	iss, err := s.issues.Assign(ctx, id, lecturer)
	if err != nil {
		return s.toolError(ctx, "failed to assign issue", err), nil
	}
	return jsonResult(iss)
}

// ait_list_lecturers
func (s *Server) listLecturersTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ait_list_lecturers",
		mcp.WithDescription("List lecturers an issue can be assigned to. Registrars only."),
	)
	return tool, s.handleListLecturers
}

func (s *Server) handleListLecturers(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := s.guard(router.RegistrarAssign); res != nil {
		return res, nil
	}
	ls, err := s.issues.Lecturers(ctx)
	if err != nil {
		return s.toolError(ctx, "failed to list lecturers", err), nil
	}
	return jsonResult(ls)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// guard returns an error result when the current session may not use route.
func (s *Server) guard(route router.Route) *mcp.CallToolResult {
	snap := s.router.Current()
	d := s.router.Resolve(route)
	switch d.Outcome {
	case router.Allow:
		return nil
	case router.Pending:
		return mcp.NewToolResultError("session is still loading, try again")
	}
	if snap.State != router.StateAuthenticated {
		return mcp.NewToolResultError("not signed in: run `ait login <role>` first")
	}
	return mcp.NewToolResultError(fmt.Sprintf("not available to %s", snap.Role()))
}

// toolError renders err for the caller. Validation errors name their fields;
// an expired session signs the user out first.
func (s *Server) toolError(ctx context.Context, prefix string, err error) *mcp.CallToolResult {
	var se *apperr.SessionExpiredError
	if errors.As(err, &se) {
		s.router.Expire(ctx, se.Status)
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", prefix, apperr.UserMessage(err)))
	}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) && len(ve.Fields) > 0 {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s (fields: %s)", prefix, apperr.UserMessage(err), strings.Join(ve.Fields, ", ")))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", prefix, apperr.UserMessage(err)))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
