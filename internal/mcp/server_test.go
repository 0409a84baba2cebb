package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/ait/internal/apperr"
	"github.com/joescharf/ait/internal/issues"
	"github.com/joescharf/ait/internal/models"
	"github.com/joescharf/ait/internal/router"
	"github.com/joescharf/ait/internal/store"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockIssues implements IssueService for testing.
type mockIssues struct {
	issues    []*models.Issue
	lecturers []models.Lecturer

	// Track calls for verification.
	submitted []models.IssueDraft
	assigned  map[string]string
	statuses  map[string]models.IssueStatus
	refreshed bool

	// Optional error injection.
	listErr   error
	submitErr error
}

func (m *mockIssues) List(_ context.Context, f issues.Filter) ([]*models.Issue, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.refreshed = f.Refresh
	return m.issues, nil
}

func (m *mockIssues) Get(_ context.Context, id string) (*models.Issue, error) {
	for _, iss := range m.issues {
		if string(iss.ID) == id {
			return iss, nil
		}
	}
	return nil, &apperr.RequestError{Status: 404, Message: "Not found."}
}

func (m *mockIssues) Submit(_ context.Context, d models.IssueDraft) (*models.Issue, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	if err := issues.Validate(d); err != nil {
		return nil, err
	}
	m.submitted = append(m.submitted, d)
	return &models.Issue{ID: "42", Title: d.Title, Status: models.IssueStatusPending}, nil
}

func (m *mockIssues) Assign(ctx context.Context, id, lecturerID string) (*models.Issue, error) {
	if m.assigned == nil {
		m.assigned = map[string]string{}
	}
	m.assigned[id] = lecturerID
	iss, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	iss.AssignedTo = models.RefID(lecturerID)
	iss.Status = models.IssueStatusAssigned
	return iss, nil
}

func (m *mockIssues) UpdateStatus(ctx context.Context, id string, status models.IssueStatus) (*models.Issue, error) {
	iss, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !iss.Status.CanTransitionTo(status) {
		return nil, &apperr.ValidationError{Fields: []string{"status"}, Message: "cannot move issue backwards"}
	}
	if m.statuses == nil {
		m.statuses = map[string]models.IssueStatus{}
	}
	m.statuses[id] = status
	iss.Status = status
	return iss, nil
}

func (m *mockIssues) Lecturers(_ context.Context) ([]models.Lecturer, error) {
	return m.lecturers, nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// newTestServer creates a Server whose router is signed in as role. RoleNone
// leaves it anonymous.
func newTestServer(t *testing.T, role models.Role) (*Server, *mockIssues) {
	t.Helper()

	rt := router.New(store.NewMemoryStore(), nil)
	_, err := rt.Restore(context.Background())
	require.NoError(t, err)
	if role.Valid() {
		rt.SignedIn(models.Session{AccessToken: "A", Role: role, UserID: "9", Username: string(role) + "1"})
	}

	mi := &mockIssues{
		issues: []*models.Issue{
			{ID: "1", Title: "Missing CSC1100 marks", Status: models.IssueStatusPending, Category: models.IssueCategoryMissingMarks},
			{ID: "2", Title: "Appeal MTH2201", Status: models.IssueStatusAssigned, AssignedTo: "7"},
		},
		lecturers: []models.Lecturer{{ID: "7", Username: "okello", FullName: "Dr. Okello"}},
	}
	srv := NewServer(rt, mi, nil)
	require.NotNil(t, srv)
	return srv, mi
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

// ---------------------------------------------------------------------------
// Tests: ait_whoami
// ---------------------------------------------------------------------------

func TestHandleWhoami(t *testing.T) {
	srv, _ := newTestServer(t, models.RoleLecturer)

	result, err := srv.handleWhoami(context.Background(), callToolReq("ait_whoami", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out map[string]string
	resultJSON(t, result, &out)
	assert.Equal(t, "authenticated", out["state"])
	assert.Equal(t, "lecturer", out["role"])
	assert.Equal(t, "/lecturer/dashboard", out["dashboard"])
	assert.NotContains(t, resultText(t, result), `"A"`, "token must not be exposed")
}

func TestHandleWhoami_Anonymous(t *testing.T) {
	srv, _ := newTestServer(t, models.RoleNone)

	result, err := srv.handleWhoami(context.Background(), callToolReq("ait_whoami", nil))
	require.NoError(t, err)

	var out map[string]string
	resultJSON(t, result, &out)
	assert.Equal(t, "anonymous", out["state"])
	assert.Equal(t, "/", out["dashboard"])
}

// ---------------------------------------------------------------------------
// Tests: ait_list_issues
// ---------------------------------------------------------------------------

func TestHandleListIssues(t *testing.T) {
	srv, mi := newTestServer(t, models.RoleStudent)

	result, err := srv.handleListIssues(context.Background(), callToolReq("ait_list_issues", map[string]any{
		"status":  "pending",
		"refresh": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Issues  []*models.Issue `json:"issues"`
		Summary struct {
			Total int `json:"total"`
		} `json:"summary"`
	}
	resultJSON(t, result, &out)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, models.RefID("1"), out.Issues[0].ID)
	assert.Equal(t, 2, out.Summary.Total, "summary covers the unfiltered list")
	assert.True(t, mi.refreshed)
}

func TestHandleListIssues_Errors(t *testing.T) {
	tests := []struct {
		name     string
		role     models.Role
		args     map[string]any
		listErr  error
		contains string
	}{
		{"anonymous", models.RoleNone, nil, nil, "not signed in"},
		{"bad status", models.RoleStudent, map[string]any{"status": "closed"}, nil, "invalid status"},
		{"expired", models.RoleStudent, nil, &apperr.SessionExpiredError{Status: 401}, "session has expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, mi := newTestServer(t, tt.role)
			mi.listErr = tt.listErr

			result, err := srv.handleListIssues(context.Background(), callToolReq("ait_list_issues", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.contains)
		})
	}
}

func TestHandleListIssues_ExpiredSessionSignsOut(t *testing.T) {
	srv, mi := newTestServer(t, models.RoleStudent)
	mi.listErr = &apperr.SessionExpiredError{}

	result, err := srv.handleListIssues(context.Background(), callToolReq("ait_list_issues", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, router.StateAnonymous, srv.router.Current().State)

	// The next call is refused by the guard instead of reaching the service.
	mi.listErr = nil
	result, err = srv.handleListIssues(context.Background(), callToolReq("ait_list_issues", nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "not signed in")
}

// ---------------------------------------------------------------------------
// Tests: ait_get_issue
// ---------------------------------------------------------------------------

func TestHandleGetIssue(t *testing.T) {
	srv, _ := newTestServer(t, models.RoleRegistrar)
	ctx := context.Background()

	result, err := srv.handleGetIssue(ctx, callToolReq("ait_get_issue", map[string]any{"issue_id": "2"}))
	require.NoError(t, err)
	var iss models.Issue
	resultJSON(t, result, &iss)
	assert.Equal(t, "Appeal MTH2201", iss.Title)

	result, err = srv.handleGetIssue(ctx, callToolReq("ait_get_issue", map[string]any{"issue_id": "99"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Not found.")

	result, err = srv.handleGetIssue(ctx, callToolReq("ait_get_issue", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "issue_id")
}

// ---------------------------------------------------------------------------
// Tests: ait_submit_issue
// ---------------------------------------------------------------------------

func validDraftArgs() map[string]any {
	return map[string]any{
		"title":        "Missing coursework marks",
		"description":  "Test 2 marks are not on the portal",
		"category":     "missing_marks",
		"course_code":  "CSC1100",
		"student_id":   "2100714",
		"student_name": "Amina Nakato",
	}
}

func TestHandleSubmitIssue(t *testing.T) {
	srv, mi := newTestServer(t, models.RoleStudent)

	result, err := srv.handleSubmitIssue(context.Background(), callToolReq("ait_submit_issue", validDraftArgs()))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var iss models.Issue
	resultJSON(t, result, &iss)
	assert.Equal(t, models.RefID("42"), iss.ID)
	require.Len(t, mi.submitted, 1)
	assert.Equal(t, "CSC1100", mi.submitted[0].CourseCode)
}

func TestHandleSubmitIssue_MissingFieldNamed(t *testing.T) {
	srv, mi := newTestServer(t, models.RoleStudent)

	args := validDraftArgs()
	delete(args, "student_name")
	result, err := srv.handleSubmitIssue(context.Background(), callToolReq("ait_submit_issue", args))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "studentName")
	assert.Empty(t, mi.submitted)
}

func TestHandleSubmitIssue_OnlyStudents(t *testing.T) {
	srv, mi := newTestServer(t, models.RoleLecturer)

	result, err := srv.handleSubmitIssue(context.Background(), callToolReq("ait_submit_issue", validDraftArgs()))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not available to lecturer")
	assert.Empty(t, mi.submitted)
}

func TestHandleSubmitIssue_ServerRejects(t *testing.T) {
	srv, mi := newTestServer(t, models.RoleStudent)
	mi.submitErr = &apperr.SubmitError{Status: 400, Message: "course_code: Unknown course."}

	result, err := srv.handleSubmitIssue(context.Background(), callToolReq("ait_submit_issue", validDraftArgs()))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Unknown course.")
}

// ---------------------------------------------------------------------------
// Tests: ait_suggest_triage
// ---------------------------------------------------------------------------

func TestHandleSuggestTriage(t *testing.T) {
	srv, _ := newTestServer(t, models.RoleNone)

	result, err := srv.handleSuggestTriage(context.Background(), callToolReq("ait_suggest_triage", map[string]any{
		"title":       "Marks missing for CSC1100",
		"description": "I need them for graduation clearance",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]string
	resultJSON(t, result, &out)
	assert.Equal(t, "missing_marks", out["category"])
	assert.Equal(t, "critical", out["priority"])
	assert.Equal(t, "heuristic", out["source"])
}

// ---------------------------------------------------------------------------
// Tests: ait_update_issue_status / ait_assign_issue
// ---------------------------------------------------------------------------

func TestHandleUpdateIssueStatus(t *testing.T) {
	srv, mi := newTestServer(t, models.RoleLecturer)
	ctx := context.Background()

	result, err := srv.handleUpdateIssueStatus(ctx, callToolReq("ait_update_issue_status", map[string]any{
		"issue_id": "2", "status": "in_progress",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Equal(t, models.IssueStatusInProgress, mi.statuses["2"])

	result, err = srv.handleUpdateIssueStatus(ctx, callToolReq("ait_update_issue_status", map[string]any{
		"issue_id": "2", "status": "assigned",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "fields: status")
}

func TestHandleUpdateIssueStatus_StudentRefused(t *testing.T) {
	srv, mi := newTestServer(t, models.RoleStudent)

	result, err := srv.handleUpdateIssueStatus(context.Background(), callToolReq("ait_update_issue_status", map[string]any{
		"issue_id": "1", "status": "resolved",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, mi.statuses)
}

func TestHandleAssignIssue(t *testing.T) {
	srv, mi := newTestServer(t, models.RoleRegistrar)

	result, err := srv.handleAssignIssue(context.Background(), callToolReq("ait_assign_issue", map[string]any{
		"issue_id": "1", "lecturer_id": "7",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var iss models.Issue
	resultJSON(t, result, &iss)
	assert.Equal(t, models.IssueStatusAssigned, iss.Status)
	assert.Equal(t, "7", mi.assigned["1"])
}

func TestHandleAssignIssue_LecturerRefused(t *testing.T) {
	srv, mi := newTestServer(t, models.RoleLecturer)

	result, err := srv.handleAssignIssue(context.Background(), callToolReq("ait_assign_issue", map[string]any{
		"issue_id": "1", "lecturer_id": "7",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, mi.assigned)

	result, err = srv.handleListLecturers(context.Background(), callToolReq("ait_list_lecturers", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListLecturers(t *testing.T) {
	srv, _ := newTestServer(t, models.RoleRegistrar)

	result, err := srv.handleListLecturers(context.Background(), callToolReq("ait_list_lecturers", nil))
	require.NoError(t, err)
	var ls []models.Lecturer
	resultJSON(t, result, &ls)
	require.Len(t, ls, 1)
	assert.Equal(t, "Dr. Okello", ls[0].FullName)
}

// ---------------------------------------------------------------------------
// Tests: Integration -- verify all tools are registered via HandleMessage
// ---------------------------------------------------------------------------

func TestMCPIntegration_ListTools(t *testing.T) {
	srv, _ := newTestServer(t, models.RoleStudent)

	mcpSrv := srv.MCPServer()
	require.NotNil(t, mcpSrv)

	ctx := context.Background()
	reqJSON := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	respMsg := mcpSrv.HandleMessage(ctx, reqJSON)
	require.NotNil(t, respMsg)

	respBytes, err := json.Marshal(respMsg)
	require.NoError(t, err)

	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))

	toolNames := make(map[string]bool)
	for _, tool := range rpcResp.Result.Tools {
		toolNames[tool.Name] = true
	}
	for _, name := range []string{
		"ait_whoami",
		"ait_list_issues",
		"ait_get_issue",
		"ait_submit_issue",
		"ait_suggest_triage",
		"ait_update_issue_status",
		"ait_assign_issue",
		"ait_list_lecturers",
	} {
		assert.True(t, toolNames[name], "expected tool %q to be registered", name)
	}
}

var _ IssueService = (*mockIssues)(nil)
