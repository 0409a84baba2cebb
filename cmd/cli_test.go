package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/ait/internal/apperr"
	"github.com/joescharf/ait/internal/models"
)

// fakeAPI is a minimal remote API: one student account and an issue list.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	var submitted []*models.Issue
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	authed := func(r *http.Request) bool {
		return strings.HasPrefix(r.Header.Get("Authorization"), "Bearer A-")
	}
	mux.HandleFunc("GET /api/csrf/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"csrfToken": "c1"})
	})
	mux.HandleFunc("POST /api/auth/{role}/login/{$}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "pw" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"access": "A-" + r.PathValue("role"), "refresh": "R", "role": r.PathValue("role"), "username": body["username"],
		})
	})
	mux.HandleFunc("GET /api/issues/{$}", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		list := append([]*models.Issue{{ID: "1", Title: "Missing CSC1100 marks", Status: models.IssueStatusPending}}, submitted...)
		writeJSON(w, http.StatusOK, list)
	})
	mux.HandleFunc("POST /api/issues/{$}", func(w http.ResponseWriter, r *http.Request) {
		var d models.IssueDraft
		_ = json.NewDecoder(r.Body).Decode(&d)
		iss := &models.Issue{ID: "2", Title: d.Title, Status: models.IssueStatusPending}
		submitted = append(submitted, iss)
		writeJSON(w, http.StatusCreated, iss)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func cliEnv(t *testing.T) *bytes.Buffer {
	t.Helper()
	testEnv(t)
	viper.Set("api.base_url", fakeAPI(t).URL)
	t.Setenv("ANTHROPIC_API_KEY", "")

	var buf bytes.Buffer
	ui.Out = &buf
	t.Cleanup(func() {
		authUsername, authPassword = "", ""
		jsonOut = false
	})
	return &buf
}

func TestLoginRun_PersistsSession(t *testing.T) {
	buf := cliEnv(t)
	ctx := context.Background()

	authUsername, authPassword = "student1", "pw"
	require.NoError(t, loginRun(ctx, "student"))

	// A fresh wiring restores the session from the database.
	deps = nil
	jsonOut = true
	buf.Reset()
	require.NoError(t, whoamiRun(ctx))

	var who map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &who))
	assert.Equal(t, "authenticated", who["state"])
	assert.Equal(t, "student", who["role"])
	assert.Equal(t, "student1", who["username"])
}

func TestLoginRun_BadPassword(t *testing.T) {
	cliEnv(t)

	authUsername, authPassword = "student1", "nope"
	err := loginRun(context.Background(), "student")
	require.Error(t, err)

	var authErr *apperr.AuthError
	assert.True(t, errors.As(err, &authErr))
}

func TestLoginRun_UnknownRole(t *testing.T) {
	cliEnv(t)

	authUsername, authPassword = "x", "pw"
	assert.Error(t, loginRun(context.Background(), "dean"))
}

func TestIssueSubmitAndList(t *testing.T) {
	buf := cliEnv(t)
	ctx := context.Background()

	authUsername, authPassword = "student1", "pw"
	require.NoError(t, loginRun(ctx, "student"))

	issueTitle, issueDesc = "Missing marks", "CAT mark absent"
	issueCategory, issueCourse = "missing_marks", "CSC1100"
	issueStudentID, issueStudentName = "S1", "Amina Nakato"
	t.Cleanup(func() {
		issueTitle, issueDesc, issueCategory, issueCourse, issueStudentID, issueStudentName = "", "", "", "", "", ""
	})
	require.NoError(t, issueSubmitRun(ctx))

	jsonOut = true
	issueRefresh = true
	defer func() { issueRefresh = false }()
	buf.Reset()
	require.NoError(t, issueListRun(ctx))

	var list []models.Issue
	require.NoError(t, json.Unmarshal(buf.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "Missing marks", list[1].Title)
}

func TestIssueSubmit_ValidationError(t *testing.T) {
	cliEnv(t)
	ctx := context.Background()

	authUsername, authPassword = "student1", "pw"
	require.NoError(t, loginRun(ctx, "student"))

	issueTitle = "Only a title"
	t.Cleanup(func() { issueTitle = "" })
	err := issueSubmitRun(ctx)

	var vErr *apperr.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Contains(t, vErr.Fields, "description")
	assert.Contains(t, vErr.Fields, "courseCode")
}

func TestIssueList_SignedOut(t *testing.T) {
	cliEnv(t)

	err := issueListRun(context.Background())
	var expired *apperr.SessionExpiredError
	assert.True(t, errors.As(err, &expired))
}
