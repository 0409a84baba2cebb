package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTriagePrompt(t *testing.T) {
	t.Run("with all fields", func(t *testing.T) {
		system, user := buildTriagePrompt("Missing CSC1100 marks", "Coursework marks not on portal", "CSC1100")

		assert.Contains(t, system, "JSON object")
		assert.Contains(t, system, `"missing_marks"`)
		assert.Contains(t, system, `"appeal"`)
		assert.Contains(t, system, `"critical"`)

		assert.Contains(t, user, "Missing CSC1100 marks")
		assert.Contains(t, user, "Course: CSC1100")
		assert.Contains(t, user, "Coursework marks not on portal")
	})

	t.Run("title only", func(t *testing.T) {
		_, user := buildTriagePrompt("Wrong name on transcript", "", "")
		assert.NotContains(t, user, "Course:")
		assert.NotContains(t, user, "Description")
	})
}

func TestBuildRewritePrompt(t *testing.T) {
	system, user := buildRewritePrompt("marks", "my marks r missing for test 2")
	assert.Contains(t, system, "never invent")
	assert.Contains(t, user, "Draft title: marks")
	assert.Contains(t, user, "test 2")
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence("  {\"a\":1}  "))
}

func fakeMessages(t *testing.T, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-test",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]any{{"type": "text", "text": text}},
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 10},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSuggestTriage(t *testing.T) {
	srv := fakeMessages(t, "```json\n{\"category\":\"appeal\",\"priority\":\"high\",\"reason\":\"Student disputes the exam mark.\"}\n```")
	c := NewClient("test-key", "claude-test", option.WithBaseURL(srv.URL))

	got, err := c.SuggestTriage(context.Background(), "Remark request", "I think my exam was under-marked", "MTH2201")
	require.NoError(t, err)
	assert.Equal(t, &Triage{Category: "appeal", Priority: "high", Reason: "Student disputes the exam mark."}, got)
}

func TestSuggestTriage_BadJSON(t *testing.T) {
	srv := fakeMessages(t, "I think this is an appeal.")
	c := NewClient("test-key", "claude-test", option.WithBaseURL(srv.URL))

	_, err := c.SuggestTriage(context.Background(), "Remark request", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse LLM response")
}

func TestRewriteDraft(t *testing.T) {
	srv := fakeMessages(t, `{"title":"CSC1100 test 2 marks missing","description":"My marks for CSC1100 test 2 are not on the portal."}`)
	c := NewClient("test-key", "claude-test", option.WithBaseURL(srv.URL))

	got, err := c.RewriteDraft(context.Background(), "marks", "my marks r missing for test 2")
	require.NoError(t, err)
	assert.Equal(t, "CSC1100 test 2 marks missing", got.Title)
}
