// Package llm asks Claude to triage academic issues.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Triage is the model's suggestion for a new issue.
type Triage struct {
	Category string `json:"category"`
	Priority string `json:"priority"`
	Reason   string `json:"reason"`
}

// Rewrite is a clarified title and description for a draft.
type Rewrite struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Client wraps the Anthropic API.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildTriagePrompt constructs the system and user prompts for triage.
func buildTriagePrompt(title, description, courseCode string) (system string, user string) {
	system = `You triage academic issues raised by university students for the registrar's office. Return ONLY a JSON object with these fields:
- "category": one of "missing_marks", "appeal", "correction", "other"
- "priority": one of "low", "medium", "high", "critical"
- "reason": one sentence explaining the choice

Rules:
- "missing_marks": a mark, grade or result does not appear at all
- "appeal": the student disputes a mark and asks for a review or remark
- "correction": a recorded mark, name, course or registration detail is wrong
- "other": anything else
- "critical" only when graduation, a deadline within days, or sponsorship is at stake
- Default priority to "medium" unless the text suggests otherwise
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Issue title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if courseCode != "" {
		sb.WriteString("Course: ")
		sb.WriteString(courseCode)
		sb.WriteString("\n")
	}
	if description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// SuggestTriage asks the model for a category and priority.
func (c *Client) SuggestTriage(ctx context.Context, title, description, courseCode string) (*Triage, error) {
	system, user := buildTriagePrompt(title, description, courseCode)
	text, err := c.complete(ctx, system, user, 512)
	if err != nil {
		return nil, err
	}
	var t Triage
	if err := json.Unmarshal([]byte(text), &t); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	return &t, nil
}

// buildRewritePrompt constructs the prompts for clarifying a draft.
func buildRewritePrompt(title, description string) (system string, user string) {
	system = `You help students describe academic issues clearly for university staff. Given a draft title and description, return a JSON object with exactly two fields:

- "title": a concise title under 80 characters naming the course and the problem
- "description": 2-5 sentences stating what is wrong, which assessment or semester it concerns, and what the student is asking for

Rules:
- Keep every fact from the draft; never invent marks, dates, or names
- Write in the first person as the student
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Draft title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if description != "" {
		sb.WriteString("\nDraft description:\n")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// RewriteDraft returns a clarified title and description.
func (c *Client) RewriteDraft(ctx context.Context, title, description string) (*Rewrite, error) {
	system, user := buildRewritePrompt(title, description)
	text, err := c.complete(ctx, system, user, 1024)
	if err != nil {
		return nil, err
	}
	var r Rewrite
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	return &r, nil
}

func (c *Client) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return stripFence(text), nil
}

// stripFence removes a surrounding markdown code fence.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) > 1 {
		text = lines[1]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
