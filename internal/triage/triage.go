// Package triage suggests a category and priority for a new issue.
package triage

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/joescharf/ait/internal/llm"
	"github.com/joescharf/ait/internal/models"
)

// Source records where a suggestion came from.
type Source string

const (
	SourceHeuristic Source = "heuristic"
	SourceModel     Source = "model"
)

// Suggestion is advisory; the student may override it on the form.
type Suggestion struct {
	Category models.IssueCategory `json:"category"`
	Priority models.IssuePriority `json:"priority"`
	Source   Source               `json:"source"`
	Reason   string               `json:"reason,omitempty"`
}

// Classify infers category and priority from the issue text using keyword
// heuristics.
func Classify(title, description string) Suggestion {
	text := strings.ToLower(title + "\n" + description)
	return Suggestion{
		Category: classifyCategory(text),
		Priority: classifyPriority(text),
		Source:   SourceHeuristic,
	}
}

// classifyCategory checks appeal keywords before missing-marks keywords
// ("remark my missing test" is an appeal), then correction. Defaults to other.
func classifyCategory(text string) models.IssueCategory {
	appeal := []string{
		"appeal", "remark", "re-mark", "review my", "reconsider",
		"unfair", "under-marked", "undermarked", "disagree", "dispute",
	}
	for _, kw := range appeal {
		if strings.Contains(text, kw) {
			return models.IssueCategoryAppeal
		}
	}

	missing := []string{
		"missing", "not appearing", "not showing", "not on the portal",
		"no marks", "no mark", "no grade", "not uploaded", "blank", "absent",
	}
	for _, kw := range missing {
		if strings.Contains(text, kw) {
			return models.IssueCategoryMissingMarks
		}
	}

	correction := []string{
		"wrong", "incorrect", "error in", "mistake", "misspelled",
		"correct my", "correction", "should be", "typo",
	}
	for _, kw := range correction {
		if strings.Contains(text, kw) {
			return models.IssueCategoryCorrection
		}
	}

	return models.IssueCategoryOther
}

// classifyPriority checks critical, then high, then low keywords. Defaults to
// medium.
func classifyPriority(text string) models.IssuePriority {
	critical := []string{
		"graduation", "graduate", "clearance", "scholarship", "sponsorship",
		"deadline tomorrow", "discontinued",
	}
	for _, kw := range critical {
		if strings.Contains(text, kw) {
			return models.IssuePriorityCritical
		}
	}

	high := []string{
		"urgent", "asap", "deadline", "retake", "final exam", "transcript",
		"probation",
	}
	for _, kw := range high {
		if strings.Contains(text, kw) {
			return models.IssuePriorityHigh
		}
	}

	low := []string{
		"minor", "typo", "spelling", "whenever", "no rush", "cosmetic",
	}
	for _, kw := range low {
		if strings.Contains(text, kw) {
			return models.IssuePriorityLow
		}
	}

	return models.IssuePriorityMedium
}

// Model is the LLM call the Suggester refines with.
type Model interface {
	SuggestTriage(ctx context.Context, title, description, courseCode string) (*llm.Triage, error)
}

// Suggester combines the heuristic with an optional model.
type Suggester struct {
	model  Model
	logger *zap.Logger
}

// NewSuggester returns a Suggester. model and logger may be nil.
func NewSuggester(model Model, logger *zap.Logger) *Suggester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Suggester{model: model, logger: logger.Named("triage")}
}

// Suggest returns the model's answer when one is configured and valid, and
// the heuristic otherwise. A model failure never fails the call.
func (s *Suggester) Suggest(ctx context.Context, d models.IssueDraft) Suggestion {
	base := Classify(d.Title, d.Description)
	if s.model == nil {
		return base
	}

	t, err := s.model.SuggestTriage(ctx, d.Title, d.Description, d.CourseCode)
	if err != nil {
		s.logger.Warn("model triage failed, using heuristic", zap.Error(err))
		return base
	}

	out := Suggestion{Category: base.Category, Priority: base.Priority, Source: SourceModel, Reason: t.Reason}
	if c := models.IssueCategory(t.Category); c.Valid() {
		out.Category = c
	} else {
		s.logger.Debug("model returned unknown category", zap.String("category", t.Category))
	}
	if p := models.IssuePriority(t.Priority); p.Valid() {
		out.Priority = p
	} else {
		s.logger.Debug("model returned unknown priority", zap.String("priority", t.Priority))
	}
	return out
}
