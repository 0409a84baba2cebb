// Package backlog summarizes an issue list for dashboards.
package backlog

import (
	"time"

	"github.com/joescharf/ait/internal/models"
)

// Summary counts issues and scores how well the backlog is being worked.
type Summary struct {
	Total      int                        `json:"total"`
	ByStatus   map[models.IssueStatus]int `json:"by_status"`
	Open       int                        `json:"open"`       // not yet resolved
	Unassigned int                        `json:"unassigned"` // open with nobody assigned

	// OldestPending is the creation time of the oldest pending issue, zero
	// when nothing is pending.
	OldestPending    time.Time     `json:"oldest_pending"`
	OldestPendingAge time.Duration `json:"oldest_pending_age"`

	Score *Score `json:"score"`
}

// Score is a 0-100 backlog health score.
type Score struct {
	Total          int `json:"total"`
	Resolution     int `json:"resolution"`      // 0-50
	PendingRecency int `json:"pending_recency"` // 0-30
	Assignment     int `json:"assignment"`      // 0-20
}

// Scorer computes summaries relative to a clock.
type Scorer struct {
	now func() time.Time
}

// NewScorer returns a Scorer using the wall clock.
func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// Summarize counts issues per status and scores the backlog.
func (s *Scorer) Summarize(issues []*models.Issue) *Summary {
	sum := &Summary{ByStatus: make(map[models.IssueStatus]int, len(models.IssueStatuses))}
	for _, st := range models.IssueStatuses {
		sum.ByStatus[st] = 0
	}

	for _, iss := range issues {
		sum.Total++
		sum.ByStatus[iss.Status]++
		if iss.Status == models.IssueStatusResolved {
			continue
		}
		sum.Open++
		if iss.AssignedTo == "" {
			sum.Unassigned++
		}
		if iss.Status == models.IssueStatusPending && !iss.CreatedAt.IsZero() {
			if sum.OldestPending.IsZero() || iss.CreatedAt.Before(sum.OldestPending) {
				sum.OldestPending = iss.CreatedAt
			}
		}
	}
	if !sum.OldestPending.IsZero() {
		sum.OldestPendingAge = s.now().Sub(sum.OldestPending)
	}

	sc := &Score{
		Resolution:     scoreResolution(sum, 50),
		PendingRecency: s.scorePendingAge(sum, 30),
		Assignment:     scoreAssignment(sum, 20),
	}
	sc.Total = sc.Resolution + sc.PendingRecency + sc.Assignment
	sum.Score = sc
	return sum
}

// scoreResolution rewards a high share of resolved issues.
func scoreResolution(sum *Summary, maxPoints int) int {
	if sum.Total == 0 {
		return maxPoints
	}
	ratio := float64(sum.Open) / float64(sum.Total)
	return int(float64(maxPoints) * (1 - ratio*0.8))
}

// scorePendingAge penalizes issues left pending for long.
func (s *Scorer) scorePendingAge(sum *Summary, maxPoints int) int {
	if sum.OldestPending.IsZero() {
		return maxPoints
	}
	days := int(sum.OldestPendingAge.Hours() / 24)
	switch {
	case days <= 1:
		return maxPoints
	case days <= 3:
		return int(float64(maxPoints) * 0.9)
	case days <= 7:
		return int(float64(maxPoints) * 0.75)
	case days <= 14:
		return int(float64(maxPoints) * 0.5)
	case days <= 30:
		return int(float64(maxPoints) * 0.3)
	default:
		return int(float64(maxPoints) * 0.1)
	}
}

// scoreAssignment rewards open issues that have an owner.
func scoreAssignment(sum *Summary, maxPoints int) int {
	if sum.Open == 0 {
		return maxPoints
	}
	assigned := sum.Open - sum.Unassigned
	return int(float64(maxPoints) * float64(assigned) / float64(sum.Open))
}
