package models

import "time"

// IssueStatus represents the server-side state of an issue.
type IssueStatus string

const (
	IssueStatusPending    IssueStatus = "pending"
	IssueStatusAssigned   IssueStatus = "assigned"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusResolved   IssueStatus = "resolved"
)

// IssueStatuses lists statuses in workflow order.
var IssueStatuses = []IssueStatus{IssueStatusPending, IssueStatusAssigned, IssueStatusInProgress, IssueStatusResolved}

// Valid reports whether s is a known status.
func (s IssueStatus) Valid() bool {
	for _, v := range IssueStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// rank returns the position of s in the workflow, or -1.
func (s IssueStatus) rank() int {
	for i, v := range IssueStatuses {
		if s == v {
			return i
		}
	}
	return -1
}

// CanTransitionTo reports whether the workflow allows moving from s to next.
// Transitions only move forward; resolved is final.
func (s IssueStatus) CanTransitionTo(next IssueStatus) bool {
	from, to := s.rank(), next.rank()
	if from < 0 || to < 0 {
		return false
	}
	return to > from
}

// IssuePriority represents the urgency of an issue.
type IssuePriority string

const (
	IssuePriorityLow      IssuePriority = "low"
	IssuePriorityMedium   IssuePriority = "medium"
	IssuePriorityHigh     IssuePriority = "high"
	IssuePriorityCritical IssuePriority = "critical"
)

// Valid reports whether p is a known priority.
func (p IssuePriority) Valid() bool {
	switch p {
	case IssuePriorityLow, IssuePriorityMedium, IssuePriorityHigh, IssuePriorityCritical:
		return true
	}
	return false
}

// IssueCategory is the kind of academic problem being reported.
type IssueCategory string

const (
	IssueCategoryMissingMarks IssueCategory = "missing_marks"
	IssueCategoryAppeal       IssueCategory = "appeal"
	IssueCategoryCorrection   IssueCategory = "correction"
	IssueCategoryOther        IssueCategory = "other"
)

// Valid reports whether c is a known category.
func (c IssueCategory) Valid() bool {
	switch c {
	case IssueCategoryMissingMarks, IssueCategoryAppeal, IssueCategoryCorrection, IssueCategoryOther:
		return true
	}
	return false
}

// IssueDraft is locally-held form state for a new issue.
type IssueDraft struct {
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Category     IssueCategory `json:"category"`
	CourseCode   string        `json:"course_code"`
	StudentID    string        `json:"student_id"`
	StudentName  string        `json:"student_name"`
	Priority     IssuePriority `json:"priority"`
	Lecturer     string        `json:"lecturer,omitempty"`
	Department   string        `json:"department,omitempty"`
	Semester     string        `json:"semester,omitempty"`
	AcademicYear string        `json:"academic_year,omitempty"`
	IssueDate    string        `json:"issue_date"`

	// AttachmentPath is a local file uploaded alongside the draft. Not serialized.
	AttachmentPath string `json:"-"`
}

// Issue is a server-owned issue record. The client never edits it locally.
type Issue struct {
	ID           RefID         `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Status       IssueStatus   `json:"status"`
	AssignedTo   RefID         `json:"assigned_to"`
	Category     IssueCategory `json:"category"`
	CourseCode   string        `json:"course_code"`
	StudentID    string        `json:"student_id"`
	StudentName  string        `json:"student_name"`
	Priority     IssuePriority `json:"priority"`
	Lecturer     string        `json:"lecturer"`
	Department   string        `json:"department"`
	Semester     string        `json:"semester"`
	AcademicYear string        `json:"academic_year"`
	IssueDate    string        `json:"issue_date"`
	Attachment   string        `json:"attachment"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
