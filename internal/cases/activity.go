package cases

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no activity matches the ID.
	ErrNotFound = errors.New("activity not found")
	// ErrInvalidState is returned for a state outside the workflow.
	ErrInvalidState = errors.New("invalid activity state")
	// ErrUnknownUser is returned when an assignee does not exist.
	ErrUnknownUser = errors.New("unknown user")
	// ErrEmptyComment is returned for a blank comment body.
	ErrEmptyComment = errors.New("comment body is required")
)

// Activity workflow states.
const (
	StatePending    = "pending"
	StateInProgress = "in_progress"
	StateInReview   = "in_review"
	StateCompleted  = "completed"
	StateCancelled  = "cancelled"
)

var validStates = map[string]bool{
	StatePending:    true,
	StateInProgress: true,
	StateInReview:   true,
	StateCompleted:  true,
	StateCancelled:  true,
}

// ValidState reports whether s is a workflow state.
func ValidState(s string) bool {
	return validStates[s]
}

// Activity is a unit of work inside a case. AssigneeID is empty when nobody
// is assigned.
type Activity struct {
	ID                int64      `json:"id"`
	CaseRef           string     `json:"case_ref"`
	ActivityType      string     `json:"activity_type"`
	Title             string     `json:"title"`
	State             string     `json:"state"`
	AssigneeID        string     `json:"assignee_id,omitempty"`
	DueAt             *time.Time `json:"due_at,omitempty"`
	OverdueNotifiedAt *time.Time `json:"overdue_notified_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Comment is a note left on an activity.
type Comment struct {
	ID         int64     `json:"id"`
	ActivityID int64     `json:"activity_id"`
	AuthorID   string    `json:"author_id"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}
