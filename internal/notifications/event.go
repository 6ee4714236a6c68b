package notifications

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what happened. The set is closed: business code can only
// build events through the constructors below.
type Kind string

const (
	KindConnected        Kind = "connected"
	KindActivityAssigned Kind = "activity_assigned"
	KindStateChanged     Kind = "state_changed"
	KindActivityComment  Kind = "activity_comment"
	KindActivityOverdue  Kind = "activity_overdue"
)

// UserRef is a denormalized snapshot of a user involved in an event.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Event is a notification pushed to a single recipient. It is a value type and
// carries no delivery state; each delivery serializes it independently.
type Event struct {
	ID              string          `json:"id"`
	Kind            Kind            `json:"type"`
	ActivityID      int64           `json:"activityId,omitempty"`
	Message         string          `json:"message"`
	OriginUser      *UserRef        `json:"originUser,omitempty"`
	DestinationUser *UserRef        `json:"destinationUser,omitempty"`
	Context         json.RawMessage `json:"context,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// AssignmentContext is attached to activity_assigned events.
type AssignmentContext struct {
	ActivityType string `json:"activityType"`
	CaseRef      string `json:"caseRef"`
}

// StateTransition is attached to state_changed events.
type StateTransition struct {
	PreviousState string `json:"previousState"`
	NewState      string `json:"newState"`
}

// CommentContext is attached to activity_comment events.
type CommentContext struct {
	CommentID int64  `json:"commentId"`
	Excerpt   string `json:"excerpt"`
}

// OverdueContext is attached to activity_overdue events.
type OverdueContext struct {
	DueAt time.Time `json:"dueAt"`
}

const maxExcerptRunes = 140

func newEvent(kind Kind, activityID int64, message string, origin, destination *UserRef, ctx interface{}) Event {
	var raw json.RawMessage
	if ctx != nil {
		// Context structs only hold strings, ints and times; Marshal cannot fail.
		raw, _ = json.Marshal(ctx)
	}
	return Event{
		ID:              uuid.New().String(),
		Kind:            kind,
		ActivityID:      activityID,
		Message:         message,
		OriginUser:      copyRef(origin),
		DestinationUser: copyRef(destination),
		Context:         raw,
		Timestamp:       time.Now().UTC(),
	}
}

// copyRef detaches the event from the caller's UserRef so later mutation of
// the caller's value cannot leak into an already-built event.
func copyRef(u *UserRef) *UserRef {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// NewActivityAssigned builds the event sent to the user an activity was
// assigned to.
func NewActivityAssigned(activityID int64, message string, origin, destination *UserRef, snapshot AssignmentContext) Event {
	return newEvent(KindActivityAssigned, activityID, message, origin, destination, snapshot)
}

// NewStateChanged builds a state transition event.
func NewStateChanged(activityID int64, message string, origin, destination *UserRef, previous, next string) Event {
	return newEvent(KindStateChanged, activityID, message, origin, destination, StateTransition{
		PreviousState: previous,
		NewState:      next,
	})
}

// NewActivityComment builds a comment event. The comment body is truncated to
// a short excerpt.
func NewActivityComment(activityID int64, message string, origin, destination *UserRef, commentID int64, body string) Event {
	return newEvent(KindActivityComment, activityID, message, origin, destination, CommentContext{
		CommentID: commentID,
		Excerpt:   excerpt(body),
	})
}

// NewActivityOverdue builds a deadline breach event. Overdue events have no
// originating user.
func NewActivityOverdue(activityID int64, message string, destination *UserRef, dueAt time.Time) Event {
	return newEvent(KindActivityOverdue, activityID, message, nil, destination, OverdueContext{DueAt: dueAt.UTC()})
}

// newConnectedEvent is the handshake written once per session.
func newConnectedEvent(message string) Event {
	return newEvent(KindConnected, 0, message, nil, nil, nil)
}

func excerpt(body string) string {
	r := []rune(body)
	if len(r) <= maxExcerptRunes {
		return body
	}
	return string(r[:maxExcerptRunes]) + "…"
}
