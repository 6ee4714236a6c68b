package cases

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/darkden-lab/casedesk/internal/auth"
	"github.com/darkden-lab/casedesk/internal/notifications"
)

// UserLookup resolves user IDs for event snapshots.
type UserLookup interface {
	Get(ctx context.Context, id string) (*auth.User, error)
}

// Service applies activity changes and tells the affected users. The store is
// authoritative: notifications go out only after a mutation succeeds, and
// their outcome never changes the result.
type Service struct {
	store    Store
	users    UserLookup
	notifier notifications.Notifier
}

func NewService(store Store, users UserLookup, notifier notifications.Notifier) *Service {
	return &Service{store: store, users: users, notifier: notifier}
}

func (s *Service) Get(ctx context.Context, id int64) (*Activity, error) {
	return s.store.Get(ctx, id)
}

// Assign hands the activity to assigneeID ("" to unassign). The new assignee
// and the displaced one each get their own event.
func (s *Service) Assign(ctx context.Context, actorID string, activityID int64, assigneeID string) (*Activity, error) {
	if assigneeID != "" {
		if _, err := s.users.Get(ctx, assigneeID); err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				return nil, ErrUnknownUser
			}
			return nil, fmt.Errorf("resolve assignee %s: %w", assigneeID, err)
		}
	}

	a, previous, err := s.store.Assign(ctx, activityID, assigneeID)
	if err != nil {
		return nil, err
	}

	actor := s.userRef(ctx, actorID)
	snapshot := notifications.AssignmentContext{ActivityType: a.ActivityType, CaseRef: a.CaseRef}

	if assigneeID != "" && assigneeID != actorID && assigneeID != previous {
		s.notifier.Publish(assigneeID, notifications.NewActivityAssigned(a.ID,
			fmt.Sprintf("%s te asignó una actividad", actor.Name),
			actor, s.userRef(ctx, assigneeID), snapshot))
	}
	if previous != "" && previous != assigneeID && previous != actorID {
		s.notifier.Publish(previous, notifications.NewActivityAssigned(a.ID,
			fmt.Sprintf("%s reasignó una actividad que tenías asignada", actor.Name),
			actor, s.userRef(ctx, previous), snapshot))
	}
	return a, nil
}

// ChangeState moves the activity to state and tells the assignee, unless the
// assignee made the change.
func (s *Service) ChangeState(ctx context.Context, actorID string, activityID int64, state string) (*Activity, error) {
	if !ValidState(state) {
		return nil, ErrInvalidState
	}

	a, previous, err := s.store.UpdateState(ctx, activityID, state)
	if err != nil {
		return nil, err
	}

	if a.AssigneeID != "" && a.AssigneeID != actorID && previous != state {
		actor := s.userRef(ctx, actorID)
		s.notifier.Publish(a.AssigneeID, notifications.NewStateChanged(a.ID,
			fmt.Sprintf("%s cambió el estado de una actividad a %s", actor.Name, state),
			actor, s.userRef(ctx, a.AssigneeID), previous, state))
	}
	return a, nil
}

// Comment adds a comment and tells the assignee, unless the assignee wrote it.
func (s *Service) Comment(ctx context.Context, actorID string, activityID int64, body string) (*Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyComment
	}

	a, err := s.store.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	c, err := s.store.AddComment(ctx, activityID, actorID, body)
	if err != nil {
		return nil, err
	}

	if a.AssigneeID != "" && a.AssigneeID != actorID {
		actor := s.userRef(ctx, actorID)
		s.notifier.Publish(a.AssigneeID, notifications.NewActivityComment(a.ID,
			fmt.Sprintf("%s comentó en una actividad", actor.Name),
			actor, s.userRef(ctx, a.AssigneeID), c.ID, c.Body))
	}
	return c, nil
}

// userRef snapshots a user for an event. Lookup failures degrade to an
// ID-only reference.
func (s *Service) userRef(ctx context.Context, id string) *notifications.UserRef {
	return resolveUserRef(ctx, s.users, id)
}

// resolveUserRef snapshots a user for an event. Lookup failures and empty
// display names fall back to the bare ID.
func resolveUserRef(ctx context.Context, users UserLookup, id string) *notifications.UserRef {
	ref := &notifications.UserRef{ID: id, Name: id}
	if users == nil || id == "" {
		return ref
	}
	u, err := users.Get(ctx, id)
	if err != nil {
		log.Printf("cases: resolving user %s for notification: %v", id, err)
		return ref
	}
	ref.Email = u.Email
	if u.DisplayName != "" {
		ref.Name = u.DisplayName
	}
	return ref
}
