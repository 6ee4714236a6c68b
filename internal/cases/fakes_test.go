package cases

import (
	"context"
	"sync"
	"time"

	"github.com/darkden-lab/casedesk/internal/auth"
	"github.com/darkden-lab/casedesk/internal/notifications"
)

// memStore is an in-memory Store.
type memStore struct {
	mu         sync.Mutex
	activities map[int64]*Activity
	comments   []Comment
	failWith   error
}

func newMemStore(activities ...Activity) *memStore {
	s := &memStore{activities: make(map[int64]*Activity)}
	for i := range activities {
		a := activities[i]
		s.activities[a.ID] = &a
	}
	return s
}

func (s *memStore) Get(_ context.Context, id int64) (*Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	a, ok := s.activities[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *memStore) Assign(_ context.Context, id int64, assigneeID string) (*Activity, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, "", s.failWith
	}
	a, ok := s.activities[id]
	if !ok {
		return nil, "", ErrNotFound
	}
	previous := a.AssigneeID
	a.AssigneeID = assigneeID
	c := *a
	return &c, previous, nil
}

func (s *memStore) UpdateState(_ context.Context, id int64, state string) (*Activity, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, "", s.failWith
	}
	a, ok := s.activities[id]
	if !ok {
		return nil, "", ErrNotFound
	}
	previous := a.State
	a.State = state
	c := *a
	return &c, previous, nil
}

func (s *memStore) AddComment(_ context.Context, activityID int64, authorID, body string) (*Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	c := Comment{
		ID:         int64(len(s.comments) + 1),
		ActivityID: activityID,
		AuthorID:   authorID,
		Body:       body,
		CreatedAt:  time.Now(),
	}
	s.comments = append(s.comments, c)
	return &c, nil
}

func (s *memStore) ListOverdue(_ context.Context, now time.Time) ([]Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []Activity
	for _, a := range s.activities {
		if a.DueAt != nil && a.DueAt.Before(now) && a.OverdueNotifiedAt == nil &&
			a.AssigneeID != "" && a.State != StateCompleted && a.State != StateCancelled {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *memStore) MarkOverdueNotified(_ context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[id]
	if !ok || a.OverdueNotifiedAt != nil {
		return false, nil
	}
	a.OverdueNotifiedAt = &at
	return true, nil
}

// fakeUsers resolves a fixed set of users.
type fakeUsers map[string]string

func (f fakeUsers) Get(_ context.Context, id string) (*auth.User, error) {
	name, ok := f[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &auth.User{ID: id, DisplayName: name, Email: id + "@example.com", Active: true}, nil
}

type published struct {
	recipient string
	event     notifications.Event
}

// recorder captures every Publish call.
type recorder struct {
	mu    sync.Mutex
	calls []published
}

func (r *recorder) Publish(recipientID string, e notifications.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, published{recipient: recipientID, event: e})
}

func (r *recorder) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.calls...)
}
