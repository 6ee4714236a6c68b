package cases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/darkden-lab/casedesk/internal/notifications"
)

func TestSweep_FlagsEachOverdueActivityOnce(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	store := newMemStore(
		Activity{ID: 1, AssigneeID: "42", State: StatePending, DueAt: &past},
		Activity{ID: 2, AssigneeID: "42", State: StatePending, DueAt: &future},
		Activity{ID: 3, AssigneeID: "43", State: StateCompleted, DueAt: &past},
		Activity{ID: 4, State: StatePending, DueAt: &past},
	)
	rec := &recorder{}
	w := NewOverdueSweeper(store, testUsers, rec, time.Minute)
	w.now = func() time.Time { return now }

	n, err := w.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 flagged activity, got %d", n)
	}

	calls := rec.all()
	if len(calls) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(calls))
	}
	e := calls[0].event
	if calls[0].recipient != "42" || e.Kind != notifications.KindActivityOverdue || e.ActivityID != 1 {
		t.Errorf("unexpected publish %+v", calls[0])
	}
	if e.DestinationUser == nil || e.DestinationUser.Name != "Luis" {
		t.Errorf("expected destination Luis, got %+v", e.DestinationUser)
	}

	// A second sweep finds nothing new.
	if n, _ := w.Sweep(context.Background()); n != 0 {
		t.Errorf("expected second sweep to flag nothing, got %d", n)
	}
	if len(rec.all()) != 1 {
		t.Errorf("expected no further publishes, got %d", len(rec.all()))
	}
}

func TestSweep_DestinationFallsBackToID(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	tests := []struct {
		name  string
		users UserLookup
	}{
		{"empty display name", fakeUsers{"42": ""}},
		{"unknown user", fakeUsers{}},
		{"no directory", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore(Activity{ID: 1, AssigneeID: "42", State: StatePending, DueAt: &past})
			rec := &recorder{}
			w := NewOverdueSweeper(store, tc.users, rec, time.Minute)
			w.now = func() time.Time { return now }

			if _, err := w.Sweep(context.Background()); err != nil {
				t.Fatalf("sweep: %v", err)
			}
			calls := rec.all()
			if len(calls) != 1 {
				t.Fatalf("expected 1 publish, got %d", len(calls))
			}
			dest := calls[0].event.DestinationUser
			if dest == nil || dest.ID != "42" || dest.Name != "42" {
				t.Errorf("expected destination to fall back to ID 42, got %+v", dest)
			}
		})
	}
}

func TestSweep_StoreError(t *testing.T) {
	store := newMemStore()
	store.failWith = errors.New("db down")
	w := NewOverdueSweeper(store, testUsers, &recorder{}, time.Minute)

	if _, err := w.Sweep(context.Background()); err == nil {
		t.Error("expected store error to surface")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := newMemStore(Activity{ID: 1, AssigneeID: "42", State: StatePending, DueAt: &past})
	rec := &recorder{}
	w := NewOverdueSweeper(store, testUsers, rec, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(rec.all()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for sweep")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestRun_DisabledReturnsImmediately(t *testing.T) {
	w := NewOverdueSweeper(newMemStore(), testUsers, &recorder{}, 0)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper should return immediately")
	}
}
