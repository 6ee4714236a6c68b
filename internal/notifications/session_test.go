package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSession_OpenRegistersAndSendsHandshake(t *testing.T) {
	r := NewRegistry()
	s, ft := openSession(t, r, "42")

	if s.State() != StateOpen {
		t.Errorf("expected state open, got %s", s.State())
	}
	got, ok := r.Lookup("42")
	if !ok || got != s {
		t.Fatal("expected session to be registered after open")
	}

	events := ft.events(t)
	if len(events) != 1 {
		t.Fatalf("expected exactly the handshake frame, got %d frames", len(events))
	}
	hs := events[0]
	if hs.Kind != KindConnected {
		t.Errorf("expected handshake kind %q, got %q", KindConnected, hs.Kind)
	}
	if hs.Message != "welcome" {
		t.Errorf("expected welcome message, got %q", hs.Message)
	}
	if hs.Timestamp.IsZero() {
		t.Error("expected handshake timestamp to be set")
	}
}

func TestSession_OpenTwiceFails(t *testing.T) {
	r := NewRegistry()
	s, _ := openSession(t, r, "42")

	if _, err := s.Open("again"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed on second open, got %v", err)
	}
}

func TestSession_HandshakeFailureLeavesNoRegistration(t *testing.T) {
	r := NewRegistry()
	ft := &fakeTransport{sendErr: errors.New("broken pipe")}
	s := NewSession("42", ft, r, 0)

	_, err := s.Open("welcome")
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	if _, ok := r.Lookup("42"); ok {
		t.Error("expected failed session to unregister itself")
	}
	if s.State() != StateClosed {
		t.Errorf("expected state closed, got %s", s.State())
	}
	if s.CloseReason() != ReasonWriteFailed {
		t.Errorf("expected close reason %q, got %q", ReasonWriteFailed, s.CloseReason())
	}
}

func TestSession_DeliverWritesInOrder(t *testing.T) {
	r := NewRegistry()
	s, ft := openSession(t, r, "42")

	for i := int64(1); i <= 20; i++ {
		if err := s.Deliver(NewStateChanged(i, "changed", nil, nil, "pending", "in_progress")); err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
	}

	events := ft.events(t)
	if len(events) != 21 {
		t.Fatalf("expected 21 frames, got %d", len(events))
	}
	for i, e := range events[1:] {
		if e.ActivityID != int64(i+1) {
			t.Fatalf("frame %d: expected activity %d, got %d", i+1, i+1, e.ActivityID)
		}
	}
}

func TestSession_DeliverToClosedSession(t *testing.T) {
	r := NewRegistry()
	s, ft := openSession(t, r, "42")
	s.Close(ReasonClosedByUser)

	err := s.Deliver(NewActivityOverdue(7, "overdue", nil, time.Now()))
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	if ft.frameCount() != 1 {
		t.Errorf("expected only the handshake frame, got %d", ft.frameCount())
	}
}

func TestSession_WriteFailureTearsDown(t *testing.T) {
	r := NewRegistry()
	s, ft := openSession(t, r, "42")
	ft.failWith(errors.New("connection reset"))

	err := s.Deliver(NewActivityOverdue(7, "overdue", nil, time.Now()))
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("expected state closed, got %s", s.State())
	}
	if _, ok := r.Lookup("42"); ok {
		t.Error("expected session to be unregistered after write failure")
	}
	if ft.closeCount() != 1 {
		t.Errorf("expected transport closed once, got %d", ft.closeCount())
	}

	select {
	case <-s.Done():
	default:
		t.Error("expected Done to be closed")
	}
}

func TestSession_TeardownIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s, ft := openSession(t, r, "42")

	closedBefore := testutil.ToFloat64(sessionsClosed.WithLabelValues(ReasonWriteFailed)) +
		testutil.ToFloat64(sessionsClosed.WithLabelValues(ReasonClientGone))

	// Race a write failure against a client cancel.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.teardown(ReasonWriteFailed)
		}()
		go func() {
			defer wg.Done()
			s.teardown(ReasonClientGone)
		}()
	}
	wg.Wait()

	if ft.closeCount() != 1 {
		t.Errorf("expected exactly one transport close, got %d", ft.closeCount())
	}
	if s.State() != StateClosed {
		t.Errorf("expected state closed, got %s", s.State())
	}
	if reason := s.CloseReason(); reason != ReasonWriteFailed && reason != ReasonClientGone {
		t.Errorf("unexpected close reason %q", reason)
	}

	closedAfter := testutil.ToFloat64(sessionsClosed.WithLabelValues(ReasonWriteFailed)) +
		testutil.ToFloat64(sessionsClosed.WithLabelValues(ReasonClientGone))
	if closedAfter-closedBefore != 1 {
		t.Errorf("expected one recorded close, got %v", closedAfter-closedBefore)
	}
}

func TestSession_SupersededTeardownKeepsReplacement(t *testing.T) {
	r := NewRegistry()
	a, _ := openSession(t, r, "42")
	b, _ := openSession(t, r, "42")

	a.Close(ReasonClientGone)

	got, ok := r.Lookup("42")
	if !ok || got != b {
		t.Fatal("expected b to stay registered after a closed")
	}
	if b.State() != StateOpen {
		t.Errorf("expected b to stay open, got %s", b.State())
	}
}

func TestSession_ActiveGaugeTracksOpenSessions(t *testing.T) {
	r := NewRegistry()
	before := testutil.ToFloat64(activeSessions)

	s, _ := openSession(t, r, "42")
	if got := testutil.ToFloat64(activeSessions) - before; got != 1 {
		t.Errorf("expected gauge +1 after open, got %v", got)
	}

	s.Close(ReasonClosedByUser)
	s.Close(ReasonClosedByUser)
	if got := testutil.ToFloat64(activeSessions) - before; got != 0 {
		t.Errorf("expected gauge back to baseline after close, got %v", got)
	}
}

func TestSession_ServeReturnsOnCancel(t *testing.T) {
	r := NewRegistry()
	s, ft := openSession(t, r, "42")

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	go func() {
		s.Serve(ctx)
		close(returned)
	}()

	cancel()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Serve to return")
	}
	if s.CloseReason() != ReasonClientGone {
		t.Errorf("expected close reason %q, got %q", ReasonClientGone, s.CloseReason())
	}
	if _, ok := r.Lookup("42"); ok {
		t.Error("expected session to be unregistered after cancel")
	}
	if ft.closeCount() != 1 {
		t.Errorf("expected transport closed once, got %d", ft.closeCount())
	}
}

func TestSession_ServeReturnsOnClose(t *testing.T) {
	r := NewRegistry()
	s, _ := openSession(t, r, "42")

	returned := make(chan struct{})
	go func() {
		s.Serve(context.Background())
		close(returned)
	}()

	s.Close(ReasonShutdown)

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Serve to return")
	}
	if s.CloseReason() != ReasonShutdown {
		t.Errorf("expected close reason %q, got %q", ReasonShutdown, s.CloseReason())
	}
}

func TestSession_ServeSendsHeartbeats(t *testing.T) {
	r := NewRegistry()
	ft := &fakeTransport{}
	s := NewSession("42", ft, r, 10*time.Millisecond)
	if _, err := s.Open("welcome"); err != nil {
		t.Fatalf("open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx)

	deadline := time.After(2 * time.Second)
	for ft.pingCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 heartbeats, got %d", ft.pingCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if ft.frameCount() != 1 {
		t.Errorf("heartbeats must not produce event frames, got %d frames", ft.frameCount())
	}
}

func TestSession_HeartbeatFailureClosesSession(t *testing.T) {
	r := NewRegistry()
	ft := &fakeTransport{}
	s := NewSession("42", ft, r, 10*time.Millisecond)
	if _, err := s.Open("welcome"); err != nil {
		t.Fatalf("open: %v", err)
	}
	ft.failWith(errors.New("broken pipe"))

	returned := make(chan struct{})
	go func() {
		s.Serve(context.Background())
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for heartbeat failure to end Serve")
	}
	if s.CloseReason() != ReasonWriteFailed {
		t.Errorf("expected close reason %q, got %q", ReasonWriteFailed, s.CloseReason())
	}
}

func TestSession_EventRacingOpenFollowsHandshake(t *testing.T) {
	for i := 0; i < 50; i++ {
		r := NewRegistry()
		ft := &fakeTransport{}
		s := NewSession("42", ft, r, 0)

		delivered := make(chan error, 1)
		go func() {
			for {
				if current, ok := r.Lookup("42"); ok {
					delivered <- current.Deliver(NewActivityOverdue(7, "overdue", nil, time.Now()))
					return
				}
			}
		}()

		if _, err := s.Open("welcome"); err != nil {
			t.Fatalf("open: %v", err)
		}
		select {
		case err := <-delivered:
			if err != nil {
				t.Fatalf("iteration %d: event published after registration was lost: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for racing delivery")
		}

		events := ft.events(t)
		if len(events) != 2 || events[0].Kind != KindConnected || events[1].Kind != KindActivityOverdue {
			t.Fatalf("iteration %d: expected handshake then event, got %+v", i, events)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateOpening, "opening"},
		{StateOpen, "open"},
		{StateClosing, "closing"},
		{StateClosed, "closed"},
		{State(9), "state(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int32(tt.state), got, tt.want)
		}
	}
}
