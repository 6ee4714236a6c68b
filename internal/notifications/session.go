package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionClosed is returned when delivering to a session that is not
	// (or no longer) open.
	ErrSessionClosed = errors.New("session is not open")
	// ErrWriteFailed wraps transport errors. The session has been torn down
	// by the time the caller sees it.
	ErrWriteFailed = errors.New("write failed")
)

// Close reasons, also used as metric labels.
const (
	ReasonClientGone   = "client_gone"
	ReasonWriteFailed  = "write_failed"
	ReasonSuperseded   = "superseded"
	ReasonClosedByUser = "closed_by_user"
	ReasonShutdown     = "shutdown"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateOpening State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Transport is the outbound half of a push connection. Send and Ping are
// never called concurrently; Close may race with either.
type Transport interface {
	// Send writes one serialized event and flushes it to the peer.
	Send(payload []byte) error
	// Ping writes a keep-alive that clients ignore.
	Ping() error
	// Close releases the transport.
	Close() error
}

// Session owns one push connection from admission to teardown.
type Session struct {
	ID          string
	RecipientID string
	ConnectedAt time.Time

	registry  *Registry
	transport Transport
	heartbeat time.Duration

	// writeMu serializes the handshake, deliveries and heartbeats so frames
	// reach the peer in the order they were accepted.
	writeMu sync.Mutex
	state   atomic.Int32

	closeOnce sync.Once
	done      chan struct{}
	reason    string
}

// NewSession creates a session in the Opening state. It is not reachable by
// publishers until Open succeeds.
func NewSession(recipientID string, transport Transport, registry *Registry, heartbeat time.Duration) *Session {
	return &Session{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		ConnectedAt: time.Now().UTC(),
		registry:    registry,
		transport:   transport,
		heartbeat:   heartbeat,
		done:        make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once teardown has started.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// CloseReason reports why the session was torn down. Empty while open.
func (s *Session) CloseReason() string {
	select {
	case <-s.done:
		return s.reason
	default:
		return ""
	}
}

// Open registers the session and writes the handshake frame. The write lock
// is held across both steps, so any Deliver that finds this session in the
// registry is ordered after the handshake. It returns the session this one
// superseded, if any.
func (s *Session) Open(welcome string) (*Session, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() != StateOpening {
		return nil, ErrSessionClosed
	}

	superseded := s.registry.Register(s.RecipientID, s)

	payload, err := json.Marshal(newConnectedEvent(welcome))
	if err != nil {
		s.teardown(ReasonWriteFailed)
		return superseded, fmt.Errorf("marshal handshake: %w", err)
	}
	if err := s.transport.Send(payload); err != nil {
		s.teardown(ReasonWriteFailed)
		return superseded, fmt.Errorf("%w: handshake: %w", ErrWriteFailed, err)
	}

	activeSessions.Inc()
	if !s.state.CompareAndSwap(int32(StateOpening), int32(StateOpen)) {
		// Closed while the handshake was in flight.
		activeSessions.Dec()
		return superseded, ErrSessionClosed
	}
	sessionsOpened.Inc()
	return superseded, nil
}

// Deliver serializes e and writes it synchronously. A transport failure tears
// the session down and is reported as ErrWriteFailed; callers must not retry.
func (s *Session) Deliver(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.ID, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() != StateOpen {
		return ErrSessionClosed
	}
	if err := s.transport.Send(payload); err != nil {
		s.teardown(ReasonWriteFailed)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Close tears the session down. It is safe to call any number of times from
// any goroutine; only the first call has an effect.
func (s *Session) Close(reason string) {
	s.teardown(reason)
}

// Serve blocks until ctx is cancelled (the peer went away) or the session is
// closed by some other path, sending heartbeats in between. When it returns
// no write is in flight and none will start, so the caller may release the
// underlying connection.
func (s *Session) Serve(ctx context.Context) {
	var tick <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.teardown(ReasonClientGone)
			s.awaitWriter()
			return
		case <-s.done:
			s.awaitWriter()
			return
		case <-tick:
			s.ping()
		}
	}
}

func (s *Session) ping() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() != StateOpen {
		return
	}
	if err := s.transport.Ping(); err != nil {
		log.Printf("notifications: heartbeat to user %s failed: %v", s.RecipientID, err)
		s.teardown(ReasonWriteFailed)
	}
}

// awaitWriter waits for a write that started before teardown to finish.
func (s *Session) awaitWriter() {
	s.writeMu.Lock()
	s.writeMu.Unlock() //nolint:staticcheck // SA2001
}

// teardown moves the session to Closed exactly once: one Unregister, one
// transport close. It never takes writeMu, so it can run from inside a write.
func (s *Session) teardown(reason string) {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateClosing)))
		s.reason = reason

		s.registry.Unregister(s.RecipientID, s)
		close(s.done)

		if err := s.transport.Close(); err != nil {
			log.Printf("notifications: closing transport for user %s: %v", s.RecipientID, err)
		}
		s.state.Store(int32(StateClosed))

		if prev == StateOpen {
			activeSessions.Dec()
		}
		sessionsClosed.WithLabelValues(reason).Inc()
		log.Printf("notifications: user %s disconnected (session %s, %s)", s.RecipientID, s.ID, reason)
	})
}
