package notifications

import (
	"encoding/json"
	"sync"
	"testing"
)

// fakeTransport records frames in memory and can be told to fail.
type fakeTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	pings   int
	closes  int
	sendErr error
	pingErr error
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return f.pingErr
	}
	f.pings++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
	f.pingErr = err
}

func (f *fakeTransport) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// events decodes every recorded frame.
func (f *fakeTransport) events(t *testing.T) []Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Event, 0, len(f.frames))
	for i, frame := range f.frames {
		var e Event
		if err := json.Unmarshal(frame, &e); err != nil {
			t.Fatalf("frame %d is not an event: %v", i, err)
		}
		out = append(out, e)
	}
	return out
}

// openSession opens a session for recipientID on a fresh fake transport.
func openSession(t *testing.T, registry *Registry, recipientID string) (*Session, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	s := NewSession(recipientID, ft, registry, 0)
	if _, err := s.Open("welcome"); err != nil {
		t.Fatalf("open session for %s: %v", recipientID, err)
	}
	return s, ft
}
