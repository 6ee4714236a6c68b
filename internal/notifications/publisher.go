package notifications

import (
	"errors"
	"log"
)

// Notifier is the write-side API business logic depends on. Publish targets
// exactly one recipient and never fails the caller: delivery is best-effort.
type Notifier interface {
	Publish(recipientID string, event Event)
}

// Publisher delivers events to whichever session the Registry currently holds
// for a recipient. Events for offline recipients are dropped.
type Publisher struct {
	registry *Registry
}

// NewPublisher creates a Publisher backed by registry.
func NewPublisher(registry *Registry) *Publisher {
	return &Publisher{registry: registry}
}

// Publish writes event to the recipient's live session, if there is one.
// Write failures close that session and are logged, never returned.
func (p *Publisher) Publish(recipientID string, event Event) {
	recordPublished(event.Kind)

	session, ok := p.registry.Lookup(recipientID)
	if !ok {
		recordDropped(dropOffline)
		return
	}

	if err := session.Deliver(event); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			// Lost a race with teardown; same outcome as offline.
			recordDropped(dropClosed)
			return
		}
		recordDropped(dropWriteFailed)
		log.Printf("notifications: delivering %s event %s to user %s failed: %v", event.Kind, event.ID, recipientID, err)
		return
	}
	recordDelivered(event.Kind)
}

// Connected reports whether recipientID currently has a live session.
func (p *Publisher) Connected(recipientID string) bool {
	_, ok := p.registry.Lookup(recipientID)
	return ok
}

// Disconnect closes the recipient's current session. It reports whether a
// session was found.
func (p *Publisher) Disconnect(recipientID, reason string) bool {
	session, ok := p.registry.Lookup(recipientID)
	if !ok {
		return false
	}
	session.Close(reason)
	return true
}
