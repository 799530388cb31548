// Package events fans workspace state changes out to view surfaces.
package events

import (
	"sync"
	"time"
)

// Type names a state change.
type Type string

const (
	LoggedIn        Type = "logged_in"
	LoggedOut       Type = "logged_out"
	SessionExpired  Type = "session_expired"
	DirectoryListed Type = "directory_listed"
	DocumentOpened  Type = "document_opened"
	DocumentClosed  Type = "document_closed"
	DocumentSaved   Type = "document_saved"
	PartialSave     Type = "partial_save"
	EntryCreated    Type = "entry_created"
	EntryDeleted    Type = "entry_deleted"
	OperationFailed Type = "operation_failed"
)

// Event describes one state change.
type Event struct {
	Type      Type      `json:"type"`
	Action    string    `json:"action,omitempty"`
	Path      string    `json:"path,omitempty"`
	Username  string    `json:"username,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const subscriberBuffer = 64

// Broadcaster manages subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		if ch == sub {
			delete(b.subscribers, ch)
			close(ch)
			return
		}
	}
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
