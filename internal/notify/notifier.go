// Package notify fans ledger-change events out to observers.
//
// Delivery is at-least-once and synchronous: handlers run in publish
// order on the publisher's goroutine, so events for a single
// recording are observed in the order they were produced. Observers
// must apply events as idempotent merges keyed by local_id — an add
// for a known id and an update for an unknown id are both safe
// no-ops on their side.
package notify

import (
	"sync"

	"github.com/kimhsiao/scriberr-companion/internal/models"
)

// EventType identifies a ledger-change notification.
type EventType string

const (
	EventRecordingAdded         EventType = "recording-added"
	EventRecordingUpdated       EventType = "recording-updated"
	EventRecordingDeletedRemote EventType = "recording-deleted-remote"
	EventSyncCompleted          EventType = "sync-completed"
)

// Event is one ledger-change notification.
// Recording is set for added/updated events; RemoteJobID is set for
// remote deletions so observers can tell "this disappeared upstream"
// apart from their own deletes. sync-completed carries no payload.
type Event struct {
	Type        EventType
	Recording   *models.Recording
	RemoteJobID string
}

// Handler receives events. Handlers must not block for long; they run
// on the publishing goroutine.
type Handler func(Event)

// Notifier fans events out to subscribed handlers.
type Notifier struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// New creates a Notifier with no subscribers.
func New() *Notifier {
	return &Notifier{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns a function that removes
// it again.
func (n *Notifier) Subscribe(h Handler) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.handlers[id] = h
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.handlers, id)
		n.mu.Unlock()
	}
}

// Publish delivers an event to every current subscriber.
func (n *Notifier) Publish(evt Event) {
	n.mu.RLock()
	handlers := make([]Handler, 0, len(n.handlers))
	for _, h := range n.handlers {
		handlers = append(handlers, h)
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}

// RecordingAdded publishes a recording-added event.
func (n *Notifier) RecordingAdded(rec *models.Recording) {
	n.Publish(Event{Type: EventRecordingAdded, Recording: rec})
}

// RecordingUpdated publishes a recording-updated event.
func (n *Notifier) RecordingUpdated(rec *models.Recording) {
	n.Publish(Event{Type: EventRecordingUpdated, Recording: rec})
}

// RecordingDeletedRemote publishes a remote-deletion event for the
// vanished remote job.
func (n *Notifier) RecordingDeletedRemote(remoteJobID string) {
	n.Publish(Event{Type: EventRecordingDeletedRemote, RemoteJobID: remoteJobID})
}

// SyncCompleted publishes the end-of-pass event. It fires once per
// reconciliation pass no matter how many rows changed.
func (n *Notifier) SyncCompleted() {
	n.Publish(Event{Type: EventSyncCompleted})
}
