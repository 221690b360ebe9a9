// Package notify delivers user-facing sync outcomes: transient notices with
// a severity and process-wide events.
package notify

import (
	"sync"
	"time"

	"github.com/kimhsiao/possync/internal/logging"
)

// Severity of a user-facing notice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event types.
const (
	EventNotice        = "notice"
	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
	EventQueueChanged  = "queue.changed"
)

// Event is a process-wide notification.
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType string, data map[string]interface{}) Event {
	return Event{Type: eventType, Data: data, Timestamp: time.Now().Unix()}
}

// Notifier is the notification sink.
type Notifier interface {
	// Notify shows a transient message.
	Notify(severity Severity, message string)
	// Broadcast publishes an event to every listener.
	Broadcast(event Event)
}

// Log writes notices and events to the structured log.
type Log struct{}

// Notify logs the notice at a level matching its severity.
func (Log) Notify(severity Severity, message string) {
	ctx := map[string]interface{}{"severity": string(severity)}
	switch severity {
	case SeverityError:
		logging.Error(message, nil, ctx)
	case SeverityWarning:
		logging.Warn(message, ctx)
	default:
		logging.Info(message, ctx)
	}
}

// Broadcast logs the event.
func (Log) Broadcast(event Event) {
	logging.Info("Event "+event.Type, event.Data)
}

// Multi fans out to several notifiers.
type Multi []Notifier

// Notify forwards to every notifier.
func (m Multi) Notify(severity Severity, message string) {
	for _, n := range m {
		n.Notify(severity, message)
	}
}

// Broadcast forwards to every notifier.
func (m Multi) Broadcast(event Event) {
	for _, n := range m {
		n.Broadcast(event)
	}
}

// Notice is a recorded Notify call.
type Notice struct {
	Severity Severity
	Message  string
}

// Recorder keeps every notice and event; used by the CLI to print the
// outcome of a pass and by tests.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
	events  []Event
}

// Notify records the notice.
func (r *Recorder) Notify(severity Severity, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{severity, message})
}

// Broadcast records the event.
func (r *Recorder) Broadcast(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Notices returns the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Events returns the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
