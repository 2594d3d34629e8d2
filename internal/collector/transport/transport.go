// Package transport runs HTTP transfers and reports their lifecycle as a
// stream of events instead of callbacks.
//
// A Session hands out a TaskID per submitted request. Everything that then
// happens to the transfer (bytes sent, response received, completion) is
// delivered on Events() tagged with the session ID and the TaskID, so a
// single dispatcher can route events from several sessions.
package transport

import (
	"net/http"
)

// TaskID identifies a transfer within one Session. IDs are only meaningful
// while the session that issued them still lists the task as live.
type TaskID int64

// EventKind is the lifecycle step an Event reports.
type EventKind int

const (
	// EventProgress reports request body bytes handed to the network.
	EventProgress EventKind = iota
	// EventDataReceived carries the response status, headers and body.
	EventDataReceived
	// EventCompleted is the last event of every task. Err is set when no
	// usable response was obtained (including cancellation).
	EventCompleted
	// EventSessionIdle is emitted by background sessions when their last
	// live task has completed.
	EventSessionIdle
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventDataReceived:
		return "data-received"
	case EventCompleted:
		return "completed"
	case EventSessionIdle:
		return "session-idle"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification.
type Event struct {
	Session string
	Task    TaskID
	Kind    EventKind

	BytesSent     int64
	BytesExpected int64

	StatusCode int
	Header     http.Header
	Body       []byte

	Err error
}

// Request describes one transfer. Exactly one of Body and BodyFile is used;
// BodyFile streams from disk.
type Request struct {
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
	BodyFile string
	// RemoveBodyFile deletes BodyFile once the task has completed.
	RemoveBodyFile bool
}

// Session is a transport configuration with its own task namespace.
type Session interface {
	// ID names the session; events carry it.
	ID() string
	// Background reports whether transfers are meant to outlive the
	// submitting code path (large, deferrable bodies).
	Background() bool
	// Submit starts a transfer and returns without waiting for it.
	Submit(req *Request) (TaskID, error)
	// Cancel aborts a live task. Its EventCompleted still follows.
	Cancel(id TaskID)
	// LiveTasks lists the tasks that have not completed yet.
	LiveTasks() []TaskID
	// Events delivers lifecycle events until the session is closed.
	Events() <-chan Event
	Close() error
}
