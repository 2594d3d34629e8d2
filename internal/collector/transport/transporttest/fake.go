// Package transporttest provides an in-memory transport.Session for tests.
package transporttest

import (
	"errors"
	"sort"
	"sync"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/transport"
)

// Session records submissions and lets tests inject lifecycle events.
type Session struct {
	id         string
	background bool

	mu        sync.Mutex
	next      transport.TaskID
	live      map[transport.TaskID]*transport.Request
	Submitted []*transport.Request
	Cancelled []transport.TaskID
	SubmitErr error
	closed    bool

	events chan transport.Event
}

// NewSession returns a fake session with a generous event buffer.
func NewSession(id string, background bool) *Session {
	return &Session{
		id:         id,
		background: background,
		next:       1,
		live:       make(map[transport.TaskID]*transport.Request),
		events:     make(chan transport.Event, 256),
	}
}

func (s *Session) ID() string                     { return s.id }
func (s *Session) Background() bool               { return s.background }
func (s *Session) Events() <-chan transport.Event { return s.events }

func (s *Session) Submit(req *transport.Request) (transport.TaskID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("closed")
	}
	if s.SubmitErr != nil {
		return 0, s.SubmitErr
	}
	id := s.next
	s.next++
	s.live[id] = req
	s.Submitted = append(s.Submitted, req)
	return id, nil
}

func (s *Session) Cancel(id transport.TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cancelled = append(s.Cancelled, id)
}

func (s *Session) LiveTasks() []transport.TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]transport.TaskID, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetLive replaces the live task set, as after a relaunch.
func (s *Session) SetLive(ids ...transport.TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = make(map[transport.TaskID]*transport.Request)
	for _, id := range ids {
		s.live[id] = nil
		if id >= s.next {
			s.next = id + 1
		}
	}
}

// Request returns the request submitted under id.
func (s *Session) Request(id transport.TaskID) *transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[id]
}

// SubmittedCount is len(Submitted) under the lock.
func (s *Session) SubmittedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Submitted)
}

// Respond emits DataReceived followed by Completed for id.
func (s *Session) Respond(id transport.TaskID, status int, header map[string]string, body []byte) {
	ev := transport.Event{Session: s.id, Task: id, Kind: transport.EventDataReceived, StatusCode: status, Body: body}
	if header != nil {
		ev.Header = make(map[string][]string)
		for k, v := range header {
			ev.Header.Set(k, v)
		}
	}
	s.events <- ev
	s.Complete(id, nil)
}

// Complete emits Completed for id and drops it from the live set.
func (s *Session) Complete(id transport.TaskID, err error) {
	s.mu.Lock()
	delete(s.live, id)
	idle := len(s.live) == 0
	s.mu.Unlock()

	s.events <- transport.Event{Session: s.id, Task: id, Kind: transport.EventCompleted, Err: err}
	if idle && s.background {
		s.events <- transport.Event{Session: s.id, Kind: transport.EventSessionIdle}
	}
}

// Emit pushes an arbitrary event.
func (s *Session) Emit(ev transport.Event) {
	ev.Session = s.id
	s.events <- ev
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
