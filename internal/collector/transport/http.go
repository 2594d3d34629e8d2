package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/logging"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/netx"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("session closed")

// defaultMaxResponseBody caps how much of a response is buffered into an
// event.
const defaultMaxResponseBody = 4 << 20

// Options configures an HTTPSession.
type Options struct {
	ID string
	// Background marks a discretionary session for large file bodies.
	Background bool
	// MaxConcurrent bounds the transfers in flight; the rest wait.
	MaxConcurrent int
	Client        *http.Client
	EventBuffer   int
	// MaxResponseBody is the largest body delivered with DataReceived.
	// Larger bodies are dropped whole, never cut.
	MaxResponseBody int64
	Logger          logging.Logger
}

// HTTPSession runs each task on its own goroutine over an http.Client.
type HTTPSession struct {
	opts   Options
	client *http.Client
	log    logging.Logger

	events chan Event
	sem    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	next   TaskID
	tasks  map[TaskID]context.CancelFunc
	closed bool
}

// NewHTTPSession creates a session ready to accept tasks.
func NewHTTPSession(opts Options) *HTTPSession {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if opts.MaxResponseBody <= 0 {
		opts.MaxResponseBody = defaultMaxResponseBody
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPSession{
		opts:   opts,
		client: client,
		log:    log.With("session", opts.ID),
		events: make(chan Event, opts.EventBuffer),
		sem:    make(chan struct{}, opts.MaxConcurrent),
		ctx:    ctx,
		cancel: cancel,
		next:   1,
		tasks:  make(map[TaskID]context.CancelFunc),
	}
}

func (s *HTTPSession) ID() string           { return s.opts.ID }
func (s *HTTPSession) Background() bool     { return s.opts.Background }
func (s *HTTPSession) Events() <-chan Event { return s.events }

// Submit registers the task and starts it in the background.
func (s *HTTPSession) Submit(req *Request) (TaskID, error) {
	if req == nil || req.URL == "" {
		return 0, fmt.Errorf("invalid request")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	id := s.next
	s.next++
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.tasks[id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(taskCtx, id, req)
	return id, nil
}

// Cancel aborts a live task; unknown IDs are ignored.
func (s *HTTPSession) Cancel(id TaskID) {
	s.mu.Lock()
	cancel, ok := s.tasks[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// LiveTasks lists tasks that have not emitted EventCompleted yet.
func (s *HTTPSession) LiveTasks() []TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]TaskID, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close cancels every task, waits for them to finish and closes Events().
func (s *HTTPSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	close(s.events)
	return nil
}

func (s *HTTPSession) run(ctx context.Context, id TaskID, req *Request) {
	defer s.wg.Done()

	err := s.do(ctx, id, req)

	if req.RemoveBodyFile && req.BodyFile != "" {
		if rmErr := os.Remove(req.BodyFile); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.log.Warn(ctx, "failed to remove body file", "task", id, "path", req.BodyFile, "error", rmErr)
		}
	}

	s.mu.Lock()
	cancel := s.tasks[id]
	delete(s.tasks, id)
	idle := len(s.tasks) == 0
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.emit(Event{Task: id, Kind: EventCompleted, Err: err})
	if idle && s.opts.Background {
		s.emit(Event{Kind: EventSessionIdle})
	}
}

func (s *HTTPSession) do(ctx context.Context, id TaskID, req *Request) error {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	body, size, closeBody, err := openBody(req)
	if err != nil {
		return err
	}
	defer closeBody()

	progress := netx.NewProgressReader(body, func(sent int64) {
		s.tryEmit(Event{Task: id, Kind: EventProgress, BytesSent: sent, BytesExpected: size})
	})

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	var reqBody io.Reader
	if size > 0 {
		reqBody = progress
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.ContentLength = size
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	limit := s.opts.MaxResponseBody
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	switch {
	case err != nil:
		// Headers arrived but the body did not. Deliver what we have so the
		// receiver can fall back on headers.
		s.log.Warn(ctx, "response body lost", "task", id, "error", err)
		data = nil
	case int64(len(data)) > limit:
		s.log.Error(ctx, "response body exceeds limit, dropped", "task", id,
			"status", resp.StatusCode, "limit", limit)
		data = nil
	}

	s.emit(Event{Task: id, Kind: EventDataReceived, StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: data})
	return nil
}

func openBody(req *Request) (io.Reader, int64, func(), error) {
	if req.BodyFile == "" {
		return bytes.NewReader(req.Body), int64(len(req.Body)), func() {}, nil
	}

	f, err := os.Open(req.BodyFile)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("open body file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, nil, fmt.Errorf("stat body file: %w", err)
	}
	return f, st.Size(), func() { _ = f.Close() }, nil
}

// emit delivers lifecycle events that must not be lost. It only gives up
// when nobody can consume them any more (the process is shutting down).
func (s *HTTPSession) emit(ev Event) {
	ev.Session = s.opts.ID
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
		// Closing: still try to hand the event over without blocking shutdown.
		select {
		case s.events <- ev:
		default:
			s.log.Debug(context.Background(), "dropping event on close", "task", ev.Task, "kind", ev.Kind.String())
		}
	}
}

// tryEmit drops the event when the consumer is behind. Used for progress.
func (s *HTTPSession) tryEmit(ev Event) {
	ev.Session = s.opts.ID
	select {
	case s.events <- ev:
	default:
	}
}
