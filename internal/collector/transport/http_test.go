package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect reads events until the task's EventCompleted (and, for background
// sessions, the trailing idle event) has been seen.
func collect(t *testing.T, s *HTTPSession, id TaskID) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			out = append(out, ev)
			if ev.Kind == EventCompleted && ev.Task == id && !s.Background() {
				return out
			}
			if ev.Kind == EventSessionIdle {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out waiting for task %d, got %+v", id, out)
		}
	}
}

func kinds(evs []Event) []EventKind {
	var ks []EventKind
	for _, ev := range evs {
		if ev.Kind != EventProgress {
			ks = append(ks, ev.Kind)
		}
	}
	return ks
}

func TestHTTPSession_JSONBody(t *testing.T) {
	var gotBody []byte
	var gotAuth, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		w.Header().Set("orbit-id", "42")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	defer srv.Close()

	s := NewHTTPSession(Options{ID: "fg"})
	defer s.Close()

	id, err := s.Submit(&Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{"Authorization": {"Token abc"}, "Content-Type": {"application/json"}},
		Body:   []byte(`{"label_participant":"mug"}`),
	})
	require.NoError(t, err)

	evs := collect(t, s, id)
	assert.Equal(t, []EventKind{EventDataReceived, EventCompleted}, kinds(evs))

	var data Event
	for _, ev := range evs {
		assert.Equal(t, "fg", ev.Session)
		if ev.Kind == EventDataReceived {
			data = ev
		}
	}
	assert.Equal(t, http.StatusCreated, data.StatusCode)
	assert.Equal(t, `{"id":42}`, string(data.Body))
	assert.Equal(t, "42", data.Header.Get("orbit-id"))

	assert.Equal(t, `{"label_participant":"mug"}`, string(gotBody))
	assert.Equal(t, "Token abc", gotAuth)
	assert.Equal(t, "application/json", gotCT)
	assert.Empty(t, s.LiveTasks())
}

func TestHTTPSession_FileBodyRemovedAndIdleEmitted(t *testing.T) {
	var gotLen int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLen = r.ContentLength
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "body.multipart")
	require.NoError(t, os.WriteFile(path, make([]byte, 40000), 0o600))

	s := NewHTTPSession(Options{ID: "bg", Background: true, MaxConcurrent: 1})
	defer s.Close()

	id, err := s.Submit(&Request{URL: srv.URL, BodyFile: path, RemoveBodyFile: true})
	require.NoError(t, err)

	evs := collect(t, s, id)
	assert.Equal(t, []EventKind{EventDataReceived, EventCompleted, EventSessionIdle}, kinds(evs))
	assert.Equal(t, int64(40000), gotLen)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestHTTPSession_OversizedBodyDroppedWhole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("orbit-id", "4200000")
		w.WriteHeader(http.StatusCreated)
		if r.URL.Path == "/big" {
			_, _ = w.Write([]byte(`{"id":4200000}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	defer srv.Close()

	s := NewHTTPSession(Options{ID: "fg", MaxResponseBody: 9})
	defer s.Close()

	body := func(path string) Event {
		id, err := s.Submit(&Request{Method: http.MethodPost, URL: srv.URL + path, Body: []byte("{}")})
		require.NoError(t, err)
		for _, ev := range collect(t, s, id) {
			if ev.Kind == EventDataReceived {
				return ev
			}
		}
		t.Fatalf("no data for %s", path)
		return Event{}
	}

	fits := body("/small")
	assert.Equal(t, `{"id":42}`, string(fits.Body))

	big := body("/big")
	assert.Nil(t, big.Body, "a cut body would decode as garbage")
	assert.Equal(t, http.StatusCreated, big.StatusCode)
	assert.Equal(t, "4200000", big.Header.Get("orbit-id"))
}

func TestHTTPSession_TransportErrorCompletesWithErr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := NewHTTPSession(Options{ID: "fg"})
	defer s.Close()

	id, err := s.Submit(&Request{URL: url, Body: []byte("x")})
	require.NoError(t, err)

	evs := collect(t, s, id)
	require.Equal(t, []EventKind{EventCompleted}, kinds(evs))
	assert.Error(t, evs[len(evs)-1].Err)
}

func TestHTTPSession_CancelLiveTask(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s := NewHTTPSession(Options{ID: "fg"})
	defer s.Close()

	id, err := s.Submit(&Request{URL: srv.URL, Body: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, []TaskID{id}, s.LiveTasks())

	s.Cancel(id)
	evs := collect(t, s, id)
	require.Equal(t, []EventKind{EventCompleted}, kinds(evs))
	assert.Error(t, evs[len(evs)-1].Err)
	assert.Empty(t, s.LiveTasks())
}

func TestHTTPSession_SubmitAfterClose(t *testing.T) {
	s := NewHTTPSession(Options{ID: "fg"})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Submit(&Request{URL: "http://example.invalid"})
	require.ErrorIs(t, err, ErrClosed)
}

func TestHTTPSession_MissingBodyFile(t *testing.T) {
	s := NewHTTPSession(Options{ID: "fg"})
	defer s.Close()

	id, err := s.Submit(&Request{URL: "http://127.0.0.1:1", BodyFile: filepath.Join(t.TempDir(), "gone")})
	require.NoError(t, err)

	evs := collect(t, s, id)
	require.Equal(t, []EventKind{EventCompleted}, kinds(evs))
	assert.Error(t, evs[len(evs)-1].Err)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "progress", EventProgress.String())
	assert.Equal(t, "data-received", EventDataReceived.String())
	assert.Equal(t, "completed", EventCompleted.String())
	assert.Equal(t, "session-idle", EventSessionIdle.String())
	assert.Equal(t, "unknown", EventKind(99).String())
}
