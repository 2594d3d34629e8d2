package trigger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/models"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/records"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/store"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/transport"
)

type fakeRecord struct {
	kind models.Kind
	id   int64
}

func (r fakeRecord) Kind() models.Kind { return r.kind }
func (r fakeRecord) LocalID() int64    { return r.id }
func (r fakeRecord) RemoteID() *int64  { return nil }

func (r fakeRecord) Upload(context.Context, string, transport.Session) (transport.TaskID, error) {
	return 0, nil
}
func (r fakeRecord) OnUploadResponseReceived(context.Context, []byte) error { return nil }
func (r fakeRecord) RequestRemoteDeletion(context.Context)                  {}

// recorder logs every call it receives in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) SetCredential(c string) { r.add("credential:" + c) }
func (r *recorder) ProcessDeletions()      { r.add("deletions") }
func (r *recorder) Upload(rec records.Record) {
	r.add(fmt.Sprintf("upload:%s/%d", rec.Kind(), rec.LocalID()))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeSource map[models.Kind][]records.Record

func (s fakeSource) Pending(_ context.Context, kind models.Kind) ([]records.Record, error) {
	return s[kind], nil
}

type fakeObserver struct {
	chans map[store.Topic]chan struct{}
}

func (o *fakeObserver) Observe(topic store.Topic) (<-chan struct{}, func()) {
	return o.chans[topic], func() {}
}

type fakeReach struct{ ch chan bool }

func (r fakeReach) Changes() <-chan bool { return r.ch }

type fakeCredential struct {
	mu      sync.Mutex
	cur     string
	changes chan struct{}
}

func (c *fakeCredential) Current(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur, nil
}

func (c *fakeCredential) Changes() <-chan struct{} { return c.changes }

func (c *fakeCredential) set(v string) {
	c.mu.Lock()
	c.cur = v
	c.mu.Unlock()
	c.changes <- struct{}{}
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t     *testing.T
	rec   *recorder
	obs   *fakeObserver
	reach fakeReach
	cred  *fakeCredential
	clock *manualClock
}

func start(t *testing.T, credential string) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		rec:   &recorder{},
		obs:   &fakeObserver{chans: make(map[store.Topic]chan struct{})},
		reach: fakeReach{ch: make(chan bool)},
		cred:  &fakeCredential{cur: credential, changes: make(chan struct{}, 1)},
		clock: &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, kind := range models.Kinds {
		h.obs.chans[store.KindTopic(kind)] = make(chan struct{}, 1)
	}
	src := fakeSource{
		models.KindThing: {fakeRecord{models.KindThing, 1}},
		models.KindVideo: {fakeRecord{models.KindVideo, 2}, fakeRecord{models.KindVideo, 3}},
	}

	tr := New(Options{
		Uploader:     h.rec,
		Source:       src,
		Observer:     h.obs,
		Reachability: h.reach,
		Credential:   h.cred,
		Cooldown:     30 * time.Minute,
		Clock:        h.clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return h
}

// quiet asserts nothing new is recorded for a while.
func (h *harness) quiet(n int) {
	h.t.Helper()
	assert.Never(h.t, func() bool { return len(h.rec.snapshot()) > n }, 100*time.Millisecond, 5*time.Millisecond)
}

// waitFor blocks until n events have been recorded.
func (h *harness) waitFor(n int) []string {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.rec.snapshot()) >= n }, 2*time.Second, 5*time.Millisecond)
	return h.rec.snapshot()
}

func (h *harness) storeChanged(kind models.Kind) {
	h.obs.chans[store.KindTopic(kind)] <- struct{}{}
}

var fullSweep = []string{"upload:thing/1", "upload:video/2", "upload:video/3"}

func TestRun_StartupSweepsWithCredential(t *testing.T) {
	h := start(t, "Token abc")

	got := h.waitFor(4)
	want := append([]string{"credential:Token abc"}, fullSweep...)
	assert.Empty(t, cmp.Diff(want, got))
}

func TestRun_NoCredentialSuppressesSweeps(t *testing.T) {
	h := start(t, "")
	h.waitFor(1)

	h.storeChanged(models.KindThing)
	h.quiet(1)
	h.reach.ch <- true
	h.waitFor(2)

	h.cred.set("Token abc")
	got := h.waitFor(6)

	want := append([]string{"credential:", "deletions", "credential:Token abc"}, fullSweep...)
	assert.Empty(t, cmp.Diff(want, got))
}

func TestRun_StoreChangeSweepsThatKind(t *testing.T) {
	h := start(t, "Token abc")
	h.waitFor(4)

	h.storeChanged(models.KindVideo)
	got := h.waitFor(6)
	assert.Empty(t, cmp.Diff([]string{"upload:video/2", "upload:video/3"}, got[4:]))

	h.storeChanged(models.KindThing)
	got = h.waitFor(7)
	assert.Equal(t, "upload:thing/1", got[6])
}

func TestRun_ReachabilityCooldown(t *testing.T) {
	h := start(t, "Token abc")
	h.waitFor(4)

	// First transition sweeps and arms the cool-down.
	h.reach.ch <- true
	got := h.waitFor(8)
	assert.Empty(t, cmp.Diff(append([]string{"deletions"}, fullSweep...), got[4:]))

	// Within the window only deletions are retried.
	h.clock.advance(10 * time.Minute)
	h.reach.ch <- false
	h.reach.ch <- true
	h.storeChanged(models.KindVideo)
	got = h.waitFor(11)
	assert.Empty(t, cmp.Diff([]string{"deletions", "upload:video/2", "upload:video/3"}, got[8:]))

	// Past the window the next transition sweeps again.
	h.clock.advance(21 * time.Minute)
	h.reach.ch <- true
	got = h.waitFor(15)
	assert.Empty(t, cmp.Diff(append([]string{"deletions"}, fullSweep...), got[11:]))
}

func TestRun_LogoutClearsCredential(t *testing.T) {
	h := start(t, "Token abc")
	h.waitFor(4)

	h.cred.set("")
	got := h.waitFor(5)
	assert.Equal(t, "credential:", got[4])

	h.storeChanged(models.KindThing)
	h.quiet(5)
	h.cred.set("Token xyz")
	got = h.waitFor(9)
	assert.Empty(t, cmp.Diff(append([]string{"credential:Token xyz"}, fullSweep...), got[5:]))
}
