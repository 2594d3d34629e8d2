// Package coordinator owns the two transport sessions and everything that
// reacts to their events: the transfer trackers, the pending remote
// deletions and the background completion callback.
//
// All of that state is touched by one goroutine only, the loop in Run.
// Public methods post jobs to it and return immediately.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/deletions"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/metrics"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/models"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/records"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/repositories/metadata"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/store"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/tracker"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/transport"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/logging"
)

// unresolvedKey holds uploads the server probably accepted but whose
// response could not be applied. They are never uploaded again
// automatically.
const unresolvedKey = "unresolvedUploads"

// Deleter removes remote resources. Already-absent resources are not an
// error.
type Deleter interface {
	Delete(ctx context.Context, credential, locator string) error
}

// Options wires a Coordinator.
type Options struct {
	Foreground transport.Session
	Background transport.Session
	// BackgroundKinds are uploaded on the background session; everything
	// else on the foreground one. Defaults to videos.
	BackgroundKinds []models.Kind

	// Repo persists the background transfer mapping, the pending
	// deletions and the unresolved uploads.
	Repo    metadata.Repository
	Loader  tracker.Loader
	Deleter Deleter

	Metrics *metrics.Metrics
	Logger  logging.Logger
}

// Coordinator routes uploads to sessions and session events to records.
type Coordinator struct {
	fg      *tracker.Tracker
	bg      *tracker.Tracker
	bgKinds map[models.Kind]bool

	repo    metadata.Repository
	loader  tracker.Loader
	deleter Deleter
	metrics *metrics.Metrics
	log     logging.Logger
	exec    *executor

	// Owned by the Run loop.
	credential       string
	deletions        *deletions.Set
	deleting         bool
	responded        map[taskRef]bool
	unresolved       map[string]struct{}
	onBackgroundIdle func()
}

type taskRef struct {
	session string
	task    transport.TaskID
}

// New loads the persisted deletion and unresolved sets and builds the
// trackers. The background mapping is restored when Run starts.
func New(ctx context.Context, opts Options) (*Coordinator, error) {
	if opts.Foreground == nil || opts.Background == nil {
		return nil, errors.New("coordinator: both sessions are required")
	}
	if opts.Repo == nil || opts.Loader == nil || opts.Deleter == nil {
		return nil, errors.New("coordinator: repo, loader and deleter are required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	log = log.With("component", "coordinator")

	set, err := deletions.Load(ctx, opts.Repo)
	if err != nil {
		return nil, err
	}
	var unresolved []string
	if _, err := metadata.GetJSON(ctx, opts.Repo, unresolvedKey, &unresolved); err != nil {
		return nil, err
	}

	kinds := opts.BackgroundKinds
	if len(kinds) == 0 {
		kinds = []models.Kind{models.KindVideo}
	}

	c := &Coordinator{
		fg: tracker.New(tracker.Options{Session: opts.Foreground, Logger: log}),
		bg: tracker.New(tracker.Options{
			Session: opts.Background,
			Repo:    opts.Repo,
			Loader:  opts.Loader,
			Logger:  log,
		}),
		bgKinds:    make(map[models.Kind]bool, len(kinds)),
		repo:       opts.Repo,
		loader:     opts.Loader,
		deleter:    opts.Deleter,
		metrics:    opts.Metrics,
		log:        log,
		exec:       newExecutor(),
		deletions:  set,
		responded:  make(map[taskRef]bool),
		unresolved: make(map[string]struct{}, len(unresolved)),
	}
	for _, k := range kinds {
		c.bgKinds[k] = true
	}
	for _, u := range unresolved {
		c.unresolved[u] = struct{}{}
	}
	c.metrics.SetPendingDeletions(set.Len())
	return c, nil
}

// Run restores the background mapping and then serves events and jobs
// until ctx is cancelled. It must be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	c.restore(ctx)

	fgEvents := c.fg.Session().Events()
	bgEvents := c.bg.Session().Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fgEvents:
			if !ok {
				fgEvents = nil
				continue
			}
			c.handle(ctx, c.fg, ev)
		case ev, ok := <-bgEvents:
			if !ok {
				bgEvents = nil
				continue
			}
			c.handle(ctx, c.bg, ev)
		case <-c.exec.wake:
			c.exec.drain(ctx)
		}
	}
}

func (c *Coordinator) restore(ctx context.Context) {
	if err := c.bg.Restore(ctx); err != nil && !errors.Is(err, tracker.ErrCorruptState) {
		c.log.Error(ctx, "failed to restore background transfers", "error", err)
	}
	c.bg.Reconcile(ctx, c.bg.Session().LiveTasks())
	c.updateGauges()
}

/*************
 * Public API
 *************/

// SetCredential replaces the credential used for every request. An empty
// credential suspends uploads and deletions.
func (c *Coordinator) SetCredential(credential string) {
	c.exec.post(func(ctx context.Context) {
		if c.credential != credential {
			c.log.Info(ctx, "credential changed", "present", credential != "")
		}
		c.credential = credential
		c.processDeletions(ctx)
	})
}

// Upload queues a submission of rec. The stored copy is what gets
// submitted; records already uploaded, deleted, in flight or unresolved
// are skipped, as is everything without a credential.
func (c *Coordinator) Upload(rec records.Record) {
	c.exec.post(func(ctx context.Context) { c.submit(ctx, rec) })
}

// Do runs fn on the Run loop and waits for its result. No transport event
// is handled while fn runs, and jobs fn posts run before the next one is.
func (c *Coordinator) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	res := make(chan error, 1)
	c.exec.post(func(ctx context.Context) { res <- fn(ctx) })

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the transfer of a record, if one is running.
func (c *Coordinator) Cancel(kind models.Kind, localID int64) {
	c.exec.post(func(ctx context.Context) {
		c.trackerFor(kind).Cancel(ctx, kind, localID)
		c.updateGauges()
	})
}

// RequestDeletion adds a remote locator to the pending deletions.
func (c *Coordinator) RequestDeletion(_ context.Context, locator string) {
	c.exec.post(func(ctx context.Context) {
		added, err := c.deletions.Add(ctx, locator)
		if err != nil {
			c.log.Error(ctx, "failed to queue remote deletion", "locator", locator, "error", err)
			return
		}
		if added {
			c.log.Info(ctx, "remote deletion queued", "locator", locator)
			c.metrics.SetPendingDeletions(c.deletions.Len())
		}
		c.processDeletions(ctx)
	})
}

// ProcessDeletions retries one pending deletion, e.g. after connectivity
// came back.
func (c *Coordinator) ProcessDeletions() {
	c.exec.post(c.processDeletions)
}

// Forget clears the unresolved mark of a record so it can be uploaded
// again.
func (c *Coordinator) Forget(kind models.Kind, localID int64) {
	c.exec.post(func(ctx context.Context) {
		key := unresolvedID(kind, localID)
		if _, ok := c.unresolved[key]; !ok {
			return
		}
		delete(c.unresolved, key)
		c.saveUnresolved(ctx)
	})
}

// SetBackgroundCompletionHandler registers fn to be called the next time
// the background session runs out of transfers. It is called once, then
// cleared.
func (c *Coordinator) SetBackgroundCompletionHandler(fn func()) {
	c.exec.post(func(context.Context) { c.onBackgroundIdle = fn })
}

// Transfer is one tracked upload.
type Transfer struct {
	Session string           `json:"session"`
	Task    transport.TaskID `json:"task"`
	Kind    models.Kind      `json:"kind"`
	LocalID int64            `json:"local_id"`
}

// Status is a snapshot of the coordinator's state.
type Status struct {
	Authorized       bool       `json:"authorized"`
	Transfers        []Transfer `json:"transfers"`
	PendingDeletions []string   `json:"pending_deletions"`
	Unresolved       []string   `json:"unresolved"`
}

// Status returns a snapshot taken on the Run loop.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	res := make(chan Status, 1)
	c.exec.post(func(context.Context) { res <- c.status() })

	select {
	case s := <-res:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

/*************
 * Run loop
 *************/

func (c *Coordinator) trackerFor(kind models.Kind) *tracker.Tracker {
	if c.bgKinds[kind] {
		return c.bg
	}
	return c.fg
}

func (c *Coordinator) submit(ctx context.Context, rec records.Record) {
	if c.credential == "" {
		return
	}
	if _, ok := c.unresolved[unresolvedID(rec.Kind(), rec.LocalID())]; ok {
		c.log.Debug(ctx, "skipping unresolved upload", "kind", rec.Kind(), "local_id", rec.LocalID())
		return
	}

	// rec may have been read before a response for it was applied.
	if rec.LocalID() != 0 {
		current, err := c.loader.Load(ctx, rec.Kind(), rec.LocalID())
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.log.Debug(ctx, "skipping deleted record", "kind", rec.Kind(), "local_id", rec.LocalID())
			return
		case err != nil:
			c.log.Error(ctx, "failed to reload record", "kind", rec.Kind(), "local_id", rec.LocalID(), "error", err)
			return
		case current.RemoteID() != nil:
			c.log.Debug(ctx, "skipping uploaded record", "kind", rec.Kind(), "local_id", rec.LocalID())
			return
		}
		rec = current
	}

	_, err := c.trackerFor(rec.Kind()).Submit(ctx, rec, c.credential)
	switch {
	case err == nil:
		c.metrics.RecordUpload(string(rec.Kind()), metrics.OutcomeSubmitted)
		c.updateGauges()
	case errors.Is(err, tracker.ErrDuplicate):
		c.metrics.RecordUpload(string(rec.Kind()), metrics.OutcomeDuplicate)
	}
}

func (c *Coordinator) handle(ctx context.Context, tr *tracker.Tracker, ev transport.Event) {
	switch ev.Kind {
	case transport.EventProgress:
		c.log.Debug(ctx, "upload progress", "session", ev.Session, "task", ev.Task,
			"sent", ev.BytesSent, "expected", ev.BytesExpected)
	case transport.EventDataReceived:
		c.onDataReceived(ctx, tr, ev)
	case transport.EventCompleted:
		c.onCompleted(ctx, tr, ev)
	case transport.EventSessionIdle:
		c.onSessionIdle(ctx, tr)
	}
}

func (c *Coordinator) onDataReceived(ctx context.Context, tr *tracker.Tracker, ev transport.Event) {
	rec, ok := tr.Resolve(ctx, ev.Task)
	if !ok {
		return
	}
	c.responded[taskRef{session: ev.Session, task: ev.Task}] = true

	kind := string(rec.Kind())
	log := c.log.With("kind", rec.Kind(), "local_id", rec.LocalID(), "task", ev.Task)

	if ev.StatusCode < 200 || ev.StatusCode > 299 {
		log.Warn(ctx, "upload rejected", "status", ev.StatusCode, "body", truncate(ev.Body, 256))
		c.metrics.RecordUpload(kind, metrics.OutcomeFailed)
		return
	}

	err := rec.OnUploadResponseReceived(ctx, ev.Body)
	if err == nil {
		log.Info(ctx, "upload confirmed", "remote_id", remoteID(rec))
		c.metrics.RecordUpload(kind, metrics.OutcomeSucceeded)
		return
	}
	if !errors.Is(err, records.ErrDecode) {
		log.Error(ctx, "failed to apply upload response", "error", err)
		c.metrics.RecordUpload(kind, metrics.OutcomeFailed)
		return
	}

	if hr, ok := rec.(records.HeaderRecoverer); ok {
		if payload, ok := hr.RecoverFromHeader(ev.Header); ok {
			retryErr := rec.OnUploadResponseReceived(ctx, payload)
			if retryErr == nil {
				log.Info(ctx, "upload confirmed from response header", "remote_id", remoteID(rec))
				c.metrics.RecordUpload(kind, metrics.OutcomeRecovered)
				return
			}
			err = retryErr
		}
	}

	log.Error(ctx, "manual reconciliation required", "status", ev.StatusCode, "error", err)
	c.metrics.RecordUpload(kind, metrics.OutcomeUnresolved)
	c.unresolved[unresolvedID(rec.Kind(), rec.LocalID())] = struct{}{}
	c.saveUnresolved(ctx)
}

func (c *Coordinator) onCompleted(ctx context.Context, tr *tracker.Tracker, ev transport.Event) {
	ref := taskRef{session: ev.Session, task: ev.Task}
	responded := c.responded[ref]
	delete(c.responded, ref)

	if rec, ok := tr.Resolve(ctx, ev.Task); ok && !responded {
		c.log.Warn(ctx, "upload failed", "kind", rec.Kind(), "local_id", rec.LocalID(),
			"task", ev.Task, "error", ev.Err)
		c.metrics.RecordUpload(string(rec.Kind()), metrics.OutcomeFailed)
	}

	tr.Release(ctx, ev.Task)
	c.updateGauges()
}

func (c *Coordinator) onSessionIdle(ctx context.Context, tr *tracker.Tracker) {
	if tr != c.bg || c.onBackgroundIdle == nil {
		return
	}
	fn := c.onBackgroundIdle
	c.onBackgroundIdle = nil
	c.log.Debug(ctx, "background session finished")
	fn()
}

func (c *Coordinator) processDeletions(ctx context.Context) {
	if c.deleting || c.credential == "" {
		return
	}
	locator, ok := c.deletions.Pick()
	if !ok {
		return
	}

	c.deleting = true
	credential := c.credential
	go func() {
		err := c.deleter.Delete(ctx, credential, locator)
		c.exec.post(func(ctx context.Context) { c.deletionDone(ctx, locator, err) })
	}()
}

func (c *Coordinator) deletionDone(ctx context.Context, locator string, err error) {
	c.deleting = false
	if err != nil {
		c.log.Warn(ctx, "remote deletion failed", "locator", locator, "error", err)
		c.metrics.RecordDeletion(false)
		return
	}

	if err := c.deletions.Remove(ctx, locator); err != nil {
		c.log.Error(ctx, "failed to drop deleted locator", "locator", locator, "error", err)
		return
	}
	c.log.Info(ctx, "remote resource deleted", "locator", locator)
	c.metrics.RecordDeletion(true)
	c.metrics.SetPendingDeletions(c.deletions.Len())

	// the set changed, so try the next one
	c.processDeletions(ctx)
}

func (c *Coordinator) saveUnresolved(ctx context.Context) {
	list := make([]string, 0, len(c.unresolved))
	for u := range c.unresolved {
		list = append(list, u)
	}
	sort.Strings(list)
	if err := metadata.SetJSON(ctx, c.repo, unresolvedKey, list); err != nil {
		c.log.Error(ctx, "failed to persist unresolved uploads", "error", err)
	}
}

func (c *Coordinator) status() Status {
	s := Status{
		Authorized:       c.credential != "",
		PendingDeletions: c.deletions.List(),
		Unresolved:       make([]string, 0, len(c.unresolved)),
	}
	for _, tr := range []*tracker.Tracker{c.fg, c.bg} {
		for _, e := range tr.Snapshot() {
			s.Transfers = append(s.Transfers, Transfer{
				Session: tr.Session().ID(),
				Task:    e.Task,
				Kind:    e.Kind,
				LocalID: e.LocalID,
			})
		}
	}
	for u := range c.unresolved {
		s.Unresolved = append(s.Unresolved, u)
	}
	sort.Strings(s.Unresolved)
	return s
}

func (c *Coordinator) updateGauges() {
	c.metrics.SetTrackedTransfers(c.fg.Session().ID(), c.fg.Len())
	c.metrics.SetTrackedTransfers(c.bg.Session().ID(), c.bg.Len())
}

func unresolvedID(kind models.Kind, localID int64) string {
	return fmt.Sprintf("%s/%d", kind, localID)
}

func remoteID(rec records.Record) any {
	if id := rec.RemoteID(); id != nil {
		return *id
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
