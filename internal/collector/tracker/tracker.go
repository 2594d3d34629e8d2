// Package tracker maps the transfers of one transport session to the
// records they upload.
//
// A Tracker is not safe for concurrent use. The coordinator owns it and
// calls it from its single executor goroutine only.
package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/models"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/records"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/repositories/metadata"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/store"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/transport"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/logging"
)

var (
	// ErrDuplicate rejects a submission for a record that already has a
	// live transfer.
	ErrDuplicate = errors.New("record already in flight")
	// ErrNoCredential rejects submissions while no participant credential
	// is known.
	ErrNoCredential = errors.New("no credential")
	// ErrCorruptState reports persisted mapping sequences that do not line
	// up. The mapping is discarded.
	ErrCorruptState = errors.New("corrupt transfer mapping")
)

// Loader re-fetches records when a persisted mapping is restored.
type Loader interface {
	Load(ctx context.Context, kind models.Kind, localID int64) (records.Record, error)
}

type recordKey struct {
	kind    models.Kind
	localID int64
}

// Tracker holds the live TaskID to record mapping of one session.
type Tracker struct {
	sess   transport.Session
	repo   metadata.Repository
	loader Loader
	log    logging.Logger

	tasks map[transport.TaskID]records.Record
	byKey map[recordKey]transport.TaskID
}

// Options configures a Tracker. Repo and Loader are only needed for
// sessions whose mapping must survive a restart; a nil Repo keeps the
// mapping in memory.
type Options struct {
	Session transport.Session
	Repo    metadata.Repository
	Loader  Loader
	Logger  logging.Logger
}

// New creates an empty tracker.
func New(opts Options) *Tracker {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Tracker{
		sess:   opts.Session,
		repo:   opts.Repo,
		loader: opts.Loader,
		log:    log.With("session", opts.Session.ID()),
		tasks:  make(map[transport.TaskID]records.Record),
		byKey:  make(map[recordKey]transport.TaskID),
	}
}

// Session returns the transport session the tracker maps.
func (t *Tracker) Session() transport.Session { return t.sess }

// Persistent reports whether the mapping is written to the repository.
func (t *Tracker) Persistent() bool { return t.repo != nil }

// Len is the number of tracked transfers.
func (t *Tracker) Len() int { return len(t.tasks) }

// Submit uploads rec unless it already has a live transfer. Rejections are
// logged and returned; none of them is fatal.
func (t *Tracker) Submit(ctx context.Context, rec records.Record, credential string) (transport.TaskID, error) {
	if credential == "" {
		return 0, ErrNoCredential
	}

	key := recordKey{kind: rec.Kind(), localID: rec.LocalID()}
	if id, ok := t.byKey[key]; ok {
		t.log.Debug(ctx, "duplicate submission dropped", "kind", key.kind, "local_id", key.localID, "task", id)
		return 0, ErrDuplicate
	}

	id, err := rec.Upload(ctx, credential, t.sess)
	if err != nil {
		t.log.Info(ctx, "upload not started", "kind", key.kind, "local_id", key.localID, "error", err)
		return 0, err
	}

	t.tasks[id] = rec
	t.byKey[key] = id
	t.persist(ctx)

	t.log.Debug(ctx, "upload submitted", "kind", key.kind, "local_id", key.localID, "task", id)
	return id, nil
}

// Resolve returns the record behind a task. Unknown tasks are logged; the
// transport may report transfers this process has lost track of.
func (t *Tracker) Resolve(ctx context.Context, id transport.TaskID) (records.Record, bool) {
	rec, ok := t.tasks[id]
	if !ok {
		t.log.Info(ctx, "event for unknown task", "task", id)
	}
	return rec, ok
}

// TaskFor returns the live task of a record, if any.
func (t *Tracker) TaskFor(kind models.Kind, localID int64) (transport.TaskID, bool) {
	id, ok := t.byKey[recordKey{kind: kind, localID: localID}]
	return id, ok
}

// Release forgets a task. It must be called once per task, whatever the
// outcome.
func (t *Tracker) Release(ctx context.Context, id transport.TaskID) {
	if !t.remove(id) {
		return
	}
	t.persist(ctx)
}

// Cancel stops the transfer of a record. The mapping is cleared before the
// transport is told, so the completion that follows resolves to nothing.
func (t *Tracker) Cancel(ctx context.Context, kind models.Kind, localID int64) bool {
	id, ok := t.TaskFor(kind, localID)
	if !ok {
		return false
	}
	t.remove(id)
	t.persist(ctx)
	t.sess.Cancel(id)

	t.log.Info(ctx, "upload cancelled", "kind", kind, "local_id", localID, "task", id)
	return true
}

// Reconcile drops entries whose task the transport no longer runs.
func (t *Tracker) Reconcile(ctx context.Context, live []transport.TaskID) int {
	alive := make(map[transport.TaskID]struct{}, len(live))
	for _, id := range live {
		alive[id] = struct{}{}
	}

	dropped := 0
	for id := range t.tasks {
		if _, ok := alive[id]; ok {
			continue
		}
		t.remove(id)
		dropped++
	}
	if dropped > 0 {
		t.log.Info(ctx, "dropped stale transfers", "count", dropped)
		t.persist(ctx)
	}
	return dropped
}

// Snapshot lists the tracked tasks with their records' identity.
func (t *Tracker) Snapshot() []Entry {
	out := make([]Entry, 0, len(t.tasks))
	for id, rec := range t.tasks {
		out = append(out, Entry{Task: id, Kind: rec.Kind(), LocalID: rec.LocalID()})
	}
	sortEntries(out)
	return out
}

func (t *Tracker) remove(id transport.TaskID) bool {
	rec, ok := t.tasks[id]
	if !ok {
		return false
	}
	delete(t.tasks, id)
	key := recordKey{kind: rec.Kind(), localID: rec.LocalID()}
	if t.byKey[key] == id {
		delete(t.byKey, key)
	}
	return true
}

func (t *Tracker) persist(ctx context.Context) {
	if t.repo == nil {
		return
	}
	if err := save(ctx, t.repo, t.sess.ID(), t.Snapshot()); err != nil {
		t.log.Error(ctx, "failed to persist transfer mapping", "error", err)
	}
}

// Restore rebuilds the mapping from the repository. Records that no longer
// exist are skipped. On ErrCorruptState the persisted mapping is removed
// and the tracker stays empty.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.repo == nil {
		return nil
	}

	entries, err := load(ctx, t.repo, t.sess.ID())
	if errors.Is(err, ErrCorruptState) {
		t.log.Error(ctx, "discarding transfer mapping", "error", err)
		if clearErr := discard(ctx, t.repo, t.sess.ID()); clearErr != nil {
			t.log.Error(ctx, "failed to clear transfer mapping", "error", clearErr)
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("restore %s: %w", t.sess.ID(), err)
	}

	for _, e := range entries {
		rec, err := t.loader.Load(ctx, e.Kind, e.LocalID)
		if errors.Is(err, store.ErrNotFound) {
			t.log.Info(ctx, "tracked record is gone", "kind", e.Kind, "local_id", e.LocalID, "task", e.Task)
			continue
		}
		if err != nil {
			return fmt.Errorf("restore %s: load %s %d: %w", t.sess.ID(), e.Kind, e.LocalID, err)
		}
		key := recordKey{kind: e.Kind, localID: e.LocalID}
		if _, dup := t.byKey[key]; dup {
			continue
		}
		t.tasks[e.Task] = rec
		t.byKey[key] = e.Task
	}

	t.log.Info(ctx, "restored transfer mapping", "count", len(t.tasks))
	if len(t.tasks) != len(entries) {
		t.persist(ctx)
	}
	return nil
}
