// Package trigger decides when pending records are offered to the
// coordinator. Store changes, reachability transitions and credential
// changes each start a sweep.
package trigger

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/credential"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/metrics"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/models"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/records"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/store"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/logging"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/timex"
)

// Sweep trigger names, also used as metric labels.
const (
	SourceStore        = "store"
	SourceReachability = "reachability"
	SourceCredential   = "credential"
)

// Uploader receives the records to submit. The coordinator satisfies it.
type Uploader interface {
	SetCredential(credential string)
	Upload(rec records.Record)
	ProcessDeletions()
}

// Source lists the records still lacking a remote ID.
type Source interface {
	Pending(ctx context.Context, kind models.Kind) ([]records.Record, error)
}

// Observer delivers change signals of the object store.
type Observer interface {
	Observe(topic store.Topic) (<-chan struct{}, func())
}

// Reachability reports network path transitions.
type Reachability interface {
	Changes() <-chan bool
}

type Options struct {
	Uploader     Uploader
	Source       Source
	Observer     Observer
	Reachability Reachability
	Credential   credential.Provider
	// Cooldown is the minimum time between two reachability sweeps.
	Cooldown time.Duration
	Clock    timex.Clock
	Metrics  *metrics.Metrics
	Logger   logging.Logger
}

// Trigger runs the sweeps. All of its state is owned by the Run goroutine.
type Trigger struct {
	opts Options
	log  logging.Logger

	authorized bool
	// next is the earliest time a reachability transition may sweep.
	next time.Time
}

func New(opts Options) *Trigger {
	if opts.Clock == nil {
		opts.Clock = timex.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Trigger{opts: opts, log: opts.Logger.With("component", "trigger")}
}

// Run applies the current credential, sweeps once and then reacts to
// signals until ctx is done.
func (t *Trigger) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	kinds := make(chan models.Kind, len(models.Kinds))
	for _, kind := range models.Kinds {
		ch, cancel := t.opts.Observer.Observe(store.KindTopic(kind))
		g.Go(func() error {
			defer cancel()
			return forward(ctx, ch, kind, kinds)
		})
	}

	g.Go(func() error {
		t.credentialChanged(ctx)
		return t.loop(ctx, kinds)
	})

	return g.Wait()
}

// forward turns signals of one topic into kind values on out. Pending
// values coalesce, a sweep reads the whole pending set anyway.
func forward(ctx context.Context, in <-chan struct{}, kind models.Kind, out chan<- models.Kind) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-in:
			if !ok {
				return nil
			}
			select {
			case out <- kind:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (t *Trigger) loop(ctx context.Context, kinds <-chan models.Kind) error {
	var reach <-chan bool
	if t.opts.Reachability != nil {
		reach = t.opts.Reachability.Changes()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case kind := <-kinds:
			if t.authorized {
				t.opts.Metrics.RecordSweep(SourceStore)
				t.sweep(ctx, kind)
			}

		case satisfied := <-reach:
			if satisfied {
				t.reachable(ctx)
			}

		case <-t.opts.Credential.Changes():
			t.credentialChanged(ctx)
		}
	}
}

func (t *Trigger) reachable(ctx context.Context) {
	t.opts.Uploader.ProcessDeletions()

	now := t.opts.Clock.Now()
	if !t.authorized || now.Before(t.next) {
		t.log.Debug(ctx, "reachable, sweep skipped", "authorized", t.authorized, "next", t.next)
		return
	}
	// Flat re-arm; success does not reset it.
	t.next = now.Add(t.opts.Cooldown)

	t.opts.Metrics.RecordSweep(SourceReachability)
	t.sweepAll(ctx)
}

func (t *Trigger) credentialChanged(ctx context.Context) {
	cred, err := t.opts.Credential.Current(ctx)
	if err != nil {
		t.log.Error(ctx, "failed to read credential", "error", err)
		cred = ""
	}
	t.authorized = cred != ""
	t.opts.Uploader.SetCredential(cred)

	if t.authorized {
		t.opts.Metrics.RecordSweep(SourceCredential)
		t.sweepAll(ctx)
	}
}

func (t *Trigger) sweepAll(ctx context.Context) {
	for _, kind := range models.Kinds {
		t.sweep(ctx, kind)
	}
}

func (t *Trigger) sweep(ctx context.Context, kind models.Kind) {
	recs, err := t.opts.Source.Pending(ctx, kind)
	if err != nil {
		t.log.Error(ctx, "failed to list pending records", "kind", kind, "error", err)
		return
	}
	if len(recs) > 0 {
		t.log.Debug(ctx, "sweep", "kind", kind, "pending", len(recs))
	}
	for _, rec := range recs {
		t.opts.Uploader.Upload(rec)
	}
}
