package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/api"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/config"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/coordinator"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/credential"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/metrics"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/reachability"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/records"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/repositories/metadata"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/services"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/store"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/transport"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/trigger"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/filex"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/logging"
)

// apiTimeout bounds the one-shot API calls (ping, delete, listings).
// Upload transfers are not bounded by it.
const apiTimeout = 30 * time.Second

// authorizer stores credentials entered at the prompt. It is nil when the
// credential comes from a watched file.
type authorizer interface {
	Authorize(ctx context.Context, credential string) error
	Logout(ctx context.Context) error
}

// App is the composition root of the collector.
type App struct {
	cfg *config.Config
	log logging.Logger

	db      *sql.DB
	closers []io.Closer

	coord      *coordinator.Coordinator
	collection services.CollectionService
	creds      credential.Provider
	auth       authorizer
	fileCreds  *credential.FileProvider
	monitor    *reachability.Monitor
	trig       *trigger.Trigger
	registry   *prometheus.Registry

	out io.Writer
}

// NewApp opens the local state and wires every component. Close releases
// what it opened.
func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (_ *App, err error) {
	if log == nil {
		log = logging.Nop()
	}
	a := &App{cfg: cfg, log: log, out: os.Stdout}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	mediaDir, err := filex.EnsureDir(cfg.MediaDir)
	if err != nil {
		return nil, err
	}
	if cfg.TempDir != "" {
		if _, err := filex.EnsureDir(cfg.TempDir); err != nil {
			return nil, err
		}
	}

	a.db, err = store.OpenDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		log.Error(ctx, "error initializing database", "path", cfg.DatabasePath, "error", err)
		return nil, err
	}
	st := store.New(a.db)

	repo, err := a.openStateRepo()
	if err != nil {
		return nil, err
	}

	apiClient := api.NewClient(cfg.APIBaseURL, cfg.ThingURL(), cfg.VideoURL(), &http.Client{Timeout: apiTimeout})

	fg := transport.NewHTTPSession(transport.Options{
		ID:            "foreground",
		MaxConcurrent: cfg.MaxForegroundTransfers,
		Logger:        log,
	})
	bg := transport.NewHTTPSession(transport.Options{
		ID:            cfg.BackgroundSessionID,
		Background:    true,
		MaxConcurrent: cfg.MaxBackgroundTransfers,
		Logger:        log,
	})
	a.closers = append(a.closers, fg, bg)

	a.registry = prometheus.NewRegistry()
	m := metrics.New(a.registry)

	kit := &records.Kit{
		Store:    st,
		ThingURL: cfg.ThingURL(),
		VideoURL: cfg.VideoURL(),
		TempDir:  cfg.TempDir,
		Log:      log,
	}
	a.coord, err = coordinator.New(ctx, coordinator.Options{
		Foreground: fg,
		Background: bg,
		Repo:       repo,
		Loader:     kit,
		Deleter:    apiClient,
		Metrics:    m,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	kit.Deletions = a.coord

	if cfg.CredentialFile != "" {
		fp, err := credential.NewFileProvider(cfg.CredentialFile, nil, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, fp)
		a.fileCreds, a.creds = fp, fp
	} else {
		sp := credential.NewStoreProvider(st, nil)
		a.closers = append(a.closers, closerFunc(sp.Close))
		a.creds, a.auth = sp, sp
	}

	a.monitor = reachability.New(apiClient, cfg.ReachabilityInterval, log)
	a.trig = trigger.New(trigger.Options{
		Uploader:     a.coord,
		Source:       kit,
		Observer:     st,
		Reachability: a.monitor,
		Credential:   a.creds,
		Cooldown:     cfg.RetryCooldown,
		Metrics:      m,
		Logger:       log,
	})
	a.collection = services.NewCollectionService(st, kit, a.coord, apiClient, mediaDir, log)

	return a, nil
}

func (a *App) openStateRepo() (metadata.Repository, error) {
	switch a.cfg.StateBackend {
	case config.StateBackendBadger:
		dir, err := filex.EnsureDir(a.cfg.BadgerDir())
		if err != nil {
			return nil, err
		}
		repo, err := metadata.OpenBadger(dir)
		if err != nil {
			return nil, fmt.Errorf("open badger state: %w", err)
		}
		a.closers = append(a.closers, repo)
		return repo, nil
	default:
		return metadata.NewSQLiteRepository(a.db), nil
	}
}

// Run starts the upload machinery and, unless headless, the prompt.
// Leaving the prompt stops everything.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	a.armCompletion(gctx)
	g.Go(func() error { return a.coord.Run(gctx) })
	g.Go(func() error { return a.trig.Run(gctx) })
	g.Go(func() error { return a.monitor.Run(gctx) })
	if a.fileCreds != nil {
		g.Go(func() error { return a.fileCreds.Run(gctx) })
	}
	if a.cfg.MetricsAddr != "" {
		router := metrics.NewRouter(a.registry, a.statusJSON, a.log)
		g.Go(func() error { return metrics.Serve(gctx, a.cfg.MetricsAddr, router, a.log) })
	}
	if !a.cfg.Headless {
		g.Go(func() error {
			defer cancel()
			a.Root(gctx)
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// armCompletion logs every time the background session drains. The
// handler fires once, so it re-registers itself.
func (a *App) armCompletion(ctx context.Context) {
	a.coord.SetBackgroundCompletionHandler(func() {
		a.log.Info(ctx, "background transfers finished")
		a.armCompletion(ctx)
	})
}

func (a *App) statusJSON(ctx context.Context) (any, error) {
	return a.coord.Status(ctx)
}

// Close releases sessions, state stores and the database.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
