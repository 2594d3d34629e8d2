package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/logging"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/timex"
)

// FileProvider reads the credential from a token file and watches it.
// The directory is watched rather than the file so that editors replacing
// the file by rename are noticed.
type FileProvider struct {
	path    string
	clock   timex.Clock
	log     logging.Logger
	watcher *fsnotify.Watcher
	changes chan struct{}
}

// NewFileProvider starts watching the directory of path. Run must be called
// to deliver change signals.
func NewFileProvider(path string, clock timex.Clock, log logging.Logger) (*FileProvider, error) {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	if log == nil {
		log = logging.Nop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &FileProvider{
		path:    abs,
		clock:   clock,
		log:     log.With("component", "credential-file", "path", abs),
		watcher: w,
		changes: make(chan struct{}, 1),
	}, nil
}

func (p *FileProvider) Current(context.Context) (string, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	cred := strings.TrimSpace(string(data))
	if cred == "" || Expired(cred, p.clock.Now()) {
		return "", nil
	}
	return cred, nil
}

func (p *FileProvider) Changes() <-chan struct{} { return p.changes }

// Run forwards relevant file events until ctx is done or the watcher is
// closed.
func (p *FileProvider) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != p.path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			p.log.Debug(ctx, "credential file changed", "op", ev.Op.String())
			select {
			case p.changes <- struct{}{}:
			default:
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return nil
			}
			p.log.Warn(ctx, "credential watcher error", "error", err)
		}
	}
}

func (p *FileProvider) Close() error { return p.watcher.Close() }
