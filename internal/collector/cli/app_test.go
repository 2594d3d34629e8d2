package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/config"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/coordinator"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/credential"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/models"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/records"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/repositories/metadata"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/services"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/store"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/transport/transporttest"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/logging"
)

type failingDeleter struct{}

func (failingDeleter) Delete(context.Context, string, string) error {
	return errors.New("unreachable")
}

type testApp struct {
	*App
	store *store.Store
	buf   *bytes.Buffer
	lines *[]string
}

// newTestApp wires the command layer to a real store and coordinator over
// fake sessions. No trigger runs, so nothing is uploaded.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()

	db, err := store.OpenDatabase(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)

	kit := &records.Kit{
		Store:    st,
		ThingURL: "https://api.example/things/",
		VideoURL: "https://api.example/videos/",
		TempDir:  t.TempDir(),
	}
	coord, err := coordinator.New(ctx, coordinator.Options{
		Foreground: transporttest.NewSession("fg", false),
		Background: transporttest.NewSession("bg", true),
		Repo:       metadata.NewSQLiteRepository(db),
		Loader:     kit,
		Deleter:    failingDeleter{},
	})
	require.NoError(t, err)
	kit.Deletions = coord

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = coord.Run(runCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	sp := credential.NewStoreProvider(st, nil)
	t.Cleanup(sp.Close)

	buf := &bytes.Buffer{}
	return &testApp{
		App: &App{
			cfg:        &config.Config{},
			log:        logging.Nop(),
			coord:      coord,
			collection: services.NewCollectionService(st, kit, coord, nil, t.TempDir(), nil),
			creds:      sp,
			auth:       sp,
			out:        buf,
		},
		store: st,
		buf:   buf,
		lines: capturePrint(t),
	}
}

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("frames"), 0o600))
	return path
}

func TestApp_AuthorizeAndLogout(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	assert.False(t, a.isAuthorized(ctx))
	require.NoError(t, a.Authorize(ctx, []string{"Token", "abc"}))
	assert.True(t, a.isAuthorized(ctx))
	assert.Equal(t, "(authorized) ", a.getStatus(ctx))

	require.NoError(t, a.Logout(ctx))
	assert.False(t, a.isAuthorized(ctx))
	assert.Equal(t, "", a.getStatus(ctx))
}

func TestApp_AuthorizePrompt(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	orig := getSecret
	t.Cleanup(func() { getSecret = orig })
	getSecret = func(io.Writer, string) (string, error) { return "Token typed", nil }

	require.NoError(t, a.Authorize(ctx, nil))
	cred, err := a.creds.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Token typed", cred)

	getSecret = func(io.Writer, string) (string, error) { return "", nil }
	assert.ErrorIs(t, a.Authorize(ctx, nil), errUsage)
}

func TestApp_AuthorizeWithCredentialFile(t *testing.T) {
	a := newTestApp(t)
	a.auth = nil
	a.cfg.CredentialFile = "/run/orbit/token"

	err := a.Authorize(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/run/orbit/token")
	assert.Error(t, a.Logout(context.Background()))
}

func TestApp_CollectionCommands(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.AddThing(ctx, []string{"coffee", "mug"}))
	assert.Contains(t, *a.lines, "Added thing 1.")

	assert.ErrorIs(t, a.AddThing(ctx, nil), errUsage)
	assert.ErrorIs(t, a.AddVideo(ctx, []string{"1", "T"}), errUsage)
	assert.Error(t, a.AddVideo(ctx, []string{"zero", "T", "x"}))

	require.NoError(t, a.AddVideo(ctx, []string{"1", "t", writeClip(t)}))
	assert.Contains(t, *a.lines, "Added video 1.")

	require.NoError(t, a.List(ctx))
	out := a.buf.String()
	assert.Contains(t, out, "coffee mug")
	assert.Contains(t, out, "video")
	assert.Contains(t, out, "pending")

	require.NoError(t, a.Rerecord(ctx, []string{"1", writeClip(t)}))
	require.NoError(t, a.DeleteVideo(ctx, []string{"1"}))
	assert.Error(t, a.DeleteVideo(ctx, []string{"1"}), "already gone")

	require.NoError(t, a.Delete(ctx, []string{"1"}))
	assert.Contains(t, *a.lines, "Deleted thing 1.")

	a.buf.Reset()
	require.NoError(t, a.List(ctx))
	assert.Contains(t, *a.lines, "Nothing recorded yet.")
	assert.Empty(t, a.buf.String())
}

func TestApp_PendingShowsQueuedDeletions(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Pending(ctx))
	assert.Contains(t, *a.lines, "Nothing pending.")

	require.NoError(t, a.AddThing(ctx, []string{"mug"}))
	th, err := a.store.GetThing(ctx, 1)
	require.NoError(t, err)
	th.RemoteID = models.Int64(5)
	require.NoError(t, a.store.SaveThing(ctx, th))

	require.NoError(t, a.Delete(ctx, []string{"1"}))
	require.NoError(t, a.Pending(ctx))
	assert.Contains(t, a.buf.String(), "https://api.example/things/5/")

	require.NoError(t, a.Status(ctx))
	found := false
	for _, l := range *a.lines {
		if strings.HasPrefix(l, "Authorized: false, transfers: 0, pending deletions: 1") {
			found = true
		}
	}
	assert.True(t, found, "status line in %v", *a.lines)
}

func TestApp_ForgetAndRefresh(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	assert.ErrorIs(t, a.Forget(ctx, nil), errUsage)
	assert.ErrorIs(t, a.Forget(ctx, []string{"thing"}), errUsage)
	assert.ErrorIs(t, a.Forget(ctx, []string{"photo/1"}), errUsage)
	require.NoError(t, a.Forget(ctx, []string{"video/3"}))
	assert.Contains(t, *a.lines, "Forgot video/3.")

	err := a.Refresh(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.APIBaseURL = "http://127.0.0.1:1"
	cfg.DatabasePath = filepath.Join(dir, "orbit.db")
	cfg.MediaDir = filepath.Join(dir, "media")
	cfg.TempDir = filepath.Join(dir, "tmp")
	cfg.StateDir = filepath.Join(dir, "state")
	cfg.Headless = true
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewApp_RunHeadless(t *testing.T) {
	cfg := testConfig(t)

	a, err := NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Run(ctx))
	require.NoError(t, a.Close())

	_, err = os.Stat(cfg.MediaDir)
	assert.NoError(t, err)
}

func TestNewApp_BadgerState(t *testing.T) {
	cfg := testConfig(t)
	cfg.StateBackend = config.StateBackendBadger

	a, err := NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = os.Stat(cfg.BadgerDir())
	assert.NoError(t, err)
}

func TestNewApp_CredentialFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.CredentialFile = filepath.Join(t.TempDir(), "token")

	a, err := NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.auth)
	assert.NotNil(t, a.fileCreds)
}
