package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/store"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "participant-7",
		IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Hour)),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestExpired(t *testing.T) {
	live := signedToken(t, t0.Add(time.Hour))
	dead := signedToken(t, t0.Add(-time.Minute))

	tests := []struct {
		name string
		cred string
		want bool
	}{
		{"opaque token", "Token 0123456789abcdef", false},
		{"live jwt", live, false},
		{"live jwt with scheme", "Bearer " + live, false},
		{"expired jwt", dead, true},
		{"expired jwt with scheme", "Bearer " + dead, true},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Expired(tt.cred, t0))
		})
	}
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.OpenDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.New(db)
}

func TestStoreProvider_AuthorizeAndLogout(t *testing.T) {
	ctx := context.Background()
	p := NewStoreProvider(newStore(t), fixedClock{t0})
	defer p.Close()

	cred, err := p.Current(ctx)
	require.NoError(t, err)
	assert.Empty(t, cred, "no participant yet")

	require.NoError(t, p.Authorize(ctx, "Token abc"))
	select {
	case <-p.Changes():
	case <-time.After(time.Second):
		t.Fatal("no change signal after authorize")
	}
	cred, err = p.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Token abc", cred)

	require.NoError(t, p.Logout(ctx))
	cred, err = p.Current(ctx)
	require.NoError(t, err)
	assert.Empty(t, cred)
}

func TestStoreProvider_ExpiredIsAbsent(t *testing.T) {
	ctx := context.Background()
	p := NewStoreProvider(newStore(t), fixedClock{t0})
	defer p.Close()

	require.NoError(t, p.Authorize(ctx, "Bearer "+signedToken(t, t0.Add(-time.Second))))
	cred, err := p.Current(ctx)
	require.NoError(t, err)
	assert.Empty(t, cred)
}

func TestFileProvider_ReadsAndSignals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")

	p, err := NewFileProvider(path, fixedClock{t0}, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cred, err := p.Current(ctx)
	require.NoError(t, err)
	assert.Empty(t, cred, "missing file means no credential")

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("Token abc\n"), 0o600))

	select {
	case <-p.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("no change signal after write")
	}
	cred, err = p.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Token abc", cred)

	cancel()
	assert.NoError(t, <-done)
}
