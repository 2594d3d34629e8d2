package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordUpload("thing", OutcomeSubmitted)
	m.RecordUpload("thing", OutcomeSubmitted)
	m.RecordUpload("video", OutcomeRecovered)
	m.RecordDeletion(true)
	m.RecordDeletion(false)
	m.SetPendingDeletions(3)
	m.SetTrackedTransfers("bg", 2)
	m.RecordSweep("reachability")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UploadsTotal.WithLabelValues("thing", OutcomeSubmitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UploadsTotal.WithLabelValues("video", OutcomeRecovered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeletionsTotal.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PendingDeletions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TrackedTransfers.WithLabelValues("bg")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepsTotal.WithLabelValues("reachability")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordUpload("thing", OutcomeFailed)
	m.RecordDeletion(true)
	m.SetPendingDeletions(1)
	m.SetTrackedTransfers("fg", 1)
	m.RecordSweep("store")
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetPendingDeletions(4)

	h := NewRouter(reg, func(context.Context) (any, error) {
		return map[string]int{"pending_deletions": 4}, nil
	}, nil)

	code, body := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	code, body = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, "orbit_pending_remote_deletions 4"), body)

	code, body = get(t, h, "/status")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"pending_deletions":4}`, body)
}

func TestRouter_StatusError(t *testing.T) {
	h := NewRouter(prometheus.NewRegistry(), func(context.Context) (any, error) {
		return nil, errors.New("closed")
	}, nil)

	code, _ := get(t, h, "/status")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
