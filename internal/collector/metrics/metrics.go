// Package metrics exposes the upload pipeline's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Upload outcomes recorded by UploadsTotal.
const (
	OutcomeSubmitted  = "submitted"
	OutcomeSucceeded  = "succeeded"
	OutcomeFailed     = "failed"
	OutcomeDuplicate  = "duplicate"
	OutcomeRecovered  = "recovered"
	OutcomeUnresolved = "unresolved"
)

// Metrics tracks the collector's upload and deletion activity.
//
// All metrics use the orbit_ prefix. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	// UploadsTotal counts upload lifecycle steps by record kind and outcome.
	UploadsTotal *prometheus.CounterVec

	// DeletionsTotal counts remote deletion attempts by result.
	DeletionsTotal *prometheus.CounterVec

	// PendingDeletions is the size of the pending remote deletion set.
	PendingDeletions prometheus.Gauge

	// TrackedTransfers is the number of mapped transfers per session.
	TrackedTransfers *prometheus.GaugeVec

	// SweepsTotal counts upload sweeps by trigger.
	SweepsTotal *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
// Panics if registration fails (expected during initialization only).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbit_uploads_total",
				Help: "Upload lifecycle steps by record kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		DeletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbit_remote_deletions_total",
				Help: "Remote deletion attempts by result",
			},
			[]string{"result"}, // "success", "failed"
		),
		PendingDeletions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orbit_pending_remote_deletions",
				Help: "Remote resources waiting to be deleted",
			},
		),
		TrackedTransfers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orbit_tracked_transfers",
				Help: "Transfers currently mapped to a record, by session",
			},
			[]string{"session"},
		),
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbit_upload_sweeps_total",
				Help: "Upload sweeps by trigger",
			},
			[]string{"trigger"},
		),
	}

	reg.MustRegister(
		m.UploadsTotal,
		m.DeletionsTotal,
		m.PendingDeletions,
		m.TrackedTransfers,
		m.SweepsTotal,
	)

	return m
}

// RecordUpload counts one upload lifecycle step.
func (m *Metrics) RecordUpload(kind, outcome string) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordDeletion counts one remote deletion attempt.
func (m *Metrics) RecordDeletion(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failed"
	}
	m.DeletionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetPendingDeletions(n int) {
	if m == nil {
		return
	}
	m.PendingDeletions.Set(float64(n))
}

func (m *Metrics) SetTrackedTransfers(session string, n int) {
	if m == nil {
		return
	}
	m.TrackedTransfers.WithLabelValues(session).Set(float64(n))
}

// RecordSweep counts a sweep started by trigger ("store", "reachability",
// "credential").
func (m *Metrics) RecordSweep(trigger string) {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues(trigger).Inc()
}
