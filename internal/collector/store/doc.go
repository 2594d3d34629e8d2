// Package store is the local object store of the collector: things, videos
// and the participant record, persisted in SQLite.
//
// # Overview
//
// Store offers synchronous CRUD over the records plus change observation:
// Observe returns a channel that receives a signal after every committed
// mutation of the given topic. Signals are coalesced (a slow observer sees
// one pending signal, never a backlog), so observers re-query the store
// rather than expect a per-change payload.
//
// All calls block on the database; call them off latency-sensitive paths.
//
// # Error Handling
//
// Lookups of missing rows return ErrNotFound (match with errors.Is).
package store
