// Package run defines the per-operation run handle: state machine, cancel
// flag, and progress counters shared by backup, restore, verify, and clean.
package run

import (
	"sync/atomic"
	"time"
)

// State is a run's position in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StatePreparing
	StatePlanning
	StateRunning
	StateFinalizing
	StateDone
	StateFailed
	StateCancelled
)

// String renders the state as a lowercase name, e.g. for log lines.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StatePlanning:
		return "planning"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Progress tracks run-wide counters, updated with atomic ops from worker
// goroutines without a lock (spec §3 Run handle).
type Progress struct {
	FilesPlanned   atomic.Int64
	FilesCompleted atomic.Int64
	FilesFailed    atomic.Int64
	BytesPlanned   atomic.Int64
	BytesCompleted atomic.Int64
}

// Snapshot is a point-in-time copy of Progress, safe to pass to a
// message.Sink without racing further updates.
type Snapshot struct {
	FilesPlanned   int64
	FilesCompleted int64
	FilesFailed    int64
	BytesPlanned   int64
	BytesCompleted int64
}

// Snapshot reads all counters.
func (p *Progress) Snapshot() Snapshot {
	return Snapshot{
		FilesPlanned:   p.FilesPlanned.Load(),
		FilesCompleted: p.FilesCompleted.Load(),
		FilesFailed:    p.FilesFailed.Load(),
		BytesPlanned:   p.BytesPlanned.Load(),
		BytesCompleted: p.BytesCompleted.Load(),
	}
}

// Handle is the per-operation context passed to ops.Backup/Restore/Verify/Clean.
// One Handle corresponds to one active operation against one profile; the
// engine rejects a second concurrent operation against the same profile
// with a BusyProfile error rather than sharing a Handle.
type Handle struct {
	ID        string
	Profile   string
	Operation string

	state     atomic.Int32
	cancelled atomic.Bool
	startedAt time.Time

	Progress Progress
}

// New creates a Handle in StateIdle.
func New(id, profile, operation string) *Handle {
	return &Handle{
		ID:        id,
		Profile:   profile,
		Operation: operation,
		startedAt: time.Now(),
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// SetState transitions the handle to s. Callers are expected to follow the
// Idle->Preparing->Planning->Running->Finalizing->{Done,Failed,Cancelled}
// order; SetState itself does not enforce it.
func (h *Handle) SetState(s State) {
	h.state.Store(int32(s))
}

// Cancel requests cancellation. Safe to call concurrently and more than
// once; observed by worker loops between items and by the orchestrator at
// phase boundaries.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// StartedAt returns when the handle was created.
func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Elapsed returns the duration since the handle was created.
func (h *Handle) Elapsed() time.Duration {
	return time.Since(h.startedAt)
}

// FileError pairs a relative path with the error that terminated its job,
// carried in Result for UI display (spec §7: "a per-file error list").
type FileError struct {
	Path string
	Err  error
}

// Result is the terminal outcome of an operation, returned from
// ops.Backup/Restore/Verify/Clean once all workers drain or cancel is
// observed.
type Result struct {
	State      State
	Summary    Snapshot
	FileErrors []FileError
	Err        error // set for run-scope (fatal) errors
}

// Success reports whether the operation completed with no fatal error and
// no per-file failures.
func (r *Result) Success() bool {
	return r.State == StateDone && r.Err == nil && len(r.FileErrors) == 0
}
