package run

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleLifecycle(t *testing.T) {
	h := New("r1", "documents", "backup")
	assert.Equal(t, StateIdle, h.State())
	assert.False(t, h.Cancelled())

	h.SetState(StatePreparing)
	assert.Equal(t, StatePreparing, h.State())

	h.Cancel()
	assert.True(t, h.Cancelled())
}

func TestProgressSnapshotIndependentOfFurtherUpdates(t *testing.T) {
	h := New("r1", "documents", "backup")
	h.Progress.FilesPlanned.Store(10)
	h.Progress.FilesCompleted.Store(3)

	snap := h.Progress.Snapshot()
	h.Progress.FilesCompleted.Store(4)

	assert.Equal(t, int64(10), snap.FilesPlanned)
	assert.Equal(t, int64(3), snap.FilesCompleted)
	assert.Equal(t, int64(4), h.Progress.FilesCompleted.Load())
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:       "idle",
		StateRunning:    "running",
		StateDone:       "done",
		StateCancelled:  "cancelled",
		State(99):       "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestResultSuccess(t *testing.T) {
	ok := &Result{State: StateDone}
	assert.True(t, ok.Success())

	withFatal := &Result{State: StateFailed, Err: errors.New("boom")}
	assert.False(t, withFatal.Success())

	withFileErrors := &Result{State: StateDone, FileErrors: []FileError{{Path: "a.txt", Err: errors.New("x")}}}
	assert.False(t, withFileErrors.Success())
}
