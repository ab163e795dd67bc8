// Package ops implements cuba's four top-level operations — Backup,
// Restore, Verify, Clean — as free functions over an explicit dependency
// bundle, keeping engine.Engine a thin dispatcher (spec §4.8, mirroring
// the teacher's adapter.Adapter wiring independently-testable
// collaborators rather than owning their logic itself).
package ops

import (
	"context"
	"io"

	"github.com/cuba/cuba/internal/config"
	"github.com/cuba/cuba/internal/filesystem"
	"github.com/cuba/cuba/internal/hash"
	"github.com/cuba/cuba/internal/run"
	"github.com/cuba/cuba/internal/transform"
	"github.com/cuba/cuba/internal/walker"
	"github.com/cuba/cuba/pkg/message"
	"github.com/cuba/cuba/pkg/password"
)

// Deps bundles everything an operation needs for one profile. Source and
// Dest must already be scoped to the profile's source_path/dest_path
// (see filesystem.Rooted) so every downstream package works in
// profile-relative terms.
type Deps struct {
	Source      filesystem.Filesystem
	Dest        filesystem.Filesystem
	Profile     config.ProfileSpec
	ProfileName string
	Detector    *hash.Detector
	Passwords   password.Provider
	Handle      *run.Handle
	Sink        message.Sink
	Concurrency int
}

func (d Deps) transformSpec() transform.Spec {
	return transform.Spec{
		Compress:         d.Profile.Compress,
		CompressionLevel: d.Profile.CompressionLevel,
		Encrypt:          d.Profile.Encrypt,
		PasswordID:       d.Profile.PasswordID,
	}
}

func (d Deps) report(msg message.Message) {
	if d.Sink == nil {
		return
	}
	d.Sink.Send(msg)
}

func (d Deps) warn(path, text string) {
	if d.Sink == nil {
		return
	}
	d.Sink.Send(message.LogMessage(message.Log{
		Profile: d.ProfileName,
		Level:   message.LevelWarn,
		Text:    path + ": " + text,
	}))
}

func (d Deps) progress(phase message.Phase) {
	if d.Sink == nil {
		return
	}
	snap := d.Handle.Progress.Snapshot()
	d.Sink.Send(message.ProgressMessage(message.Progress{
		Profile:        d.ProfileName,
		Phase:          phase,
		FilesTotal:     snap.FilesPlanned,
		FilesCompleted: snap.FilesCompleted,
		FilesFailed:    snap.FilesFailed,
		BytesTotal:     snap.BytesPlanned,
		BytesCompleted: snap.BytesCompleted,
	}))
}

// listObjects enumerates every destination object under Dest, reusing
// walker.Walk against the destination filesystem rather than a second
// tree-walking implementation (walker.Entry already skips directories and
// resolves symlinks, behavior equally correct whether the tree being
// listed is a source or a destination).
func listObjects(ctx context.Context, dest filesystem.Filesystem) ([]string, error) {
	entries, errs := walker.Walk(ctx, dest, "", nil, nil, message.NullSink{})
	var names []string
	for e := range entries {
		names = append(names, e.RelPath)
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	return names, nil
}

func resultFor(h *run.Handle, fileErrors []run.FileError, err error) *run.Result {
	state := h.State()
	return &run.Result{
		State:      state,
		Summary:    h.Progress.Snapshot(),
		FileErrors: fileErrors,
		Err:        err,
	}
}

func finalState(h *run.Handle) run.State {
	if h.Cancelled() {
		return run.StateCancelled
	}
	return run.StateDone
}

// ctxReader wraps r so Read returns ctx.Err() as soon as ctx is done
// instead of continuing to drain r, giving restore's single-reader copy
// loop the same per-chunk cancellation check the worker pool's upload
// path and the hash detector use (spec §5: cancellation "checked ...
// between pipeline chunks").
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
