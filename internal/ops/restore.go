package ops

import (
	"context"
	stderrs "errors"
	"io"

	"github.com/cuba/cuba/internal/metadata"
	"github.com/cuba/cuba/internal/run"
	"github.com/cuba/cuba/internal/transform"
	"github.com/cuba/cuba/pkg/errors"
	"github.com/cuba/cuba/pkg/message"
)

// Restore streams every Present metadata entry's destination object
// through the inverse transform back to deps.Source, which plays the role
// of the restore target here (spec §4.8: "may differ from the original
// source root per profile configuration", i.e. it need not be the exact
// tree backup read from). A file already present at the target path is
// skipped with a warning unless Profile.OverwriteOnRestore is set.
func Restore(ctx context.Context, deps Deps) (*run.Result, error) {
	deps.Handle.SetState(run.StatePreparing)

	store, err := metadata.Load(ctx, deps.Dest, deps.ProfileName)
	if err != nil {
		deps.Handle.SetState(run.StateFailed)
		return resultFor(deps.Handle, nil, err), err
	}

	deps.Handle.SetState(run.StatePlanning)
	paths := store.Paths()
	deps.Handle.Progress.FilesPlanned.Store(int64(len(paths)))

	deps.Handle.SetState(run.StateRunning)
	spec := deps.transformSpec()

	var fileErrors []run.FileError
	for _, path := range paths {
		if deps.Handle.Cancelled() {
			break
		}
		entry, ok := store.Get(path)
		if !ok || entry.State != metadata.StatePresent {
			continue
		}

		if err := restoreOne(ctx, deps, spec, path, entry); err != nil {
			deps.Handle.Progress.FilesFailed.Add(1)
			fileErrors = append(fileErrors, run.FileError{Path: path, Err: err})
			deps.report(message.FileResultMessage(message.FileResult{
				Profile: deps.ProfileName, Path: path, Operation: "download", Success: false, Err: err,
			}))
			continue
		}

		deps.Handle.Progress.FilesCompleted.Add(1)
	}

	deps.Handle.SetState(run.StateFinalizing)
	deps.Handle.SetState(finalState(deps.Handle))
	return resultFor(deps.Handle, fileErrors, nil), nil
}

func restoreOne(ctx context.Context, deps Deps, spec transform.Spec, path string, entry metadata.Entry) error {
	if _, err := deps.Source.Stat(ctx, path); err == nil && !deps.Profile.OverwriteOnRestore {
		deps.warn(path, "restore target already exists, skipped (overwrite_on_restore is false)")
		return nil
	}

	r, err := deps.Dest.OpenRead(ctx, entry.Object)
	if err != nil {
		return errors.New(errors.KindIO, "failed to open destination object for restore").WithCause(err).WithPath(path).WithComponent("ops/restore")
	}
	defer r.Close()

	plaintext, err := transform.Inverse(spec, deps.Passwords, r)
	if err != nil {
		return err
	}
	defer plaintext.Close()

	handle, err := deps.Source.OpenWriteTemp(ctx, path)
	if err != nil {
		return errors.New(errors.KindIO, "failed to open restore target").WithCause(err).WithPath(path).WithComponent("ops/restore")
	}

	chunk := make([]byte, deps.Detector.ChunkSize())
	written, copyErr := io.CopyBuffer(handle, &ctxReader{ctx: ctx, r: plaintext}, chunk)
	if copyErr != nil {
		_ = deps.Source.Abort(ctx, handle)
		if ctxErr := ctx.Err(); ctxErr != nil && stderrs.Is(copyErr, ctxErr) {
			return errors.New(errors.KindCancelled, "restore cancelled mid-stream").WithCause(copyErr).WithPath(path).WithComponent("ops/restore").WithRetryable(false)
		}
		return errors.New(errors.KindIO, "failed to write restore target").WithCause(copyErr).WithPath(path).WithComponent("ops/restore").WithRetryable(true)
	}
	if err := handle.Close(); err != nil {
		_ = deps.Source.Abort(ctx, handle)
		return errors.New(errors.KindIO, "failed to flush restore target").WithCause(err).WithPath(path).WithComponent("ops/restore")
	}
	if err := deps.Source.Finalize(ctx, handle); err != nil {
		return errors.New(errors.KindIO, "failed to finalize restore target").WithCause(err).WithPath(path).WithComponent("ops/restore")
	}

	deps.Handle.Progress.BytesCompleted.Add(written)
	deps.report(message.FileResultMessage(message.FileResult{
		Profile: deps.ProfileName, Path: path, Operation: "download", Success: true, Bytes: written,
	}))
	return nil
}
