package ops

import (
	"context"

	"github.com/cuba/cuba/internal/metadata"
	"github.com/cuba/cuba/internal/run"
	"github.com/cuba/cuba/internal/transform"
	"github.com/cuba/cuba/pkg/errors"
	"github.com/cuba/cuba/pkg/message"
)

// Verify confirms every Present metadata entry has a matching destination
// object. With allFiles=false it only checks existence and recorded size;
// with allFiles=true it additionally streams and rehashes the plaintext,
// comparing against the recorded hash. Mismatches are reported as
// FileErrors, never auto-corrected (spec §4.8).
func Verify(ctx context.Context, deps Deps, allFiles bool) (*run.Result, error) {
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

		if verifyErr := verifyOne(ctx, deps, spec, path, entry, allFiles); verifyErr != nil {
			deps.Handle.Progress.FilesFailed.Add(1)
			fileErrors = append(fileErrors, run.FileError{Path: path, Err: verifyErr})
			deps.report(message.FileResultMessage(message.FileResult{
				Profile: deps.ProfileName, Path: path, Operation: "verify", Success: false, Err: verifyErr,
			}))
			continue
		}

		deps.Handle.Progress.FilesCompleted.Add(1)
		deps.report(message.FileResultMessage(message.FileResult{
			Profile: deps.ProfileName, Path: path, Operation: "verify", Success: true,
		}))
	}

	deps.Handle.SetState(run.StateFinalizing)
	deps.Handle.SetState(finalState(deps.Handle))
	return resultFor(deps.Handle, fileErrors, nil), nil
}

func verifyOne(ctx context.Context, deps Deps, spec transform.Spec, path string, entry metadata.Entry, allFiles bool) error {
	info, err := deps.Dest.Stat(ctx, entry.Object)
	if err != nil {
		return errors.New(errors.KindIntegrity, "destination object missing for Present entry").WithCause(err).WithPath(path).WithComponent("ops/verify")
	}
	if entry.ObjectSize > 0 && info.Size != entry.ObjectSize {
		return errors.New(errors.KindIntegrity, "destination object size does not match recorded size").WithPath(path).WithComponent("ops/verify")
	}
	if !allFiles {
		return nil
	}

	r, err := deps.Dest.OpenRead(ctx, entry.Object)
	if err != nil {
		return errors.New(errors.KindIO, "failed to open destination object for verify").WithCause(err).WithPath(path).WithComponent("ops/verify")
	}
	defer r.Close()

	plaintext, err := transform.Inverse(spec, deps.Passwords, r)
	if err != nil {
		return err
	}
	defer plaintext.Close()

	ok, err := deps.Detector.VerifyObject(ctx, plaintext, entry.Hash)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.KindIntegrity, "destination object content does not match recorded hash").
			WithPath(path).WithComponent("ops/verify")
	}

	return nil
}
