package ops

import (
	"context"

	"github.com/cuba/cuba/internal/metadata"
	"github.com/cuba/cuba/internal/planner"
	"github.com/cuba/cuba/internal/run"
	"github.com/cuba/cuba/pkg/message"
)

// Clean removes destination objects with no corresponding Present metadata
// entry, then drops metadata entries tagged Missing (spec §4.8 grace
// period defaults to immediate removal — no configuration currently
// extends it, see DESIGN.md).
func Clean(ctx context.Context, deps Deps) (*run.Result, error) {
	deps.Handle.SetState(run.StatePreparing)

	store, err := metadata.Load(ctx, deps.Dest, deps.ProfileName)
	if err != nil {
		deps.Handle.SetState(run.StateFailed)
		return resultFor(deps.Handle, nil, err), err
	}

	deps.Handle.SetState(run.StatePlanning)
	destObjects, err := listObjects(ctx, deps.Dest)
	if err != nil {
		deps.Handle.SetState(run.StateFailed)
		return resultFor(deps.Handle, nil, err), err
	}
	destObjects = withoutMetadataObject(destObjects, deps.ProfileName)

	orphans := planner.Orphans(store, destObjects)
	deps.Handle.Progress.FilesPlanned.Store(int64(len(orphans)))

	deps.Handle.SetState(run.StateRunning)
	var fileErrors []run.FileError
	for _, object := range orphans {
		if deps.Handle.Cancelled() {
			break
		}
		if err := deps.Dest.Remove(ctx, object); err != nil {
			deps.Handle.Progress.FilesFailed.Add(1)
			fileErrors = append(fileErrors, run.FileError{Path: object, Err: err})
			continue
		}
		deps.Handle.Progress.FilesCompleted.Add(1)
		deps.report(message.FileResultMessage(message.FileResult{
			Profile: deps.ProfileName, Path: object, Operation: "delete", Success: true,
		}))
	}

	if !deps.Handle.Cancelled() {
		for _, path := range store.Paths() {
			entry, ok := store.Get(path)
			if ok && entry.State == metadata.StateMissing {
				store.Remove(path)
			}
		}
	}

	deps.Handle.SetState(run.StateFinalizing)
	if err := store.Persist(ctx, deps.Dest, deps.ProfileName); err != nil {
		deps.Handle.SetState(run.StateFailed)
		return resultFor(deps.Handle, fileErrors, err), err
	}

	deps.Handle.SetState(finalState(deps.Handle))
	return resultFor(deps.Handle, fileErrors, nil), nil
}

func withoutMetadataObject(objects []string, profile string) []string {
	metaName := metadata.ObjectPath(profile)
	out := objects[:0]
	for _, o := range objects {
		if o == metaName {
			continue
		}
		out = append(out, o)
	}
	return out
}
