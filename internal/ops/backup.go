package ops

import (
	"context"
	"io"

	"github.com/cuba/cuba/internal/metadata"
	"github.com/cuba/cuba/internal/planner"
	"github.com/cuba/cuba/internal/run"
	"github.com/cuba/cuba/internal/walker"
	"github.com/cuba/cuba/internal/worker"
	"github.com/cuba/cuba/pkg/message"
)

// Backup walks deps.Source, classifies each entry against the profile's
// metadata, uploads new or changed content, marks source files gone since
// the last run as Missing, and persists the updated metadata document
// (spec §4.8).
func Backup(ctx context.Context, deps Deps) (*run.Result, error) {
	deps.Handle.SetState(run.StatePreparing)

	store, err := metadata.Load(ctx, deps.Dest, deps.ProfileName)
	if err != nil {
		deps.Handle.SetState(run.StateFailed)
		return resultFor(deps.Handle, nil, err), err
	}

	deps.Handle.SetState(run.StatePlanning)
	deps.progress(message.PhasePlanning)

	rawEntries, walkErrs := walker.Walk(ctx, deps.Source, "", deps.Profile.Include, deps.Profile.Exclude, deps.Sink)

	seen := make(map[string]struct{})
	trackedEntries := trackSeen(ctx, rawEntries, seen)

	openSource := func(ctx context.Context, relPath string) (io.ReadCloser, error) {
		return deps.Source.OpenRead(ctx, relPath)
	}
	items := planner.Plan(ctx, trackedEntries, store, deps.Detector, deps.Profile.StrictChangeDetection, openSource)

	deps.Handle.SetState(run.StateRunning)
	deps.progress(message.PhaseRunning)

	pool := worker.NewPool(worker.Config{
		Source:      deps.Source,
		Dest:        deps.Dest,
		Detector:    deps.Detector,
		Transform:   deps.transformSpec(),
		Passwords:   deps.Passwords,
		Store:       store,
		Handle:      deps.Handle,
		Sink:        deps.Sink,
		Profile:     deps.ProfileName,
		Concurrency: deps.Concurrency,
	})
	fileErrors := pool.Run(ctx, items)

	if walkErr := <-walkErrs; walkErr != nil {
		deps.Handle.SetState(run.StateFailed)
		return resultFor(deps.Handle, fileErrors, walkErr), walkErr
	}

	if !deps.Handle.Cancelled() {
		for _, missing := range planner.MissingWorkItems(store, seen) {
			store.MarkMissing(missing.RelPath)
		}
	}

	deps.Handle.SetState(run.StateFinalizing)
	deps.progress(message.PhaseFinalizing)

	if err := store.Persist(ctx, deps.Dest, deps.ProfileName); err != nil {
		deps.Handle.SetState(run.StateFailed)
		return resultFor(deps.Handle, fileErrors, err), err
	}

	deps.Handle.SetState(finalState(deps.Handle))
	deps.progress(message.PhaseDone)
	return resultFor(deps.Handle, fileErrors, nil), nil
}

// trackSeen forwards entries unchanged, recording each one's RelPath into
// seen before it reaches the planner. The write happens-before the forward
// on the same goroutine, and the forward's channel send happens-before any
// downstream read, so callers may safely read seen once they know every
// entry has been consumed (e.g. after the worker pool drains the planner's
// output channel). The forward is ctx-aware so a cancelled run can't leave
// this goroutine blocked sending to a planner that has stopped reading.
func trackSeen(ctx context.Context, in <-chan walker.Entry, seen map[string]struct{}) <-chan walker.Entry {
	out := make(chan walker.Entry)
	go func() {
		defer close(out)
		for e := range in {
			seen[e.RelPath] = struct{}{}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
