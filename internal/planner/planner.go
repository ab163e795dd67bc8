// Package planner classifies walked source entries against a profile's
// metadata document, turning a raw directory listing into the work items
// the worker pool and clean operation act on (spec §4.2).
package planner

import (
	"context"
	"io"

	"github.com/cuba/cuba/internal/hash"
	"github.com/cuba/cuba/internal/metadata"
	"github.com/cuba/cuba/internal/walker"
)

// Classification is the disposition the planner assigns a work item.
type Classification int

const (
	// Skip: source is unchanged, no action needed.
	Skip Classification = iota
	// Upload: source is new or changed, upload a new object.
	Upload
	// MarkMissing: the metadata entry's source file is gone.
	MarkMissing
	// Delete: a destination object is orphaned (clean only).
	Delete
)

func (c Classification) String() string {
	switch c {
	case Skip:
		return "Skip"
	case Upload:
		return "Upload"
	case MarkMissing:
		return "MarkMissing"
	case Delete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// WorkItem is one classified unit of work for the backup path. Hash is
// populated only when the fast path required it (size/mtime mismatch, or
// strict mode), so the worker pool can skip a redundant re-hash.
type WorkItem struct {
	RelPath        string
	Classification Classification
	Entry          walker.Entry
	PriorEntry     metadata.Entry
	HasPriorEntry  bool
	Hash           string
	HashKnown      bool
}

// OpenSource opens the source file at relPath for a forced hash
// comparison. It mirrors filesystem.Filesystem.OpenRead's signature so
// callers can pass that method directly.
type OpenSource func(ctx context.Context, relPath string) (io.ReadCloser, error)

// Plan consumes entries (typically walker.Walk's output channel) and
// classifies each one against store, emitting WorkItems on the returned
// channel. detector and openSource are used only when strict is set or a
// fast-path mismatch forces a hash comparison (spec §4.2/§4.3); either may
// be nil if the caller never needs that path, in which case a forced
// comparison degrades to an unconditional Upload. The channel closes once
// entries is drained.
func Plan(ctx context.Context, entries <-chan walker.Entry, store *metadata.Store, detector *hash.Detector, strict bool, openSource OpenSource) <-chan WorkItem {
	out := make(chan WorkItem)

	go func() {
		defer close(out)
		for e := range entries {
			select {
			case out <- classify(ctx, e, store, detector, strict, openSource):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// classify decides one entry's disposition without performing the actual
// upload; Orphans (below) handles the destination-side pass.
func classify(ctx context.Context, e walker.Entry, store *metadata.Store, detector *hash.Detector, strict bool, openSource OpenSource) WorkItem {
	prior, ok := store.Get(e.RelPath)
	item := WorkItem{RelPath: e.RelPath, Entry: e, PriorEntry: prior, HasPriorEntry: ok}

	if !ok {
		item.Classification = Upload
		return item
	}

	sizeMatches := prior.Size == e.Info.Size
	mtimeMatches := prior.MTime.Equal(e.Info.ModTime)

	if sizeMatches && mtimeMatches && !strict {
		item.Classification = Skip
		return item
	}

	// Either the fast path already disagrees, or strict mode demands a
	// hash comparison regardless; either way content must be re-read.
	if detector == nil || openSource == nil {
		item.Classification = Upload
		return item
	}

	r, err := openSource(ctx, e.RelPath)
	if err != nil {
		item.Classification = Upload
		return item
	}
	digest, _, hashErr := detector.HashReader(ctx, r)
	closeErr := r.Close()
	if hashErr != nil || closeErr != nil {
		item.Classification = Upload
		return item
	}

	item.Hash = digest
	item.HashKnown = true
	if digest == prior.Hash {
		item.Classification = Skip
		return item
	}
	item.Classification = Upload
	return item
}

// MissingWorkItems returns a MarkMissing WorkItem for every metadata
// entry whose relative path is absent from seen (spec §4.2 Missing
// classification): paths the walker did not encounter this run.
func MissingWorkItems(store *metadata.Store, seen map[string]struct{}) []WorkItem {
	var items []WorkItem
	for _, path := range store.Paths() {
		if _, ok := seen[path]; ok {
			continue
		}
		entry, _ := store.Get(path)
		if entry.State == metadata.StateMissing {
			continue
		}
		items = append(items, WorkItem{
			RelPath:        path,
			Classification: MarkMissing,
			PriorEntry:     entry,
			HasPriorEntry:  true,
		})
	}
	return items
}

// Orphans returns the destination object names present under objects
// that have no corresponding Present metadata entry (spec §4.8 clean,
// spec §4.2 Orphan classification).
func Orphans(store *metadata.Store, destObjects []string) []string {
	wanted := make(map[string]struct{})
	for _, path := range store.Paths() {
		entry, _ := store.Get(path)
		if entry.State == metadata.StatePresent {
			wanted[entry.Object] = struct{}{}
		}
	}

	var orphans []string
	for _, obj := range destObjects {
		if _, ok := wanted[obj]; !ok {
			orphans = append(orphans, obj)
		}
	}
	return orphans
}
