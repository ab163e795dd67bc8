// Package metadata implements cuba's per-profile metadata store: the
// single guarded map of file entries that drives change detection, backs
// restore/verify, and records what clean may safely remove (spec §4.6).
//
// A single sync.RWMutex guards the whole document rather than locking
// per entry — at the scale of one profile's file tree, fine-grained
// locking buys nothing and complicates persist (spec §9 design note).
package metadata

import (
	"context"
	"encoding/json"
	stderr "errors"
	"sort"
	"sync"
	"time"

	"github.com/cuba/cuba/internal/filesystem"
	"github.com/cuba/cuba/pkg/errors"
)

const (
	// StatePresent marks an entry whose destination object is known good.
	StatePresent = "Present"
	// StateStale marks an entry whose destination object is present but no
	// longer trusted to match the recorded hash (spec §3 state tag). No
	// operation in this module sets it: Verify reports mismatches as file
	// errors without changing entry state.
	StateStale = "Stale"
	// StateMissing marks an entry whose source file has disappeared.
	StateMissing = "Missing"

	schemaVersion = 1
)

// Entry is one file's recorded state under a profile (spec §3).
type Entry struct {
	Size        int64     `json:"size"`
	MTime       time.Time `json:"mtime"`
	Hash        string    `json:"hash"`
	Transform   string    `json:"transform"`
	Object      string    `json:"object"`
	ObjectSize  int64     `json:"object_size"`
	State       string    `json:"state"`
	LastSuccess time.Time `json:"last_success"`
}

// document is the on-disk shape, marshaled with sorted entry keys. Go's
// encoding/json already serializes map[string]T keys in sorted order, so
// no custom key-ordering wrapper is needed (spec §6: "serialized with
// sorted entry keys for reproducibility").
type document struct {
	SchemaVersion int              `json:"schema_version"`
	Profile       string           `json:"profile"`
	CreatedAt     time.Time        `json:"created_at"`
	LastRunAt     time.Time        `json:"last_run_at"`
	Entries       map[string]Entry `json:"entries"`
}

// Store holds one profile's metadata document in memory, guarded for
// concurrent access by worker goroutines.
type Store struct {
	mu    sync.RWMutex
	doc   document
	dirty bool
}

// ObjectPath returns the metadata document's object name for profile, so
// callers that list raw destination objects (clean's orphan scan) can
// exclude it without duplicating the naming convention.
func ObjectPath(profile string) string {
	return profile + ".cuba.json"
}

// Load reads the metadata document for profile from fs, or initializes an
// empty one if none exists yet (spec §3 lifecycle: "loaded, or initialized
// empty, at run start").
func Load(ctx context.Context, fs filesystem.Filesystem, profile string) (*Store, error) {
	r, err := fs.OpenRead(ctx, ObjectPath(profile))
	if err != nil {
		if stderr.Is(err, filesystem.ErrNotExist) {
			return &Store{doc: document{
				SchemaVersion: schemaVersion,
				Profile:       profile,
				CreatedAt:     time.Now().UTC(),
				Entries:       make(map[string]Entry),
			}}, nil
		}
		return nil, err
	}
	defer r.Close()

	var doc document
	if decErr := json.NewDecoder(r).Decode(&doc); decErr != nil {
		return nil, errors.New(errors.KindIntegrity, "failed to decode metadata document").WithCause(decErr).WithProfile(profile).WithComponent("metadata")
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]Entry)
	}
	return &Store{doc: doc}, nil
}

// Get returns the entry recorded at path, if any.
func (s *Store) Get(path string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.doc.Entries[path]
	return e, ok
}

// Upsert records or replaces the entry at path.
func (s *Store) Upsert(path string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Entries[path] = entry
	s.dirty = true
}

// MarkMissing tags path's entry Missing without deleting it, preserving
// its history until clean's grace period removes it (spec §4.8 clean).
func (s *Store) MarkMissing(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.doc.Entries[path]
	if !ok || e.State == StateMissing {
		return
	}
	e.State = StateMissing
	s.doc.Entries[path] = e
	s.dirty = true
}

// Remove deletes path's entry outright.
func (s *Store) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Entries[path]; !ok {
		return
	}
	delete(s.doc.Entries, path)
	s.dirty = true
}

// Snapshot returns a consistent, independently-mutable copy of all
// entries keyed by relative path.
func (s *Store) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.doc.Entries))
	for k, v := range s.doc.Entries {
		out[k] = v
	}
	return out
}

// Paths returns all recorded relative paths in sorted order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.doc.Entries))
	for k := range s.doc.Entries {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

// Dirty reports whether any mutation has occurred since Load.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Persist writes the document to `<profile>.cuba.json` via a temp-then-
// finalize write through fs, and is a no-op if no mutation occurred since
// Load (spec §4.6: "if no mutations occurred, persist is a no-op").
func (s *Store) Persist(ctx context.Context, fs filesystem.Filesystem, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	s.doc.Profile = profile
	s.doc.SchemaVersion = schemaVersion
	s.doc.LastRunAt = time.Now().UTC()
	if s.doc.CreatedAt.IsZero() {
		s.doc.CreatedAt = s.doc.LastRunAt
	}

	path := ObjectPath(profile)
	handle, err := fs.OpenWriteTemp(ctx, path)
	if err != nil {
		return errors.New(errors.KindIO, "failed to open metadata temp object").WithCause(err).WithProfile(profile).WithComponent("metadata")
	}

	enc := json.NewEncoder(handle)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(s.doc); encErr != nil {
		_ = fs.Abort(ctx, handle)
		return errors.New(errors.KindIO, "failed to encode metadata document").WithCause(encErr).WithProfile(profile).WithComponent("metadata")
	}
	if closeErr := handle.Close(); closeErr != nil {
		_ = fs.Abort(ctx, handle)
		return errors.New(errors.KindIO, "failed to flush metadata temp object").WithCause(closeErr).WithProfile(profile).WithComponent("metadata")
	}

	if err := fs.Finalize(ctx, handle); err != nil {
		return errors.New(errors.KindIO, "failed to finalize metadata document").WithCause(err).WithProfile(profile).WithComponent("metadata")
	}

	s.dirty = false
	return nil
}
