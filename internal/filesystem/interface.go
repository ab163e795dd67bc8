// Package filesystem defines the capability set cuba's engine uses to read
// and write files, independent of where they live. Local and WebDAV drivers
// satisfy the same interface so the engine never changes when a driver is
// added (spec §9 design note: "adding a driver must not require changes to
// the engine").
package filesystem

import (
	"context"
	"io"
	"time"

	"github.com/cuba/cuba/pkg/errors"
)

// FileInfo is the subset of stat metadata the engine needs: enough to drive
// change detection and directory listing, nothing protocol-specific.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool

	// IsSymlink and LinkTarget describe a symbolic link (local driver
	// only; WebDAV has no protocol-level concept of a link, so these are
	// always zero for that driver). LinkTarget is expressed relative to
	// the driver's own root, with "." denoting the root itself and ""
	// meaning the driver could not prove the target stays under root.
	IsSymlink  bool
	LinkTarget string
}

// WriteHandle is an in-progress destination write. Callers write plaintext
// or transformed bytes to it, Close it to flush, then pass it to
// Filesystem.Finalize to atomically publish it at its final path (spec §9:
// "Atomic file finalization" via a `.partial` temp name).
type WriteHandle interface {
	io.Writer
	io.Closer

	// FinalPath is the path the object will have once finalized.
	FinalPath() string
}

// Filesystem is the capability set named in spec §4.7. Every operation takes
// a context so a driver can honor cancellation and per-call timeouts (spec
// §5: "Per-capability-call timeouts are owned by the filesystem driver").
type Filesystem interface {
	// OpenRead opens path for streaming read.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)

	// OpenWriteTemp opens a `.partial` temp object that will become path
	// once Finalize succeeds. The temp object must not be visible at path
	// until Finalize renames it.
	OpenWriteTemp(ctx context.Context, path string) (WriteHandle, error)

	// Finalize atomically publishes a closed WriteHandle at its FinalPath.
	// Implementations must leave no `.partial` object behind on success,
	// and must not partially publish on failure.
	Finalize(ctx context.Context, handle WriteHandle) error

	// Abort discards a WriteHandle's temp object without publishing it,
	// used for cleanup after a failed or cancelled job.
	Abort(ctx context.Context, handle WriteHandle) error

	// Stat returns metadata for path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns the direct children of dir (relative names, not full
	// paths).
	List(ctx context.Context, dir string) ([]FileInfo, error)

	// Remove deletes path. Removing a path that does not exist is not an
	// error.
	Remove(ctx context.Context, path string) error

	// EnsureDir creates dir and any missing parents.
	EnsureDir(ctx context.Context, dir string) error
}

// ErrNotExist is wrapped by driver-specific not-found errors so callers can
// use errors.Is(err, filesystem.ErrNotExist) without depending on a driver
// package.
var ErrNotExist = errors.New(errors.KindNotFound, "path does not exist")
