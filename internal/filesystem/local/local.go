// Package local implements an os-backed filesystem.Filesystem driver.
package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	cubafs "github.com/cuba/cuba/internal/filesystem"
	"github.com/cuba/cuba/pkg/errors"
)

// Driver is a filesystem.Filesystem rooted at a local directory. All paths
// passed to its methods are relative to Root.
type Driver struct {
	Root string
}

// New creates a local driver rooted at root.
func New(root string) *Driver {
	return &Driver{Root: root}
}

func (d *Driver) abs(relPath string) string {
	return filepath.Join(d.Root, filepath.FromSlash(relPath))
}

// OpenRead implements filesystem.Filesystem.
func (d *Driver) OpenRead(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(d.abs(path))
	if err != nil {
		return nil, wrapErr(err, path, "open")
	}
	return f, nil
}

// writeHandle is the local driver's WriteHandle: a *.partial file sitting
// next to its eventual final path.
type writeHandle struct {
	file      *os.File
	tempPath  string
	finalPath string
}

func (h *writeHandle) Write(p []byte) (int, error) { return h.file.Write(p) }
func (h *writeHandle) FinalPath() string           { return h.finalPath }

// Close flushes the temp file to stable storage before closing it, so a
// Finalize that follows never publishes bytes still sitting in the page
// cache.
func (h *writeHandle) Close() error {
	if err := h.file.Sync(); err != nil {
		_ = h.file.Close()
		return err
	}
	return h.file.Close()
}

// OpenWriteTemp implements filesystem.Filesystem.
func (d *Driver) OpenWriteTemp(_ context.Context, path string) (cubafs.WriteHandle, error) {
	finalAbs := d.abs(path)
	if err := os.MkdirAll(filepath.Dir(finalAbs), 0750); err != nil {
		return nil, errors.New(errors.KindIO, "failed to create parent directory").WithCause(err).WithPath(path).WithComponent("filesystem/local")
	}

	tempAbs := finalAbs + ".partial"
	f, err := os.OpenFile(tempAbs, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return nil, errors.New(errors.KindIO, "failed to open temp object").WithCause(err).WithPath(path).WithComponent("filesystem/local")
	}

	return &writeHandle{file: f, tempPath: tempAbs, finalPath: path}, nil
}

// Finalize implements filesystem.Filesystem: atomic rename temp -> final.
func (d *Driver) Finalize(_ context.Context, handle cubafs.WriteHandle) error {
	h, ok := handle.(*writeHandle)
	if !ok {
		return errors.New(errors.KindInternal, "finalize called with foreign write handle").WithComponent("filesystem/local")
	}
	if err := os.Rename(h.tempPath, d.abs(h.finalPath)); err != nil {
		return errors.New(errors.KindIO, "failed to finalize object").WithCause(err).WithPath(h.finalPath).WithComponent("filesystem/local")
	}
	return nil
}

// Abort implements filesystem.Filesystem: discard the temp object.
func (d *Driver) Abort(_ context.Context, handle cubafs.WriteHandle) error {
	h, ok := handle.(*writeHandle)
	if !ok {
		return errors.New(errors.KindInternal, "abort called with foreign write handle").WithComponent("filesystem/local")
	}
	if err := os.Remove(h.tempPath); err != nil && !os.IsNotExist(err) {
		return errors.New(errors.KindIO, "failed to remove temp object").WithCause(err).WithPath(h.finalPath).WithComponent("filesystem/local")
	}
	return nil
}

// Stat implements filesystem.Filesystem. It uses Lstat so a symbolic link
// is reported as a link rather than silently resolved, letting the walker
// apply the escapes-the-root check before ever following it.
func (d *Driver) Stat(_ context.Context, path string) (cubafs.FileInfo, error) {
	abs := d.abs(path)
	info, err := os.Lstat(abs)
	if err != nil {
		return cubafs.FileInfo{}, wrapErr(err, path, "stat")
	}
	return d.toFileInfoAt(abs, info), nil
}

// List implements filesystem.Filesystem.
func (d *Driver) List(_ context.Context, dir string) ([]cubafs.FileInfo, error) {
	absDir := d.abs(dir)
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, wrapErr(err, dir, "list")
	}

	infos := make([]cubafs.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, errors.New(errors.KindIO, "failed to stat directory entry").WithCause(err).WithPath(filepath.Join(dir, e.Name())).WithComponent("filesystem/local")
		}
		infos = append(infos, d.toFileInfoAt(filepath.Join(absDir, e.Name()), info))
	}
	return infos, nil
}

// Remove implements filesystem.Filesystem.
func (d *Driver) Remove(_ context.Context, path string) error {
	if err := os.Remove(d.abs(path)); err != nil && !os.IsNotExist(err) {
		return errors.New(errors.KindIO, "failed to remove object").WithCause(err).WithPath(path).WithComponent("filesystem/local")
	}
	return nil
}

// EnsureDir implements filesystem.Filesystem.
func (d *Driver) EnsureDir(_ context.Context, dir string) error {
	if err := os.MkdirAll(d.abs(dir), 0750); err != nil {
		return errors.New(errors.KindIO, "failed to create directory").WithCause(err).WithPath(dir).WithComponent("filesystem/local")
	}
	return nil
}

// toFileInfoAt builds a FileInfo for the entry at abs, resolving its link
// target via os.Readlink when info describes a symbolic link.
func (d *Driver) toFileInfoAt(abs string, info fs.FileInfo) cubafs.FileInfo {
	fi := cubafs.FileInfo{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
	if info.Mode()&os.ModeSymlink != 0 {
		fi.IsSymlink = true
		if target, err := os.Readlink(abs); err == nil {
			fi.LinkTarget = d.resolveSymlinkTarget(abs, target)
		}
	}
	return fi
}

// resolveSymlinkTarget expresses a symlink's target relative to d.Root
// using forward slashes, with "." denoting the root itself. It returns ""
// when the target cannot be proven to stay under Root — an absolute path
// elsewhere, or a relative path climbing above Root — so the walker can
// treat it as escaping without needing its own knowledge of Root.
func (d *Driver) resolveSymlinkTarget(linkAbs, target string) string {
	var candidateAbs string
	if filepath.IsAbs(target) {
		candidateAbs = filepath.Clean(target)
	} else {
		candidateAbs = filepath.Clean(filepath.Join(filepath.Dir(linkAbs), target))
	}

	rel, err := filepath.Rel(d.Root, candidateAbs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	if rel == "." {
		return "."
	}
	return filepath.ToSlash(rel)
}

func wrapErr(err error, path, op string) error {
	if os.IsNotExist(err) {
		return errors.New(errors.KindNotFound, "path does not exist").WithCause(err).WithPath(path).WithOperation(op).WithComponent("filesystem/local")
	}
	return errors.New(errors.KindIO, "local filesystem operation failed").WithCause(err).WithPath(path).WithOperation(op).WithComponent("filesystem/local").WithRetryable(true)
}
