package filesystem

import (
	"context"
	"io"
	"path"
	"strings"

	cerrors "github.com/cuba/cuba/pkg/errors"
	"github.com/cuba/cuba/pkg/utils"
)

// rooted scopes an underlying Filesystem to a subdirectory, joining root
// onto every path before delegating. It lets a single named filesystem
// (e.g. one WebDAV server) back multiple profiles, each confined to its
// own source_path/dest_path (spec §3 Profile), without every consumer
// package (walker, metadata, worker) needing its own root-prefix logic.
// utils.Confine does the actual containment check, rejecting any
// relative path that would climb back out of root via "..".
type rooted struct {
	inner Filesystem
	root  string
}

// Rooted wraps inner so that all paths passed through the returned
// Filesystem are resolved relative to root. An empty or "." root returns
// inner unwrapped.
func Rooted(inner Filesystem, root string) Filesystem {
	root = strings.Trim(path.Clean(root), "/")
	if root == "" || root == "." {
		return inner
	}
	return &rooted{inner: inner, root: root}
}

func (r *rooted) join(p string) (string, error) {
	joined, err := utils.Confine(r.root, p)
	if err != nil {
		return "", cerrors.New(cerrors.KindConfig, "path escapes profile root").WithCause(err).WithPath(p).WithComponent("filesystem/rooted")
	}
	return joined, nil
}

func (r *rooted) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	full, err := r.join(p)
	if err != nil {
		return nil, err
	}
	return r.inner.OpenRead(ctx, full)
}

func (r *rooted) OpenWriteTemp(ctx context.Context, p string) (WriteHandle, error) {
	full, err := r.join(p)
	if err != nil {
		return nil, err
	}
	return r.inner.OpenWriteTemp(ctx, full)
}

func (r *rooted) Finalize(ctx context.Context, handle WriteHandle) error {
	return r.inner.Finalize(ctx, handle)
}

func (r *rooted) Abort(ctx context.Context, handle WriteHandle) error {
	return r.inner.Abort(ctx, handle)
}

func (r *rooted) Stat(ctx context.Context, p string) (FileInfo, error) {
	full, err := r.join(p)
	if err != nil {
		return FileInfo{}, err
	}
	return r.inner.Stat(ctx, full)
}

func (r *rooted) List(ctx context.Context, dir string) ([]FileInfo, error) {
	full, err := r.join(dir)
	if err != nil {
		return nil, err
	}
	return r.inner.List(ctx, full)
}

func (r *rooted) Remove(ctx context.Context, p string) error {
	full, err := r.join(p)
	if err != nil {
		return err
	}
	return r.inner.Remove(ctx, full)
}

func (r *rooted) EnsureDir(ctx context.Context, dir string) error {
	full, err := r.join(dir)
	if err != nil {
		return err
	}
	return r.inner.EnsureDir(ctx, full)
}
