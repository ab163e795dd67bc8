// Package walker enumerates a profile's source tree lazily, directory at
// a time, applying include/exclude glob patterns and following symbolic
// links only when they stay inside the configured root (spec §4.2).
package walker

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/cuba/cuba/internal/filesystem"
	"github.com/cuba/cuba/pkg/message"
)

// Entry is one file discovered under the source root. RelPath is where
// the file appears in the walked tree (following the link's own name
// when reached through a symlink, not the link's target name). Info
// reflects the target of a followed symlink, not the link itself.
type Entry struct {
	RelPath string
	Info    filesystem.FileInfo
}

// Walk enumerates root lazily over two channels: entries, closed when the
// walk completes, and errs, which carries at most one fatal walk-level
// error (a directory that failed to list). Excluded paths are skipped
// without a message. Per-path warnings (a link escaping the root, an
// unreadable link target, a link cycle) are sent to sink rather
// than treated as fatal, per spec §4.2 ("skipped with a warning").
func Walk(ctx context.Context, fs filesystem.Filesystem, root string, includes, excludes []string, sink message.Sink) (<-chan Entry, <-chan error) {
	entries := make(chan Entry)
	errs := make(chan error, 1)

	root = strings.Trim(path.Clean(filepath.ToSlash(root)), "/")
	if root == "." {
		root = ""
	}

	go func() {
		defer close(entries)
		defer close(errs)

		w := &walk{fs: fs, root: root, includes: includes, excludes: excludes, sink: sink, entries: entries}
		if err := w.dir(ctx, root, "", []string{""}); err != nil {
			errs <- err
		}
	}()

	return entries, errs
}

type walk struct {
	fs       filesystem.Filesystem
	root     string
	includes []string
	excludes []string
	sink     message.Sink
	entries  chan<- Entry
}

// rel strips the configured root prefix from a driver-relative path,
// giving the root-relative path used to identify real (non-symlinked)
// locations, for cycle detection and driver calls via fsPath.
func (w *walk) rel(fsPath string) string {
	if w.root == "" {
		return fsPath
	}
	return strings.TrimPrefix(strings.TrimPrefix(fsPath, w.root), "/")
}

// fsPath is rel's inverse: it re-attaches the configured root prefix to a
// root-relative path, for driver calls (List/Stat).
func (w *walk) fsPath(relPath string) string {
	if w.root == "" {
		return relPath
	}
	if relPath == "" {
		return w.root
	}
	return w.root + "/" + relPath
}

// dir lists fsDir (the driver path to actually read) and recurses.
// displayDir is where the walk currently is in the reported tree: it
// equals fsDir's root-relative form except while inside a followed
// directory symlink, where it keeps the link's own name instead of the
// target's real name. ancestors is the stack of real (root-relative,
// symlink-resolved) directory paths currently open, used to detect a
// symlink cycle pointing back at an ancestor.
func (w *walk) dir(ctx context.Context, fsDir, displayDir string, ancestors []string) error {
	if ctx.Err() != nil {
		return nil
	}

	children, err := w.fs.List(ctx, fsDir)
	if err != nil {
		return err
	}

	for _, child := range children {
		if ctx.Err() != nil {
			return nil
		}

		displayPath := joinRel(displayDir, child.Name)
		if !included(displayPath, w.includes, w.excludes) {
			continue
		}

		fsChildPath := joinRel(fsDir, child.Name)
		info := child

		if child.IsSymlink {
			resolvedRel, ok := w.resolveLink(displayPath, child.LinkTarget)
			if !ok {
				continue
			}
			resolvedFS := w.fsPath(resolvedRel)
			target, statErr := w.fs.Stat(ctx, resolvedFS)
			if statErr != nil {
				w.warn(displayPath, "symlink target is not readable: "+statErr.Error())
				continue
			}
			if target.IsDir {
				if isAncestor(ancestors, resolvedRel) {
					w.warn(displayPath, "symlink cycle detected, skipping")
					continue
				}
				if err := w.dir(ctx, resolvedFS, displayPath, append(ancestors, resolvedRel)); err != nil {
					return err
				}
				continue
			}
			info = target
		} else if child.IsDir {
			if err := w.dir(ctx, fsChildPath, displayPath, append(ancestors, w.rel(fsChildPath))); err != nil {
				return err
			}
			continue
		}

		select {
		case w.entries <- Entry{RelPath: displayPath, Info: info}:
		case <-ctx.Done():
			return nil
		}
	}

	return nil
}

// resolveLink turns a driver-reported LinkTarget (already root-relative,
// "." meaning root itself, or "" meaning the driver could not prove the
// target stays under root) into the real root-relative path to read
// (spec §4.2: "links escaping the root are skipped").
func (w *walk) resolveLink(displayPath, target string) (string, bool) {
	if target == "" {
		w.warn(displayPath, "symlink target could not be resolved under root, treated as escaping")
		return "", false
	}
	if target == "." {
		return "", true
	}
	return target, true
}

func isAncestor(ancestors []string, resolved string) bool {
	for _, a := range ancestors {
		if a == resolved {
			return true
		}
	}
	return false
}

func (w *walk) warn(relPath, text string) {
	if w.sink == nil {
		return
	}
	w.sink.Send(message.LogMessage(message.Log{
		Level: message.LevelWarn,
		Text:  relPath + ": " + text,
	}))
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// included reports whether relPath survives the include/exclude pattern
// pair: inclusion defaults to true, exclusion wins on conflict (spec
// §4.2). Patterns are matched with path.Match against the full relative
// path and against its base name, covering both "dir/*.log"-style and
// "*.log"-style patterns.
func included(relPath string, includes, excludes []string) bool {
	if matchesAny(relPath, excludes) {
		return false
	}
	if len(includes) == 0 {
		return true
	}
	return matchesAny(relPath, includes)
}

func matchesAny(relPath string, patterns []string) bool {
	base := path.Base(relPath)
	for _, p := range patterns {
		if ok, _ := path.Match(p, relPath); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}
