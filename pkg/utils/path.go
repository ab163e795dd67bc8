// Package utils confines cuba's internal relative paths — the
// slash-separated, OS-independent paths walker.Entry and
// filesystem.Rooted pass around — to a root, rejecting anything that
// would resolve outside it. cuba never shells out to path/filepath for
// these: profile-relative paths are a virtual domain of their own, kept
// forward-slash regardless of the host OS, so confinement here works
// on the "path" package rather than "path/filepath".
package utils

import (
	"path"
	"strings"

	"github.com/cuba/cuba/pkg/errors"
)

// Confine joins rel onto root and guarantees the result cannot resolve
// outside root, regardless of how many ".." segments rel contains. A
// leading slash on rel is treated the same as none (rel is always
// root-relative in cuba's path domain); root may be empty, meaning "no
// confinement beyond the virtual filesystem's own boundary."
func Confine(root, rel string) (string, error) {
	cleanRoot := strings.Trim(path.Clean(root), "/")
	if cleanRoot == "." {
		cleanRoot = ""
	}
	cleanRel := strings.TrimPrefix(rel, "/")

	if cleanRoot == "" {
		joined := path.Clean(cleanRel)
		if joined == "." {
			return "", nil
		}
		if joined == ".." || strings.HasPrefix(joined, "../") {
			return "", errors.New(errors.KindConfig, "path escapes its root").WithPath(rel).WithComponent("utils")
		}
		return joined, nil
	}

	joined := path.Clean(cleanRoot + "/" + cleanRel)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+"/") {
		return "", errors.New(errors.KindConfig, "path escapes its root").WithPath(rel).WithComponent("utils")
	}
	return joined, nil
}

// StripRoot removes root as a path prefix from full, returning the
// relative remainder with no leading slash, turning an
// absolute-within-the-filesystem path back into the relative form
// callers expect. If full does not have root as a prefix, full is
// returned unchanged (cleaned).
func StripRoot(root, full string) string {
	cleanRoot := strings.Trim(path.Clean(root), "/")
	if cleanRoot == "." {
		cleanRoot = ""
	}
	cleanFull := strings.TrimPrefix(path.Clean(full), "/")
	if cleanRoot == "" {
		return cleanFull
	}
	rel := strings.TrimPrefix(cleanFull, cleanRoot)
	return strings.TrimPrefix(rel, "/")
}
