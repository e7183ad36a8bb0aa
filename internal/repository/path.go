package repository

import (
	"fmt"
	"strings"

	"github.com/shortsfs/shortsfs/internal/models"
	"github.com/shortsfs/shortsfs/internal/pkg/kerrors"
)

// PathResolver walks a slash-separated path from the root inode to the
// inode it names.
type PathResolver interface {
	Resolve(path string) (*models.Inode, error)
}

type pathResolver struct {
	inodes InodeTable
	dirs   DirectoryIndex
}

func NewPathResolver(inodes InodeTable, dirs DirectoryIndex) PathResolver {
	return &pathResolver{inodes: inodes, dirs: dirs}
}

func (r *pathResolver) Resolve(path string) (*models.Inode, error) {
	const op = "repository.pathResolver.Resolve"

	current := r.inodes.Root()

	for _, component := range strings.Split(path, "/") {
		if component == "" {
			continue
		}
		if !current.IsDir() {
			return nil, fmt.Errorf("%s: %w", op, kerrors.E(kerrors.NotADirectory, "not a directory"))
		}
		childIno, ok := r.dirs.Lookup(current, component)
		if !ok {
			return nil, fmt.Errorf("%s: %w", op, kerrors.E(kerrors.NotFound, "no such file or directory"))
		}
		child := r.inodes.Lookup(childIno)
		if child == nil {
			return nil, fmt.Errorf("%s: %w", op, kerrors.E(kerrors.NotFound, "no such file or directory"))
		}
		current = child
	}

	return current, nil
}

// SplitPath splits a full path into parent path and leaf name. The
// parent of a top-level entry is "/".
func SplitPath(path string) (parent, leaf string) {
	path = strings.TrimRight(path, "/")
	if path == "" {
		return "/", ""
	}

	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/", strings.TrimPrefix(path, "/")
	}
	return path[:idx], path[idx+1:]
}
