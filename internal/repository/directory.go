package repository

import (
	"fmt"
	"sort"
	"time"

	"github.com/shortsfs/shortsfs/internal/models"
	"github.com/shortsfs/shortsfs/internal/pkg/kerrors"
)

// DirectoryIndex manages the name → child-inode entries embedded in a
// directory inode. Like InodeTable, callers are expected to hold the
// engine's metadata lock.
type DirectoryIndex interface {
	// Add inserts an entry and bumps the directory's mtime/ctime.
	Add(dir *models.Inode, name string, childIno uint64) error
	// Remove deletes the entry bound to name when its inode matches
	// expectedIno, bumping mtime/ctime.
	Remove(dir *models.Inode, name string, expectedIno uint64) error
	// Lookup returns the child inode bound to name.
	Lookup(dir *models.Inode, name string) (uint64, bool)
	// List returns the directory's entries sorted by name.
	List(dir *models.Inode) ([]models.DirEntry, error)
	// CanAdd reports whether Add would succeed, without mutating.
	CanAdd(dir *models.Inode, name string) error
}

type directoryIndex struct {
	maxChildren int
}

// NewDirectoryIndex builds the index. maxChildren <= 0 means directories
// have no entry quota.
func NewDirectoryIndex(maxChildren int) DirectoryIndex {
	return &directoryIndex{maxChildren: maxChildren}
}

func (d *directoryIndex) Add(dir *models.Inode, name string, childIno uint64) error {
	const op = "repository.directoryIndex.Add"

	if err := d.CanAdd(dir, name); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	dir.Children[name] = childIno

	now := time.Now()
	dir.Mtime = now
	dir.Ctime = now

	return nil
}

func (d *directoryIndex) CanAdd(dir *models.Inode, name string) error {
	if dir == nil || !dir.IsDir() {
		return kerrors.E(kerrors.NotADirectory, "not a directory")
	}
	if _, ok := dir.Children[name]; ok {
		return kerrors.E(kerrors.AlreadyExists, "entry already exists")
	}
	if d.maxChildren > 0 && len(dir.Children) >= d.maxChildren {
		return kerrors.E(kerrors.ResourceExhausted, "directory is full")
	}
	return nil
}

func (d *directoryIndex) Remove(dir *models.Inode, name string, expectedIno uint64) error {
	const op = "repository.directoryIndex.Remove"

	if dir == nil || !dir.IsDir() {
		return fmt.Errorf("%s: %w", op, kerrors.E(kerrors.NotADirectory, "not a directory"))
	}

	ino, ok := dir.Children[name]
	if !ok || ino != expectedIno {
		return fmt.Errorf("%s: %w", op, kerrors.E(kerrors.NotFound, "entry not found"))
	}

	delete(dir.Children, name)

	now := time.Now()
	dir.Mtime = now
	dir.Ctime = now

	return nil
}

func (d *directoryIndex) Lookup(dir *models.Inode, name string) (uint64, bool) {
	if dir == nil || !dir.IsDir() {
		return 0, false
	}
	ino, ok := dir.Children[name]
	return ino, ok
}

func (d *directoryIndex) List(dir *models.Inode) ([]models.DirEntry, error) {
	const op = "repository.directoryIndex.List"

	if dir == nil || !dir.IsDir() {
		return nil, fmt.Errorf("%s: %w", op, kerrors.E(kerrors.NotADirectory, "not a directory"))
	}

	entries := make([]models.DirEntry, 0, len(dir.Children))
	for name, ino := range dir.Children {
		entries = append(entries, models.DirEntry{Name: name, Ino: ino})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return entries, nil
}
