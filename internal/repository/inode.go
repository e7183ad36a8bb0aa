package repository

import (
	"fmt"
	"time"

	"github.com/shortsfs/shortsfs/internal/models"
	"github.com/shortsfs/shortsfs/internal/pkg/kerrors"
)

// InodeTable owns every inode record. It is not safe for concurrent use
// by itself; the filesystem engine serializes access with its own lock.
type InodeTable interface {
	// Allocate assigns the next unused inode number and initializes
	// metadata with timestamps set to now. Fails with ResourceExhausted
	// when the configured capacity is reached.
	Allocate(kind models.NodeKind, mode uint32, uid, gid uint32) (*models.Inode, error)
	// Lookup returns the inode or nil. It never fails.
	Lookup(ino uint64) *models.Inode
	// Free removes the record. Safe to call for an absent inode.
	Free(ino uint64)
	Root() *models.Inode
	Len() int
}

type inodeTable struct {
	inodes    map[uint64]*models.Inode
	nextIno   uint64
	maxInodes int
}

// NewInodeTable creates the table with the root directory already
// present as inode 1. maxInodes <= 0 means no quota.
func NewInodeTable(maxInodes int, uid, gid uint32) InodeTable {
	t := &inodeTable{
		inodes:    make(map[uint64]*models.Inode),
		nextIno:   models.RootIno,
		maxInodes: maxInodes,
	}

	now := time.Now()
	root := &models.Inode{
		Ino:      models.RootIno,
		Kind:     models.KindDir,
		Mode:     0o755,
		UID:      uid,
		GID:      gid,
		Size:     models.DirSize,
		Atime:    now,
		Mtime:    now,
		Ctime:    now,
		Children: make(map[string]uint64),
	}
	t.inodes[root.Ino] = root
	t.nextIno = models.RootIno + 1

	return t
}

func (t *inodeTable) Allocate(kind models.NodeKind, mode uint32, uid, gid uint32) (*models.Inode, error) {
	const op = "repository.inodeTable.Allocate"

	if t.maxInodes > 0 && len(t.inodes) >= t.maxInodes {
		return nil, fmt.Errorf("%s: %w", op, kerrors.E(kerrors.ResourceExhausted, "inode table is full"))
	}

	now := time.Now()
	inode := &models.Inode{
		Ino:   t.nextIno,
		Kind:  kind,
		Mode:  mode,
		UID:   uid,
		GID:   gid,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	if kind == models.KindDir {
		inode.Size = models.DirSize
		inode.Children = make(map[string]uint64)
	}

	t.inodes[inode.Ino] = inode
	t.nextIno++

	return inode, nil
}

func (t *inodeTable) Lookup(ino uint64) *models.Inode {
	return t.inodes[ino]
}

func (t *inodeTable) Free(ino uint64) {
	delete(t.inodes, ino)
}

func (t *inodeTable) Root() *models.Inode {
	return t.inodes[models.RootIno]
}

func (t *inodeTable) Len() int {
	return len(t.inodes)
}
