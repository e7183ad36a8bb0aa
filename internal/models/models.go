package models

import "time"

type NodeKind int16

const (
	KindDir  NodeKind = 0
	KindFile NodeKind = 1
)

// RootIno is the inode number of the filesystem root. It exists for the
// whole lifetime of the engine and is never removed.
const RootIno uint64 = 1

// DirSize is the canonical placeholder size reported for directories.
const DirSize int64 = 4096

// Inode is the in-memory record for one filesystem object. Children is
// populated for directories only and is always nil for regular files.
type Inode struct {
	Ino   uint64
	Kind  NodeKind
	Mode  uint32
	UID   uint32
	GID   uint32
	Size  int64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time

	Children map[string]uint64
}

func (i *Inode) IsDir() bool {
	return i.Kind == KindDir
}

// DirEntry is a (name, child inode) pair recorded inside a directory.
type DirEntry struct {
	Name string
	Ino  uint64
}

// Attrs is a point-in-time attribute snapshot returned by getattr.
type Attrs struct {
	Ino       uint64    `json:"ino"`
	Kind      NodeKind  `json:"kind"`
	Mode      uint32    `json:"mode"`
	Nlink     uint32    `json:"nlink"`
	UID       uint32    `json:"uid"`
	GID       uint32    `json:"gid"`
	Size      int64     `json:"size"`
	Blocks    int64     `json:"blocks"`
	BlockSize int32     `json:"block_size"`
	Atime     time.Time `json:"atime"`
	Mtime     time.Time `json:"mtime"`
	Ctime     time.Time `json:"ctime"`
}

// Dirent is one directory listing entry as exposed to the adapters.
type Dirent struct {
	Name  string    `json:"name"`
	Ino   uint64    `json:"ino"`
	IsDir bool      `json:"is_directory"`
	Size  int64     `json:"size"`
	Mtime time.Time `json:"mtime"`
}

// TimeSpecHow selects how a single timestamp is updated by utimens.
type TimeSpecHow int

const (
	TimeOmit TimeSpecHow = iota // leave the timestamp unchanged
	TimeNow                     // set the timestamp to "now"
	TimeSet                     // set the timestamp to an explicit value
)

type TimeSpec struct {
	How  TimeSpecHow
	Time time.Time
}

func OmitTime() TimeSpec           { return TimeSpec{How: TimeOmit} }
func NowTime() TimeSpec            { return TimeSpec{How: TimeNow} }
func SetTime(t time.Time) TimeSpec { return TimeSpec{How: TimeSet, Time: t} }
