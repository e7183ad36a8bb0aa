package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shortsfs/shortsfs/internal/models"
	"github.com/shortsfs/shortsfs/internal/pkg/kerrors"
	"github.com/shortsfs/shortsfs/internal/repository"
)

func newService(t *testing.T) FileSystemService {
	t.Helper()

	inodes := repository.NewInodeTable(0, 1000, 1000)
	dirs := repository.NewDirectoryIndex(0)
	resolver := repository.NewPathResolver(inodes, dirs)
	content, err := repository.NewContentStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewContentStore: %v", err)
	}

	return NewFileSystemService(inodes, dirs, resolver, content, 1000, 1000)
}

func wantKind(t *testing.T, err error, want kerrors.Kind) {
	t.Helper()
	kind, ok := kerrors.KindOf(err)
	if !ok {
		t.Fatalf("error %v carries no kind, want %v", err, want)
	}
	if kind != want {
		t.Fatalf("error kind = %v, want %v", kind, want)
	}
}

func mustCreate(t *testing.T, svc FileSystemService, path string) uint64 {
	t.Helper()
	ino, err := svc.Create(context.Background(), path, 0o644)
	if err != nil {
		t.Fatalf("Create(%q): %v", path, err)
	}
	return ino
}

func mustMkdir(t *testing.T, svc FileSystemService, path string) {
	t.Helper()
	if err := svc.Mkdir(context.Background(), path, 0o755); err != nil {
		t.Fatalf("Mkdir(%q): %v", path, err)
	}
}

func TestGetAttr_Root(t *testing.T) {
	svc := newService(t)

	attrs, err := svc.GetAttr(context.Background(), "/")
	if err != nil {
		t.Fatalf("GetAttr(/) error = %v", err)
	}
	if attrs.Ino != models.RootIno {
		t.Errorf("root ino = %d, want %d", attrs.Ino, models.RootIno)
	}
	if attrs.Kind != models.KindDir {
		t.Error("root is not a directory")
	}
	if attrs.Size != models.DirSize {
		t.Errorf("root size = %d, want %d", attrs.Size, models.DirSize)
	}
	if attrs.Nlink != 2 {
		t.Errorf("root nlink = %d, want 2", attrs.Nlink)
	}
}

func TestCreate_NewFileAttrs(t *testing.T) {
	svc := newService(t)
	ino := mustCreate(t, svc, "/a.txt")

	attrs, err := svc.GetAttr(context.Background(), "/a.txt")
	if err != nil {
		t.Fatalf("GetAttr error = %v", err)
	}
	if attrs.Ino != ino {
		t.Errorf("ino = %d, want %d", attrs.Ino, ino)
	}
	if attrs.Kind != models.KindFile {
		t.Error("created entry is not a file")
	}
	if attrs.Size != 0 {
		t.Errorf("new file size = %d, want 0", attrs.Size)
	}
	if attrs.Nlink != 1 {
		t.Errorf("file nlink = %d, want 1", attrs.Nlink)
	}
}

func TestCreate_Errors(t *testing.T) {
	svc := newService(t)
	mustCreate(t, svc, "/a.txt")
	mustMkdir(t, svc, "/dir")

	tests := []struct {
		name     string
		path     string
		wantKind kerrors.Kind
	}{
		{name: "already exists", path: "/a.txt", wantKind: kerrors.AlreadyExists},
		{name: "existing directory name", path: "/dir", wantKind: kerrors.AlreadyExists},
		{name: "missing parent", path: "/nope/b.txt", wantKind: kerrors.NotFound},
		{name: "file as parent", path: "/a.txt/b.txt", wantKind: kerrors.NotADirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.path, 0o644)
			wantKind(t, err, tt.wantKind)
		})
	}
}

func TestMkdir_Twice(t *testing.T) {
	svc := newService(t)
	mustMkdir(t, svc, "/dir")

	wantKind(t, svc.Mkdir(context.Background(), "/dir", 0o755), kerrors.AlreadyExists)
}

func TestOpen_Modes(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	ino := mustCreate(t, svc, "/a.txt")
	mustMkdir(t, svc, "/dir")

	got, err := svc.Open(ctx, "/a.txt", false, false)
	if err != nil {
		t.Fatalf("Open read-only error = %v", err)
	}
	if got != ino {
		t.Errorf("handle = %d, want %d", got, ino)
	}

	if _, err := svc.Open(ctx, "/a.txt", true, true); err != nil {
		t.Errorf("Open append error = %v", err)
	}

	_, err = svc.Open(ctx, "/a.txt", true, false)
	wantKind(t, err, kerrors.PermissionDenied)

	_, err = svc.Open(ctx, "/dir", false, false)
	wantKind(t, err, kerrors.IsADirectory)

	_, err = svc.Open(ctx, "/missing", false, false)
	wantKind(t, err, kerrors.NotFound)
}

func TestWrite_AppendGrowsFile(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, "/a.txt")

	h, err := svc.Open(ctx, "/a.txt", true, true)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}

	n, err := svc.Write(ctx, h, []byte("Hello"), 0)
	if err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if n != 5 {
		t.Errorf("Write returned %d, want 5", n)
	}

	if n, err = svc.Write(ctx, h, []byte(" World"), 5); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if n != 6 {
		t.Errorf("Write returned %d, want 6", n)
	}

	attrs, err := svc.GetAttr(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("GetAttr error = %v", err)
	}
	if attrs.Size != 11 {
		t.Errorf("size = %d, want 11", attrs.Size)
	}

	data, err := svc.Read(ctx, h, 11, 0)
	if err != nil {
		t.Fatalf("Read error = %v", err)
	}
	if string(data) != "Hello World" {
		t.Errorf("Read = %q, want %q", data, "Hello World")
	}
}

func TestWrite_BelowEndRejected(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, "/a.txt")

	h, err := svc.Open(ctx, "/a.txt", true, true)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	if _, err := svc.Write(ctx, h, []byte("Hello"), 0); err != nil {
		t.Fatalf("Write error = %v", err)
	}

	_, err = svc.Write(ctx, h, []byte("xxx"), 2)
	wantKind(t, err, kerrors.PermissionDenied)

	attrs, err := svc.GetAttr(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("GetAttr error = %v", err)
	}
	if attrs.Size != 5 {
		t.Errorf("size changed after rejected write: %d, want 5", attrs.Size)
	}
	data, err := svc.Read(ctx, h, 100, 0)
	if err != nil {
		t.Fatalf("Read error = %v", err)
	}
	if string(data) != "Hello" {
		t.Errorf("content changed after rejected write: %q", data)
	}
}

func TestWrite_GapZeroFilled(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, "/a.txt")

	h, err := svc.Open(ctx, "/a.txt", true, true)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	if _, err := svc.Write(ctx, h, []byte("ab"), 0); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if _, err := svc.Write(ctx, h, []byte("end"), 100); err != nil {
		t.Fatalf("Write error = %v", err)
	}

	attrs, err := svc.GetAttr(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("GetAttr error = %v", err)
	}
	if attrs.Size != 103 {
		t.Errorf("size = %d, want 103", attrs.Size)
	}

	data, err := svc.Read(ctx, h, 103, 0)
	if err != nil {
		t.Fatalf("Read error = %v", err)
	}
	want := append([]byte("ab"), make([]byte, 98)...)
	want = append(want, []byte("end")...)
	if !bytes.Equal(data, want) {
		t.Error("gap is not zero-filled")
	}
}

func TestRead_ClampedAndPastEnd(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, "/a.txt")

	h, err := svc.Open(ctx, "/a.txt", true, true)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	if _, err := svc.Write(ctx, h, []byte("Hello"), 0); err != nil {
		t.Fatalf("Write error = %v", err)
	}

	data, err := svc.Read(ctx, h, 100, 3)
	if err != nil {
		t.Fatalf("Read error = %v", err)
	}
	if string(data) != "lo" {
		t.Errorf("Read = %q, want %q", data, "lo")
	}

	data, err = svc.Read(ctx, h, 10, 42)
	if err != nil {
		t.Fatalf("Read past end error = %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Read past end returned %d bytes, want 0", len(data))
	}
}

func TestReadDir_DotEntriesAndOrder(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustMkdir(t, svc, "/dir")
	mustCreate(t, svc, "/dir/zeta")
	mustCreate(t, svc, "/dir/alpha")
	mustMkdir(t, svc, "/dir/mid")

	entries, err := svc.ReadDir(ctx, "/dir")
	if err != nil {
		t.Fatalf("ReadDir error = %v", err)
	}

	want := []string{".", "..", "alpha", "mid", "zeta"}
	if len(entries) != len(want) {
		t.Fatalf("ReadDir returned %d entries, want %d", len(entries), len(want))
	}
	for i, name := range want {
		if entries[i].Name != name {
			t.Errorf("entries[%d].Name = %q, want %q", i, entries[i].Name, name)
		}
	}
	if !entries[3].IsDir {
		t.Error("mid is not marked as a directory")
	}

	_, err = svc.ReadDir(ctx, "/dir/alpha")
	wantKind(t, err, kerrors.NotADirectory)
}

func TestRmdir(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustMkdir(t, svc, "/dir")
	mustCreate(t, svc, "/dir/a.txt")
	mustCreate(t, svc, "/file")

	wantKind(t, svc.Rmdir(ctx, "/"), kerrors.Busy)
	wantKind(t, svc.Rmdir(ctx, "/dir"), kerrors.NotEmpty)
	wantKind(t, svc.Rmdir(ctx, "/file"), kerrors.NotADirectory)
	wantKind(t, svc.Rmdir(ctx, "/missing"), kerrors.NotFound)

	if err := svc.Unlink(ctx, "/dir/a.txt"); err != nil {
		t.Fatalf("Unlink error = %v", err)
	}
	if err := svc.Rmdir(ctx, "/dir"); err != nil {
		t.Fatalf("Rmdir error = %v", err)
	}

	_, err := svc.GetAttr(ctx, "/dir")
	wantKind(t, err, kerrors.NotFound)
}

func TestUnlink(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, "/a.txt")
	mustMkdir(t, svc, "/dir")

	wantKind(t, svc.Unlink(ctx, "/dir"), kerrors.IsADirectory)
	wantKind(t, svc.Unlink(ctx, "/missing"), kerrors.NotFound)

	if err := svc.Unlink(ctx, "/a.txt"); err != nil {
		t.Fatalf("Unlink error = %v", err)
	}
	_, err := svc.GetAttr(ctx, "/a.txt")
	wantKind(t, err, kerrors.NotFound)

	// The name can be created again.
	mustCreate(t, svc, "/a.txt")
}

func TestRename_MoveAndContent(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustMkdir(t, svc, "/src")
	mustMkdir(t, svc, "/dst")
	mustCreate(t, svc, "/src/a.txt")

	h, err := svc.Open(ctx, "/src/a.txt", true, true)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	if _, err := svc.Write(ctx, h, []byte("payload"), 0); err != nil {
		t.Fatalf("Write error = %v", err)
	}

	if err := svc.Rename(ctx, "/src/a.txt", "/dst/b.txt"); err != nil {
		t.Fatalf("Rename error = %v", err)
	}

	_, err = svc.GetAttr(ctx, "/src/a.txt")
	wantKind(t, err, kerrors.NotFound)

	attrs, err := svc.GetAttr(ctx, "/dst/b.txt")
	if err != nil {
		t.Fatalf("GetAttr after rename error = %v", err)
	}
	if attrs.Size != 7 {
		t.Errorf("size after rename = %d, want 7", attrs.Size)
	}

	h2, err := svc.Open(ctx, "/dst/b.txt", false, false)
	if err != nil {
		t.Fatalf("Open after rename error = %v", err)
	}
	data, err := svc.Read(ctx, h2, 7, 0)
	if err != nil {
		t.Fatalf("Read after rename error = %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("content after rename = %q, want %q", data, "payload")
	}
}

func TestRename_Errors(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, "/a.txt")
	mustCreate(t, svc, "/b.txt")

	tests := []struct {
		name     string
		from, to string
		wantKind kerrors.Kind
	}{
		{name: "rename root", from: "/", to: "/other", wantKind: kerrors.Busy},
		{name: "missing source", from: "/missing", to: "/c.txt", wantKind: kerrors.NotFound},
		{name: "destination exists", from: "/a.txt", to: "/b.txt", wantKind: kerrors.AlreadyExists},
		{name: "missing destination parent", from: "/a.txt", to: "/nope/c.txt", wantKind: kerrors.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantKind(t, svc.Rename(ctx, tt.from, tt.to), tt.wantKind)
		})
	}

	// Failed renames leave the source in place.
	if _, err := svc.GetAttr(ctx, "/a.txt"); err != nil {
		t.Errorf("source gone after failed rename: %v", err)
	}
}

func TestRename_IntoOwnSubtreeRejected(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustMkdir(t, svc, "/d")
	mustMkdir(t, svc, "/d/sub")
	mustCreate(t, svc, "/d/keep.txt")

	wantKind(t, svc.Rename(ctx, "/d", "/d/x"), kerrors.PermissionDenied)
	wantKind(t, svc.Rename(ctx, "/d", "/d/sub/x"), kerrors.PermissionDenied)

	// The directory and its contents stay reachable from the root.
	if _, err := svc.GetAttr(ctx, "/d/keep.txt"); err != nil {
		t.Errorf("subtree unreachable after rejected rename: %v", err)
	}
	entries, err := svc.ReadDir(ctx, "/")
	if err != nil {
		t.Fatalf("ReadDir error = %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Name == "d" {
			found = true
		}
	}
	if !found {
		t.Error("root no longer lists the directory after rejected rename")
	}

	// A sibling name that merely shares the prefix is fine.
	if err := svc.Rename(ctx, "/d", "/dx"); err != nil {
		t.Errorf("Rename to prefix-sharing sibling error = %v", err)
	}
}

func TestRename_ToSelfIsNoOp(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, "/a.txt")

	if err := svc.Rename(ctx, "/a.txt", "/a.txt"); err != nil {
		t.Fatalf("Rename to self error = %v", err)
	}
	if _, err := svc.GetAttr(ctx, "/a.txt"); err != nil {
		t.Errorf("entry gone after rename to self: %v", err)
	}

	wantKind(t, svc.Rename(ctx, "/missing", "/missing"), kerrors.NotFound)
}

func TestRename_WithinFullDirectory(t *testing.T) {
	inodes := repository.NewInodeTable(0, 1000, 1000)
	dirs := repository.NewDirectoryIndex(2)
	resolver := repository.NewPathResolver(inodes, dirs)
	content, err := repository.NewContentStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewContentStore: %v", err)
	}
	svc := NewFileSystemService(inodes, dirs, resolver, content, 1000, 1000)

	ctx := context.Background()
	mustCreate(t, svc, "/a.txt")
	mustCreate(t, svc, "/b.txt")

	// Root is at capacity, but the source slot frees up within it.
	if err := svc.Rename(ctx, "/a.txt", "/c.txt"); err != nil {
		t.Fatalf("Rename within full directory error = %v", err)
	}
	if _, err := svc.GetAttr(ctx, "/c.txt"); err != nil {
		t.Errorf("destination missing after rename: %v", err)
	}
}

func TestRename_IntoFullDirectoryRejected(t *testing.T) {
	inodes := repository.NewInodeTable(0, 1000, 1000)
	dirs := repository.NewDirectoryIndex(2)
	resolver := repository.NewPathResolver(inodes, dirs)
	content, err := repository.NewContentStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewContentStore: %v", err)
	}
	svc := NewFileSystemService(inodes, dirs, resolver, content, 1000, 1000)

	ctx := context.Background()
	mustMkdir(t, svc, "/dir")
	mustCreate(t, svc, "/top.txt")
	mustCreate(t, svc, "/dir/a.txt")
	mustCreate(t, svc, "/dir/b.txt")

	wantKind(t, svc.Rename(ctx, "/top.txt", "/dir/c.txt"), kerrors.ResourceExhausted)

	// All-or-nothing: the source survives the failure.
	if _, err := svc.GetAttr(ctx, "/top.txt"); err != nil {
		t.Errorf("source gone after rejected rename: %v", err)
	}
}

func TestSetTimes(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, "/a.txt")

	before, err := svc.GetAttr(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("GetAttr error = %v", err)
	}

	fixed := before.Mtime.Add(-time.Hour)
	if err := svc.SetTimes(ctx, "/a.txt", models.SetTime(fixed), models.SetTime(fixed)); err != nil {
		t.Fatalf("SetTimes error = %v", err)
	}

	after, err := svc.GetAttr(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("GetAttr error = %v", err)
	}
	if !after.Atime.Equal(fixed) || !after.Mtime.Equal(fixed) {
		t.Errorf("times = (%v, %v), want both %v", after.Atime, after.Mtime, fixed)
	}
	if !after.Ctime.After(before.Ctime) && !after.Ctime.Equal(before.Ctime) {
		t.Error("ctime moved backwards")
	}

	// Omit leaves both untouched.
	if err := svc.SetTimes(ctx, "/a.txt", models.OmitTime(), models.OmitTime()); err != nil {
		t.Fatalf("SetTimes omit error = %v", err)
	}
	unchanged, err := svc.GetAttr(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("GetAttr error = %v", err)
	}
	if !unchanged.Atime.Equal(fixed) || !unchanged.Mtime.Equal(fixed) {
		t.Error("omit spec modified timestamps")
	}

	wantKind(t, svc.SetTimes(ctx, "/missing", models.NowTime(), models.NowTime()), kerrors.NotFound)
}

func TestCreate_RollbackOnFullDirectory(t *testing.T) {
	inodes := repository.NewInodeTable(0, 1000, 1000)
	dirs := repository.NewDirectoryIndex(1)
	resolver := repository.NewPathResolver(inodes, dirs)
	content, err := repository.NewContentStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewContentStore: %v", err)
	}
	svc := NewFileSystemService(inodes, dirs, resolver, content, 1000, 1000)

	ctx := context.Background()
	mustCreate(t, svc, "/a.txt")

	before := inodes.Len()
	_, err = svc.Create(ctx, "/b.txt", 0o644)
	wantKind(t, err, kerrors.ResourceExhausted)

	if inodes.Len() != before {
		t.Errorf("inode leaked on failed create: table has %d entries, want %d", inodes.Len(), before)
	}
}
