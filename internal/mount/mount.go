// Package mount is the kernel-facing front-end: a FUSE adapter that
// translates kernel callbacks into engine calls and engine error kinds
// into errnos. It holds no filesystem state of its own.
package mount

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	gopath "path"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/shortsfs/shortsfs/internal/models"
	"github.com/shortsfs/shortsfs/internal/pkg/kerrors"
	"github.com/shortsfs/shortsfs/internal/service"
	"github.com/shortsfs/shortsfs/pkg/logging"
)

// Serve mounts the filesystem at mountDir and serves kernel requests
// until ctx is cancelled or the filesystem is unmounted externally.
func Serve(ctx context.Context, mountDir string, svc service.FileSystemService) error {
	const op = "mount.Serve"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Info("Mounting filesystem", slog.String("dir", mountDir))

	conn, err := fuse.Mount(mountDir,
		fuse.FSName("shortsfs"),
		fuse.Subtype("shortsfs"),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = fuse.Unmount(mountDir)
	}()

	if err := fusefs.Serve(conn, &FS{svc: svc}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	logger.Info("Filesystem unmounted", slog.String("dir", mountDir))
	return nil
}

type FS struct {
	svc service.FileSystemService
}

var _ fusefs.FS = (*FS)(nil)

func (f *FS) Root() (fusefs.Node, error) {
	return &dirNode{svc: f.svc, path: "/"}, nil
}

// toErrno maps engine error kinds to kernel errnos.
func toErrno(err error) error {
	kind, ok := kerrors.KindOf(err)
	if !ok {
		return fuse.Errno(syscall.EIO)
	}

	switch kind {
	case kerrors.NotFound:
		return fuse.Errno(syscall.ENOENT)
	case kerrors.AlreadyExists:
		return fuse.Errno(syscall.EEXIST)
	case kerrors.NotADirectory:
		return fuse.Errno(syscall.ENOTDIR)
	case kerrors.IsADirectory:
		return fuse.Errno(syscall.EISDIR)
	case kerrors.NotEmpty:
		return fuse.Errno(syscall.ENOTEMPTY)
	case kerrors.Busy:
		return fuse.Errno(syscall.EBUSY)
	case kerrors.PermissionDenied:
		return fuse.Errno(syscall.EPERM)
	case kerrors.ResourceExhausted:
		return fuse.Errno(syscall.ENOSPC)
	case kerrors.OutOfMemory:
		return fuse.Errno(syscall.ENOMEM)
	default:
		return fuse.Errno(syscall.EIO)
	}
}

func fillAttr(attrs *models.Attrs, a *fuse.Attr) {
	a.Inode = attrs.Ino
	a.Size = uint64(attrs.Size)
	a.Blocks = uint64(attrs.Blocks)
	a.Atime = attrs.Atime
	a.Mtime = attrs.Mtime
	a.Ctime = attrs.Ctime
	a.Nlink = attrs.Nlink
	a.Uid = attrs.UID
	a.Gid = attrs.GID
	a.BlockSize = uint32(attrs.BlockSize)

	a.Mode = os.FileMode(attrs.Mode & 0o777)
	if attrs.Kind == models.KindDir {
		a.Mode |= os.ModeDir
	}
}

// dirNode is a directory seen by the kernel, identified by its path.
type dirNode struct {
	svc  service.FileSystemService
	path string
}

var (
	_ fusefs.Node               = (*dirNode)(nil)
	_ fusefs.NodeStringLookuper = (*dirNode)(nil)
	_ fusefs.HandleReadDirAller = (*dirNode)(nil)
	_ fusefs.NodeCreater        = (*dirNode)(nil)
	_ fusefs.NodeMkdirer        = (*dirNode)(nil)
	_ fusefs.NodeRemover        = (*dirNode)(nil)
	_ fusefs.NodeRenamer        = (*dirNode)(nil)
	_ fusefs.NodeSetattrer      = (*dirNode)(nil)
)

func (n *dirNode) child(name string) string {
	return gopath.Join(n.path, name)
}

func (n *dirNode) Attr(ctx context.Context, a *fuse.Attr) error {
	attrs, err := n.svc.GetAttr(ctx, n.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(attrs, a)
	return nil
}

func (n *dirNode) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	p := n.child(name)
	attrs, err := n.svc.GetAttr(ctx, p)
	if err != nil {
		return nil, toErrno(err)
	}
	if attrs.Kind == models.KindDir {
		return &dirNode{svc: n.svc, path: p}, nil
	}
	return &fileNode{svc: n.svc, path: p}, nil
}

func (n *dirNode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := n.svc.ReadDir(ctx, n.path)
	if err != nil {
		return nil, toErrno(err)
	}

	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		t := fuse.DT_File
		if e.IsDir {
			t = fuse.DT_Dir
		}
		dirents = append(dirents, fuse.Dirent{Inode: e.Ino, Type: t, Name: e.Name})
	}
	return dirents, nil
}

func (n *dirNode) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	p := n.child(req.Name)
	handle, err := n.svc.Create(ctx, p, uint32(req.Mode.Perm()))
	if err != nil {
		return nil, nil, toErrno(err)
	}

	node := &fileNode{svc: n.svc, path: p}
	return node, &fileHandle{svc: n.svc, ino: handle}, nil
}

func (n *dirNode) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	p := n.child(req.Name)
	if err := n.svc.Mkdir(ctx, p, uint32(req.Mode.Perm())); err != nil {
		return nil, toErrno(err)
	}
	return &dirNode{svc: n.svc, path: p}, nil
}

func (n *dirNode) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	p := n.child(req.Name)
	if req.Dir {
		if err := n.svc.Rmdir(ctx, p); err != nil {
			return toErrno(err)
		}
		return nil
	}
	if err := n.svc.Unlink(ctx, p); err != nil {
		return toErrno(err)
	}
	return nil
}

func (n *dirNode) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	dst, ok := newDir.(*dirNode)
	if !ok {
		return fuse.Errno(syscall.ENOTDIR)
	}
	if err := n.svc.Rename(ctx, n.child(req.OldName), dst.child(req.NewName)); err != nil {
		return toErrno(err)
	}
	return nil
}

func (n *dirNode) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return setattr(ctx, n.svc, n.path, req, resp)
}

// fileNode is a regular file seen by the kernel.
type fileNode struct {
	svc  service.FileSystemService
	path string
}

var (
	_ fusefs.Node          = (*fileNode)(nil)
	_ fusefs.NodeOpener    = (*fileNode)(nil)
	_ fusefs.NodeSetattrer = (*fileNode)(nil)
)

func (n *fileNode) Attr(ctx context.Context, a *fuse.Attr) error {
	attrs, err := n.svc.GetAttr(ctx, n.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(attrs, a)
	return nil
}

func (n *fileNode) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	wantsWrite := !req.Flags.IsReadOnly()
	appendOnly := req.Flags&fuse.OpenAppend != 0

	handle, err := n.svc.Open(ctx, n.path, wantsWrite, appendOnly)
	if err != nil {
		return nil, toErrno(err)
	}
	return &fileHandle{svc: n.svc, ino: handle}, nil
}

func (n *fileNode) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return setattr(ctx, n.svc, n.path, req, resp)
}

func setattr(ctx context.Context, svc service.FileSystemService, p string, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	// Content may only grow through appends; truncation is rejected.
	if req.Valid.Size() {
		return fuse.Errno(syscall.EPERM)
	}

	atime := models.OmitTime()
	if req.Valid.AtimeNow() {
		atime = models.NowTime()
	} else if req.Valid.Atime() {
		atime = models.SetTime(req.Atime)
	}

	mtime := models.OmitTime()
	if req.Valid.MtimeNow() {
		mtime = models.NowTime()
	} else if req.Valid.Mtime() {
		mtime = models.SetTime(req.Mtime)
	}

	if err := svc.SetTimes(ctx, p, atime, mtime); err != nil {
		return toErrno(err)
	}

	attrs, err := svc.GetAttr(ctx, p)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(attrs, &resp.Attr)
	return nil
}

// fileHandle is an open file handle bound to an inode number.
type fileHandle struct {
	svc service.FileSystemService
	ino uint64
}

var (
	_ fusefs.Handle       = (*fileHandle)(nil)
	_ fusefs.HandleReader = (*fileHandle)(nil)
	_ fusefs.HandleWriter = (*fileHandle)(nil)
)

func (h *fileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := h.svc.Read(ctx, h.ino, int64(req.Size), req.Offset)
	if err != nil {
		return toErrno(err)
	}
	resp.Data = data
	return nil
}

func (h *fileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	written, err := h.svc.Write(ctx, h.ino, req.Data, req.Offset)
	if err != nil {
		return toErrno(err)
	}
	resp.Size = int(written)
	return nil
}
