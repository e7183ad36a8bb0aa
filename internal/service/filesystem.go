package service

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/shortsfs/shortsfs/internal/models"
	"github.com/shortsfs/shortsfs/internal/pkg/kerrors"
	"github.com/shortsfs/shortsfs/internal/repository"
	"github.com/shortsfs/shortsfs/pkg/logging"
	"github.com/shortsfs/shortsfs/pkg/logging/slogext"
)

// FileSystemService is the filesystem engine: the single place where
// namespace and content operations are implemented. Both front-ends
// (the FUSE mount and the HTTP API) are thin translators over it.
//
// All metadata (inode table and directory entries) is guarded by one
// readers-writer lock; byte-level I/O happens outside it, serialized
// per inode inside the content store. Operations that resolve a path
// and then mutate do both under a single exclusive acquisition.
type FileSystemService interface {
	GetAttr(ctx context.Context, fsPath string) (*models.Attrs, error)
	ReadDir(ctx context.Context, fsPath string) ([]models.Dirent, error)
	// Open resolves fsPath to a file handle. Writing is only ever
	// permitted in append mode; wantsWrite without appendOnly fails
	// with PermissionDenied.
	Open(ctx context.Context, fsPath string, wantsWrite, appendOnly bool) (uint64, error)
	Read(ctx context.Context, handle uint64, size int64, offset int64) ([]byte, error)
	// Write appends data at offset. Offsets below the current size are
	// rejected with PermissionDenied; offsets beyond it zero-fill the
	// gap. The returned count is the number of data bytes committed,
	// reported even when the write fails partway.
	Write(ctx context.Context, handle uint64, data []byte, offset int64) (int64, error)
	Create(ctx context.Context, fsPath string, mode uint32) (uint64, error)
	Mkdir(ctx context.Context, fsPath string, mode uint32) error
	Rmdir(ctx context.Context, fsPath string) error
	Unlink(ctx context.Context, fsPath string) error
	Rename(ctx context.Context, from, to string) error
	SetTimes(ctx context.Context, fsPath string, atime, mtime models.TimeSpec) error
}

type fileSystemService struct {
	mu sync.RWMutex

	inodes   repository.InodeTable
	dirs     repository.DirectoryIndex
	resolver repository.PathResolver
	content  repository.ContentStore

	uid uint32
	gid uint32
}

func NewFileSystemService(
	inodes repository.InodeTable,
	dirs repository.DirectoryIndex,
	resolver repository.PathResolver,
	content repository.ContentStore,
	uid, gid uint32,
) FileSystemService {
	return &fileSystemService{
		inodes:   inodes,
		dirs:     dirs,
		resolver: resolver,
		content:  content,
		uid:      uid,
		gid:      gid,
	}
}

func isRoot(fsPath string) bool {
	return path.Clean("/"+fsPath) == "/"
}

func (s *fileSystemService) GetAttr(ctx context.Context, fsPath string) (*models.Attrs, error) {
	const op = "service.fileSystemService.GetAttr"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("GetAttr", slog.String("path", fsPath))

	s.mu.RLock()
	defer s.mu.RUnlock()

	inode, err := s.resolver.Resolve(fsPath)
	if err != nil {
		logger.Debug("Failed to resolve path", slogext.Err(err), slog.String("path", fsPath))
		return nil, err
	}

	nlink := uint32(1)
	if inode.IsDir() {
		nlink = 2
	}

	attrs := &models.Attrs{
		Ino:       inode.Ino,
		Kind:      inode.Kind,
		Mode:      inode.Mode,
		Nlink:     nlink,
		UID:       inode.UID,
		GID:       inode.GID,
		Size:      inode.Size,
		Blocks:    (inode.Size + 511) / 512,
		BlockSize: 4096,
		Atime:     inode.Atime,
		Mtime:     inode.Mtime,
		Ctime:     inode.Ctime,
	}

	return attrs, nil
}

func (s *fileSystemService) ReadDir(ctx context.Context, fsPath string) ([]models.Dirent, error) {
	const op = "service.fileSystemService.ReadDir"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("ReadDir", slog.String("path", fsPath))

	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, err := s.resolver.Resolve(fsPath)
	if err != nil {
		logger.Debug("Failed to resolve path", slogext.Err(err), slog.String("path", fsPath))
		return nil, err
	}
	if !dir.IsDir() {
		return nil, kerrors.E(kerrors.NotADirectory, "not a directory")
	}

	children, err := s.dirs.List(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]models.Dirent, 0, len(children)+2)
	entries = append(entries,
		models.Dirent{Name: ".", Ino: dir.Ino, IsDir: true, Size: dir.Size, Mtime: dir.Mtime},
		models.Dirent{Name: "..", Ino: dir.Ino, IsDir: true, Size: models.DirSize, Mtime: dir.Mtime},
	)
	for _, entry := range children {
		child := s.inodes.Lookup(entry.Ino)
		if child == nil {
			continue
		}
		entries = append(entries, models.Dirent{
			Name:  entry.Name,
			Ino:   child.Ino,
			IsDir: child.IsDir(),
			Size:  child.Size,
			Mtime: child.Mtime,
		})
	}

	logger.Debug("ReadDir successful", slog.String("path", fsPath), slog.Int("entries", len(entries)))
	return entries, nil
}

func (s *fileSystemService) Open(ctx context.Context, fsPath string, wantsWrite, appendOnly bool) (uint64, error) {
	const op = "service.fileSystemService.Open"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Open",
		slog.String("path", fsPath),
		slog.Bool("wants_write", wantsWrite),
		slog.Bool("append_only", appendOnly),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	inode, err := s.resolver.Resolve(fsPath)
	if err != nil {
		logger.Debug("Failed to resolve path", slogext.Err(err), slog.String("path", fsPath))
		return 0, err
	}
	if inode.IsDir() {
		return 0, kerrors.E(kerrors.IsADirectory, "cannot open a directory as a file")
	}

	if wantsWrite && !appendOnly {
		logger.Debug("Rejected non-append write open", slog.String("path", fsPath))
		return 0, kerrors.E(kerrors.PermissionDenied, "writes are append-only")
	}

	inode.Atime = time.Now()

	return inode.Ino, nil
}

func (s *fileSystemService) Read(ctx context.Context, handle uint64, size int64, offset int64) ([]byte, error) {
	const op = "service.fileSystemService.Read"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Read",
		slog.Uint64("ino", handle),
		slog.Int64("size", size),
		slog.Int64("offset", offset),
	)

	s.mu.RLock()
	inode := s.inodes.Lookup(handle)
	s.mu.RUnlock()

	if inode == nil {
		logger.Debug("Inode vanished since open", slog.Uint64("ino", handle))
		return nil, kerrors.E(kerrors.NotFound, "no such file")
	}
	if inode.IsDir() {
		return nil, kerrors.E(kerrors.IsADirectory, "is a directory")
	}

	data, err := s.content.Read(ctx, handle, offset, size)
	if err != nil {
		logger.Error("Failed to read backing content", slogext.Err(err), slog.Uint64("ino", handle))
		return nil, err
	}

	s.mu.Lock()
	inode.Atime = time.Now()
	s.mu.Unlock()

	logger.Debug("Read successful", slog.Uint64("ino", handle), slog.Int("bytes_read", len(data)))
	return data, nil
}

func (s *fileSystemService) Write(ctx context.Context, handle uint64, data []byte, offset int64) (int64, error) {
	const op = "service.fileSystemService.Write"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Write",
		slog.Uint64("ino", handle),
		slog.Int("len", len(data)),
		slog.Int64("offset", offset),
	)

	s.mu.RLock()
	inode := s.inodes.Lookup(handle)
	var size int64
	if inode != nil {
		size = inode.Size
	}
	s.mu.RUnlock()

	if inode == nil {
		logger.Debug("Inode vanished since open", slog.Uint64("ino", handle))
		return 0, kerrors.E(kerrors.NotFound, "no such file")
	}
	if inode.IsDir() {
		return 0, kerrors.E(kerrors.IsADirectory, "is a directory")
	}

	// Append-only enforcement, independent of how the handle was opened.
	if offset < size {
		logger.Debug("Rejected write below end of file",
			slog.Int64("offset", offset),
			slog.Int64("size", size),
		)
		return 0, kerrors.E(kerrors.PermissionDenied, "append-only: cannot write before end of file")
	}

	written, werr := s.content.Append(ctx, handle, offset, data)

	if written > 0 {
		s.mu.Lock()
		// Monotonic: a delayed update from a serialized earlier append
		// must never shrink the recorded extent.
		if newSize := offset + written; newSize > inode.Size {
			inode.Size = newSize
		}
		now := time.Now()
		inode.Mtime = now
		inode.Ctime = now
		s.mu.Unlock()
	}

	if werr != nil {
		logger.Error("Failed to append content", slogext.Err(werr),
			slog.Uint64("ino", handle),
			slog.Int64("bytes_committed", written),
		)
		return written, werr
	}

	logger.Debug("Write successful",
		slog.Uint64("ino", handle),
		slog.Int64("bytes_written", written),
		slog.Int64("new_size", offset+written),
	)
	return written, nil
}

func (s *fileSystemService) Create(ctx context.Context, fsPath string, mode uint32) (uint64, error) {
	const op = "service.fileSystemService.Create"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Create", slog.String("path", fsPath), slog.Uint64("mode", uint64(mode)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.resolver.Resolve(fsPath); err == nil {
		return 0, kerrors.E(kerrors.AlreadyExists, "file already exists")
	}

	parentPath, name := repository.SplitPath(fsPath)
	parent, err := s.resolver.Resolve(parentPath)
	if err != nil {
		logger.Debug("Failed to resolve parent", slogext.Err(err), slog.String("parent", parentPath))
		return 0, err
	}
	if !parent.IsDir() {
		return 0, kerrors.E(kerrors.NotADirectory, "parent is not a directory")
	}

	inode, err := s.inodes.Allocate(models.KindFile, mode&0o777, s.uid, s.gid)
	if err != nil {
		logger.Error("Failed to allocate inode", slogext.Err(err))
		return 0, err
	}

	if err := s.content.Create(ctx, inode.Ino); err != nil {
		s.inodes.Free(inode.Ino)
		logger.Error("Failed to create backing content", slogext.Err(err), slog.Uint64("ino", inode.Ino))
		return 0, err
	}

	if err := s.dirs.Add(parent, name, inode.Ino); err != nil {
		s.inodes.Free(inode.Ino)
		_ = s.content.Discard(ctx, inode.Ino)
		logger.Debug("Failed to register entry", slogext.Err(err), slog.String("name", name))
		return 0, err
	}

	logger.Debug("File created", slog.String("path", fsPath), slog.Uint64("ino", inode.Ino))
	return inode.Ino, nil
}

func (s *fileSystemService) Mkdir(ctx context.Context, fsPath string, mode uint32) error {
	const op = "service.fileSystemService.Mkdir"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Mkdir", slog.String("path", fsPath), slog.Uint64("mode", uint64(mode)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.resolver.Resolve(fsPath); err == nil {
		return kerrors.E(kerrors.AlreadyExists, "directory already exists")
	}

	parentPath, name := repository.SplitPath(fsPath)
	parent, err := s.resolver.Resolve(parentPath)
	if err != nil {
		logger.Debug("Failed to resolve parent", slogext.Err(err), slog.String("parent", parentPath))
		return err
	}
	if !parent.IsDir() {
		return kerrors.E(kerrors.NotADirectory, "parent is not a directory")
	}

	inode, err := s.inodes.Allocate(models.KindDir, mode&0o777, s.uid, s.gid)
	if err != nil {
		logger.Error("Failed to allocate inode", slogext.Err(err))
		return err
	}

	if err := s.dirs.Add(parent, name, inode.Ino); err != nil {
		s.inodes.Free(inode.Ino)
		logger.Debug("Failed to register entry", slogext.Err(err), slog.String("name", name))
		return err
	}

	logger.Debug("Directory created", slog.String("path", fsPath), slog.Uint64("ino", inode.Ino))
	return nil
}

func (s *fileSystemService) Rmdir(ctx context.Context, fsPath string) error {
	const op = "service.fileSystemService.Rmdir"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Rmdir", slog.String("path", fsPath))

	if isRoot(fsPath) {
		return kerrors.E(kerrors.Busy, "cannot remove root directory")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inode, err := s.resolver.Resolve(fsPath)
	if err != nil {
		logger.Debug("Failed to resolve path", slogext.Err(err), slog.String("path", fsPath))
		return err
	}
	if !inode.IsDir() {
		return kerrors.E(kerrors.NotADirectory, "not a directory")
	}
	if len(inode.Children) > 0 {
		logger.Debug("Directory not empty", slog.String("path", fsPath), slog.Int("children", len(inode.Children)))
		return kerrors.E(kerrors.NotEmpty, "directory not empty")
	}

	parentPath, name := repository.SplitPath(fsPath)
	parent, err := s.resolver.Resolve(parentPath)
	if err != nil {
		return err
	}

	if err := s.dirs.Remove(parent, name, inode.Ino); err != nil {
		return err
	}
	s.inodes.Free(inode.Ino)
	_ = s.content.Discard(ctx, inode.Ino)

	logger.Debug("Directory removed", slog.String("path", fsPath), slog.Uint64("ino", inode.Ino))
	return nil
}

func (s *fileSystemService) Unlink(ctx context.Context, fsPath string) error {
	const op = "service.fileSystemService.Unlink"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Unlink", slog.String("path", fsPath))

	s.mu.Lock()
	defer s.mu.Unlock()

	inode, err := s.resolver.Resolve(fsPath)
	if err != nil {
		logger.Debug("Failed to resolve path", slogext.Err(err), slog.String("path", fsPath))
		return err
	}
	if inode.IsDir() {
		return kerrors.E(kerrors.IsADirectory, "cannot unlink a directory")
	}

	parentPath, name := repository.SplitPath(fsPath)
	parent, err := s.resolver.Resolve(parentPath)
	if err != nil {
		return err
	}

	if err := s.dirs.Remove(parent, name, inode.Ino); err != nil {
		return err
	}
	s.inodes.Free(inode.Ino)
	_ = s.content.Discard(ctx, inode.Ino)

	logger.Debug("File unlinked", slog.String("path", fsPath), slog.Uint64("ino", inode.Ino))
	return nil
}

func (s *fileSystemService) Rename(ctx context.Context, from, to string) error {
	const op = "service.fileSystemService.Rename"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("Rename", slog.String("from", from), slog.String("to", to))

	if isRoot(from) {
		return kerrors.E(kerrors.Busy, "cannot rename root directory")
	}

	cleanFrom := path.Clean("/" + from)
	cleanTo := path.Clean("/" + to)

	if cleanFrom == cleanTo {
		// Renaming a path to itself is a no-op.
		s.mu.RLock()
		_, err := s.resolver.Resolve(from)
		s.mu.RUnlock()
		return err
	}

	// A directory moved under itself would detach its whole subtree from
	// the root. Paths name inodes uniquely (no links), so a prefix check
	// on the cleaned paths is sufficient.
	if strings.HasPrefix(cleanTo, cleanFrom+"/") {
		return kerrors.E(kerrors.PermissionDenied, "cannot move a directory into its own subtree")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inode, err := s.resolver.Resolve(from)
	if err != nil {
		logger.Debug("Source does not resolve", slogext.Err(err), slog.String("from", from))
		return err
	}
	if _, err := s.resolver.Resolve(to); err == nil {
		return kerrors.E(kerrors.AlreadyExists, "destination already exists")
	}

	fromParentPath, fromName := repository.SplitPath(from)
	toParentPath, toName := repository.SplitPath(to)

	fromParent, err := s.resolver.Resolve(fromParentPath)
	if err != nil {
		return err
	}
	toParent, err := s.resolver.Resolve(toParentPath)
	if err != nil {
		logger.Debug("Destination parent does not resolve", slogext.Err(err), slog.String("to_parent", toParentPath))
		return err
	}
	if !toParent.IsDir() {
		return kerrors.E(kerrors.NotADirectory, "destination parent is not a directory")
	}

	// Check-then-commit: verify the destination can take the entry
	// before touching the source, so the remove+add below cannot fail
	// and the inode can never end up detached from the namespace.
	// Moving within one directory frees the source slot, so the
	// capacity check only applies across directories.
	if toParent.Ino != fromParent.Ino {
		if err := s.dirs.CanAdd(toParent, toName); err != nil {
			logger.Debug("Destination cannot take entry", slogext.Err(err), slog.String("to", to))
			return err
		}
	}

	if err := s.dirs.Remove(fromParent, fromName, inode.Ino); err != nil {
		return err
	}
	if err := s.dirs.Add(toParent, toName, inode.Ino); err != nil {
		return err
	}

	now := time.Now()
	inode.Atime = now
	inode.Mtime = now

	logger.Debug("Rename successful", slog.String("from", from), slog.String("to", to))
	return nil
}

func (s *fileSystemService) SetTimes(ctx context.Context, fsPath string, atime, mtime models.TimeSpec) error {
	const op = "service.fileSystemService.SetTimes"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)
	logger.Debug("SetTimes", slog.String("path", fsPath))

	s.mu.Lock()
	defer s.mu.Unlock()

	inode, err := s.resolver.Resolve(fsPath)
	if err != nil {
		logger.Debug("Failed to resolve path", slogext.Err(err), slog.String("path", fsPath))
		return err
	}

	now := time.Now()
	changed := false

	switch atime.How {
	case models.TimeNow:
		inode.Atime = now
		changed = true
	case models.TimeSet:
		inode.Atime = atime.Time
		changed = true
	}

	switch mtime.How {
	case models.TimeNow:
		inode.Mtime = now
		changed = true
	case models.TimeSet:
		inode.Mtime = mtime.Time
		changed = true
	}

	if changed {
		inode.Ctime = now
	}

	return nil
}
