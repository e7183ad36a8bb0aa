// Package kerrors defines the error kinds returned by the filesystem
// engine and the kernel errno codes the adapters map them to.
package kerrors

import "errors"

type Kind int

const (
	NotFound Kind = iota + 1
	AlreadyExists
	NotADirectory
	IsADirectory
	NotEmpty
	Busy
	PermissionDenied
	ResourceExhausted
	OutOfMemory
	IOError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case AlreadyExists:
		return "already exists"
	case NotADirectory:
		return "not a directory"
	case IsADirectory:
		return "is a directory"
	case NotEmpty:
		return "directory not empty"
	case Busy:
		return "resource busy"
	case PermissionDenied:
		return "permission denied"
	case ResourceExhausted:
		return "no space left"
	case OutOfMemory:
		return "out of memory"
	case IOError:
		return "I/O error"
	default:
		return "unknown error"
	}
}

// Error carries exactly one Kind plus a human-readable message. Every
// engine operation fails with a value of this type.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf extracts the error kind from err, unwrapping as needed.
func KindOf(err error) (Kind, bool) {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind, true
	}
	return 0, false
}

// Is makes errors.Is(err, kerrors.E(kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	var kerr *Error
	if !errors.As(target, &kerr) {
		return false
	}
	return e.Kind == kerr.Kind
}

// Linux kernel error codes
const (
	EPERM     int64 = 1  // Operation not permitted
	ENOENT    int64 = 2  // No such file or directory
	EIO       int64 = 5  // I/O error
	ENOMEM    int64 = 12 // Out of memory
	EBUSY     int64 = 16 // Device or resource busy
	EEXIST    int64 = 17 // File exists
	ENOTDIR   int64 = 20 // Not a directory
	EISDIR    int64 = 21 // Is a directory
	EINVAL    int64 = 22 // Invalid argument
	ENOSPC    int64 = 28 // No space left on device
	ENOTEMPTY int64 = 39 // Directory not empty

	EINVAL_NEG int64 = -EINVAL // Invalid argument (negative)
)

// Errno maps an error kind to its positive kernel errno code.
func Errno(k Kind) int64 {
	switch k {
	case NotFound:
		return ENOENT
	case AlreadyExists:
		return EEXIST
	case NotADirectory:
		return ENOTDIR
	case IsADirectory:
		return EISDIR
	case NotEmpty:
		return ENOTEMPTY
	case Busy:
		return EBUSY
	case PermissionDenied:
		return EPERM
	case ResourceExhausted:
		return ENOSPC
	case OutOfMemory:
		return ENOMEM
	case IOError:
		return EIO
	default:
		return EIO
	}
}
