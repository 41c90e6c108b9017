package xv6fs

import "errors"

// Recoverable call failures (specification §7 class 2): returned to
// the caller, never panicked. Compare with errors.Is.
var (
	ErrNotFound        = errors.New("xv6fs: name not found")
	ErrExists          = errors.New("xv6fs: name already exists")
	ErrNotDirectory    = errors.New("xv6fs: not a directory")
	ErrIsDirectory     = errors.New("xv6fs: is a directory")
	ErrIsDevice        = errors.New("xv6fs: is a device inode")
	ErrBadOffset       = errors.New("xv6fs: bad offset")
	ErrTooManySymlinks = errors.New("xv6fs: too many levels of symbolic links")
	ErrNoSpace         = errors.New("xv6fs: no space left on device")
	ErrNoInodes        = errors.New("xv6fs: no free inodes")
	ErrDirFull         = errors.New("xv6fs: directory bucket and overflow region full")
	ErrFileTooLarge    = errors.New("xv6fs: file would exceed MaxFile")
	ErrInvalidSuper    = errors.New("xv6fs: invalid superblock")
	ErrNameTooLong     = errors.New("xv6fs: name exceeds DirSiz bytes")
	ErrReadOnly        = errors.New("xv6fs: filesystem is mounted read-only")
	ErrDirNotEmpty     = errors.New("xv6fs: directory not empty")
)

// ConsistencyError reports a specification §7 class 1 fatal violation:
// something that should be structurally impossible if every caller
// upheld its invariants (a clear bitmap bit freed again, an inode
// table with no free slot, a path element past MaxFile, a directory
// offset past MaxDirSize). Code that detects one of these panics with
// a ConsistencyError rather than returning it, because the situation
// indicates programmer error or on-disk corruption and there is no
// safe way to keep going.
type ConsistencyError struct {
	Invariant string
}

func (e *ConsistencyError) Error() string {
	return "xv6fs: consistency violation: " + e.Invariant
}

func fatal(invariant string) {
	panic(&ConsistencyError{Invariant: invariant})
}
