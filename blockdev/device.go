// Package blockdev supplies the buffered block cache and write-ahead
// journal that the xv6fs engine treats as external collaborators: a
// kernel embedding xv6fs would normally provide its own, backed by
// whatever device driver and log area it already has. This package is
// the reference implementation used by the mkfs tool, the CLI, and the
// test suite.
package blockdev

import "io"

// BlockSize is the fixed unit size of every block on a Device. The
// engine above this package always reads and writes whole blocks.
const BlockSize = 1024

// Device is the backing store a Cache reads through and writes back
// to. *os.File and *MemDisk both satisfy it.
type Device interface {
	io.ReaderAt
	io.WriterAt
}
