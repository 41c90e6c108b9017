package xv6fs_test

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/seamoon76/xv6fs"
)

// firstTripleIndirectBlock is the lowest logical block index reachable
// only through the triple-indirect root (addrs[NDIRECT+2]): every
// lower index is satisfied by a direct slot, the single-indirect block
// or the double-indirect tree.
const firstTripleIndirectBlock = xv6fs.NDIRECT + xv6fs.NINDIRECT + xv6fs.NINDIRECT*xv6fs.NINDIRECT

// TestBlockMapIndirectBoundary writes enough blocks to cross from the
// direct slots into the single-indirect block (NDIRECT=12,
// NINDIRECT=256) and reads every block back by its own encoded index,
// a scaled-down version of the specification's 100,000-block scenario
// that still exercises both tiers of the standard block-map
// translator.
func TestBlockMapIndirectBoundary(t *testing.T) {
	const nblocks = xv6fs.NDIRECT + 20 // a few blocks into the indirect tier

	fsys := mustFormat(t, (nblocks+200)*2)
	f, err := fsys.Open("/big.file", nil, true)
	if err != nil {
		t.Fatalf("Open(create): %s", err)
	}
	defer f.Close()
	rws := f.(io.ReadWriteSeeker)

	block := make([]byte, xv6fs.BSIZE)
	for i := 0; i < nblocks; i++ {
		binary.LittleEndian.PutUint32(block, uint32(i))
		if _, err := rws.Write(block); err != nil {
			t.Fatalf("write block %d: %s", i, err)
		}
	}

	if _, err := rws.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek: %s", err)
	}
	readBack := make([]byte, xv6fs.BSIZE)
	for i := 0; i < nblocks; i++ {
		if _, err := io.ReadFull(rws, readBack); err != nil {
			t.Fatalf("read block %d: %s", i, err)
		}
		got := binary.LittleEndian.Uint32(readBack)
		if got != uint32(i) {
			t.Fatalf("block %d: got index %d", i, got)
		}
	}
}

func TestWriteBeyondMaxFileRejected(t *testing.T) {
	fsys := mustFormat(t, 4000)
	f, err := fsys.Open("/huge", nil, true)
	if err != nil {
		t.Fatalf("Open(create): %s", err)
	}
	defer f.Close()
	ws := f.(io.WriteSeeker)
	if _, err := ws.Seek(xv6fs.MaxFileBytes, io.SeekStart); err != nil {
		t.Fatalf("seek: %s", err)
	}
	n, err := ws.Write([]byte("x"))
	if err == nil || n > 0 {
		t.Fatalf("write past MaxFileBytes should fail, got n=%d err=%v", n, err)
	}
}

// TestExtentModeContiguousRuns writes more than 255 contiguous blocks
// to an extent-mode file and checks they read back with their
// own encoded index, the way scenario 4 exercises the alternate
// block-map layout.
func TestExtentModeContiguousRuns(t *testing.T) {
	const nblocks = 300 // > 255, so at least two extent pairs are needed

	fsys := mustFormat(t, (nblocks+200)*2)
	ip, err := fsys.Create("/extentfile", nil, xv6fs.KindExtentFile, 0, 0)
	if err != nil {
		t.Fatalf("Create(extent): %s", err)
	}
	wf := fsys.Wrap(ip)

	block := make([]byte, xv6fs.BSIZE)
	for i := 0; i < nblocks; i++ {
		binary.LittleEndian.PutUint32(block, uint32(i))
		if _, err := wf.Write(block); err != nil {
			t.Fatalf("write block %d: %s", i, err)
		}
	}
	if err := wf.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}

	rf, err := fsys.Open("/extentfile", nil, false)
	if err != nil {
		t.Fatalf("reopen: %s", err)
	}
	defer rf.Close()
	readBack := make([]byte, xv6fs.BSIZE)
	for i := 0; i < nblocks; i++ {
		if _, err := io.ReadFull(rf.(io.Reader), readBack); err != nil {
			t.Fatalf("read block %d: %s", i, err)
		}
		got := binary.LittleEndian.Uint32(readBack)
		if got != uint32(i) {
			t.Fatalf("block %d: got index %d", i, got)
		}
	}
}

// TestTruncateFreesBlocksBackToBitmap checks that truncation (here, via
// unlink dropping the last reference) returns every block of the file
// to the allocator: the free-block counter returns to its pre-write
// level.
func TestTruncateFreesBlocksBackToBitmap(t *testing.T) {
	fsys := mustFormat(t, 4000)

	f, err := fsys.Open("/t", nil, true)
	if err != nil {
		t.Fatalf("Open(create): %s", err)
	}
	// Measured after the create: linking "/t" grows the root directory,
	// and directories keep their blocks after an entry is removed.
	before := fsys.SuperblockSnapshot().FreeBlocks
	block := make([]byte, xv6fs.BSIZE*20)
	if _, err := f.(io.Writer).Write(block); err != nil {
		t.Fatalf("write: %s", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}

	mid := fsys.SuperblockSnapshot().FreeBlocks
	if mid >= before {
		t.Fatalf("expected free blocks to drop after writing, before=%d mid=%d", before, mid)
	}

	if err := fsys.Unlink("/t", nil); err != nil {
		t.Fatalf("Unlink: %s", err)
	}

	after := fsys.SuperblockSnapshot().FreeBlocks
	if after != before {
		t.Fatalf("free blocks not restored after truncation: before=%d after=%d", before, after)
	}
}

// TestTruncateFreesTripleIndirectRoot is the regression test for the
// corrected truncation behavior: it writes a file long enough to
// populate the direct slots, the single- and double-indirect chains
// and one block reachable only through the triple-indirect root, then
// truncates (via Unlink dropping the last reference) and checks the
// free-block counter returns exactly to its pre-write value — proof
// that every block in the chain, including the triple-indirect root
// itself, was freed rather than leaking or double-freeing a
// double-indirect block in its place.
func TestTruncateFreesTripleIndirectRoot(t *testing.T) {
	const nblocks = firstTripleIndirectBlock + 1

	fsys := mustFormat(t, (nblocks+2000)*2)

	f, err := fsys.Open("/deepfile", nil, true)
	if err != nil {
		t.Fatalf("Open(create): %s", err)
	}
	// Measured after the create, which may grow the root directory.
	before := fsys.SuperblockSnapshot().FreeBlocks
	payload := make([]byte, xv6fs.BSIZE*nblocks)
	for i := 0; i < nblocks; i++ {
		binary.LittleEndian.PutUint32(payload[i*xv6fs.BSIZE:], uint32(i))
	}
	if _, err := f.(io.Writer).Write(payload); err != nil {
		t.Fatalf("write: %s", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}

	mid := fsys.SuperblockSnapshot().FreeBlocks
	if mid >= before-nblocks {
		t.Fatalf("expected at least %d blocks consumed (data plus indirect tree), before=%d mid=%d", nblocks, before, mid)
	}

	if err := fsys.Unlink("/deepfile", nil); err != nil {
		t.Fatalf("Unlink: %s", err)
	}

	after := fsys.SuperblockSnapshot().FreeBlocks
	if after != before {
		t.Fatalf("free blocks not fully restored after truncating a triple-indirect file: before=%d after=%d", before, after)
	}
}
