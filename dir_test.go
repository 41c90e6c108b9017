package xv6fs_test

import (
	"fmt"
	"testing"

	"github.com/seamoon76/xv6fs"
)

// TestBKDRHashBucketRange checks the specification's bucket-index
// invariant: every name hashes into [BucketIndexBias,
// BucketIndexBias+HashBuckets).
func TestBKDRHashBucketRange(t *testing.T) {
	names := []string{"", "a", "etc", "motd", "a-rather-long-name.ext", "..", "."}
	for i := 0; i < 2000; i++ {
		names = append(names, fmt.Sprintf("file%d", i))
	}
	for _, name := range names {
		b := xv6fs.BKDRHash(name)
		if b < xv6fs.BucketIndexBias || b >= xv6fs.BucketIndexBias+xv6fs.HashBuckets {
			t.Fatalf("BKDRHash(%q) = %d out of range [%d,%d)", name, b,
				xv6fs.BucketIndexBias, xv6fs.BucketIndexBias+xv6fs.HashBuckets)
		}
	}
}

// TestBKDRHashDeterministic checks that the hash is a pure function of
// its name, since dirLookup and dirLink both rely on recomputing the
// same bucket for a name across independent calls.
func TestBKDRHashDeterministic(t *testing.T) {
	for _, name := range []string{"alpha", "beta", "gamma.txt", "a/b (not a real path)"} {
		first := xv6fs.BKDRHash(name)
		for i := 0; i < 5; i++ {
			if got := xv6fs.BKDRHash(name); got != first {
				t.Fatalf("BKDRHash(%q) not stable: %d then %d", name, first, got)
			}
		}
	}
}

// TestDirLookupFindsCreatedNames creates a spread of sequentially
// numbered names across the hash buckets and checks every one resolves
// to the inode it was created with, exercising primary-bucket lookups
// (the overflow fallback is covered by the collision tests below).
func TestDirLookupFindsCreatedNames(t *testing.T) {
	fsys := mustFormat(t, 8000, xv6fs.WithInodeCount(600))
	dirIno, err := fsys.Mkdir("/manynames", nil)
	if err != nil {
		t.Fatalf("Mkdir: %s", err)
	}
	defer fsys.PutInode(dirIno)

	const n = 400
	names := make([]string, n)
	inums := make([]uint32, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("entry-%d", i)
		names[i] = name
		ip, err := fsys.Create(name, dirIno, xv6fs.KindFile, 0, 0)
		if err != nil {
			t.Fatalf("Create(%s): %s", name, err)
		}
		inums[i] = ip.Inum
		if err := fsys.PutInode(ip); err != nil {
			t.Fatalf("PutInode(%s): %s", name, err)
		}
	}

	for i, name := range names {
		got, err := fsys.Stat(name, dirIno)
		if err != nil {
			t.Fatalf("Stat(%s): %s", name, err)
		}
		inum, ok := got.Sys().(uint32)
		if !ok {
			t.Fatalf("Stat(%s): Sys() not uint32", name)
		}
		if inum != inums[i] {
			t.Fatalf("Stat(%s): got inum %d want %d", name, inum, inums[i])
		}
	}
}

// TestDirNoDuplicateAcrossBucketAndOverflow checks the specification's
// "no name stored in both the primary bucket and overflow region"
// invariant by forcing a single bucket far past its EntriesPerBucket
// capacity (spilling several names into the shared overflow region)
// and confirming dirLookup still reports exactly one inode per name,
// with Unlink able to remove every one of them cleanly afterward.
func TestDirNoDuplicateAcrossBucketAndOverflow(t *testing.T) {
	fsys := mustFormat(t, 8000, xv6fs.WithInodeCount(600))
	dirIno, err := fsys.Mkdir("/collide", nil)
	if err != nil {
		t.Fatalf("Mkdir: %s", err)
	}
	defer fsys.PutInode(dirIno)

	target := xv6fs.BKDRHash("seed0")
	var names []string
	for i := 0; len(names) < xv6fs.EntriesPerBucket+10 && i < 200000; i++ {
		name := fmt.Sprintf("seed%d", i)
		if xv6fs.BKDRHash(name) != target {
			continue
		}
		names = append(names, name)
	}
	if len(names) < xv6fs.EntriesPerBucket+10 {
		t.Fatalf("could not find enough colliding names, only found %d", len(names))
	}

	for _, name := range names {
		ip, err := fsys.Create(name, dirIno, xv6fs.KindFile, 0, 0)
		if err != nil {
			t.Fatalf("Create(%s): %s", name, err)
		}
		if err := fsys.PutInode(ip); err != nil {
			t.Fatalf("PutInode(%s): %s", name, err)
		}
	}

	seen := make(map[uint32]string, len(names))
	for _, name := range names {
		info, err := fsys.Stat(name, dirIno)
		if err != nil {
			t.Fatalf("Stat(%s): %s", name, err)
		}
		inum := info.Sys().(uint32)
		if other, dup := seen[inum]; dup {
			t.Fatalf("inode %d claimed by both %q and %q", inum, other, name)
		}
		seen[inum] = name
	}

	for _, name := range names {
		if err := fsys.Unlink(name, dirIno); err != nil {
			t.Fatalf("Unlink(%s): %s", name, err)
		}
	}
	for _, name := range names {
		if _, err := fsys.Stat(name, dirIno); err == nil {
			t.Fatalf("Stat(%s) succeeded after Unlink", name)
		}
	}
}

// TestDirlinkRejectsWhenBucketAndOverflowFull is the regression test
// for the resolved "directory full" open question: once a bucket's 16
// primary slots and the shared overflow region's 128 slots are both
// exhausted by same-bucket names, the next same-bucket create must
// fail with ErrDirFull rather than silently dropping the insert or
// succeeding by corrupting an unrelated slot.
func TestDirlinkRejectsWhenBucketAndOverflowFull(t *testing.T) {
	const overflowEntries = (xv6fs.OverflowEndBlock - xv6fs.OverflowStartBlock) * xv6fs.BSIZE / xv6fs.DirEntrySize
	const capacity = xv6fs.EntriesPerBucket + overflowEntries

	fsys := mustFormat(t, 2*capacity+8000, xv6fs.WithInodeCount(uint32(capacity)+200))
	dirIno, err := fsys.Mkdir("/fullbucket", nil)
	if err != nil {
		t.Fatalf("Mkdir: %s", err)
	}
	defer fsys.PutInode(dirIno)

	target := xv6fs.BKDRHash("z0")
	var names []string
	i := 0
	for ; len(names) < capacity && i < 2_000_000; i++ {
		name := fmt.Sprintf("z%d", i)
		if xv6fs.BKDRHash(name) != target {
			continue
		}
		names = append(names, name)
	}
	if len(names) < capacity {
		t.Fatalf("could not find %d colliding names, only found %d", capacity, len(names))
	}

	for _, name := range names {
		ip, err := fsys.Create(name, dirIno, xv6fs.KindFile, 0, 0)
		if err != nil {
			t.Fatalf("Create(%s) should have fit within bucket+overflow capacity: %s", name, err)
		}
		fsys.PutInode(ip)
	}

	var overflowName string
	for ; ; i++ {
		name := fmt.Sprintf("z%d", i)
		if xv6fs.BKDRHash(name) == target {
			overflowName = name
			break
		}
	}
	if _, err := fsys.Create(overflowName, dirIno, xv6fs.KindFile, 0, 0); err != xv6fs.ErrDirFull {
		t.Fatalf("expected ErrDirFull once bucket and overflow are both exhausted, got %v", err)
	}
}

// TestCreateTruncatesLongName checks the DirSiz bound on path elements:
// a name longer than DirSiz bytes is cut to its first DirSiz bytes by
// path resolution, so the new entry is found under that shorter name.
func TestCreateTruncatesLongName(t *testing.T) {
	fsys := mustFormat(t, 2000)
	long := make([]byte, xv6fs.DirSiz+1)
	for i := range long {
		long[i] = 'x'
	}
	ip, err := fsys.Create(string(long), nil, xv6fs.KindFile, 0, 0)
	if err != nil {
		t.Fatalf("Create(long name): %s", err)
	}
	inum := ip.Inum
	if err := fsys.PutInode(ip); err != nil {
		t.Fatalf("PutInode: %s", err)
	}
	info, err := fsys.Stat(string(long[:xv6fs.DirSiz]), nil)
	if err != nil {
		t.Fatalf("Stat(truncated name): %s", err)
	}
	if got := info.Sys().(uint32); got != inum {
		t.Fatalf("truncated name resolves to inode %d, want %d", got, inum)
	}
}

// TestDirLinkRejectsDuplicateName checks that creating a name that
// already exists in the same directory fails rather than silently
// overwriting the earlier entry.
func TestDirLinkRejectsDuplicateName(t *testing.T) {
	fsys := mustFormat(t, 2000)
	ip, err := fsys.Create("/dup", nil, xv6fs.KindFile, 0, 0)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	fsys.PutInode(ip)

	if _, err := fsys.Create("/dup", nil, xv6fs.KindFile, 0, 0); err == nil {
		t.Fatalf("expected ErrExists on duplicate Create, got nil")
	}
}
