package xv6fs

import (
	"encoding/binary"
	"io"
	"io/fs"
)

// BKDRHash hashes name with the BKDR variant (seed 131) and returns the
// bucket index in [BucketIndexBias, BucketIndexBias+HashBuckets).
func BKDRHash(name string) uint32 {
	h := uint32(0)
	for i := 0; i < len(name); i++ {
		h = h*131 + uint32(name[i])
	}
	return (h % HashBuckets) + BucketIndexBias
}

type dirSlot struct {
	Inum uint32
	Name string
}

func decodeDirSlot(b []byte) dirSlot {
	inum := binary.LittleEndian.Uint16(b[:2])
	nameBytes := b[2 : 2+DirSiz]
	end := 0
	for end < len(nameBytes) && nameBytes[end] != 0 {
		end++
	}
	return dirSlot{Inum: uint32(inum), Name: string(nameBytes[:end])}
}

func encodeDirSlot(inum uint32, name string) [DirEntrySize]byte {
	var b [DirEntrySize]byte
	binary.LittleEndian.PutUint16(b[:2], uint16(inum))
	copy(b[2:2+DirSiz], name)
	return b
}

// dirScanLookup scans [start,end) for name, returning its inode number
// and byte offset, or inum 0 if absent. Offsets at or beyond the
// directory's current size are unallocated and therefore empty, so the
// scan stops there rather than reading past end of file. dp must be
// locked and a directory.
func (dp *Inode) dirScanLookup(name string, start, end int64) (uint32, int64, error) {
	var raw [DirEntrySize]byte
	for off := start; off < end; off += DirEntrySize {
		if off >= int64(dp.Size) {
			break
		}
		n, err := dp.Read(raw[:], off)
		if err != nil {
			return 0, 0, err
		}
		if n != DirEntrySize {
			fatal("short directory entry read")
		}
		e := decodeDirSlot(raw[:])
		if e.Inum != 0 && e.Name == name {
			return e.Inum, off, nil
		}
	}
	return 0, 0, nil
}

// dirScanFreeSlot scans [start,end) for the first empty slot, treating
// any offset at or beyond the directory's current size as empty
// without reading it (growing into it is left to the caller's Write).
// Returns -1 if the range is full.
func (dp *Inode) dirScanFreeSlot(start, end int64) (int64, error) {
	var raw [DirEntrySize]byte
	for off := start; off < end; off += DirEntrySize {
		if off >= int64(dp.Size) {
			return off, nil
		}
		n, err := dp.Read(raw[:], off)
		if err != nil {
			return -1, err
		}
		if n != DirEntrySize {
			fatal("short directory entry read")
		}
		if decodeDirSlot(raw[:]).Inum == 0 {
			return off, nil
		}
	}
	return -1, nil
}

// dirLookup resolves name within directory dp: "." and ".." are looked
// up in the two fixed slots at the front of the directory, everything
// else in its hash bucket, falling back to the shared overflow region
// whenever the name is not in the bucket. An empty slot does not end
// the bucket scan. dp must be locked and a directory.
func (dp *Inode) dirLookup(name string) (uint32, int64, error) {
	if name == "." || name == ".." {
		return dp.dirScanLookup(name, 0, 2*DirEntrySize)
	}
	bucket := BKDRHash(name)
	base := dirBucketOffset(bucket)
	inum, off, err := dp.dirScanLookup(name, base, base+int64(bucketStride))
	if err != nil || inum != 0 {
		return inum, off, err
	}
	return dp.dirScanLookup(name, int64(OverflowStartBlock)*BSIZE, int64(OverflowEndBlock)*BSIZE)
}

// growDirSize extends dp's size up to at least target bytes without
// touching any block content, the directory analogue of the reference
// tree_expand: hash-bucket offsets are sparse, so inserting into a
// bucket or the overflow region that hasn't been touched yet must grow
// past every lower, still-untouched slot first, or the plain file write
// path's no-sparse-holes rule would reject it. Blocks in the grown
// range read back as zeroed (empty) entries the first time anything
// touches them, since AllocBlock always zero-fills a freshly allocated
// block. dp must be locked and the caller inside a transaction.
func (dp *Inode) growDirSize(target int64) error {
	if target <= int64(dp.Size) {
		return nil
	}
	dp.Size = uint32(target)
	return dp.Sync()
}

// dirLink writes a new (name, inum) entry into directory dp. It does
// not itself verify that dp is a directory or that inum refers to a
// live inode — the caller (namex's parent-resolution path) owns those
// checks. Returns ErrExists if name is already present, ErrNameTooLong
// if name doesn't fit in DirSiz bytes, or ErrDirFull if both the
// primary bucket and the overflow region are exhausted. dp must be
// locked and the caller inside a transaction.
func (dp *Inode) dirLink(name string, inum uint32) error {
	if len(name) > DirSiz {
		return ErrNameTooLong
	}
	if existing, _, err := dp.dirLookup(name); err != nil {
		return err
	} else if existing != 0 {
		return ErrExists
	}

	var off int64 = -1
	var err error
	if name == "." || name == ".." {
		off, err = dp.dirScanFreeSlot(0, 2*DirEntrySize)
	} else {
		bucket := BKDRHash(name)
		base := dirBucketOffset(bucket)
		off, err = dp.dirScanFreeSlot(base, base+int64(bucketStride))
		if err == nil && off < 0 {
			off, err = dp.dirScanFreeSlot(int64(OverflowStartBlock)*BSIZE, int64(OverflowEndBlock)*BSIZE)
		}
	}
	if err != nil {
		return err
	}
	if off < 0 {
		return ErrDirFull
	}
	if err := dp.growDirSize(off + DirEntrySize); err != nil {
		return err
	}

	entry := encodeDirSlot(inum, name)
	n, err := dp.Write(entry[:], off)
	if err != nil {
		return err
	}
	if n != DirEntrySize {
		fatal("short directory entry write")
	}
	return nil
}

// dirUnlink clears the slot holding name, turning it back into a free
// slot. Returns ErrNotFound if name is absent. dp must be locked and
// the caller inside a transaction.
func (dp *Inode) dirUnlink(name string) error {
	inum, off, err := dp.dirLookup(name)
	if err != nil {
		return err
	}
	if inum == 0 {
		return ErrNotFound
	}
	var empty [DirEntrySize]byte
	n, err := dp.Write(empty[:], off)
	if err != nil {
		return err
	}
	if n != DirEntrySize {
		fatal("short directory entry write")
	}
	return nil
}

// Empty reports whether dp, a locked directory, holds anything besides
// "." and "..".
func (dp *Inode) Empty() (bool, error) {
	var raw [DirEntrySize]byte
	for off := int64(2 * DirEntrySize); off < int64(dp.Size); off += DirEntrySize {
		n, err := dp.Read(raw[:], off)
		if err != nil {
			return false, err
		}
		if n != DirEntrySize {
			break
		}
		if decodeDirSlot(raw[:]).Inum != 0 {
			return false, nil
		}
	}
	return true, nil
}

// dirEntryInfo adapts one occupied directory slot to io/fs.DirEntry,
// loading the target inode lazily on Info/Type/IsDir.
type dirEntryInfo struct {
	name string
	fsys *FS
	inum uint32
}

func (d *dirEntryInfo) Name() string { return d.name }

func (d *dirEntryInfo) stat() (fs.FileInfo, error) {
	ip := d.fsys.itable.Get(d.fsys, d.inum)
	fi, err := ip.Stat(d.name)
	d.fsys.log.BeginOp()
	putErr := ip.Put()
	d.fsys.log.EndOp()
	if err != nil {
		return nil, err
	}
	return fi, putErr
}

func (d *dirEntryInfo) Info() (fs.FileInfo, error) { return d.stat() }

func (d *dirEntryInfo) IsDir() bool {
	fi, err := d.stat()
	return err == nil && fi.IsDir()
}

func (d *dirEntryInfo) Type() fs.FileMode {
	fi, err := d.stat()
	if err != nil {
		return 0
	}
	return fi.Mode().Type()
}

// dirReader implements fs.ReadDirFile's ReadDir by walking a
// directory's primary hash buckets in ascending index order and then
// the overflow region, skipping empty slots and the "." / ".." slots.
type dirReader struct {
	ip  *Inode
	off int64
}

func newDirReader(ip *Inode) *dirReader {
	return &dirReader{ip: ip, off: 2 * DirEntrySize}
}

func (dr *dirReader) ReadDir(n int) ([]fs.DirEntry, error) {
	var res []fs.DirEntry
	var raw [DirEntrySize]byte
	limit := int64(OverflowEndBlock) * BSIZE

	// Reading a not-yet-touched bucket block allocates it through bmap,
	// which logs writes, so the scan runs inside a transaction.
	dr.ip.fsys.log.BeginOp()
	defer dr.ip.fsys.log.EndOp()
	if err := dr.ip.Lock(); err != nil {
		return nil, err
	}
	defer dr.ip.Unlock()

	for dr.off < limit {
		if dr.off >= int64(dr.ip.Size) {
			break
		}
		read, err := dr.ip.Read(raw[:], dr.off)
		if err != nil {
			return res, err
		}
		if read != DirEntrySize {
			break
		}
		dr.off += DirEntrySize
		e := decodeDirSlot(raw[:])
		if e.Inum == 0 {
			continue
		}
		res = append(res, &dirEntryInfo{name: e.Name, fsys: dr.ip.fsys, inum: e.Inum})
		if n > 0 && len(res) >= n {
			return res, nil
		}
	}
	if n > 0 && len(res) == 0 {
		return nil, io.EOF
	}
	return res, nil
}
