package xv6fs

import (
	"bytes"
	"encoding/binary"
	"io/fs"
	"sync"
	"time"
)

// DInodeSize is the on-disk size in bytes of one inode record. The 44
// trailing reserved bytes match the reference struct's 41-byte
// "useless" padding plus the 3 bytes the C compiler adds so the
// struct's size (125) rounds up to a multiple of its own 4-byte
// alignment (128), which is what actually makes IPB come out even.
const DInodeSize = 128

// IPB is the number of inode records packed into one disk block.
const IPB = BSIZE / DInodeSize

// onDiskInode is the exact 128-byte on-disk inode record.
type onDiskInode struct {
	Kind      Kind
	Major     uint16
	Minor     uint16
	NLink     uint16
	Size      uint32
	RWMode    uint32
	SuperMode uint32
	Addrs     [NAddrs]uint32
	ShowMode  uint32
	Reserved  [44]byte
}

// Inode is the in-memory inode cache slot described by the
// specification's two-level locking scheme: Inum and refcnt are
// guarded by the owning inodeTable's spin lock; everything else is
// guarded by mu, the per-inode sleep lock, and is only meaningful once
// valid is true.
type Inode struct {
	fsys *FS

	Inum   uint32 // guarded by fsys.itable.mu
	refcnt int    // guarded by fsys.itable.mu

	mu    sync.Mutex // sleep lock
	valid bool       // true once onDiskInode has been loaded from disk

	onDiskInode
}

// inodeTable is the fixed-size in-memory inode cache: at most len(slots)
// distinct inodes may be referenced at once.
type inodeTable struct {
	mu    sync.Mutex
	slots []*Inode
}

func newInodeTable(size int) *inodeTable {
	t := &inodeTable{slots: make([]*Inode, size)}
	for i := range t.slots {
		t.slots[i] = &Inode{}
	}
	return t
}

// Get returns a referenced handle for inum, reusing the existing slot
// if inum is already cached, or claiming a free one otherwise. The
// returned inode is not locked and may not yet be valid. Panics if
// every slot is in use and none matches inum, since that can only
// happen if a caller is holding more references than the table was
// sized for (a class-1 fatal violation).
func (t *inodeTable) Get(fsys *FS, inum uint32) *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()

	var empty *Inode
	for _, ip := range t.slots {
		if ip.refcnt > 0 && ip.Inum == inum {
			ip.refcnt++
			return ip
		}
		if empty == nil && ip.refcnt == 0 {
			empty = ip
		}
	}
	if empty == nil {
		fatal("inode table has no free slot")
	}
	empty.fsys = fsys
	empty.Inum = inum
	empty.refcnt = 1
	empty.valid = false
	return empty
}

// Dup adds a reference to an already-referenced inode and returns it,
// mirroring idup.
func (ip *Inode) Dup() *Inode {
	ip.fsys.itable.mu.Lock()
	ip.refcnt++
	ip.fsys.itable.mu.Unlock()
	return ip
}

// Lock acquires the inode's sleep lock, loading its on-disk image on
// first use. Panics if the inode has no outstanding reference, or if a
// supposedly-valid inode's on-disk type is zero.
func (ip *Inode) Lock() error {
	ip.fsys.itable.mu.Lock()
	refs := ip.refcnt
	ip.fsys.itable.mu.Unlock()
	if refs < 1 {
		fatal("locking an inode with no references")
	}

	ip.mu.Lock()
	if !ip.valid {
		if err := ip.load(); err != nil {
			ip.mu.Unlock()
			return err
		}
		ip.valid = true
		if ip.Kind == KindUnused {
			ip.mu.Unlock()
			fatal("locked inode has no type")
		}
	}
	return nil
}

// Unlock releases the inode's sleep lock.
func (ip *Inode) Unlock() {
	ip.mu.Unlock()
}

// Put drops a reference to the inode. When the last reference to an
// unlinked inode (NLink == 0) is dropped, its content is truncated and
// the slot is freed back to the inode bitmap. Must be called inside a
// transaction.
func (ip *Inode) Put() error {
	t := &ip.fsys.itable.mu
	t.Lock()
	if ip.refcnt == 1 {
		// refcnt==1 means no other goroutine can be holding or
		// acquiring ip's sleep lock right now, so reading valid/NLink
		// under only the table lock is safe, same as the source's
		// reasoning for why this check doesn't need ilock first.
		if ip.valid && ip.NLink == 0 {
			t.Unlock()
			ip.mu.Lock()
			if err := ip.truncate(); err != nil {
				ip.mu.Unlock()
				return err
			}
			ip.Kind = KindUnused
			if err := ip.Sync(); err != nil {
				ip.mu.Unlock()
				return err
			}
			if err := ip.fsys.FreeInode(ip.Inum); err != nil {
				ip.mu.Unlock()
				return err
			}
			ip.valid = false
			ip.mu.Unlock()
			t.Lock()
		}
	}
	ip.refcnt--
	t.Unlock()
	return nil
}

func (ip *Inode) diskBlock() uint32 { return ip.fsys.sb.InodeStart + ip.Inum/IPB }
func (ip *Inode) diskOffset() int   { return int(ip.Inum%IPB) * DInodeSize }

// load reads the inode's on-disk record into ip.onDiskInode.
func (ip *Inode) load() error {
	buf, err := ip.fsys.cache.ReadBlock(ip.diskBlock())
	if err != nil {
		return err
	}
	defer ip.fsys.cache.Release(buf)
	off := ip.diskOffset()
	buf.Lock()
	defer buf.Unlock()
	r := bytes.NewReader(buf.Data[off : off+DInodeSize])
	return binary.Read(r, binary.LittleEndian, &ip.onDiskInode)
}

// Sync writes ip.onDiskInode back to its disk record. Must be called
// with ip locked and inside a transaction, after any change to a field
// that's part of the on-disk record.
func (ip *Inode) Sync() error {
	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, &ip.onDiskInode); err != nil {
		return err
	}
	buf, err := ip.fsys.cache.ReadBlock(ip.diskBlock())
	if err != nil {
		return err
	}
	off := ip.diskOffset()
	buf.Lock()
	copy(buf.Data[off:off+DInodeSize], out.Bytes())
	ip.fsys.log.LogWrite(buf)
	buf.Unlock()
	ip.fsys.cache.Release(buf)
	return nil
}

// Mode returns the io/fs.FileMode corresponding to ip's kind and
// current rwmode. ip must be locked.
func (ip *Inode) Mode() fs.FileMode { return ip.Kind.FileMode(ip.RWMode) }

// SetShowMode sets ip's visible flag (ShowMode). Lookup by name does
// not consult the flag, and neither do directory listings: dirReader
// enumerates every occupied slot. ip must be locked and inside a
// transaction.
func (ip *Inode) SetShowMode(show bool) error {
	if show {
		ip.ShowMode = 1
	} else {
		ip.ShowMode = 0
	}
	return ip.Sync()
}

// Hidden reports whether ip's visible flag is clear.
func (ip *Inode) Hidden() bool { return ip.ShowMode == 0 }

// SetSuperMode replaces the inode's privileged mode field with mode,
// independent of the Unix-style rwmode bits reported through Mode. ip
// must be locked and inside a transaction.
func (ip *Inode) SetSuperMode(mode uint32) error {
	ip.SuperMode = mode
	return ip.Sync()
}

// inodeFileInfo is a snapshot of an inode's metadata, safe to hand out
// after the inode itself has been unlocked.
type inodeFileInfo struct {
	name string
	size int64
	mode fs.FileMode
	dir  bool
	inum uint32
}

func (fi *inodeFileInfo) Name() string       { return fi.name }
func (fi *inodeFileInfo) Size() int64        { return fi.size }
func (fi *inodeFileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *inodeFileInfo) ModTime() time.Time { return time.Time{} }
func (fi *inodeFileInfo) IsDir() bool        { return fi.dir }
func (fi *inodeFileInfo) Sys() any           { return fi.inum }

// Stat locks, reads and unlocks ip, returning an io/fs.FileInfo. name
// is used only for FileInfo.Name.
func (ip *Inode) Stat(name string) (fs.FileInfo, error) {
	if err := ip.Lock(); err != nil {
		return nil, err
	}
	fi := &inodeFileInfo{name: name, size: int64(ip.Size), mode: ip.Mode(), dir: ip.Kind.IsDir(), inum: ip.Inum}
	ip.Unlock()
	return fi, nil
}

// Readlink returns a symlink inode's target. ip must be locked and
// must be a symlink. A target longer than MaxPath+1 bytes indicates a
// corrupt on-disk symlink and is fatal, matching dive's read cap.
func (ip *Inode) Readlink() (string, error) {
	if ip.Size > MaxPath+1 {
		fatal("readlink: symlink target exceeds MaxPath")
	}
	buf := make([]byte, ip.Size)
	n, err := ip.Read(buf, 0)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}
