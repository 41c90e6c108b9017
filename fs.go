// Package xv6fs implements a crash-consistent, block-structured
// teaching filesystem: a superblock-described layout, bitmap-backed
// block and inode allocators, a two-level-locked inode cache, hash-
// bucketed directories and a write-ahead journal, in the style of the
// xv6 teaching operating system's file-system layer.
package xv6fs

import (
	stdpath "path"
	"sync"

	"github.com/seamoon76/xv6fs/blockdev"
)

// FS is a mounted filesystem: a superblock, an inode cache and the
// journaled block cache both sit on top of.
type FS struct {
	cache *blockdev.Cache
	log   *blockdev.Journal

	sbMu sync.Mutex
	sb   Superblock

	itable   *inodeTable
	readOnly bool
}

// Format lays a fresh filesystem image out over dev: a boot block, the
// superblock, the journal area, the inode bitmap, the inode table, the
// block bitmap and the data region, then allocates the root directory.
// The device's size is taken from dev's own reported length unless
// overridden with WithBlockCount.
func Format(dev blockdev.Device, opts ...FormatOption) error {
	cfg := defaultFormatConfig()
	for _, o := range opts {
		o(cfg)
	}

	nblocks := cfg.nblocks
	if nblocks == 0 {
		type lenner interface{ Len() int }
		l, ok := dev.(lenner)
		if !ok {
			return ErrInvalidSuper
		}
		nblocks = uint32(l.Len() / BSIZE)
	}

	nIBitmapBlocks := (cfg.ninodes + bitsPerBlock - 1) / bitsPerBlock
	nInodeBlocks := (cfg.ninodes + IPB - 1) / IPB
	logStart := uint32(2)
	ibmapStart := logStart + cfg.nlog
	inodeStart := ibmapStart + nIBitmapBlocks
	bmapStart := inodeStart + nInodeBlocks
	nBitmapBlocks := (nblocks + bitsPerBlock - 1) / bitsPerBlock
	nmeta := bmapStart + nBitmapBlocks

	cache := blockdev.NewCache(dev, 0)
	fsys := &FS{
		cache: cache,
		log:   blockdev.NewJournal(cache),
		sb: Superblock{
			Magic:      FSMagic,
			Size:       nblocks,
			NBlocks:    nblocks - nmeta,
			NInodes:    cfg.ninodes,
			NLog:       cfg.nlog,
			LogStart:   logStart,
			IBmapStart: ibmapStart,
			InodeStart: inodeStart,
			BmapStart:  bmapStart,
			FreeInodes: cfg.ninodes - 1, // inode 0 is reserved and never handed out
			FreeBlocks: nblocks - nmeta,
		},
		itable: newInodeTable(defaultMountConfig().inodeTableSize),
	}

	fsys.log.BeginOp()
	for b := uint32(0); b < nmeta; b++ {
		if err := fsys.zeroBlock(b); err != nil {
			fsys.log.EndOp()
			return err
		}
	}
	if err := fsys.persistSuperblock(); err != nil {
		fsys.log.EndOp()
		return err
	}
	if err := fsys.presetBits(fsys.sb.IBmapStart, 1); err != nil {
		fsys.log.EndOp()
		return err
	}
	if err := fsys.presetBits(fsys.sb.BmapStart, nmeta); err != nil {
		fsys.log.EndOp()
		return err
	}
	if err := fsys.log.EndOp(); err != nil {
		return err
	}

	fsys.log.BeginOp()
	root, err := fsys.AllocInode(KindDir)
	if err != nil {
		fsys.log.EndOp()
		return err
	}
	root.NLink = 1
	if err := root.Sync(); err != nil {
		root.Unlock()
		fsys.log.EndOp()
		return err
	}
	if err := root.dirLink(".", root.Inum); err != nil {
		root.Unlock()
		fsys.log.EndOp()
		return err
	}
	if err := root.dirLink("..", root.Inum); err != nil {
		root.Unlock()
		fsys.log.EndOp()
		return err
	}
	root.Unlock()
	if err := root.Put(); err != nil {
		fsys.log.EndOp()
		return err
	}
	return fsys.log.EndOp()
}

// Mount opens an already-formatted image.
func Mount(dev blockdev.Device, opts ...MountOption) (*FS, error) {
	cfg := defaultMountConfig()
	for _, o := range opts {
		o(cfg)
	}
	cache := blockdev.NewCache(dev, cfg.cacheCapacity)
	fsys := &FS{
		cache:    cache,
		log:      blockdev.NewJournal(cache),
		itable:   newInodeTable(cfg.inodeTableSize),
		readOnly: cfg.readOnly,
	}
	if err := fsys.readSuperblock(); err != nil {
		return nil, err
	}
	return fsys, nil
}

func (fsys *FS) checkWritable() error {
	if fsys.readOnly {
		return ErrReadOnly
	}
	return nil
}

// Stat returns an io/fs.FileInfo for path.
func (fsys *FS) Stat(path string, cwd *Inode) (*inodeFileInfo, error) {
	ip, err := fsys.Lookup(path, cwd)
	if err != nil {
		return nil, err
	}
	fi, err := ip.Stat(stdpath.Base(path))
	fsys.log.BeginOp()
	putErr := ip.Put()
	fsys.log.EndOp()
	if err != nil {
		return nil, err
	}
	if putErr != nil {
		return nil, putErr
	}
	return fi.(*inodeFileInfo), nil
}

// Create creates a new inode of the given kind at path (and its parent
// directories' hash-bucket entries), or returns the existing inode if
// one is already there and kind/existing agree it's a directory.
// major/minor are only meaningful for KindDevice.
func (fsys *FS) Create(path string, cwd *Inode, kind Kind, major, minor uint16) (*Inode, error) {
	if err := fsys.checkWritable(); err != nil {
		return nil, err
	}
	fsys.log.BeginOp()
	defer fsys.log.EndOp()

	dir, name, err := fsys.namex(path, cwd, true)
	if err != nil {
		return nil, err
	}
	if err := dir.Lock(); err != nil {
		dir.Put()
		return nil, err
	}
	if !dir.Kind.IsDir() {
		dir.Unlock()
		dir.Put()
		return nil, ErrNotDirectory
	}

	if existingInum, _, err := dir.dirLookup(name); err != nil {
		dir.Unlock()
		dir.Put()
		return nil, err
	} else if existingInum != 0 {
		dir.Unlock()
		ip := fsys.itable.Get(fsys, existingInum)
		if err := dir.Put(); err != nil {
			ip.Put()
			return nil, err
		}
		if err := ip.Lock(); err != nil {
			ip.Put()
			return nil, err
		}
		if kind != KindDir || !ip.Kind.IsDir() {
			ip.Unlock()
			ip.Put()
			return nil, ErrExists
		}
		ip.Unlock()
		return ip, nil
	}

	ip, err := fsys.AllocInode(kind)
	if err != nil {
		dir.Unlock()
		dir.Put()
		return nil, err
	}
	ip.Major, ip.Minor = major, minor
	ip.NLink = 1
	if err := ip.Sync(); err != nil {
		ip.Unlock()
		ip.Put()
		dir.Unlock()
		dir.Put()
		return nil, err
	}

	if kind == KindDir {
		dir.NLink++
		if err := dir.Sync(); err != nil {
			ip.Unlock()
			ip.Put()
			dir.Unlock()
			dir.Put()
			return nil, err
		}
		if err := ip.dirLink(".", ip.Inum); err != nil {
			ip.Unlock()
			ip.Put()
			dir.Unlock()
			dir.Put()
			return nil, err
		}
		if err := ip.dirLink("..", dir.Inum); err != nil {
			ip.Unlock()
			ip.Put()
			dir.Unlock()
			dir.Put()
			return nil, err
		}
	}

	if err := dir.dirLink(name, ip.Inum); err != nil {
		// Roll back: nothing else references the freshly allocated
		// inode yet, so dropping its only link lets Put's truncate path
		// reclaim it.
		ip.NLink = 0
		ip.Sync()
		ip.Unlock()
		ip.Put()
		dir.Unlock()
		dir.Put()
		return nil, err
	}

	ip.Unlock()
	dir.Unlock()
	dir.Put()
	return ip, nil
}

// Mkdir is Create with kind KindDir.
func (fsys *FS) Mkdir(path string, cwd *Inode) (*Inode, error) {
	return fsys.Create(path, cwd, KindDir, 0, 0)
}

// Symlink creates a symlink at path whose content is target.
func (fsys *FS) Symlink(path, target string, cwd *Inode) error {
	ip, err := fsys.Create(path, cwd, KindSymlink, 0, 0)
	if err != nil {
		return err
	}
	fsys.log.BeginOp()
	defer fsys.log.EndOp()
	if err := ip.Lock(); err != nil {
		ip.Put()
		return err
	}
	_, err = ip.Write([]byte(target), 0)
	ip.Unlock()
	if putErr := ip.Put(); err == nil {
		err = putErr
	}
	return err
}

// Link adds newPath as another name for the inode currently named
// oldPath. Directories cannot be hard-linked.
func (fsys *FS) Link(oldPath, newPath string, cwd *Inode) error {
	if err := fsys.checkWritable(); err != nil {
		return err
	}
	fsys.log.BeginOp()
	defer fsys.log.EndOp()

	ip, _, err := fsys.namex(oldPath, cwd, false)
	if err != nil {
		return err
	}
	if err := ip.Lock(); err != nil {
		ip.Put()
		return err
	}
	if ip.Kind.IsDir() {
		ip.Unlock()
		ip.Put()
		return ErrIsDirectory
	}
	ip.NLink++
	if err := ip.Sync(); err != nil {
		ip.NLink--
		ip.Unlock()
		ip.Put()
		return err
	}
	ip.Unlock()

	dir, name, err := fsys.namex(newPath, cwd, true)
	if err != nil {
		fsys.decLink(ip)
		ip.Put()
		return err
	}
	if err := dir.Lock(); err != nil {
		dir.Put()
		fsys.decLink(ip)
		ip.Put()
		return err
	}
	if !dir.Kind.IsDir() {
		dir.Unlock()
		dir.Put()
		fsys.decLink(ip)
		ip.Put()
		return ErrNotDirectory
	}
	if err := dir.dirLink(name, ip.Inum); err != nil {
		dir.Unlock()
		dir.Put()
		fsys.decLink(ip)
		ip.Put()
		return err
	}
	dir.Unlock()
	dir.Put()
	return ip.Put()
}

// SetRWMode sets the Unix-style read/write bits on an inode obtained
// from Create/Mkdir (which return it unlocked). Must be called inside
// a transaction by way of an already-open one, or standalone — it
// brackets its own.
func (fsys *FS) SetRWMode(ip *Inode, rw uint32) error {
	if err := fsys.checkWritable(); err != nil {
		return err
	}
	fsys.log.BeginOp()
	defer fsys.log.EndOp()
	if err := ip.Lock(); err != nil {
		return err
	}
	ip.RWMode = rw
	err := ip.Sync()
	ip.Unlock()
	return err
}

// PutInode drops a reference obtained from Create/Mkdir/Lookup,
// bracketing the transaction Put needs. Most callers should prefer
// (*File).Close or (*FileDir).Close, which do this already; PutInode is
// for code (like mkxv6fs's importer) that holds a bare *Inode instead.
func (fsys *FS) PutInode(ip *Inode) error {
	fsys.log.BeginOp()
	defer fsys.log.EndOp()
	return ip.Put()
}

// Wrap adapts an already-obtained, referenced inode (such as one
// returned by Create) into a *File, for callers building up a file's
// content immediately after creating it without re-resolving its path.
func (fsys *FS) Wrap(ip *Inode) *File {
	return &File{fsys: fsys, ino: ip}
}

func (fsys *FS) decLink(ip *Inode) {
	if err := ip.Lock(); err != nil {
		return
	}
	ip.NLink--
	ip.Sync()
	ip.Unlock()
}

// Unlink removes the name path from its parent directory. If that was
// the target inode's last name and no handle still references it, the
// inode's content is reclaimed immediately; otherwise it happens when
// the last open handle is closed.
func (fsys *FS) Unlink(path string, cwd *Inode) error {
	if err := fsys.checkWritable(); err != nil {
		return err
	}
	fsys.log.BeginOp()
	defer fsys.log.EndOp()

	dir, name, err := fsys.namex(path, cwd, true)
	if err != nil {
		return err
	}
	if err := dir.Lock(); err != nil {
		dir.Put()
		return err
	}
	if !dir.Kind.IsDir() {
		dir.Unlock()
		dir.Put()
		return ErrNotDirectory
	}
	if name == "." || name == ".." {
		dir.Unlock()
		dir.Put()
		return ErrExists
	}

	inum, _, err := dir.dirLookup(name)
	if err != nil {
		dir.Unlock()
		dir.Put()
		return err
	}
	if inum == 0 {
		dir.Unlock()
		dir.Put()
		return ErrNotFound
	}

	ip := fsys.itable.Get(fsys, inum)
	if err := ip.Lock(); err != nil {
		ip.Put()
		dir.Unlock()
		dir.Put()
		return err
	}
	if ip.Kind.IsDir() {
		empty, err := ip.Empty()
		if err != nil {
			ip.Unlock()
			ip.Put()
			dir.Unlock()
			dir.Put()
			return err
		}
		if !empty {
			ip.Unlock()
			ip.Put()
			dir.Unlock()
			dir.Put()
			return ErrDirNotEmpty
		}
	}

	if err := dir.dirUnlink(name); err != nil {
		ip.Unlock()
		ip.Put()
		dir.Unlock()
		dir.Put()
		return err
	}
	if ip.Kind.IsDir() {
		dir.NLink--
		dir.Sync()
	}

	ip.NLink--
	syncErr := ip.Sync()
	ip.Unlock()
	putErr := ip.Put()
	dir.Unlock()
	if err := dir.Put(); err != nil {
		return err
	}
	if syncErr != nil {
		return syncErr
	}
	return putErr
}
