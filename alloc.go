package xv6fs

// AllocBlock allocates and zero-fills a fresh data block, decrementing
// the free-block counter. Must be called inside a transaction.
func (fsys *FS) AllocBlock() (uint32, error) {
	bit, err := fsys.allocBit(fsys.sb.BmapStart, fsys.sb.Size, ErrNoSpace)
	if err != nil {
		return 0, err
	}
	fsys.sbMu.Lock()
	fsys.sb.FreeBlocks--
	fsys.sbMu.Unlock()
	if err := fsys.persistSuperblock(); err != nil {
		return 0, err
	}
	if err := fsys.zeroBlock(bit); err != nil {
		return 0, err
	}
	return bit, nil
}

// FreeBlock releases block bno back to the bitmap and bumps the
// free-block counter. Must be called inside a transaction.
func (fsys *FS) FreeBlock(bno uint32) error {
	if err := fsys.freeBit(fsys.sb.BmapStart, bno); err != nil {
		return err
	}
	fsys.sbMu.Lock()
	fsys.sb.FreeBlocks++
	fsys.sbMu.Unlock()
	return fsys.persistSuperblock()
}

func (fsys *FS) zeroBlock(bno uint32) error {
	buf, err := fsys.cache.ReadBlock(bno)
	if err != nil {
		return err
	}
	buf.Lock()
	for i := range buf.Data {
		buf.Data[i] = 0
	}
	fsys.log.LogWrite(buf)
	buf.Unlock()
	fsys.cache.Release(buf)
	return nil
}

// AllocInode claims a free inode slot of the given kind, writes its
// initial on-disk image, and returns a locked, referenced handle.
// Must be called inside a transaction.
func (fsys *FS) AllocInode(kind Kind) (*Inode, error) {
	bit, err := fsys.allocBit(fsys.sb.IBmapStart, fsys.sb.NInodes, ErrNoInodes)
	if err != nil {
		return nil, err
	}
	fsys.sbMu.Lock()
	fsys.sb.FreeInodes--
	fsys.sbMu.Unlock()
	if err := fsys.persistSuperblock(); err != nil {
		return nil, err
	}

	// Lock directly rather than through Lock(): the slot's on-disk
	// image is still zeroed from Format/the previous occupant's
	// truncate, which would decode as KindUnused and trip Lock's
	// "locked inode has no type" check before we get a chance to set
	// the real kind below.
	ip := fsys.itable.Get(fsys, bit)
	ip.mu.Lock()
	ip.onDiskInode = onDiskInode{Kind: kind, RWMode: modeRW, SuperMode: modeRW, ShowMode: 1}
	ip.valid = true
	if err := ip.Sync(); err != nil {
		ip.mu.Unlock()
		ip.Put()
		return nil, err
	}
	return ip, nil
}

// FreeInode clears inum's bitmap bit and bumps the free-inode counter.
// Must be called inside a transaction, after the inode's own on-disk
// type has already been reset to KindUnused by the caller.
func (fsys *FS) FreeInode(inum uint32) error {
	if err := fsys.freeBit(fsys.sb.IBmapStart, inum); err != nil {
		return err
	}
	fsys.sbMu.Lock()
	fsys.sb.FreeInodes++
	fsys.sbMu.Unlock()
	return fsys.persistSuperblock()
}
