package xv6fs

// Read copies up to len(p) bytes of ip's content starting at byte
// offset off into p, returning the number of bytes copied. The count
// is clamped to ip.Size: reading at or past the end of the file
// returns (0, nil). ip must be locked.
func (ip *Inode) Read(p []byte, off int64) (int, error) {
	if ip.Kind == KindDevice {
		return 0, ErrIsDevice
	}
	size := int64(ip.Size)
	if off < 0 {
		return 0, ErrBadOffset
	}
	if off > size {
		return 0, nil
	}
	n := len(p)
	if off+int64(n) > size {
		n = int(size - off)
	}

	total := 0
	for total < n {
		bn := uint32(off / BSIZE)
		disk, err := ip.bmap(bn)
		if err != nil {
			return total, err
		}
		buf, err := ip.fsys.cache.ReadBlock(disk)
		if err != nil {
			return total, err
		}
		within := int(off % BSIZE)
		m := n - total
		if m > BSIZE-within {
			m = BSIZE - within
		}
		buf.Lock()
		copy(p[total:total+m], buf.Data[within:within+m])
		buf.Unlock()
		ip.fsys.cache.Release(buf)
		total += m
		off += int64(m)
	}
	return total, nil
}

// Write copies all of p into ip's content starting at byte offset off,
// extending the file and allocating blocks through the block map as
// needed, and updates Size when the write extends past it. ip must be
// locked and the caller inside a transaction. Returns ErrBadOffset if
// off is past the current size (writes cannot create sparse holes, the
// same restriction the reference writei enforces), or ErrFileTooLarge
// if off+len(p) would exceed MaxFileBytes.
func (ip *Inode) Write(p []byte, off int64) (int, error) {
	if ip.Kind == KindDevice {
		return 0, ErrIsDevice
	}
	if off < 0 || off > int64(ip.Size) {
		return 0, ErrBadOffset
	}
	if off+int64(len(p)) > MaxFileBytes {
		return 0, ErrFileTooLarge
	}

	total := 0
	for total < len(p) {
		bn := uint32(off / BSIZE)
		disk, err := ip.bmap(bn)
		if err != nil {
			return total, err
		}
		buf, err := ip.fsys.cache.ReadBlock(disk)
		if err != nil {
			return total, err
		}
		within := int(off % BSIZE)
		m := len(p) - total
		if m > BSIZE-within {
			m = BSIZE - within
		}
		buf.Lock()
		copy(buf.Data[within:within+m], p[total:total+m])
		ip.fsys.log.LogWrite(buf)
		buf.Unlock()
		ip.fsys.cache.Release(buf)
		total += m
		off += int64(m)
	}

	if off > int64(ip.Size) {
		ip.Size = uint32(off)
	}
	if err := ip.Sync(); err != nil {
		return total, err
	}
	return total, nil
}
