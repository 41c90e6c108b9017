package xv6fs

// This file implements the block and inode free-space bitmaps as a
// direct []byte bit allocator living inside regular cached blocks,
// rather than importing a standalone bitmap library such as
// other_examples/dargueta-disko's github.com/boljen/go-bitmap. Every
// mutation here has to flow through the journaled block cache (marked
// dirty and added to the current transaction's write set) so it
// commits atomically with the superblock counter update that
// accompanies it; go-bitmap only offers an in-memory get/set API with
// no hook into that, so using it would mean copying bytes into and out
// of a go-bitmap.Bitmap on every single cache read for no benefit over
// operating on the cached bytes directly. See DESIGN.md.

// allocBit scans the bitmap starting at block bitmapStart, covering
// nbits bits, for the lowest clear bit, sets it and returns its index.
// exhausted is returned if every bit is set. The caller must already
// be inside a transaction, since this writes through the journal.
func (fsys *FS) allocBit(bitmapStart, nbits uint32, exhausted error) (uint32, error) {
	for base := uint32(0); base < nbits; base += bitsPerBlock {
		blockNo := bitmapStart + base/bitsPerBlock
		buf, err := fsys.cache.ReadBlock(blockNo)
		if err != nil {
			return 0, err
		}
		limit := base + bitsPerBlock
		if limit > nbits {
			limit = nbits
		}

		buf.Lock()
		found := int64(-1)
		for bi := base; bi < limit; bi++ {
			byteIdx := (bi - base) / 8
			mask := byte(1) << uint((bi-base)%8)
			if buf.Data[byteIdx]&mask == 0 {
				buf.Data[byteIdx] |= mask
				found = int64(bi)
				break
			}
		}
		if found < 0 {
			buf.Unlock()
			fsys.cache.Release(buf)
			continue
		}
		fsys.log.LogWrite(buf)
		buf.Unlock()
		fsys.cache.Release(buf)
		return uint32(found), nil
	}
	return 0, exhausted
}

// freeBit clears bit within the bitmap starting at bitmapStart.
// Freeing an already-clear bit is a class-1 consistency violation.
func (fsys *FS) freeBit(bitmapStart, bit uint32) error {
	blockNo := bitmapStart + bit/bitsPerBlock
	buf, err := fsys.cache.ReadBlock(blockNo)
	if err != nil {
		return err
	}
	bi := bit % bitsPerBlock
	byteIdx := bi / 8
	mask := byte(1) << (bi % 8)

	buf.Lock()
	if buf.Data[byteIdx]&mask == 0 {
		buf.Unlock()
		fsys.cache.Release(buf)
		fatal("freeing a clear bitmap bit")
	}
	buf.Data[byteIdx] &^= mask
	fsys.log.LogWrite(buf)
	buf.Unlock()
	fsys.cache.Release(buf)
	return nil
}

// presetBits marks the first n bits of the bitmap starting at
// bitmapStart as allocated, without touching any free counter. Format
// uses this to reserve the blocks/inodes consumed by the layout itself
// (boot, superblock, log, bitmaps, inode table) before any counter
// exists to decrement.
func (fsys *FS) presetBits(bitmapStart, n uint32) error {
	for base := uint32(0); base < n; base += bitsPerBlock {
		blockNo := bitmapStart + base/bitsPerBlock
		buf, err := fsys.cache.ReadBlock(blockNo)
		if err != nil {
			return err
		}
		limit := base + bitsPerBlock
		if limit > n {
			limit = n
		}
		buf.Lock()
		for bi := base; bi < limit; bi++ {
			byteIdx := (bi - base) / 8
			mask := byte(1) << uint((bi-base)%8)
			buf.Data[byteIdx] |= mask
		}
		fsys.log.LogWrite(buf)
		buf.Unlock()
		fsys.cache.Release(buf)
	}
	return nil
}
