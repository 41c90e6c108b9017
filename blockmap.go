package xv6fs

import "encoding/binary"

// bmap returns the disk block address backing logical block bn of ip,
// allocating the leaf block (and any indirect blocks along the way to
// it) on a read-miss. ip must be locked and the caller inside a
// transaction.
func (ip *Inode) bmap(bn uint32) (uint32, error) {
	if ip.Kind.IsExtent() {
		return ip.bmapExtent(bn)
	}
	return ip.bmapStandard(bn)
}

func (ip *Inode) bmapStandard(bn uint32) (uint32, error) {
	if bn < NDIRECT {
		return ip.allocSlot(&ip.Addrs[bn])
	}
	bn -= NDIRECT
	if bn < NINDIRECT {
		return ip.walkIndirect(&ip.Addrs[NDIRECT], bn, 1)
	}
	bn -= NINDIRECT
	if bn < NINDIRECT*NINDIRECT {
		return ip.walkIndirect(&ip.Addrs[NDIRECT+1], bn, 2)
	}
	bn -= NINDIRECT * NINDIRECT
	if bn < NINDIRECT*NINDIRECT*NINDIRECT {
		return ip.walkIndirect(&ip.Addrs[NDIRECT+2], bn, 3)
	}
	fatal("bmap: logical block out of range")
	return 0, nil
}

// allocSlot returns *slot, allocating a fresh block into it first if
// it's zero.
func (ip *Inode) allocSlot(slot *uint32) (uint32, error) {
	if *slot != 0 {
		return *slot, nil
	}
	a, err := ip.fsys.AllocBlock()
	if err != nil {
		return 0, err
	}
	*slot = a
	return a, nil
}

// walkIndirect follows depth levels of indirection rooted at *root
// (allocating the root and every intermediate block lazily) and
// returns the disk address of logical offset bn within that subtree.
// depth 1 is a single-indirect block (bn indexes directly into it);
// depth 2 and 3 are the double- and triple-indirect cases, generalizing
// the reference implementation's separately unrolled loops into one
// recursive descent.
func (ip *Inode) walkIndirect(root *uint32, bn uint32, depth int) (uint32, error) {
	addr, err := ip.allocSlot(root)
	if err != nil {
		return 0, err
	}
	for remaining := depth; remaining > 1; remaining-- {
		span := pow32(NINDIRECT, uint32(remaining-1))
		idx := bn / span
		bn = bn % span
		next, err := ip.readIndirectSlot(addr, idx)
		if err != nil {
			return 0, err
		}
		if next == 0 {
			a, err := ip.fsys.AllocBlock()
			if err != nil {
				return 0, err
			}
			if err := ip.writeIndirectSlot(addr, idx, a); err != nil {
				return 0, err
			}
			next = a
		}
		addr = next
	}
	leaf, err := ip.readIndirectSlot(addr, bn)
	if err != nil {
		return 0, err
	}
	if leaf == 0 {
		a, err := ip.fsys.AllocBlock()
		if err != nil {
			return 0, err
		}
		if err := ip.writeIndirectSlot(addr, bn, a); err != nil {
			return 0, err
		}
		leaf = a
	}
	return leaf, nil
}

func pow32(base, exp uint32) uint32 {
	r := uint32(1)
	for i := uint32(0); i < exp; i++ {
		r *= base
	}
	return r
}

func (ip *Inode) readIndirectSlot(block, idx uint32) (uint32, error) {
	buf, err := ip.fsys.cache.ReadBlock(block)
	if err != nil {
		return 0, err
	}
	defer ip.fsys.cache.Release(buf)
	buf.Lock()
	defer buf.Unlock()
	return binary.LittleEndian.Uint32(buf.Data[idx*4:]), nil
}

func (ip *Inode) writeIndirectSlot(block, idx, val uint32) error {
	buf, err := ip.fsys.cache.ReadBlock(block)
	if err != nil {
		return err
	}
	buf.Lock()
	binary.LittleEndian.PutUint32(buf.Data[idx*4:], val)
	ip.fsys.log.LogWrite(buf)
	buf.Unlock()
	ip.fsys.cache.Release(buf)
	return nil
}

// bmapExtent implements the extent-mode block map: ip.Addrs holds a
// sequence of (packed, firstLogicalBlock) pairs terminated by a zero
// packed word. packed's low byte is the run length (capped at 255, the
// field's width) and the remaining bits are the physical start block.
// Lookup walks the pairs until one covers bn; allocation either extends
// the last run (when the new block is both physically and logically
// contiguous with it) or appends a new pair.
func (ip *Inode) bmapExtent(bn uint32) (uint32, error) {
	i := 0
	for i+1 < len(ip.Addrs) && ip.Addrs[i] != 0 {
		packed := ip.Addrs[i]
		first := ip.Addrs[i+1]
		runLen := packed & 0xff
		start := packed >> 8
		if bn >= first && bn < first+runLen {
			return start + (bn - first), nil
		}
		i += 2
	}

	addr, err := ip.fsys.AllocBlock()
	if err != nil {
		return 0, err
	}
	if i > 0 {
		prevPacked := ip.Addrs[i-2]
		prevFirst := ip.Addrs[i-1]
		prevLen := prevPacked & 0xff
		prevStart := prevPacked >> 8
		if prevLen < 0xff && addr == prevStart+prevLen && bn == prevFirst+prevLen {
			ip.Addrs[i-2] = (prevStart << 8) | (prevLen + 1)
			return addr, nil
		}
	}
	if i+1 >= len(ip.Addrs) {
		return 0, ErrFileTooLarge
	}
	ip.Addrs[i] = (addr << 8) | 1
	ip.Addrs[i+1] = bn
	return addr, nil
}

// truncate frees every data block reachable from ip and resets Size to
// 0. ip must be locked and the caller inside a transaction.
//
// The triple-indirect root (Addrs[NDIRECT+2]) is freed here, correcting
// a bug in the reference implementation's itrunc, which frees
// Addrs[NDIRECT+1] a second time instead.
func (ip *Inode) truncate() error {
	if ip.Kind.IsExtent() {
		for i := 0; i+1 < len(ip.Addrs) && ip.Addrs[i] != 0; i += 2 {
			packed := ip.Addrs[i]
			start := packed >> 8
			runLen := packed & 0xff
			for b := uint32(0); b < runLen; b++ {
				if err := ip.fsys.FreeBlock(start + b); err != nil {
					return err
				}
			}
			ip.Addrs[i] = 0
			ip.Addrs[i+1] = 0
		}
	} else {
		for i := 0; i < NDIRECT; i++ {
			if ip.Addrs[i] != 0 {
				if err := ip.fsys.FreeBlock(ip.Addrs[i]); err != nil {
					return err
				}
				ip.Addrs[i] = 0
			}
		}
		if err := ip.freeIndirectChain(&ip.Addrs[NDIRECT], 1); err != nil {
			return err
		}
		if err := ip.freeIndirectChain(&ip.Addrs[NDIRECT+1], 2); err != nil {
			return err
		}
		if err := ip.freeIndirectChain(&ip.Addrs[NDIRECT+2], 3); err != nil {
			return err
		}
	}
	ip.Size = 0
	return nil
}

// freeIndirectChain recursively frees every block reachable through
// depth levels of indirection from *root, then frees *root itself.
func (ip *Inode) freeIndirectChain(root *uint32, depth int) error {
	addr := *root
	if addr == 0 {
		return nil
	}
	buf, err := ip.fsys.cache.ReadBlock(addr)
	if err != nil {
		return err
	}
	ptrs := make([]uint32, NINDIRECT)
	buf.Lock()
	for i := range ptrs {
		ptrs[i] = binary.LittleEndian.Uint32(buf.Data[i*4:])
	}
	buf.Unlock()
	ip.fsys.cache.Release(buf)

	for _, p := range ptrs {
		if p == 0 {
			continue
		}
		if depth > 1 {
			child := p
			if err := ip.freeIndirectChain(&child, depth-1); err != nil {
				return err
			}
		} else if err := ip.fsys.FreeBlock(p); err != nil {
			return err
		}
	}
	if err := ip.fsys.FreeBlock(addr); err != nil {
		return err
	}
	*root = 0
	return nil
}
