package blockdev

import (
	"errors"
	"sync"
)

// ErrNoBuffers is returned when the cache has reached its capacity and
// every slot is still referenced, so none can be evicted.
var ErrNoBuffers = errors.New("blockdev: buffer cache exhausted")

// Buf is a cached, reference-counted block buffer. Data is exactly
// BlockSize bytes. The sleep lock described by the engine's lock
// hierarchy (§5 of the specification this package backs) is Buf's own
// mutex: callers lock a Buf before touching Data and unlock when done,
// exactly like the external contract's "block-buffer sleep lock".
type Buf struct {
	Block uint32
	Data  []byte

	mu     sync.Mutex
	refcnt int
	dirty  bool
}

// Lock acquires the buffer's sleep lock. Block I/O may happen while
// held; it is not a spin lock.
func (b *Buf) Lock() { b.mu.Lock() }

// Unlock releases the buffer's sleep lock.
func (b *Buf) Unlock() { b.mu.Unlock() }

// Cache is a fixed-capacity, reference-counted buffer cache sitting in
// front of a Device. It implements the read_block/release contract
// described in the specification's external interfaces section.
type Cache struct {
	dev Device

	mu       sync.Mutex // table-wide spin lock: guards bufs and refcnt/dirty bookkeeping only
	bufs     map[uint32]*Buf
	capacity int
}

// NewCache wraps dev with a buffer cache holding at most capacity
// distinct blocks at once. capacity <= 0 means unbounded.
func NewCache(dev Device, capacity int) *Cache {
	return &Cache{dev: dev, bufs: make(map[uint32]*Buf), capacity: capacity}
}

// ReadBlock returns a referenced buffer for block bno, reading through
// to the device on a cache miss. The caller must Release it when done.
func (c *Cache) ReadBlock(bno uint32) (*Buf, error) {
	c.mu.Lock()
	if b, ok := c.bufs[bno]; ok {
		b.refcnt++
		c.mu.Unlock()
		return b, nil
	}

	if c.capacity > 0 && len(c.bufs) >= c.capacity {
		if !c.evictLocked() {
			c.mu.Unlock()
			return nil, ErrNoBuffers
		}
	}

	b := &Buf{Block: bno, Data: make([]byte, BlockSize), refcnt: 1}
	c.bufs[bno] = b
	c.mu.Unlock()

	if _, err := c.dev.ReadAt(b.Data, int64(bno)*BlockSize); err != nil {
		c.mu.Lock()
		delete(c.bufs, bno)
		c.mu.Unlock()
		return nil, err
	}
	return b, nil
}

// evictLocked drops one unreferenced, non-dirty buffer. Caller holds c.mu.
func (c *Cache) evictLocked() bool {
	for bno, b := range c.bufs {
		if b.refcnt == 0 && !b.dirty {
			delete(c.bufs, bno)
			return true
		}
	}
	return false
}

// Release drops a reference to buf, taken by a prior ReadBlock.
func (c *Cache) Release(buf *Buf) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if buf.refcnt > 0 {
		buf.refcnt--
	}
}

// MarkDirty flags buf as needing to be written back. Pairing this with
// a Journal's LogWrite is what makes the write part of an atomic
// transaction; MarkDirty alone only affects in-memory state.
func (c *Cache) MarkDirty(buf *Buf) {
	c.mu.Lock()
	buf.dirty = true
	c.mu.Unlock()
}

// flush writes buf back to the device and clears its dirty bit. Called
// by Journal on transaction commit.
func (c *Cache) flush(buf *Buf) error {
	buf.mu.Lock()
	data := append([]byte(nil), buf.Data...)
	buf.mu.Unlock()
	if _, err := c.dev.WriteAt(data, int64(buf.Block)*BlockSize); err != nil {
		return err
	}
	c.mu.Lock()
	buf.dirty = false
	c.mu.Unlock()
	return nil
}
