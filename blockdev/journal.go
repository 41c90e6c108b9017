package blockdev

import "sync"

// defaultMaxLogBlocks bounds how many distinct blocks a single batch of
// concurrently-open transactions may dirty before IsLogFull reports
// true and callers are expected to call EndOp/BeginOp to flush.
const defaultMaxLogBlocks = 64

// Journal groups writes from one or more concurrently active
// operations into a single atomic commit, mirroring the begin_op/
// end_op/log_write/is_log_full contract external to the engine. Several
// goroutines may be "inside" a transaction at once — outstanding counts
// them — and the batch commits only when the last one calls EndOp,
// exactly like xv6's own log batching.
type Journal struct {
	cache *Cache

	mu          sync.Mutex
	cond        *sync.Cond
	outstanding int
	committing  bool
	writeSet    map[uint32]*Buf
	maxBlocks   int
}

// NewJournal creates a Journal that commits through cache.
func NewJournal(cache *Cache) *Journal {
	j := &Journal{cache: cache, writeSet: make(map[uint32]*Buf), maxBlocks: defaultMaxLogBlocks}
	j.cond = sync.NewCond(&j.mu)
	return j
}

// BeginOp enters a transaction, blocking while a commit is in flight or
// while admitting this caller would risk overflowing the log.
func (j *Journal) BeginOp() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for j.committing || len(j.writeSet) >= j.maxBlocks {
		j.cond.Wait()
	}
	j.outstanding++
}

// EndOp leaves a transaction. When the last outstanding caller leaves,
// every logged buffer is flushed to the device as one batch.
func (j *Journal) EndOp() error {
	j.mu.Lock()
	j.outstanding--
	outstanding := j.outstanding
	if outstanding == 0 {
		j.committing = true
	}
	j.mu.Unlock()

	if outstanding != 0 {
		return nil
	}

	j.mu.Lock()
	pending := make([]*Buf, 0, len(j.writeSet))
	for _, b := range j.writeSet {
		pending = append(pending, b)
	}
	j.writeSet = make(map[uint32]*Buf)
	j.mu.Unlock()

	var firstErr error
	for _, b := range pending {
		if err := j.cache.flush(b); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	j.mu.Lock()
	j.committing = false
	j.cond.Broadcast()
	j.mu.Unlock()
	return firstErr
}

// LogWrite registers buf to be written back atomically when the
// current transaction batch commits. Must be called between BeginOp
// and EndOp; the engine enforces this, matching the specification's
// "put must always be called inside a transaction" rule and its
// generalization to every write path.
func (j *Journal) LogWrite(buf *Buf) {
	j.cache.MarkDirty(buf)
	j.mu.Lock()
	j.writeSet[buf.Block] = buf
	j.mu.Unlock()
}

// IsLogFull reports whether the current batch is at capacity, advising
// callers doing a multi-block operation (directory growth, extent
// allocation) to bracket end_op()/begin_op() to flush early.
func (j *Journal) IsLogFull() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.writeSet) >= j.maxBlocks
}
