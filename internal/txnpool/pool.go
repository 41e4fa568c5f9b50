package txnpool

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Slot is a pooled read-transaction slot: a reusable Snapshot plus bookkeeping
// to detect whether it is currently checked out.
//
// Adapted from the donor's pool.Connection: instead of wrapping a live database
// connection, a Slot is reused across checkouts, and each Acquire gives it a
// fresh Snapshot taken at the latest committed state.
type Slot struct {
	Snapshot *Snapshot
	id       uint64
	inUse    atomic.Bool
}

// ID returns the slot's stable identifier within its pool.
func (s *Slot) ID() uint64 { return s.id }

// Pool is a bounded pool of read-transaction slots, adapted from the donor's
// pool.Pool connection pool: Acquire pops an idle slot and gives it a fresh
// snapshot of the latest committed state (or allocates a new one up to the
// configured cap); Release returns the slot to the pool without discarding it.
type Pool struct {
	mgr      *Manager
	slots    []*Slot
	mu       sync.Mutex
	nextID   atomic.Uint64
	maxSize  int
	level    IsolationLevel
	closed   bool
	writerID func() uint64
}

// DefaultPoolSize is the default number of read-transaction slots kept warm.
const DefaultPoolSize = 16

// NewPool creates a read-transaction pool bound to mgr. writerID supplies the
// (possibly synthetic) transaction id used to register each acquired snapshot
// with the Manager; readers never hold the writer mutex, so these ids are
// disjoint from real write-transaction ids by convention of the caller.
func NewPool(mgr *Manager, maxSize int, level IsolationLevel, writerID func() uint64) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultPoolSize
	}
	return &Pool{
		mgr:      mgr,
		slots:    make([]*Slot, 0, maxSize),
		maxSize:  maxSize,
		level:    level,
		writerID: writerID,
	}
}

// Acquire checks out an idle slot, renewing its snapshot to the latest
// committed state, or creates a new slot if the pool has not reached its cap.
func (p *Pool) Acquire() (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("read-transaction pool is closed")
	}

	for _, slot := range p.slots {
		if !slot.inUse.Load() {
			slot.inUse.Store(true)
			slot.Snapshot = p.mgr.BeginSnapshot(p.readerTxnID(), p.level)
			return slot, nil
		}
	}

	if len(p.slots) >= p.maxSize {
		return nil, fmt.Errorf("read-transaction pool exhausted, max size %d reached", p.maxSize)
	}

	slot := &Slot{
		id:       p.nextID.Add(1),
		Snapshot: p.mgr.BeginSnapshot(p.readerTxnID(), p.level),
	}
	slot.inUse.Store(true)
	p.slots = append(p.slots, slot)
	return slot, nil
}

func (p *Pool) readerTxnID() uint64 {
	if p.writerID != nil {
		return p.writerID()
	}
	return 0
}

// Release returns a slot to the pool, resetting its in-use flag without
// discarding the underlying Snapshot (it is renewed on the next Acquire).
func (p *Pool) Release(slot *Slot) {
	if slot == nil {
		return
	}
	if slot.Snapshot != nil {
		p.mgr.ReleaseSnapshot(slot.Snapshot)
	}
	slot.inUse.Store(false)
}

// Len returns the number of slots currently allocated (in use or idle).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Close marks the pool closed; further Acquire calls fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
