// Package txnpool manages read-transaction snapshots and the bounded pool of
// read-transaction slots exposed by Database.beginRead.
//
// It is adapted from the donor engine's mvcc.Snapshot/mvcc.SnapshotManager: the
// timestamp-ordered active/aborted transaction bookkeeping is kept, but the
// per-key Version chain machinery is dropped. The storage engine in this module
// (internal/kv) does not keep multiple physical versions of a page, so there is
// nothing for a Snapshot to select between; its only job is to answer "was txn X
// committed as of the time I started", used to decide whether a write-transaction's
// staged writes are visible to a concurrent reader.
package txnpool

import (
	"sync"
	"sync/atomic"
	"time"
)

// IsolationLevel defines the transaction isolation level.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

// Timestamp is a unique, monotonically increasing point in logical time.
type Timestamp uint64

// Snapshot captures the set of transactions considered committed at a point in time.
type Snapshot struct {
	Timestamp      Timestamp
	MaxTxnID       uint64
	ActiveTxns     []uint64
	AbortedTxns    []uint64
	IsolationLevel IsolationLevel
	mu             sync.RWMutex
}

// Manager tracks active/aborted transactions and vends snapshots.
type Manager struct {
	clock       atomic.Uint64
	activeSnaps map[Timestamp]*Snapshot
	abortedTxns map[uint64]bool
	activeTxns  map[uint64]bool
	maxTxnID    uint64
	mu          sync.RWMutex
}

// NewManager creates a new snapshot manager, seeded from the current wall clock
// so timestamps remain monotonic across process restarts.
func NewManager() *Manager {
	m := &Manager{
		activeSnaps: make(map[Timestamp]*Snapshot),
		abortedTxns: make(map[uint64]bool),
		activeTxns:  make(map[uint64]bool),
	}
	m.clock.Store(uint64(time.Now().UnixNano()))
	return m
}

// NewTimestamp returns a fresh, strictly increasing timestamp.
func (m *Manager) NewTimestamp() Timestamp {
	return Timestamp(m.clock.Add(1))
}

// BeginSnapshot registers txnID as active and returns a snapshot of the
// currently-active and currently-aborted transaction sets.
func (m *Manager) BeginSnapshot(txnID uint64, level IsolationLevel) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txnID > m.maxTxnID {
		m.maxTxnID = txnID
	}

	ts := m.NewTimestamp()

	active := make([]uint64, 0, len(m.activeTxns))
	for txn := range m.activeTxns {
		active = append(active, txn)
	}
	aborted := make([]uint64, 0, len(m.abortedTxns))
	for txn := range m.abortedTxns {
		aborted = append(aborted, txn)
	}

	snap := &Snapshot{
		Timestamp:      ts,
		MaxTxnID:       m.maxTxnID,
		ActiveTxns:     active,
		AbortedTxns:    aborted,
		IsolationLevel: level,
	}

	m.activeSnaps[ts] = snap
	m.activeTxns[txnID] = true

	return snap
}

// CommitTransaction marks txnID as no longer active (implicitly committed).
func (m *Manager) CommitTransaction(txnID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activeTxns, txnID)
}

// AbortTransaction marks txnID as aborted.
func (m *Manager) AbortTransaction(txnID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortedTxns[txnID] = true
	delete(m.activeTxns, txnID)
}

// ReleaseSnapshot drops bookkeeping for a snapshot that is no longer in use.
func (m *Manager) ReleaseSnapshot(s *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activeSnaps, s.Timestamp)
}

// GetOldestActiveSnapshot returns the timestamp of the oldest snapshot still held.
func (m *Manager) GetOldestActiveSnapshot() Timestamp {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.activeSnaps) == 0 {
		return Timestamp(m.clock.Load())
	}

	oldest := Timestamp(^uint64(0))
	for ts := range m.activeSnaps {
		if ts < oldest {
			oldest = ts
		}
	}
	return oldest
}

// IsCommitted reports whether txnID should be considered committed from the
// point of view of this snapshot.
func (s *Snapshot) IsCommitted(txnID uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.IsolationLevel == ReadUncommitted {
		return true
	}
	if contains(s.ActiveTxns, txnID) {
		return false
	}
	if contains(s.AbortedTxns, txnID) {
		return false
	}
	return true
}

func contains(xs []uint64, v uint64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
