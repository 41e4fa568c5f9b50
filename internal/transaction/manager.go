// Package transaction coordinates write transactions over the WAL and the
// txnpool snapshot bookkeeping: every write is staged in a per-transaction
// write-set and logged before Commit marks the transaction visible to new
// readers, giving callers "read your own writes" without waiting on the
// underlying B+Tree mutation.
package transaction

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/motedb/motedb/internal/txnpool"
	"github.com/motedb/motedb/internal/wal"
)

// Status is the lifecycle state of a Transaction.
type Status int

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

// Transaction tracks one write transaction's staged writes and WAL position.
type Transaction struct {
	ID             uint64
	Status         Status
	IsolationLevel txnpool.IsolationLevel
	WriteSet       map[string][]byte
	PrevLSN        wal.LSN
	snapshot       *txnpool.Snapshot
	mu             sync.Mutex
}

// Manager begins, commits and rolls back transactions, logging every staged
// write to the WAL and registering commit/abort with the snapshot manager so
// concurrent readers see a consistent view.
type Manager struct {
	snapMgr   *txnpool.Manager
	wal       *wal.WAL
	mu        sync.Mutex
	nextTxnID atomic.Uint64
	active    map[uint64]*Transaction
	closed    bool
}

// NewTransactionManager creates a Manager bound to a snapshot manager and a WAL.
func NewTransactionManager(snapMgr *txnpool.Manager, walWriter *wal.WAL) *Manager {
	return &Manager{
		snapMgr: snapMgr,
		wal:     walWriter,
		active:  make(map[uint64]*Transaction),
	}
}

// Begin starts a new transaction at the given isolation level.
func (m *Manager) Begin(level txnpool.IsolationLevel) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("transaction manager is closed")
	}

	txnID := m.nextTxnID.Add(1)
	snap := m.snapMgr.BeginSnapshot(txnID, level)

	txn := &Transaction{
		ID:             txnID,
		Status:         StatusActive,
		IsolationLevel: level,
		WriteSet:       make(map[string][]byte),
		snapshot:       snap,
	}
	m.active[txnID] = txn
	return txn, nil
}

// Write stages a key/value write in the transaction's write-set and appends
// an Update record (wal.RecordTypeUpdate) to the WAL. The underlying B+Tree is not touched
// here; callers apply the mutation to storage themselves and rely on Write
// only for durability and read-your-own-writes visibility.
func (m *Manager) Write(txn *Transaction, key string, value []byte) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if txn.Status != StatusActive {
		return fmt.Errorf("transaction %d is not active", txn.ID)
	}

	rec := &wal.Record{
		TxnID:     txn.ID,
		Type:      wal.RecordTypeUpdate,
		Key:       []byte(key),
		Value:     value,
		PrevLSN:   txn.PrevLSN,
		Timestamp: time.Now().UnixNano(),
	}
	lsn, err := m.wal.Append(rec)
	if err != nil {
		return fmt.Errorf("wal append failed: %w", err)
	}
	txn.PrevLSN = lsn
	txn.WriteSet[key] = value
	return nil
}

// Read returns the value written by txn itself within its own write-set, for
// read-your-own-writes semantics. It does not consult storage; callers fall
// back to the B+Tree when the key is absent here.
func (m *Manager) Read(txn *Transaction, key string) ([]byte, error) {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if v, ok := txn.WriteSet[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("key %q not found in transaction write-set", key)
}

// Commit appends a commit record to the WAL and marks the transaction
// committed, making its writes visible to snapshots begun afterward.
func (m *Manager) Commit(txn *Transaction) error {
	txn.mu.Lock()
	if txn.Status != StatusActive {
		txn.mu.Unlock()
		return fmt.Errorf("transaction %d is not active", txn.ID)
	}

	rec := &wal.Record{
		TxnID:     txn.ID,
		Type:      wal.RecordTypeCommit,
		PrevLSN:   txn.PrevLSN,
		Timestamp: time.Now().UnixNano(),
	}
	if _, err := m.wal.Append(rec); err != nil {
		txn.mu.Unlock()
		return fmt.Errorf("wal commit append failed: %w", err)
	}
	if err := m.wal.Sync(); err != nil {
		txn.mu.Unlock()
		return fmt.Errorf("wal sync failed: %w", err)
	}
	txn.Status = StatusCommitted
	txn.mu.Unlock()

	m.snapMgr.CommitTransaction(txn.ID)
	m.snapMgr.ReleaseSnapshot(txn.snapshot)

	m.mu.Lock()
	delete(m.active, txn.ID)
	m.mu.Unlock()

	return nil
}

// Rollback appends an abort record to the WAL and marks the transaction
// aborted, discarding its write-set.
func (m *Manager) Rollback(txn *Transaction) error {
	txn.mu.Lock()
	if txn.Status != StatusActive {
		txn.mu.Unlock()
		return fmt.Errorf("transaction %d is not active", txn.ID)
	}

	rec := &wal.Record{
		TxnID:     txn.ID,
		Type:      wal.RecordTypeAbort,
		PrevLSN:   txn.PrevLSN,
		Timestamp: time.Now().UnixNano(),
	}
	if _, err := m.wal.Append(rec); err != nil {
		txn.mu.Unlock()
		return fmt.Errorf("wal abort append failed: %w", err)
	}
	txn.Status = StatusAborted
	txn.WriteSet = make(map[string][]byte)
	txn.mu.Unlock()

	m.snapMgr.AbortTransaction(txn.ID)
	m.snapMgr.ReleaseSnapshot(txn.snapshot)

	m.mu.Lock()
	delete(m.active, txn.ID)
	m.mu.Unlock()

	return nil
}

// GetActiveTransactionCount returns the number of transactions currently active.
func (m *Manager) GetActiveTransactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close closes the manager. Any still-active transactions are left as-is;
// callers are expected to have committed or rolled them back already.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
