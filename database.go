// Package motedb implements a high-performance, embedded document database in Go.
//
// Key Features:
//   - A MongoDB-style document API (InsertOne/Find/UpdateOne/...) over an
//     ordered key/value storage engine (internal/kv).
//   - Write-Ahead Logging (internal/wal) for durability and crash recovery.
//   - Snapshot-based concurrent reads (internal/txnpool) with a single
//     writer mutex serializing write transactions (internal/transaction).
//   - A MongoDB-semantic filter matcher, cross-type comparator and
//     composite-key secondary index encoding (internal/query).
package motedb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/motedb/motedb/internal/kv"
	"github.com/motedb/motedb/internal/query"
	"github.com/motedb/motedb/internal/transaction"
	"github.com/motedb/motedb/internal/txnpool"
	"github.com/motedb/motedb/internal/wal"
)

// Database is a handle to a directory holding one motedb database. It is
// safe for concurrent use: reads proceed concurrently via a bounded pool of
// snapshot slots, writes are serialized by a single writer mutex.
type Database struct {
	path string
	opts *Options

	pager      *kv.Pager
	bufferPool *kv.BufferPool
	walWriter  *wal.WAL

	metadataTree *kv.BPlusTree
	metadataMgr  *MetadataManager

	snapMgr  *txnpool.Manager
	readPool *txnpool.Pool
	txnMgr   *transaction.Manager

	regexCache *query.RegexCache

	collections map[string]*Collection
	writeMu     sync.Mutex
	mu          sync.RWMutex
	closed      bool

	readerSeq atomic.Uint64
	logger    *zap.Logger
}

// superblockPageID is the reserved page holding the metadata subtree's root
// page id, repurposing Page's NextPage field rather than introducing new
// internal/kv API for this document-layer concept.
const superblockPageID = kv.PageID(0)

// Open opens (creating if necessary) the database directory at path.
func Open(path string, opts *Options) (*Database, error) {
	if opts == nil {
		opts = DefaultOptions(path)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BufferPoolSize <= 0 {
		opts.BufferPoolSize = 256
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, Wrap(KindInvalid, "create database directory", err)
	}

	pager, err := kv.NewPager(filepath.Join(path, "data.db"), opts.EncryptionKey)
	if err != nil {
		return nil, Wrap(KindStorage, "open pager", err)
	}

	bufferPool := kv.NewBufferPool(opts.BufferPoolSize, pager)

	walWriter, err := wal.NewWAL(filepath.Join(path, "wal"))
	if err != nil {
		pager.Close()
		return nil, Wrap(KindStorage, "open wal", err)
	}

	metadataTree, err := bootstrapMetadataTree(bufferPool, pager)
	if err != nil {
		walWriter.Close()
		pager.Close()
		return nil, Wrap(KindStorage, "bootstrap metadata subtree", err)
	}

	snapMgr := txnpool.NewManager()
	txnMgr := transaction.NewTransactionManager(snapMgr, walWriter)

	db := &Database{
		path:         path,
		opts:         opts,
		pager:        pager,
		bufferPool:   bufferPool,
		walWriter:    walWriter,
		metadataTree: metadataTree,
		metadataMgr:  NewMetadataManager(metadataTree),
		snapMgr:      snapMgr,
		txnMgr:       txnMgr,
		regexCache:   query.NewRegexCache(),
		collections:  make(map[string]*Collection),
		logger:       opts.Logger,
	}

	poolSize := opts.ReadPoolSize
	if poolSize <= 0 {
		poolSize = txnpool.DefaultPoolSize
	}
	db.readPool = txnpool.NewPool(snapMgr, poolSize, txnpool.ReadCommitted, func() uint64 {
		// Readers take ids from the top half of the uint64 space; write
		// transactions count up from 1, so the two never collide.
		return db.readerSeq.Add(1) | 1<<63
	})

	if err := db.restoreCollections(); err != nil {
		db.Close()
		return nil, Wrap(KindStorage, "restore collections", err)
	}

	db.logger.Info("database opened", zap.String("path", path), zap.Int("collections", len(db.collections)))
	return db, nil
}

// bootstrapMetadataTree allocates page 0 as a superblock on first open, or
// reads the existing superblock to recover the metadata subtree's root.
func bootstrapMetadataTree(bp *kv.BufferPool, pager *kv.Pager) (*kv.BPlusTree, error) {
	if pager.GetNextPageID() == 0 {
		super, err := bp.NewPage(kv.PageTypeMeta)
		if err != nil {
			return nil, fmt.Errorf("allocate superblock page: %w", err)
		}
		if super.ID != superblockPageID {
			return nil, fmt.Errorf("expected superblock at page 0, got page %d", super.ID)
		}

		metaTree, err := kv.NewBPlusTree(bp)
		if err != nil {
			bp.UnpinPage(super.ID, false)
			return nil, fmt.Errorf("create metadata tree: %w", err)
		}

		super.SetNextPage(metaTree.GetRootID())
		if err := bp.UnpinPage(super.ID, true); err != nil {
			return nil, err
		}
		if err := bp.FlushPage(super.ID); err != nil {
			return nil, err
		}

		metaTree.SetOnRootChange(func(newRoot kv.PageID) {
			persistMetadataRoot(bp, newRoot)
		})
		return metaTree, nil
	}

	super, err := bp.FetchPage(superblockPageID)
	if err != nil {
		return nil, fmt.Errorf("fetch superblock page: %w", err)
	}
	rootID := super.GetNextPage()
	if err := bp.UnpinPage(superblockPageID, false); err != nil {
		return nil, err
	}

	metaTree, err := kv.LoadBPlusTree(bp, rootID)
	if err != nil {
		return nil, fmt.Errorf("load metadata tree at root %d: %w", rootID, err)
	}
	metaTree.SetOnRootChange(func(newRoot kv.PageID) {
		persistMetadataRoot(bp, newRoot)
	})
	return metaTree, nil
}

func persistMetadataRoot(bp *kv.BufferPool, newRoot kv.PageID) {
	super, err := bp.FetchPage(superblockPageID)
	if err != nil {
		return
	}
	super.SetNextPage(newRoot)
	bp.UnpinPage(superblockPageID, true)
	bp.FlushPage(superblockPageID)
}

// restoreCollections reopens every collection's primary and index subtrees
// named in the metadata subtree.
func (db *Database) restoreCollections() error {
	for _, name := range db.metadataMgr.ListCollections() {
		schema, ok := db.metadataMgr.GetCollectionSchema(name)
		if !ok {
			continue
		}
		col, err := db.openCollection(schema)
		if err != nil {
			return err
		}
		db.collections[name] = col
	}
	return nil
}

func (db *Database) openCollection(schema *CollectionSchema) (*Collection, error) {
	primaryTree, err := kv.LoadBPlusTree(db.bufferPool, kv.PageID(schema.PrimaryRootID))
	if err != nil {
		return nil, fmt.Errorf("load primary subtree for %q: %w", schema.Name, err)
	}
	name := schema.Name
	primaryTree.SetOnRootChange(func(newRoot kv.PageID) {
		db.persistCollectionRoot(name, newRoot)
	})

	col := &Collection{
		db:      db,
		name:    name,
		primary: primaryTree,
		indexes: make(map[string]*indexHandle),
	}

	for _, desc := range db.metadataMgr.ListIndexDescriptors(name) {
		idxTree, err := kv.LoadBPlusTree(db.bufferPool, kv.PageID(desc.RootID))
		if err != nil {
			return nil, fmt.Errorf("load index subtree %q.%q: %w", name, desc.Name, err)
		}
		idxName := desc.Name
		idxTree.SetOnRootChange(func(newRoot kv.PageID) {
			col.persistIndexRoot(idxName, newRoot)
		})
		col.indexes[desc.Name] = &indexHandle{desc: desc, tree: idxTree}
	}

	return col, nil
}

func (db *Database) persistCollectionRoot(name string, newRoot kv.PageID) {
	schema, ok := db.metadataMgr.GetCollectionSchema(name)
	if !ok {
		return
	}
	schema.PrimaryRootID = uint64(newRoot)
	db.metadataMgr.PutCollectionSchema(schema)
}

// CreateCollection returns the named collection, creating its primary
// subtree and schema record if it does not already exist.
func (db *Database) CreateCollection(name string, _ *CollectionOptions) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, NewError(KindClosed, "database is closed")
	}
	if col, ok := db.collections[name]; ok {
		return col, nil
	}

	primaryTree, err := kv.NewBPlusTree(db.bufferPool)
	if err != nil {
		return nil, Wrap(KindStorage, "create primary subtree", err)
	}

	schema := &CollectionSchema{
		Name:          name,
		DocCount:      0,
		IDCounter:     0,
		PrimaryRootID: uint64(primaryTree.GetRootID()),
	}
	if err := db.metadataMgr.PutCollectionSchema(schema); err != nil {
		return nil, Wrap(KindStorage, "write collection schema", err)
	}

	primaryTree.SetOnRootChange(func(newRoot kv.PageID) {
		db.persistCollectionRoot(name, newRoot)
	})

	col := &Collection{
		db:      db,
		name:    name,
		primary: primaryTree,
		indexes: make(map[string]*indexHandle),
	}
	db.collections[name] = col

	db.logger.Info("collection created", zap.String("collection", name))
	return col, nil
}

// GetCollection returns an already-open collection, or nil if it does not exist.
func (db *Database) GetCollection(name string) *Collection {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.collections[name]
}

// CollectionExists reports whether name has been created.
func (db *Database) CollectionExists(name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.collections[name]
	return ok
}

// ListCollections returns the names of all open collections.
func (db *Database) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	return names
}

// DropCollection removes a collection's schema, index descriptors, and
// drops its in-memory handle. The underlying subtree pages are not
// reclaimed; internal/kv has no free-list, matching the donor's own
// page-allocation model.
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return NewError(KindClosed, "database is closed")
	}
	col, ok := db.collections[name]
	if !ok {
		return NewError(KindNotFound, fmt.Sprintf("collection %q does not exist", name))
	}

	for idxName := range col.indexes {
		db.metadataMgr.DeleteIndexDescriptor(name, idxName)
	}
	db.metadataMgr.DeleteCollectionSchema(name)
	delete(db.collections, name)

	db.logger.Info("collection dropped", zap.String("collection", name))
	return nil
}

// beginWrite acquires the single writer mutex and starts a write
// transaction. The caller must call commitWrite or abortWrite exactly once.
func (db *Database) beginWrite() (*transaction.Transaction, error) {
	db.mu.RLock()
	closed := db.closed
	db.mu.RUnlock()
	if closed {
		return nil, NewError(KindClosed, "database is closed")
	}
	if db.opts.ReadOnly {
		return nil, NewError(KindClosed, "database is read-only")
	}

	db.writeMu.Lock()
	txn, err := db.txnMgr.Begin(txnpool.ReadCommitted)
	if err != nil {
		db.writeMu.Unlock()
		return nil, Wrap(KindStorage, "begin write transaction", err)
	}
	return txn, nil
}

func (db *Database) commitWrite(txn *transaction.Transaction) error {
	defer db.writeMu.Unlock()
	if err := db.txnMgr.Commit(txn); err != nil {
		return Wrap(KindStorage, "commit write transaction", err)
	}
	return nil
}

func (db *Database) abortWrite(txn *transaction.Transaction) error {
	defer db.writeMu.Unlock()
	if err := db.txnMgr.Rollback(txn); err != nil {
		return Wrap(KindStorage, "rollback write transaction", err)
	}
	return nil
}

// beginRead checks out a read-transaction slot from the bounded pool.
func (db *Database) beginRead() (*txnpool.Slot, error) {
	db.mu.RLock()
	closed := db.closed
	db.mu.RUnlock()
	if closed {
		return nil, NewError(KindClosed, "database is closed")
	}
	slot, err := db.readPool.Acquire()
	if err != nil {
		return nil, Wrap(KindOverflow, "acquire read slot", err)
	}
	return slot, nil
}

func (db *Database) endRead(slot *txnpool.Slot) {
	db.readPool.Release(slot)
}

// IsClosed reports whether Close has been called.
func (db *Database) IsClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// Close flushes all dirty pages, closes the WAL and pager, and marks the
// database closed. Close is idempotent.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	var firstErr error
	if db.readPool != nil {
		if err := db.readPool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if db.txnMgr != nil {
		if err := db.txnMgr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if db.bufferPool != nil {
		if err := db.bufferPool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if db.walWriter != nil {
		if err := db.walWriter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	db.logger.Info("database closed", zap.String("path", db.path))
	if firstErr != nil {
		return Wrap(KindStorage, "close database", firstErr)
	}
	return nil
}
