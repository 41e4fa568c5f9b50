package motedb

import (
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/motedb/motedb/internal/kv"
	"github.com/motedb/motedb/internal/query"
)

// CollectionSchema is the persistent record describing one collection: its
// primary subtree root, the document count writers maintain in constant
// time, and IDCounter, which is written as 0 at creation and not updated.
type CollectionSchema struct {
	Name          string `bson:"name"`
	DocCount      int64  `bson:"doc_count"`
	IDCounter     int64  `bson:"id_counter"`
	PrimaryRootID uint64 `bson:"primary_root_id"`
}

// KeySpecEntry is one (field, direction) component of an index descriptor,
// BSON-encoded form of query.KeyPart.
type KeySpecEntry struct {
	Field     string `bson:"field"`
	Direction int32  `bson:"direction"`
}

// IndexDescriptor is the persistent record describing one secondary index.
type IndexDescriptor struct {
	Collection string         `bson:"collection"`
	Name       string         `bson:"name"`
	KeySpec    []KeySpecEntry `bson:"key_spec"`
	Unique     bool           `bson:"unique"`
	Sparse     bool           `bson:"sparse"`
	RootID     uint64         `bson:"root_id"`
}

// ToKeyParts converts a descriptor's key spec into the form the query package
// operates on.
func (d *IndexDescriptor) ToKeyParts() []query.KeyPart {
	parts := make([]query.KeyPart, len(d.KeySpec))
	for i, ks := range d.KeySpec {
		parts[i] = query.KeyPart{Path: ks.Field, Direction: query.Direction(ks.Direction)}
	}
	return parts
}

// MetadataManager persists collection schema and index descriptor records in
// a dedicated BSON-encoded subtree, replacing the donor's side-file JSON
// catalog: both are the database's single source of truth for which
// subtrees exist and where their B+Tree roots live, but here that catalog is
// itself a B+Tree subtree whose own root is bootstrapped from the page-0
// superblock (see Database.Open).
type MetadataManager struct {
	tree *kv.BPlusTree
	mu   sync.RWMutex
}

// NewMetadataManager wraps an already-opened metadata subtree.
func NewMetadataManager(tree *kv.BPlusTree) *MetadataManager {
	return &MetadataManager{tree: tree}
}

func schemaKey(name string) []byte  { return []byte("schema:" + name) }
func indexKey(collection, name string) []byte {
	return []byte("idx:" + collection + ":" + name)
}
func indexPrefix(collection string) []byte { return []byte("idx:" + collection + ":") }

// PutCollectionSchema writes or overwrites a collection's schema record.
func (mm *MetadataManager) PutCollectionSchema(s *CollectionSchema) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	data, err := bson.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal collection schema: %w", err)
	}
	return mm.tree.Insert(schemaKey(s.Name), data)
}

// GetCollectionSchema looks up a collection's schema record.
func (mm *MetadataManager) GetCollectionSchema(name string) (*CollectionSchema, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	data, err := mm.tree.Search(schemaKey(name))
	if err != nil || data == nil {
		return nil, false
	}
	var s CollectionSchema
	if err := bson.Unmarshal(data, &s); err != nil {
		return nil, false
	}
	return &s, true
}

// DeleteCollectionSchema removes a collection's schema record.
func (mm *MetadataManager) DeleteCollectionSchema(name string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.tree.Delete(schemaKey(name))
}

// ListCollections returns all known collection names by scanning the
// metadata subtree's schema: prefix.
func (mm *MetadataManager) ListCollections() []string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	entries, err := mm.tree.RangeScan([]byte("schema:"), []byte("schema;"))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		var s CollectionSchema
		if err := bson.Unmarshal(e.Value, &s); err == nil {
			names = append(names, s.Name)
		}
	}
	return names
}

// PutIndexDescriptor writes or overwrites an index descriptor record.
func (mm *MetadataManager) PutIndexDescriptor(d *IndexDescriptor) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	data, err := bson.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal index descriptor: %w", err)
	}
	return mm.tree.Insert(indexKey(d.Collection, d.Name), data)
}

// GetIndexDescriptor looks up one named index on a collection.
func (mm *MetadataManager) GetIndexDescriptor(collection, name string) (*IndexDescriptor, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	data, err := mm.tree.Search(indexKey(collection, name))
	if err != nil || data == nil {
		return nil, false
	}
	var d IndexDescriptor
	if err := bson.Unmarshal(data, &d); err != nil {
		return nil, false
	}
	return &d, true
}

// DeleteIndexDescriptor removes one named index's descriptor record.
func (mm *MetadataManager) DeleteIndexDescriptor(collection, name string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.tree.Delete(indexKey(collection, name))
}

// ListIndexDescriptors returns every index descriptor for a collection.
func (mm *MetadataManager) ListIndexDescriptors(collection string) []*IndexDescriptor {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	prefix := indexPrefix(collection)
	upper := append(append([]byte{}, prefix...), 0xFF)
	entries, err := mm.tree.RangeScan(prefix, upper)
	if err != nil {
		return nil
	}
	out := make([]*IndexDescriptor, 0, len(entries))
	for _, e := range entries {
		var d IndexDescriptor
		if err := bson.Unmarshal(e.Value, &d); err == nil {
			out = append(out, &d)
		}
	}
	return out
}
