package motedb

import (
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/motedb/motedb/internal/kv"
	"github.com/motedb/motedb/internal/query"
)

// IndexKeyPart is one (field, direction) component of an index creation spec.
type IndexKeyPart struct {
	Field     string
	Direction int // +1 ascending, -1 descending
}

// IndexKeySpec is an ordered list of fields an index is built over.
type IndexKeySpec []IndexKeyPart

// indexHandle pairs an open index subtree with its persistent descriptor.
type indexHandle struct {
	desc *IndexDescriptor
	tree *kv.BPlusTree
}

// Collection is a named set of BSON documents backed by a primary subtree
// ordered by document id, plus zero or more named secondary index subtrees.
type Collection struct {
	name    string
	db      *Database
	primary *kv.BPlusTree
	indexes map[string]*indexHandle
	mu      sync.RWMutex
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) persistIndexRoot(name string, newRoot kv.PageID) {
	c.mu.RLock()
	ih, ok := c.indexes[name]
	c.mu.RUnlock()
	if !ok {
		return
	}
	ih.desc.RootID = uint64(newRoot)
	c.db.metadataMgr.PutIndexDescriptor(ih.desc)
}

// ListIndexes returns every secondary index descriptor on this collection.
func (c *Collection) ListIndexes() []IndexDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]IndexDescriptor, 0, len(c.indexes))
	for _, ih := range c.indexes {
		out = append(out, *ih.desc)
	}
	return out
}

// CreateIndex builds a secondary index over spec, returning its name. If an
// index with the same name and an identical key spec already exists, it is
// returned idempotently; a conflicting definition under the same name fails
// with an Exists-kind error.
func (c *Collection) CreateIndex(spec IndexKeySpec, opts *IndexOptions) (string, error) {
	if len(spec) == 0 {
		return "", NewError(KindInvalid, "index key spec must not be empty")
	}
	if opts == nil {
		opts = &IndexOptions{}
	}
	if opts.Name == idField {
		return "", NewError(KindInvalid, "_id is a reserved index name")
	}
	name := opts.Name
	if name == "" {
		name = defaultIndexName(spec)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.indexes[name]; ok {
		if indexSpecEqual(existing.desc, spec, opts) {
			return name, nil
		}
		return "", NewError(KindExists, fmt.Sprintf("index %q already exists with a different definition", name))
	}

	tree, err := kv.NewBPlusTree(c.db.bufferPool)
	if err != nil {
		return "", Wrap(KindStorage, "create index subtree", err)
	}

	keySpec := make([]KeySpecEntry, len(spec))
	parts := make([]query.KeyPart, len(spec))
	for i, p := range spec {
		dir := int32(1)
		if p.Direction < 0 {
			dir = -1
		}
		keySpec[i] = KeySpecEntry{Field: p.Field, Direction: dir}
		parts[i] = query.KeyPart{Path: p.Field, Direction: query.Direction(dir)}
	}

	desc := &IndexDescriptor{
		Collection: c.name,
		Name:       name,
		KeySpec:    keySpec,
		Unique:     opts.Unique,
		Sparse:     opts.Sparse,
		RootID:     uint64(tree.GetRootID()),
	}
	if err := c.db.metadataMgr.PutIndexDescriptor(desc); err != nil {
		return "", Wrap(KindStorage, "write index descriptor", err)
	}

	tree.SetOnRootChange(func(newRoot kv.PageID) {
		c.persistIndexRoot(name, newRoot)
	})
	c.indexes[name] = &indexHandle{desc: desc, tree: tree}

	if err := c.backfillIndex(name, parts, desc); err != nil {
		delete(c.indexes, name)
		c.db.metadataMgr.DeleteIndexDescriptor(c.name, name)
		return "", err
	}

	c.db.logger.Info("index created", zap.String("collection", c.name), zap.String("index", name))
	return name, nil
}

func defaultIndexName(spec IndexKeySpec) string {
	name := ""
	for i, p := range spec {
		if i > 0 {
			name += "_"
		}
		name += p.Field
		if p.Direction < 0 {
			name += "_-1"
		} else {
			name += "_1"
		}
	}
	return name
}

func indexSpecEqual(desc *IndexDescriptor, spec IndexKeySpec, opts *IndexOptions) bool {
	if len(desc.KeySpec) != len(spec) || desc.Unique != opts.Unique || desc.Sparse != opts.Sparse {
		return false
	}
	for i, p := range spec {
		dir := int32(1)
		if p.Direction < 0 {
			dir = -1
		}
		if desc.KeySpec[i].Field != p.Field || desc.KeySpec[i].Direction != dir {
			return false
		}
	}
	return true
}

// backfillIndex scans the primary tree and inserts an index entry for every
// existing document, matching the donor's lazy-index backfill pattern. For a
// unique index it checks each composite key against entries already
// inserted during this same backfill before inserting, failing the whole
// index creation on the first duplicate found.
func (c *Collection) backfillIndex(name string, parts []query.KeyPart, desc *IndexDescriptor) error {
	ih := c.indexes[name]
	entries, err := c.primary.RangeScan([]byte{0x00}, []byte{0xFF, 0xFF, 0xFF, 0xFF})
	if err != nil {
		return Wrap(KindStorage, "backfill index scan", err)
	}
	for _, e := range entries {
		doc, err := decodeDocument(e.Value)
		if err != nil {
			continue
		}
		values, present := extractIndexValues(doc, parts)
		if !present {
			if desc.Sparse {
				continue
			}
			values = make([]interface{}, len(parts))
		}

		if desc.Unique {
			bound := query.EncodeBound(parts, values)
			upper := append(append([]byte{}, bound...), 0xFF)
			existing, err := ih.tree.RangeScan(bound, upper)
			if err != nil {
				return Wrap(KindStorage, "backfill uniqueness check", err)
			}
			if len(existing) > 0 {
				return NewError(KindDuplicate, fmt.Sprintf("unique index %q violated by existing documents", name))
			}
		}

		compositeKey := query.EncodeCompositeKey(parts, values, e.Key)
		if err := ih.tree.Insert(compositeKey, e.Key); err != nil {
			return Wrap(KindStorage, "backfill index insert", err)
		}
	}
	return nil
}

// DropIndex removes a secondary index's descriptor and subtree handle.
func (c *Collection) DropIndex(name string) error {
	if name == idField {
		return NewError(KindInvalid, "_id is a reserved index name")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.indexes[name]; !ok {
		return NewError(KindNotFound, fmt.Sprintf("index %q does not exist", name))
	}
	if err := c.db.metadataMgr.DeleteIndexDescriptor(c.name, name); err != nil {
		return Wrap(KindStorage, "delete index descriptor", err)
	}
	delete(c.indexes, name)
	return nil
}

// extractIndexValues resolves each key part's field path against doc,
// returning false if any field is absent or null (the sparse-exclusion case).
func extractIndexValues(doc map[string]interface{}, parts []query.KeyPart) ([]interface{}, bool) {
	values := make([]interface{}, len(parts))
	for i, p := range parts {
		v, ok := resolveScalarPath(doc, p.Path)
		if !ok || v == nil {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

func resolveScalarPath(doc map[string]interface{}, path string) (interface{}, bool) {
	cur := interface{}(doc)
	for _, part := range splitPath(path) {
		m, ok := cur.(map[string]interface{})
		if !ok {
			if pm, ok2 := cur.(primitive.M); ok2 {
				m = map[string]interface{}(pm)
			} else {
				return nil, false
			}
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

func decodeDocument(raw []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Count returns the number of documents matching filter. An empty filter
// returns the collection's cached document count in constant time.
func (c *Collection) Count(filter bson.D) (int64, error) {
	if len(filter) == 0 {
		schema, ok := c.db.metadataMgr.GetCollectionSchema(c.name)
		if !ok {
			return 0, NewError(KindNotFound, "collection schema not found")
		}
		return schema.DocCount, nil
	}

	cur, err := c.Find(filter)
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	var n int64
	for cur.Next() {
		n++
	}
	return n, cur.Err()
}
