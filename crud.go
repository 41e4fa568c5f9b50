package motedb

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/motedb/motedb/internal/query"
)

const idField = "_id"

// InsertOne inserts a single document, generating an ObjectID _id if the
// caller did not supply one. Insertion validates every secondary index's
// uniqueness constraint before mutating any subtree, so a rejected insert
// leaves the primary and all indexes unchanged.
func (c *Collection) InsertOne(doc bson.D) (interface{}, error) {
	doc, idVal, err := ensureID(doc)
	if err != nil {
		return nil, err
	}

	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, Wrap(KindInvalid, "marshal document", err)
	}
	decoded, err := decodeDocument(data)
	if err != nil {
		return nil, Wrap(KindInvalid, "decode document", err)
	}

	key := query.EncodeValue(idVal)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, _ := c.primary.Search(key); existing != nil {
		return nil, NewError(KindDuplicate, fmt.Sprintf("document with _id %v already exists", idVal))
	}

	plan, err := c.planIndexInserts(decoded, key, nil)
	if err != nil {
		return nil, err
	}

	txn, err := c.db.beginWrite()
	if err != nil {
		return nil, err
	}

	if err := c.db.txnMgr.Write(txn, string(key), data); err != nil {
		c.db.abortWrite(txn)
		return nil, Wrap(KindStorage, "stage write", err)
	}
	if err := c.primary.Insert(key, data); err != nil {
		c.db.abortWrite(txn)
		return nil, Wrap(KindStorage, "insert primary entry", err)
	}
	if err := c.applyIndexPlan(plan, nil); err != nil {
		c.primary.Delete(key)
		c.db.abortWrite(txn)
		return nil, err
	}

	if err := c.db.commitWrite(txn); err != nil {
		return nil, err
	}

	c.bumpDocCount(1)
	return idVal, nil
}

// InsertMany inserts each document via InsertOne, in order, and returns the
// generated/echoed ids. It stops at the first failure.
func (c *Collection) InsertMany(docs []bson.D) ([]interface{}, error) {
	ids := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		id, err := c.InsertOne(d)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func ensureID(doc bson.D) (bson.D, interface{}, error) {
	for _, e := range doc {
		if e.Key == idField {
			return doc, e.Value, nil
		}
	}
	id := primitive.NewObjectID()
	out := make(bson.D, 0, len(doc)+1)
	out = append(out, bson.E{Key: idField, Value: id})
	out = append(out, doc...)
	return out, id, nil
}

type indexInsertOp struct {
	name       string
	key        []byte
	primaryKey []byte
}

// planIndexInserts validates unique-index constraints and computes the
// composite keys every secondary index needs for doc, without mutating any
// subtree. excludeID, if non-nil, excludes an existing entry for that
// primary key from the uniqueness check (used by updates).
func (c *Collection) planIndexInserts(doc map[string]interface{}, primaryKey []byte, excludeID []byte) ([]indexInsertOp, error) {
	var ops []indexInsertOp
	for name, ih := range c.indexes {
		parts := ih.desc.ToKeyParts()
		values, present := extractIndexValues(doc, parts)
		if !present {
			if ih.desc.Sparse {
				continue
			}
			values = make([]interface{}, len(parts))
		}

		compositeKey := query.EncodeCompositeKey(parts, values, primaryKey)

		if ih.desc.Unique {
			bound := query.EncodeBound(parts, values)
			upper := append(append([]byte{}, bound...), 0xFF)
			entries, err := ih.tree.RangeScan(bound, upper)
			if err != nil {
				return nil, Wrap(KindStorage, "unique index check", err)
			}
			for _, e := range entries {
				if excludeID != nil && bytesEqual(e.Value, excludeID) {
					continue
				}
				return nil, NewError(KindDuplicate, fmt.Sprintf("unique index %q violated", name))
			}
		}

		ops = append(ops, indexInsertOp{name: name, key: compositeKey, primaryKey: primaryKey})
	}
	return ops, nil
}

func (c *Collection) applyIndexPlan(ops []indexInsertOp, _ []byte) error {
	applied := make([]indexInsertOp, 0, len(ops))
	for _, op := range ops {
		ih := c.indexes[op.name]
		if err := ih.tree.Insert(op.key, op.primaryKey); err != nil {
			for _, a := range applied {
				c.indexes[a.name].tree.Delete(a.key)
			}
			return Wrap(KindStorage, "insert index entry", err)
		}
		applied = append(applied, op)
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (c *Collection) bumpDocCount(delta int64) {
	schema, ok := c.db.metadataMgr.GetCollectionSchema(c.name)
	if !ok {
		return
	}
	schema.DocCount += delta
	c.db.metadataMgr.PutCollectionSchema(schema)
}

// FindOne returns the first document matching filter, or a NotFound-kind
// error if none match.
func (c *Collection) FindOne(filter bson.D, opts ...FindOption) (bson.Raw, error) {
	cur, err := c.Find(filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	if !cur.Next() {
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return nil, NewError(KindNotFound, "no document matches filter")
	}
	return cur.Decode(), nil
}

// Find returns a Cursor over every document matching filter, selecting an
// access method (primary key fetch, index seek, or collection scan) via the
// planner and always reverifying with the full residual matcher.
func (c *Collection) Find(filter bson.D, opts ...FindOption) (*Cursor, error) {
	slot, err := c.db.beginRead()
	if err != nil {
		return nil, err
	}
	defer c.db.endRead(slot)

	c.mu.RLock()
	defer c.mu.RUnlock()

	filterMap := filter.Map()
	rawFilter := make(map[string]interface{}, len(filterMap))
	for k, v := range filterMap {
		rawFilter[k] = v
	}

	matcher, err := query.Compile(rawFilter, c.db.regexCache)
	if err != nil {
		return nil, Wrap(KindBadQuery, "compile filter", err)
	}

	specs := make([]query.IndexSpec, 0, len(c.indexes))
	for _, ih := range c.indexes {
		specs = append(specs, query.IndexSpec{
			Name:   ih.desc.Name,
			Parts:  ih.desc.ToKeyParts(),
			Unique: ih.desc.Unique,
			Sparse: ih.desc.Sparse,
		})
	}
	plan := query.Choose(rawFilter, idField, specs)

	// candidates pairs each document's original stored bytes with a decoded
	// map used only for matcher/sort evaluation; the stored bytes, not a
	// re-marshaled map, are what Cursor ultimately hands back, since the
	// mongo-driver map codec sorts keys alphabetically on encode and would
	// otherwise silently reorder fields relative to what was inserted.
	var candidates []candidateDoc

	switch plan.Kind {
	case query.PlanPrimaryKeyFetch:
		key := query.EncodeValue(plan.EqualValues[0])
		data, err := c.primary.Search(key)
		if err == nil && data != nil {
			if doc, derr := decodeDocument(data); derr == nil {
				candidates = append(candidates, candidateDoc{raw: data, fields: doc})
			}
		}
	case query.PlanIndexSeek:
		ih := c.indexes[plan.Index.Name]
		bound := query.EncodeBound(plan.Index.Parts, plan.EqualValues)
		upper := append(append([]byte{}, bound...), 0xFF)
		entries, err := ih.tree.RangeScan(bound, upper)
		if err != nil {
			return nil, Wrap(KindStorage, "index seek", err)
		}
		for _, e := range entries {
			data, err := c.primary.Search(e.Value)
			if err != nil || data == nil {
				continue
			}
			if doc, derr := decodeDocument(data); derr == nil {
				candidates = append(candidates, candidateDoc{raw: data, fields: doc})
			}
		}
	default:
		entries, err := c.primary.RangeScan([]byte{0x00}, []byte{0xFF, 0xFF, 0xFF, 0xFF})
		if err != nil {
			return nil, Wrap(KindStorage, "collection scan", err)
		}
		for _, e := range entries {
			if doc, derr := decodeDocument(e.Value); derr == nil {
				candidates = append(candidates, candidateDoc{raw: e.Value, fields: doc})
			}
		}
	}

	matched := make([]candidateDoc, 0, len(candidates))
	for _, d := range candidates {
		if matcher.Match(d.fields) {
			matched = append(matched, d)
		}
	}

	cfg := newFindConfig(opts)
	if len(cfg.sort) > 0 {
		spec := make([]query.SortSpec, len(cfg.sort))
		for i, s := range cfg.sort {
			spec[i] = query.SortSpec{Field: s.field, Descending: s.desc}
		}
		fields := make([]map[string]interface{}, len(matched))
		for i, d := range matched {
			fields[i] = d.fields
		}
		perm := query.SortPermutation(fields, spec)
		ordered := make([]candidateDoc, len(matched))
		for i, p := range perm {
			ordered[i] = matched[p]
		}
		matched = ordered
	}
	if cfg.skip > 0 {
		if cfg.skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[cfg.skip:]
		}
	}
	if cfg.limit > 0 && cfg.limit < len(matched) {
		matched = matched[:cfg.limit]
	}

	rawDocs := make([][]byte, len(matched))
	for i, d := range matched {
		rawDocs[i] = d.raw
	}
	return newCursor(rawDocs), nil
}

// candidateDoc pairs a document's original stored bytes with its decoded
// field map, used internally by Find to evaluate the matcher/sort without
// losing the exact bytes a successful match must return.
type candidateDoc struct {
	raw    []byte
	fields map[string]interface{}
}
