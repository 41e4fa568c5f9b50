package motedb

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/motedb/motedb/internal/query"
)

// UpdateOne applies update (an operator document, e.g. {$set: {...}}) to the
// first document matching filter. With Upsert set and no match, it inserts a
// document synthesized from filter's equality clauses plus update.
func (c *Collection) UpdateOne(filter bson.D, update bson.D, opts *UpdateOptions) (matched, modified int64, err error) {
	return c.updateImpl(filter, update, opts, false, false)
}

// UpdateMany applies update to every document matching filter.
func (c *Collection) UpdateMany(filter bson.D, update bson.D, opts *UpdateOptions) (matched, modified int64, err error) {
	return c.updateImpl(filter, update, opts, true, false)
}

// ReplaceOne replaces the first document matching filter with replacement,
// preserving _id. replacement must not use operator syntax.
func (c *Collection) ReplaceOne(filter bson.D, replacement bson.D, opts *UpdateOptions) (matched, modified int64, err error) {
	return c.updateImpl(filter, replacement, opts, false, true)
}

func (c *Collection) updateImpl(filter bson.D, update bson.D, opts *UpdateOptions, many bool, replace bool) (int64, int64, error) {
	if opts == nil {
		opts = &UpdateOptions{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.findLocked(filter)
	if err != nil {
		return 0, 0, err
	}

	if len(cur) == 0 {
		if !opts.Upsert {
			return 0, 0, nil
		}
		id, err := c.upsertLocked(filter, update, replace)
		if err != nil {
			return 0, 0, err
		}
		_ = id
		return 0, 1, nil
	}

	if !many {
		cur = cur[:1]
	}

	var modified int64
	for _, old := range cur {
		changed, err := c.applyUpdateToDoc(old, update, replace)
		if err != nil {
			return int64(len(cur)), modified, err
		}
		if changed {
			modified++
		}
	}

	return int64(len(cur)), modified, nil
}

// findLocked mirrors Find's planning and residual-matching logic without
// reacquiring the collection lock (caller already holds it) and without
// Find's sort/skip/limit stages, which update and delete do not need.
func (c *Collection) findLocked(filter bson.D) ([]map[string]interface{}, error) {
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

	var candidates []map[string]interface{}
	switch plan.Kind {
	case query.PlanPrimaryKeyFetch:
		key := query.EncodeValue(plan.EqualValues[0])
		data, err := c.primary.Search(key)
		if err == nil && data != nil {
			if doc, derr := decodeDocument(data); derr == nil {
				candidates = append(candidates, doc)
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
				candidates = append(candidates, doc)
			}
		}
	default:
		entries, err := c.primary.RangeScan([]byte{0x00}, []byte{0xFF, 0xFF, 0xFF, 0xFF})
		if err != nil {
			return nil, Wrap(KindStorage, "collection scan", err)
		}
		for _, e := range entries {
			if doc, derr := decodeDocument(e.Value); derr == nil {
				candidates = append(candidates, doc)
			}
		}
	}

	var out []map[string]interface{}
	for _, doc := range candidates {
		if matcher.Match(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// applyUpdateToDoc computes the new document, validates _id immutability,
// checks unique-index constraints for the new field values, then mutates the
// primary entry and every affected index entry. It returns whether the
// document's encoded bytes actually changed.
func (c *Collection) applyUpdateToDoc(oldDoc map[string]interface{}, update bson.D, replace bool) (bool, error) {
	oldIDVal, ok := oldDoc[idField]
	if !ok {
		return false, NewError(KindInvalid, "document missing _id")
	}
	oldKey := query.EncodeValue(oldIDVal)

	var newDoc map[string]interface{}
	var err error
	if replace {
		newDoc, err = applyReplace(oldDoc, update)
	} else {
		newDoc, err = applyOperators(oldDoc, update)
	}
	if err != nil {
		return false, err
	}

	newIDVal, ok := newDoc[idField]
	if !ok || !query.Equal(newIDVal, oldIDVal) {
		return false, NewError(KindImmutableId, "_id cannot be modified by update or replace")
	}

	newData, err := bson.Marshal(newDoc)
	if err != nil {
		return false, Wrap(KindInvalid, "marshal updated document", err)
	}

	oldData, _ := bson.Marshal(oldDoc)
	if bytesEqual(oldData, newData) {
		return false, nil
	}

	plan, err := c.planIndexInserts(newDoc, oldKey, oldKey)
	if err != nil {
		return false, err
	}

	oldIndexKeys := c.collectIndexKeys(oldDoc, oldKey)

	txn, err := c.db.beginWrite()
	if err != nil {
		return false, err
	}
	if err := c.db.txnMgr.Write(txn, string(oldKey), newData); err != nil {
		c.db.abortWrite(txn)
		return false, Wrap(KindStorage, "stage write", err)
	}
	if err := c.primary.Insert(oldKey, newData); err != nil {
		c.db.abortWrite(txn)
		return false, Wrap(KindStorage, "update primary entry", err)
	}
	if err := c.applyIndexPlan(plan, oldKey); err != nil {
		c.primary.Insert(oldKey, oldData)
		c.db.abortWrite(txn)
		return false, err
	}
	c.pruneStaleIndexEntries(oldIndexKeys, plan)

	if err := c.db.commitWrite(txn); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Collection) collectIndexKeys(doc map[string]interface{}, primaryKey []byte) map[string][]byte {
	out := make(map[string][]byte, len(c.indexes))
	for name, ih := range c.indexes {
		parts := ih.desc.ToKeyParts()
		values, present := extractIndexValues(doc, parts)
		if !present {
			if ih.desc.Sparse {
				continue
			}
			values = make([]interface{}, len(parts))
		}
		out[name] = query.EncodeCompositeKey(parts, values, primaryKey)
	}
	return out
}

func (c *Collection) pruneStaleIndexEntries(oldKeys map[string][]byte, newOps []indexInsertOp) {
	newKeys := make(map[string][]byte, len(newOps))
	for _, op := range newOps {
		newKeys[op.name] = op.key
	}
	for name, oldKey := range oldKeys {
		if newKey, ok := newKeys[name]; ok && bytesEqual(newKey, oldKey) {
			continue
		}
		if ih, ok := c.indexes[name]; ok {
			ih.tree.Delete(oldKey)
		}
	}
}

// upsertLocked synthesizes a document from filter's equality clauses and
// update, then inserts it. Filters using $and/$or/$not/$nor are rejected
// since there is no single well-defined document to synthesize from them.
func (c *Collection) upsertLocked(filter bson.D, update bson.D, replace bool) (interface{}, error) {
	base := map[string]interface{}{}
	for _, e := range filter {
		if len(e.Key) > 0 && e.Key[0] == '$' {
			return nil, NewError(KindBadUpdate, "upsert does not support logical operators in filter")
		}
		if m, ferr := asFieldMap(e.Value); ferr == nil {
			if v, ok := m["$eq"]; ok && len(m) == 1 {
				base[e.Key] = v
				continue
			}
			isOp := false
			for k := range m {
				isOp = isOp || (len(k) > 0 && k[0] == '$')
			}
			if isOp {
				continue
			}
		}
		base[e.Key] = e.Value
	}

	var doc map[string]interface{}
	var err error
	if replace {
		doc, err = applyReplace(base, update)
	} else {
		doc, err = applyOperators(base, update)
	}
	if err != nil {
		return nil, err
	}

	bsonDoc := make(bson.D, 0, len(doc))
	for k, v := range doc {
		bsonDoc = append(bsonDoc, bson.E{Key: k, Value: v})
	}

	c.mu.Unlock()
	id, err := c.InsertOne(bsonDoc)
	c.mu.Lock()
	return id, err
}

func applyReplace(oldDoc map[string]interface{}, replacement bson.D) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(replacement)+1)
	for _, e := range replacement {
		out[e.Key] = e.Value
	}
	if _, ok := out[idField]; !ok {
		out[idField] = oldDoc[idField]
	}
	return out, nil
}

// DeleteOne removes the first document matching filter.
func (c *Collection) DeleteOne(filter bson.D) (int64, error) {
	return c.deleteImpl(filter, false)
}

// DeleteMany removes every document matching filter.
func (c *Collection) DeleteMany(filter bson.D) (int64, error) {
	return c.deleteImpl(filter, true)
}

func (c *Collection) deleteImpl(filter bson.D, many bool) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	docs, err := c.findLocked(filter)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	if !many {
		docs = docs[:1]
	}

	var deleted int64
	for _, doc := range docs {
		idVal, ok := doc[idField]
		if !ok {
			continue
		}
		key := query.EncodeValue(idVal)

		txn, err := c.db.beginWrite()
		if err != nil {
			return deleted, err
		}
		if err := c.primary.Delete(key); err != nil {
			c.db.abortWrite(txn)
			return deleted, Wrap(KindStorage, "delete primary entry", err)
		}
		for name, ih := range c.indexes {
			parts := ih.desc.ToKeyParts()
			values, present := extractIndexValues(doc, parts)
			if !present {
				if ih.desc.Sparse {
					continue
				}
				values = make([]interface{}, len(parts))
			}
			compositeKey := query.EncodeCompositeKey(parts, values, key)
			ih.tree.Delete(compositeKey)
			_ = name
		}
		if err := c.db.commitWrite(txn); err != nil {
			return deleted, err
		}
		deleted++
	}

	c.bumpDocCount(-deleted)
	return deleted, nil
}

func badUpdate(format string, args ...interface{}) error {
	return NewError(KindBadUpdate, fmt.Sprintf(format, args...))
}
