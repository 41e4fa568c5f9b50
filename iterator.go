package motedb

import "go.mongodb.org/mongo-driver/bson"

// Cursor is an ephemeral iterator over a Find result set, following the
// standard Next/Decode/Err/Close pattern. Results are materialized up front
// by Find (residual matching, sort, skip, limit all happen before the
// Cursor is constructed), so Cursor itself only walks an in-memory slice of
// the documents' original stored bytes — it never re-marshals a decoded map,
// since the mongo-driver's map codec sorts keys alphabetically on encode and
// would silently reorder fields relative to what was inserted.
type Cursor struct {
	docs [][]byte
	pos  int
	err  error
}

func newCursor(docs [][]byte) *Cursor {
	return &Cursor{docs: docs, pos: -1}
}

// Next advances the cursor to the next document, returning false once
// exhausted.
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	c.pos++
	return c.pos < len(c.docs)
}

// Decode returns the current document as raw BSON, byte-for-byte as stored.
func (c *Cursor) Decode() bson.Raw {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return nil
	}
	return bson.Raw(c.docs[c.pos])
}

// Err returns the first error encountered during iteration, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the cursor's resources. It is safe to call multiple times.
func (c *Cursor) Close() error {
	c.docs = nil
	return nil
}
