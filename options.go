package motedb

import "go.uber.org/zap"

// Options configures Open.
type Options struct {
	// Path is the database directory as recorded by DefaultOptions. Open
	// takes the directory from its own path argument and does not read this
	// field.
	Path string

	// BufferPoolSize is the number of 8KB pages kept cached in memory.
	BufferPoolSize int

	// MaxBytes is accepted but not consulted: the data file grows without a
	// size cap whatever its value.
	MaxBytes int64

	// MaxSubtrees is accepted but not consulted: the number of primary and
	// index subtrees a database opens is not capped.
	MaxSubtrees int

	// ReadOnly makes every write operation fail with a Closed-kind error.
	// Open still opens the WAL; reads behave as usual.
	ReadOnly bool

	// EncryptionKey, if non-empty, enables AES-256-GCM page encryption.
	EncryptionKey []byte

	// ReadPoolSize bounds the number of concurrently checked-out read
	// snapshots; 0 uses the default pool size.
	ReadPoolSize int

	// Logger receives structured log output; nil uses zap.NewNop().
	Logger *zap.Logger
}

// DefaultOptions returns sensible defaults for a database rooted at path.
func DefaultOptions(path string) *Options {
	return &Options{
		Path:           path,
		BufferPoolSize: 256,
		Logger:         zap.NewNop(),
	}
}

// CollectionOptions configures CreateCollection.
type CollectionOptions struct{}

// IndexOptions configures CreateIndex.
type IndexOptions struct {
	Unique bool
	Sparse bool
	Name   string
}

// FindOption configures Find/FindOne.
type FindOption func(*findConfig)

type findConfig struct {
	sort  []sortField
	limit int
	skip  int
}

type sortField struct {
	field string
	desc  bool
}

// WithSort orders results by field, ascending unless desc is true. Multiple
// WithSort options apply in the order given.
func WithSort(field string, desc bool) FindOption {
	return func(c *findConfig) {
		c.sort = append(c.sort, sortField{field: field, desc: desc})
	}
}

// WithLimit caps the number of results returned.
func WithLimit(n int) FindOption {
	return func(c *findConfig) { c.limit = n }
}

// WithSkip skips the first n matching results.
func WithSkip(n int) FindOption {
	return func(c *findConfig) { c.skip = n }
}

func newFindConfig(opts []FindOption) *findConfig {
	c := &findConfig{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// UpdateOptions configures UpdateOne/UpdateMany/ReplaceOne.
type UpdateOptions struct {
	Upsert bool
}
