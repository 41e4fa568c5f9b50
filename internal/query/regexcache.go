package query

import (
	"regexp"
	"sync"
)

// RegexCache compiles and caches regular expressions keyed by (pattern,
// options), avoiding recompilation on every matcher evaluation. It is owned
// by the Database handle and freed only on Close, per the redesign note that
// moved regex compilation out of the per-query matcher tree.
type RegexCache struct {
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

// NewRegexCache creates an empty cache.
func NewRegexCache() *RegexCache {
	return &RegexCache{cache: make(map[string]*regexp.Regexp)}
}

// Get returns the compiled regexp for pattern+options, compiling and caching
// it on first use.
func (c *RegexCache) Get(pattern, options string) (*regexp.Regexp, error) {
	key := options + "\x00" + pattern

	c.mu.RLock()
	re, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}

	flags := goFlags(options)
	re, err := regexp.Compile(flags + pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = re
	c.mu.Unlock()

	return re, nil
}

// goFlags translates Mongo-style regex options (i, m, s) into an inline Go
// regexp flag group, e.g. "im" -> "(?im)".
func goFlags(options string) string {
	var flags string
	for _, r := range options {
		switch r {
		case 'i', 'm', 's':
			flags += string(r)
		}
	}
	if flags == "" {
		return ""
	}
	return "(?" + flags + ")"
}

// Len reports the number of distinct compiled patterns currently cached.
func (c *RegexCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
