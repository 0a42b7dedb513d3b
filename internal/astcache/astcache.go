// Package astcache keeps a bounded set of parsed syntax trees for the
// resolution phases. Trees hold C memory, so every eviction closes the tree.
//
// A Cache has a single owner (the pipeline coordinator) and is not safe for
// concurrent use.
package astcache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/codegraph/internal/lang"
	"github.com/DeusData/codegraph/internal/parser"
)

// DefaultCapacity is the number of trees kept when no capacity is configured.
const DefaultCapacity = 50

// Entry is a cached tree together with the source it was parsed from.
// Callers borrow it and must not keep it past the current file.
type Entry struct {
	Path     string
	Language lang.Language
	Source   []byte
	Tree     *tree_sitter.Tree
}

// Root returns the root node of the tree.
func (e *Entry) Root() *tree_sitter.Node {
	return e.Tree.RootNode()
}

// Loader returns the language and text of a file, or false if unknown.
type Loader func(path string) (lang.Language, []byte, bool)

// Stats counts cache activity.
type Stats struct {
	Hits      int
	Misses    int
	Evictions int
}

// Option configures a Cache.
type Option func(*Cache)

// WithEvictHook registers fn to run after an entry's tree is released.
func WithEvictHook(fn func(path string)) Option {
	return func(c *Cache) { c.evictHook = fn }
}

// WithParseFunc replaces the grammar adapter used on a miss.
func WithParseFunc(fn func(lang.Language, []byte) (*tree_sitter.Tree, error)) Option {
	return func(c *Cache) { c.parse = fn }
}

// Cache is a recency-ordered, fixed-capacity tree cache.
type Cache struct {
	lru       *lru.LRU[string, *Entry]
	load      Loader
	parse     func(lang.Language, []byte) (*tree_sitter.Tree, error)
	evictHook func(path string)
	stats     Stats
}

// New returns a cache holding at most capacity trees. load supplies file
// text on a miss.
func New(capacity int, load Loader, opts ...Option) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{load: load, parse: parser.Parse}
	for _, opt := range opts {
		opt(c)
	}
	l, err := lru.NewLRU[string, *Entry](capacity, c.release)
	if err != nil {
		return nil, fmt.Errorf("new lru: %w", err)
	}
	c.lru = l
	return c, nil
}

func (c *Cache) release(path string, e *Entry) {
	if e.Tree != nil {
		e.Tree.Close()
		e.Tree = nil
	}
	c.stats.Evictions++
	if c.evictHook != nil {
		c.evictHook(path)
	}
}

// Get returns the tree for path, parsing it on a miss. A miss may evict the
// least recently used entry.
func (c *Cache) Get(path string) (*Entry, error) {
	if e, ok := c.lru.Get(path); ok {
		c.stats.Hits++
		return e, nil
	}
	c.stats.Misses++
	l, src, ok := c.load(path)
	if !ok {
		return nil, fmt.Errorf("astcache: unknown file %s", path)
	}
	tree, err := c.parse(l, src)
	if err != nil {
		return nil, &parser.ParseError{Path: path, Language: l, Err: err}
	}
	e := &Entry{Path: path, Language: l, Source: src, Tree: tree}
	c.lru.Add(path, e)
	return e, nil
}

// Contains reports whether path is cached without touching its recency.
func (c *Cache) Contains(path string) bool {
	return c.lru.Contains(path)
}

// EvictLRU drops the least recently used entry and returns its path.
func (c *Cache) EvictLRU() (string, bool) {
	path, _, ok := c.lru.RemoveOldest()
	return path, ok
}

// Len returns the number of cached trees.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Stats returns hit, miss and eviction counts.
func (c *Cache) Stats() Stats {
	return c.stats
}

// Purge releases every cached tree. The cache stays usable.
func (c *Cache) Purge() {
	c.lru.Purge()
}
