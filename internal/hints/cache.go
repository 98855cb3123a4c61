package hints

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/hintstream/internal/observe"
)

// DefaultCacheSize is the number of hint graphs kept by default.
const DefaultCacheSize = 20

// GraphCompiler compiles a hint set. [*Compiler] implements it.
type GraphCompiler interface {
	Compile(ctx context.Context, s Set) (*Graph, error)
}

// CacheOption configures a [Cache].
type CacheOption func(*Cache)

// WithCacheSize sets the maximum number of cached graphs. Default: 20.
func WithCacheSize(n int) CacheOption {
	return func(c *Cache) { c.size = n }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// Cache is a bounded LRU of compiled hint graphs keyed by [Set.Key]. It is
// safe for concurrent use. Compilation runs outside the LRU's lock;
// [Cache.GetOrCompile] coalesces concurrent compiles of one key.
type Cache struct {
	compiler GraphCompiler
	size     int
	metrics  *observe.Metrics
	lru      *lru.Cache[string, *Graph]
	group    singleflight.Group
}

// NewCache returns an empty cache backed by compiler.
func NewCache(compiler GraphCompiler, opts ...CacheOption) (*Cache, error) {
	c := &Cache{compiler: compiler, size: DefaultCacheSize}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	l, err := lru.New[string, *Graph](c.size)
	if err != nil {
		return nil, fmt.Errorf("hints: new cache: %w", err)
	}
	c.lru = l
	return c, nil
}

// Get returns the cached graph for s and marks it most recently used.
func (c *Cache) Get(s Set) (*Graph, bool) {
	return c.lru.Get(s.Key())
}

// Add stores g for s, evicting the least recently used entry when full.
func (c *Cache) Add(s Set, g *Graph) {
	c.lru.Add(s.Key(), g)
}

// Len returns the number of cached graphs.
func (c *Cache) Len() int { return c.lru.Len() }

// GetOrCompile returns the cached graph for s, compiling and caching it on a
// miss. The empty set never reaches the compiler.
func (c *Cache) GetOrCompile(ctx context.Context, s Set) (*Graph, error) {
	if s.IsEmpty() {
		return Empty(), nil
	}
	if g, ok := c.Get(s); ok {
		c.metrics.RecordHintCacheLookup(ctx, true)
		return g, nil
	}
	c.metrics.RecordHintCacheLookup(ctx, false)

	key := s.Key()
	v, err, _ := c.group.Do(key, func() (any, error) {
		if g, ok := c.lru.Get(key); ok {
			return g, nil
		}
		start := time.Now()
		g, err := c.compiler.Compile(ctx, s)
		if err != nil {
			return nil, err
		}
		c.metrics.RecordHintCompile(ctx, time.Since(start))
		c.lru.Add(key, g)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Graph), nil
}
