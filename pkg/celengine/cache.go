package celengine

import (
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "rewardcore_cel_cache_hits_total"})
	cacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Name: "rewardcore_cel_cache_miss_total"})
)

// Collectors returns the cache metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{cacheHits, cacheMiss}
}

type entry struct {
	prg      cel.Program
	storedAt time.Time
}

// Cache holds compiled admission programs keyed by expression text. It is the
// only process-wide cache; row data is never cached.
type Cache struct {
	env   *cel.Env
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]entry
	group singleflight.Group
	now   func() time.Time
}

func NewCache(ttl time.Duration) (*Cache, error) {
	env, err := NewAdmissionEnv()
	if err != nil {
		return nil, err
	}
	return &Cache{
		env:   env,
		ttl:   ttl,
		items: make(map[string]entry),
		now:   time.Now,
	}, nil
}

func (c *Cache) get(expr string) (cel.Program, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[expr]
	if !ok || (c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl) {
		return nil, false
	}
	return e.prg, true
}

// Program returns the compiled program for expr, compiling at most once per
// expression across concurrent callers.
func (c *Cache) Program(expr string) (cel.Program, error) {
	if prg, ok := c.get(expr); ok {
		cacheHits.Inc()
		return prg, nil
	}
	cacheMiss.Inc()

	v, err, _ := c.group.Do(expr, func() (any, error) {
		prg, err := Compile(c.env, expr)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[expr] = entry{prg: prg, storedAt: c.now()}
		c.mu.Unlock()
		return prg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(cel.Program), nil
}

// Evaluate compiles (or reuses) expr and runs it against vars.
func (c *Cache) Evaluate(expr string, vars map[string]any) (bool, error) {
	prg, err := c.Program(expr)
	if err != nil {
		return false, err
	}
	return Eval(prg, vars)
}

// Validate reports whether expr compiles to a bool predicate.
func (c *Cache) Validate(expr string) error {
	_, err := Compile(c.env, expr)
	return err
}

func (c *Cache) Invalidate(expr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, expr)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
