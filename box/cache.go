package box

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Key addresses one cache entry: either the whole field mapping of a record
// or a single field of it.
type Key struct {
	ID    string
	Field string
	Whole bool
}

// RecordKey addresses the whole-record snapshot of id.
func RecordKey(id string) Key {
	return Key{ID: id, Whole: true}
}

// FieldKey addresses a single field of id.
func FieldKey(id, field string) Key {
	return Key{ID: id, Field: field}
}

type cachedRecord struct {
	whole    any
	hasWhole bool
	fields   map[string]any
}

// Cache memoizes raw values read from storage, keyed by record identity and
// field name or whole record. Whole-record and per-field entries are
// independent: invalidating one leaves the other in place.
type Cache struct {
	mu      sync.Mutex
	records map[string]*cachedRecord

	hits          prometheus.Counter
	misses        prometheus.Counter
	invalidations prometheus.Counter
}

// NewCache creates an empty cache. Its counters are registered on reg
// unless reg is nil.
func NewCache(reg prometheus.Registerer) *Cache {
	return &Cache{
		records: make(map[string]*cachedRecord),
		hits: registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "objectbox",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Number of cache lookups served from memory.",
		})),
		misses: registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "objectbox",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Number of cache lookups that went to storage.",
		})),
		invalidations: registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "objectbox",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Number of cache entries dropped by invalidation.",
		})),
	}
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) prometheus.Counter {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
	}
	return c
}

func (c *Cache) lookup(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key.ID]
	if !ok {
		return nil, false
	}
	if key.Whole {
		return rec.whole, rec.hasWhole
	}
	v, ok := rec.fields[key.Field]
	return v, ok
}

func (c *Cache) store(key Key, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key.ID]
	if !ok {
		rec = &cachedRecord{fields: make(map[string]any)}
		c.records[key.ID] = rec
	}
	if key.Whole {
		rec.whole, rec.hasWhole = v, true
		return
	}
	rec.fields[key.Field] = v
}

// Get returns the cached value for key. On a miss it calls supplier, caches
// its result and returns it. Nothing is cached when supplier fails.
func (c *Cache) Get(key Key, supplier func() (any, error)) (any, error) {
	if v, ok := c.lookup(key); ok {
		c.hits.Inc()
		return v, nil
	}
	c.misses.Inc()
	v, err := supplier()
	if err != nil {
		return nil, err
	}
	c.store(key, v)
	return v, nil
}

// Invalidate removes the entry for key.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key.ID]
	if !ok {
		return
	}
	if key.Whole {
		if rec.hasWhole {
			c.invalidations.Inc()
		}
		rec.whole, rec.hasWhole = nil, false
	} else if _, ok := rec.fields[key.Field]; ok {
		c.invalidations.Inc()
		delete(rec.fields, key.Field)
	}
	if !rec.hasWhole && len(rec.fields) == 0 {
		delete(c.records, key.ID)
	}
}

// InvalidateRecord removes the whole-record entry and every field entry of id.
func (c *Cache) InvalidateRecord(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return
	}
	n := len(rec.fields)
	if rec.hasWhole {
		n++
	}
	c.invalidations.Add(float64(n))
	delete(c.records, id)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]*cachedRecord)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, rec := range c.records {
		n += len(rec.fields)
		if rec.hasWhole {
			n++
		}
	}
	return n
}
