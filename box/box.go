package box

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/stevemurr/objectbox/store"
)

// DepthField is the bookkeeping field stamped on every record. It never
// appears in values returned to callers.
const DepthField = "depth"

// Options configures a Box.
type Options struct {
	// Cache is the memo shared by all operations of the Box. A fresh
	// unregistered cache is used when nil.
	Cache *Cache
	// Logger defaults to logrus.New().
	Logger *logrus.Logger
}

// Box maps nested values onto flat records.
type Box struct {
	cache *Cache
	log   *logrus.Logger
}

// New creates a Box.
func New(opts Options) *Box {
	if opts.Cache == nil {
		opts.Cache = NewCache(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Box{cache: opts.Cache, log: opts.Logger}
}

// Cache returns the cache used by b.
func (b *Box) Cache() *Cache {
	return b.cache
}

// ClearCache resets the cache. Use it between unrelated sessions.
func (b *Box) ClearCache() {
	b.cache.Clear()
	b.log.Debug("cache cleared")
}

// frame is the per-level state handed down the recursion.
type frame struct {
	table  store.Table
	record store.Record
	depth  int
}

func (f frame) child(record store.Record) frame {
	return frame{table: f.table, record: record, depth: f.depth + 1}
}

func recordFrame(r store.Record) frame {
	return frame{table: r.Table(), record: r}
}

// fields returns the cached raw field mapping of r.
func (b *Box) fields(ctx context.Context, r store.Record) (map[string]any, error) {
	v, err := b.cache.Get(RecordKey(r.ID()), func() (any, error) {
		fields, err := r.Fields(ctx)
		if err != nil {
			return nil, storageErrorf(err, "read record %s/%s", r.Table().Name(), r.ID())
		}
		return fields, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// field returns the cached raw value of one field of r.
func (b *Box) field(ctx context.Context, r store.Record, name string) (any, error) {
	return b.cache.Get(FieldKey(r.ID(), name), func() (any, error) {
		v, err := r.Field(ctx, name)
		if err != nil {
			return nil, storageErrorf(err, "read field %q of %s/%s", name, r.Table().Name(), r.ID())
		}
		return v, nil
	})
}

// lookup finds a linked record. It returns nil when the record is gone.
func (b *Box) lookup(ctx context.Context, t store.Table, id string) (store.Record, error) {
	r, err := t.Get(ctx, id)
	if err != nil {
		return nil, storageErrorf(err, "look up %s/%s", t.Name(), id)
	}
	if r == nil {
		b.log.WithFields(logrus.Fields{"table": t.Name(), "id": id}).Debug("dangling reference")
	}
	return r, nil
}

func depthOf(fields map[string]any) int {
	switch d := fields[DepthField].(type) {
	case float64:
		return int(d)
	case float32:
		return int(d)
	case int:
		return d
	case int64:
		return int(d)
	case int32:
		return int(d)
	case uint64:
		return int(d)
	case uint32:
		return int(d)
	}
	return 0
}
