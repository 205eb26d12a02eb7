package box

import (
	"context"

	"github.com/stevemurr/objectbox/store"
)

// Query returns the records of t whose fields equal every pair in match.
func (b *Box) Query(ctx context.Context, t store.Table, match map[string]any) ([]store.Record, error) {
	records, err := t.Query(ctx, match)
	if err != nil {
		return nil, storageErrorf(err, "query %s", t.Name())
	}
	return records, nil
}

// QueryDepth is Query restricted to records at the given nesting depth.
// match itself is not modified.
func (b *Box) QueryDepth(ctx context.Context, t store.Table, match map[string]any, depth int) ([]store.Record, error) {
	withDepth := make(map[string]any, len(match)+1)
	for k, v := range match {
		withDepth[k] = v
	}
	withDepth[DepthField] = depth
	return b.Query(ctx, t, withDepth)
}
