package box

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/stevemurr/objectbox/store"
)

// Insert creates a record tree in t holding value and returns its root.
func (b *Box) Insert(ctx context.Context, t store.Table, value map[string]any) (store.Record, error) {
	return b.insert(ctx, frame{table: t}, value)
}

// Update merges value into r. Fields of r not named in value are left alone.
func (b *Box) Update(ctx context.Context, r store.Record, value map[string]any) (store.Record, error) {
	return b.update(ctx, recordFrame(r), value)
}

// Set changes a single field of r.
func (b *Box) Set(ctx context.Context, r store.Record, field string, value any) (store.Record, error) {
	return b.Update(ctx, r, map[string]any{field: value})
}

func (b *Box) insert(ctx context.Context, f frame, value map[string]any) (store.Record, error) {
	flat := make(map[string]any, len(value)+1)
	for name, v := range value {
		if name == DepthField {
			continue
		}
		raw, err := b.flatten(ctx, f, Classify(v))
		if err != nil {
			return nil, err
		}
		flat[name] = raw
	}
	flat[DepthField] = f.depth

	r, err := f.table.Insert(ctx, flat)
	if err != nil {
		return nil, storageErrorf(err, "insert into %s at depth %d", f.table.Name(), f.depth)
	}
	b.log.WithFields(logrus.Fields{
		"table": f.table.Name(),
		"id":    r.ID(),
		"depth": f.depth,
	}).Debug("record inserted")
	return r, nil
}

// flatten returns the storable form of a value written as a field of the
// record at f.depth. Nested maps, also inside sequences, become new child
// records one level deeper.
func (b *Box) flatten(ctx context.Context, f frame, v Value) (any, error) {
	switch v.Kind {
	case Nested:
		return b.insertLinked(ctx, f, v.Fields)
	case Sequence:
		elems := make([]any, len(v.Elements))
		for i, e := range v.Elements {
			ev := Classify(e)
			if ev.Kind != Nested {
				elems[i] = e
				continue
			}
			link, err := b.insertLinked(ctx, f, ev.Fields)
			if err != nil {
				return nil, err
			}
			elems[i] = link
		}
		return elems, nil
	}
	return v.Raw, nil
}

func (b *Box) insertLinked(ctx context.Context, f frame, value map[string]any) (string, error) {
	child, err := b.insert(ctx, f.child(nil), value)
	if err != nil {
		return "", err
	}
	return EncodeLink(child.ID()), nil
}

func (b *Box) update(ctx context.Context, f frame, value map[string]any) (store.Record, error) {
	existing, err := b.fields(ctx, f.record)
	if err != nil {
		return nil, err
	}
	f.depth = depthOf(existing)

	changed := make(map[string]any, len(value))
	for name, v := range value {
		if name == DepthField {
			continue
		}
		raw, err := b.replace(ctx, f, Classify(existing[name]), Classify(v))
		if err != nil {
			return nil, err
		}
		changed[name] = raw
	}

	id := f.record.ID()
	b.cache.Invalidate(RecordKey(id))
	for name := range changed {
		b.cache.Invalidate(FieldKey(id, name))
	}
	r, err := f.record.Update(ctx, changed)
	if err != nil {
		return nil, storageErrorf(err, "update %s/%s", f.table.Name(), id)
	}
	b.log.WithFields(logrus.Fields{
		"table":  f.table.Name(),
		"id":     id,
		"fields": len(changed),
	}).Debug("record updated")
	return r, nil
}

// replace computes the new raw value of a field whose current raw value is
// old, cleaning up whatever children old linked to and the new value no
// longer uses.
func (b *Box) replace(ctx context.Context, f frame, old, v Value) (any, error) {
	switch old.Kind {
	case Reference:
		child, err := b.lookup(ctx, f.table, old.ID)
		if err != nil {
			return nil, err
		}
		if child != nil && v.Kind == Nested {
			if _, err := b.update(ctx, frame{table: f.table, record: child}, v.Fields); err != nil {
				return nil, err
			}
			return old.Raw, nil
		}
		if child != nil {
			if err := b.deleteTree(ctx, frame{table: f.table, record: child}); err != nil {
				return nil, err
			}
		}
	case Sequence:
		for _, e := range old.Elements {
			if err := b.deleteLinked(ctx, f, Classify(e)); err != nil {
				return nil, err
			}
		}
	}
	return b.flatten(ctx, f, v)
}
