package box

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/stevemurr/objectbox/store"
)

// GetFields returns the nested value stored in the tree rooted at r.
func (b *Box) GetFields(ctx context.Context, r store.Record) (map[string]any, error) {
	return b.expand(ctx, recordFrame(r))
}

// Get returns the resolved value of a single field of r, or nil if the
// field is unset.
func (b *Box) Get(ctx context.Context, r store.Record, field string) (any, error) {
	if field == DepthField {
		return nil, nil
	}
	raw, err := b.field(ctx, r, field)
	if err != nil {
		return nil, err
	}
	return b.resolve(ctx, recordFrame(r), Classify(raw))
}

// DeleteRecord deletes r together with every record reachable from it.
func (b *Box) DeleteRecord(ctx context.Context, r store.Record) error {
	return b.deleteTree(ctx, recordFrame(r))
}

func (b *Box) expand(ctx context.Context, f frame) (map[string]any, error) {
	raw, err := b.fields(ctx, f.record)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for name, v := range raw {
		if name == DepthField {
			continue
		}
		resolved, err := b.resolve(ctx, f, Classify(v))
		if err != nil {
			return nil, err
		}
		out[name] = resolved
	}
	return out, nil
}

func (b *Box) resolve(ctx context.Context, f frame, v Value) (any, error) {
	switch v.Kind {
	case Reference:
		return b.follow(ctx, f, v.ID)
	case Sequence:
		out := make([]any, len(v.Elements))
		for i, e := range v.Elements {
			ev := Classify(e)
			if ev.Kind != Reference {
				out[i] = e
				continue
			}
			resolved, err := b.follow(ctx, f, ev.ID)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	}
	return v.Raw, nil
}

// follow expands the record a reference points to. A missing target
// resolves to nil.
func (b *Box) follow(ctx context.Context, f frame, id string) (any, error) {
	child, err := b.lookup(ctx, f.table, id)
	if err != nil || child == nil {
		return nil, err
	}
	nested, err := b.expand(ctx, frame{table: f.table, record: child})
	if errors.Is(err, store.ErrNotFound) {
		// deleted between lookup and read
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return nested, nil
}

func (b *Box) deleteTree(ctx context.Context, f frame) error {
	raw, err := b.fields(ctx, f.record)
	if err != nil {
		return err
	}
	for name, v := range raw {
		if name == DepthField {
			continue
		}
		val := Classify(v)
		switch val.Kind {
		case Reference:
			if err := b.deleteLinked(ctx, f, val); err != nil {
				return err
			}
		case Sequence:
			for _, e := range val.Elements {
				if err := b.deleteLinked(ctx, f, Classify(e)); err != nil {
					return err
				}
			}
		}
	}

	id := f.record.ID()
	b.cache.InvalidateRecord(id)
	if err := f.record.Delete(ctx); err != nil {
		return storageErrorf(err, "delete %s/%s", f.table.Name(), id)
	}
	b.log.WithFields(logrus.Fields{"table": f.table.Name(), "id": id}).Debug("record deleted")
	return nil
}

// deleteLinked cascades into the record v points to, if v is a reference
// and its target still exists.
func (b *Box) deleteLinked(ctx context.Context, f frame, v Value) error {
	if v.Kind != Reference {
		return nil
	}
	child, err := b.lookup(ctx, f.table, v.ID)
	if err != nil || child == nil {
		return err
	}
	return b.deleteTree(ctx, frame{table: f.table, record: child})
}
