package store

import (
	"context"
	"reflect"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Table is a logical container of Records.
type Table interface {
	// Name returns the table (collection) name.
	Name() string

	// Insert creates a record with exactly the given flat fields.
	Insert(ctx context.Context, fields map[string]any) (Record, error)

	// Get looks a record up by identifier. It returns nil, nil when absent.
	Get(ctx context.Context, id string) (Record, error)

	// Query returns the records whose fields equal every key/value pair in
	// match, ordered by identifier.
	Query(ctx context.Context, match map[string]any) ([]Record, error)
}

// Record is a handle to one flat record.
type Record interface {
	ID() string
	Table() Table

	// Fields returns the full flat field snapshot. List-valued fields are
	// returned as *List.
	Fields(ctx context.Context) (map[string]any, error)

	// Field returns a single raw field value, nil if the field is unset.
	Field(ctx context.Context, name string) (any, error)

	// Update merges fields into the record and returns the updated handle.
	Update(ctx context.Context, fields map[string]any) (Record, error)

	// Delete removes the record from its table.
	Delete(ctx context.Context) error
}

// DB exposes a Backend as a set of tables.
type DB struct {
	backend Backend
}

// Open wraps a backend.
func Open(b Backend) *DB {
	return &DB{backend: b}
}

// Table returns the named table. Tables exist implicitly.
func (db *DB) Table(name string) Table {
	return &table{db: db, name: name}
}

// TableNames lists the tables that hold at least one record.
func (db *DB) TableNames(ctx context.Context) ([]string, error) {
	return db.backend.ListCollections(ctx)
}

// Backend returns the wrapped backend.
func (db *DB) Backend() Backend {
	return db.backend
}

// Close closes the wrapped backend.
func (db *DB) Close() error {
	return db.backend.Close()
}

type table struct {
	db   *DB
	name string
}

func (t *table) Name() string { return t.name }

func (t *table) Insert(ctx context.Context, fields map[string]any) (Record, error) {
	id := uuid.NewString()
	if err := t.db.backend.Put(ctx, t.name, id, toDocument(fields)); err != nil {
		return nil, errors.Wrapf(err, "insert into %s", t.name)
	}
	return &record{table: t, id: id}, nil
}

func (t *table) Get(ctx context.Context, id string) (Record, error) {
	doc, err := t.db.backend.Get(ctx, t.name, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s/%s", t.name, id)
	}
	if doc == nil {
		return nil, nil
	}
	return &record{table: t, id: id}, nil
}

func (t *table) Query(ctx context.Context, match map[string]any) ([]Record, error) {
	docs, err := t.db.backend.GetAll(ctx, t.name)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", t.name)
	}
	ids := make([]string, 0, len(docs))
	for id, doc := range docs {
		if matches(doc, match) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, &record{table: t, id: id})
	}
	return records, nil
}

type record struct {
	table *table
	id    string
}

func (r *record) ID() string   { return r.id }
func (r *record) Table() Table { return r.table }

func (r *record) load(ctx context.Context) (map[string]any, error) {
	doc, err := r.table.db.backend.Get(ctx, r.table.name, r.id)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s/%s", r.table.name, r.id)
	}
	if doc == nil {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", r.table.name, r.id)
	}
	return doc, nil
}

func (r *record) Fields(ctx context.Context) (map[string]any, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(doc))
	for k, v := range doc {
		fields[k] = fromDocument(v)
	}
	return fields, nil
}

func (r *record) Field(ctx context.Context, name string) (any, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return fromDocument(doc[name]), nil
}

func (r *record) Update(ctx context.Context, fields map[string]any) (Record, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for k, v := range toDocument(fields) {
		doc[k] = v
	}
	if err := r.table.db.backend.Put(ctx, r.table.name, r.id, doc); err != nil {
		return nil, errors.Wrapf(err, "update %s/%s", r.table.name, r.id)
	}
	return &record{table: r.table, id: r.id}, nil
}

func (r *record) Delete(ctx context.Context) error {
	existed, err := r.table.db.backend.Delete(ctx, r.table.name, r.id)
	if err != nil {
		return errors.Wrapf(err, "delete %s/%s", r.table.name, r.id)
	}
	if !existed {
		return errors.Wrapf(ErrNotFound, "%s/%s", r.table.name, r.id)
	}
	return nil
}

// toDocument converts field values into their storable form.
func toDocument(fields map[string]any) map[string]any {
	doc := make(map[string]any, len(fields))
	for k, v := range fields {
		if l, ok := v.(*List); ok {
			v = l.Elements()
		}
		doc[k] = v
	}
	return doc
}

func fromDocument(v any) any {
	if elems, ok := v.([]any); ok {
		return NewList(elems)
	}
	return v
}

// matches reports whether doc carries every key/value pair of match.
func matches(doc, match map[string]any) bool {
	for k, want := range match {
		got, ok := doc[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares two raw values, treating all numeric kinds as float64.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
