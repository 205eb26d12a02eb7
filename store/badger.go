package store

import (
	"bytes"
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
)

// keySep separates the collection name from the document key.
const keySep = 0x00

// BadgerStore keeps every collection in one Badger keyspace, keyed by
// "<collection>\x00<key>". Documents are stored MsgPack-encoded.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a Badger database in dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	return openBadger(opts)
}

// NewBadgerMemoryStore opens an ephemeral in-memory Badger database.
func NewBadgerMemoryStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger database")
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func badgerPrefix(collection string) []byte {
	return append([]byte(collection), keySep)
}

func badgerKey(collection, key string) []byte {
	return append(badgerPrefix(collection), key...)
}

func (s *BadgerStore) GetAll(_ context.Context, collection string) (map[string]map[string]any, error) {
	result := make(map[string]map[string]any)
	prefix := badgerPrefix(collection)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil)[len(prefix):])
			err := item.Value(func(v []byte) error {
				doc, err := decodeDocument(v)
				if err != nil {
					return errors.Wrapf(err, "%s/%s", collection, key)
				}
				result[key] = doc
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BadgerStore) Get(_ context.Context, collection, key string) (map[string]any, error) {
	var doc map[string]any
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(collection, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			doc, err = decodeDocument(v)
			return err
		})
	})
	return doc, err
}

func (s *BadgerStore) Put(_ context.Context, collection, key string, doc map[string]any) error {
	raw, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(collection, key), raw)
	})
}

func (s *BadgerStore) Delete(_ context.Context, collection, key string) (bool, error) {
	var existed bool
	k := badgerKey(collection, key)
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(k)
	})
	return existed, err
}

func (s *BadgerStore) ListCollections(_ context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			if i := bytes.IndexByte(k, keySep); i >= 0 {
				seen[string(k[:i])] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var names []string
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
