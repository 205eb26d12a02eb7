package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// JsonFileStore stores each collection as a separate JSON file on disk.
//
// Layout:
//
//	data_dir/
//	  objects.json   # "objects" table
//	  people.json    # "people" table
type JsonFileStore struct {
	mu  sync.RWMutex
	dir string
}

func NewJsonFileStore(dir string) (*JsonFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", dir)
	}
	return &JsonFileStore{dir: dir}, nil
}

func (s *JsonFileStore) collectionPath(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

func (s *JsonFileStore) loadCollection(path string) (map[string]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]map[string]any{}, nil
		}
		return nil, err
	}
	var result map[string]map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if result == nil {
		result = map[string]map[string]any{}
	}
	return result, nil
}

// saveCollection replaces the file at path atomically. An emptied table
// loses its file.
func (s *JsonFileStore) saveCollection(path string, coll map[string]map[string]any) error {
	if len(coll) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove %s", path)
		}
		return nil
	}
	b, err := json.MarshalIndent(coll, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	tmp, err := os.CreateTemp(s.dir, ".objectbox-*.tmp")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %s", path)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "replace %s", path)
}

func (s *JsonFileStore) GetAll(_ context.Context, collection string) (map[string]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadCollection(s.collectionPath(collection))
}

func (s *JsonFileStore) Get(_ context.Context, collection, key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, err := s.loadCollection(s.collectionPath(collection))
	if err != nil {
		return nil, err
	}
	doc, ok := coll[key]
	if !ok {
		return nil, nil
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func (s *JsonFileStore) Put(_ context.Context, collection, key string, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.collectionPath(collection)
	coll, err := s.loadCollection(path)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	coll[key] = doc
	return s.saveCollection(path, coll)
}

func (s *JsonFileStore) Delete(_ context.Context, collection, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.collectionPath(collection)
	coll, err := s.loadCollection(path)
	if err != nil {
		return false, err
	}
	if _, ok := coll[key]; !ok {
		return false, nil
	}
	delete(coll, key)
	return true, s.saveCollection(path, coll)
}

func (s *JsonFileStore) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), ".json"); ok && !strings.HasPrefix(name, ".") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *JsonFileStore) Close() error { return nil }
