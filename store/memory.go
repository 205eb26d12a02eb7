package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]any),
	}
}

func (m *MemoryStore) GetAll(_ context.Context, collection string) (map[string]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return map[string]map[string]any{}, nil
	}
	result := make(map[string]map[string]any, len(coll))
	for k, v := range coll {
		doc, err := normalize(v)
		if err != nil {
			return nil, err
		}
		result[k] = doc
	}
	return result, nil
}

func (m *MemoryStore) Get(_ context.Context, collection, key string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}
	doc, ok := coll[key]
	if !ok {
		return nil, nil
	}
	return normalize(doc)
}

func (m *MemoryStore) Put(_ context.Context, collection, key string, doc map[string]any) error {
	cp, err := normalize(doc)
	if err != nil {
		return err
	}
	if cp == nil {
		cp = map[string]any{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[string]map[string]any)
	}
	m.collections[collection][key] = cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, collection, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return false, nil
	}
	if _, exists := coll[key]; !exists {
		return false, nil
	}
	delete(coll, key)
	return true, nil
}

func (m *MemoryStore) ListCollections(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, docs := range m.collections {
		if len(docs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) Close() error { return nil }
