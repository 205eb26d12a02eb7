package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SqliteStore stores all collections in a single SQLite database.
//
// Tables:
//
//	documents(collection, key, data)  PRIMARY KEY (collection, key)
type SqliteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data dir for %s", dbPath)
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dbPath)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable WAL")
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (collection, key)
	)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create documents table")
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) GetAll(ctx context.Context, collection string) (map[string]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, "SELECT key, data FROM documents WHERE collection = ?", collection)
	if err != nil {
		return nil, errors.Wrapf(err, "select %s", collection)
	}
	defer rows.Close()
	result := make(map[string]map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		doc, err := decodeJSONDocument(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s/%s", collection, key)
		}
		result[key] = doc
	}
	return result, rows.Err()
}

func (s *SqliteStore) Get(ctx context.Context, collection, key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = ? AND key = ?",
		collection, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select %s/%s", collection, key)
	}
	return decodeJSONDocument(raw)
}

func (s *SqliteStore) Put(ctx context.Context, collection, key string, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc == nil {
		doc = map[string]any{}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "encode %s/%s", collection, key)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, key, data) VALUES (?, ?, ?)
		 ON CONFLICT(collection, key) DO UPDATE SET data = excluded.data`,
		collection, key, string(b),
	)
	return errors.Wrapf(err, "upsert %s/%s", collection, key)
}

func (s *SqliteStore) Delete(ctx context.Context, collection, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND key = ?",
		collection, key,
	)
	if err != nil {
		return false, errors.Wrapf(err, "delete %s/%s", collection, key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SqliteStore) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT collection FROM documents ORDER BY collection")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func decodeJSONDocument(raw string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}
