package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Well-known keys.
const (
	KeyQueue        = "offline_queue"
	KeyInteractions = "campaign_interactions"
	KeyAuthToken    = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyUserEmail    = "user_email"
	KeyUserID       = "user_id"
)

// KVStore is durable string storage that survives process restarts.
// Get reports ok=false for a missing key.
type KVStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	MultiGet(ctx context.Context, keys ...string) (map[string]string, error)
	MultiSet(ctx context.Context, pairs map[string]string) error
	MultiRemove(ctx context.Context, keys ...string) error
}

// SQLiteStore implements KVStore on the kv_store table.
type SQLiteStore struct {
	db *sql.DB

	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewSQLiteStore creates a store over an opened database.
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{db: db.DB}
}

const (
	getQuery    = `SELECT value FROM kv_store WHERE key = ?`
	upsertQuery = `INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	deleteQuery = `DELETE FROM kv_store WHERE key = ?`
)

// prepareStmt gets or creates a prepared statement from cache.
func (s *SQLiteStore) prepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes and forgets all cached prepared statements.
func (s *SQLiteStore) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// Get returns the value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	stmt, err := s.prepareStmt(ctx, getQuery)
	if err != nil {
		return "", false, err
	}

	var value string
	err = stmt.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	return s.MultiSet(ctx, map[string]string{key: value})
}

// Remove deletes key. Removing a missing key is not an error.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	return s.MultiRemove(ctx, key)
}

// MultiGet returns the values for the keys that exist.
func (s *SQLiteStore) MultiGet(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv_store WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("multi get: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("multi get scan: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// MultiSet writes all pairs in one transaction.
func (s *SQLiteStore) MultiSet(ctx context.Context, pairs map[string]string) error {
	// Prepare before BeginTx: the pool holds a single connection.
	stmt, err := s.prepareStmt(ctx, upsertQuery)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		for k, v := range pairs {
			if _, err := tx.StmtContext(ctx, stmt).ExecContext(ctx, k, v, now); err != nil {
				return fmt.Errorf("set %q: %w", k, err)
			}
		}
		return nil
	})
}

// MultiRemove deletes all keys in one transaction.
func (s *SQLiteStore) MultiRemove(ctx context.Context, keys ...string) error {
	stmt, err := s.prepareStmt(ctx, deleteQuery)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.StmtContext(ctx, stmt).ExecContext(ctx, k); err != nil {
				return fmt.Errorf("remove %q: %w", k, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// MemoryStore is an in-process KVStore used by tests and by hosts that
// supply their own persistence.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) MultiGet(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) MultiSet(_ context.Context, pairs map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range pairs {
		m.data[k] = v
	}
	return nil
}

func (m *MemoryStore) MultiRemove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}
