package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/velmie/chatsync"
)

// Store is a SQLite-backed chatsync.KeyValue.
type Store struct {
	db      *sql.DB
	table   string
	ownsDB  bool
	queries queries
}

var _ chatsync.KeyValue = (*Store)(nil)
var _ chatsync.KeyLister = (*Store)(nil)

type queries struct {
	get    string
	set    string
	remove string
	keys   string
}

func newQueries(table string) queries {
	return queries{
		get: fmt.Sprintf("SELECT v FROM %s WHERE k = ?", table),
		set: fmt.Sprintf(
			"INSERT INTO %s (k, v, updated_at) VALUES (?, ?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at",
			table),
		remove: fmt.Sprintf("DELETE FROM %s WHERE k = ?", table),
		keys:   fmt.Sprintf(`SELECT k FROM %s WHERE k LIKE ? ESCAPE '\' ORDER BY k`, table),
	}
}

// NewStore wraps an existing database handle. The caller keeps ownership of
// db and is responsible for running EnsureSchema.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	if !validTableName(cfg.Table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, cfg.Table)
	}

	return &Store{
		db:      db,
		table:   cfg.Table,
		queries: newQueries(cfg.Table),
	}, nil
}

// Open opens (creating if necessary) a SQLite database at path, ensures the
// schema, and returns a store that owns the handle. Use ":memory:" for an
// ephemeral database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: open %s: %w", path, err)
	}
	// The embedded database serves one process; a single connection avoids
	// SQLITE_BUSY on concurrent writes.
	db.SetMaxOpenConns(1)

	store, err := NewStore(db, opts...)
	if err != nil {
		closeErr := db.Close()

		return nil, errors.Join(err, closeErr)
	}
	store.ownsDB = true

	if err := store.EnsureSchema(ctx); err != nil {
		closeErr := db.Close()

		return nil, errors.Join(err, closeErr)
	}

	return store, nil
}

// Close closes the database handle if this store owns it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}

	return s.db.Close()
}

// Get implements chatsync.KeyValue.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.queries.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chatsync.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: get %s: %w", key, err)
	}

	return value, nil
}

// Set implements chatsync.KeyValue.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.queries.set, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("sqlitekv: set %s: %w", key, err)
	}

	return nil
}

// Remove implements chatsync.KeyValue.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.queries.remove, key); err != nil {
		return fmt.Errorf("sqlitekv: remove %s: %w", key, err)
	}

	return nil
}

// RemoveMany implements chatsync.KeyValue with a single DELETE statement.
func (s *Store) RemoveMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE k IN (%s)", s.table, makePlaceholders(len(keys)))
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlitekv: remove %d keys: %w", len(keys), err)
	}

	return nil
}

// Keys implements chatsync.KeyLister.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.keys, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlitekv: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitekv: list keys: %w", err)
	}

	return keys, nil
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}

	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

	return replacer.Replace(value)
}
