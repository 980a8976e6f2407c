package sqlitekv

import (
	"context"
	"fmt"
)

// Schema returns the CREATE TABLE statement for the given table name.
func Schema(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	k TEXT PRIMARY KEY,
	v BLOB NOT NULL,
	updated_at INTEGER NOT NULL
) WITHOUT ROWID`, table)
}

// EnsureSchema creates the key-value table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema(s.table)); err != nil {
		return fmt.Errorf("sqlitekv: ensure schema: %w", err)
	}

	return nil
}
