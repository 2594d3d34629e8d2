package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/dbx"
)

const (
	upsertQuery = `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	deleteQuery = `DELETE FROM metadata WHERE key = ?`
)

// SQLiteRepository keeps pairs in the metadata table of the object store's
// database, so state and records share one file.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	if _, err := r.db.ExecContext(ctx, upsertQuery, key, notNull(value)); err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

// Update runs every write and delete in one transaction.
func (r *SQLiteRepository) Update(ctx context.Context, set map[string][]byte, del []string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, key := range sortedKeys(set) {
			if _, err := tx.ExecContext(ctx, upsertQuery, key, notNull(set[key])); err != nil {
				return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
			}
		}
		for _, key := range del {
			if _, err := tx.ExecContext(ctx, deleteQuery, key); err != nil {
				return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
			}
		}
		return nil
	})
}

// notNull keeps empty values present; the column is NOT NULL.
func notNull(v []byte) []byte {
	if v == nil {
		return []byte{}
	}
	return v
}
