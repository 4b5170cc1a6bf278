package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresTokenStore はPostgreSQLのbrowser_storageテーブルを使用したTokenStore。
type PostgresTokenStore struct {
	db *sql.DB
}

// NewPostgresTokenStore はPostgresTokenStoreを生成する。
func NewPostgresTokenStore(db *sql.DB) *PostgresTokenStore {
	return &PostgresTokenStore{db: db}
}

// Get は指定キーの値を取得する。
func (s *PostgresTokenStore) Get(ctx context.Context, browserID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM browser_storage WHERE browser_id = $1 AND key = $2`,
		browserID, key,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get browser storage value: %w", err)
	}
	return value, true, nil
}

// Set は指定キーに値をUPSERTする。
func (s *PostgresTokenStore) Set(ctx context.Context, browserID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO browser_storage (browser_id, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (browser_id, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		browserID, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set browser storage value: %w", err)
	}
	return nil
}

// Delete は指定キーをまとめて削除する。
func (s *PostgresTokenStore) Delete(ctx context.Context, browserID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM browser_storage WHERE browser_id = $1 AND key = ANY($2)`,
		browserID, pq.Array(keys),
	)
	if err != nil {
		return fmt.Errorf("failed to delete browser storage values: %w", err)
	}
	return nil
}

// PurgeOlderThan はcutoffより前に更新されたエントリを削除する。
func (s *PostgresTokenStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM browser_storage WHERE updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge browser storage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// compile-time interface check
var (
	_ TokenStore       = (*PostgresTokenStore)(nil)
	_ StaleEntryPurger = (*PostgresTokenStore)(nil)
)
