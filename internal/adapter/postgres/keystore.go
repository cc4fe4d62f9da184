package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peerjakobsen/agentify-release/internal/port/keystore"
)

// KeyStore persists API keys in the api_keys table. Only the bcrypt hash of
// a secret is stored; revocation is a soft delete so key ids stay auditable.
type KeyStore struct {
	pool *pgxpool.Pool
}

// NewKeyStore creates a key store over the given pool.
func NewKeyStore(pool *pgxpool.Pool) *KeyStore {
	return &KeyStore{pool: pool}
}

// CreateKey inserts a new API key record.
func (s *KeyStore) CreateKey(ctx context.Context, k *keystore.Key) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (id, name, secret_hash, created_at)
		VALUES ($1, $2, $3, $4)`,
		k.ID, k.Name, k.SecretHash, k.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetKey returns the key with the given id, revoked or not.
func (s *KeyStore) GetKey(ctx context.Context, id string) (*keystore.Key, error) {
	var (
		k       keystore.Key
		revoked sql.NullTime
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, secret_hash, created_at, revoked_at
		FROM api_keys
		WHERE id = $1`,
		id,
	).Scan(&k.ID, &k.Name, &k.SecretHash, &k.CreatedAt, &revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("api key %s: %w", id, keystore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	if revoked.Valid {
		t := revoked.Time
		k.RevokedAt = &t
	}
	return &k, nil
}

// ListKeys returns all keys, oldest first.
func (s *KeyStore) ListKeys(ctx context.Context) ([]keystore.Key, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, secret_hash, created_at, revoked_at
		FROM api_keys
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []keystore.Key
	for rows.Next() {
		var (
			k       keystore.Key
			revoked sql.NullTime
		)
		if err := rows.Scan(&k.ID, &k.Name, &k.SecretHash, &k.CreatedAt, &revoked); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		if revoked.Valid {
			t := revoked.Time
			k.RevokedAt = &t
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return keys, nil
}

// RevokeKey marks the key as revoked. Revoking an already revoked or unknown
// key returns ErrNotFound.
func (s *KeyStore) RevokeKey(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys
		SET revoked_at = now()
		WHERE id = $1 AND revoked_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %s: %w", id, keystore.ErrNotFound)
	}
	return nil
}
