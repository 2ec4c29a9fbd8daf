package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/model"
)

// CreateAPIKey inserts a new API key.
func (db *DB) CreateAPIKey(ctx context.Context, key model.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, key_hash, label, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		key.ID, key.UserID, key.KeyHash, key.Label, key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create api key: %w", err)
	}
	return nil
}

// ActiveAPIKeys returns the user's non-revoked keys, oldest first.
func (db *DB) ActiveAPIKeys(ctx context.Context, userID string) ([]model.APIKey, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, key_hash, label, created_at, last_used_at, revoked_at
		 FROM api_keys
		 WHERE user_id = $1 AND revoked_at IS NULL
		 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get api keys for user: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		var k model.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.Label,
			&k.CreatedAt, &k.LastUsedAt, &k.RevokedAt); err != nil {
			return nil, fmt.Errorf("storage: scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// TouchAPIKey updates last_used_at after a successful verification.
func (db *DB) TouchAPIKey(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("storage: touch api key: %w", err)
	}
	return nil
}
