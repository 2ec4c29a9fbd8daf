package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/parley-ai/parley/internal/model"
)

const threadColumns = `id, user_id, agent_key, agent_name, title, created_at, updated_at`

// ResolveThread implements the thread resolution order: an explicitly
// supplied thread id owned by the caller wins; else the most recently
// updated thread for (userID, agentKey); else a lazily created one.
func (db *DB) ResolveThread(ctx context.Context, userID, agentKey, agentName string, explicitID *uuid.UUID) (model.Thread, error) {
	if explicitID != nil {
		thread, err := db.GetThread(ctx, *explicitID)
		if err == nil && thread.UserID == userID {
			return thread, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return model.Thread{}, err
		}
		// Unknown or foreign thread id: fall through to lookup-or-create.
	}

	var t model.Thread
	err := db.pool.QueryRow(ctx,
		`SELECT `+threadColumns+`
		 FROM threads
		 WHERE user_id = $1 AND agent_key = $2
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		userID, agentKey,
	).Scan(&t.ID, &t.UserID, &t.AgentKey, &t.AgentName, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Thread{}, fmt.Errorf("storage: find thread for %s/%s: %w", userID, agentKey, err)
	}

	return db.CreateThread(ctx, model.Thread{
		UserID:    userID,
		AgentKey:  agentKey,
		AgentName: agentName,
		Title:     "New conversation",
	})
}

// CreateThread inserts a thread, allocating id and timestamps when
// unset.
func (db *DB) CreateThread(ctx context.Context, thread model.Thread) (model.Thread, error) {
	if thread.ID == uuid.Nil {
		thread.ID = uuid.New()
	}
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	if thread.UpdatedAt.IsZero() {
		thread.UpdatedAt = now
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO threads (id, user_id, agent_key, agent_name, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		thread.ID, thread.UserID, thread.AgentKey, thread.AgentName,
		thread.Title, thread.CreatedAt, thread.UpdatedAt,
	)
	if err != nil {
		return model.Thread{}, fmt.Errorf("storage: create thread: %w", err)
	}
	return thread, nil
}

// GetThread retrieves one thread by id.
func (db *DB) GetThread(ctx context.Context, id uuid.UUID) (model.Thread, error) {
	var t model.Thread
	err := db.pool.QueryRow(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = $1`, id,
	).Scan(&t.ID, &t.UserID, &t.AgentKey, &t.AgentName, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Thread{}, fmt.Errorf("storage: thread %s: %w", id, ErrNotFound)
		}
		return model.Thread{}, fmt.Errorf("storage: get thread: %w", err)
	}
	return t, nil
}

// ListThreads returns the user's threads, most recently updated first.
func (db *DB) ListThreads(ctx context.Context, userID string, filter ThreadFilter) ([]model.Thread, error) {
	limit := clampLimit(filter.Limit, DefaultThreadLimit, MaxThreadLimit)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + threadColumns + ` FROM threads WHERE user_id = $1`
	args := []any{userID}
	if filter.AgentKey != "" {
		query += ` AND agent_key = $2`
		args = append(args, filter.AgentKey)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list threads: %w", err)
	}
	defer rows.Close()

	var threads []model.Thread
	for rows.Next() {
		var t model.Thread
		if err := rows.Scan(&t.ID, &t.UserID, &t.AgentKey, &t.AgentName, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// touchThread bumps a thread's updated_at so it sorts to the top of the
// list after new activity.
func (db *DB) touchThread(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE threads SET updated_at = now() WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("storage: touch thread: %w", err)
	}
	return nil
}
