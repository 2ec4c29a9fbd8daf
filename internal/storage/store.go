// Package storage is the persistence layer for threads, messages, and
// API keys. The Postgres implementation (pgx) is the production store;
// MemoryStore backs development and tests when no database is
// configured.
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/model"
)

const (
	// UserMessageDedupWindow is the trailing window within which an
	// identical (thread, user, content) message is treated as a retry and
	// skipped.
	UserMessageDedupWindow = 10 * time.Second
	// AssistantMessageDedupWindow is the same for assistant messages,
	// wider because the execution may outlive the request that started it
	// and be flushed again by a later poll.
	AssistantMessageDedupWindow = 60 * time.Second

	// DefaultThreadLimit and MaxThreadLimit bound thread list queries.
	DefaultThreadLimit = 50
	MaxThreadLimit     = 100

	// DefaultMessageLimit bounds message history queries.
	DefaultMessageLimit = 200
)

// ThreadFilter narrows and pages a thread listing. Zero values mean
// no agent-key filter, the default limit, and no offset.
type ThreadFilter struct {
	AgentKey string
	Limit    int
	Offset   int
}

// Store is the persistence contract for this subsystem. It is the only
// writer to the data store; writes are idempotent within the dedup
// windows above.
type Store interface {
	// ResolveThread prefers an explicitly supplied thread id owned by the
	// caller, else the most recently updated thread for (userID,
	// agentKey), else lazily creates one.
	ResolveThread(ctx context.Context, userID, agentKey, agentName string, explicitID *uuid.UUID) (model.Thread, error)
	CreateThread(ctx context.Context, thread model.Thread) (model.Thread, error)
	GetThread(ctx context.Context, id uuid.UUID) (model.Thread, error)
	// ListThreads returns the user's threads, most recently updated
	// first, optionally filtered to one agent key.
	ListThreads(ctx context.Context, userID string, filter ThreadFilter) ([]model.Thread, error)

	// AppendUserMessage writes the user's input, skipping the insert when
	// an identical message exists within the dedup window. The boolean
	// reports whether a row was actually inserted.
	AppendUserMessage(ctx context.Context, thread model.Thread, content string, metadata map[string]any) (model.Message, bool, error)
	// AppendAssistantMessage writes the execution's final assistant text,
	// deduplicated the same way. A terminal execution with no assistant
	// text inserts nothing.
	AppendAssistantMessage(ctx context.Context, thread model.Thread, exec model.Execution) (model.Message, bool, error)
	// LoadPriorMessages returns up to limit most recent messages ordered
	// oldest-first, deduplicated by (role, trimmed content) keeping the
	// first occurrence.
	LoadPriorMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]model.Message, error)
	// ListMessages returns a thread's messages oldest-first, verifying the
	// thread belongs to userID.
	ListMessages(ctx context.Context, threadID uuid.UUID, userID string, limit int) ([]model.Message, error)

	CreateAPIKey(ctx context.Context, key model.APIKey) error
	// ActiveAPIKeys returns the user's non-revoked keys, oldest first.
	ActiveAPIKeys(ctx context.Context, userID string) ([]model.APIKey, error)
	TouchAPIKey(ctx context.Context, id uuid.UUID) error

	Ping(ctx context.Context) error
	Name() string
	Close()
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*MemoryStore)(nil)
)

// clampLimit normalizes a caller-supplied limit.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// dedupePrior removes messages repeating an earlier (role, trimmed
// content) pair, keeping the first occurrence. Guards against
// non-idempotent writes already present in the store.
func dedupePrior(msgs []model.Message) []model.Message {
	type key struct {
		role    model.Role
		content string
	}
	seen := make(map[key]bool, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		k := key{m.Role, strings.TrimSpace(m.Content)}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, m)
	}
	return out
}
