package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/model"
)

const messageColumns = `id, thread_id, user_id, role, content, metadata, tool_calls, tool_results, created_at`

// AppendUserMessage writes the user's input, skipping the insert when
// an identical (thread, user, content) message exists within the dedup
// window. Check-then-insert rather than a hard constraint: the contract
// is "effectively once", not strict exactly-once.
func (db *DB) AppendUserMessage(ctx context.Context, thread model.Thread, content string, metadata map[string]any) (model.Message, bool, error) {
	dup, err := db.recentDuplicate(ctx, thread.ID, model.RoleUser, content, UserMessageDedupWindow)
	if err != nil {
		return model.Message{}, false, err
	}
	if dup {
		db.logger.Debug("storage: skipping duplicate user message", "thread_id", thread.ID)
		return model.Message{}, false, nil
	}

	msg := model.Message{
		ID:        uuid.New(),
		ThreadID:  thread.ID,
		UserID:    thread.UserID,
		Role:      model.RoleUser,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.insertMessage(ctx, msg); err != nil {
		return model.Message{}, false, err
	}
	if err := db.touchThread(ctx, thread.ID); err != nil {
		db.logger.Warn("storage: touch thread after user message", "thread_id", thread.ID, "error", err)
	}
	return msg, true, nil
}

// AppendAssistantMessage writes the execution's final assistant text,
// deduplicated over the wider assistant window. Tool calls and results
// from the execution's reconstructed messages ride along.
func (db *DB) AppendAssistantMessage(ctx context.Context, thread model.Thread, exec model.Execution) (model.Message, bool, error) {
	content := exec.FinalAssistantText()
	if content == "" {
		return model.Message{}, false, nil
	}

	dup, err := db.recentDuplicate(ctx, thread.ID, model.RoleAssistant, content, AssistantMessageDedupWindow)
	if err != nil {
		return model.Message{}, false, err
	}
	if dup {
		db.logger.Debug("storage: skipping duplicate assistant message", "thread_id", thread.ID)
		return model.Message{}, false, nil
	}

	toolCalls, toolResults := collectToolActivity(exec)
	msg := model.Message{
		ID:          uuid.New(),
		ThreadID:    thread.ID,
		UserID:      thread.UserID,
		Role:        model.RoleAssistant,
		Content:     content,
		Metadata:    map[string]any{"executionId": exec.ID.String(), "agentId": exec.AgentID},
		ToolCalls:   toolCalls,
		ToolResults: toolResults,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.insertMessage(ctx, msg); err != nil {
		return model.Message{}, false, err
	}
	if err := db.touchThread(ctx, thread.ID); err != nil {
		db.logger.Warn("storage: touch thread after assistant message", "thread_id", thread.ID, "error", err)
	}
	return msg, true, nil
}

// collectToolActivity flattens the tool invocation parts of an
// execution's messages into the stored toolCalls/toolResults shape.
func collectToolActivity(exec model.Execution) (calls, results []map[string]any) {
	for _, msg := range exec.Messages {
		for _, part := range msg.Parts {
			tool, ok := part.(model.ToolInvocationPart)
			if !ok {
				continue
			}
			call := map[string]any{
				"toolCallId": tool.ToolCallID,
				"toolName":   tool.ToolName,
				"state":      string(tool.State),
			}
			if len(tool.Args) > 0 {
				call["args"] = json.RawMessage(tool.Args)
			}
			calls = append(calls, call)
			if tool.State == model.ToolStateResult && len(tool.Result) > 0 {
				results = append(results, map[string]any{
					"toolCallId": tool.ToolCallID,
					"result":     json.RawMessage(tool.Result),
				})
			}
		}
	}
	return calls, results
}

func (db *DB) recentDuplicate(ctx context.Context, threadID uuid.UUID, role model.Role, content string, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window)
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE thread_id = $1 AND role = $2 AND content = $3 AND created_at > $4
		 )`,
		threadID, string(role), content, cutoff,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: check duplicate message: %w", err)
	}
	return exists, nil
}

func (db *DB) insertMessage(ctx context.Context, msg model.Message) error {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal message metadata: %w", err)
	}
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("storage: marshal tool calls: %w", err)
	}
	toolResults, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("storage: marshal tool results: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO messages (id, thread_id, user_id, role, content, metadata, tool_calls, tool_results, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.ThreadID, msg.UserID, string(msg.Role), msg.Content,
		metadata, toolCalls, toolResults, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert message: %w", err)
	}
	return nil
}

// LoadPriorMessages returns up to limit most recent messages for a
// thread, ordered oldest-first and deduplicated by (role, trimmed
// content) keeping the first occurrence.
func (db *DB) LoadPriorMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]model.Message, error) {
	limit = clampLimit(limit, DefaultMessageLimit, DefaultMessageLimit)
	rows, err := db.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE thread_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		threadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load prior messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return dedupePrior(msgs), nil
}

// ListMessages returns a thread's messages oldest-first after checking
// the thread belongs to userID.
func (db *DB) ListMessages(ctx context.Context, threadID uuid.UUID, userID string, limit int) ([]model.Message, error) {
	thread, err := db.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.UserID != userID {
		return nil, fmt.Errorf("storage: thread %s: %w", threadID, ErrNotFound)
	}

	limit = clampLimit(limit, DefaultMessageLimit, DefaultMessageLimit)
	rows, err := db.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE thread_id = $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		threadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]model.Message, error) {
	var msgs []model.Message
	for rows.Next() {
		var (
			m           model.Message
			role        string
			metadata    []byte
			toolCalls   []byte
			toolResults []byte
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.UserID, &role, &m.Content,
			&metadata, &toolCalls, &toolResults, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		m.Role = model.Role(role)
		if err := unmarshalInto(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("storage: decode message metadata: %w", err)
		}
		if err := unmarshalInto(toolCalls, &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("storage: decode tool calls: %w", err)
		}
		if err := unmarshalInto(toolResults, &m.ToolResults); err != nil {
			return nil, fmt.Errorf("storage: decode tool results: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func unmarshalInto(data []byte, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func reverse(msgs []model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
