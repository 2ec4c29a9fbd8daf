package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/model"
)

// MemoryStore is an in-memory Store for development and tests. It
// mirrors the Postgres implementation's semantics, including the dedup
// windows and thread resolution order, without any durability.
type MemoryStore struct {
	mu       sync.RWMutex
	threads  map[uuid.UUID]model.Thread
	messages map[uuid.UUID][]model.Message
	apiKeys  map[uuid.UUID]model.APIKey
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  make(map[uuid.UUID]model.Thread),
		messages: make(map[uuid.UUID][]model.Message),
		apiKeys:  make(map[uuid.UUID]model.APIKey),
	}
}

// ResolveThread implements Store.
func (s *MemoryStore) ResolveThread(_ context.Context, userID, agentKey, agentName string, explicitID *uuid.UUID) (model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if explicitID != nil {
		if t, ok := s.threads[*explicitID]; ok && t.UserID == userID {
			return t, nil
		}
	}

	var newest *model.Thread
	for id := range s.threads {
		t := s.threads[id]
		if t.UserID != userID || t.AgentKey != agentKey {
			continue
		}
		if newest == nil || t.UpdatedAt.After(newest.UpdatedAt) {
			newest = &t
		}
	}
	if newest != nil {
		return *newest, nil
	}

	now := time.Now().UTC()
	t := model.Thread{
		ID:        uuid.New(),
		UserID:    userID,
		AgentKey:  agentKey,
		AgentName: agentName,
		Title:     "New conversation",
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.threads[t.ID] = t
	return t, nil
}

// CreateThread implements Store.
func (s *MemoryStore) CreateThread(_ context.Context, thread model.Thread) (model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	s.threads[thread.ID] = thread
	return thread, nil
}

// GetThread implements Store.
func (s *MemoryStore) GetThread(_ context.Context, id uuid.UUID) (model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return model.Thread{}, fmt.Errorf("storage: thread %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// ListThreads implements Store.
func (s *MemoryStore) ListThreads(_ context.Context, userID string, filter ThreadFilter) ([]model.Thread, error) {
	limit := clampLimit(filter.Limit, DefaultThreadLimit, MaxThreadLimit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var threads []model.Thread
	for _, t := range s.threads {
		if t.UserID != userID {
			continue
		}
		if filter.AgentKey != "" && t.AgentKey != filter.AgentKey {
			continue
		}
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(threads) {
			return nil, nil
		}
		threads = threads[filter.Offset:]
	}
	if len(threads) > limit {
		threads = threads[:limit]
	}
	return threads, nil
}

// AppendUserMessage implements Store.
func (s *MemoryStore) AppendUserMessage(_ context.Context, thread model.Thread, content string, metadata map[string]any) (model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recentDuplicate(thread.ID, model.RoleUser, content, UserMessageDedupWindow) {
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
	s.messages[thread.ID] = append(s.messages[thread.ID], msg)
	s.touch(thread.ID)
	return msg, true, nil
}

// AppendAssistantMessage implements Store.
func (s *MemoryStore) AppendAssistantMessage(_ context.Context, thread model.Thread, exec model.Execution) (model.Message, bool, error) {
	content := exec.FinalAssistantText()
	if content == "" {
		return model.Message{}, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recentDuplicate(thread.ID, model.RoleAssistant, content, AssistantMessageDedupWindow) {
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
	s.messages[thread.ID] = append(s.messages[thread.ID], msg)
	s.touch(thread.ID)
	return msg, true, nil
}

// LoadPriorMessages implements Store.
func (s *MemoryStore) LoadPriorMessages(_ context.Context, threadID uuid.UUID, limit int) ([]model.Message, error) {
	limit = clampLimit(limit, DefaultMessageLimit, DefaultMessageLimit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[threadID]
	start := len(all) - limit
	if start < 0 {
		start = 0
	}
	recent := make([]model.Message, len(all[start:]))
	copy(recent, all[start:])
	return dedupePrior(recent), nil
}

// ListMessages implements Store.
func (s *MemoryStore) ListMessages(_ context.Context, threadID uuid.UUID, userID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[threadID]
	if !ok || t.UserID != userID {
		return nil, fmt.Errorf("storage: thread %s: %w", threadID, ErrNotFound)
	}

	limit = clampLimit(limit, DefaultMessageLimit, DefaultMessageLimit)
	all := s.messages[threadID]
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]model.Message, len(all))
	copy(out, all)
	return out, nil
}

// CreateAPIKey implements Store.
func (s *MemoryStore) CreateAPIKey(_ context.Context, key model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	s.apiKeys[key.ID] = key
	return nil
}

// ActiveAPIKeys implements Store.
func (s *MemoryStore) ActiveAPIKeys(_ context.Context, userID string) ([]model.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []model.APIKey
	for _, k := range s.apiKeys {
		if k.UserID == userID && k.RevokedAt == nil {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
	return keys, nil
}

// TouchAPIKey implements Store.
func (s *MemoryStore) TouchAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.apiKeys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
		s.apiKeys[id] = k
	}
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Name implements Store.
func (s *MemoryStore) Name() string { return "memory" }

// Close implements Store.
func (s *MemoryStore) Close() {}

// recentDuplicate reports whether an identical (role, content) message
// exists within the trailing window. Callers hold the lock.
func (s *MemoryStore) recentDuplicate(threadID uuid.UUID, role model.Role, content string, window time.Duration) bool {
	cutoff := time.Now().UTC().Add(-window)
	for _, m := range s.messages[threadID] {
		if m.Role == role && m.Content == content && m.CreatedAt.After(cutoff) {
			return true
		}
	}
	return false
}

// touch bumps updated_at. Callers hold the lock.
func (s *MemoryStore) touch(threadID uuid.UUID) {
	if t, ok := s.threads[threadID]; ok {
		t.UpdatedAt = time.Now().UTC()
		s.threads[threadID] = t
	}
}
