package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/model"
	"github.com/parley-ai/parley/internal/storage"
)

// flushTimeout bounds the storage writes performed by the completion
// flusher, which runs outside any request context.
const flushTimeout = 5 * time.Second

// NewCompletionFlusher returns an execution-terminal hook persisting
// the final assistant reply into the execution's thread. The start
// handler only persists when its bounded wait observes completion;
// executions suspended at a confirmation gate, or outliving the wait
// budget, are flushed here when they eventually finish. The assistant
// dedup window keeps the two paths idempotent.
func NewCompletionFlusher(store storage.Store, logger *slog.Logger) func(model.Execution) {
	return func(exec model.Execution) {
		if exec.Status != model.ExecutionStatusCompleted || exec.ThreadID == uuid.Nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()

		thread, err := store.GetThread(ctx, exec.ThreadID)
		if err != nil {
			logger.Warn("completion flush: load thread", "error", err, "execution_id", exec.ID)
			return
		}
		if _, _, err := store.AppendAssistantMessage(ctx, thread, exec); err != nil {
			logger.Warn("completion flush: append assistant message", "error", err, "execution_id", exec.ID)
		}
	}
}
