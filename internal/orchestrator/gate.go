package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/agents"
	"github.com/parley-ai/parley/internal/model"
)

// Gate suspends an execution before a sensitive tool runs and resumes
// it once the caller resolves the pending confirmation. At most one
// confirmation exists per execution at a time; the router handles tool
// calls sequentially, so a second sensitive call cannot arrive until
// the first resolves.
type Gate struct {
	registry *Registry
	logger   *slog.Logger
}

// NewGate creates a gate over the registry.
func NewGate(registry *Registry, logger *slog.Logger) *Gate {
	return &Gate{registry: registry, logger: logger}
}

// Intercept builds the pending confirmation for one sensitive tool
// call, suspends the execution, and blocks until the caller resolves it
// or ctx is cancelled. It returns whether the call was approved.
func (g *Gate) Intercept(ctx context.Context, execID uuid.UUID, toolName string, args json.RawMessage, policy agents.ToolPolicy) (bool, error) {
	conf := model.PendingToolConfirmation{
		ConfirmationID: uuid.New(),
		ExecutionID:    execID,
		ToolName:       toolName,
		Args:           args,
		Preview:        agents.BuildPreview(toolName, args, policy),
		Category:       policy.Category,
		Sensitivity:    policy.Sensitivity,
		Undoable:       policy.Undoable,
	}

	decision := make(chan bool, 1)
	if err := g.registry.setPending(execID, conf, decision); err != nil {
		return false, err
	}
	g.logger.Info("orchestrator: awaiting tool confirmation",
		"execution_id", execID,
		"confirmation_id", conf.ConfirmationID,
		"tool", toolName,
		"sensitivity", policy.Sensitivity)

	select {
	case approved := <-decision:
		g.registry.clearPending(execID)
		g.logger.Info("orchestrator: confirmation resolved",
			"execution_id", execID,
			"confirmation_id", conf.ConfirmationID,
			"approved", approved)
		return approved, nil
	case <-ctx.Done():
		g.registry.clearPending(execID)
		return false, ctx.Err()
	}
}

// Resolve delivers the caller's decision for a pending confirmation and
// returns a snapshot of the execution as of delivery.
func (g *Gate) Resolve(execID, confirmationID uuid.UUID, approved bool) (model.Execution, error) {
	if err := g.registry.resolvePending(execID, confirmationID, approved); err != nil {
		return model.Execution{}, err
	}
	return g.registry.Get(execID)
}
