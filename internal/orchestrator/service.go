package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/model"
	"github.com/parley-ai/parley/internal/stream"
)

// BuildFunc constructs a fresh engine over the shared registry. The
// recovery controller calls it again after a critical graph error.
type BuildFunc func(registry *Registry) *Engine

// Service is the recovery controller and public face of the
// orchestrator: it owns the long-lived registry, the rebuildable
// engine, and the completion waiter.
type Service struct {
	registry *Registry
	waiter   *Waiter
	build    BuildFunc
	logger   *slog.Logger

	mu     sync.RWMutex
	engine *Engine
}

// NewService creates the service and builds the initial engine.
func NewService(registry *Registry, build BuildFunc, waitBudget time.Duration, logger *slog.Logger) *Service {
	return &Service{
		registry: registry,
		waiter:   NewWaiter(registry, waitBudget),
		build:    build,
		logger:   logger,
		engine:   build(registry),
	}
}

func (s *Service) currentEngine() *Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Reset rebuilds the engine. Executions in the registry are untouched.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = s.build(s.registry)
	s.logger.Info("orchestrator: engine rebuilt")
}

// Start starts an execution, recovering exactly once from a critical
// graph error by rebuilding the engine and retrying. The retry's
// outcome is returned as-is; any other error surfaces untouched.
func (s *Service) Start(ctx context.Context, params StartParams) (model.Execution, error) {
	exec, err := s.currentEngine().Start(ctx, params)
	if err == nil || !IsCriticalGraphError(err) {
		return exec, err
	}

	s.logger.Warn("orchestrator: critical graph error, rebuilding engine", "error", err)
	s.Reset()
	return s.currentEngine().Start(ctx, params)
}

// Get returns a snapshot of one execution.
func (s *Service) Get(id uuid.UUID) (model.Execution, error) {
	return s.registry.Get(id)
}

// List returns summaries of all executions, newest first.
func (s *Service) List() []model.ExecutionSummary {
	return s.registry.List()
}

// Wait blocks until the execution is terminal or the wait budget
// elapses, returning the latest snapshot either way.
func (s *Service) Wait(ctx context.Context, id uuid.UUID) (model.Execution, error) {
	return s.waiter.Wait(ctx, id)
}

// Subscribe returns the execution's frame stream: backlog replay
// followed by live frames.
func (s *Service) Subscribe(id uuid.UUID) (<-chan stream.Frame, func(), error) {
	return s.registry.Subscribe(id)
}

// ResolveConfirmation delivers a confirmation decision to the owning
// execution's gate.
func (s *Service) ResolveConfirmation(execID, confirmationID uuid.UUID, approved bool) (model.Execution, error) {
	return s.currentEngine().Gate().Resolve(execID, confirmationID, approved)
}
