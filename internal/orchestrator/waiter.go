package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/model"
)

const (
	// waiterInterval is the registry polling cadence.
	waiterInterval = 700 * time.Millisecond
	// DefaultWaitBudget bounds how long a request blocks on completion
	// when the operator has not configured a budget.
	DefaultWaitBudget = 22 * time.Second
	// MaxWaitBudget is the hard cap on any configured budget.
	MaxWaitBudget = 60 * time.Second
)

// Waiter bridges a stateless request handler to an execution that may
// outlive it: it polls the registry until the execution stops running
// or a bounded wall-clock budget elapses.
type Waiter struct {
	registry *Registry
	interval time.Duration
	budget   time.Duration
}

// NewWaiter creates a waiter. A non-positive budget falls back to the
// default; anything above the hard cap is clamped to it.
func NewWaiter(registry *Registry, budget time.Duration) *Waiter {
	if budget <= 0 {
		budget = DefaultWaitBudget
	}
	if budget > MaxWaitBudget {
		budget = MaxWaitBudget
	}
	return &Waiter{registry: registry, interval: waiterInterval, budget: budget}
}

// waitDone reports whether the waiter should stop polling: the
// execution finished, or it suspended on a tool confirmation that only
// the caller can resolve.
func waitDone(s model.ExecutionStatus) bool {
	return s.Terminal() || s == model.ExecutionStatusAwaitingConfirmation
}

// Wait returns the latest execution snapshot once it is terminal or
// suspended awaiting confirmation, or the newest running snapshot when
// the budget elapses first. A non-terminal result is not an error; the
// caller treats it as "accepted but not yet complete".
func (w *Waiter) Wait(ctx context.Context, id uuid.UUID) (model.Execution, error) {
	exec, err := w.registry.Get(id)
	if err != nil || waitDone(exec.Status) {
		return exec, err
	}

	deadline := time.NewTimer(w.budget)
	defer deadline.Stop()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.registry.Get(id)
		case <-deadline.C:
			return w.registry.Get(id)
		case <-ticker.C:
			exec, err := w.registry.Get(id)
			if err != nil || waitDone(exec.Status) {
				return exec, err
			}
		}
	}
}
