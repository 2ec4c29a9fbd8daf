package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/agents"
	"github.com/parley-ai/parley/internal/model"
	"github.com/parley-ai/parley/internal/stream"
)

// ToolExecutor applies a tool's effect once the confirmation gate has
// cleared it.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error)
}

// SyntheticExecutor produces deterministic tool results without any
// external effect. Used in development and tests.
type SyntheticExecutor struct{}

// Execute implements ToolExecutor.
func (SyntheticExecutor) Execute(_ context.Context, toolName string, _ json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"status": "ok", "tool": toolName})
}

// deniedResult is substituted for a tool's output when the caller
// rejects its confirmation.
func deniedResult(toolName string) json.RawMessage {
	out, _ := json.Marshal(map[string]string{
		"status": "denied",
		"tool":   toolName,
		"reason": "rejected by user",
	})
	return out
}

// Router drives one execution: it sequences the coordinator and at most
// one specialist at a time, appends ordered pipeline steps, publishes
// stream frames, and halts at the confirmation gate for sensitive
// tools.
type Router struct {
	registry *Registry
	catalog  *agents.Catalog
	provider agents.Provider
	gate     *Gate
	tools    ToolExecutor
	logger   *slog.Logger
}

// NewRouter creates a router.
func NewRouter(registry *Registry, catalog *agents.Catalog, provider agents.Provider, gate *Gate, tools ToolExecutor, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		catalog:  catalog,
		provider: provider,
		gate:     gate,
		tools:    tools,
		logger:   logger,
	}
}

// runCounters accumulate per-execution metrics.
type runCounters struct {
	toolCalls   float64
	delegations float64
	steps       float64
}

// Run executes the delegation flow for one execution and always leaves
// it terminal. It is launched on its own goroutine by Engine.Start.
func (r *Router) Run(ctx context.Context, execID uuid.UUID, params StartParams) {
	start := time.Now()
	var counters runCounters
	var runErr error

	defer func() {
		if p := recover(); p != nil {
			runErr = fmt.Errorf("orchestrator: router panic: %v", p)
			r.logger.Error("orchestrator: router panicked", "execution_id", execID, "panic", p)
		}
		metrics := map[string]float64{
			"durationMs":  float64(time.Since(start).Milliseconds()),
			"steps":       counters.steps,
			"toolCalls":   counters.toolCalls,
			"delegations": counters.delegations,
		}
		r.registry.complete(execID, metrics, runErr)
	}()

	r.registry.publish(execID, stream.Start{})
	builder := stream.NewBuilder()

	supervised := params.ForceSupervised || params.AgentID == agents.CoordinatorID
	if supervised {
		runErr = r.runSupervised(ctx, execID, params, builder, &counters)
	} else {
		runErr = r.runDirect(ctx, execID, params, builder, &counters)
	}
	if runErr != nil {
		r.logger.Error("orchestrator: execution failed", "execution_id", execID, "error", runErr)
		return
	}

	r.registry.publish(execID, stream.Finish{})
	if err := builder.Apply(stream.Finish{}); err != nil {
		r.logger.Warn("orchestrator: finish frame rejected", "execution_id", execID, "error", err)
	}
	if msg := builder.Message(); len(msg.Parts) > 0 {
		r.registry.appendMessage(execID, msg)
	}
}

// runDirect handles a conversation held directly with one agent.
func (r *Router) runDirect(ctx context.Context, execID uuid.UUID, params StartParams, builder *stream.Builder, counters *runCounters) error {
	agent, ok := r.catalog.Get(params.AgentID)
	if !ok {
		return fmt.Errorf("orchestrator: unknown agent %q", params.AgentID)
	}

	r.step(execID, counters, agent.ID, model.StepActionAnalyzing, "Analyzing the request", pct(10), nil)
	r.step(execID, counters, agent.ID, model.StepActionThinking, "Working on a response", pct(30), nil)

	r.registry.publish(execID, stream.StartStep{})
	if err := r.runTurn(ctx, execID, agent, params, builder, counters); err != nil {
		return err
	}
	r.registry.publish(execID, stream.FinishStep{})

	r.step(execID, counters, agent.ID, model.StepActionResponding, "Responding", pct(80), nil)
	r.step(execID, counters, agent.ID, model.StepActionCompleting, "Done", pct(100), nil)
	return nil
}

// runSupervised lets the coordinator answer directly or hand off to
// exactly one specialist.
func (r *Router) runSupervised(ctx context.Context, execID uuid.UUID, params StartParams, builder *stream.Builder, counters *runCounters) error {
	coord := r.catalog.Coordinator()
	r.step(execID, counters, coord.ID, model.StepActionAnalyzing, "Analyzing the request", pct(10), nil)

	target, delegated := r.catalog.RouteTarget(params.Input)
	if !delegated {
		r.step(execID, counters, coord.ID, model.StepActionThinking, "Answering directly", pct(30), nil)

		r.registry.publish(execID, stream.StartStep{})
		if err := r.runTurn(ctx, execID, coord, params, builder, counters); err != nil {
			return err
		}
		r.registry.publish(execID, stream.FinishStep{})

		r.step(execID, counters, coord.ID, model.StepActionResponding, "Responding", pct(80), nil)
		r.step(execID, counters, coord.ID, model.StepActionCompleting, "Done", pct(100), nil)
		return nil
	}

	counters.delegations++
	r.step(execID, counters, coord.ID, model.StepActionRouting, "Selecting a specialist", pct(20), nil)
	r.step(execID, counters, coord.ID, model.StepActionDelegating, "Delegating to "+target.Name, pct(30),
		map[string]any{"target": target.ID})

	r.registry.publish(execID, stream.StartStep{})
	r.step(execID, counters, target.ID, model.StepActionAnalyzing, "Picking up the delegated request", pct(40), nil)
	if err := r.runTurn(ctx, execID, target, params, builder, counters); err != nil {
		return err
	}
	r.step(execID, counters, target.ID, model.StepActionResponding, "Responding", pct(80), nil)
	r.registry.publish(execID, stream.FinishStep{})

	r.step(execID, counters, coord.ID, model.StepActionReviewing, "Reviewing the specialist's work", pct(90), nil)
	r.step(execID, counters, coord.ID, model.StepActionCompleting, "Done", pct(100), nil)
	return nil
}

// runTurn streams one agent turn, forwarding frames and executing tool
// calls through the confirmation gate as they complete.
func (r *Router) runTurn(ctx context.Context, execID uuid.UUID, agent agents.AgentConfig, params StartParams, builder *stream.Builder, counters *runCounters) error {
	frames, errs := r.provider.Stream(ctx, agents.Request{
		Agent:   agent,
		Input:   params.Input,
		History: params.History,
	})

	toolNames := make(map[string]string)
	for f := range frames {
		r.registry.publish(execID, f)
		if err := builder.Apply(f); err != nil {
			r.logger.Warn("orchestrator: frame rejected", "execution_id", execID, "error", err)
			continue
		}

		switch v := f.(type) {
		case stream.ToolInputStart:
			toolNames[v.ToolCallID] = v.ToolName
		case stream.ToolInputAvailable:
			output, err := r.invokeTool(ctx, execID, agent, toolNames[v.ToolCallID], v.Input, counters)
			if err != nil {
				return err
			}
			result := stream.ToolOutputAvailable{ToolCallID: v.ToolCallID, Output: output}
			r.registry.publish(execID, result)
			if err := builder.Apply(result); err != nil {
				r.logger.Warn("orchestrator: tool result frame rejected", "execution_id", execID, "error", err)
			}
		}
	}
	return <-errs
}

// invokeTool runs one tool call, pausing at the gate first when its
// policy requires confirmation.
func (r *Router) invokeTool(ctx context.Context, execID uuid.UUID, agent agents.AgentConfig, toolName string, args json.RawMessage, counters *runCounters) (json.RawMessage, error) {
	counters.toolCalls++
	policy := agents.Classify(toolName)
	r.step(execID, counters, agent.ID, model.StepActionExecuting, "Executing "+toolName, nil,
		map[string]any{"tool": toolName, "sensitivity": string(policy.Sensitivity)})

	if policy.Sensitivity.RequiresConfirmation() {
		approved, err := r.gate.Intercept(ctx, execID, toolName, args, policy)
		if err != nil {
			return nil, err
		}
		if !approved {
			return deniedResult(toolName), nil
		}
	}

	output, err := r.tools.Execute(ctx, toolName, args)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: execute tool %s: %w", toolName, err)
	}
	return output, nil
}

func (r *Router) step(execID uuid.UUID, counters *runCounters, agentID string, action model.StepAction, content string, progress *int, metadata map[string]any) {
	counters.steps++
	r.registry.appendStep(execID, model.PipelineStep{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Agent:     agentID,
		Action:    action,
		Content:   content,
		Progress:  progress,
		Metadata:  metadata,
	})
}

func pct(n int) *int { return &n }
