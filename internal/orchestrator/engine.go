package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/agents"
	"github.com/parley-ai/parley/internal/model"
)

// StartParams carries everything needed to start one execution.
// ThreadID, when set, is the conversation thread the completion hook
// persists the final assistant reply into.
type StartParams struct {
	Input           string
	AgentID         string
	ThreadID        uuid.UUID
	ForceSupervised bool
	History         []model.ChatMessage
}

// Config assembles an engine. Agents defaults to the catalog's seed
// set; overriding it lets callers run a reduced or extended roster.
type Config struct {
	Catalog  *agents.Catalog
	Provider agents.Provider
	Tools    ToolExecutor
	Agents   []agents.AgentConfig
	Logger   *slog.Logger
}

// agentGraph is the validated delegation topology: the coordinator at
// the root with an edge to every routable specialist.
type agentGraph struct {
	nodes map[string]agents.AgentConfig
	edges map[string][]string
}

// buildGraph validates the roster into a delegation graph. The error
// messages here are the ones the recovery controller classifies as
// critical.
func buildGraph(roster []agents.AgentConfig) (agentGraph, error) {
	g := agentGraph{
		nodes: make(map[string]agents.AgentConfig, len(roster)),
		edges: make(map[string][]string),
	}
	for _, a := range roster {
		if _, dup := g.nodes[a.ID]; dup {
			return agentGraph{}, fmt.Errorf("orchestrator: graph node already present: %s", a.ID)
		}
		g.nodes[a.ID] = a
	}
	if _, ok := g.nodes[agents.CoordinatorID]; !ok {
		return agentGraph{}, fmt.Errorf("orchestrator: graph not initialized: coordinator missing")
	}
	for id, a := range g.nodes {
		if id == agents.CoordinatorID {
			continue
		}
		if len(a.Keywords) == 0 {
			return agentGraph{}, fmt.Errorf("orchestrator: unreachable node: %s has no routing keywords", id)
		}
		g.edges[agents.CoordinatorID] = append(g.edges[agents.CoordinatorID], id)
	}
	return g, nil
}

// Engine is one orchestrator instance: the validated agent graph plus
// the router that drives executions against it. Engines are cheap to
// rebuild; the registry lives outside so executions survive a rebuild.
type Engine struct {
	registry *Registry
	catalog  *agents.Catalog
	router   *Router
	logger   *slog.Logger

	// graphErr is surfaced by Start rather than at construction so the
	// recovery controller can observe and classify it.
	graphErr error
}

// NewEngine builds an engine over an existing registry.
func NewEngine(registry *Registry, cfg Config) *Engine {
	if cfg.Catalog == nil {
		cfg.Catalog = agents.NewCatalog()
	}
	if cfg.Tools == nil {
		cfg.Tools = SyntheticExecutor{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	roster := cfg.Agents
	if roster == nil {
		roster = cfg.Catalog.All()
	}

	_, graphErr := buildGraph(roster)
	gate := NewGate(registry, cfg.Logger)
	return &Engine{
		registry: registry,
		catalog:  cfg.Catalog,
		router:   NewRouter(registry, cfg.Catalog, cfg.Provider, gate, cfg.Tools, cfg.Logger),
		logger:   cfg.Logger,
		graphErr: graphErr,
	}
}

// Gate exposes the engine's confirmation gate.
func (e *Engine) Gate() *Gate {
	return e.router.gate
}

// Start validates the request, allocates an execution, and launches
// delegation asynchronously. It returns the in-progress execution
// snapshot immediately; callers re-fetch for later state.
func (e *Engine) Start(ctx context.Context, params StartParams) (model.Execution, error) {
	if e.graphErr != nil {
		return model.Execution{}, fmt.Errorf("orchestrator: start execution: %w", e.graphErr)
	}
	if err := model.ValidateInput(params.Input); err != nil {
		return model.Execution{}, &ValidationError{Reason: err.Error()}
	}
	if params.AgentID == "" {
		params.AgentID = agents.CoordinatorID
	}
	if _, ok := e.catalog.Get(params.AgentID); !ok {
		return model.Execution{}, &ValidationError{Reason: "unknown agent " + params.AgentID}
	}

	st := e.registry.create(params.AgentID)
	id := st.exec.ID
	if params.ThreadID != uuid.Nil {
		st.mu.Lock()
		st.exec.ThreadID = params.ThreadID
		st.mu.Unlock()
	}
	if err := e.registry.setStatus(id, model.ExecutionStatusRunning); err != nil {
		return model.Execution{}, err
	}

	// The execution outlives the request that started it: detach from the
	// request's cancellation while keeping its values.
	go e.router.Run(context.WithoutCancel(ctx), id, params)

	e.logger.Info("orchestrator: execution started",
		"execution_id", id, "agent_id", params.AgentID, "force_supervised", params.ForceSupervised)
	return e.registry.Get(id)
}
