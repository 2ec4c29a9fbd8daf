package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/agents"
	"github.com/parley-ai/parley/internal/model"
	"github.com/parley-ai/parley/internal/stream"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := testLogger()
	registry := NewRegistry(logger, time.Hour)
	build := func(r *Registry) *Engine {
		return NewEngine(r, Config{Provider: agents.NewScriptedProvider(), Logger: logger})
	}
	return NewService(registry, build, DefaultWaitBudget, logger)
}

func awaitStatus(t *testing.T, s *Service, id uuid.UUID, status model.ExecutionStatus) model.Execution {
	t.Helper()
	var exec model.Execution
	require.Eventually(t, func() bool {
		var err error
		exec, err = s.Get(id)
		return err == nil && exec.Status == status
	}, 5*time.Second, 10*time.Millisecond, "execution never reached %s", status)
	return exec
}

func TestService_StartRejectsBlankInput(t *testing.T) {
	s := newTestService(t)
	_, err := s.Start(context.Background(), StartParams{Input: "   "})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestService_StartRejectsUnknownAgent(t *testing.T) {
	s := newTestService(t)
	_, err := s.Start(context.Background(), StartParams{Input: "hello", AgentID: "nobody"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestService_DirectExecutionCompletes(t *testing.T) {
	s := newTestService(t)

	exec, err := s.Start(context.Background(), StartParams{Input: "what time is it?"})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusRunning, exec.Status)
	assert.Equal(t, "coordinator", exec.AgentID)

	final := awaitStatus(t, s, exec.ID, model.ExecutionStatusCompleted)
	require.NotNil(t, final.EndTime)
	assert.NotEmpty(t, final.FinalAssistantText())
	assert.NotZero(t, final.Metrics["steps"])

	var actions []model.StepAction
	for _, step := range final.Steps {
		actions = append(actions, step.Action)
	}
	assert.Equal(t, []model.StepAction{
		model.StepActionAnalyzing,
		model.StepActionThinking,
		model.StepActionResponding,
		model.StepActionCompleting,
	}, actions)
}

func TestService_DelegationPath(t *testing.T) {
	s := newTestService(t)

	exec, err := s.Start(context.Background(), StartParams{Input: "please look up the weather in Lisbon"})
	require.NoError(t, err)

	final := awaitStatus(t, s, exec.ID, model.ExecutionStatusCompleted)
	assert.Equal(t, float64(1), final.Metrics["delegations"])

	var delegating *model.PipelineStep
	for i := range final.Steps {
		if final.Steps[i].Action == model.StepActionDelegating {
			delegating = &final.Steps[i]
		}
	}
	require.NotNil(t, delegating)
	assert.Equal(t, "coordinator", delegating.Agent)
	assert.Equal(t, "researcher", delegating.Metadata["target"])

	last := final.Steps[len(final.Steps)-1]
	assert.Equal(t, model.StepActionCompleting, last.Action)
}

func TestService_ConfirmationApproved(t *testing.T) {
	s := newTestService(t)

	exec, err := s.Start(context.Background(), StartParams{
		Input:   "send an email to bob about the launch",
		AgentID: "correspondent",
	})
	require.NoError(t, err)

	suspended := awaitStatus(t, s, exec.ID, model.ExecutionStatusAwaitingConfirmation)
	require.NotNil(t, suspended.PendingConfirmation)
	conf := suspended.PendingConfirmation
	assert.Equal(t, "sendEmail", conf.ToolName)
	assert.Equal(t, model.SensitivityHigh, conf.Sensitivity)
	assert.False(t, conf.Undoable)
	assert.NotEmpty(t, conf.Preview.Title)

	_, err = s.ResolveConfirmation(exec.ID, conf.ConfirmationID, true)
	require.NoError(t, err)

	final := awaitStatus(t, s, exec.ID, model.ExecutionStatusCompleted)
	assert.Nil(t, final.PendingConfirmation)

	tool := findToolPart(t, final)
	assert.Equal(t, model.ToolStateResult, tool.State)
	assert.JSONEq(t, `{"status":"ok","tool":"sendEmail"}`, string(tool.Result))
}

func TestService_ConfirmationRejectedSubstitutesDenial(t *testing.T) {
	s := newTestService(t)

	exec, err := s.Start(context.Background(), StartParams{
		Input:   "send an email to bob",
		AgentID: "correspondent",
	})
	require.NoError(t, err)

	suspended := awaitStatus(t, s, exec.ID, model.ExecutionStatusAwaitingConfirmation)
	_, err = s.ResolveConfirmation(exec.ID, suspended.PendingConfirmation.ConfirmationID, false)
	require.NoError(t, err)

	final := awaitStatus(t, s, exec.ID, model.ExecutionStatusCompleted)
	tool := findToolPart(t, final)
	assert.Equal(t, model.ToolStateResult, tool.State)
	assert.JSONEq(t, `{"status":"denied","tool":"sendEmail","reason":"rejected by user"}`, string(tool.Result))
}

func TestService_ResolveErrors(t *testing.T) {
	s := newTestService(t)

	_, err := s.ResolveConfirmation(uuid.New(), uuid.New(), true)
	assert.ErrorIs(t, err, ErrNotFound)

	exec, err := s.Start(context.Background(), StartParams{
		Input:   "send an email to bob",
		AgentID: "correspondent",
	})
	require.NoError(t, err)
	suspended := awaitStatus(t, s, exec.ID, model.ExecutionStatusAwaitingConfirmation)

	_, err = s.ResolveConfirmation(exec.ID, uuid.New(), true)
	assert.ErrorIs(t, err, ErrConfirmationMismatch)

	_, err = s.ResolveConfirmation(exec.ID, suspended.PendingConfirmation.ConfirmationID, true)
	require.NoError(t, err)
	awaitStatus(t, s, exec.ID, model.ExecutionStatusCompleted)

	_, err = s.ResolveConfirmation(exec.ID, suspended.PendingConfirmation.ConfirmationID, true)
	assert.ErrorIs(t, err, ErrNoPendingConfirmation)
}

func TestService_StreamCarriesFullFrameSequence(t *testing.T) {
	s := newTestService(t)

	exec, err := s.Start(context.Background(), StartParams{Input: "hello"})
	require.NoError(t, err)

	ch, cancel, err := s.Subscribe(exec.ID)
	require.NoError(t, err)
	defer cancel()

	var frames []stream.Frame
	for f := range ch {
		frames = append(frames, f)
	}
	require.NotEmpty(t, frames)
	assert.Equal(t, stream.Start{}, frames[0])
	assert.Equal(t, stream.Finish{}, frames[len(frames)-1])

	b := stream.NewBuilder()
	for _, f := range frames {
		require.NoError(t, b.Apply(f))
	}
	assert.True(t, b.Finished())
	assert.NotEmpty(t, b.Message().Text())
}

func TestRegistry_TerminalHookReceivesFinalSnapshot(t *testing.T) {
	logger := testLogger()
	registry := NewRegistry(logger, time.Hour)

	got := make(chan model.Execution, 1)
	registry.OnTerminal(func(exec model.Execution) { got <- exec })

	build := func(r *Registry) *Engine {
		return NewEngine(r, Config{Provider: agents.NewScriptedProvider(), Logger: logger})
	}
	s := NewService(registry, build, DefaultWaitBudget, logger)

	threadID := uuid.New()
	_, err := s.Start(context.Background(), StartParams{Input: "hello", ThreadID: threadID})
	require.NoError(t, err)

	select {
	case exec := <-got:
		assert.Equal(t, model.ExecutionStatusCompleted, exec.Status)
		assert.Equal(t, threadID, exec.ThreadID)
		assert.NotEmpty(t, exec.FinalAssistantText())
	case <-time.After(5 * time.Second):
		t.Fatal("terminal hook never ran")
	}
}

func TestService_WaiterReturnsNonTerminalAtBudget(t *testing.T) {
	logger := testLogger()
	registry := NewRegistry(logger, time.Hour)
	waiter := NewWaiter(registry, time.Nanosecond)
	// Budget below an interval tick: Wait must still return promptly.
	waiter.interval = 5 * time.Millisecond

	st := registry.create("coordinator")
	require.NoError(t, registry.setStatus(st.exec.ID, model.ExecutionStatusRunning))

	start := time.Now()
	exec, err := waiter.Wait(context.Background(), st.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusRunning, exec.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewWaiter_BudgetClamping(t *testing.T) {
	registry := NewRegistry(testLogger(), time.Hour)
	assert.Equal(t, DefaultWaitBudget, NewWaiter(registry, 0).budget)
	assert.Equal(t, MaxWaitBudget, NewWaiter(registry, 5*time.Minute).budget)
	assert.Equal(t, 10*time.Second, NewWaiter(registry, 10*time.Second).budget)
}

func TestService_RecoversOnceFromCriticalGraphError(t *testing.T) {
	logger := testLogger()
	registry := NewRegistry(logger, time.Hour)

	catalog := agents.NewCatalog()
	broken := append(catalog.All(), agents.AgentConfig{ID: "scheduler", Name: "Impostor"})

	var builds atomic.Int64
	build := func(r *Registry) *Engine {
		n := builds.Add(1)
		cfg := Config{Catalog: catalog, Provider: agents.NewScriptedProvider(), Logger: logger}
		if n == 1 {
			cfg.Agents = broken
		}
		return NewEngine(r, cfg)
	}

	s := NewService(registry, build, DefaultWaitBudget, logger)
	exec, err := s.Start(context.Background(), StartParams{Input: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), builds.Load())
	awaitStatus(t, s, exec.ID, model.ExecutionStatusCompleted)
}

func TestService_NoRetryWhenRebuildStillBroken(t *testing.T) {
	logger := testLogger()
	registry := NewRegistry(logger, time.Hour)

	catalog := agents.NewCatalog()
	broken := append(catalog.All(), agents.AgentConfig{ID: "scheduler", Name: "Impostor"})

	var builds atomic.Int64
	build := func(r *Registry) *Engine {
		builds.Add(1)
		return NewEngine(r, Config{
			Catalog:  catalog,
			Provider: agents.NewScriptedProvider(),
			Agents:   broken,
			Logger:   logger,
		})
	}

	s := NewService(registry, build, DefaultWaitBudget, logger)
	_, err := s.Start(context.Background(), StartParams{Input: "hello"})
	require.Error(t, err)
	assert.True(t, IsCriticalGraphError(err))
	// Initial build plus exactly one rebuild, never a second.
	assert.Equal(t, int64(2), builds.Load())
}

func TestService_NonCriticalErrorNeverRebuilds(t *testing.T) {
	logger := testLogger()
	registry := NewRegistry(logger, time.Hour)
	var builds atomic.Int64
	build := func(r *Registry) *Engine {
		builds.Add(1)
		return NewEngine(r, Config{Provider: agents.NewScriptedProvider(), Logger: logger})
	}

	s := NewService(registry, build, DefaultWaitBudget, logger)
	_, err := s.Start(context.Background(), StartParams{Input: ""})
	require.Error(t, err)
	assert.Equal(t, int64(1), builds.Load())
}

func TestIsCriticalGraphError(t *testing.T) {
	assert.False(t, IsCriticalGraphError(nil))
	assert.False(t, IsCriticalGraphError(assert.AnError))
	for _, msg := range []string{
		"orchestrator: graph node already present: scheduler",
		"orchestrator: graph not initialized: coordinator missing",
		"orchestrator: unreachable node: archivist has no routing keywords",
	} {
		assert.True(t, IsCriticalGraphError(&ValidationError{Reason: msg}), msg)
	}
}

func findToolPart(t *testing.T, exec model.Execution) model.ToolInvocationPart {
	t.Helper()
	for _, msg := range exec.Messages {
		for _, p := range msg.Parts {
			if tool, ok := p.(model.ToolInvocationPart); ok {
				return tool
			}
		}
	}
	t.Fatal("no tool invocation part found")
	return model.ToolInvocationPart{}
}
