// Package orchestrator implements the execution pipeline: the registry
// and state machine, the delegation router, the tool confirmation gate,
// the completion waiter, and the recovery controller that rebuilds the
// agent graph after a fatal graph error.
package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/model"
	"github.com/parley-ai/parley/internal/stream"
)

// subscriberBuffer sizes each live subscriber channel. Slow subscribers
// with a full buffer have frames dropped rather than blocking the
// router.
const subscriberBuffer = 64

// execState is the registry's record of one execution: the live
// Execution struct, the frame backlog, and the fan-out channels. All
// fields are guarded by mu. Callers outside the registry only ever see
// snapshots.
type execState struct {
	mu sync.Mutex

	exec    model.Execution
	nextSeq int64

	frames []stream.Frame
	subs   map[int]chan stream.Frame
	nextID int
	closed bool

	decision chan bool
}

// Registry is the unit of truth for execution state. It exclusively
// owns every Execution's lifetime; mutation goes through its methods,
// which enforce forward-only status transitions and terminal
// immutability.
type Registry struct {
	mu    sync.RWMutex
	execs map[uuid.UUID]*execState

	logger *slog.Logger
	ttl    time.Duration

	onTerminal func(model.Execution)
}

// NewRegistry creates an empty registry. Terminal executions older than
// ttl are evicted by RunJanitor; non-terminal executions are never
// evicted.
func NewRegistry(logger *slog.Logger, ttl time.Duration) *Registry {
	return &Registry{
		execs:  make(map[uuid.UUID]*execState),
		logger: logger,
		ttl:    ttl,
	}
}

// OnTerminal registers a hook invoked once per execution, with its
// final snapshot, when it reaches a terminal status. The hook runs on
// the execution's own goroutine after the frame stream closes.
// Register before starting executions.
func (r *Registry) OnTerminal(fn func(model.Execution)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTerminal = fn
}

func (r *Registry) terminalHook() func(model.Execution) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onTerminal
}

// create allocates a new execution in status created.
func (r *Registry) create(agentID string) *execState {
	st := &execState{
		exec: model.Execution{
			ID:        uuid.New(),
			AgentID:   agentID,
			Status:    model.ExecutionStatusCreated,
			StartTime: time.Now().UTC(),
			Metrics:   make(map[string]float64),
		},
		subs: make(map[int]chan stream.Frame),
	}
	r.mu.Lock()
	r.execs[st.exec.ID] = st
	r.mu.Unlock()
	return st
}

func (r *Registry) lookup(id uuid.UUID) (*execState, bool) {
	r.mu.RLock()
	st, ok := r.execs[id]
	r.mu.RUnlock()
	return st, ok
}

// Get returns a snapshot of one execution.
func (r *Registry) Get(id uuid.UUID) (model.Execution, error) {
	st, ok := r.lookup(id)
	if !ok {
		return model.Execution{}, ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return snapshot(st.exec), nil
}

// List returns summaries of all executions, newest first.
func (r *Registry) List() []model.ExecutionSummary {
	r.mu.RLock()
	states := make([]*execState, 0, len(r.execs))
	for _, st := range r.execs {
		states = append(states, st)
	}
	r.mu.RUnlock()

	out := make([]model.ExecutionSummary, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, snapshot(st.exec).Summary())
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// snapshot deep-copies the mutable parts of an execution so callers
// never alias registry-owned state.
func snapshot(e model.Execution) model.Execution {
	out := e
	out.Steps = make([]model.PipelineStep, len(e.Steps))
	copy(out.Steps, e.Steps)
	out.Messages = make([]model.ChatMessage, len(e.Messages))
	copy(out.Messages, e.Messages)
	out.Metrics = make(map[string]float64, len(e.Metrics))
	for k, v := range e.Metrics {
		out.Metrics[k] = v
	}
	if e.EndTime != nil {
		t := *e.EndTime
		out.EndTime = &t
	}
	if e.Error != nil {
		s := *e.Error
		out.Error = &s
	}
	if e.PendingConfirmation != nil {
		c := *e.PendingConfirmation
		out.PendingConfirmation = &c
	}
	return out
}

// setStatus moves an execution to a new status, enforcing forward-only
// transitions. Terminal statuses also set the end time.
func (r *Registry) setStatus(id uuid.UUID, next model.ExecutionStatus) error {
	st, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.exec.Status.CanTransition(next) {
		return &ValidationError{Reason: "illegal status transition " + string(st.exec.Status) + " -> " + string(next)}
	}
	st.exec.Status = next
	if next.Terminal() {
		now := time.Now().UTC()
		st.exec.EndTime = &now
	}
	return nil
}

// appendStep merges one pipeline step into the execution's step log.
// A step sharing an id with an existing one replaces it (last write
// wins, original insertion order retained); otherwise the step is
// appended. The log stays ordered by timestamp, insertion order as
// tie-break.
func (r *Registry) appendStep(id uuid.UUID, step model.PipelineStep) {
	st, ok := r.lookup(id)
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.exec.Status.Terminal() {
		return
	}

	merged := false
	for i := range st.exec.Steps {
		if st.exec.Steps[i].ID == step.ID {
			step.Seq = st.exec.Steps[i].Seq
			st.exec.Steps[i] = step
			merged = true
			break
		}
	}
	if !merged {
		step.Seq = st.nextSeq
		st.nextSeq++
		st.exec.Steps = append(st.exec.Steps, step)
	}
	sort.SliceStable(st.exec.Steps, func(i, j int) bool {
		return model.StepLess(st.exec.Steps[i], st.exec.Steps[j])
	})
}

// appendMessage appends a reconstructed message to the execution.
func (r *Registry) appendMessage(id uuid.UUID, msg model.ChatMessage) {
	st, ok := r.lookup(id)
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.exec.Status.Terminal() {
		return
	}
	st.exec.Messages = append(st.exec.Messages, msg)
}

// publish appends a frame to the execution's backlog and fans it out to
// live subscribers.
func (r *Registry) publish(id uuid.UUID, f stream.Frame) {
	st, ok := r.lookup(id)
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.frames = append(st.frames, f)
	for subID, ch := range st.subs {
		select {
		case ch <- f:
		default:
			r.logger.Warn("orchestrator: dropping frame for slow subscriber",
				"execution_id", id, "subscriber", subID, "frame", f.FrameType())
		}
	}
}

// closeStream marks the frame stream finished and closes all subscriber
// channels. Late subscribers still receive the full backlog.
func (r *Registry) closeStream(id uuid.UUID) {
	st, ok := r.lookup(id)
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	for subID, ch := range st.subs {
		close(ch)
		delete(st.subs, subID)
	}
}

// Subscribe returns a channel replaying the execution's frame backlog
// followed by live frames, and a cancel function the caller must call
// when done. The channel is closed when the stream finishes.
func (r *Registry) Subscribe(id uuid.UUID) (<-chan stream.Frame, func(), error) {
	st, ok := r.lookup(id)
	if !ok {
		return nil, nil, ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	ch := make(chan stream.Frame, len(st.frames)+subscriberBuffer)
	for _, f := range st.frames {
		ch <- f
	}
	if st.closed {
		close(ch)
		return ch, func() {}, nil
	}

	subID := st.nextID
	st.nextID++
	st.subs[subID] = ch
	cancel := func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if _, live := st.subs[subID]; live {
			delete(st.subs, subID)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// setPending records the pending confirmation and its decision channel
// and suspends the execution.
func (r *Registry) setPending(id uuid.UUID, conf model.PendingToolConfirmation, decision chan bool) error {
	if err := r.setStatus(id, model.ExecutionStatusAwaitingConfirmation); err != nil {
		return err
	}
	st, _ := r.lookup(id)
	st.mu.Lock()
	st.exec.PendingConfirmation = &conf
	st.decision = decision
	st.mu.Unlock()
	return nil
}

// clearPending removes the pending confirmation and resumes the
// execution.
func (r *Registry) clearPending(id uuid.UUID) {
	st, ok := r.lookup(id)
	if !ok {
		return
	}
	st.mu.Lock()
	st.exec.PendingConfirmation = nil
	st.decision = nil
	st.mu.Unlock()
	// Ignore the transition error: the execution may already be terminal
	// when the gate unwinds on context cancellation.
	_ = r.setStatus(id, model.ExecutionStatusRunning)
}

// resolvePending delivers a confirmation decision. The decision channel
// is buffered, so delivery never blocks the API handler.
func (r *Registry) resolvePending(id, confirmationID uuid.UUID, approved bool) error {
	st, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.exec.PendingConfirmation == nil || st.decision == nil {
		return ErrNoPendingConfirmation
	}
	if st.exec.PendingConfirmation.ConfirmationID != confirmationID {
		return ErrConfirmationMismatch
	}
	st.decision <- approved
	st.decision = nil
	return nil
}

// complete marks an execution terminal with the given outcome.
func (r *Registry) complete(id uuid.UUID, metrics map[string]float64, execErr error) {
	st, ok := r.lookup(id)
	if !ok {
		return
	}
	st.mu.Lock()
	for k, v := range metrics {
		st.exec.Metrics[k] = v
	}
	st.mu.Unlock()

	next := model.ExecutionStatusCompleted
	if execErr != nil {
		next = model.ExecutionStatusError
		msg := execErr.Error()
		st.mu.Lock()
		st.exec.Error = &msg
		st.exec.PendingConfirmation = nil
		st.mu.Unlock()
	}
	if err := r.setStatus(id, next); err != nil {
		r.logger.Error("orchestrator: complete transition failed",
			"execution_id", id, "status", next, "error", err)
		r.closeStream(id)
		return
	}
	r.closeStream(id)

	if hook := r.terminalHook(); hook != nil {
		if exec, err := r.Get(id); err == nil {
			hook(exec)
		}
	}
}

// RunJanitor evicts terminal executions once their end time is older
// than the retention TTL. It blocks until ctx is cancelled.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictExpired(time.Now().UTC())
		}
	}
}

func (r *Registry) evictExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, st := range r.execs {
		st.mu.Lock()
		expired := st.exec.Status.Terminal() &&
			st.exec.EndTime != nil &&
			now.Sub(*st.exec.EndTime) > r.ttl
		st.mu.Unlock()
		if expired {
			delete(r.execs, id)
			r.logger.Debug("orchestrator: evicted terminal execution", "execution_id", id)
		}
	}
}
