// Package model defines the core domain types for Parley.
//
// Types correspond directly to API payloads and database tables. Strong
// typing (UUIDs, time.Time, enums) is used throughout; map[string]any is
// reserved for genuinely free-form metadata.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of an agent execution.
type ExecutionStatus string

const (
	ExecutionStatusCreated              ExecutionStatus = "created"
	ExecutionStatusRunning              ExecutionStatus = "running"
	ExecutionStatusAwaitingConfirmation ExecutionStatus = "awaiting_confirmation"
	ExecutionStatusCompleted            ExecutionStatus = "completed"
	ExecutionStatusError                ExecutionStatus = "error"
)

// Terminal reports whether the status is final. Terminal executions are
// immutable: no component may mutate an execution once it completes or fails.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusError
}

// statusRank orders statuses so that transitions can be checked as
// strictly forward-moving. awaiting_confirmation and running share a rank
// because an execution oscillates between them while confirmations resolve.
var statusRank = map[ExecutionStatus]int{
	ExecutionStatusCreated:              0,
	ExecutionStatusRunning:              1,
	ExecutionStatusAwaitingConfirmation: 1,
	ExecutionStatusCompleted:            2,
	ExecutionStatusError:                2,
}

// CanTransition reports whether moving from s to next is a legal forward
// transition. Terminal states accept no transitions at all.
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	if s.Terminal() {
		return false
	}
	return statusRank[next] >= statusRank[s]
}

// StepAction categorizes one unit of agent activity within an execution.
type StepAction string

const (
	StepActionAnalyzing  StepAction = "analyzing"
	StepActionThinking   StepAction = "thinking"
	StepActionResponding StepAction = "responding"
	StepActionDelegating StepAction = "delegating"
	StepActionCompleting StepAction = "completing"
	StepActionRouting    StepAction = "routing"
	StepActionReviewing  StepAction = "reviewing"
	StepActionExecuting  StepAction = "executing"
	StepActionDelegation StepAction = "delegation"
)

// PipelineStep is one ordered, timestamped unit of agent activity.
// Steps for one execution are ordered by Timestamp ascending with Seq
// (insertion order) as tie-break. Steps sharing an ID are merged, last
// write wins, rather than appended twice.
type PipelineStep struct {
	ID        string         `json:"id"`
	Seq       int64          `json:"-"`
	Timestamp time.Time      `json:"timestamp"`
	Agent     string         `json:"agent"`
	Action    StepAction     `json:"action"`
	Content   string         `json:"content"`
	Progress  *int           `json:"progress,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StepLess is the ordering predicate for pipeline steps: timestamp
// ascending, then insertion sequence ascending for equal timestamps.
func StepLess(a, b PipelineStep) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Seq < b.Seq
}

// Execution is one run of an agent (or agent plus delegates) against a
// single input. Owned exclusively by the execution registry; callers only
// ever observe snapshots.
type Execution struct {
	ID      uuid.UUID `json:"id"`
	AgentID string    `json:"agentId"`
	// ThreadID links the execution to the conversation thread its final
	// assistant reply is persisted into; zero when no thread is involved.
	ThreadID  uuid.UUID          `json:"threadId,omitzero"`
	Status    ExecutionStatus    `json:"status"`
	StartTime time.Time          `json:"startTime"`
	EndTime   *time.Time         `json:"endTime,omitempty"`
	Messages  []ChatMessage      `json:"messages"`
	Metrics   map[string]float64 `json:"metrics"`
	Error     *string            `json:"error,omitempty"`
	Steps     []PipelineStep     `json:"steps"`

	// PendingConfirmation is set while the execution is suspended waiting
	// for a human to accept or reject a sensitive tool call.
	PendingConfirmation *PendingToolConfirmation `json:"pendingConfirmation,omitempty"`
}

// ExecutionSummary is the list-view projection of an Execution: messages
// and steps are omitted.
type ExecutionSummary struct {
	ID        uuid.UUID          `json:"id"`
	AgentID   string             `json:"agentId"`
	Status    ExecutionStatus    `json:"status"`
	StartTime time.Time          `json:"startTime"`
	EndTime   *time.Time         `json:"endTime,omitempty"`
	Metrics   map[string]float64 `json:"metrics"`
	Error     *string            `json:"error,omitempty"`
}

// Summary projects an execution into its list view.
func (e Execution) Summary() ExecutionSummary {
	return ExecutionSummary{
		ID:        e.ID,
		AgentID:   e.AgentID,
		Status:    e.Status,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
		Metrics:   e.Metrics,
		Error:     e.Error,
	}
}

// FinalAssistantText returns the text content of the last assistant
// message with a non-empty text part, or "" when none exists.
func (e Execution) FinalAssistantText() string {
	for i := len(e.Messages) - 1; i >= 0; i-- {
		m := e.Messages[i]
		if m.Role != RoleAssistant {
			continue
		}
		if text := m.Text(); text != "" {
			return text
		}
	}
	return ""
}
