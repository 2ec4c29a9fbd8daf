package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is a conversation role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// AgentMode distinguishes a direct conversation with an agent from one
// supervised by the coordinator.
type AgentMode string

const (
	AgentModeDirect     AgentMode = "direct"
	AgentModeSupervised AgentMode = "supervised"
)

// AgentKey builds the composite key that segregates conversation history:
// a supervised conversation and a direct conversation with the same agent
// must never share a thread.
func AgentKey(agentID string, mode AgentMode) string {
	if mode == AgentModeSupervised {
		return agentID + "_supervised"
	}
	return agentID + "_direct"
}

// Part is a polymorphic segment of an assistant message. Concrete part
// types implement the unexported marker, forming a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment, grown by streamed deltas.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) isPart() {}

// ReasoningPart holds the model's reasoning trace, streamed separately
// from the visible answer.
type ReasoningPart struct {
	Reasoning string `json:"reasoning"`
}

func (ReasoningPart) isPart() {}

// ToolState is the lifecycle state of a tool invocation within a message.
// Transitions only move forward: partial-call → call → result.
type ToolState string

const (
	ToolStatePartialCall ToolState = "partial-call"
	ToolStateCall        ToolState = "call"
	ToolStateResult      ToolState = "result"
)

var toolStateRank = map[ToolState]int{
	ToolStatePartialCall: 0,
	ToolStateCall:        1,
	ToolStateResult:      2,
}

// CanTransition reports whether moving from s to next is a forward move.
func (s ToolState) CanTransition(next ToolState) bool {
	return toolStateRank[next] > toolStateRank[s]
}

// ToolInvocationPart is the evolving record of one tool call within a
// streamed assistant message, identified by ToolCallID.
type ToolInvocationPart struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	State      ToolState       `json:"state"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

func (ToolInvocationPart) isPart() {}

// ChatMessage is a structured, possibly still-growing message within an
// execution, assembled from streamed frames.
type ChatMessage struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Text concatenates all text parts of the message.
func (m ChatMessage) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// MarshalJSON emits each part with an explicit "type" tag so API
// consumers can tell segments of the closed Part set apart.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	type wire struct {
		Role  Role              `json:"role"`
		Parts []json.RawMessage `json:"parts"`
	}
	out := wire{Role: m.Role, Parts: make([]json.RawMessage, 0, len(m.Parts))}
	for _, p := range m.Parts {
		var (
			raw []byte
			err error
		)
		switch v := p.(type) {
		case TextPart:
			raw, err = marshalTagged("text", v)
		case ReasoningPart:
			raw, err = marshalTagged("reasoning", v)
		case ToolInvocationPart:
			raw, err = marshalTagged("tool-invocation", v)
		}
		if err != nil {
			return nil, err
		}
		out.Parts = append(out.Parts, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON: parts are dispatched on
// their "type" tag. Unknown tags are an error, keeping the part set closed.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role  Role              `json:"role"`
		Parts []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Role = wire.Role
	m.Parts = make([]Part, 0, len(wire.Parts))
	for _, raw := range wire.Parts {
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return err
		}
		switch probe.Type {
		case "text":
			var p TextPart
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			m.Parts = append(m.Parts, p)
		case "reasoning":
			var p ReasoningPart
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			m.Parts = append(m.Parts, p)
		case "tool-invocation":
			var p ToolInvocationPart
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			m.Parts = append(m.Parts, p)
		default:
			return fmt.Errorf("model: unknown part type: %q", probe.Type)
		}
	}
	return nil
}

func marshalTagged(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	tagged := append([]byte(`{"type":"`+typ+`",`), body[1:]...)
	return tagged, nil
}

// Thread is a persisted, continuing conversation between a user and a
// specific agent in a specific mode.
type Thread struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"userId"`
	AgentKey  string    `json:"agentKey"`
	AgentName string    `json:"agentName"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one durably stored conversation entry.
type Message struct {
	ID          uuid.UUID        `json:"id"`
	ThreadID    uuid.UUID        `json:"threadId"`
	UserID      string           `json:"userId"`
	Role        Role             `json:"role"`
	Content     string           `json:"content"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	ToolCalls   []map[string]any `json:"toolCalls,omitempty"`
	ToolResults []map[string]any `json:"toolResults,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}
