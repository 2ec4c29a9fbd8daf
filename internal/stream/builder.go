package stream

import (
	"fmt"

	"github.com/parley-ai/parley/internal/model"
)

// Builder reconstructs a structured assistant message from a frame
// sequence. Application is strictly sequential; frames must be applied in
// emission order, exactly once.
//
// Reconstruction rules:
//   - text-delta appends to the most recently opened, still-open text
//     part; with none open, a new part is opened implicitly (protocol
//     violation tolerated, not fatal).
//   - reasoning frames mirror text handling on a separate part;
//     reasoning-end with a text payload replaces the accumulated value.
//   - tool frames are keyed by toolCallId and only move state forward
//     (partial-call → call → result); a part is never duplicated.
//   - finish with a reasoning payload inserts a reasoning part at the
//     front when none exists yet.
type Builder struct {
	parts []model.Part

	openText      int // index into parts, -1 when no text part is open
	openReasoning int // index into parts, -1 when no reasoning part is open
	toolIndex     map[string]int

	finished bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		openText:      -1,
		openReasoning: -1,
		toolIndex:     make(map[string]int),
	}
}

// Apply folds one frame into the message under construction.
func (b *Builder) Apply(f Frame) error {
	switch v := f.(type) {
	case Start, StartStep, FinishStep:
		// Markers only.
		return nil

	case TextStart:
		b.parts = append(b.parts, model.TextPart{})
		b.openText = len(b.parts) - 1
		return nil

	case TextDelta:
		if b.openText < 0 {
			b.parts = append(b.parts, model.TextPart{})
			b.openText = len(b.parts) - 1
		}
		tp := b.parts[b.openText].(model.TextPart)
		tp.Text += v.Delta
		b.parts[b.openText] = tp
		return nil

	case ReasoningStart:
		b.parts = append(b.parts, model.ReasoningPart{})
		b.openReasoning = len(b.parts) - 1
		return nil

	case ReasoningDelta:
		if b.openReasoning < 0 {
			b.parts = append(b.parts, model.ReasoningPart{})
			b.openReasoning = len(b.parts) - 1
		}
		rp := b.parts[b.openReasoning].(model.ReasoningPart)
		rp.Reasoning += v.Delta
		b.parts[b.openReasoning] = rp
		return nil

	case ReasoningEnd:
		if v.Text != nil && b.openReasoning >= 0 {
			b.parts[b.openReasoning] = model.ReasoningPart{Reasoning: *v.Text}
		} else if v.Text != nil {
			b.parts = append(b.parts, model.ReasoningPart{Reasoning: *v.Text})
		}
		b.openReasoning = -1
		return nil

	case ToolInputStart:
		if _, exists := b.toolIndex[v.ToolCallID]; exists {
			return fmt.Errorf("stream: duplicate tool call %s", v.ToolCallID)
		}
		b.parts = append(b.parts, model.ToolInvocationPart{
			ToolCallID: v.ToolCallID,
			ToolName:   v.ToolName,
			State:      model.ToolStatePartialCall,
		})
		b.toolIndex[v.ToolCallID] = len(b.parts) - 1
		// A tool call interrupts the open text part; later deltas open a
		// fresh one rather than splicing into the earlier part.
		b.openText = -1
		return nil

	case ToolInputAvailable:
		idx, ok := b.toolIndex[v.ToolCallID]
		if !ok {
			return fmt.Errorf("stream: tool input for unknown call %s", v.ToolCallID)
		}
		part := b.parts[idx].(model.ToolInvocationPart)
		if !part.State.CanTransition(model.ToolStateCall) {
			return fmt.Errorf("stream: tool call %s cannot move from %s to %s",
				v.ToolCallID, part.State, model.ToolStateCall)
		}
		part.State = model.ToolStateCall
		part.Args = v.Input
		b.parts[idx] = part
		return nil

	case ToolOutputAvailable:
		idx, ok := b.toolIndex[v.ToolCallID]
		if !ok {
			return fmt.Errorf("stream: tool output for unknown call %s", v.ToolCallID)
		}
		part := b.parts[idx].(model.ToolInvocationPart)
		if !part.State.CanTransition(model.ToolStateResult) {
			return fmt.Errorf("stream: tool call %s cannot move from %s to %s",
				v.ToolCallID, part.State, model.ToolStateResult)
		}
		part.State = model.ToolStateResult
		part.Result = v.Output
		b.parts[idx] = part
		return nil

	case Finish:
		if v.Reasoning != nil && !b.hasReasoningPart() {
			b.parts = append([]model.Part{model.ReasoningPart{Reasoning: *v.Reasoning}}, b.parts...)
			b.reindexTools()
		}
		b.finished = true
		b.openText = -1
		b.openReasoning = -1
		return nil

	default:
		return fmt.Errorf("stream: builder: unhandled frame type %q", f.FrameType())
	}
}

// Finished reports whether a finish frame has been applied.
func (b *Builder) Finished() bool { return b.finished }

// Message returns the assistant message assembled so far. The returned
// parts slice is a copy; further Apply calls do not mutate it.
func (b *Builder) Message() model.ChatMessage {
	parts := make([]model.Part, len(b.parts))
	copy(parts, b.parts)
	return model.ChatMessage{Role: model.RoleAssistant, Parts: parts}
}

func (b *Builder) hasReasoningPart() bool {
	for _, p := range b.parts {
		if _, ok := p.(model.ReasoningPart); ok {
			return true
		}
	}
	return false
}

// reindexTools rebuilds the toolCallId index after parts have shifted.
func (b *Builder) reindexTools() {
	for i, p := range b.parts {
		if tip, ok := p.(model.ToolInvocationPart); ok {
			b.toolIndex[tip.ToolCallID] = i
		}
	}
	if b.openText >= 0 {
		b.openText++
	}
	if b.openReasoning >= 0 {
		b.openReasoning++
	}
}
