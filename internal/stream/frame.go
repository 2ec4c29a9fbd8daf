// Package stream implements the wire codec for execution progress: a
// sequence of typed frames encoded as newline-delimited `data: <json>`
// records terminated by a literal `data: [DONE]` sentinel, and the
// builder that reconstructs a structured message from them.
//
// The frame taxonomy is a closed tagged union — one variant per wire
// type, decoded with an exhaustive switch so an unrecognized type is an
// explicit error, never a silently dropped record.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type identifies a frame variant on the wire.
type Type string

const (
	TypeStart               Type = "start"
	TypeStartStep           Type = "start-step"
	TypeTextStart           Type = "text-start"
	TypeTextDelta           Type = "text-delta"
	TypeReasoningStart      Type = "reasoning-start"
	TypeReasoningDelta      Type = "reasoning-delta"
	TypeReasoningEnd        Type = "reasoning-end"
	TypeToolInputStart      Type = "tool-input-start"
	TypeToolInputAvailable  Type = "tool-input-available"
	TypeToolOutputAvailable Type = "tool-output-available"
	TypeFinishStep          Type = "finish-step"
	TypeFinish              Type = "finish"
)

// Frame is one typed record in an execution's progress stream. Concrete
// frame types implement the unexported marker, forming a closed set.
type Frame interface {
	isFrame()
	// FrameType returns the wire name of the variant.
	FrameType() Type
}

// Start marks the beginning of a stream. Carries no payload.
type Start struct{}

func (Start) isFrame()        {}
func (Start) FrameType() Type { return TypeStart }

// StartStep marks the beginning of one agent step. Carries no payload.
type StartStep struct{}

func (StartStep) isFrame()        {}
func (StartStep) FrameType() Type { return TypeStartStep }

// TextStart opens a new, initially empty text part.
type TextStart struct{}

func (TextStart) isFrame()        {}
func (TextStart) FrameType() Type { return TypeTextStart }

// TextDelta appends text to the most recently opened text part.
type TextDelta struct {
	Delta string `json:"delta"`
}

func (TextDelta) isFrame()        {}
func (TextDelta) FrameType() Type { return TypeTextDelta }

// ReasoningStart opens a new, initially empty reasoning part.
type ReasoningStart struct{}

func (ReasoningStart) isFrame()        {}
func (ReasoningStart) FrameType() Type { return TypeReasoningStart }

// ReasoningDelta appends text to the open reasoning part.
type ReasoningDelta struct {
	Delta string `json:"delta"`
}

func (ReasoningDelta) isFrame()        {}
func (ReasoningDelta) FrameType() Type { return TypeReasoningDelta }

// ReasoningEnd closes the reasoning part. When Text is present it
// replaces — not appends to — the accumulated reasoning.
type ReasoningEnd struct {
	Text *string `json:"text,omitempty"`
}

func (ReasoningEnd) isFrame()        {}
func (ReasoningEnd) FrameType() Type { return TypeReasoningEnd }

// ToolInputStart announces a tool call whose arguments are still
// streaming. Opens a tool invocation part in state partial-call.
type ToolInputStart struct {
	ToolName   string `json:"toolName"`
	ToolCallID string `json:"toolCallId"`
}

func (ToolInputStart) isFrame()        {}
func (ToolInputStart) FrameType() Type { return TypeToolInputStart }

// ToolInputAvailable carries the complete arguments for a tool call.
type ToolInputAvailable struct {
	ToolCallID string          `json:"toolCallId"`
	Input      json.RawMessage `json:"input"`
}

func (ToolInputAvailable) isFrame()        {}
func (ToolInputAvailable) FrameType() Type { return TypeToolInputAvailable }

// ToolOutputAvailable carries the result of a tool call.
type ToolOutputAvailable struct {
	ToolCallID string          `json:"toolCallId"`
	Output     json.RawMessage `json:"output"`
}

func (ToolOutputAvailable) isFrame()        {}
func (ToolOutputAvailable) FrameType() Type { return TypeToolOutputAvailable }

// FinishStep marks the end of one agent step. Carries no payload.
type FinishStep struct{}

func (FinishStep) isFrame()        {}
func (FinishStep) FrameType() Type { return TypeFinishStep }

// Finish marks the end of the stream. When Reasoning is present and no
// reasoning part exists yet, the builder inserts one at the front of the
// parts list.
type Finish struct {
	Reasoning *string `json:"reasoning,omitempty"`
}

func (Finish) isFrame()        {}
func (Finish) FrameType() Type { return TypeFinish }

// Marshal encodes a frame as its JSON wire object, including the type tag.
func Marshal(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("stream: marshal %s frame: %w", f.FrameType(), err)
	}
	// Splice the type tag into the object. Payload-free frames marshal
	// to "{}", which needs the comma elided.
	if len(body) == 2 {
		return []byte(`{"type":"` + f.FrameType() + `"}`), nil
	}
	return append([]byte(`{"type":"`+f.FrameType()+`",`), body[1:]...), nil
}

// ErrUnknownType is returned (wrapped) when a record carries a type tag
// outside the closed frame taxonomy.
var ErrUnknownType = errors.New("stream: unknown frame type")

// Unmarshal decodes a JSON wire object into its frame variant. An
// unrecognized type tag is an error wrapping ErrUnknownType.
func Unmarshal(data []byte) (Frame, error) {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("stream: unmarshal frame: %w", err)
	}

	switch probe.Type {
	case TypeStart:
		return Start{}, nil
	case TypeStartStep:
		return StartStep{}, nil
	case TypeTextStart:
		return TextStart{}, nil
	case TypeTextDelta:
		var f TextDelta
		return decodeAs(data, &f, probe.Type)
	case TypeReasoningStart:
		return ReasoningStart{}, nil
	case TypeReasoningDelta:
		var f ReasoningDelta
		return decodeAs(data, &f, probe.Type)
	case TypeReasoningEnd:
		var f ReasoningEnd
		return decodeAs(data, &f, probe.Type)
	case TypeToolInputStart:
		var f ToolInputStart
		return decodeAs(data, &f, probe.Type)
	case TypeToolInputAvailable:
		var f ToolInputAvailable
		return decodeAs(data, &f, probe.Type)
	case TypeToolOutputAvailable:
		var f ToolOutputAvailable
		return decodeAs(data, &f, probe.Type)
	case TypeFinishStep:
		return FinishStep{}, nil
	case TypeFinish:
		var f Finish
		return decodeAs(data, &f, probe.Type)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
}

func decodeAs[T Frame](data []byte, f *T, t Type) (Frame, error) {
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("stream: unmarshal %s frame: %w", t, err)
	}
	return *f, nil
}
