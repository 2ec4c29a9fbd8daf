package stream_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/model"
	"github.com/parley-ai/parley/internal/stream"
)

func apply(t *testing.T, b *stream.Builder, frames ...stream.Frame) {
	t.Helper()
	for _, f := range frames {
		require.NoError(t, b.Apply(f))
	}
}

func TestBuilder_TextReconstruction(t *testing.T) {
	b := stream.NewBuilder()
	apply(t, b,
		stream.TextStart{},
		stream.TextDelta{Delta: "Hel"},
		stream.TextDelta{Delta: "lo"},
		stream.Finish{},
	)

	msg := b.Message()
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, model.TextPart{Text: "Hello"}, msg.Parts[0])
	assert.Equal(t, model.RoleAssistant, msg.Role)
	assert.True(t, b.Finished())
}

func TestBuilder_OrphanDeltaOpensTextImplicitly(t *testing.T) {
	b := stream.NewBuilder()
	apply(t, b, stream.TextDelta{Delta: "lone delta"})

	msg := b.Message()
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, model.TextPart{Text: "lone delta"}, msg.Parts[0])
}

func TestBuilder_ToolLifecycle(t *testing.T) {
	b := stream.NewBuilder()
	apply(t, b,
		stream.ToolInputStart{ToolName: "sendEmail", ToolCallID: "t1"},
		stream.ToolInputAvailable{ToolCallID: "t1", Input: json.RawMessage(`{"to":"a@b.com"}`)},
		stream.ToolOutputAvailable{ToolCallID: "t1", Output: json.RawMessage(`{"status":"sent"}`)},
	)

	msg := b.Message()
	require.Len(t, msg.Parts, 1)
	part, ok := msg.Parts[0].(model.ToolInvocationPart)
	require.True(t, ok)
	assert.Equal(t, model.ToolStateResult, part.State)
	assert.JSONEq(t, `{"to":"a@b.com"}`, string(part.Args))
	assert.JSONEq(t, `{"status":"sent"}`, string(part.Result))
}

func TestBuilder_ToolStateNeverRegresses(t *testing.T) {
	b := stream.NewBuilder()
	apply(t, b,
		stream.ToolInputStart{ToolName: "sendEmail", ToolCallID: "t1"},
		stream.ToolInputAvailable{ToolCallID: "t1", Input: json.RawMessage(`{}`)},
	)

	// A second input for the same call would move result-ward state backward.
	err := b.Apply(stream.ToolInputAvailable{ToolCallID: "t1", Input: json.RawMessage(`{}`)})
	assert.Error(t, err)
}

func TestBuilder_DuplicateToolCallRejected(t *testing.T) {
	b := stream.NewBuilder()
	apply(t, b, stream.ToolInputStart{ToolName: "sendEmail", ToolCallID: "t1"})
	err := b.Apply(stream.ToolInputStart{ToolName: "sendEmail", ToolCallID: "t1"})
	assert.Error(t, err)
}

func TestBuilder_ToolOutputForUnknownCall(t *testing.T) {
	b := stream.NewBuilder()
	err := b.Apply(stream.ToolOutputAvailable{ToolCallID: "ghost", Output: json.RawMessage(`{}`)})
	assert.Error(t, err)
}

func TestBuilder_ReasoningEndReplacesAccumulated(t *testing.T) {
	b := stream.NewBuilder()
	apply(t, b,
		stream.ReasoningStart{},
		stream.ReasoningDelta{Delta: "partial thou"},
		stream.ReasoningEnd{Text: ptr("the complete reasoning")},
	)

	msg := b.Message()
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, model.ReasoningPart{Reasoning: "the complete reasoning"}, msg.Parts[0])
}

func TestBuilder_ReasoningEndWithoutTextKeepsAccumulated(t *testing.T) {
	b := stream.NewBuilder()
	apply(t, b,
		stream.ReasoningStart{},
		stream.ReasoningDelta{Delta: "thought "},
		stream.ReasoningDelta{Delta: "trail"},
		stream.ReasoningEnd{},
	)

	msg := b.Message()
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, model.ReasoningPart{Reasoning: "thought trail"}, msg.Parts[0])
}

func TestBuilder_FinishInsertsReasoningAtFront(t *testing.T) {
	b := stream.NewBuilder()
	apply(t, b,
		stream.TextStart{},
		stream.TextDelta{Delta: "answer"},
		stream.Finish{Reasoning: ptr("afterthought")},
	)

	msg := b.Message()
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, model.ReasoningPart{Reasoning: "afterthought"}, msg.Parts[0])
	assert.Equal(t, model.TextPart{Text: "answer"}, msg.Parts[1])
}

func TestBuilder_FinishDoesNotDuplicateReasoning(t *testing.T) {
	b := stream.NewBuilder()
	apply(t, b,
		stream.ReasoningStart{},
		stream.ReasoningDelta{Delta: "already here"},
		stream.ReasoningEnd{},
		stream.Finish{Reasoning: ptr("ignored")},
	)

	msg := b.Message()
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, model.ReasoningPart{Reasoning: "already here"}, msg.Parts[0])
}

func TestBuilder_ToolCallClosesOpenTextPart(t *testing.T) {
	b := stream.NewBuilder()
	apply(t, b,
		stream.TextStart{},
		stream.TextDelta{Delta: "before"},
		stream.ToolInputStart{ToolName: "lookup", ToolCallID: "t1"},
		stream.TextDelta{Delta: "after"},
	)

	msg := b.Message()
	require.Len(t, msg.Parts, 3)
	assert.Equal(t, model.TextPart{Text: "before"}, msg.Parts[0])
	assert.Equal(t, model.TextPart{Text: "after"}, msg.Parts[2])
}

func TestBuilder_MessageSnapshotIsStable(t *testing.T) {
	b := stream.NewBuilder()
	apply(t, b, stream.TextStart{}, stream.TextDelta{Delta: "one"})
	snap := b.Message()
	apply(t, b, stream.TextDelta{Delta: " two"})

	assert.Equal(t, model.TextPart{Text: "one"}, snap.Parts[0])
}
