package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMessageJSONRoundTrip(t *testing.T) {
	msg := ChatMessage{
		Role: RoleAssistant,
		Parts: []Part{
			ReasoningPart{Reasoning: "the user wants an email sent"},
			ToolInvocationPart{
				ToolCallID: "t1",
				ToolName:   "sendEmail",
				State:      ToolStateResult,
				Args:       json.RawMessage(`{"to":"bob"}`),
				Result:     json.RawMessage(`{"status":"ok"}`),
			},
			TextPart{Text: "Done, the email is out."},
		},
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"tool-invocation"`)

	var back ChatMessage
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, msg, back)
}

func TestChatMessageUnmarshalRejectsUnknownPart(t *testing.T) {
	raw := []byte(`{"role":"assistant","parts":[{"type":"hologram","text":"hi"}]}`)
	var msg ChatMessage
	assert.Error(t, json.Unmarshal(raw, &msg))
}

func TestAgentKeySegregatesModes(t *testing.T) {
	assert.Equal(t, "scheduler_direct", AgentKey("scheduler", AgentModeDirect))
	assert.Equal(t, "scheduler_supervised", AgentKey("scheduler", AgentModeSupervised))
}

func TestFinalAssistantTextSkipsEmpty(t *testing.T) {
	exec := Execution{Messages: []ChatMessage{
		{Role: RoleAssistant, Parts: []Part{TextPart{Text: "first answer"}}},
		{Role: RoleUser, Parts: []Part{TextPart{Text: "follow-up"}}},
		{Role: RoleAssistant, Parts: []Part{ReasoningPart{Reasoning: "thinking only"}}},
	}}
	assert.Equal(t, "first answer", exec.FinalAssistantText())
}
