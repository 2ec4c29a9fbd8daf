package agents

import (
	"context"

	"github.com/parley-ai/parley/internal/model"
	"github.com/parley-ai/parley/internal/stream"
)

// Request is one agent turn handed to a provider.
type Request struct {
	Agent   AgentConfig
	Input   string
	History []model.ChatMessage
}

// Provider produces streamed model output for one agent turn. The frame
// channel carries text, reasoning, and tool-call frames in emission
// order and is closed when the turn ends; at most one error is sent on
// the error channel, which is closed with the frame channel. Providers
// propose tool calls (tool-input-start, tool-input-available) but never
// execute them; the orchestrator owns execution and emits the
// tool-output-available frame itself.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan stream.Frame, <-chan error)
}
