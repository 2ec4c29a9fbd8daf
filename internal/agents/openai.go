package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/parley-ai/parley/internal/model"
	"github.com/parley-ai/parley/internal/stream"
)

// aggCall accumulates partial tool-call deltas by stream index so the
// complete arguments can be emitted once the turn finishes.
type aggCall struct {
	id, name string
	args     string
	started  bool
}

// OpenAIProvider adapts the OpenAI Chat Completions streaming API to
// the frame protocol.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates a provider using the given API key. An
// empty defaultModel falls back to gpt-4o-mini; per-agent models
// override it.
func NewOpenAIProvider(apiKey, defaultModel string) *OpenAIProvider {
	if defaultModel == "" {
		defaultModel = openai.ChatModelGPT4oMini
	}
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultModel,
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Stream implements Provider.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan stream.Frame, <-chan error) {
	out := make(chan stream.Frame, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := p.buildParams(req)
		sseStream := p.client.Chat.Completions.NewStreaming(ctx, params)

		emit := func(f stream.Frame) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			}
		}

		textOpen := false
		toolAgg := map[int64]*aggCall{}
		for sseStream.Next() {
			chunk := sseStream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if !textOpen {
						if !emit(stream.TextStart{}) {
							return
						}
						textOpen = true
					}
					if !emit(stream.TextDelta{Delta: choice.Delta.Content}) {
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{}
						toolAgg[tc.Index] = ac
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					ac.args += tc.Function.Arguments
					if !ac.started && ac.id != "" && ac.name != "" {
						ac.started = true
						if !emit(stream.ToolInputStart{ToolName: ac.name, ToolCallID: ac.id}) {
							return
						}
					}
				}
				if choice.FinishReason != "" {
					for _, ac := range toolAgg {
						if !ac.started {
							continue
						}
						args := json.RawMessage(ac.args)
						if !json.Valid(args) {
							args, _ = json.Marshal(ac.args)
						}
						if !emit(stream.ToolInputAvailable{ToolCallID: ac.id, Input: args}) {
							return
						}
					}
					toolAgg = map[int64]*aggCall{}
				}
			}
		}
		if err := sseStream.Err(); err != nil {
			errCh <- fmt.Errorf("agents: openai stream: %w", err)
		}
	}()

	return out, errCh
}

func (p *OpenAIProvider) buildParams(req Request) openai.ChatCompletionNewParams {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(req.Agent.Prompt),
	}
	for _, m := range req.History {
		text := m.Text()
		if text == "" {
			continue
		}
		switch m.Role {
		case model.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(text))
		case model.RoleSystem:
			messages = append(messages, openai.SystemMessage(text))
		default:
			messages = append(messages, openai.UserMessage(text))
		}
	}
	messages = append(messages, openai.UserMessage(req.Input))

	chatModel := p.model
	if req.Agent.Model != "" {
		chatModel = req.Agent.Model
	}
	return openai.ChatCompletionNewParams{
		Model:    chatModel,
		Messages: messages,
	}
}
