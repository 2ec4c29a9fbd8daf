package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/parley-ai/parley/internal/stream"
)

// ScriptedProvider produces deterministic output without any model
// call. It is the default in development and tests: a short reasoning
// trace, a tool proposal when the input names an action the agent's
// tools cover, and a chunked text answer.
type ScriptedProvider struct {
	calls atomic.Int64
}

// NewScriptedProvider creates a scripted provider.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{}
}

// Name implements Provider.
func (p *ScriptedProvider) Name() string { return "scripted" }

// Stream implements Provider.
func (p *ScriptedProvider) Stream(ctx context.Context, req Request) (<-chan stream.Frame, <-chan error) {
	out := make(chan stream.Frame, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		emit := func(f stream.Frame) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			}
		}

		reasoning := fmt.Sprintf("Deciding how %s should handle: %s", req.Agent.Name, clip(req.Input, 80))
		if !emit(stream.ReasoningStart{}) {
			return
		}
		if !emit(stream.ReasoningDelta{Delta: reasoning}) {
			return
		}
		if !emit(stream.ReasoningEnd{}) {
			return
		}

		if tool, ok := p.matchTool(req); ok {
			callID := fmt.Sprintf("call_%d", p.calls.Add(1))
			args, _ := json.Marshal(map[string]string{"request": req.Input})
			if !emit(stream.ToolInputStart{ToolName: tool, ToolCallID: callID}) {
				return
			}
			if !emit(stream.ToolInputAvailable{ToolCallID: callID, Input: args}) {
				return
			}
		}

		answer := fmt.Sprintf("%s took care of your request: %s", req.Agent.Name, clip(req.Input, 120))
		if !emit(stream.TextStart{}) {
			return
		}
		for _, chunk := range chunks(answer, 12) {
			if !emit(stream.TextDelta{Delta: chunk}) {
				return
			}
		}
	}()

	return out, errCh
}

// matchTool proposes the first agent tool whose leading verb appears in
// the input ("send the email" matches sendEmail).
func (p *ScriptedProvider) matchTool(req Request) (string, bool) {
	lowered := strings.ToLower(req.Input)
	for _, tool := range req.Agent.Tools {
		if verb := leadingVerb(tool); verb != "" && strings.Contains(lowered, verb) {
			return tool, true
		}
	}
	return "", false
}

// leadingVerb extracts the first camelCase word of a tool name.
func leadingVerb(toolName string) string {
	for i, r := range toolName {
		if i > 0 && unicode.IsUpper(r) {
			return strings.ToLower(toolName[:i])
		}
	}
	return strings.ToLower(toolName)
}

// clip truncates s to at most max bytes, backing up to a rune boundary
// so the cut never produces invalid UTF-8.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "…"
}

// chunks splits s into pieces of roughly size bytes on rune boundaries.
func chunks(s string, size int) []string {
	var out []string
	for len(s) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
