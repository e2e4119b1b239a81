// Package transport connects conversation controllers to language models
// through langchaingo.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/logger"
	localtools "github.com/killallgit/threadline/pkg/tools"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"
)

const DefaultMaxToolSteps = 5

type Option func(*LangChainTransport)

// WithTools offers tools to the model. Calls to them run locally and their
// results are fed back until the model answers without calling a tool.
func WithTools(ts ...tools.Tool) Option {
	return func(t *LangChainTransport) {
		for _, tool := range ts {
			t.tools[strings.ToLower(tool.Name())] = tool
			t.order = append(t.order, tool)
		}
	}
}

// WithMaxToolSteps bounds the number of tool rounds in one exchange
func WithMaxToolSteps(n int) Option {
	return func(t *LangChainTransport) {
		t.maxSteps = n
	}
}

// WithCallOptions adds options to every model call
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(t *LangChainTransport) {
		t.callOpts = append(t.callOpts, opts...)
	}
}

// LangChainTransport streams replies from an llms.Model as chat events
type LangChainTransport struct {
	model    llms.Model
	tools    map[string]tools.Tool
	order    []tools.Tool
	maxSteps int
	callOpts []llms.CallOption
	log      *logger.ComponentLogger
}

var _ controllers.Transport = (*LangChainTransport)(nil)

func NewLangChainTransport(model llms.Model, opts ...Option) *LangChainTransport {
	t := &LangChainTransport{
		model:    model,
		tools:    make(map[string]tools.Tool),
		maxSteps: DefaultMaxToolSteps,
		log:      logger.WithComponent("transport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Stream implements controllers.Transport. The channel always ends with
// Done or StreamError unless ctx is cancelled first.
func (t *LangChainTransport) Stream(ctx context.Context, req controllers.Request) (<-chan chat.Event, error) {
	if t.model == nil {
		return nil, fmt.Errorf("no model configured")
	}

	out := make(chan chat.Event, 64)
	go func() {
		defer close(out)
		t.run(ctx, req, out)
	}()
	return out, nil
}

func (t *LangChainTransport) run(ctx context.Context, req controllers.Request, out chan<- chat.Event) {
	send := func(ev chat.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	messages := toLLMMessages(req.Messages)

	for step := 0; ; step++ {
		choice, ok := t.generate(ctx, messages, send)
		if !ok {
			return
		}

		if len(choice.ToolCalls) == 0 {
			send(chat.Done{})
			return
		}

		if step >= t.maxSteps {
			t.log.Warn("Tool step limit reached", "thread", req.ThreadID, "steps", step)
			for _, call := range choice.ToolCalls {
				id, name, input := describeCall(call)
				if !send(chat.ToolCall{ID: id, Name: name, State: chat.ToolInputAvailable, Input: input}) ||
					!send(chat.ToolResult{ID: id, Output: "tool step limit reached", IsError: true}) {
					return
				}
			}
			send(chat.Done{})
			return
		}

		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if choice.Content != "" {
			assistant.Parts = append(assistant.Parts, llms.TextPart(choice.Content))
		}
		responses := make([]llms.MessageContent, 0, len(choice.ToolCalls))

		for _, call := range choice.ToolCalls {
			id, name, input := describeCall(call)
			call.ID = id
			assistant.Parts = append(assistant.Parts, call)

			if !send(chat.ToolCall{ID: id, Name: name, State: chat.ToolInputAvailable, Input: input}) {
				return
			}

			output, err := t.callTool(ctx, name, arguments(call))
			if ctx.Err() != nil {
				return
			}
			result := chat.ToolResult{ID: id, Output: output}
			if err != nil {
				result = chat.ToolResult{ID: id, Output: err.Error(), IsError: true}
			}
			if !send(result) {
				return
			}

			responses = append(responses, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: id,
					Name:       name,
					Content:    result.Output,
				}},
			})
		}

		messages = append(messages, assistant)
		messages = append(messages, responses...)
	}
}

// generate runs one model call, streaming its content. It reports false
// when the exchange is over, either cancelled or failed.
func (t *LangChainTransport) generate(ctx context.Context, messages []llms.MessageContent, send func(chat.Event) bool) (*llms.ContentChoice, bool) {
	splitter := &thinkSplitter{}
	delivered := true

	opts := append([]llms.CallOption(nil), t.callOpts...)
	opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if isToolCallChunk(chunk) {
			return nil
		}
		for _, ev := range splitter.Feed(string(chunk)) {
			if !send(ev) {
				delivered = false
				return ctx.Err()
			}
		}
		return nil
	}))
	if defs := t.definitions(); len(defs) > 0 {
		opts = append(opts, llms.WithTools(defs))
	}

	resp, err := t.model.GenerateContent(ctx, messages, opts...)

	for _, ev := range splitter.Flush() {
		if !send(ev) {
			return nil, false
		}
	}

	if ctx.Err() != nil || !delivered {
		return nil, false
	}
	if err != nil {
		t.log.Error("Model call failed", "error", err)
		send(chat.StreamError{Message: err.Error()})
		return nil, false
	}
	if resp == nil || len(resp.Choices) == 0 {
		return &llms.ContentChoice{}, true
	}

	choice := resp.Choices[0]
	switch {
	case choice.ReasoningContent == "" || splitter.Reasoned():
	case splitter.Emitted():
		// the answer already went out and reasoning must not follow it
		t.log.Debug("Dropping reasoning that arrived after the answer", "length", len(choice.ReasoningContent))
	default:
		if !send(chat.ReasoningDelta{Text: choice.ReasoningContent}) {
			return nil, false
		}
	}
	if !splitter.Emitted() && choice.Content != "" {
		events := splitter.Feed(choice.Content)
		events = append(events, splitter.Flush()...)
		for _, ev := range events {
			if !send(ev) {
				return nil, false
			}
		}
	}
	return choice, true
}

func (t *LangChainTransport) definitions() []llms.Tool {
	defs := make([]llms.Tool, 0, len(t.order))
	for _, tool := range t.order {
		var params any = localtools.InputSchema()
		if sp, ok := tool.(localtools.SchemaProvider); ok {
			params = sp.JSONSchema()
		}
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  params,
			},
		})
	}
	return defs
}

func (t *LangChainTransport) callTool(ctx context.Context, name, input string) (string, error) {
	tool, ok := t.tools[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}

	if _, hasSchema := tool.(localtools.SchemaProvider); !hasSchema {
		var wrapped struct {
			Input string `json:"input"`
		}
		if err := json.Unmarshal([]byte(input), &wrapped); err == nil && wrapped.Input != "" {
			input = wrapped.Input
		}
	}

	t.log.Debug("Running tool", "tool", name)
	return tool.Call(ctx, input)
}

func arguments(call llms.ToolCall) string {
	if call.FunctionCall == nil {
		return ""
	}
	return call.FunctionCall.Arguments
}

// describeCall extracts id, name and decoded input from a model tool call.
// Missing ids are generated; undecodable arguments are kept under "raw".
func describeCall(call llms.ToolCall) (string, string, map[string]any) {
	id := call.ID
	if id == "" {
		id = "call_" + uuid.New().String()
	}

	name := ""
	if call.FunctionCall != nil {
		name = call.FunctionCall.Name
	}

	args := arguments(call)
	if args == "" {
		return id, name, nil
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		input = map[string]any{"raw": args}
	}
	return id, name, input
}

// isToolCallChunk detects tool call deltas, which the openai client streams
// through the same func as content, serialized as JSON
func isToolCallChunk(chunk []byte) bool {
	trimmed := strings.TrimSpace(string(chunk))
	switch {
	case strings.HasPrefix(trimmed, `[{"`):
		var calls []struct {
			Type     string          `json:"type"`
			Function json.RawMessage `json:"function"`
		}
		if err := json.Unmarshal([]byte(trimmed), &calls); err != nil {
			return false
		}
		for _, c := range calls {
			if len(c.Function) > 0 {
				return true
			}
		}
		return false
	case strings.HasPrefix(trimmed, `{"name"`):
		var fn struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}
		return json.Unmarshal([]byte(trimmed), &fn) == nil && fn.Name != ""
	default:
		return false
	}
}
