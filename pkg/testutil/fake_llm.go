package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// LLMTurn scripts one GenerateContent call
type LLMTurn struct {
	Chunks    []string        // streamed through the streaming func in order
	ToolCalls []llms.ToolCall // returned on the final choice
	Err       error           // returned after the chunks are streamed
	Block     bool            // wait for cancellation after streaming
	Reasoning string          // returned as the final choice's ReasoningContent
}

// TextTurn streams chunks and completes
func TextTurn(chunks ...string) LLMTurn {
	return LLMTurn{Chunks: chunks}
}

// ToolTurn asks for the given tool calls
func ToolTurn(calls ...llms.ToolCall) LLMTurn {
	return LLMTurn{ToolCalls: calls}
}

// NewToolCall builds a function tool call with raw JSON arguments
func NewToolCall(id, name, arguments string) llms.ToolCall {
	return llms.ToolCall{
		ID:   id,
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      name,
			Arguments: arguments,
		},
	}
}

// FakeLLM implements llms.Model with scripted turns
type FakeLLM struct {
	mu        sync.Mutex
	turns     []LLMTurn
	callCount int
	messages  [][]llms.MessageContent
	lastOpts  llms.CallOptions
}

// NewFakeLLM creates a fake model that plays turns in order
func NewFakeLLM(turns ...LLMTurn) *FakeLLM {
	return &FakeLLM{turns: turns}
}

// GenerateContent implements llms.Model
func (f *FakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, opt := range options {
		opt(&opts)
	}

	f.mu.Lock()
	index := f.callCount
	f.callCount++
	f.messages = append(f.messages, append([]llms.MessageContent(nil), messages...))
	f.lastOpts = opts
	var turn LLMTurn
	ok := index < len(f.turns)
	if ok {
		turn = f.turns[index]
	}
	f.mu.Unlock()

	if !ok {
		return nil, errors.New("no responses configured")
	}

	for _, chunk := range turn.Chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}

	if turn.Err != nil {
		return nil, turn.Err
	}

	if turn.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{
				Content:          strings.Join(turn.Chunks, ""),
				ReasoningContent: turn.Reasoning,
				ToolCalls:        turn.ToolCalls,
			},
		},
	}, nil
}

// Call implements llms.Model
func (f *FakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// AddTurn appends a scripted turn
func (f *FakeLLM) AddTurn(turn LLMTurn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
}

// GetCallCount returns the number of GenerateContent calls
func (f *FakeLLM) GetCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// GetMessages returns the messages passed on call n, counting from zero
func (f *FakeLLM) GetMessages(n int) []llms.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < 0 || n >= len(f.messages) {
		return nil
	}
	return f.messages[n]
}

// GetLastOptions returns the options of the most recent call
func (f *FakeLLM) GetLastOptions() llms.CallOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOpts
}
