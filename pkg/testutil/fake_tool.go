package testutil

import (
	"context"
	"sync"
)

// FakeTool implements tools.Tool with a canned handler
type FakeTool struct {
	mu      sync.Mutex
	name    string
	desc    string
	handler func(input string) (string, error)
	inputs  []string
}

// NewFakeTool creates a tool that answers every call with handler
func NewFakeTool(name string, handler func(input string) (string, error)) *FakeTool {
	return &FakeTool{
		name:    name,
		desc:    "fake tool " + name,
		handler: handler,
	}
}

func (t *FakeTool) Name() string        { return t.name }
func (t *FakeTool) Description() string { return t.desc }

func (t *FakeTool) Call(ctx context.Context, input string) (string, error) {
	t.mu.Lock()
	t.inputs = append(t.inputs, input)
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.handler(input)
}

// Inputs returns every input the tool received
func (t *FakeTool) Inputs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.inputs...)
}
