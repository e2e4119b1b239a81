package tools

import (
	"fmt"

	lctools "github.com/tmc/langchaingo/tools"
)

var builtins = map[string]func() lctools.Tool{
	"read_file": func() lctools.Tool { return NewFileReadTool() },
}

// Available lists the names Build accepts
func Available() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	return names
}

// Build instantiates the named tools in order
func Build(names []string) ([]lctools.Tool, error) {
	result := make([]lctools.Tool, 0, len(names))
	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			continue
		}
		factory, ok := builtins[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		seen[name] = true
		result = append(result, factory())
	}
	return result, nil
}
