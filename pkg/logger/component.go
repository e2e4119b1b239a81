package logger

import (
	"fmt"
	"strings"
)

// ComponentLogger tags every line with a component name and renders
// trailing key/value pairs as key=value
type ComponentLogger struct {
	component string
}

// WithComponent returns a logger for one component. It writes through the
// default logger current at call time, so it may be created before Init.
func WithComponent(component string) *ComponentLogger {
	return &ComponentLogger{component: component}
}

func (c *ComponentLogger) emit(level LogLevel, msg string, keyvals []any) {
	l := current()
	if l == nil || !l.enabled(level) {
		return
	}
	l.write(level, c.format(msg, keyvals))
}

func (c *ComponentLogger) format(msg string, keyvals []any) string {
	var b strings.Builder
	b.WriteString(c.component)
	b.WriteString(": ")
	b.WriteString(msg)

	for i := 0; i < len(keyvals); i += 2 {
		b.WriteString(" ")
		if i+1 >= len(keyvals) {
			fmt.Fprintf(&b, "%v=<missing>", keyvals[i])
			break
		}
		fmt.Fprintf(&b, "%v=%v", keyvals[i], keyvals[i+1])
	}
	return b.String()
}

func (c *ComponentLogger) Debug(msg string, keyvals ...any) {
	c.emit(LevelDebug, msg, keyvals)
}

func (c *ComponentLogger) Info(msg string, keyvals ...any) {
	c.emit(LevelInfo, msg, keyvals)
}

func (c *ComponentLogger) Warn(msg string, keyvals ...any) {
	c.emit(LevelWarn, msg, keyvals)
}

func (c *ComponentLogger) Error(msg string, keyvals ...any) {
	c.emit(LevelError, msg, keyvals)
}
