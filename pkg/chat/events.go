package chat

// Event is one incremental update decoded from a streaming exchange. The
// variants are TextDelta, ReasoningDelta, ToolCall, ToolResult, Done and
// StreamError. A delta may carry as little as one character.
type Event interface {
	EventType() string
	isEvent()
}

// TextDelta extends the answer text
type TextDelta struct {
	Text string
}

// ReasoningDelta extends the reasoning text
type ReasoningDelta struct {
	Text string
}

// ToolCall announces a tool invocation or moves it forward. Input, when
// non-nil, replaces the input recorded so far.
type ToolCall struct {
	ID    string
	Name  string
	State ToolState
	Input map[string]any
}

// ToolResult finishes a tool invocation
type ToolResult struct {
	ID      string
	Output  string
	IsError bool
}

// Done ends the exchange normally
type Done struct{}

// StreamError ends the exchange with a failure reported by the far side
type StreamError struct {
	Message string
}

func (TextDelta) EventType() string      { return "text-delta" }
func (ReasoningDelta) EventType() string { return "reasoning-delta" }
func (ToolCall) EventType() string       { return "tool-call" }
func (ToolResult) EventType() string     { return "tool-result" }
func (Done) EventType() string           { return "done" }
func (StreamError) EventType() string    { return "error" }

func (TextDelta) isEvent()      {}
func (ReasoningDelta) isEvent() {}
func (ToolCall) isEvent()       {}
func (ToolResult) isEvent()     {}
func (Done) isEvent()           {}
func (StreamError) isEvent()    {}

// IsTerminal reports whether ev ends its exchange
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case Done, StreamError:
		return true
	default:
		return false
	}
}

// ApplyEvent folds a content event into msg. It reports false when the event
// carries no content change: terminal events, empty deltas, and tool updates
// that would move a tool backward or reference an unknown tool.
func ApplyEvent(msg Message, ev Event) (Message, bool) {
	switch e := ev.(type) {
	case TextDelta:
		if e.Text == "" {
			return msg, false
		}
		return AppendText(msg, e.Text), true
	case ReasoningDelta:
		if e.Text == "" {
			return msg, false
		}
		return AppendReasoning(msg, e.Text), true
	case ToolCall:
		return UpsertTool(msg, e)
	case ToolResult:
		return ResolveTool(msg, e)
	default:
		return msg, false
	}
}

// AppendText grows the trailing text part, or starts one when the message
// ends with another kind of part
func AppendText(msg Message, delta string) Message {
	n := len(msg.Parts)
	if n > 0 {
		if last, ok := msg.Parts[n-1].(TextPart); ok {
			parts := msg.cloneParts(0)
			parts[n-1] = TextPart{Text: last.Text + delta}
			return msg.withParts(parts)
		}
	}
	parts := msg.cloneParts(1)
	return msg.withParts(append(parts, TextPart{Text: delta}))
}

// AppendReasoning grows the trailing reasoning part, or starts one
func AppendReasoning(msg Message, delta string) Message {
	n := len(msg.Parts)
	if n > 0 {
		if last, ok := msg.Parts[n-1].(ReasoningPart); ok {
			parts := msg.cloneParts(0)
			parts[n-1] = ReasoningPart{Text: last.Text + delta}
			return msg.withParts(parts)
		}
	}
	parts := msg.cloneParts(1)
	return msg.withParts(append(parts, ReasoningPart{Text: delta}))
}

func findTool(msg Message, id string) (int, ToolPart, bool) {
	for i, p := range msg.Parts {
		if t, ok := p.(ToolPart); ok && t.ID == id {
			return i, t, true
		}
	}
	return -1, ToolPart{}, false
}

// UpsertTool records a new tool invocation or advances an existing one
func UpsertTool(msg Message, call ToolCall) (Message, bool) {
	state := call.State
	if state == "" {
		state = ToolInputStreaming
	}
	if !state.Valid() {
		return msg, false
	}

	i, existing, found := findTool(msg, call.ID)
	if !found {
		parts := msg.cloneParts(1)
		parts = append(parts, ToolPart{
			ID:    call.ID,
			Name:  call.Name,
			State: state,
			Input: call.Input,
		})
		return msg.withParts(parts), true
	}

	if !existing.State.CanAdvanceTo(state) {
		return msg, false
	}

	updated := existing
	updated.State = state
	if call.Name != "" {
		updated.Name = call.Name
	}
	if call.Input != nil {
		updated.Input = call.Input
	}

	parts := msg.cloneParts(0)
	parts[i] = updated
	return msg.withParts(parts), true
}

// ResolveTool moves a tool invocation to its terminal state
func ResolveTool(msg Message, res ToolResult) (Message, bool) {
	i, existing, found := findTool(msg, res.ID)
	if !found || existing.State.Terminal() {
		return msg, false
	}

	updated := existing
	if res.IsError {
		updated.State = ToolOutputError
		updated.ErrorText = res.Output
	} else {
		updated.State = ToolOutputAvailable
		updated.Output = res.Output
	}

	parts := msg.cloneParts(0)
	parts[i] = updated
	return msg.withParts(parts), true
}

// FinalizeTools forces every unfinished tool invocation to output-error so
// that an interrupted message never leaves a call open
func FinalizeTools(msg Message, reason string) Message {
	var parts Parts
	for i, p := range msg.Parts {
		t, ok := p.(ToolPart)
		if !ok || t.State.Terminal() {
			continue
		}
		if parts == nil {
			parts = msg.cloneParts(0)
		}
		t.State = ToolOutputError
		t.ErrorText = reason
		parts[i] = t
	}

	if parts == nil {
		return msg
	}
	return msg.withParts(parts)
}

// HasOpenTools reports whether any tool invocation is still unfinished
func HasOpenTools(msg Message) bool {
	for _, t := range msg.ToolParts() {
		if !t.State.Terminal() {
			return true
		}
	}
	return false
}
