package chat

import "encoding/json"

// PartKind names a Part variant on the wire
type PartKind string

const (
	PartText      PartKind = "text"
	PartReasoning PartKind = "reasoning"
	PartTool      PartKind = "tool"
)

// Part is one content unit of a message. The set of variants is closed:
// TextPart, ReasoningPart and ToolPart are the only implementations.
type Part interface {
	Kind() PartKind
	isPart()
}

// TextPart is answer text
type TextPart struct {
	Text string `json:"text"`
}

// ReasoningPart is private deliberation, grouped with tool calls as thinking
type ReasoningPart struct {
	Text string `json:"text"`
}

// ToolState is the lifecycle position of a tool invocation
type ToolState string

const (
	ToolInputStreaming  ToolState = "input-streaming"
	ToolInputAvailable  ToolState = "input-available"
	ToolOutputAvailable ToolState = "output-available"
	ToolOutputError     ToolState = "output-error"
)

// rank orders states along the only allowed direction of travel
func (s ToolState) rank() int {
	switch s {
	case ToolInputStreaming:
		return 0
	case ToolInputAvailable:
		return 1
	case ToolOutputAvailable, ToolOutputError:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known state
func (s ToolState) Valid() bool {
	return s.rank() >= 0
}

// Terminal reports whether no further transition is possible
func (s ToolState) Terminal() bool {
	return s == ToolOutputAvailable || s == ToolOutputError
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle
// moving forward. Staying in a non-terminal state is allowed so that input
// can keep streaming.
func (s ToolState) CanAdvanceTo(next ToolState) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// ToolPart is a tool invocation and, once finished, its outcome
type ToolPart struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	State     ToolState      `json:"state"`
	Input     map[string]any `json:"input,omitempty"`
	Output    string         `json:"output,omitempty"`
	ErrorText string         `json:"error_text,omitempty"`
}

func (TextPart) Kind() PartKind      { return PartText }
func (ReasoningPart) Kind() PartKind { return PartReasoning }
func (ToolPart) Kind() PartKind      { return PartTool }

func (TextPart) isPart()      {}
func (ReasoningPart) isPart() {}
func (ToolPart) isPart()      {}

// IsThinking reports whether p belongs in a thinking group
func IsThinking(p Part) bool {
	switch p.(type) {
	case ReasoningPart, ToolPart:
		return true
	default:
		return false
	}
}

// partEnvelope is the JSON shape shared by every variant
type partEnvelope struct {
	Type      PartKind       `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	State     ToolState      `json:"state,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Output    string         `json:"output,omitempty"`
	ErrorText string         `json:"error_text,omitempty"`
}

func envelopeOf(p Part) (partEnvelope, bool) {
	switch v := p.(type) {
	case TextPart:
		return partEnvelope{Type: PartText, Text: v.Text}, true
	case ReasoningPart:
		return partEnvelope{Type: PartReasoning, Text: v.Text}, true
	case ToolPart:
		return partEnvelope{
			Type:      PartTool,
			ID:        v.ID,
			Name:      v.Name,
			State:     v.State,
			Input:     v.Input,
			Output:    v.Output,
			ErrorText: v.ErrorText,
		}, true
	default:
		return partEnvelope{}, false
	}
}

func (e partEnvelope) part() (Part, bool) {
	switch e.Type {
	case PartText:
		return TextPart{Text: e.Text}, true
	case PartReasoning:
		return ReasoningPart{Text: e.Text}, true
	case PartTool:
		state := e.State
		if !state.Valid() {
			state = ToolOutputError
		}
		return ToolPart{
			ID:        e.ID,
			Name:      e.Name,
			State:     state,
			Input:     e.Input,
			Output:    e.Output,
			ErrorText: e.ErrorText,
		}, true
	default:
		return nil, false
	}
}

// Parts is an ordered part list with a tagged JSON encoding
type Parts []Part

// MarshalJSON writes each part with its type discriminator
func (ps Parts) MarshalJSON() ([]byte, error) {
	out := make([]partEnvelope, 0, len(ps))
	for _, p := range ps {
		if env, ok := envelopeOf(p); ok {
			out = append(out, env)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads tagged parts, skipping variants this build does not know
func (ps *Parts) UnmarshalJSON(data []byte) error {
	var raw []partEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Parts, 0, len(raw))
	for _, env := range raw {
		if p, ok := env.part(); ok {
			out = append(out, p)
		}
	}
	*ps = out
	return nil
}
