package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Parts     Parts     `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

func newID() string {
	return uuid.New().String()
}

func NewUserMessage(content string) Message {
	return Message{
		ID:        newID(),
		Role:      RoleUser,
		Parts:     Parts{TextPart{Text: content}},
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage starts an empty assistant reply that parts are
// streamed into
func NewAssistantMessage() Message {
	return Message{
		ID:        newID(),
		Role:      RoleAssistant,
		Parts:     Parts{},
		CreatedAt: time.Now(),
	}
}

func NewSystemMessage(content string) Message {
	return Message{
		ID:        newID(),
		Role:      RoleSystem,
		Parts:     Parts{TextPart{Text: content}},
		CreatedAt: time.Now(),
	}
}

func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

func (m Message) IsSystem() bool {
	return m.Role == RoleSystem
}

// Text concatenates the message's text parts
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Reasoning concatenates the message's reasoning parts
func (m Message) Reasoning() string {
	var parts []string
	for _, p := range m.Parts {
		if r, ok := p.(ReasoningPart); ok {
			parts = append(parts, r.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ToolParts returns the tool invocations in arrival order
func (m Message) ToolParts() []ToolPart {
	var tools []ToolPart
	for _, p := range m.Parts {
		if t, ok := p.(ToolPart); ok {
			tools = append(tools, t)
		}
	}
	return tools
}

// IsEmpty reports whether the message carries nothing worth showing:
// no tool calls and only blank text
func (m Message) IsEmpty() bool {
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			if strings.TrimSpace(v.Text) != "" {
				return false
			}
		case ReasoningPart:
			if strings.TrimSpace(v.Text) != "" {
				return false
			}
		case ToolPart:
			return false
		}
	}
	return true
}

// Segments groups the message's parts for display
func (m Message) Segments(streaming bool) []Segment {
	return Segments(m.Parts, streaming)
}

// withParts returns a copy of m carrying parts
func (m Message) withParts(parts Parts) Message {
	return Message{
		ID:        m.ID,
		Role:      m.Role,
		Parts:     parts,
		CreatedAt: m.CreatedAt,
	}
}

// cloneParts copies the part slice so callers can replace one element
// without the change showing through earlier snapshots
func (m Message) cloneParts(extra int) Parts {
	parts := make(Parts, len(m.Parts), len(m.Parts)+extra)
	copy(parts, m.Parts)
	return parts
}
