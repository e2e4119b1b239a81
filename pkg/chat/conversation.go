package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/killallgit/threadline/pkg/markup"
)

const (
	DefaultTitle       = "New chat"
	DefaultTitleLength = 50
)

// Conversation is one thread's persisted state. Values are never mutated in
// place: every helper returns a new Conversation.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ThreadSummary is the listing row for a stored thread
type ThreadSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

func NewConversation(id string) Conversation {
	return Conversation{
		ID:        id,
		Title:     DefaultTitle,
		Messages:  make([]Message, 0),
		UpdatedAt: time.Now(),
	}
}

// NewThreadID generates a client-side thread identifier
func NewThreadID() string {
	return newID()
}

// AddMessage appends msg and bumps UpdatedAt
func AddMessage(conv Conversation, msg Message) Conversation {
	messages := make([]Message, len(conv.Messages)+1)
	copy(messages, conv.Messages)
	messages[len(conv.Messages)] = msg

	return Conversation{
		ID:        conv.ID,
		Title:     conv.Title,
		Messages:  messages,
		UpdatedAt: time.Now(),
	}
}

// ReplaceMessage swaps the message with msg.ID for msg. The conversation is
// returned unchanged when no message has that id.
func ReplaceMessage(conv Conversation, msg Message) Conversation {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].ID != msg.ID {
			continue
		}
		messages := make([]Message, len(conv.Messages))
		copy(messages, conv.Messages)
		messages[i] = msg
		return Conversation{
			ID:        conv.ID,
			Title:     conv.Title,
			Messages:  messages,
			UpdatedAt: conv.UpdatedAt,
		}
	}
	return conv
}

// RemoveMessage drops the message with the given id
func RemoveMessage(conv Conversation, id string) Conversation {
	for i, msg := range conv.Messages {
		if msg.ID != id {
			continue
		}
		messages := make([]Message, 0, len(conv.Messages)-1)
		messages = append(messages, conv.Messages[:i]...)
		messages = append(messages, conv.Messages[i+1:]...)
		return Conversation{
			ID:        conv.ID,
			Title:     conv.Title,
			Messages:  messages,
			UpdatedAt: conv.UpdatedAt,
		}
	}
	return conv
}

// TruncateAfter drops every message after the one with the given id
func TruncateAfter(conv Conversation, id string) Conversation {
	for i, msg := range conv.Messages {
		if msg.ID != id {
			continue
		}
		messages := make([]Message, i+1)
		copy(messages, conv.Messages[:i+1])
		return Conversation{
			ID:        conv.ID,
			Title:     conv.Title,
			Messages:  messages,
			UpdatedAt: conv.UpdatedAt,
		}
	}
	return conv
}

func WithTitle(conv Conversation, title string) Conversation {
	return Conversation{
		ID:        conv.ID,
		Title:     title,
		Messages:  conv.Messages,
		UpdatedAt: conv.UpdatedAt,
	}
}

func GetMessages(conv Conversation) []Message {
	result := make([]Message, len(conv.Messages))
	copy(result, conv.Messages)
	return result
}

func GetMessage(conv Conversation, id string) (Message, bool) {
	for _, msg := range conv.Messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return Message{}, false
}

func GetLastAssistantMessage(conv Conversation) (Message, bool) {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := conv.Messages[i]
		if msg.IsAssistant() {
			return msg, true
		}
	}
	return Message{}, false
}

func GetLastUserMessage(conv Conversation) (Message, bool) {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := conv.Messages[i]
		if msg.IsUser() {
			return msg, true
		}
	}
	return Message{}, false
}

func IsEmpty(conv Conversation) bool {
	return len(conv.Messages) == 0
}

// Summarize reduces conv to its listing row
func Summarize(conv Conversation) ThreadSummary {
	return ThreadSummary{
		ID:           conv.ID,
		Title:        conv.Title,
		UpdatedAt:    conv.UpdatedAt,
		MessageCount: len(conv.Messages),
	}
}

// DeriveTitle builds a thread title from the first user message, markup
// stripped and cut to maxRunes with an ellipsis
func DeriveTitle(content string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultTitleLength
	}

	title := markup.PlainText(content)
	if title == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(title) <= maxRunes {
		return title
	}

	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}
