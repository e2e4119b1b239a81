package transport

import (
	"fmt"
	"strings"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/markup"
	"github.com/tmc/langchaingo/llms"
)

// toLLMMessages converts thread history for the model. Each message becomes
// a single text part; reasoning and tool parts stay local.
func toLLMMessages(messages []chat.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, msg.Text()))
		case chat.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, RenderUserPrompt(msg.Text())))
		case chat.RoleAssistant:
			text := msg.Text()
			if strings.TrimSpace(text) == "" {
				continue
			}
			out = append(out, llms.TextParts(llms.ChatMessageTypeAI, text))
		}
	}
	return out
}

// RenderUserPrompt rewrites user markup as prose the model can follow:
// a quote becomes a block-quoted excerpt, file markers become attachment
// lines.
func RenderUserPrompt(content string) string {
	q := markup.ParseQuote(content)

	var b strings.Builder
	if q.HasQuote {
		if q.Path != "" {
			fmt.Fprintf(&b, "Quoting %s:\n", q.Path)
		} else {
			b.WriteString("Quoting:\n")
		}
		for _, line := range strings.Split(q.Quote, "\n") {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	var attachments []string
	var text []string
	for _, item := range markup.ParseFiles(q.Message) {
		switch item.Type {
		case markup.ItemFile:
			attachments = append(attachments, fmt.Sprintf("- %s (%s)", item.File.Name, item.File.URL))
		default:
			if t := strings.TrimSpace(item.Text); t != "" {
				text = append(text, t)
			}
		}
	}

	b.WriteString(strings.Join(text, "\n"))
	if len(attachments) > 0 {
		if len(text) > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Attached files:\n")
		b.WriteString(strings.Join(attachments, "\n"))
	}

	return strings.TrimSpace(b.String())
}
