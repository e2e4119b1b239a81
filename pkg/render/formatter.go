// Package render turns threads and messages into terminal text.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/logger"
)

const codeFence = "```"

type Option func(*Formatter)

// WithColor toggles ANSI styling and syntax highlighting
func WithColor(enabled bool) Option {
	return func(f *Formatter) {
		f.color = enabled
	}
}

// WithThinking toggles rendering of reasoning and tool activity
func WithThinking(enabled bool) Option {
	return func(f *Formatter) {
		f.showThinking = enabled
	}
}

// Formatter renders conversation content for a terminal
type Formatter struct {
	color        bool
	showThinking bool

	userStyle     lipgloss.Style
	roleStyle     lipgloss.Style
	thinkingStyle lipgloss.Style
	toolStyle     lipgloss.Style
	toolErrStyle  lipgloss.Style
	errorStyle    lipgloss.Style
	dimStyle      lipgloss.Style
	headerStyle   lipgloss.Style

	chromaFormatter chroma.Formatter
	chromaStyle     *chroma.Style
}

func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{color: true, showThinking: true}
	for _, opt := range opts {
		opt(f)
	}

	if !f.color {
		plain := lipgloss.NewStyle()
		f.userStyle = plain
		f.roleStyle = plain
		f.thinkingStyle = plain
		f.toolStyle = plain
		f.toolErrStyle = plain
		f.errorStyle = plain
		f.dimStyle = plain
		f.headerStyle = plain
		return f
	}

	formatter := formatters.Get("terminal16m")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	f.chromaFormatter = formatter
	f.chromaStyle = styles.Get("monokai")

	f.userStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#87CEEB"))
	f.roleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#98FB98"))
	f.thinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
	f.toolStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB000"))
	f.toolErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	f.errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	f.dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	f.headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	return f
}

// ShowThinking reports whether reasoning is rendered
func (f *Formatter) ShowThinking() bool {
	return f.showThinking
}

// Message renders one message with a role label. A streaming message keeps
// its trailing placeholder segment.
func (f *Formatter) Message(msg chat.Message, streaming bool) string {
	var b strings.Builder

	switch msg.Role {
	case chat.RoleUser:
		b.WriteString(f.userStyle.Render("you"))
		b.WriteString("\n")
		b.WriteString(msg.Text())
		return b.String()
	case chat.RoleSystem:
		b.WriteString(f.dimStyle.Render("system"))
		b.WriteString("\n")
		b.WriteString(f.dimStyle.Render(msg.Text()))
		return b.String()
	}

	b.WriteString(f.roleStyle.Render("assistant"))
	for _, seg := range msg.Segments(streaming) {
		rendered := f.Segment(seg)
		if rendered == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(rendered)
	}
	return b.String()
}

// Segment renders a thinking group or a run of answer text
func (f *Formatter) Segment(seg chat.Segment) string {
	if seg.Kind == chat.SegmentText {
		return f.Text(seg.Text)
	}
	if !f.showThinking {
		return ""
	}

	lines := make([]string, 0, len(seg.Parts))
	for _, p := range seg.Parts {
		switch v := p.(type) {
		case chat.ReasoningPart:
			if text := strings.TrimSpace(v.Text); text != "" {
				lines = append(lines, f.thinkingStyle.Render(text))
			}
		case chat.ToolPart:
			lines = append(lines, f.Tool(v))
		}
	}
	return strings.Join(lines, "\n")
}

// Tool renders a one-line summary of a tool invocation
func (f *Formatter) Tool(t chat.ToolPart) string {
	call := fmt.Sprintf("⚙ %s(%s)", t.Name, formatInput(t.Input))

	switch t.State {
	case chat.ToolOutputAvailable:
		return f.toolStyle.Render(call) + f.dimStyle.Render(" → "+summarize(t.Output))
	case chat.ToolOutputError:
		return f.toolStyle.Render(call) + f.toolErrStyle.Render(" ✗ "+summarize(t.ErrorText))
	default:
		return f.toolStyle.Render(call) + f.dimStyle.Render(" …")
	}
}

// Text renders answer text, highlighting fenced code blocks. An unclosed
// fence highlights to the end of the text.
func (f *Formatter) Text(text string) string {
	if !strings.Contains(text, codeFence) {
		return text
	}

	var out, code []string
	inCode := false
	language := ""

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, codeFence) {
			if inCode {
				out = append(out, f.CodeBlock(strings.Join(code, "\n"), language))
				code = nil
				inCode = false
			} else {
				language = strings.TrimSpace(strings.TrimPrefix(trimmed, codeFence))
				inCode = true
			}
			continue
		}
		if inCode {
			code = append(code, line)
		} else {
			out = append(out, line)
		}
	}
	if inCode {
		out = append(out, f.CodeBlock(strings.Join(code, "\n"), language))
	}

	return strings.Join(out, "\n")
}

// CodeBlock applies syntax highlighting to code
func (f *Formatter) CodeBlock(code, language string) string {
	if code == "" || f.chromaFormatter == nil {
		return code
	}

	log := logger.WithComponent("render")

	var lexer chroma.Lexer
	if language != "" {
		lexer = lexers.Get(language)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		log.Debug("Failed to tokenize code, using plain text", "error", err)
		return code
	}

	var buf strings.Builder
	if err := f.chromaFormatter.Format(&buf, f.chromaStyle, iterator); err != nil {
		log.Debug("Failed to format code, using plain text", "error", err)
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}

// Conversation renders every message of a thread, followed by its error
// state when there is one
func (f *Formatter) Conversation(s controllers.Snapshot) string {
	var b strings.Builder
	b.WriteString(f.headerStyle.Render(s.Conversation.Title))
	b.WriteString("\n")

	for _, msg := range s.Conversation.Messages {
		b.WriteString("\n")
		b.WriteString(f.Message(msg, s.Streaming(msg.ID)))
		b.WriteString("\n")
	}

	if s.Err != nil {
		b.WriteString("\n")
		b.WriteString(f.Error(s.Err.Message))
		b.WriteString("\n")
	}
	return b.String()
}

func (f *Formatter) Error(message string) string {
	return f.errorStyle.Render("error: " + message)
}

func (f *Formatter) Dim(text string) string {
	return f.dimStyle.Render(text)
}

func formatInput(input map[string]any) string {
	if len(input) == 0 {
		return ""
	}

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%v", k, input[k])
	}
	return strings.Join(pairs, ", ")
}

// summarize keeps the first line of tool output, cut to a readable width
func summarize(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.SplitN(s, "\n", 2)
	first := lines[0]

	runes := []rune(first)
	if len(runes) > 60 {
		first = string(runes[:60]) + "…"
	} else if len(lines) > 1 {
		first += " …"
	}
	return first
}
