package markup

import (
	"regexp"
	"strings"
)

const (
	quoteStart = "[QUOTE_START"
	quoteEnd   = "[QUOTE_END]"
)

// The block must open the message. Only the first block is read; producers
// emit at most one per message and nothing here checks for a second.
var quoteRegex = regexp.MustCompile(`(?s)^\[QUOTE_START(?:=([^\]\n]*))?\]\n(.*?)\n\[QUOTE_END\]\n\n(.*)$`)

// Quote is a message split into its quoted document context and the body
// the user typed. When HasQuote is false Message is the input unchanged.
type Quote struct {
	HasQuote bool   `json:"has_quote"`
	Path     string `json:"path,omitempty"`
	Quote    string `json:"quote,omitempty"`
	Message  string `json:"message"`
}

// ParseQuote extracts a leading quote block from s
func ParseQuote(s string) Quote {
	m := quoteRegex.FindStringSubmatch(s)
	if m == nil {
		return Quote{Message: s}
	}
	return Quote{
		HasQuote: true,
		Path:     m[1],
		Quote:    m[2],
		Message:  m[3],
	}
}

// FormatQuote renders q back into its wire form. A Quote without HasQuote
// renders as its bare message.
func FormatQuote(q Quote) string {
	if !q.HasQuote {
		return q.Message
	}

	var b strings.Builder
	b.WriteString(quoteStart)
	if q.Path != "" {
		b.WriteString("=")
		b.WriteString(q.Path)
	}
	b.WriteString("]\n")
	b.WriteString(q.Quote)
	b.WriteString("\n")
	b.WriteString(quoteEnd)
	b.WriteString("\n\n")
	b.WriteString(q.Message)
	return b.String()
}

// Compose builds a user message body: the optional quote block first, then
// text, then one file marker per line.
func Compose(text string, quote *Quote, files []FileRef) string {
	body := text
	if len(files) > 0 {
		markers := make([]string, 0, len(files))
		for _, f := range files {
			markers = append(markers, FormatFile(f))
		}
		if body != "" {
			body += "\n"
		}
		body += strings.Join(markers, "\n")
	}

	if quote == nil {
		return body
	}
	return FormatQuote(Quote{
		HasQuote: true,
		Path:     quote.Path,
		Quote:    quote.Quote,
		Message:  body,
	})
}

// PlainText strips both grammars from s, leaving the words a person typed.
// File markers collapse to their names.
func PlainText(s string) string {
	q := ParseQuote(s)

	parts := make([]string, 0)
	for _, item := range ParseFiles(q.Message) {
		switch item.Type {
		case ItemFile:
			if item.File != nil {
				parts = append(parts, item.File.Name)
			}
		default:
			parts = append(parts, item.Text)
		}
	}

	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
