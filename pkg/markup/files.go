// Package markup decodes and encodes the inline bracket grammars carried in
// user-authored message text: quoted document context and file attachments.
//
// Both grammars are stored verbatim in persisted messages, so their syntax is
// byte-stable:
//
//	file   := "[FILE]" url "|" name "[/FILE]"
//	quoted := "[QUOTE_START" [ "=" path ] "]" LF quote LF "[QUOTE_END]" LF LF body
//
// url stops at the first "|", name at the first "[/FILE]"; neither spans a
// line break. path excludes "]" and line breaks. quote is the shortest run of
// any characters, body is the rest of the input.
package markup

import (
	"regexp"
	"strings"
)

const (
	fileOpen  = "[FILE]"
	fileClose = "[/FILE]"
	fileSep   = "|"
)

var fileRegex = regexp.MustCompile(`\[FILE\](.*?)\|(.*?)\[/FILE\]`)

// ItemType tells a parsed item apart
type ItemType string

const (
	ItemText ItemType = "text"
	ItemFile ItemType = "file"
)

// FileRef is an attachment reference embedded in a message
type FileRef struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Item is one piece of a message split on file markers. Text is set for text
// items, File for file items.
type Item struct {
	Type ItemType `json:"type"`
	Text string   `json:"text,omitempty"`
	File *FileRef `json:"file,omitempty"`
}

// TextItem builds a text item
func TextItem(text string) Item {
	return Item{Type: ItemText, Text: text}
}

// FileItem builds a file item
func FileItem(url, name string) Item {
	return Item{Type: ItemFile, File: &FileRef{URL: url, Name: name}}
}

// ParseFiles splits s into text and file items in input order. Whitespace-only
// text between markers is dropped. When s holds no complete marker the result
// is a single text item with all of s, so the list is never empty.
func ParseFiles(s string) []Item {
	matches := fileRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return []Item{TextItem(s)}
	}

	items := make([]Item, 0, len(matches)*2+1)
	last := 0
	for _, m := range matches {
		if text := s[last:m[0]]; strings.TrimSpace(text) != "" {
			items = append(items, TextItem(text))
		}
		items = append(items, FileItem(s[m[2]:m[3]], s[m[4]:m[5]]))
		last = m[1]
	}
	if text := s[last:]; strings.TrimSpace(text) != "" {
		items = append(items, TextItem(text))
	}

	return items
}

// Files returns only the file references found in s
func Files(s string) []FileRef {
	var refs []FileRef
	for _, item := range ParseFiles(s) {
		if item.Type == ItemFile && item.File != nil {
			refs = append(refs, *item.File)
		}
	}
	return refs
}

// FormatFile renders ref as a file marker
func FormatFile(ref FileRef) string {
	return fileOpen + ref.URL + fileSep + ref.Name + fileClose
}

// Join is the inverse of ParseFiles: it concatenates text items and file
// markers back into a message string.
func Join(items []Item) string {
	var b strings.Builder
	for _, item := range items {
		switch item.Type {
		case ItemFile:
			if item.File != nil {
				b.WriteString(FormatFile(*item.File))
			}
		default:
			b.WriteString(item.Text)
		}
	}
	return b.String()
}
