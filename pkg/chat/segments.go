package chat

import "strings"

// SegmentKind tells thinking groups apart from answer text
type SegmentKind string

const (
	SegmentThinking SegmentKind = "thinking"
	SegmentText     SegmentKind = "text"
)

// Segment is a render-ready run of parts. Thinking segments carry the
// reasoning and tool parts they group; text segments carry the joined,
// trimmed answer text.
type Segment struct {
	Kind  SegmentKind `json:"kind"`
	Parts []Part      `json:"-"`
	Text  string      `json:"text,omitempty"`
}

// Segments folds parts into alternating thinking and text segments.
//
// Consecutive reasoning and tool parts form one thinking segment; consecutive
// text parts are concatenated and trimmed into one text segment. Text that is
// only whitespace never produces a segment and never splits a thinking run,
// so no two neighbouring segments share a kind. The fold only looks
// backwards: appending a part can change the last segment or add new ones,
// never the segments before it.
//
// While streaming, an empty part list yields one empty text segment as a
// placeholder.
func Segments(parts []Part, streaming bool) []Segment {
	if len(parts) == 0 {
		if streaming {
			return []Segment{{Kind: SegmentText}}
		}
		return []Segment{}
	}

	segments := make([]Segment, 0, 2)
	var thinking []Part
	var text strings.Builder

	flushThinking := func() {
		if len(thinking) == 0 {
			return
		}
		segments = append(segments, Segment{Kind: SegmentThinking, Parts: thinking})
		thinking = nil
	}
	flushText := func() {
		if trimmed := strings.TrimSpace(text.String()); trimmed != "" {
			segments = append(segments, Segment{Kind: SegmentText, Text: trimmed})
		}
		text.Reset()
	}

	for _, p := range parts {
		switch v := p.(type) {
		case ReasoningPart, ToolPart:
			// blank text between thinking parts is dropped so the run stays whole
			flushText()
			thinking = append(thinking, v)
		case TextPart:
			text.WriteString(v.Text)
			if len(thinking) > 0 && strings.TrimSpace(text.String()) != "" {
				flushThinking()
			}
		}
	}

	flushThinking()
	flushText()

	return segments
}
