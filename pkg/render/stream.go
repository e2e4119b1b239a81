package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/controllers"
)

// StreamWriter prints a reply as it grows. Each snapshot is compared with
// what was already written and only the new tail is printed, so the writer
// never rewinds.
type StreamWriter struct {
	mu  sync.Mutex
	out io.Writer
	fmt *Formatter

	messageID string
	part      int // index of the part being written
	offset    int // bytes of that part already written, 1 once a tool line is out
	kind      chat.PartKind
	started   bool
	errShown  bool
}

func NewStreamWriter(out io.Writer, f *Formatter) *StreamWriter {
	return &StreamWriter{out: out, fmt: f}
}

// Update writes whatever the snapshot adds to the reply being streamed
func (w *StreamWriter) Update(s controllers.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s.Err != nil && !w.errShown {
		w.errShown = true
		w.breakLine()
		fmt.Fprintln(w.out, w.fmt.Error(s.Err.Message))
		return
	}

	id := s.StreamingMessageID
	if id == "" {
		if s.Status == controllers.StatusReady && w.messageID != "" {
			// the final snapshot may close tools left open
			if msg, ok := chat.GetMessage(s.Conversation, w.messageID); ok {
				w.write(msg, true)
			}
		}
		return
	}

	if id != w.messageID {
		w.messageID = id
		w.part = 0
		w.offset = 0
		w.kind = ""
	}

	msg, ok := chat.GetMessage(s.Conversation, id)
	if !ok {
		return
	}
	w.write(msg, false)
}

// Finish ends the output with a newline if anything was written
func (w *StreamWriter) Finish() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.breakLine()
}

func (w *StreamWriter) breakLine() {
	if w.started {
		fmt.Fprintln(w.out)
		w.started = false
	}
}

func (w *StreamWriter) write(msg chat.Message, final bool) {
	for w.part < len(msg.Parts) {
		last := w.part == len(msg.Parts)-1

		switch p := msg.Parts[w.part].(type) {
		case chat.TextPart:
			w.switchKind(chat.PartText)
			w.emit(p.Text, false)
		case chat.ReasoningPart:
			if w.fmt.ShowThinking() {
				w.switchKind(chat.PartReasoning)
				w.emit(p.Text, true)
			}
		case chat.ToolPart:
			// a tool line is written once, when it settles or is overtaken
			if !p.State.Terminal() && last && !final {
				return
			}
			if w.offset == 0 && w.fmt.ShowThinking() {
				w.switchKind(chat.PartTool)
				fmt.Fprintln(w.out, w.fmt.Tool(p))
				w.started = false
			}
			w.offset = 1
		}

		if last {
			return
		}
		w.part++
		w.offset = 0
	}
}

func (w *StreamWriter) emit(text string, thinking bool) {
	if len(text) <= w.offset {
		return
	}
	delta := text[w.offset:]
	w.offset = len(text)
	if !w.started {
		delta = strings.TrimLeft(delta, "\n")
		if delta == "" {
			return
		}
	}
	if thinking {
		delta = w.fmt.thinkingStyle.Render(delta)
	}
	fmt.Fprint(w.out, delta)
	w.started = true
}

func (w *StreamWriter) switchKind(kind chat.PartKind) {
	if w.kind != "" && w.kind != kind {
		w.breakLine()
	}
	w.kind = kind
}
