package transport

import (
	"strings"

	"github.com/killallgit/threadline/pkg/chat"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkSplitter separates inline <think> blocks from answer text as chunks
// arrive. A tag may be split across chunks, so a trailing fragment that
// could start one is held back until the next chunk decides it.
type thinkSplitter struct {
	inThink  bool
	pending  string
	emitted  bool
	reasoned bool
}

func (s *thinkSplitter) Feed(chunk string) []chat.Event {
	buf := s.pending + chunk
	s.pending = ""

	var events []chat.Event
	for buf != "" {
		tag := thinkOpen
		if s.inThink {
			tag = thinkClose
		}

		if i := strings.Index(buf, tag); i >= 0 {
			events = s.emit(events, buf[:i])
			buf = buf[i+len(tag):]
			s.inThink = !s.inThink
			continue
		}

		keep := partialSuffix(buf, tag)
		events = s.emit(events, buf[:len(buf)-keep])
		s.pending = buf[len(buf)-keep:]
		break
	}
	return events
}

// Flush releases any held-back fragment as literal text
func (s *thinkSplitter) Flush() []chat.Event {
	events := s.emit(nil, s.pending)
	s.pending = ""
	return events
}

// Emitted reports whether any content has been produced
func (s *thinkSplitter) Emitted() bool {
	return s.emitted
}

// Reasoned reports whether any reasoning has been produced
func (s *thinkSplitter) Reasoned() bool {
	return s.reasoned
}

func (s *thinkSplitter) emit(events []chat.Event, text string) []chat.Event {
	if text == "" {
		return events
	}
	s.emitted = true
	if s.inThink {
		s.reasoned = true
		return append(events, chat.ReasoningDelta{Text: text})
	}
	return append(events, chat.TextDelta{Text: text})
}

// partialSuffix returns the length of the longest suffix of buf that is a
// proper prefix of tag
func partialSuffix(buf, tag string) int {
	n := len(tag) - 1
	if n > len(buf) {
		n = len(buf)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(buf, tag[:n]) {
			return n
		}
	}
	return 0
}
