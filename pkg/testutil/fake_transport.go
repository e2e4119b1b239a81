package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/controllers"
)

// Script is one scripted exchange
type Script struct {
	Events []chat.Event
	Err    error // returned by Stream before any event

	// Gate, when set, pauses the stream after HoldAfter events until the
	// gate is closed or the exchange is cancelled
	Gate      chan struct{}
	HoldAfter int
}

// Reply streams text in chunks of five bytes and completes
func Reply(text string) Script {
	var events []chat.Event
	for i := 0; i < len(text); i += 5 {
		end := i + 5
		if end > len(text) {
			end = len(text)
		}
		events = append(events, chat.TextDelta{Text: text[i:end]})
	}
	events = append(events, chat.Done{})
	return Script{Events: events}
}

// Fail streams the given events and then reports an error
func Fail(message string, before ...chat.Event) Script {
	events := append([]chat.Event(nil), before...)
	events = append(events, chat.StreamError{Message: message})
	return Script{Events: events}
}

// Held pauses s after n events until gate is closed
func Held(s Script, n int, gate chan struct{}) Script {
	s.Gate = gate
	s.HoldAfter = n
	return s
}

// FakeTransport implements controllers.Transport with scripted exchanges
type FakeTransport struct {
	mu        sync.Mutex
	scripts   []Script
	requests  []controllers.Request
	cancelled int
	stale     int // Stream calls made with an already cancelled ctx
	delay     time.Duration
}

// NewFakeTransport creates a transport that plays scripts in order
func NewFakeTransport(scripts ...Script) *FakeTransport {
	return &FakeTransport{scripts: scripts}
}

// Enqueue adds scripts to the end of the queue
func (f *FakeTransport) Enqueue(scripts ...Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, scripts...)
}

// SetDelay sets the pause between events
func (f *FakeTransport) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Stream implements controllers.Transport
func (f *FakeTransport) Stream(ctx context.Context, req controllers.Request) (<-chan chat.Event, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if ctx.Err() != nil {
		f.stale++
	}
	if len(f.scripts) == 0 {
		f.mu.Unlock()
		return nil, errors.New("no scripted exchange")
	}
	script := f.scripts[0]
	f.scripts = f.scripts[1:]
	delay := f.delay
	f.mu.Unlock()

	if script.Err != nil {
		return nil, script.Err
	}

	out := make(chan chat.Event)
	go func() {
		defer close(out)

		for i, ev := range script.Events {
			if script.Gate != nil && i == script.HoldAfter {
				if !f.hold(ctx, script.Gate) {
					return
				}
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					f.markCancelled()
					return
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				f.markCancelled()
				return
			}
		}

		if script.Gate != nil && script.HoldAfter >= len(script.Events) {
			f.hold(ctx, script.Gate)
		}
	}()

	return out, nil
}

func (f *FakeTransport) hold(ctx context.Context, gate chan struct{}) bool {
	select {
	case <-gate:
		return true
	case <-ctx.Done():
		f.markCancelled()
		return false
	}
}

func (f *FakeTransport) markCancelled() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

// Requests returns every request received
func (f *FakeTransport) Requests() []controllers.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]controllers.Request(nil), f.requests...)
}

// CallCount returns the number of Stream calls
func (f *FakeTransport) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Cancelled returns how many exchanges observed cancellation
func (f *FakeTransport) Cancelled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// StaleOpens returns how many Stream calls arrived after their exchange was
// cancelled
func (f *FakeTransport) StaleOpens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stale
}
