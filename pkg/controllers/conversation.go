package controllers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/markup"
)

// Status is the streaming state of one thread
type Status string

const (
	StatusReady     Status = "ready"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// Active reports whether an exchange is in flight
func (s Status) Active() bool {
	return s == StatusSubmitted || s == StatusStreaming
}

const (
	reasonCancelled  = "cancelled"
	reasonIncomplete = "tool call did not complete"
)

var (
	ErrExchangeInProgress = errors.New("an exchange is already in progress")
	ErrNotRetryable       = errors.New("thread is not in an error state")
	ErrNoUserMessage      = errors.New("no user message to retry")
	ErrEmptyMessage       = errors.New("message content cannot be empty")
)

// Request is what a transport needs to produce one assistant reply
type Request struct {
	ThreadID string
	Messages []chat.Message
}

// Transport opens a streaming exchange. The returned channel yields events
// in order and is closed when the exchange ends; implementations must stop
// sending once ctx is cancelled. Stream is called with the controller's lock
// held, so it must return without waiting for the first event.
type Transport interface {
	Stream(ctx context.Context, req Request) (<-chan chat.Event, error)
}

// ErrorState is the failure recorded on a thread
type ErrorState struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Snapshot is an immutable view of a thread. Every mutation publishes a new
// Snapshot; fields of an old one never change.
type Snapshot struct {
	Conversation       chat.Conversation
	Status             Status
	Err                *ErrorState
	StreamingMessageID string
}

// Streaming reports whether message id is the one receiving parts
func (s Snapshot) Streaming(id string) bool {
	return s.Status.Active() && s.StreamingMessageID == id
}

// Listener observes snapshots in mutation order. It runs while the
// controller's lock is held and must not call back into the controller.
type Listener func(Snapshot)

type Option func(*ConversationController)

func WithListener(l Listener) Option {
	return func(c *ConversationController) {
		c.listener = l
	}
}

func WithTitleLength(n int) Option {
	return func(c *ConversationController) {
		c.titleLength = n
	}
}

// WithSystemPrompt prepends a system message to every request. It is not
// stored in the thread.
func WithSystemPrompt(prompt string) Option {
	return func(c *ConversationController) {
		c.systemPrompt = prompt
	}
}

// exchange is one send-stream-complete cycle. Its pointer identity is the
// token checked before every mutation.
type exchange struct {
	ctx         context.Context
	cancel      context.CancelFunc
	assistantID string
	done        chan struct{}
}

// ConversationController owns one thread's messages and its
// send/stream/stop/retry lifecycle
type ConversationController struct {
	mu           sync.Mutex
	transport    Transport
	state        Snapshot
	current      *exchange
	listener     Listener
	titleLength  int
	systemPrompt string
	log          *logger.ComponentLogger
}

// NewConversationController creates a controller for an empty thread
func NewConversationController(threadID string, transport Transport, opts ...Option) *ConversationController {
	c := &ConversationController{
		transport:   transport,
		state:       Snapshot{Conversation: chat.NewConversation(threadID), Status: StatusReady},
		titleLength: chat.DefaultTitleLength,
		log:         logger.WithComponent("conversation"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the thread id
func (c *ConversationController) ID() string {
	return c.Snapshot().Conversation.ID
}

// Snapshot returns the current state
func (c *ConversationController) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the current status
func (c *ConversationController) Status() Status {
	return c.Snapshot().Status
}

// Restore replaces the thread's messages with persisted ones. It fails while
// an exchange is in flight.
func (c *ConversationController) Restore(conv chat.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status.Active() {
		return ErrExchangeInProgress
	}
	c.state = Snapshot{Conversation: conv, Status: StatusReady}
	return nil
}

func (c *ConversationController) publishLocked(next Snapshot) {
	c.state = next
	if c.listener != nil {
		c.listener(next)
	}
}

// Send appends a user message built from text and files and starts an
// exchange. It returns once the request is accepted; completion shows up as
// a status change. A recorded error is cleared first.
func (c *ConversationController) Send(ctx context.Context, text string, files ...markup.FileRef) error {
	content := markup.Compose(text, nil, files)
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status.Active() {
		return ErrExchangeInProgress
	}

	conv := c.state.Conversation
	_, hadUser := chat.GetLastUserMessage(conv)

	user := chat.NewUserMessage(content)
	conv = chat.AddMessage(conv, user)
	if !hadUser {
		conv = chat.WithTitle(conv, chat.DeriveTitle(content, c.titleLength))
	}

	c.startLocked(ctx, conv)
	c.log.Debug("Message sent", "thread", conv.ID, "message", user.ID, "length", len(content))
	return nil
}

// Retry re-runs the exchange for the last user message after a failure.
// The failed partial reply is dropped; the user message is not duplicated.
func (c *ConversationController) Retry(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != StatusError {
		return ErrNotRetryable
	}

	user, ok := chat.GetLastUserMessage(c.state.Conversation)
	if !ok {
		return ErrNoUserMessage
	}

	conv := chat.TruncateAfter(c.state.Conversation, user.ID)
	c.startLocked(ctx, conv)
	c.log.Info("Retrying exchange", "thread", conv.ID, "message", user.ID)
	return nil
}

// Regenerate re-runs the exchange for the last user message from ready or
// error. Everything after that message is dropped, so a completed reply is
// replaced. Threads restored after a failed exchange come back ready, and
// this is how they are answered again.
func (c *ConversationController) Regenerate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status.Active() {
		return ErrExchangeInProgress
	}

	user, ok := chat.GetLastUserMessage(c.state.Conversation)
	if !ok {
		return ErrNoUserMessage
	}

	conv := chat.TruncateAfter(c.state.Conversation, user.ID)
	c.startLocked(ctx, conv)
	c.log.Info("Regenerating reply", "thread", conv.ID, "message", user.ID)
	return nil
}

// DismissError clears a recorded failure and returns to ready. Content
// received before the failure is kept.
func (c *ConversationController) DismissError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != StatusError {
		return ErrNotRetryable
	}

	c.publishLocked(Snapshot{Conversation: c.state.Conversation, Status: StatusReady})
	return nil
}

// Stop cancels the in-flight exchange and keeps whatever was received.
// Unfinished tool calls are closed as errors. No event is applied after Stop
// returns. Calling it with nothing in flight does nothing.
func (c *ConversationController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	ex := c.current
	if ex == nil {
		return
	}

	c.current = nil
	ex.cancel()

	conv := c.finalizeLocked(ex, reasonCancelled)
	c.publishLocked(Snapshot{Conversation: conv, Status: StatusReady})
	c.log.Info("Exchange stopped", "thread", conv.ID)
}

// Wait blocks until the exchange in flight, if any, has ended
func (c *ConversationController) Wait(ctx context.Context) error {
	c.mu.Lock()
	ex := c.current
	c.mu.Unlock()

	if ex == nil {
		return nil
	}

	select {
	case <-ex.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startLocked publishes the submitted state and launches the exchange. The
// caller's context only contributes values: the exchange outlives it and
// ends through Stop or the transport.
func (c *ConversationController) startLocked(ctx context.Context, conv chat.Conversation) {
	exCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ex := &exchange{
		ctx:    exCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.current = ex

	c.publishLocked(Snapshot{Conversation: conv, Status: StatusSubmitted})

	go c.run(ex, c.buildRequest(conv))
}

func (c *ConversationController) buildRequest(conv chat.Conversation) Request {
	messages := make([]chat.Message, 0, len(conv.Messages)+1)
	if c.systemPrompt != "" {
		messages = append(messages, chat.NewSystemMessage(c.systemPrompt))
	}
	messages = append(messages, conv.Messages...)

	return Request{ThreadID: conv.ID, Messages: messages}
}

func (c *ConversationController) run(ex *exchange, req Request) {
	defer close(ex.done)

	events, ok, err := c.open(ex, req)
	if !ok {
		return
	}
	if err != nil {
		c.fail(ex, err.Error())
		return
	}

	for {
		select {
		case <-ex.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.complete(ex)
				return
			}
			if !c.apply(ex, ev) {
				return
			}
		}
	}
}

// open starts the transport request while ex is still current. Holding the
// lock across Stream means a Stop that wins the race leaves no request
// behind, and one that loses it cancels a request already opened.
func (c *ConversationController) open(ex *exchange, req Request) (<-chan chat.Event, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != ex {
		return nil, false, nil
	}
	events, err := c.transport.Stream(ex.ctx, req)
	return events, true, err
}

// apply folds one event into the thread. It reports false once the
// exchange is over, either because ev ended it or because it was replaced.
func (c *ConversationController) apply(ex *exchange, ev chat.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != ex {
		return false
	}

	switch e := ev.(type) {
	case chat.Done:
		c.completeLocked(ex)
		return false
	case chat.StreamError:
		c.failLocked(ex, e.Message)
		return false
	}

	conv := c.state.Conversation
	var msg chat.Message
	exists := false
	if ex.assistantID != "" {
		msg, exists = chat.GetMessage(conv, ex.assistantID)
	}
	if !exists {
		msg = chat.NewAssistantMessage()
	}

	updated, changed := chat.ApplyEvent(msg, ev)
	if !changed {
		c.log.Debug("Event ignored", "thread", conv.ID, "type", ev.EventType())
	} else if exists {
		conv = chat.ReplaceMessage(conv, updated)
	} else {
		ex.assistantID = updated.ID
		conv = chat.AddMessage(conv, updated)
	}

	c.publishLocked(Snapshot{
		Conversation:       conv,
		Status:             StatusStreaming,
		StreamingMessageID: ex.assistantID,
	})
	return true
}

func (c *ConversationController) complete(ex *exchange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == ex {
		c.completeLocked(ex)
	}
}

func (c *ConversationController) fail(ex *exchange, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == ex {
		c.failLocked(ex, message)
	}
}

func (c *ConversationController) completeLocked(ex *exchange) {
	c.current = nil
	ex.cancel()

	conv := c.finalizeLocked(ex, reasonIncomplete)
	c.publishLocked(Snapshot{Conversation: conv, Status: StatusReady})
	c.log.Debug("Exchange complete", "thread", conv.ID)
}

func (c *ConversationController) failLocked(ex *exchange, message string) {
	c.current = nil
	ex.cancel()

	if message == "" {
		message = "the response stream failed"
	}

	conv := c.finalizeLocked(ex, reasonIncomplete)
	c.publishLocked(Snapshot{
		Conversation: conv,
		Status:       StatusError,
		Err:          &ErrorState{Message: message, At: time.Now()},
	})
	c.log.Warn("Exchange failed", "thread", conv.ID, "error", message)
}

// finalizeLocked closes any tool call left open in the exchange's reply. A
// reply that only ever received blank text is dropped.
func (c *ConversationController) finalizeLocked(ex *exchange, reason string) chat.Conversation {
	conv := c.state.Conversation
	if ex.assistantID == "" {
		return conv
	}

	msg, ok := chat.GetMessage(conv, ex.assistantID)
	if !ok {
		return conv
	}
	if msg.IsEmpty() {
		return chat.RemoveMessage(conv, msg.ID)
	}
	if !chat.HasOpenTools(msg) {
		return conv
	}
	return chat.ReplaceMessage(conv, chat.FinalizeTools(msg, reason))
}
