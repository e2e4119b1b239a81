package threads

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/markup"
)

type Option func(*Manager)

// WithControllerOptions applies opts to every controller the manager creates
func WithControllerOptions(opts ...controllers.Option) Option {
	return func(m *Manager) {
		m.ctrlOpts = append(m.ctrlOpts, opts...)
	}
}

// WithObserver receives every snapshot published by any thread, after it has
// been queued for persistence. It runs under the publishing controller's lock.
func WithObserver(fn func(threadID string, s controllers.Snapshot)) Option {
	return func(m *Manager) {
		m.observer = fn
	}
}

// Manager owns the set of threads, which one is active, and their
// persistence. Each thread streams independently through its own
// controller.
type Manager struct {
	mu        sync.Mutex
	reg       *registry
	store     Store
	transport controllers.Transport
	persister *persister
	ctrlOpts  []controllers.Option
	observer  func(string, controllers.Snapshot)
	log       *logger.ComponentLogger
}

func NewManager(store Store, transport controllers.Transport, opts ...Option) *Manager {
	m := &Manager{
		reg:       emptyRegistry(),
		store:     store,
		transport: transport,
		persister: newPersister(store),
		log:       logger.WithComponent("threads"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) registry() *registry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg
}

func (m *Manager) newController(id string) *controllers.ConversationController {
	opts := append([]controllers.Option(nil), m.ctrlOpts...)
	opts = append(opts, controllers.WithListener(func(s controllers.Snapshot) {
		m.persister.enqueue(s.Conversation)
		if m.observer != nil {
			m.observer(id, s)
		}
	}))
	return controllers.NewConversationController(id, m.transport, opts...)
}

// Load reads the stored thread list. Messages are loaded when a thread is
// first selected.
func (m *Manager) Load(ctx context.Context) error {
	summaries, err := m.store.ListThreads(ctx)
	if err != nil {
		return fmt.Errorf("failed to list threads: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.reg.clone()
	for _, s := range summaries {
		if _, exists := next.entries[s.ID]; exists {
			continue
		}
		next.entries[s.ID] = entry{summary: s, ctrl: m.newController(s.ID)}
	}
	m.reg = next

	m.log.Info("Threads loaded", "count", len(summaries))
	return nil
}

// ActiveID returns the active thread id, or "" when none is active
func (m *Manager) ActiveID() string {
	return m.registry().activeID
}

// ListThreads returns every known thread, most recently updated first
func (m *Manager) ListThreads() []ThreadInfo {
	reg := m.registry()

	infos := make([]ThreadInfo, 0, len(reg.entries))
	for id, e := range reg.entries {
		infos = append(infos, m.describe(id, e, reg.activeID))
	}
	sortThreads(infos)
	return infos
}

func (m *Manager) describe(id string, e entry, activeID string) ThreadInfo {
	snap := e.ctrl.Snapshot()
	summary := e.summary
	if e.loaded {
		summary = chat.Summarize(snap.Conversation)
	}

	return ThreadInfo{
		ID:           id,
		Title:        summary.Title,
		UpdatedAt:    summary.UpdatedAt,
		MessageCount: summary.MessageCount,
		Status:       snap.Status,
		Synced:       m.persister.synced(id),
		Active:       id == activeID,
	}
}

// SelectThread activates a thread. An empty id creates a new thread. The
// selected thread's messages are loaded from the store on first use.
func (m *Manager) SelectThread(ctx context.Context, id string) (string, error) {
	if id == "" {
		return m.createThread(), nil
	}

	if _, err := m.ensureLoaded(ctx, id); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reg.entries[id]; !ok {
		return "", ErrThreadNotFound
	}
	m.reg = m.reg.activate(id)
	m.log.Debug("Thread selected", "thread", id)
	return id, nil
}

func (m *Manager) createThread() string {
	id := chat.NewThreadID()
	ctrl := m.newController(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.reg = m.reg.with(id, entry{
		summary: chat.Summarize(chat.NewConversation(id)),
		ctrl:    ctrl,
		loaded:  true,
	}).activate(id)

	m.log.Debug("Thread created", "thread", id)
	return id
}

// ensureLoaded returns the controller for id, restoring its messages from
// the store if that has not happened yet
func (m *Manager) ensureLoaded(ctx context.Context, id string) (*controllers.ConversationController, error) {
	m.mu.Lock()
	e, ok := m.reg.entries[id]
	m.mu.Unlock()

	if !ok {
		return nil, ErrThreadNotFound
	}
	if e.loaded {
		return e.ctrl, nil
	}

	conv, err := m.store.GetThread(ctx, id)
	if err != nil {
		if errors.Is(err, ErrThreadNotFound) {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to load thread %s: %w", id, err)
	}

	if err := e.ctrl.Restore(conv); err != nil {
		return nil, fmt.Errorf("failed to restore thread %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.reg.entries[id]
	if !ok || current.ctrl != e.ctrl {
		return nil, ErrThreadNotFound
	}
	current.loaded = true
	m.reg = m.reg.with(id, current)
	return current.ctrl, nil
}

func (m *Manager) controller(id string) (*controllers.ConversationController, error) {
	e, ok := m.registry().entries[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return e.ctrl, nil
}

// Thread returns the current state of a thread, loading it if needed
func (m *Manager) Thread(ctx context.Context, id string) (controllers.Snapshot, error) {
	ctrl, err := m.ensureLoaded(ctx, id)
	if err != nil {
		return controllers.Snapshot{}, err
	}
	return ctrl.Snapshot(), nil
}

// Status returns the streaming status of a thread
func (m *Manager) Status(id string) (controllers.Status, error) {
	ctrl, err := m.controller(id)
	if err != nil {
		return "", err
	}
	return ctrl.Status(), nil
}

// Send posts a message on the active thread, creating one when none is
// active, and returns the thread id
func (m *Manager) Send(ctx context.Context, text string, files ...markup.FileRef) (string, error) {
	id := m.ActiveID()
	if id == "" {
		id = m.createThread()
	}

	ctrl, err := m.ensureLoaded(ctx, id)
	if err != nil {
		return "", err
	}
	if err := ctrl.Send(ctx, text, files...); err != nil {
		return id, err
	}
	return id, nil
}

func (m *Manager) Stop(id string) error {
	ctrl, err := m.controller(id)
	if err != nil {
		return err
	}
	ctrl.Stop()
	return nil
}

func (m *Manager) Retry(ctx context.Context, id string) error {
	ctrl, err := m.ensureLoaded(ctx, id)
	if err != nil {
		return err
	}
	return ctrl.Retry(ctx)
}

// Regenerate answers the last user message of a thread again
func (m *Manager) Regenerate(ctx context.Context, id string) error {
	ctrl, err := m.ensureLoaded(ctx, id)
	if err != nil {
		return err
	}
	return ctrl.Regenerate(ctx)
}

func (m *Manager) DismissError(id string) error {
	ctrl, err := m.controller(id)
	if err != nil {
		return err
	}
	return ctrl.DismissError()
}

// Wait blocks until the thread's exchange, if any, has ended
func (m *Manager) Wait(ctx context.Context, id string) error {
	ctrl, err := m.controller(id)
	if err != nil {
		return err
	}
	return ctrl.Wait(ctx)
}

// RefreshThreads reconciles the registry with the store. Threads the store
// no longer has are dropped unless they are active, streaming, new and still
// empty, or carry local changes not yet saved. Idle threads the store has newer data for
// are reloaded on next use.
func (m *Manager) RefreshThreads(ctx context.Context) error {
	summaries, err := m.store.ListThreads(ctx)
	if err != nil {
		return fmt.Errorf("failed to list threads: %w", err)
	}

	stored := make(map[string]chat.ThreadSummary, len(summaries))
	for _, s := range summaries {
		stored[s.ID] = s
	}

	before := m.registry()
	keep := make(map[string]bool)
	stale := make(map[string]bool)
	for id, e := range before.entries {
		snap := e.ctrl.Snapshot()
		// a new thread has nothing to save until its first message, so the
		// store cannot know it yet
		draft := e.loaded && chat.IsEmpty(snap.Conversation)
		pinned := id == before.activeID || snap.Status.Active() || !m.persister.synced(id) || draft
		if pinned {
			keep[id] = true
			continue
		}
		if s, ok := stored[id]; ok && e.loaded && s.UpdatedAt.After(snap.Conversation.UpdatedAt) {
			stale[id] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.reg.clone()
	for id, e := range m.reg.entries {
		s, inStore := stored[id]
		_, seen := before.entries[id]
		switch {
		case keep[id] || id == next.activeID || !seen:
		case !inStore:
			delete(next.entries, id)
		case stale[id] || !e.loaded:
			next.entries[id] = entry{summary: s, ctrl: e.ctrl}
		}
	}
	for id, s := range stored {
		if _, exists := next.entries[id]; !exists {
			next.entries[id] = entry{summary: s, ctrl: m.newController(id)}
		}
	}
	m.reg = next

	m.log.Debug("Threads refreshed", "stored", len(summaries), "known", len(next.entries))
	return nil
}

// DeleteThread stops and removes a thread, locally and in the store
func (m *Manager) DeleteThread(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.reg.entries[id]
	if ok {
		m.reg = m.reg.without(id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrThreadNotFound
	}

	e.ctrl.Stop()
	m.persister.forget(id)

	if err := m.store.DeleteThread(ctx, id); err != nil && !errors.Is(err, ErrThreadNotFound) {
		return fmt.Errorf("failed to delete thread %s: %w", id, err)
	}

	m.log.Info("Thread deleted", "thread", id)
	return nil
}

// ClearHistory stops every exchange and removes all threads
func (m *Manager) ClearHistory(ctx context.Context) error {
	m.mu.Lock()
	old := m.reg
	m.reg = emptyRegistry()
	m.mu.Unlock()

	for _, e := range old.entries {
		e.ctrl.Stop()
	}
	m.persister.forgetAll()

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear threads: %w", err)
	}

	m.log.Info("History cleared", "count", len(old.entries))
	return nil
}

// Flush waits for queued saves and retries threads whose last save failed
func (m *Manager) Flush(ctx context.Context) error {
	for _, e := range m.registry().entries {
		if !e.loaded {
			continue
		}
		snap := e.ctrl.Snapshot()
		if !m.persister.synced(snap.Conversation.ID) {
			m.persister.enqueue(snap.Conversation)
		}
	}
	return m.persister.flush(ctx)
}

// Close stops every exchange and drains pending saves
func (m *Manager) Close() error {
	for _, e := range m.registry().entries {
		e.ctrl.Stop()
	}
	m.persister.close()
	return nil
}
