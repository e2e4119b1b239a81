package store

import (
	"context"
	"sync"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/threads"
)

// MemoryStore keeps threads in a map. Nothing survives the process.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]chat.Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]chat.Conversation)}
}

func (s *MemoryStore) ListThreads(ctx context.Context) ([]chat.ThreadSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]chat.ThreadSummary, 0, len(s.threads))
	for _, conv := range s.threads {
		summaries = append(summaries, chat.Summarize(conv))
	}
	sortSummaries(summaries)
	return summaries, nil
}

func (s *MemoryStore) GetThread(ctx context.Context, id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.threads[id]
	if !ok {
		return chat.Conversation{}, threads.ErrThreadNotFound
	}
	return conv, nil
}

func (s *MemoryStore) SaveThread(ctx context.Context, conv chat.Conversation) error {
	if err := validateID(conv.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[conv.ID] = conv
	return nil
}

func (s *MemoryStore) DeleteThread(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[id]; !ok {
		return threads.ErrThreadNotFound
	}
	delete(s.threads, id)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = make(map[string]chat.Conversation)
	return nil
}
