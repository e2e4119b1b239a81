package testutil

import (
	"context"
	"sync"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/threads"
)

// FlakyStore wraps a store and can fail or block saves on demand
type FlakyStore struct {
	threads.Store

	mu      sync.Mutex
	saveErr error
	gate    chan struct{}
	saves   map[string]int
}

func NewFlakyStore(inner threads.Store) *FlakyStore {
	return &FlakyStore{Store: inner, saves: make(map[string]int)}
}

// FailSaves makes every save return err until called again with nil
func (s *FlakyStore) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// BlockSaves holds every save until the returned gate is closed
func (s *FlakyStore) BlockSaves() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s.gate
}

func (s *FlakyStore) SaveThread(ctx context.Context, conv chat.Conversation) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.saves[conv.ID]++
	err := s.saveErr
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return s.Store.SaveThread(ctx, conv)
}

// Saves returns how many saves were attempted for id
func (s *FlakyStore) Saves(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[id]
}
