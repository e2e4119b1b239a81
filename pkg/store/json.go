package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/threads"
)

const threadFileExt = ".json"

// JSONStore writes one JSON file per thread into a directory
type JSONStore struct {
	mu  sync.RWMutex
	dir string
	log *logger.ComponentLogger
}

// threadHeader decodes a thread file without decoding its parts
type threadHeader struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	UpdatedAt time.Time         `json:"updated_at"`
	Messages  []json.RawMessage `json:"messages"`
}

func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create thread directory: %w", err)
	}
	return &JSONStore{dir: dir, log: logger.WithComponent("json_store")}, nil
}

func (s *JSONStore) path(id string) string {
	return filepath.Join(s.dir, id+threadFileExt)
}

func (s *JSONStore) ListThreads(ctx context.Context) ([]chat.ThreadSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read thread directory: %w", err)
	}

	summaries := make([]chat.ThreadSummary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), threadFileExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read thread file: %w", err)
		}

		var h threadHeader
		if err := json.Unmarshal(data, &h); err != nil || h.ID == "" {
			s.log.Warn("Skipping unreadable thread file", "file", e.Name(), "error", err)
			continue
		}

		summaries = append(summaries, chat.ThreadSummary{
			ID:           h.ID,
			Title:        h.Title,
			UpdatedAt:    h.UpdatedAt,
			MessageCount: len(h.Messages),
		})
	}

	sortSummaries(summaries)
	return summaries, nil
}

func (s *JSONStore) GetThread(ctx context.Context, id string) (chat.Conversation, error) {
	if err := validateID(id); err != nil {
		return chat.Conversation{}, threads.ErrThreadNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return chat.Conversation{}, threads.ErrThreadNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("failed to read thread file: %w", err)
	}

	var conv chat.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return chat.Conversation{}, fmt.Errorf("failed to unmarshal thread: %w", err)
	}
	if conv.Messages == nil {
		conv.Messages = make([]chat.Message, 0)
	}
	return conv, nil
}

// SaveThread replaces the thread file atomically
func (s *JSONStore) SaveThread(ctx context.Context, conv chat.Conversation) error {
	if err := validateID(conv.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal thread: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+conv.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write thread file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write thread file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(conv.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace thread file: %w", err)
	}
	return nil
}

func (s *JSONStore) DeleteThread(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return threads.ErrThreadNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return threads.ErrThreadNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete thread file: %w", err)
	}
	return nil
}

func (s *JSONStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read thread directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), threadFileExt) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete thread file: %w", err)
		}
	}
	return nil
}

func sortSummaries(summaries []chat.ThreadSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
}
