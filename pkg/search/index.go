// Package search finds threads by meaning rather than exact words. Messages
// are embedded into an in-memory chromem collection built from the store.
package search

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/markup"
	"github.com/killallgit/threadline/pkg/threads"
	chromem "github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"
)

const (
	collectionName = "messages"
	snippetLength  = 80
)

// Hit is the best matching message of one thread
type Hit struct {
	ThreadID  string    `json:"thread_id"`
	Title     string    `json:"title"`
	MessageID string    `json:"message_id"`
	Role      chat.Role `json:"role"`
	Snippet   string    `json:"snippet"`
	Score     float32   `json:"score"`
}

// Index holds one embedded document per message with text
type Index struct {
	embedder   embeddings.Embedder
	collection *chromem.Collection
	mu         sync.RWMutex
	threads    map[string][]string // thread id -> document ids
	log        *logger.ComponentLogger
}

func NewIndex(embedder embeddings.Embedder) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}

	collection, err := chromem.NewDB().GetOrCreateCollection(collectionName, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return &Index{
		embedder:   embedder,
		collection: collection,
		threads:    make(map[string][]string),
		log:        logger.WithComponent("search"),
	}, nil
}

// Build indexes every thread in the store
func (ix *Index) Build(ctx context.Context, store threads.Store) error {
	summaries, err := store.ListThreads(ctx)
	if err != nil {
		return fmt.Errorf("failed to list threads: %w", err)
	}

	for _, s := range summaries {
		conv, err := store.GetThread(ctx, s.ID)
		if err != nil {
			ix.log.Warn("Skipping unreadable thread", "thread", s.ID, "error", err)
			continue
		}
		if err := ix.AddThread(ctx, conv); err != nil {
			return err
		}
	}

	ix.log.Debug("Index built", "threads", len(summaries), "documents", ix.Count())
	return nil
}

// AddThread indexes the messages of conv, replacing what was indexed for it
// before. A message is indexed by its text, or by its reasoning when it has
// no text.
func (ix *Index) AddThread(ctx context.Context, conv chat.Conversation) error {
	var (
		docs  []chromem.Document
		texts []string
	)
	for _, msg := range conv.Messages {
		if msg.IsSystem() {
			continue
		}
		text := strings.TrimSpace(markup.PlainText(msg.Text()))
		if text == "" {
			// replies stopped while thinking have only reasoning
			text = strings.TrimSpace(msg.Reasoning())
		}
		if text == "" {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:      conv.ID + "/" + msg.ID,
			Content: text,
			Metadata: map[string]string{
				"thread":  conv.ID,
				"title":   conv.Title,
				"message": msg.ID,
				"role":    string(msg.Role),
			},
		})
		texts = append(texts, text)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.removeLocked(ctx, conv.ID); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed thread %s: %w", conv.ID, err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d messages", len(vectors), len(docs))
	}

	ids := make([]string, len(docs))
	for i := range docs {
		docs[i].Embedding = vectors[i]
		ids[i] = docs[i].ID
	}

	if err := ix.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to index thread %s: %w", conv.ID, err)
	}
	ix.threads[conv.ID] = ids
	return nil
}

// RemoveThread drops a thread from the index
func (ix *Index) RemoveThread(ctx context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.removeLocked(ctx, id)
}

func (ix *Index) removeLocked(ctx context.Context, id string) error {
	ids, ok := ix.threads[id]
	if !ok {
		return nil
	}
	if err := ix.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to remove thread %s: %w", id, err)
	}
	delete(ix.threads, id)
	return nil
}

// Count returns the number of indexed messages
func (ix *Index) Count() int {
	return ix.collection.Count()
}

// Search returns up to limit threads ranked by their best matching message
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	// several messages of one thread can match, so ask for more than limit
	n := min(limit*4, ix.collection.Count())
	if n == 0 {
		return nil, nil
	}

	results, err := ix.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	best := make(map[string]Hit)
	for _, r := range results {
		thread := r.Metadata["thread"]
		if current, ok := best[thread]; ok && current.Score >= r.Similarity {
			continue
		}
		best[thread] = Hit{
			ThreadID:  thread,
			Title:     r.Metadata["title"],
			MessageID: r.Metadata["message"],
			Role:      chat.Role(r.Metadata["role"]),
			Snippet:   snippet(r.Content),
			Score:     r.Similarity,
		}
	}

	hits := make([]Hit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ThreadID < hits[j].ThreadID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= snippetLength {
		return text
	}
	return string(runes[:snippetLength]) + "…"
}
