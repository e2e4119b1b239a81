package threads

import (
	"context"
	"errors"

	"github.com/killallgit/threadline/pkg/chat"
)

var ErrThreadNotFound = errors.New("thread not found")

// Store persists threads. Implementations must be safe for concurrent use
// and return ErrThreadNotFound for unknown ids.
type Store interface {
	ListThreads(ctx context.Context) ([]chat.ThreadSummary, error)
	GetThread(ctx context.Context, id string) (chat.Conversation, error)
	SaveThread(ctx context.Context, conv chat.Conversation) error
	DeleteThread(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}
