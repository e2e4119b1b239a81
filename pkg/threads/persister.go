package threads

import (
	"context"
	"sync"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/logger"
)

// persister saves thread snapshots in the background. Snapshots queued for
// the same thread coalesce: only the latest is written.
type persister struct {
	store Store
	log   *logger.ComponentLogger

	mu      sync.Mutex
	cond    *sync.Cond
	pending map[string]chat.Conversation
	dirty   map[string]bool
	saving  string

	wake     chan struct{}
	flushReq chan chan struct{}
	quit     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

func newPersister(store Store) *persister {
	p := &persister{
		store:    store,
		log:      logger.WithComponent("persister"),
		pending:  make(map[string]chat.Conversation),
		dirty:    make(map[string]bool),
		wake:     make(chan struct{}, 1),
		flushReq: make(chan chan struct{}),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// enqueue records conv as the latest state of its thread. It never blocks
// on the store.
func (p *persister) enqueue(conv chat.Conversation) {
	p.mu.Lock()
	p.pending[conv.ID] = conv
	p.dirty[conv.ID] = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// synced reports whether the last local change to id reached the store
func (p *persister) synced(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.dirty[id]
}

// forget drops queued work for id and waits out a save in progress, so a
// following delete cannot be overtaken
func (p *persister) forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.pending, id)
	delete(p.dirty, id)
	for p.saving == id {
		p.cond.Wait()
	}
}

func (p *persister) forgetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = make(map[string]chat.Conversation)
	p.dirty = make(map[string]bool)
	for p.saving != "" {
		p.cond.Wait()
	}
}

func (p *persister) run() {
	defer close(p.stopped)

	for {
		select {
		case <-p.wake:
			p.drain()
		case done := <-p.flushReq:
			p.drain()
			close(done)
		case <-p.quit:
			p.drain()
			return
		}
	}
}

func (p *persister) drain() {
	for {
		p.mu.Lock()
		var conv chat.Conversation
		found := false
		for id, c := range p.pending {
			conv, found = c, true
			delete(p.pending, id)
			break
		}
		if !found {
			p.mu.Unlock()
			return
		}
		p.saving = conv.ID
		p.mu.Unlock()

		err := p.store.SaveThread(context.Background(), conv)

		p.mu.Lock()
		p.saving = ""
		if err != nil {
			p.log.Error("Failed to save thread", "thread", conv.ID, "error", err)
		} else if _, requeued := p.pending[conv.ID]; !requeued {
			if _, tracked := p.dirty[conv.ID]; tracked {
				p.dirty[conv.ID] = false
			}
		}
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// flush waits until everything queued before the call has been attempted
func (p *persister) flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case p.flushReq <- done:
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *persister) close() {
	p.once.Do(func() {
		close(p.quit)
	})
	<-p.stopped
}
