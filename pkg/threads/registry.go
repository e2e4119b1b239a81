package threads

import (
	"sort"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/controllers"
)

// ThreadInfo is one row of the thread list
type ThreadInfo struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	UpdatedAt    time.Time          `json:"updated_at"`
	MessageCount int                `json:"message_count"`
	Status       controllers.Status `json:"status"`
	Synced       bool               `json:"synced"`
	Active       bool               `json:"active"`
}

// entry is a registry slot. Entries are values: a change replaces the slot.
type entry struct {
	summary chat.ThreadSummary
	ctrl    *controllers.ConversationController
	loaded  bool
}

// registry maps thread ids to entries. It is copy-on-write: a published
// registry is never modified, so readers can use it without the lock.
type registry struct {
	entries  map[string]entry
	activeID string
}

func emptyRegistry() *registry {
	return &registry{entries: make(map[string]entry)}
}

func (r *registry) clone() *registry {
	entries := make(map[string]entry, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
	}
	return &registry{entries: entries, activeID: r.activeID}
}

func (r *registry) with(id string, e entry) *registry {
	next := r.clone()
	next.entries[id] = e
	return next
}

func (r *registry) without(id string) *registry {
	next := r.clone()
	delete(next.entries, id)
	if next.activeID == id {
		next.activeID = ""
	}
	return next
}

func (r *registry) activate(id string) *registry {
	next := r.clone()
	next.activeID = id
	return next
}

// sortThreads orders by most recent update first, ties by id
func sortThreads(infos []ThreadInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].UpdatedAt.Equal(infos[j].UpdatedAt) {
			return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
}
