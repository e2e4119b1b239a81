package threads_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/store"
	"github.com/killallgit/threadline/pkg/testutil"
	"github.com/killallgit/threadline/pkg/threads"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func seeded(id string, updated time.Time, texts ...string) chat.Conversation {
	conv := chat.NewConversation(id)
	for _, text := range texts {
		conv = chat.AddMessage(conv, chat.NewUserMessage(text))
	}
	conv = chat.WithTitle(conv, "thread "+id)
	conv.UpdatedAt = updated
	return conv
}

func ids(infos []threads.ThreadInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.ID
	}
	return out
}

var _ = Describe("Manager", func() {
	var (
		ctx       context.Context
		backing   *store.MemoryStore
		flaky     *testutil.FlakyStore
		transport *testutil.FakeTransport
		manager   *threads.Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		backing = store.NewMemoryStore()
		flaky = testutil.NewFlakyStore(backing)
		transport = testutil.NewFakeTransport()
		manager = threads.NewManager(flaky, transport)
	})

	AfterEach(func() {
		Expect(manager.Close()).To(Succeed())
	})

	status := func(id string) func() controllers.Status {
		return func() controllers.Status {
			s, err := manager.Status(id)
			Expect(err).NotTo(HaveOccurred())
			return s
		}
	}

	Describe("listing", func() {
		It("orders by most recent update with ties broken by id", func() {
			Expect(backing.SaveThread(ctx, seeded("b", base, "x"))).To(Succeed())
			Expect(backing.SaveThread(ctx, seeded("a", base, "x"))).To(Succeed())
			Expect(backing.SaveThread(ctx, seeded("c", base.Add(time.Hour), "x"))).To(Succeed())

			Expect(manager.Load(ctx)).To(Succeed())
			infos := manager.ListThreads()

			Expect(ids(infos)).To(Equal([]string{"c", "a", "b"}))
			Expect(infos[0].Title).To(Equal("thread c"))
			Expect(infos[0].MessageCount).To(Equal(1))
			Expect(infos[0].Status).To(Equal(controllers.StatusReady))
			Expect(infos[0].Synced).To(BeTrue())
		})

		It("surfaces a load failure", func() {
			failing := threads.NewManager(failingList{backing}, transport)
			defer failing.Close()
			Expect(failing.Load(ctx)).To(MatchError(ContainSubstring("failed to list threads")))
		})
	})

	Describe("SelectThread", func() {
		It("creates distinct threads for repeated new-thread requests", func() {
			first, err := manager.SelectThread(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			second, err := manager.SelectThread(ctx, "")
			Expect(err).NotTo(HaveOccurred())

			Expect(first).NotTo(Equal(second))
			Expect(manager.ActiveID()).To(Equal(second))
			Expect(manager.ListThreads()).To(HaveLen(2))
		})

		It("rejects unknown ids", func() {
			_, err := manager.SelectThread(ctx, "nope")
			Expect(err).To(MatchError(threads.ErrThreadNotFound))
			Expect(manager.ActiveID()).To(BeEmpty())
		})

		It("loads messages on first selection", func() {
			Expect(backing.SaveThread(ctx, seeded("a", base, "one", "two"))).To(Succeed())
			Expect(manager.Load(ctx)).To(Succeed())

			id, err := manager.SelectThread(ctx, "a")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("a"))

			snap, err := manager.Thread(ctx, "a")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Conversation.Messages).To(HaveLen(2))
			Expect(snap.Conversation.Messages[1].Text()).To(Equal("two"))
		})
	})

	Describe("Send", func() {
		It("creates a thread when none is active and persists it", func() {
			transport.Enqueue(testutil.Reply("Hello there"))

			id, err := manager.Send(ctx, "Hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(manager.ActiveID()).To(Equal(id))
			Expect(manager.Wait(ctx, id)).To(Succeed())
			Expect(manager.Flush(ctx)).To(Succeed())

			stored, err := backing.GetThread(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Title).To(Equal("Hi"))
			Expect(stored.Messages).To(HaveLen(2))
			Expect(stored.Messages[1].Text()).To(Equal("Hello there"))
		})

		It("keeps streaming status separate per thread", func() {
			gate := make(chan struct{})
			transport.Enqueue(testutil.Held(testutil.Reply("slow answer"), 1, gate), testutil.Reply("fast"))

			a, err := manager.Send(ctx, "first thread")
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(a)).Should(Equal(controllers.StatusStreaming))

			b, err := manager.SelectThread(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = manager.Send(ctx, "second thread")
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(b)).Should(Equal(controllers.StatusReady))

			Expect(status(a)()).To(Equal(controllers.StatusStreaming))

			Expect(manager.Stop(a)).To(Succeed())
			Expect(status(a)()).To(Equal(controllers.StatusReady))

			snapB, err := manager.Thread(ctx, b)
			Expect(err).NotTo(HaveOccurred())
			Expect(snapB.Conversation.Messages[1].Text()).To(Equal("fast"))
			close(gate)
		})

		It("retries and dismisses errors per thread", func() {
			transport.Enqueue(testutil.Fail("boom"), testutil.Reply("recovered"))

			id, err := manager.Send(ctx, "Hi")
			Expect(err).NotTo(HaveOccurred())
			Eventually(status(id)).Should(Equal(controllers.StatusError))

			Expect(manager.Retry(ctx, id)).To(Succeed())
			Eventually(status(id)).Should(Equal(controllers.StatusReady))
			Expect(manager.DismissError(id)).To(MatchError(controllers.ErrNotRetryable))
		})

		It("passes published snapshots to the observer", func() {
			var (
				mu       sync.Mutex
				seen     []controllers.Status
				threadID string
			)
			observed := threads.NewManager(backing, transport, threads.WithObserver(func(id string, s controllers.Snapshot) {
				mu.Lock()
				defer mu.Unlock()
				threadID = id
				seen = append(seen, s.Status)
			}))
			defer observed.Close()

			transport.Enqueue(testutil.Reply("ok"))
			id, err := observed.Send(ctx, "Hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(observed.Wait(ctx, id)).To(Succeed())

			mu.Lock()
			defer mu.Unlock()
			Expect(threadID).To(Equal(id))
			Expect(seen[0]).To(Equal(controllers.StatusSubmitted))
			Expect(seen[len(seen)-1]).To(Equal(controllers.StatusReady))
		})

		It("reports unknown threads", func() {
			Expect(manager.Stop("missing")).To(MatchError(threads.ErrThreadNotFound))
			Expect(manager.Retry(ctx, "missing")).To(MatchError(threads.ErrThreadNotFound))
			_, err := manager.Status("missing")
			Expect(err).To(MatchError(threads.ErrThreadNotFound))
		})
	})

	Describe("persistence", func() {
		It("marks a thread unsynced when saving fails and recovers on flush", func() {
			flaky.FailSaves(errors.New("disk full"))
			transport.Enqueue(testutil.Reply("ok"))

			id, err := manager.Send(ctx, "Hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(manager.Wait(ctx, id)).To(Succeed())
			Expect(manager.Flush(ctx)).To(Succeed())

			Expect(manager.ListThreads()[0].Synced).To(BeFalse())
			_, err = backing.GetThread(ctx, id)
			Expect(err).To(MatchError(threads.ErrThreadNotFound))

			flaky.FailSaves(nil)
			Expect(manager.Flush(ctx)).To(Succeed())

			Expect(manager.ListThreads()[0].Synced).To(BeTrue())
			stored, err := backing.GetThread(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Messages).To(HaveLen(2))
		})

		It("writes the latest snapshot when saves queue up", func() {
			gate := flaky.BlockSaves()
			transport.Enqueue(testutil.Reply("a fairly long answer that streams in many chunks"))

			id, err := manager.Send(ctx, "Hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(manager.Wait(ctx, id)).To(Succeed())
			close(gate)
			Expect(manager.Flush(ctx)).To(Succeed())

			stored, err := backing.GetThread(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Messages[1].Text()).To(Equal("a fairly long answer that streams in many chunks"))
			Expect(flaky.Saves(id)).To(BeNumerically("<", 12))
		})
	})

	Describe("RefreshThreads", func() {
		It("keeps the active thread and picks up store changes", func() {
			Expect(backing.SaveThread(ctx, seeded("old1", base, "x"))).To(Succeed())
			Expect(backing.SaveThread(ctx, seeded("old2", base, "x"))).To(Succeed())
			Expect(manager.Load(ctx)).To(Succeed())

			active, err := manager.SelectThread(ctx, "")
			Expect(err).NotTo(HaveOccurred())

			Expect(backing.DeleteThread(ctx, "old2")).To(Succeed())
			Expect(backing.SaveThread(ctx, seeded("fresh", base.Add(time.Minute), "y"))).To(Succeed())

			Expect(manager.RefreshThreads(ctx)).To(Succeed())

			Expect(ids(manager.ListThreads())).To(ConsistOf(active, "old1", "fresh"))
			Expect(manager.ActiveID()).To(Equal(active))
		})

		It("keeps threads with unsaved changes", func() {
			flaky.FailSaves(errors.New("disk full"))
			transport.Enqueue(testutil.Reply("ok"))

			unsaved, err := manager.Send(ctx, "Hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(manager.Wait(ctx, unsaved)).To(Succeed())
			Expect(manager.Flush(ctx)).To(Succeed())

			_, err = manager.SelectThread(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(manager.RefreshThreads(ctx)).To(Succeed())

			Expect(ids(manager.ListThreads())).To(ContainElement(unsaved))
		})

		It("keeps new empty threads after another becomes active", func() {
			draft, err := manager.SelectThread(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			other, err := manager.SelectThread(ctx, "")
			Expect(err).NotTo(HaveOccurred())

			Expect(manager.RefreshThreads(ctx)).To(Succeed())
			Expect(ids(manager.ListThreads())).To(ConsistOf(draft, other))
			Expect(manager.ActiveID()).To(Equal(other))
		})

		It("keeps threads with an exchange in flight", func() {
			gate := make(chan struct{})
			transport.Enqueue(testutil.Held(testutil.Reply("slow"), 0, gate))

			busy, err := manager.Send(ctx, "Hi")
			Expect(err).NotTo(HaveOccurred())
			_, err = manager.SelectThread(ctx, "")
			Expect(err).NotTo(HaveOccurred())

			Expect(manager.RefreshThreads(ctx)).To(Succeed())
			Expect(ids(manager.ListThreads())).To(ContainElement(busy))
			close(gate)
		})
	})

	Describe("removal", func() {
		It("deletes a thread locally and in the store", func() {
			transport.Enqueue(testutil.Reply("ok"))
			id, err := manager.Send(ctx, "Hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(manager.Wait(ctx, id)).To(Succeed())
			Expect(manager.Flush(ctx)).To(Succeed())

			Expect(manager.DeleteThread(ctx, id)).To(Succeed())
			Expect(manager.ActiveID()).To(BeEmpty())
			Expect(manager.ListThreads()).To(BeEmpty())
			_, err = backing.GetThread(ctx, id)
			Expect(err).To(MatchError(threads.ErrThreadNotFound))

			Expect(manager.DeleteThread(ctx, id)).To(MatchError(threads.ErrThreadNotFound))
		})

		It("clears every thread", func() {
			Expect(backing.SaveThread(ctx, seeded("a", base, "x"))).To(Succeed())
			Expect(manager.Load(ctx)).To(Succeed())
			_, err := manager.SelectThread(ctx, "")
			Expect(err).NotTo(HaveOccurred())

			Expect(manager.ClearHistory(ctx)).To(Succeed())
			Expect(manager.ListThreads()).To(BeEmpty())
			Expect(manager.ActiveID()).To(BeEmpty())

			summaries, err := backing.ListThreads(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(BeEmpty())
		})
	})
})

type failingList struct {
	threads.Store
}

func (failingList) ListThreads(context.Context) ([]chat.ThreadSummary, error) {
	return nil, errors.New("unavailable")
}
