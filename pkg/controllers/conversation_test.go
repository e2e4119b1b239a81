package controllers_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/markup"
	"github.com/killallgit/threadline/pkg/testutil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func assistantText(c *controllers.ConversationController) string {
	msg, ok := chat.GetLastAssistantMessage(c.Snapshot().Conversation)
	if !ok {
		return ""
	}
	return msg.Text()
}

var _ = Describe("ConversationController", func() {
	var (
		ctx       context.Context
		transport *testutil.FakeTransport
		ctrl      *controllers.ConversationController
	)

	BeforeEach(func() {
		ctx = context.Background()
		transport = testutil.NewFakeTransport()
		ctrl = controllers.NewConversationController("thread-1", transport)
	})

	status := func() controllers.Status { return ctrl.Status() }

	Describe("Send", func() {
		It("streams the reply and returns to ready", func() {
			transport.Enqueue(testutil.Reply("Hello world"))

			Expect(ctrl.Send(ctx, "Hi there")).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusReady))

			snap := ctrl.Snapshot()
			Expect(snap.Conversation.Messages).To(HaveLen(2))
			Expect(snap.Conversation.Messages[0].Text()).To(Equal("Hi there"))
			Expect(snap.Conversation.Messages[1].IsAssistant()).To(BeTrue())
			Expect(snap.Conversation.Messages[1].Text()).To(Equal("Hello world"))
			Expect(snap.Err).To(BeNil())
			Expect(snap.StreamingMessageID).To(BeEmpty())
		})

		It("is submitted before the first event arrives", func() {
			gate := make(chan struct{})
			transport.Enqueue(testutil.Held(testutil.Reply("Hello"), 0, gate))

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Expect(ctrl.Status()).To(Equal(controllers.StatusSubmitted))

			close(gate)
			Eventually(status).Should(Equal(controllers.StatusReady))
		})

		It("reports each state to the listener in order", func() {
			var mu sync.Mutex
			var seen []controllers.Status
			ctrl = controllers.NewConversationController("thread-1", transport,
				controllers.WithListener(func(s controllers.Snapshot) {
					mu.Lock()
					defer mu.Unlock()
					seen = append(seen, s.Status)
				}))
			transport.Enqueue(testutil.Reply("Hello"))

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusReady))

			mu.Lock()
			defer mu.Unlock()
			Expect(seen).To(Equal([]controllers.Status{
				controllers.StatusSubmitted,
				controllers.StatusStreaming,
				controllers.StatusReady,
			}))
		})

		It("rejects empty content", func() {
			Expect(ctrl.Send(ctx, "   ")).To(MatchError(controllers.ErrEmptyMessage))
			Expect(transport.CallCount()).To(Equal(0))
		})

		It("rejects a second send while one is in flight", func() {
			gate := make(chan struct{})
			transport.Enqueue(testutil.Held(testutil.Reply("Hello"), 0, gate))

			Expect(ctrl.Send(ctx, "first")).To(Succeed())
			Expect(ctrl.Send(ctx, "second")).To(MatchError(controllers.ErrExchangeInProgress))

			close(gate)
			Eventually(status).Should(Equal(controllers.StatusReady))
			Expect(ctrl.Snapshot().Conversation.Messages).To(HaveLen(2))
		})

		It("derives the title from the first user message only", func() {
			transport.Enqueue(testutil.Reply("ok"), testutil.Reply("ok"))

			Expect(ctrl.Send(ctx, "What is the capital of France?")).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusReady))
			Expect(ctrl.Snapshot().Conversation.Title).To(Equal("What is the capital of France?"))

			Expect(ctrl.Send(ctx, "And of Spain?")).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusReady))
			Expect(ctrl.Snapshot().Conversation.Title).To(Equal("What is the capital of France?"))
		})

		It("embeds attached files as markers", func() {
			transport.Enqueue(testutil.Reply("ok"))

			file := markup.FileRef{URL: "https://x/a.png", Name: "a.png"}
			Expect(ctrl.Send(ctx, "look", file)).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusReady))

			user := ctrl.Snapshot().Conversation.Messages[0]
			Expect(markup.Files(user.Text())).To(Equal([]markup.FileRef{file}))
		})

		It("sends the system prompt without storing it", func() {
			ctrl = controllers.NewConversationController("thread-1", transport,
				controllers.WithSystemPrompt("be brief"))
			transport.Enqueue(testutil.Reply("ok"))

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusReady))

			req := transport.Requests()[0]
			Expect(req.ThreadID).To(Equal("thread-1"))
			Expect(req.Messages).To(HaveLen(2))
			Expect(req.Messages[0].IsSystem()).To(BeTrue())
			Expect(ctrl.Snapshot().Conversation.Messages[0].IsUser()).To(BeTrue())
		})

		It("completes when the stream closes without a done event", func() {
			transport.Enqueue(testutil.Script{Events: []chat.Event{chat.TextDelta{Text: "cut"}}})

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusReady))
			Expect(assistantText(ctrl)).To(Equal("cut"))
		})

		It("folds reasoning and tool events into one assistant message", func() {
			transport.Enqueue(testutil.Script{Events: []chat.Event{
				chat.ReasoningDelta{Text: "thinking"},
				chat.ToolCall{ID: "t1", Name: "search", State: chat.ToolInputAvailable},
				chat.ToolResult{ID: "t1", Output: "found"},
				chat.TextDelta{Text: "answer"},
				chat.Done{},
			}})

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusReady))

			msg, ok := chat.GetLastAssistantMessage(ctrl.Snapshot().Conversation)
			Expect(ok).To(BeTrue())
			Expect(msg.Parts).To(HaveLen(3))
			Expect(msg.ToolParts()[0].State).To(Equal(chat.ToolOutputAvailable))
			Expect(msg.Segments(false)).To(HaveLen(2))
		})
	})

	Describe("Stop", func() {
		It("keeps partial content and ignores later events", func() {
			gate := make(chan struct{})
			transport.Enqueue(testutil.Held(testutil.Reply("Hello world"), 2, gate))

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Eventually(func() string { return assistantText(ctrl) }).Should(Equal("Hello worl"))

			ctrl.Stop()
			Expect(ctrl.Status()).To(Equal(controllers.StatusReady))

			close(gate)
			Consistently(func() string { return assistantText(ctrl) }, 100*time.Millisecond).Should(Equal("Hello worl"))
			Expect(ctrl.Status()).To(Equal(controllers.StatusReady))
		})

		It("closes unfinished tool calls as errors", func() {
			gate := make(chan struct{})
			transport.Enqueue(testutil.Held(testutil.Script{Events: []chat.Event{
				chat.ToolCall{ID: "t1", Name: "search"},
				chat.Done{},
			}}, 1, gate))

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Eventually(func() int {
				msg, _ := chat.GetLastAssistantMessage(ctrl.Snapshot().Conversation)
				return len(msg.ToolParts())
			}).Should(Equal(1))

			ctrl.Stop()

			msg, _ := chat.GetLastAssistantMessage(ctrl.Snapshot().Conversation)
			Expect(msg.ToolParts()[0].State).To(Equal(chat.ToolOutputError))
			Expect(chat.HasOpenTools(msg)).To(BeFalse())
			close(gate)
		})

		It("cancels the transport", func() {
			gate := make(chan struct{})
			transport.Enqueue(testutil.Held(testutil.Reply("Hello"), 0, gate))

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Eventually(transport.CallCount).Should(Equal(1))
			ctrl.Stop()

			Eventually(transport.Cancelled).Should(Equal(1))
		})

		It("never opens a request for an exchange it already stopped", func() {
			for i := 0; i < 20; i++ {
				transport.Enqueue(testutil.Reply("Hello"))
				Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
				ctrl.Stop()
				Expect(ctrl.Wait(ctx)).To(Succeed())
			}

			Expect(transport.StaleOpens()).To(BeZero())
			Expect(transport.CallCount()).To(BeNumerically("<=", 20))
			Expect(ctrl.Status()).To(Equal(controllers.StatusReady))
		})

		It("drops a reply that only received blank text", func() {
			gate := make(chan struct{})
			blank := testutil.Script{Events: []chat.Event{chat.TextDelta{Text: "\n\n"}, chat.Done{}}}
			transport.Enqueue(testutil.Held(blank, 1, gate))

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusStreaming))
			Expect(ctrl.Snapshot().Conversation.Messages).To(HaveLen(2))

			ctrl.Stop()
			Expect(ctrl.Snapshot().Conversation.Messages).To(HaveLen(1))
			Expect(ctrl.Snapshot().Conversation.Messages[0].IsUser()).To(BeTrue())
		})

		It("does nothing when idle", func() {
			ctrl.Stop()
			Expect(ctrl.Status()).To(Equal(controllers.StatusReady))
			Expect(ctrl.Snapshot().Conversation.Messages).To(BeEmpty())
		})

		It("allows a new send right away", func() {
			gate := make(chan struct{})
			transport.Enqueue(testutil.Held(testutil.Reply("Hello"), 0, gate), testutil.Reply("second"))

			Expect(ctrl.Send(ctx, "first")).To(Succeed())
			Eventually(transport.CallCount).Should(Equal(1))
			ctrl.Stop()
			Expect(ctrl.Send(ctx, "again")).To(Succeed())
			close(gate)

			Eventually(status).Should(Equal(controllers.StatusReady))
			Expect(assistantText(ctrl)).To(Equal("second"))
		})
	})

	Describe("errors", func() {
		It("records a stream failure and keeps partial content", func() {
			transport.Enqueue(testutil.Fail("rate limited", chat.TextDelta{Text: "partial"}))

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusError))

			snap := ctrl.Snapshot()
			Expect(snap.Err).NotTo(BeNil())
			Expect(snap.Err.Message).To(Equal("rate limited"))
			Expect(assistantText(ctrl)).To(Equal("partial"))
		})

		It("records a transport that fails to open", func() {
			transport.Enqueue(testutil.Script{Err: errors.New("connection refused")})

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusError))
			Expect(ctrl.Snapshot().Err.Message).To(ContainSubstring("connection refused"))
		})

		It("retries without duplicating the user message", func() {
			transport.Enqueue(testutil.Fail("rate limited", chat.TextDelta{Text: "partial"}), testutil.Reply("fresh"))

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusError))

			Expect(ctrl.Retry(ctx)).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusReady))

			msgs := ctrl.Snapshot().Conversation.Messages
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Text()).To(Equal("Hi"))
			Expect(msgs[1].Text()).To(Equal("fresh"))
			Expect(ctrl.Snapshot().Err).To(BeNil())

			retried := transport.Requests()[1]
			Expect(retried.Messages).To(HaveLen(1))
			Expect(retried.Messages[0].IsUser()).To(BeTrue())
		})

		It("refuses to retry outside the error state", func() {
			Expect(ctrl.Retry(ctx)).To(MatchError(controllers.ErrNotRetryable))
		})

		It("regenerates a completed reply in place", func() {
			transport.Enqueue(testutil.Reply("first"), testutil.Reply("second"))

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Expect(ctrl.Wait(ctx)).To(Succeed())

			Expect(ctrl.Regenerate(ctx)).To(Succeed())
			Expect(ctrl.Wait(ctx)).To(Succeed())

			msgs := ctrl.Snapshot().Conversation.Messages
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[1].Text()).To(Equal("second"))
			Expect(transport.Requests()[1].Messages).To(HaveLen(1))
		})

		It("regenerates a restored thread left without a reply", func() {
			conv := chat.AddMessage(chat.NewConversation("thread-1"), chat.NewUserMessage("Hi"))
			Expect(ctrl.Restore(conv)).To(Succeed())
			transport.Enqueue(testutil.Reply("answer"))

			Expect(ctrl.Regenerate(ctx)).To(Succeed())
			Expect(ctrl.Wait(ctx)).To(Succeed())
			Expect(ctrl.Snapshot().Conversation.Messages).To(HaveLen(2))
		})

		It("refuses to regenerate without a user message", func() {
			Expect(ctrl.Regenerate(ctx)).To(MatchError(controllers.ErrNoUserMessage))
		})

		It("dismisses an error back to ready", func() {
			transport.Enqueue(testutil.Fail("boom"))
			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusError))

			Expect(ctrl.DismissError()).To(Succeed())
			Expect(ctrl.Status()).To(Equal(controllers.StatusReady))
			Expect(ctrl.Snapshot().Err).To(BeNil())
			Expect(ctrl.DismissError()).To(MatchError(controllers.ErrNotRetryable))
		})

		It("clears the error on a new send", func() {
			transport.Enqueue(testutil.Fail("boom"), testutil.Reply("ok"))
			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Eventually(status).Should(Equal(controllers.StatusError))

			Expect(ctrl.Send(ctx, "again")).To(Succeed())
			Expect(ctrl.Snapshot().Err).To(BeNil())
			Eventually(status).Should(Equal(controllers.StatusReady))
		})
	})

	Describe("Restore and Wait", func() {
		It("replaces the thread when idle", func() {
			conv := chat.AddMessage(chat.NewConversation("thread-1"), chat.NewUserMessage("old"))
			Expect(ctrl.Restore(conv)).To(Succeed())
			Expect(ctrl.Snapshot().Conversation.Messages).To(HaveLen(1))
		})

		It("refuses while an exchange is in flight", func() {
			gate := make(chan struct{})
			transport.Enqueue(testutil.Held(testutil.Reply("Hello"), 0, gate))
			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())

			Expect(ctrl.Restore(chat.NewConversation("thread-1"))).To(MatchError(controllers.ErrExchangeInProgress))
			close(gate)
		})

		It("waits for the exchange to end", func() {
			transport.SetDelay(5 * time.Millisecond)
			transport.Enqueue(testutil.Reply("Hello world"))

			Expect(ctrl.Send(ctx, "Hi")).To(Succeed())
			Expect(ctrl.Wait(ctx)).To(Succeed())
			Expect(ctrl.Status()).To(Equal(controllers.StatusReady))
			Expect(assistantText(ctrl)).To(Equal("Hello world"))
		})
	})
})
