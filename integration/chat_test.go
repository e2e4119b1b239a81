package integration

import (
	"context"
	"path/filepath"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/store"
	"github.com/killallgit/threadline/pkg/threads"
	"github.com/killallgit/threadline/pkg/transport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"
)

const replyTimeout = 2 * time.Minute

var _ = Describe("Chat against a live model", func() {
	var (
		ctx     context.Context
		cfg     *config.Config
		backing threads.Store
		manager *threads.Manager
	)

	BeforeEach(func() {
		env := viper.New()
		env.AutomaticEnv()
		if env.GetString("INTEGRATION_TEST") != "true" {
			Skip("Integration tests skipped. Set INTEGRATION_TEST=true to run.")
		}

		var err error
		cfg, err = config.LoadFrom(viper.New(), "")
		Expect(err).NotTo(HaveOccurred())
		cfg.Store = config.StoreConfig{
			Backend: config.StoreSQLite,
			Path:    filepath.Join(GinkgoT().TempDir(), "threads.db"),
		}

		lc, err := transport.New(cfg)
		if err != nil {
			Skip("Failed to create model transport: " + err.Error())
		}

		backing, err = store.Open(cfg.Store)
		Expect(err).NotTo(HaveOccurred())

		ctx = context.Background()
		manager = threads.NewManager(backing, lc)
		Expect(manager.Load(ctx)).To(Succeed())
	})

	AfterEach(func() {
		if manager != nil {
			Expect(manager.Close()).To(Succeed())
			Expect(store.Close(backing)).To(Succeed())
		}
	})

	It("streams a reply and saves the thread", func() {
		id, err := manager.Send(ctx, "Reply with the single word: pong")
		Expect(err).NotTo(HaveOccurred())

		waitCtx, cancel := context.WithTimeout(ctx, replyTimeout)
		defer cancel()
		Expect(manager.Wait(waitCtx, id)).To(Succeed())

		snap, err := manager.Thread(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Status).To(Equal(controllers.StatusReady), "error: %v", snap.Err)

		reply, ok := chat.GetLastAssistantMessage(snap.Conversation)
		Expect(ok).To(BeTrue())
		Expect(reply.Text()).NotTo(BeEmpty())

		Expect(manager.Flush(ctx)).To(Succeed())
		stored, err := backing.GetThread(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Messages).To(HaveLen(2))
	})

	It("keeps a partial reply when stopped", func() {
		id, err := manager.Send(ctx, "Count from 1 to 300, one number per line.")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() controllers.Status {
			s, _ := manager.Status(id)
			return s
		}, replyTimeout, 100*time.Millisecond).Should(Equal(controllers.StatusStreaming))

		Expect(manager.Stop(id)).To(Succeed())
		status, err := manager.Status(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(controllers.StatusReady))

		snap, err := manager.Thread(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Conversation.Messages).To(HaveLen(2))
		stopped := snap.Conversation.Messages[1]

		Consistently(func() chat.Message {
			s, _ := manager.Thread(ctx, id)
			return s.Conversation.Messages[1]
		}, time.Second, 100*time.Millisecond).Should(Equal(stopped))
	})
})
