package transport_test

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/testutil"
	"github.com/killallgit/threadline/pkg/transport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tmc/langchaingo/llms"
)

func collect(ch <-chan chat.Event) []chat.Event {
	var events []chat.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func textOf(events []chat.Event) (reasoning, text string) {
	var r, t strings.Builder
	for _, ev := range events {
		switch e := ev.(type) {
		case chat.ReasoningDelta:
			r.WriteString(e.Text)
		case chat.TextDelta:
			t.WriteString(e.Text)
		}
	}
	return r.String(), t.String()
}

func request(texts ...string) controllers.Request {
	msgs := make([]chat.Message, 0, len(texts))
	for _, text := range texts {
		msgs = append(msgs, chat.NewUserMessage(text))
	}
	return controllers.Request{ThreadID: "t", Messages: msgs}
}

// bufferedModel answers in one piece without using the streaming func
type bufferedModel struct {
	content   string
	reasoning string
}

func (m bufferedModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.content, ReasoningContent: m.reasoning}}}, nil
}

// kinds lists the segment kinds a reply built from events would render as
func kinds(events []chat.Event) []chat.SegmentKind {
	msg := chat.NewAssistantMessage()
	for _, ev := range events {
		msg, _ = chat.ApplyEvent(msg, ev)
	}
	var out []chat.SegmentKind
	for _, seg := range msg.Segments(false) {
		out = append(out, seg.Kind)
	}
	return out
}

func (m bufferedModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

var _ = Describe("LangChainTransport", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("streams text and finishes with done", func() {
		llm := testutil.NewFakeLLM(testutil.TextTurn("Hel", "lo ", "there"))
		t := transport.NewLangChainTransport(llm)

		ch, err := t.Stream(ctx, request("hi"))
		Expect(err).NotTo(HaveOccurred())
		events := collect(ch)

		_, text := textOf(events)
		Expect(text).To(Equal("Hello there"))
		Expect(events[len(events)-1]).To(Equal(chat.Done{}))

		sent := llm.GetMessages(0)
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Role).To(Equal(llms.ChatMessageTypeHuman))
	})

	It("splits think blocks into reasoning", func() {
		llm := testutil.NewFakeLLM(testutil.TextTurn("<think>let me ", "see</think>", "Paris"))
		events := collect(must(transport.NewLangChainTransport(llm).Stream(ctx, request("capital?"))))

		reasoning, text := textOf(events)
		Expect(reasoning).To(Equal("let me see"))
		Expect(text).To(Equal("Paris"))
	})

	It("falls back to the final content when nothing was streamed", func() {
		t := transport.NewLangChainTransport(bufferedModel{content: "<think>r</think>answer"})
		events := collect(must(t.Stream(ctx, request("q"))))

		reasoning, text := textOf(events)
		Expect(reasoning).To(Equal("r"))
		Expect(text).To(Equal("answer"))
		Expect(events[len(events)-1]).To(Equal(chat.Done{}))
	})

	Describe("separate reasoning content", func() {
		It("is sent before a buffered answer", func() {
			t := transport.NewLangChainTransport(bufferedModel{content: "answer", reasoning: "plan"})
			events := collect(must(t.Stream(ctx, request("q"))))

			reasoning, text := textOf(events)
			Expect(reasoning).To(Equal("plan"))
			Expect(text).To(Equal("answer"))
			Expect(kinds(events)).To(Equal([]chat.SegmentKind{chat.SegmentThinking, chat.SegmentText}))
		})

		It("is not repeated when think blocks were streamed", func() {
			turn := testutil.TextTurn("<think>r</think>", "x")
			turn.Reasoning = "r"
			events := collect(must(transport.NewLangChainTransport(testutil.NewFakeLLM(turn)).Stream(ctx, request("q"))))

			reasoning, _ := textOf(events)
			Expect(reasoning).To(Equal("r"))
		})

		It("never lands after streamed answer text", func() {
			turn := testutil.TextTurn("ans", "wer")
			turn.Reasoning = "late"
			events := collect(must(transport.NewLangChainTransport(testutil.NewFakeLLM(turn)).Stream(ctx, request("q"))))

			reasoning, text := textOf(events)
			Expect(reasoning).To(BeEmpty())
			Expect(text).To(Equal("answer"))
			Expect(kinds(events)).To(Equal([]chat.SegmentKind{chat.SegmentText}))
		})
	})

	It("reports model failures as a stream error after partial content", func() {
		llm := testutil.NewFakeLLM(testutil.LLMTurn{Chunks: []string{"part"}, Err: errors.New("model overloaded")})
		events := collect(must(transport.NewLangChainTransport(llm).Stream(ctx, request("hi"))))

		_, text := textOf(events)
		Expect(text).To(Equal("part"))
		Expect(events[len(events)-1]).To(Equal(chat.StreamError{Message: "model overloaded"}))
	})

	It("runs tools and feeds results back to the model", func() {
		echo := testutil.NewFakeTool("echo", func(input string) (string, error) {
			return "echoed " + input, nil
		})
		llm := testutil.NewFakeLLM(
			testutil.ToolTurn(testutil.NewToolCall("c1", "echo", `{"input":"ping"}`)),
			testutil.TextTurn("all done"),
		)
		t := transport.NewLangChainTransport(llm, transport.WithTools(echo))

		events := collect(must(t.Stream(ctx, request("use the tool"))))

		Expect(events).To(ContainElement(chat.ToolCall{
			ID: "c1", Name: "echo", State: chat.ToolInputAvailable, Input: map[string]any{"input": "ping"},
		}))
		Expect(events).To(ContainElement(chat.ToolResult{ID: "c1", Output: "echoed ping"}))
		_, text := textOf(events)
		Expect(text).To(Equal("all done"))
		Expect(events[len(events)-1]).To(Equal(chat.Done{}))

		Expect(echo.Inputs()).To(Equal([]string{"ping"}))
		Expect(llm.GetCallCount()).To(Equal(2))

		second := llm.GetMessages(1)
		Expect(second).To(HaveLen(3))
		Expect(second[1].Role).To(Equal(llms.ChatMessageTypeAI))
		Expect(second[2].Role).To(Equal(llms.ChatMessageTypeTool))
		Expect(second[2].Parts[0]).To(Equal(llms.ToolCallResponse{ToolCallID: "c1", Name: "echo", Content: "echoed ping"}))

		Expect(llm.GetLastOptions().Tools).To(HaveLen(1))
	})

	It("reports unknown and failing tools as tool errors", func() {
		broken := testutil.NewFakeTool("broken", func(string) (string, error) {
			return "", errors.New("exploded")
		})
		llm := testutil.NewFakeLLM(
			testutil.ToolTurn(
				testutil.NewToolCall("c1", "missing", `{}`),
				testutil.NewToolCall("c2", "broken", `{}`),
			),
			testutil.TextTurn("sorry"),
		)
		t := transport.NewLangChainTransport(llm, transport.WithTools(broken))

		events := collect(must(t.Stream(ctx, request("go"))))
		Expect(events).To(ContainElement(chat.ToolResult{ID: "c1", Output: "tool not found: missing", IsError: true}))
		Expect(events).To(ContainElement(chat.ToolResult{ID: "c2", Output: "exploded", IsError: true}))
		Expect(events[len(events)-1]).To(Equal(chat.Done{}))
	})

	It("stops calling tools at the step limit", func() {
		llm := testutil.NewFakeLLM(testutil.ToolTurn(testutil.NewToolCall("c1", "echo", `not json`)))
		echo := testutil.NewFakeTool("echo", func(string) (string, error) { return "x", nil })
		t := transport.NewLangChainTransport(llm, transport.WithTools(echo), transport.WithMaxToolSteps(0))

		events := collect(must(t.Stream(ctx, request("go"))))
		Expect(events).To(ContainElement(chat.ToolCall{
			ID: "c1", Name: "echo", State: chat.ToolInputAvailable, Input: map[string]any{"raw": "not json"},
		}))
		Expect(events).To(ContainElement(chat.ToolResult{ID: "c1", Output: "tool step limit reached", IsError: true}))
		Expect(echo.Inputs()).To(BeEmpty())
		Expect(events[len(events)-1]).To(Equal(chat.Done{}))
	})

	It("ends quietly when cancelled", func() {
		llm := testutil.NewFakeLLM(testutil.LLMTurn{Chunks: []string{"start"}, Block: true})
		cctx, cancel := context.WithCancel(ctx)
		ch := must(transport.NewLangChainTransport(llm).Stream(cctx, request("hi")))

		Eventually(ch).Should(Receive(Equal(chat.TextDelta{Text: "start"})))
		cancel()

		Eventually(ch, time.Second).Should(BeClosed())
	})

	It("drives a controller end to end", func() {
		llm := testutil.NewFakeLLM(testutil.TextTurn("<think>hmm</think>", "Forty", "-two"))
		ctrl := controllers.NewConversationController("t", transport.NewLangChainTransport(llm))

		Expect(ctrl.Send(ctx, "meaning of life?")).To(Succeed())
		Expect(ctrl.Wait(ctx)).To(Succeed())

		msg, ok := chat.GetLastAssistantMessage(ctrl.Snapshot().Conversation)
		Expect(ok).To(BeTrue())
		Expect(msg.Reasoning()).To(Equal("hmm"))
		Expect(msg.Text()).To(Equal("Forty-two"))
		Expect(ctrl.Status()).To(Equal(controllers.StatusReady))
	})
})

var _ = Describe("NewModel", func() {
	It("builds an ollama client", func() {
		cfg := &config.Config{Provider: config.ProviderOllama}
		cfg.Ollama.URL = "http://localhost:11434"
		cfg.Ollama.Model = "qwen3:latest"
		_, err := transport.NewModel(cfg)
		Expect(err).NotTo(HaveOccurred())
	})

	It("builds an openai client", func() {
		cfg := &config.Config{Provider: config.ProviderOpenAI}
		cfg.OpenAI.APIKey = "test-key"
		cfg.OpenAI.Model = "gpt-4o-mini"
		_, err := transport.NewModel(cfg)
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects unknown providers", func() {
		_, err := transport.NewModel(&config.Config{Provider: "carrier-pigeon"})
		Expect(err).To(MatchError(ContainSubstring("unknown provider")))
	})

	It("rejects unknown tools", func() {
		cfg := &config.Config{Provider: config.ProviderOllama}
		cfg.Ollama.URL = "http://localhost:11434"
		cfg.Chat.Tools = []string{"nope"}
		_, err := transport.New(cfg)
		Expect(err).To(MatchError(ContainSubstring("unknown tool")))
	})
})

var _ = Describe("NewEmbedder", func() {
	It("builds an embedder on the configured provider", func() {
		cfg := &config.Config{Provider: config.ProviderOllama}
		cfg.Ollama.URL = "http://localhost:11434"
		cfg.Search.EmbeddingModel = "nomic-embed-text"
		embedder, err := transport.NewEmbedder(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(embedder).NotTo(BeNil())
	})

	It("rejects unknown providers", func() {
		_, err := transport.NewEmbedder(&config.Config{Provider: "carrier-pigeon"})
		Expect(err).To(MatchError(ContainSubstring("unknown provider")))
	})
})

func must(ch <-chan chat.Event, err error) <-chan chat.Event {
	Expect(err).NotTo(HaveOccurred())
	return ch
}
