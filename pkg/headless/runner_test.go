package headless_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/killallgit/chatstream/pkg/chat"
	"github.com/killallgit/chatstream/pkg/controllers"
	"github.com/killallgit/chatstream/pkg/headless"
	"github.com/killallgit/chatstream/pkg/packet"
	"github.com/killallgit/chatstream/pkg/process"
	"github.com/killallgit/chatstream/pkg/reveal"
	"github.com/killallgit/chatstream/pkg/testutil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// syncBuffer is a bytes.Buffer safe for the runner and the test to share
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func recording(lines ...any) string {
	var b strings.Builder
	for _, l := range lines {
		data, err := json.Marshal(l)
		Expect(err).ToNot(HaveOccurred())
		b.Write(data)
		b.WriteString("\n")
	}
	return b.String()
}

func packetLines(packets []packet.Packet) []any {
	out := make([]any, len(packets))
	for i, p := range packets {
		out[i] = p
	}
	return out
}

var _ = Describe("Runner", func() {
	var (
		backend    *testutil.FakeBackend
		controller *controllers.ChatController
		out        *syncBuffer
		errOut     *syncBuffer
		runner     *headless.Runner
		sessionID  string
		opts       headless.Options
	)

	BeforeEach(func() {
		backend = testutil.NewFakeBackend()
		controller = controllers.NewChatController(backend, nil, controllers.Options{StopTimeout: 50 * time.Millisecond})
		sessionID = controller.NewSession()
		out = &syncBuffer{}
		errOut = &syncBuffer{}
		opts = headless.Options{Width: 80}
		runner = headless.NewRunner(controller, out, errOut, opts)
	})

	run := func(text string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return runner.Run(ctx, controllers.SubmitParams{SessionID: sessionID, Message: text})
	}

	It("should print the streamed answer", func() {
		Expect(run("Hello")).To(Succeed())

		Expect(out.String()).To(Equal(backend.DefaultText + "\n"))
		Expect(errOut.String()).To(BeEmpty())
		Expect(controller.LatestMessageChain(sessionID)).To(HaveLen(3))
	})

	It("should print tool progress before the answer", func() {
		backend.Script(testutil.Response{Packets: testutil.SearchThenAnswer("weather today", "Sunny and warm.")})

		Expect(run("weather?")).To(Succeed())

		text := out.String()
		Expect(text).To(ContainSubstring("Searched the web, found 2 documents"))
		Expect(text).To(ContainSubstring("Sunny and warm."))
		Expect(strings.Index(text, "Searched")).To(BeNumerically("<", strings.Index(text, "Sunny")))
	})

	It("should print parallel branches before the answer", func() {
		backend.Script(testutil.Response{Packets: testutil.ParallelImages(0)})

		Expect(run("draw")).To(Succeed())

		text := out.String()
		Expect(strings.Count(text, "Generated 1 image")).To(Equal(2))
		Expect(text).To(ContainSubstring("https://example.com/a.png"))
		Expect(text).To(ContainSubstring("https://example.com/b.png"))
		Expect(text).To(HaveSuffix("Here are both images.\n"))
	})

	It("should animate when enabled", func() {
		runner = headless.NewRunner(controller, out, errOut, headless.Options{
			Reveal: reveal.Options{Animate: true, Tick: time.Millisecond, MinDisplay: 5 * time.Millisecond},
		})

		Expect(run("Hello")).To(Succeed())
		Expect(out.String()).To(Equal(backend.DefaultText + "\n"))
	})

	It("should report a failed response", func() {
		backend.Script(testutil.Response{Packets: testutil.ErrorResponse("model overloaded")})

		err := run("Hello")
		Expect(err).To(MatchError(headless.ErrResponseFailed))
		Expect(out.String()).To(ContainSubstring("Partial"))
		Expect(errOut.String()).To(ContainSubstring("Error: model overloaded"))
	})

	It("should report a rejected submission", func() {
		err := run("  ")
		Expect(err).To(MatchError(controllers.ErrEmptyMessage))
		Expect(errOut.String()).To(ContainSubstring("message cannot be empty"))
	})

	It("should stop generating when cancelled", func() {
		gate := make(chan struct{})
		defer close(gate)
		backend.SetStopBehavior(time.Hour, nil)
		backend.Script(testutil.Response{Packets: testutil.TextResponse(0, "never finished"), Gate: gate, HoldAfter: 2})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- runner.Run(ctx, controllers.SubmitParams{SessionID: sessionID, Message: "Hello"})
		}()

		Eventually(out.String).Should(Equal("never "))
		cancel()

		Eventually(done).Should(Receive(MatchError(context.Canceled)))
		Expect(out.String()).To(Equal("never \n"))
		Expect(controller.ChatState(sessionID)).To(Equal(process.StateInput))
		Eventually(backend.StopCalls).Should(ContainElement(sessionID))
	})

	It("should end when the session is closed", func() {
		gate := make(chan struct{})
		defer close(gate)
		backend.Script(testutil.Response{Packets: testutil.TextResponse(0, "held"), Gate: gate})

		done := make(chan error, 1)
		go func() {
			done <- runner.Run(context.Background(), controllers.SubmitParams{SessionID: sessionID, Message: "Hello"})
		}()

		Eventually(backend.Requests).Should(HaveLen(1))
		controller.CloseSession(sessionID)
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
	})

	Describe("Replay", func() {
		replay := func(input string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return runner.Replay(ctx, strings.NewReader(input))
		}

		It("should show a recorded response", func() {
			input := recording(append([]any{
				chat.MessageIDs{UserMessageID: chat.IntPtr(1), ReservedAssistantMessageID: 2},
			}, packetLines(testutil.SearchThenAnswer("go", "Go is a language."))...)...)

			Expect(replay(input)).To(Succeed())
			Expect(out.String()).To(ContainSubstring("Searched the web"))
			Expect(out.String()).To(HaveSuffix("Go is a language.\n"))
		})

		It("should skip lines it cannot decode", func() {
			input := "not json\n" + recording(packetLines(testutil.TextResponse(0, "still fine"))...)

			Expect(replay(input)).To(Succeed())
			Expect(out.String()).To(Equal("still fine\n"))
		})

		It("should report recorded stream errors", func() {
			input := recording(append(packetLines(testutil.TextResponse(0, "half")[:2]),
				chat.StreamError{Error: "backend crashed"})...)

			Expect(replay(input)).To(MatchError(headless.ErrResponseFailed))
			Expect(out.String()).To(Equal("half\n"))
			Expect(errOut.String()).To(ContainSubstring("backend crashed"))
		})

		It("should report recorded error packets", func() {
			input := recording(packetLines(testutil.ErrorResponse("boom"))...)

			Expect(replay(input)).To(MatchError(headless.ErrResponseFailed))
			Expect(errOut.String()).To(ContainSubstring("Error: boom"))
		})
	})
})
