package controllers_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/killallgit/chatstream/pkg/chat"
	"github.com/killallgit/chatstream/pkg/controllers"
	"github.com/killallgit/chatstream/pkg/metrics"
	"github.com/killallgit/chatstream/pkg/packet"
	"github.com/killallgit/chatstream/pkg/process"
	"github.com/killallgit/chatstream/pkg/testutil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func nodeIDs(chain []chat.Message) []int {
	out := make([]int, len(chain))
	for i, m := range chain {
		out[i] = m.NodeID
	}
	return out
}

var _ = Describe("ChatController", func() {
	var (
		backend    *testutil.FakeBackend
		controller *controllers.ChatController
		sessionID  string
		ctx        context.Context
	)

	submit := func(text string) error {
		return controller.OnSubmit(ctx, controllers.SubmitParams{SessionID: sessionID, Message: text})
	}

	waitIdle := func() {
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		Expect(controller.Wait(wctx, sessionID)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		backend = testutil.NewFakeBackend()
		controller = controllers.NewChatController(backend, nil, controllers.Options{StopTimeout: 50 * time.Millisecond})
		sessionID = controller.NewSession()
	})

	Describe("OnSubmit", func() {
		It("should stream a response into the tree", func() {
			Expect(submit("Hello")).To(Succeed())
			waitIdle()

			chain := controller.LatestMessageChain(sessionID)
			Expect(nodeIDs(chain)).To(Equal([]int{chat.SystemNodeID, 100, 101}))
			Expect(chain[1].IsUser()).To(BeTrue())
			Expect(chain[1].Message).To(Equal("Hello"))
			Expect(chain[2].IsAssistant()).To(BeTrue())
			Expect(chain[2].Message).To(Equal(backend.DefaultText))
			Expect(chain[2].StopReason).To(Equal("finished"))
			Expect(chain[2].Packets).ToNot(BeEmpty())

			Expect(controller.ChatState(sessionID)).To(Equal(process.StateInput))
			Expect(controller.Packets(sessionID)).To(Equal(chain[2].Packets))

			reqs := backend.Requests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].ChatSessionID).To(Equal(sessionID))
			Expect(reqs[0].ParentMessageID).To(BeNil())
			Expect(reqs[0].Regenerate).To(BeFalse())
		})

		It("should attach follow-ups to the last answer", func() {
			Expect(submit("one")).To(Succeed())
			waitIdle()
			Expect(submit("two")).To(Succeed())
			waitIdle()

			Expect(nodeIDs(controller.LatestMessageChain(sessionID))).To(Equal([]int{chat.SystemNodeID, 100, 101, 102, 103}))
			Expect(*backend.Requests()[1].ParentMessageID).To(Equal(101))
		})

		It("should move from loading to streaming on the first content packet", func() {
			gate := make(chan struct{})
			backend.Script(testutil.Response{
				Packets:   testutil.TextResponse(0, "slow answer"),
				Gate:      gate,
				HoldAfter: 1,
			})
			Expect(submit("Hello")).To(Succeed())
			Eventually(func() process.State { return controller.ChatState(sessionID) }).Should(Equal(process.StateStreaming))

			close(gate)
			waitIdle()
			Expect(controller.ChatState(sessionID)).To(Equal(process.StateInput))
		})

		It("should stay loading until content arrives", func() {
			gate := make(chan struct{})
			backend.Script(testutil.Response{
				Packets: append([]packet.Packet{packet.At(0, 0, packet.TopLevelBranching{NumParallelBranches: 1})},
					testutil.TextResponse(0, "answer")...),
				Gate:      gate,
				HoldAfter: 1,
			})

			Expect(submit("Hello")).To(Succeed())
			Eventually(func() int { return len(controller.Packets(sessionID)) }).Should(Equal(1))
			Consistently(func() process.State { return controller.ChatState(sessionID) }, 50*time.Millisecond).
				Should(Equal(process.StateLoading))

			close(gate)
			waitIdle()
		})

		It("should reject a submission while busy without touching the tree", func() {
			gate := make(chan struct{})
			defer close(gate)
			backend.Script(testutil.Response{Packets: testutil.TextResponse(0, "held"), Gate: gate})

			Expect(submit("first")).To(Succeed())
			Eventually(backend.Requests).Should(HaveLen(1))
			before := controller.Tree(sessionID).Len()

			err := submit("second")
			Expect(err).To(MatchError(controllers.ErrNotReady))
			Expect(controller.Tree(sessionID).Len()).To(Equal(before))

			sess, ok := controller.Store().Get(sessionID)
			Expect(ok).To(BeTrue())
			Expect(sess.Notice()).ToNot(BeEmpty())
			Expect(backend.Requests()).To(HaveLen(1))
		})

		It("should reject an empty message", func() {
			Expect(submit("   ")).To(MatchError(controllers.ErrEmptyMessage))
			Expect(controller.Tree(sessionID).Len()).To(Equal(1))
			Expect(controller.ChatState(sessionID)).To(Equal(process.StateInput))
			Expect(backend.Requests()).To(BeEmpty())
		})

		It("should reject a missing session id", func() {
			err := controller.OnSubmit(ctx, controllers.SubmitParams{Message: "hi"})
			Expect(err).To(MatchError(controllers.ErrUnknownSession))
		})

		It("should forward tool and model selection", func() {
			tool := 7
			Expect(controller.OnSubmit(ctx, controllers.SubmitParams{
				SessionID:     sessionID,
				Message:       "draw a cat",
				Files:         []chat.FileDescriptor{{ID: "f1", Type: "image", Name: "cat.png"}},
				ForceToolID:   &tool,
				ModelOverride: &chat.LLMOverride{ModelVersion: "gpt-x"},
			})).To(Succeed())
			waitIdle()

			req := backend.Requests()[0]
			Expect(req.ForcedToolIDs).To(Equal([]int{7}))
			Expect(req.LLMOverride.ModelVersion).To(Equal("gpt-x"))
			Expect(req.FileDescriptors).To(HaveLen(1))

			chain := controller.LatestMessageChain(sessionID)
			Expect(chain[1].Files).To(HaveLen(1))
			Expect(chain[2].OverriddenModel).To(Equal("gpt-x"))
		})

		It("should keep optimistic ids when the backend sends none", func() {
			backend.Script(testutil.Response{Packets: testutil.TextResponse(0, "ok"), NoIDs: true})

			Expect(submit("Hello")).To(Succeed())
			waitIdle()

			chain := controller.LatestMessageChain(sessionID)
			Expect(chain).To(HaveLen(3))
			Expect(chain[1].NodeID).To(BeNumerically("<", chat.SystemNodeID))
			Expect(chain[2].Message).To(Equal("ok"))

			Expect(submit("again")).To(Succeed())
			waitIdle()
			Expect(*backend.Requests()[1].ParentMessageID).To(Equal(chat.AutoPlaceParentID))
		})
	})

	Describe("errors", func() {
		It("should turn an error packet into an error node", func() {
			backend.Script(testutil.Response{Packets: testutil.ErrorResponse("model overloaded")})

			Expect(submit("Hello")).To(Succeed())
			waitIdle()

			chain := controller.LatestMessageChain(sessionID)
			tip := chain[len(chain)-1]
			Expect(tip.IsError()).To(BeTrue())
			Expect(tip.Message).To(Equal("model overloaded"))
			Expect(tip.Retryable).To(BeTrue())
			Expect(controller.ChatState(sessionID)).To(Equal(process.StateInput))
		})

		It("should carry stream error details", func() {
			backend.Script(testutil.Response{StreamError: &chat.StreamError{
				Error:      "quota exceeded",
				StackTrace: "trace",
				ErrorCode:  "QUOTA",
			}})

			Expect(submit("Hello")).To(Succeed())
			waitIdle()

			tip := controller.LatestMessageChain(sessionID)[2]
			Expect(tip.IsError()).To(BeTrue())
			Expect(tip.ErrorCode).To(Equal("QUOTA"))
			Expect(tip.StackTrace).To(Equal("trace"))
			Expect(tip.Retryable).To(BeFalse())
		})

		It("should turn a rejected request into an error node", func() {
			backend.Script(testutil.Response{SendErr: errors.New("connection refused")})

			Expect(submit("Hello")).To(Succeed())
			waitIdle()

			chain := controller.LatestMessageChain(sessionID)
			Expect(chain).To(HaveLen(3))
			Expect(chain[2].IsError()).To(BeTrue())
			Expect(chain[2].Message).To(ContainSubstring("connection refused"))
		})

		It("should turn a broken stream into an error node", func() {
			backend.Script(testutil.Response{
				Packets:  testutil.ErrorResponse("x")[:2],
				CloseErr: errors.New("unexpected EOF"),
			})

			Expect(submit("Hello")).To(Succeed())
			waitIdle()

			tip := controller.LatestMessageChain(sessionID)[2]
			Expect(tip.IsError()).To(BeTrue())
			Expect(tip.Packets).To(HaveLen(2))
		})

		It("should prune the failed exchange on the next submission", func() {
			backend.Script(testutil.Response{Packets: testutil.ErrorResponse("boom")})
			Expect(submit("first try")).To(Succeed())
			waitIdle()

			tree := controller.Tree(sessionID)
			Expect(tree.Len()).To(Equal(3))

			Expect(submit("second try")).To(Succeed())
			waitIdle()

			tree = controller.Tree(sessionID)
			Expect(tree.Has(100)).To(BeFalse())
			Expect(tree.Has(101)).To(BeFalse())
			Expect(nodeIDs(chat.LatestMessageChain(tree))).To(Equal([]int{chat.SystemNodeID, 102, 103}))
			Expect(tree.Len()).To(Equal(3))
			Expect(backend.Requests()[1].ParentMessageID).To(BeNil())
		})

		It("should not prune when the last exchange succeeded", func() {
			Expect(submit("one")).To(Succeed())
			waitIdle()
			Expect(submit("two")).To(Succeed())
			waitIdle()

			Expect(controller.Tree(sessionID).Len()).To(Equal(5))
		})
	})

	Describe("StopGenerating", func() {
		It("should return to input without waiting for the backend", func() {
			gate := make(chan struct{})
			defer close(gate)
			backend.SetStopBehavior(time.Hour, nil)
			backend.Script(testutil.Response{Packets: testutil.TextResponse(0, "a long answer"), Gate: gate, HoldAfter: 2})

			Expect(submit("Hello")).To(Succeed())
			Eventually(func() process.State { return controller.ChatState(sessionID) }).Should(Equal(process.StateStreaming))

			Expect(controller.StopGenerating(sessionID)).To(Succeed())
			Expect(controller.ChatState(sessionID)).To(Equal(process.StateInput))
			Expect(controller.RegenerationState(sessionID)).To(BeNil())

			Eventually(backend.StopCalls).Should(Equal([]string{sessionID}))

			tip := controller.LatestMessageChain(sessionID)[2]
			Expect(tip.IsAssistant()).To(BeTrue())
			Expect(tip.Message).To(Equal("a "))

			Consistently(func() process.State { return controller.ChatState(sessionID) }, 50*time.Millisecond).
				Should(Equal(process.StateInput))
		})

		It("should clear an unfinished tool call", func() {
			gate := make(chan struct{})
			defer close(gate)
			backend.Script(testutil.Response{Packets: testutil.SearchThenAnswer("weather", "Sunny"), Gate: gate, HoldAfter: 2})

			Expect(submit("weather?")).To(Succeed())
			Eventually(func() bool {
				chain := controller.LatestMessageChain(sessionID)
				return len(chain) == 3 && chain[2].HasToolCall()
			}).Should(BeTrue())

			Expect(controller.StopGenerating(sessionID)).To(Succeed())
			Expect(controller.LatestMessageChain(sessionID)[2].HasToolCall()).To(BeFalse())
		})

		It("should allow a new submission right after stopping", func() {
			gate := make(chan struct{})
			defer close(gate)
			backend.SetStopBehavior(time.Hour, nil)
			backend.Script(testutil.Response{Packets: testutil.TextResponse(0, "held"), Gate: gate})

			Expect(submit("first")).To(Succeed())
			Eventually(backend.Requests).Should(HaveLen(1))
			Expect(controller.StopGenerating(sessionID)).To(Succeed())
			Expect(submit("second")).To(Succeed())
			waitIdle()

			chain := controller.LatestMessageChain(sessionID)
			Expect(chain[len(chain)-1].Message).To(Equal(backend.DefaultText))
		})

		It("should do nothing when idle", func() {
			Expect(controller.StopGenerating(sessionID)).To(Succeed())
			Expect(backend.StopCalls()).To(BeEmpty())
		})

		It("should fail for an unknown session", func() {
			Expect(controller.StopGenerating("nope")).To(MatchError(controllers.ErrUnknownSession))
		})
	})

	Describe("regeneration and edits", func() {
		BeforeEach(func() {
			Expect(submit("What is Go?")).To(Succeed())
			waitIdle()
		})

		It("should regenerate an answer as a sibling", func() {
			gate := make(chan struct{})
			backend.Script(testutil.Response{Packets: testutil.TextResponse(0, "A language."), Gate: gate})

			Expect(controller.OnSubmit(ctx, controllers.SubmitParams{
				SessionID:  sessionID,
				Regenerate: &controllers.RegenerateTarget{MessageID: 101},
			})).To(Succeed())

			Expect(controller.RegenerationState(sessionID)).To(Equal(&controllers.RegenerationState{MessageID: 101, ParentID: 100}))

			close(gate)
			waitIdle()
			Expect(controller.RegenerationState(sessionID)).To(BeNil())

			req := backend.Requests()[1]
			Expect(req.Regenerate).To(BeTrue())
			Expect(*req.ParentMessageID).To(Equal(100))
			Expect(req.Message).To(Equal("What is Go?"))

			tree := controller.Tree(sessionID)
			Expect(nodeIDs(chat.LatestMessageChain(tree))).To(Equal([]int{chat.SystemNodeID, 100, 103}))
			Expect(tree.Siblings(103)).To(Equal([]int{101, 103}))
		})

		It("should edit a question as a new branch", func() {
			Expect(controller.OnSubmit(ctx, controllers.SubmitParams{
				SessionID:    sessionID,
				Message:      "What is Rust?",
				EditTargetID: chat.IntPtr(100),
			})).To(Succeed())
			waitIdle()

			req := backend.Requests()[1]
			Expect(req.ParentMessageID).To(BeNil())
			Expect(req.Message).To(Equal("What is Rust?"))

			tree := controller.Tree(sessionID)
			chain := chat.LatestMessageChain(tree)
			Expect(nodeIDs(chain)).To(Equal([]int{chat.SystemNodeID, 102, 103}))
			Expect(chain[1].Message).To(Equal("What is Rust?"))
			Expect(tree.Siblings(102)).To(Equal([]int{100, 102}))

			Expect(controller.SwitchBranch(sessionID, chat.SystemNodeID, 100)).To(Succeed())
			Expect(nodeIDs(controller.LatestMessageChain(sessionID))).To(Equal([]int{chat.SystemNodeID, 100, 101}))
		})

		It("should reject targets that cannot be resubmitted", func() {
			err := controller.OnSubmit(ctx, controllers.SubmitParams{
				SessionID:  sessionID,
				Regenerate: &controllers.RegenerateTarget{MessageID: 100},
			})
			Expect(errors.Is(err, controllers.ErrUnknownTarget)).To(BeTrue())

			err = controller.OnSubmit(ctx, controllers.SubmitParams{
				SessionID:    sessionID,
				Message:      "x",
				EditTargetID: chat.IntPtr(999),
			})
			Expect(errors.Is(err, controllers.ErrUnknownTarget)).To(BeTrue())
			Expect(controller.Tree(sessionID).Len()).To(Equal(3))
		})
	})

	Describe("auto-naming", func() {
		It("should name the session once after the first exchange", func() {
			backend.SetRenameBehavior("Go questions", 0, nil)

			Expect(submit("one")).To(Succeed())
			waitIdle()
			sess, _ := controller.Store().Get(sessionID)
			Eventually(sess.Name).Should(Equal("Go questions"))

			Expect(submit("two")).To(Succeed())
			waitIdle()
			Consistently(backend.RenameCalls, 50*time.Millisecond).Should(HaveLen(1))
		})

		It("should not affect the chat when naming fails", func() {
			backend.SetRenameBehavior("", 0, errors.New("naming unavailable"))

			Expect(submit("one")).To(Succeed())
			waitIdle()
			Eventually(backend.RenameCalls).Should(HaveLen(1))

			sess, _ := controller.Store().Get(sessionID)
			Expect(sess.Name()).To(BeEmpty())
			Expect(controller.ChatState(sessionID)).To(Equal(process.StateInput))
			Expect(submit("two")).To(Succeed())
			waitIdle()
		})

		It("should not name after a failed first exchange", func() {
			backend.Script(testutil.Response{Packets: testutil.ErrorResponse("boom")})

			Expect(submit("one")).To(Succeed())
			waitIdle()
			Consistently(backend.RenameCalls, 50*time.Millisecond).Should(BeEmpty())
		})
	})

	Describe("sessions", func() {
		It("should stream several sessions independently", func() {
			gate := make(chan struct{})
			backend.Script(testutil.Response{Packets: testutil.TextResponse(0, "held"), Gate: gate})

			other := controller.NewSession()
			Expect(submit("first")).To(Succeed())
			Eventually(backend.Requests).Should(HaveLen(1))
			Expect(controller.OnSubmit(ctx, controllers.SubmitParams{SessionID: other, Message: "second"})).To(Succeed())

			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			Expect(controller.Wait(wctx, other)).To(Succeed())
			Expect(controller.ChatState(sessionID)).ToNot(Equal(process.StateInput))

			close(gate)
			waitIdle()
			Expect(controller.LatestMessageChain(other)).To(HaveLen(3))
		})

		It("should cancel the response and run teardown hooks on close", func() {
			gate := make(chan struct{})
			defer close(gate)
			backend.Script(testutil.Response{Packets: testutil.TextResponse(0, "held"), Gate: gate})

			sess, _ := controller.Store().Get(sessionID)
			closed := make(chan struct{})
			sess.OnTeardown(func() { close(closed) })

			Expect(submit("Hello")).To(Succeed())
			Expect(controller.CloseSession(sessionID)).To(BeTrue())
			Eventually(closed).Should(BeClosed())
			Expect(sess.State()).To(Equal(process.StateInput))
			Expect(controller.Store().IDs()).To(BeEmpty())
			Expect(controller.CloseSession(sessionID)).To(BeFalse())
		})

		It("should reject submissions while uploading", func() {
			gate := make(chan struct{})
			backend.Script(testutil.Response{Packets: testutil.TextResponse(0, "held"), Gate: gate})

			Expect(controller.BeginUpload(sessionID)).To(Succeed())
			Expect(controller.ChatState(sessionID)).To(Equal(process.StateUploading))
			Expect(submit("Hello")).To(MatchError(controllers.ErrNotReady))

			controller.EndUpload(sessionID)
			Expect(submit("Hello")).To(Succeed())
			Expect(controller.BeginUpload(sessionID)).To(MatchError(controllers.ErrNotReady))
			close(gate)
			waitIdle()
		})

		It("should notify subscribers of changes", func() {
			var mu sync.Mutex
			seen := 0
			unsubscribe := controller.Subscribe(func(id string) {
				defer GinkgoRecover()
				Expect(id).To(Equal(sessionID))
				mu.Lock()
				seen++
				mu.Unlock()
			})

			Expect(submit("Hello")).To(Succeed())
			waitIdle()
			unsubscribe()

			mu.Lock()
			count := seen
			mu.Unlock()
			Expect(count).To(BeNumerically(">", 2))
		})

		It("should report defaults for unknown sessions", func() {
			Expect(controller.ChatState("nope")).To(Equal(process.StateInput))
			Expect(controller.LatestMessageChain("nope")).To(BeNil())
			Expect(controller.Packets("nope")).To(BeNil())
			Expect(controller.Tree("nope").Len()).To(Equal(1))
			Expect(controller.Wait(ctx, "nope")).To(MatchError(controllers.ErrUnknownSession))
		})
	})

	Describe("metrics", func() {
		It("should record submissions and packets", func() {
			reg := prometheus.NewRegistry()
			controller = controllers.NewChatController(backend, nil, controllers.Options{Metrics: metrics.New(reg)})
			sessionID = controller.NewSession()

			Expect(submit("Hello")).To(Succeed())
			waitIdle()
			Expect(submit("")).To(HaveOccurred())

			count, err := promtest.GatherAndCount(reg, "chatstream_submissions_total")
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(2))

			count, err = promtest.GatherAndCount(reg, "chatstream_packets_total")
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(2))
		})
	})
})
