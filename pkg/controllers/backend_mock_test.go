package controllers_test

import (
	"context"
	"errors"
	"time"

	"github.com/killallgit/chatstream/pkg/chat"
	"github.com/killallgit/chatstream/pkg/controllers"
	"github.com/killallgit/chatstream/pkg/packet"
	"github.com/killallgit/chatstream/pkg/process"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) SendMessage(ctx context.Context, req chat.SendMessageRequest) (*chat.EventStream, error) {
	args := m.Called(ctx, req)
	if q := args.Get(0); q != nil {
		return q.(*chat.EventStream), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) StopChatSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockBackend) RenameChatSession(ctx context.Context, sessionID string) (string, error) {
	args := m.Called(ctx, sessionID)
	return args.String(0), args.Error(1)
}

func hasDeadline(ctx context.Context) bool {
	_, ok := ctx.Deadline()
	return ok
}

var _ = Describe("ChatController with a mocked backend", func() {
	var (
		backend    *MockBackend
		controller *controllers.ChatController
		events     *chat.EventStream
		sessionID  string
	)

	push := func(p packet.Packet) {
		events.Push(chat.Event{Packet: &p})
	}

	BeforeEach(func() {
		backend = &MockBackend{}
		events = chat.NewEventStream()
		controller = controllers.NewChatController(backend, nil, controllers.Options{
			StopTimeout:   time.Second,
			RenameTimeout: time.Second,
			PersonaID:     4,
		})
		sessionID = controller.NewSession()
	})

	It("should send the persona and stop with a bounded call", func() {
		backend.On("SendMessage", mock.Anything, mock.MatchedBy(func(req chat.SendMessageRequest) bool {
			return req.ChatSessionID == sessionID && req.AlternatePersona != nil && *req.AlternatePersona == 4
		})).Return(events, nil).Once()
		stopped := make(chan struct{})
		backend.On("StopChatSession", mock.MatchedBy(hasDeadline), sessionID).
			Return(errors.New("already stopped")).
			Run(func(mock.Arguments) { close(stopped) }).
			Once()

		Expect(controller.OnSubmit(context.Background(), controllers.SubmitParams{SessionID: sessionID, Message: "hi"})).To(Succeed())
		events.Push(chat.Event{IDs: &chat.MessageIDs{UserMessageID: chat.IntPtr(7), ReservedAssistantMessageID: 8}})
		push(packet.At(0, 0, packet.MessageStart{}))
		push(packet.At(0, 0, packet.MessageDelta{Content: "Hel"}))

		Eventually(func() process.State { return controller.ChatState(sessionID) }).Should(Equal(process.StateStreaming))
		Expect(controller.StopGenerating(sessionID)).To(Succeed())

		Eventually(stopped).Should(BeClosed())
		backend.AssertExpectations(GinkgoT())

		chain := controller.LatestMessageChain(sessionID)
		Expect(chain[2].NodeID).To(Equal(8))
		Expect(chain[2].Message).To(Equal("Hel"))
	})

	It("should name a new session from the backend", func() {
		backend.On("SendMessage", mock.Anything, mock.Anything).Return(events, nil).Once()
		backend.On("RenameChatSession", mock.MatchedBy(hasDeadline), sessionID).Return("Greetings", nil).Once()

		Expect(controller.OnSubmit(context.Background(), controllers.SubmitParams{SessionID: sessionID, Message: "hi"})).To(Succeed())
		push(packet.At(0, 0, packet.MessageStart{}))
		push(packet.At(0, 0, packet.MessageDelta{Content: "Hello"}))
		push(packet.At(0, 0, packet.Stop{StopReason: "finished"}))
		events.Close(nil)

		sess, _ := controller.Store().Get(sessionID)
		Eventually(sess.Name).Should(Equal("Greetings"))
		backend.AssertExpectations(GinkgoT())
	})

	It("should not call the backend for a rejected submission", func() {
		Expect(controller.OnSubmit(context.Background(), controllers.SubmitParams{SessionID: sessionID})).
			To(MatchError(controllers.ErrEmptyMessage))
		backend.AssertNotCalled(GinkgoT(), "SendMessage", mock.Anything, mock.Anything)
	})
})
