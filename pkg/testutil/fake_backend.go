package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/chatstream/pkg/chat"
	"github.com/killallgit/chatstream/pkg/packet"
)

// Response scripts one SendMessage call
type Response struct {
	Packets []packet.Packet

	// StreamError is sent after Packets when set
	StreamError *chat.StreamError

	// CloseErr closes the stream with a transport error after Packets
	CloseErr error

	// SendErr fails the SendMessage call itself
	SendErr error

	// Delay is the pause before each packet
	Delay time.Duration

	// Gate, when set, blocks the stream after HoldAfter packets until it is
	// closed or the request context ends.
	Gate      chan struct{}
	HoldAfter int

	// NoIDs skips the message id event
	NoIDs bool
}

// FakeBackend is a scripted chat backend for tests. Responses are consumed
// in order; once exhausted every call streams DefaultText.
type FakeBackend struct {
	mu          sync.Mutex
	responses   []Response
	requests    []chat.SendMessageRequest
	stops       []string
	renames     []string
	nextID      int
	stopDelay   time.Duration
	stopErr     error
	renameName  string
	renameErr   error
	renameDelay time.Duration

	DefaultText string
}

// NewFakeBackend creates a fake with the given scripted responses
func NewFakeBackend(responses ...Response) *FakeBackend {
	return &FakeBackend{
		responses:   responses,
		nextID:      100,
		DefaultText: "Hello from the fake backend.",
	}
}

// Script appends responses to the queue
func (f *FakeBackend) Script(responses ...Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, responses...)
}

// SetStopBehavior makes StopChatSession wait delay before returning err.
// The wait ends early when the caller's context does.
func (f *FakeBackend) SetStopBehavior(delay time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopDelay = delay
	f.stopErr = err
}

// SetRenameBehavior sets the name or error RenameChatSession returns
func (f *FakeBackend) SetRenameBehavior(name string, delay time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renameName = name
	f.renameDelay = delay
	f.renameErr = err
}

// Requests returns every SendMessage request received
func (f *FakeBackend) Requests() []chat.SendMessageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.SendMessageRequest(nil), f.requests...)
}

// StopCalls returns the session ids StopChatSession was called with
func (f *FakeBackend) StopCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stops...)
}

// RenameCalls returns the session ids RenameChatSession was called with
func (f *FakeBackend) RenameCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.renames...)
}

// SendMessage implements the controller backend
func (f *FakeBackend) SendMessage(ctx context.Context, req chat.SendMessageRequest) (*chat.EventStream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var resp Response
	if len(f.responses) > 0 {
		resp = f.responses[0]
		f.responses = f.responses[1:]
	} else {
		resp = Response{Packets: TextResponse(0, f.DefaultText)}
	}
	var ids *chat.MessageIDs
	if !resp.NoIDs {
		ids = &chat.MessageIDs{ReservedAssistantMessageID: f.nextID + 1}
		if !req.Regenerate {
			ids.UserMessageID = chat.IntPtr(f.nextID)
		}
		f.nextID += 2
	}
	f.mu.Unlock()

	if resp.SendErr != nil {
		return nil, resp.SendErr
	}

	q := chat.NewEventStream()
	go func() {
		if ids != nil {
			q.Push(chat.Event{IDs: ids})
		}
		hold := func() bool {
			select {
			case <-resp.Gate:
				return true
			case <-ctx.Done():
				q.Close(ctx.Err())
				return false
			}
		}
		for i, p := range resp.Packets {
			if resp.Gate != nil && i == resp.HoldAfter && !hold() {
				return
			}
			if resp.Delay > 0 {
				select {
				case <-time.After(resp.Delay):
				case <-ctx.Done():
					q.Close(ctx.Err())
					return
				}
			}
			if ctx.Err() != nil {
				q.Close(ctx.Err())
				return
			}
			p := p
			q.Push(chat.Event{Packet: &p})
		}
		if resp.Gate != nil && resp.HoldAfter >= len(resp.Packets) && !hold() {
			return
		}
		if resp.StreamError != nil {
			q.Push(chat.Event{Err: resp.StreamError})
		}
		q.Close(resp.CloseErr)
	}()
	return q, nil
}

// StopChatSession implements the controller backend
func (f *FakeBackend) StopChatSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	f.stops = append(f.stops, sessionID)
	delay, err := f.stopDelay, f.stopErr
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// RenameChatSession implements the controller backend
func (f *FakeBackend) RenameChatSession(ctx context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	f.renames = append(f.renames, sessionID)
	name, delay, err := f.renameName, f.renameDelay, f.renameErr
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if name == "" {
		name = fmt.Sprintf("Chat %s", uuid.NewString()[:8])
	}
	return name, nil
}
