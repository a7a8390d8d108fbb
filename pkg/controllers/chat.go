package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/killallgit/chatstream/pkg/chat"
	"github.com/killallgit/chatstream/pkg/logger"
	"github.com/killallgit/chatstream/pkg/metrics"
	"github.com/killallgit/chatstream/pkg/packet"
	"github.com/killallgit/chatstream/pkg/process"
	"github.com/killallgit/chatstream/pkg/stream"
)

var (
	// ErrNotReady rejects a submission while a response is in flight
	ErrNotReady = errors.New("session is busy")

	// ErrEmptyMessage rejects a submission without text
	ErrEmptyMessage = errors.New("message cannot be empty")

	// ErrUnknownSession is returned for a session id the store does not hold
	ErrUnknownSession = errors.New("unknown session")

	// ErrUnknownTarget is returned when an edit or regeneration names a
	// message that cannot be resubmitted
	ErrUnknownTarget = errors.New("target message not found")
)

const (
	defaultStopTimeout   = 5 * time.Second
	defaultRenameTimeout = 30 * time.Second
)

// Backend is the chat service a controller submits to. *chat.Client
// implements it.
type Backend interface {
	SendMessage(ctx context.Context, req chat.SendMessageRequest) (*chat.EventStream, error)
	StopChatSession(ctx context.Context, sessionID string) error
	RenameChatSession(ctx context.Context, sessionID string) (string, error)
}

// Options tunes a ChatController
type Options struct {
	// StopTimeout bounds the backend stop call
	StopTimeout time.Duration
	// RenameTimeout bounds the background naming call
	RenameTimeout time.Duration
	// PersonaID selects an alternate persona when non-zero
	PersonaID int
	Metrics   *metrics.Collector
}

// RegenerateTarget asks for a new answer to an existing assistant message
type RegenerateTarget struct {
	MessageID int
}

// SubmitParams describes one submission
type SubmitParams struct {
	SessionID     string
	Message       string
	Files         []chat.FileDescriptor
	ForceToolID   *int
	ModelOverride *chat.LLMOverride
	Regenerate    *RegenerateTarget
	EditTargetID  *int
}

// ChatController runs the submission state machine of every session in
// its store.
type ChatController struct {
	backend Backend
	store   *SessionStore
	opts    Options
	log     *logger.ComponentLogger

	mu           sync.Mutex
	listeners    map[int]func(sessionID string)
	nextListener int
}

// NewChatController creates a controller. A nil store gets a fresh one.
func NewChatController(backend Backend, store *SessionStore, opts Options) *ChatController {
	if store == nil {
		store = NewSessionStore()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.RenameTimeout <= 0 {
		opts.RenameTimeout = defaultRenameTimeout
	}
	return &ChatController{
		backend:   backend,
		store:     store,
		opts:      opts,
		log:       logger.WithComponent("chat_controller"),
		listeners: make(map[int]func(string)),
	}
}

// Store returns the session store
func (c *ChatController) Store() *SessionStore {
	return c.store
}

// NewSession creates a session and returns its id
func (c *ChatController) NewSession() string {
	return c.store.Create().ID
}

// Subscribe registers fn to be called with a session id whenever that
// session changes. fn runs on the goroutine that made the change and must
// not block. The returned func unsubscribes.
func (c *ChatController) Subscribe(fn func(sessionID string)) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *ChatController) notify(sessionID string) {
	c.mu.Lock()
	fns := make([]func(string), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(sessionID)
	}
}

func (c *ChatController) reject(sess *Session, notice string, err error) error {
	sess.notice = notice
	sess.mu.Unlock()
	c.opts.Metrics.Submission(metrics.OutcomeRejected)
	c.log.Debug("submission rejected", "session", sess.ID, "reason", err)
	c.notify(sess.ID)
	return err
}

// OnSubmit starts a response for p. The user and assistant messages are
// inserted optimistically and the response is drained in the background;
// OnSubmit returns as soon as the submission is accepted. Validation
// failures leave the tree untouched.
func (c *ChatController) OnSubmit(ctx context.Context, p SubmitParams) error {
	if p.SessionID == "" {
		return ErrUnknownSession
	}
	sess := c.store.GetOrCreate(p.SessionID)
	text := strings.TrimSpace(p.Message)

	sess.mu.Lock()
	if !sess.state.CanSubmit() {
		return c.reject(sess, "Please wait for the current response to finish.", ErrNotReady)
	}
	if text == "" && p.Regenerate == nil {
		return c.reject(sess, "Type a message first.", ErrEmptyMessage)
	}

	pl, err := c.plan(sess, p, text)
	if err != nil {
		return c.reject(sess, "That message can no longer be resubmitted.", err)
	}

	req := chat.SendMessageRequest{
		ChatSessionID:   sess.ID,
		ParentMessageID: backendParent(pl.parent),
		Message:         pl.message,
		FileDescriptors: p.Files,
		Regenerate:      p.Regenerate != nil,
		LLMOverride:     p.ModelOverride,
	}
	if p.ForceToolID != nil {
		req.ForcedToolIDs = []int{*p.ForceToolID}
	}
	if c.opts.PersonaID != 0 {
		persona := c.opts.PersonaID
		req.AlternatePersona = &persona
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &submission{
		cancel:      cancel,
		endStream:   c.opts.Metrics.StreamStarted(),
		userID:      pl.userID,
		assistantID: pl.assistantID,
		hasUser:     pl.hasUser,
		first:       pl.parent == chat.SystemNodeID && !sess.named,
	}

	sess.tree = pl.tree
	sess.packets = nil
	sess.regen = pl.regen
	sess.active = sub
	sess.notice = ""
	sess.setState(process.StateLoading)
	sess.mu.Unlock()

	c.log.Info("submission accepted", "session", sess.ID, "regenerate", req.Regenerate, "edit", p.EditTargetID != nil)
	c.notify(sess.ID)

	go c.drain(streamCtx, sess, sub, req)
	return nil
}

type submitPlan struct {
	tree        chat.Tree
	parent      int
	message     string
	userID      int
	assistantID int
	hasUser     bool
	regen       *RegenerationState
}

// plan resolves where a submission attaches and inserts the optimistic
// nodes into a new tree. Callers hold sess.mu.
func (c *ChatController) plan(sess *Session, p SubmitParams, text string) (submitPlan, error) {
	tree := sess.tree

	if p.Regenerate != nil {
		target, ok := tree.Get(p.Regenerate.MessageID)
		if !ok || target.ParentNodeID == nil || !(target.IsAssistant() || target.IsError()) {
			return submitPlan{}, fmt.Errorf("%w: %d", ErrUnknownTarget, p.Regenerate.MessageID)
		}
		user, ok := tree.Get(*target.ParentNodeID)
		if !ok || !user.IsUser() {
			return submitPlan{}, fmt.Errorf("%w: %d has no user message", ErrUnknownTarget, target.NodeID)
		}

		assistantID := sess.tempID()
		placeholder := chat.NewAssistantPlaceholder(assistantID, user.NodeID)
		return submitPlan{
			tree:        chat.UpsertMessages(tree, []chat.Message{placeholder}, true),
			parent:      user.NodeID,
			message:     user.Message,
			assistantID: assistantID,
			regen:       &RegenerationState{MessageID: target.NodeID, ParentID: user.NodeID},
		}, nil
	}

	var parent int
	if p.EditTargetID != nil {
		target, ok := tree.Get(*p.EditTargetID)
		if !ok || !target.IsUser() || target.ParentNodeID == nil {
			return submitPlan{}, fmt.Errorf("%w: %d", ErrUnknownTarget, *p.EditTargetID)
		}
		parent = *target.ParentNodeID
	} else {
		var removed int
		tree, removed = chat.PruneDanglingError(tree)
		if removed > 0 {
			c.log.Debug("pruned failed exchange", "session", sess.ID, "removed", removed)
		}
		parent = chat.LastSuccessfulMessageID(tree)
	}

	userID, assistantID := sess.tempID(), sess.tempID()
	user := chat.NewUserMessage(userID, parent, text, p.Files)
	assistant := chat.NewAssistantPlaceholder(assistantID, userID)
	if p.ModelOverride != nil {
		assistant.OverriddenModel = p.ModelOverride.ModelVersion
	}

	return submitPlan{
		tree:        chat.UpsertMessages(tree, []chat.Message{user, assistant}, true),
		parent:      parent,
		message:     text,
		userID:      userID,
		assistantID: assistantID,
		hasUser:     true,
	}, nil
}

// backendParent maps a tree parent to the id sent to the backend. The root
// is sent as null and optimistic ids the backend never saw as auto-place.
func backendParent(parent int) *int {
	switch {
	case parent == chat.SystemNodeID:
		return nil
	case parent < 0:
		return chat.IntPtr(chat.AutoPlaceParentID)
	default:
		return chat.IntPtr(parent)
	}
}

// drain opens the response stream and applies its events until the stream
// ends, fails, or the submission is cancelled.
func (c *ChatController) drain(ctx context.Context, sess *Session, sub *submission, req chat.SendMessageRequest) {
	q, err := c.backend.SendMessage(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			c.fail(sess, sub, &chat.StreamError{Error: err.Error(), IsRetryable: true})
		}
		return
	}

	for {
		ev, err := q.Pop(ctx)
		if err != nil {
			switch {
			case errors.Is(err, stream.ErrClosed):
				c.complete(sess, sub)
			case ctx.Err() != nil:
				// stopped or torn down; cleanup already happened
			default:
				c.fail(sess, sub, &chat.StreamError{Error: err.Error(), IsRetryable: true})
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		switch {
		case ev.IDs != nil:
			c.assignIDs(sess, sub, *ev.IDs)
		case ev.Err != nil:
			c.fail(sess, sub, ev.Err)
			return
		case ev.Packet != nil:
			if !c.apply(sess, sub, *ev.Packet) {
				return
			}
		}
	}
}

func isContent(p packet.Packet) bool {
	f := p.Family()
	return f != packet.FamilyControl && f != packet.FamilyUnknown
}

// apply records one packet and patches the assistant message. It reports
// whether draining should continue.
func (c *ChatController) apply(sess *Session, sub *submission, p packet.Packet) bool {
	c.opts.Metrics.ObservePacket(p.Family().String())

	if e, ok := p.Obj.(packet.Error); ok {
		sess.mu.Lock()
		if sess.active == sub {
			sess.packets = append(sess.packets, p)
		}
		sess.mu.Unlock()

		msg := e.Message
		if msg == "" {
			msg = "An error occurred while generating the response."
		}
		c.fail(sess, sub, &chat.StreamError{Error: msg, IsRetryable: true})
		return false
	}

	sess.mu.Lock()
	if sess.active != sub {
		sess.mu.Unlock()
		return false
	}
	sess.packets = append(sess.packets, p)
	if sess.state == process.StateLoading && isContent(p) {
		sess.setState(process.StateStreaming)
	}
	if p.Type() == packet.TagStop {
		sub.sawStop = true
	}
	if msg, ok := sess.tree.Get(sub.assistantID); ok {
		msg = chat.ApplyPackets(msg, sess.packets)
		sess.tree = chat.UpsertMessages(sess.tree, []chat.Message{msg}, false)
	}
	sess.mu.Unlock()

	c.notify(sess.ID)
	return true
}

// assignIDs replaces the optimistic node ids with the ones the backend
// reserved for this exchange.
func (c *ChatController) assignIDs(sess *Session, sub *submission, ids chat.MessageIDs) {
	sess.mu.Lock()
	if sess.active != sub {
		sess.mu.Unlock()
		return
	}

	userID := sub.userID
	if sub.hasUser && ids.UserMessageID != nil {
		userID = *ids.UserMessageID
	}
	assistantID := ids.ReservedAssistantMessageID
	if userID == sub.userID && assistantID == sub.assistantID {
		sess.mu.Unlock()
		return
	}

	var moved []chat.Message
	root := sub.assistantID
	if sub.hasUser {
		root = sub.userID
		if u, ok := sess.tree.Get(sub.userID); ok {
			u.NodeID = userID
			u.ChildrenNodeIDs = nil
			u.LatestChildNodeID = nil
			moved = append(moved, u)
		}
	}
	if a, ok := sess.tree.Get(sub.assistantID); ok {
		a.NodeID = assistantID
		if sub.hasUser {
			a.ParentNodeID = chat.IntPtr(userID)
		}
		a.ChildrenNodeIDs = nil
		a.LatestChildNodeID = nil
		moved = append(moved, a)
	}

	tree := chat.RemoveMessages(sess.tree, []int{root})
	sess.tree = chat.UpsertMessages(tree, moved, true)
	sub.userID, sub.assistantID = userID, assistantID
	sess.mu.Unlock()

	c.log.Debug("message ids assigned", "session", sess.ID, "user", userID, "assistant", assistantID)
	c.notify(sess.ID)
}

func (c *ChatController) complete(sess *Session, sub *submission) {
	sess.mu.Lock()
	if !sess.finish(sub) {
		sess.mu.Unlock()
		return
	}
	name := sub.first && !sess.named
	if name {
		sess.named = true
	}
	sess.mu.Unlock()

	sub.cancel()
	sub.endStream()
	if !sub.sawStop {
		c.log.Warn("stream ended without stop packet", "session", sess.ID)
	}
	c.opts.Metrics.Submission(metrics.OutcomeSuccess)
	c.log.Info("response complete", "session", sess.ID)
	c.notify(sess.ID)

	if name {
		go c.autoName(sess)
	}
}

// fail turns the assistant message into an error node
func (c *ChatController) fail(sess *Session, sub *submission, se *chat.StreamError) {
	sess.mu.Lock()
	if sess.active != sub {
		sess.mu.Unlock()
		return
	}
	if msg, ok := sess.tree.Get(sub.assistantID); ok {
		msg = chat.ApplyPackets(msg, sess.packets).AsError(se.Error, se.StackTrace, se.ErrorCode, se.IsRetryable)
		sess.tree = chat.UpsertMessages(sess.tree, []chat.Message{msg}, false)
	}
	sess.finish(sub)
	sess.mu.Unlock()

	sub.cancel()
	sub.endStream()
	c.opts.Metrics.Submission(metrics.OutcomeError)
	c.log.Warn("response failed", "session", sess.ID, "error", se.Error, "code", se.ErrorCode)
	c.notify(sess.ID)
}

// hasOpenToolCall reports a tool call whose group has not been closed
func hasOpenToolCall(packets []packet.Packet) bool {
	for _, g := range packet.GroupByTurnAndBranch(packets) {
		if g.Has(packet.IsActualToolCallPacket) && !g.Complete() {
			return true
		}
	}
	return false
}

// StopGenerating cancels the session's response. Local state returns to
// input immediately; the backend is asked to stop in the background and
// its answer is only logged.
func (c *ChatController) StopGenerating(sessionID string) error {
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return ErrUnknownSession
	}

	sess.mu.Lock()
	sub := sess.active
	if sub == nil {
		sess.mu.Unlock()
		return nil
	}
	if msg, ok := sess.tree.Get(sub.assistantID); ok && msg.ToolCall != nil && hasOpenToolCall(sess.packets) {
		msg.ToolCall = nil
		sess.tree = chat.UpsertMessages(sess.tree, []chat.Message{msg}, false)
	}
	sess.finish(sub)
	sess.mu.Unlock()

	sub.cancel()
	sub.endStream()
	c.opts.Metrics.Submission(metrics.OutcomeCancelled)
	c.log.Info("generation stopped", "session", sessionID)
	c.notify(sessionID)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
		defer cancel()
		if err := c.backend.StopChatSession(ctx, sessionID); err != nil {
			c.log.Warn("backend stop failed", "session", sessionID, "error", err)
		}
	}()
	return nil
}

func (c *ChatController) autoName(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RenameTimeout)
	defer cancel()

	name, err := c.backend.RenameChatSession(ctx, sess.ID)
	if err != nil {
		c.log.Warn("session naming failed", "session", sess.ID, "error", err)
		return
	}

	sess.mu.Lock()
	sess.name = name
	sess.mu.Unlock()
	c.log.Debug("session named", "session", sess.ID, "name", name)
	c.notify(sess.ID)
}

// SwitchBranch makes child the active branch under parent. Only allowed
// while the session is idle.
func (c *ChatController) SwitchBranch(sessionID string, parent, child int) error {
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return ErrUnknownSession
	}

	sess.mu.Lock()
	if !sess.state.CanSubmit() {
		sess.mu.Unlock()
		return ErrNotReady
	}
	tree, err := chat.SetLatestChild(sess.tree, parent, child)
	if err != nil {
		sess.mu.Unlock()
		return err
	}
	sess.tree = tree
	sess.mu.Unlock()

	c.notify(sessionID)
	return nil
}

// BeginUpload marks the session as uploading attachments. Submissions are
// rejected until EndUpload.
func (c *ChatController) BeginUpload(sessionID string) error {
	sess := c.store.GetOrCreate(sessionID)

	sess.mu.Lock()
	if !sess.state.CanSubmit() {
		sess.mu.Unlock()
		return ErrNotReady
	}
	sess.setState(process.StateUploading)
	sess.mu.Unlock()

	c.notify(sessionID)
	return nil
}

// EndUpload returns an uploading session to input
func (c *ChatController) EndUpload(sessionID string) {
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return
	}

	sess.mu.Lock()
	changed := sess.state == process.StateUploading
	if changed {
		sess.setState(process.StateInput)
	}
	sess.mu.Unlock()

	if changed {
		c.notify(sessionID)
	}
}

// CloseSession removes the session and cancels its response
func (c *ChatController) CloseSession(sessionID string) bool {
	return c.store.Remove(sessionID)
}

// LatestMessageChain returns the active conversation of a session, root
// first. Unknown sessions yield nil.
func (c *ChatController) LatestMessageChain(sessionID string) []chat.Message {
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return nil
	}
	return chat.LatestMessageChain(sess.Tree())
}

// ChatState returns the session's submission state; unknown sessions are
// ready for input.
func (c *ChatController) ChatState(sessionID string) process.State {
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return process.StateInput
	}
	return sess.State()
}

// RegenerationState returns the regeneration in flight, or nil
func (c *ChatController) RegenerationState(sessionID string) *RegenerationState {
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return nil
	}
	return sess.Regeneration()
}

// Tree returns the session's message tree
func (c *ChatController) Tree(sessionID string) chat.Tree {
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return chat.NewTree()
	}
	return sess.Tree()
}

// Packets returns the packets of the session's latest response
func (c *ChatController) Packets(sessionID string) []packet.Packet {
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return nil
	}
	return sess.Packets()
}

// Wait blocks until the session is back in the input state
func (c *ChatController) Wait(ctx context.Context, sessionID string) error {
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	return sess.Wait(ctx)
}
