package controllers

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/killallgit/chatstream/pkg/chat"
	"github.com/killallgit/chatstream/pkg/logger"
	"github.com/killallgit/chatstream/pkg/packet"
	"github.com/killallgit/chatstream/pkg/process"
)

// firstTempID is where optimistic node ids start. They count down so they
// can never collide with backend ids.
const firstTempID = -100

// RegenerationState describes a regeneration in flight
type RegenerationState struct {
	// MessageID is the assistant message being replaced
	MessageID int
	// ParentID is the user message the new answer is attached to
	ParentID int
}

// submission is the bookkeeping of one in-flight response
type submission struct {
	cancel      context.CancelFunc
	endStream   func()
	userID      int
	assistantID int
	hasUser     bool
	first       bool
	sawStop     bool
}

// Session holds the client-side state of one chat session. All fields are
// guarded by mu; exported methods return copies.
type Session struct {
	ID string

	mu       sync.Mutex
	state    process.State
	tree     chat.Tree
	packets  []packet.Packet
	regen    *RegenerationState
	active   *submission
	name     string
	named    bool
	notice   string
	idle     chan struct{}
	nextTemp int
	closers  []teardownHook
	nextHook int
}

type teardownHook struct {
	id int
	fn func()
}

func newSession(id string) *Session {
	idle := make(chan struct{})
	close(idle)
	return &Session{
		ID:       id,
		state:    process.StateInput,
		tree:     chat.NewTree(),
		idle:     idle,
		nextTemp: firstTempID,
	}
}

// setState moves the session to st, maintaining the idle channel. Callers
// hold mu.
func (s *Session) setState(st process.State) {
	wasIdle := s.state == process.StateInput
	s.state = st
	switch {
	case wasIdle && st != process.StateInput:
		s.idle = make(chan struct{})
	case !wasIdle && st == process.StateInput:
		close(s.idle)
	}
}

// finish ends sub if it is still the active submission and reports whether
// it was. Callers hold mu.
func (s *Session) finish(sub *submission) bool {
	if s.active != sub {
		return false
	}
	s.active = nil
	s.regen = nil
	s.setState(process.StateInput)
	return true
}

func (s *Session) tempID() int {
	s.nextTemp--
	return s.nextTemp
}

// State returns the submission state
func (s *Session) State() process.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tree returns the current message tree snapshot
func (s *Session) Tree() chat.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// Packets returns the packets of the latest response
func (s *Session) Packets() []packet.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]packet.Packet(nil), s.packets...)
}

// Regeneration returns the regeneration in flight, or nil
func (s *Session) Regeneration() *RegenerationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.regen == nil {
		return nil
	}
	r := *s.regen
	return &r
}

// Name returns the backend-generated session name, if any
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Notice returns the last transient notice, such as a rejected submission
func (s *Session) Notice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notice
}

// OnTeardown registers fn to run when the session is removed. The returned
// func unregisters it.
func (s *Session) OnTeardown(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextHook
	s.nextHook++
	s.closers = append(s.closers, teardownHook{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, h := range s.closers {
			if h.id == id {
				s.closers = append(s.closers[:i:i], s.closers[i+1:]...)
				return
			}
		}
	}
}

// Wait blocks until the session is back in the input state
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardown cancels the in-flight response and runs the teardown hooks
func (s *Session) teardown() {
	s.mu.Lock()
	sub := s.active
	s.active = nil
	s.regen = nil
	if s.state != process.StateInput {
		s.setState(process.StateInput)
	}
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	if sub != nil {
		sub.cancel()
		sub.endStream()
	}
	for _, h := range closers {
		h.fn()
	}
}

// SessionStore maps session ids to their state. Sessions are created on
// first use and live until removed.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *logger.ComponentLogger
}

// NewSessionStore creates an empty store
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		log:      logger.WithComponent("session_store"),
	}
}

// Create adds a session with a fresh id
func (s *SessionStore) Create() *Session {
	return s.GetOrCreate(uuid.NewString())
}

// GetOrCreate returns the session with id, creating it if needed
func (s *SessionStore) GetOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := newSession(id)
	s.sessions[id] = sess
	s.log.Debug("session created", "session", id)
	return sess
}

// Get returns the session with id
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Remove drops the session, cancelling any response in flight. It reports
// whether the session existed.
func (s *SessionStore) Remove(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	sess.teardown()
	s.log.Debug("session removed", "session", id)
	return true
}

// IDs returns the ids of all sessions, sorted
func (s *SessionStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
