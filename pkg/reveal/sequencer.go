package reveal

import (
	"sort"
	"sync"
	"time"

	"github.com/killallgit/chatstream/pkg/packet"
)

// DefaultMinDisplay is how long a turn stays on screen at minimum
const DefaultMinDisplay = 1500 * time.Millisecond

// SequencerOptions configures a Sequencer
type SequencerOptions struct {
	MinDisplay time.Duration
	// Now is the clock used for turn start times, time.Now when nil
	Now func() time.Time
}

// Sequencer reveals groups one turn at a time. Parallel branches of a turn
// are revealed together, and a turn only gives way to the next once every
// visible group in it is complete and its declared branch count is met.
type Sequencer struct {
	mu   sync.Mutex
	opts SequencerOptions

	known    map[packet.GroupKey]bool
	branches map[int]int
	expected map[int]int

	visible   map[packet.GroupKey]bool
	done      map[packet.GroupKey]bool
	complete  map[packet.GroupKey]bool
	timers    map[packet.GroupKey]*time.Timer
	turnStart map[int]time.Time
	current   int

	onChange func()
	closed   bool
}

// NewSequencer creates an empty sequencer
func NewSequencer(opts SequencerOptions) *Sequencer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sequencer{
		opts:      opts,
		known:     map[packet.GroupKey]bool{},
		branches:  map[int]int{},
		expected:  map[int]int{},
		visible:   map[packet.GroupKey]bool{},
		done:      map[packet.GroupKey]bool{},
		complete:  map[packet.GroupKey]bool{},
		timers:    map[packet.GroupKey]*time.Timer{},
		turnStart: map[int]time.Time{},
		current:   -1,
	}
}

// OnChange registers fn to run whenever a group becomes visible or complete
func (s *Sequencer) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Update feeds the current groups and the declared branch counts per turn
func (s *Sequencer) Update(groups []packet.Group, expected map[int]int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	for turn, n := range expected {
		s.expected[turn] = n
	}

	lowest := -1
	for _, g := range groups {
		key := g.Key()
		if !s.known[key] {
			s.known[key] = true
			s.branches[key.Turn]++
		}
		if lowest < 0 || key.Turn < lowest {
			lowest = key.Turn
		}
	}

	changed := false
	if s.current < 0 && lowest >= 0 {
		s.startTurn(lowest)
		changed = true
	}

	// late branches of a turn already on screen join it immediately
	for key := range s.known {
		if key.Turn <= s.current && !s.visible[key] {
			s.reveal(key)
			changed = true
		}
	}

	if s.advance() {
		changed = true
	}
	fn := s.onChange
	s.mu.Unlock()

	if changed && fn != nil {
		fn()
	}
}

// MarkDone records that the renderer of key reports done. The group turns
// complete once the minimum display time of its turn has also passed.
// Repeated calls for the same key are ignored.
func (s *Sequencer) MarkDone(key packet.GroupKey) {
	s.mu.Lock()
	if s.closed || s.done[key] {
		s.mu.Unlock()
		return
	}
	s.done[key] = true
	changed := false
	if s.visible[key] {
		changed = s.settle(key)
	}
	fn := s.onChange
	s.mu.Unlock()

	if changed && fn != nil {
		fn()
	}
}

// settle completes key now or schedules its completion for when the turn's
// minimum display time has elapsed. Callers hold mu.
func (s *Sequencer) settle(key packet.GroupKey) bool {
	if s.complete[key] || s.timers[key] != nil {
		return false
	}

	remaining := s.opts.MinDisplay - s.opts.Now().Sub(s.turnStart[key.Turn])
	if remaining <= 0 {
		s.complete[key] = true
		s.advance()
		return true
	}

	s.timers[key] = time.AfterFunc(remaining, func() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.complete[key] = true
		s.advance()
		fn := s.onChange
		s.mu.Unlock()

		if fn != nil {
			fn()
		}
	})
	return false
}

func (s *Sequencer) startTurn(turn int) {
	s.current = turn
	s.turnStart[turn] = s.opts.Now()
	for key := range s.known {
		if key.Turn == turn {
			s.reveal(key)
		}
	}
}

func (s *Sequencer) reveal(key packet.GroupKey) {
	if s.visible[key] {
		return
	}
	s.visible[key] = true
	if _, ok := s.turnStart[key.Turn]; !ok {
		s.turnStart[key.Turn] = s.opts.Now()
	}
	if s.done[key] {
		s.settle(key)
	}
}

// turnFinished reports whether every group of turn is visible and complete
// and the declared branch count, if any, has been observed.
func (s *Sequencer) turnFinished(turn int) bool {
	if n, ok := s.expected[turn]; ok && s.branches[turn] < n {
		return false
	}
	for key := range s.known {
		if key.Turn == turn && !(s.visible[key] && s.complete[key]) {
			return false
		}
	}
	return true
}

// advance moves to the next known turn while the current one is finished
func (s *Sequencer) advance() bool {
	moved := false
	for s.current >= 0 && s.turnFinished(s.current) {
		next := -1
		for key := range s.known {
			if key.Turn > s.current && (next < 0 || key.Turn < next) {
				next = key.Turn
			}
		}
		if next < 0 {
			break
		}
		s.startTurn(next)
		moved = true
	}
	return moved
}

// IsVisible reports whether key has been revealed
func (s *Sequencer) IsVisible(key packet.GroupKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible[key]
}

// IsComplete reports whether key is done and has met its minimum display
func (s *Sequencer) IsComplete(key packet.GroupKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete[key]
}

// CurrentTurn returns the turn being revealed, -1 before any packet
func (s *Sequencer) CurrentTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// VisibleGroups returns the visible keys ordered by turn then branch
func (s *Sequencer) VisibleGroups() []packet.GroupKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]packet.GroupKey, 0, len(s.visible))
	for key := range s.visible {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Turn != keys[j].Turn {
			return keys[i].Turn < keys[j].Turn
		}
		return keys[i].Branch < keys[j].Branch
	})
	return keys
}

// AllDisplayed reports whether every known group is visible and complete
// and every declared branch count has been reached.
func (s *Sequencer) AllDisplayed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for turn, n := range s.expected {
		if s.branches[turn] < n {
			return false
		}
	}
	for key := range s.known {
		if !s.visible[key] || !s.complete[key] {
			return false
		}
	}
	return true
}

// Close cancels every pending minimum display timer
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
