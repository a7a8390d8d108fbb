package reveal

import (
	"sync"
	"time"

	"github.com/killallgit/chatstream/pkg/logger"
	"github.com/killallgit/chatstream/pkg/packet"
	"github.com/killallgit/chatstream/pkg/render"
)

// Options configures a Pipeline
type Options struct {
	Animate    bool
	Tick       time.Duration
	MinDisplay time.Duration
	Renderers  *render.Set
}

// Pipeline turns one message's packet list into renderer views. It owns an
// animator per group and a sequencer across groups.
type Pipeline struct {
	mu        sync.Mutex
	opts      Options
	seq       *Sequencer
	animators map[packet.GroupKey]*Animator
	groups    []packet.Group
	kinds     map[packet.GroupKey]render.Kind
	warned    map[packet.GroupKey]bool
	finished  bool
	closed    bool
	changed   chan struct{}
	log       *logger.ComponentLogger
}

// NewPipeline creates a pipeline with no packets
func NewPipeline(opts Options) *Pipeline {
	if opts.Renderers == nil {
		opts.Renderers = render.NewSet(render.Options{})
	}
	if opts.MinDisplay < 0 {
		opts.MinDisplay = 0
	}

	p := &Pipeline{
		opts:      opts,
		seq:       NewSequencer(SequencerOptions{MinDisplay: opts.MinDisplay}),
		animators: map[packet.GroupKey]*Animator{},
		kinds:     map[packet.GroupKey]render.Kind{},
		warned:    map[packet.GroupKey]bool{},
		changed:   make(chan struct{}, 1),
		log:       logger.WithComponent("reveal"),
	}
	p.seq.OnChange(p.revealed)
	return p
}

// revealed runs on every sequencer change, possibly while mu is held by
// the goroutine that triggered it, so newly visible groups are started on
// a fresh goroutine.
func (p *Pipeline) revealed() {
	p.signal()
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.closed {
			p.drive()
		}
	}()
}

// Changed delivers a value whenever the views may have changed. Signals
// coalesce, so a slow reader only sees the latest state.
func (p *Pipeline) Changed() <-chan struct{} {
	return p.changed
}

func (p *Pipeline) signal() {
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

// Push replaces the pipeline's input with the message's full packet list
func (p *Pipeline) Push(packets []packet.Packet) {
	p.mu.Lock()
	defer p.mu.Unlock()

	all := packet.GroupByTurnAndBranch(packets)
	var renderable []packet.Group
	for _, g := range all {
		key := g.Key()
		if err := packet.ValidateGroup(g); err != nil && !p.warned[key] {
			p.warned[key] = true
			p.log.Warn("mixed packet families in group", "group", key.String(), "error", err)
		}

		kind := render.Resolve(g)
		if kind == render.KindNone {
			continue
		}
		p.kinds[key] = kind
		renderable = append(renderable, g)
	}
	p.groups = renderable
	p.finished = packet.IsStreamingComplete(packets)

	p.seq.Update(renderable, packet.ExpectedBranches(packets))

	p.drive()
	p.signal()
}

// drive feeds the visible groups to their animators. Hidden groups are not
// fed, so their animation starts from the first packet once they are
// revealed. Callers hold mu.
func (p *Pipeline) drive() {
	for _, g := range p.groups {
		key := g.Key()
		if !p.seq.IsVisible(key) {
			continue
		}
		a, ok := p.animators[key]
		if !ok {
			a = p.newAnimator(key)
		}
		// a stopped stream closes every group, even ones the backend never ended
		a.Update(len(g.Packets), g.Complete() || p.finished)
	}
}

func (p *Pipeline) newAnimator(key packet.GroupKey) *Animator {
	a := NewAnimator(AnimatorOptions{Animate: p.opts.Animate, Tick: p.opts.Tick})
	a.OnChange(p.signal)
	a.OnComplete(func() { p.seq.MarkDone(key) }, true)
	p.animators[key] = a
	return a
}

// Views renders the visible groups in turn and branch order
func (p *Pipeline) Views() []render.View {
	p.mu.Lock()
	defer p.mu.Unlock()

	views := make([]render.View, 0, len(p.groups))
	for _, g := range p.groups {
		key := g.Key()
		if !p.seq.IsVisible(key) {
			continue
		}
		a, ok := p.animators[key]
		if !ok {
			a = p.newAnimator(key)
		}
		state := render.State{
			Revealed:  a.Displayed(),
			Complete:  g.Complete(),
			Collapsed: a.Collapsed(),
		}
		views = append(views, p.opts.Renderers.For(p.kinds[key]).Render(g.Packets, state))
	}
	return views
}

// Done reports whether the stream stopped and every group has been shown
// in full.
func (p *Pipeline) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.finished || !p.seq.AllDisplayed() {
		return false
	}
	for _, a := range p.animators {
		if !a.CaughtUp() {
			return false
		}
	}
	return true
}

// Close stops every animator and pending sequencer timer
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, a := range p.animators {
		a.Close()
	}
	p.seq.Close()
}
