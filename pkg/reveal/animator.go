package reveal

import (
	"sync"
	"time"
)

// DefaultTick is the reveal cadence used when none is configured
const DefaultTick = 10 * time.Millisecond

// AnimatorOptions configures a per-group Animator
type AnimatorOptions struct {
	Animate bool
	Tick    time.Duration
}

// Animator drip-feeds one group's packets into its renderer. The cursor
// starts at 1 and advances one packet per tick until it catches up with
// the packet count, never skipping.
type Animator struct {
	mu   sync.Mutex
	opts AnimatorOptions

	total    int
	complete bool
	cursor   int
	timer    *time.Timer

	collapsed bool

	onComplete func()
	once       bool
	fired      bool
	onChange   func()
	closed     bool
}

// NewAnimator creates an animator. A zero tick falls back to DefaultTick.
func NewAnimator(opts AnimatorOptions) *Animator {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	return &Animator{opts: opts, cursor: 1}
}

// OnComplete registers fn to run once the cursor has caught up and the
// group is structurally complete. With once set, fn runs at most once.
func (a *Animator) OnComplete(fn func(), once bool) {
	a.mu.Lock()
	a.onComplete = fn
	a.once = once
	a.fired = false
	a.mu.Unlock()
	a.settle()
}

// OnChange registers fn to run after every cursor advance or collapse
func (a *Animator) OnChange(fn func()) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// Update feeds the group's current packet count and completeness
func (a *Animator) Update(total int, complete bool) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.total = total
	a.complete = a.complete || complete
	changed := false
	if a.complete && !a.collapsed {
		a.collapsed = true
		changed = true
	}
	if a.opts.Animate && a.cursor < a.total && a.timer == nil {
		a.timer = time.AfterFunc(a.opts.Tick, a.tick)
	}
	onChange := a.onChange
	a.mu.Unlock()

	if changed && onChange != nil {
		onChange()
	}
	a.settle()
}

func (a *Animator) tick() {
	a.mu.Lock()
	a.timer = nil
	if a.closed {
		a.mu.Unlock()
		return
	}
	if a.cursor < a.total {
		a.cursor++
	}
	if a.cursor < a.total {
		a.timer = time.AfterFunc(a.opts.Tick, a.tick)
	}
	onChange := a.onChange
	a.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	a.settle()
}

// settle fires the completion callback when its conditions hold
func (a *Animator) settle() {
	a.mu.Lock()
	ready := !a.closed && a.complete && a.caughtUp() && a.onComplete != nil
	if ready && a.once && a.fired {
		ready = false
	}
	if ready {
		a.fired = true
	}
	fn := a.onComplete
	a.mu.Unlock()

	if ready {
		fn()
	}
}

func (a *Animator) caughtUp() bool {
	return !a.opts.Animate || a.cursor >= a.total
}

// Displayed returns how many packets to show, or -1 for all of them when
// animation is off.
func (a *Animator) Displayed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.opts.Animate {
		return -1
	}
	return a.cursor
}

// CaughtUp reports whether every known packet is shown
func (a *Animator) CaughtUp() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.caughtUp()
}

// Collapsed reports whether the group has auto-collapsed
func (a *Animator) Collapsed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.collapsed
}

// Close stops the ticker; any tick already in flight becomes a no-op.
func (a *Animator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
