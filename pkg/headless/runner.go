package headless

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/killallgit/chatstream/pkg/chat"
	"github.com/killallgit/chatstream/pkg/config"
	"github.com/killallgit/chatstream/pkg/controllers"
	"github.com/killallgit/chatstream/pkg/logger"
	"github.com/killallgit/chatstream/pkg/packet"
	"github.com/killallgit/chatstream/pkg/render"
	"github.com/killallgit/chatstream/pkg/reveal"
	"github.com/killallgit/chatstream/pkg/stream"
)

// ErrResponseFailed is returned when the response ends as an error message
var ErrResponseFailed = errors.New("response failed")

// Options configures a Runner
type Options struct {
	Reveal reveal.Options
	Color  bool
	Width  int
}

// OptionsFromConfig maps the stream and render settings onto runner options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Reveal: reveal.Options{
			Animate:    cfg.Stream.Animate,
			Tick:       cfg.Stream.Tick,
			MinDisplay: cfg.Stream.MinDisplay,
			Renderers: render.NewSet(render.Options{
				SyntaxStyle: cfg.Render.SyntaxStyle,
				Color:       cfg.Render.Color,
			}),
		},
		Color: cfg.Render.Color,
		Width: cfg.Render.Width,
	}
}

// Runner submits prompts through a controller and prints the revealed
// response.
type Runner struct {
	controller *controllers.ChatController
	output     *Output
	opts       Options
	log        *logger.ComponentLogger
}

// NewRunner creates a runner writing responses to w and errors to errW
func NewRunner(controller *controllers.ChatController, w, errW io.Writer, opts Options) *Runner {
	return &Runner{
		controller: controller,
		output:     NewOutput(w, errW, opts.Color, opts.Width),
		opts:       opts,
		log:        logger.WithComponent("headless"),
	}
}

// Run submits p and blocks until its response has been fully shown.
// Cancelling ctx stops the generation.
func (r *Runner) Run(ctx context.Context, p controllers.SubmitParams) error {
	sess := r.controller.Store().GetOrCreate(p.SessionID)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer sess.OnTeardown(cancel)()

	pipeline := reveal.NewPipeline(r.opts.Reveal)
	defer pipeline.Close()
	printer := newStreamPrinter(r.output)

	unsubscribe := r.controller.Subscribe(func(id string) {
		if id == p.SessionID {
			pipeline.Push(r.controller.Packets(id))
		}
	})
	defer unsubscribe()

	if err := r.controller.OnSubmit(runCtx, p); err != nil {
		r.output.Error(err.Error())
		return err
	}
	r.log.Debug("prompt submitted", "session", p.SessionID)

	idle := make(chan error, 1)
	go func() { idle <- r.controller.Wait(runCtx, p.SessionID) }()

	var packets []packet.Packet
	finished := false
	for {
		select {
		case <-runCtx.Done():
			if err := r.controller.StopGenerating(p.SessionID); err != nil {
				r.log.Warn("stop failed", "session", p.SessionID, "error", err)
			}
			printer.Flush(pipeline.Views())
			return runCtx.Err()
		case err := <-idle:
			if err != nil {
				continue
			}
			idle = nil
			finished = true
			packets = r.controller.Packets(p.SessionID)
			pipeline.Push(packets)
		case <-pipeline.Changed():
		}

		printer.Update(pipeline.Views())
		// streams that never reached a stop packet have nothing left to reveal
		if finished && (pipeline.Done() || !packet.IsStreamingComplete(packets)) {
			break
		}
	}
	printer.Flush(pipeline.Views())

	chain := r.controller.LatestMessageChain(p.SessionID)
	if len(chain) > 0 {
		if tip := chain[len(chain)-1]; tip.IsError() {
			r.output.Error(tip.Message)
			return fmt.Errorf("%w: %s", ErrResponseFailed, tip.Message)
		}
	}
	r.log.Debug("response shown", "session", p.SessionID, "chars", len(printer.Content()))
	return nil
}

// Replay shows a recorded response stream, one JSON event per line, the
// way a live response would be shown.
func (r *Runner) Replay(ctx context.Context, in io.Reader) error {
	events := chat.NewEventStream()
	go chat.ReadStream(ctx, in, events)

	pipeline := reveal.NewPipeline(r.opts.Reveal)
	defer pipeline.Close()
	printer := newStreamPrinter(r.output)

	var packets []packet.Packet
	var failure *chat.StreamError
	for {
		ev, err := events.Pop(ctx)
		if err != nil {
			if !errors.Is(err, stream.ErrClosed) {
				printer.Flush(pipeline.Views())
				return fmt.Errorf("failed to read stream: %w", err)
			}
			break
		}
		switch {
		case ev.Packet != nil:
			packets = append(packets, *ev.Packet)
			pipeline.Push(packets)
			printer.Update(pipeline.Views())
		case ev.Err != nil:
			failure = ev.Err
		}
	}

	if packet.IsStreamingComplete(packets) {
		for !pipeline.Done() {
			select {
			case <-ctx.Done():
				printer.Flush(pipeline.Views())
				return ctx.Err()
			case <-pipeline.Changed():
				printer.Update(pipeline.Views())
			}
		}
	}
	printer.Flush(pipeline.Views())

	if failure == nil {
		if e, ok := firstError(packets); ok {
			failure = &chat.StreamError{Error: e.Message}
		}
	}
	if failure != nil {
		r.output.Error(failure.Error)
		return fmt.Errorf("%w: %s", ErrResponseFailed, failure.Error)
	}
	return nil
}

func firstError(packets []packet.Packet) (packet.Error, bool) {
	for _, p := range packets {
		if e, ok := p.Obj.(packet.Error); ok {
			return e, true
		}
	}
	return packet.Error{}, false
}
