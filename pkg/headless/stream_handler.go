package headless

import (
	"strings"

	"github.com/killallgit/chatstream/pkg/render"
)

// printedView tracks what has already been written for one view
type printedView struct {
	text string
	done bool
}

// streamPrinter writes pipeline views to an Output as they grow. Answer
// text streams incrementally; tool views are written once they settle.
type streamPrinter struct {
	out     *Output
	printed []printedView
	open    int // view whose text is still on the current line, -1 for none
	content strings.Builder
}

func newStreamPrinter(out *Output) *streamPrinter {
	return &streamPrinter{out: out, open: -1}
}

// Update writes whatever changed since the last call
func (p *streamPrinter) Update(views []render.View) {
	p.write(views, false)
}

// Flush writes every remaining view and terminates open text
func (p *streamPrinter) Flush(views []render.View) {
	p.write(views, true)
	if p.open >= 0 {
		p.out.Text("\n")
		p.open = -1
	}
}

func (p *streamPrinter) write(views []render.View, final bool) {
	for len(p.printed) < len(views) {
		p.printed = append(p.printed, printedView{})
	}

	for i, v := range views {
		pv := &p.printed[i]
		if pv.done || v.Empty() {
			continue
		}

		if v.Kind == render.KindText {
			if !strings.HasPrefix(v.Body, pv.text) {
				// rewritten body; keep what was printed and wait for the end
				if final {
					p.closeText(-1)
					p.out.Text(v.Body)
					p.open = i
					pv.text = v.Body
				}
				continue
			}
			if delta := v.Body[len(pv.text):]; delta != "" {
				p.closeText(i)
				p.out.Text(delta)
				p.content.WriteString(delta)
				p.open = i
				pv.text = v.Body
			}
			pv.done = final || v.Done
			continue
		}

		if v.Done || v.Failed || final {
			p.closeText(-1)
			p.out.View(v)
			pv.done = true
		}
	}
}

// closeText ends the open text line unless it belongs to view keep
func (p *streamPrinter) closeText(keep int) {
	if p.open >= 0 && p.open != keep {
		p.out.Text("\n\n")
		p.open = -1
	}
}

// Content returns the answer text written so far
func (p *streamPrinter) Content() string {
	return p.content.String()
}
