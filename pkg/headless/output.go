package headless

import (
	"fmt"
	"io"

	"github.com/killallgit/chatstream/pkg/logger"
	"github.com/killallgit/chatstream/pkg/render"
)

// Output handles console output for headless mode
type Output struct {
	w      io.Writer
	errW   io.Writer
	styles *render.Styles
	width  int
}

// NewOutput creates an output writing views to w and errors to errW
func NewOutput(w, errW io.Writer, color bool, width int) *Output {
	styles := render.PlainStyles()
	if color {
		styles = render.DefaultStyles()
	}
	return &Output{w: w, errW: errW, styles: styles, width: width}
}

// Text writes s as is
func (o *Output) Text(s string) {
	fmt.Fprint(o.w, s)
}

// View writes a formatted tool view on its own lines
func (o *Output) View(v render.View) {
	if s := v.FormatWith(o.styles, o.width); s != "" {
		fmt.Fprintln(o.w, s)
	}
}

// Error prints an error message and logs it
func (o *Output) Error(msg string) {
	logger.Error("%s", msg)
	fmt.Fprintln(o.errW, o.styles.Failed.Render("Error: "+msg))
}
