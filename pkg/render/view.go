package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// State is the reveal state a renderer is asked to draw
type State struct {
	// Revealed is how many packets are currently shown, -1 for all
	Revealed int
	// Complete reports the group as structurally closed
	Complete bool
	// Collapsed asks tool renderers for their summary only
	Collapsed bool
}

// All is the state of a group shown without animation
var All = State{Revealed: -1}

// View is the visual state produced by a renderer
type View struct {
	Kind   Kind
	Icon   string
	Status string
	Body   string
	Failed bool
	Done   bool
}

// Empty reports a view with nothing to show
func (v View) Empty() bool {
	return v.Status == "" && v.Body == ""
}

// Format renders the view with the default styles
func (v View) Format(width int) string {
	return v.FormatWith(DefaultStyles(), width)
}

// FormatWith renders the view as terminal text at most width columns wide
func (v View) FormatWith(st *Styles, width int) string {
	if v.Empty() {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	if v.Kind == KindText {
		return st.Answer.Width(width).Render(v.Body)
	}

	status := st.Active
	switch {
	case v.Failed:
		status = st.Failed
	case v.Done:
		status = st.Done
	}

	header := strings.TrimSpace(st.Icon.Render(v.Icon) + " " + status.Render(v.Status))
	if v.Body == "" {
		return header
	}

	body := st.ToolBorder.Width(width - 2).Render(st.Body.UnsetPaddingLeft().Render(v.Body))
	return lipgloss.JoinVertical(lipgloss.Left, header, body)
}
