package render

import "github.com/charmbracelet/lipgloss"

// Warm base16 palette used for terminal output
var (
	ColorBase03 = lipgloss.Color("#5c5044")
	ColorBase05 = lipgloss.Color("#ab937b")
	ColorBase07 = lipgloss.Color("#f5d7b9")

	ColorRed    = lipgloss.Color("#d95f5f")
	ColorOrange = lipgloss.Color("#eb8755")
	ColorYellow = lipgloss.Color("#f5b761")
	ColorGreen  = lipgloss.Color("#93b56b")
	ColorCyan   = lipgloss.Color("#61afaf")
	ColorViolet = lipgloss.Color("#6c71c4")

	ColorMuted   = ColorBase03
	ColorActive  = ColorOrange
	ColorSuccess = ColorGreen
	ColorError   = ColorRed
)

// Styles holds the lipgloss styles used by View.Format
type Styles struct {
	Icon       lipgloss.Style
	Active     lipgloss.Style
	Done       lipgloss.Style
	Failed     lipgloss.Style
	Body       lipgloss.Style
	Answer     lipgloss.Style
	ToolBorder lipgloss.Style
}

// DefaultStyles returns the colored styles
func DefaultStyles() *Styles {
	return &Styles{
		Icon: lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true),

		Active: lipgloss.NewStyle().
			Foreground(ColorActive).
			Italic(true),

		Done: lipgloss.NewStyle().
			Foreground(ColorSuccess),

		Failed: lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true),

		Body: lipgloss.NewStyle().
			Foreground(ColorBase05).
			PaddingLeft(2),

		Answer: lipgloss.NewStyle().
			Foreground(ColorBase07),

		ToolBorder: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(ColorMuted).
			PaddingLeft(1),
	}
}

// PlainStyles returns styles that add no escape sequences, for logs and
// non-terminal writers.
func PlainStyles() *Styles {
	plain := lipgloss.NewStyle()
	return &Styles{
		Icon:       plain,
		Active:     plain,
		Done:       plain,
		Failed:     plain,
		Body:       plain.PaddingLeft(2),
		Answer:     plain,
		ToolBorder: plain.PaddingLeft(2),
	}
}
