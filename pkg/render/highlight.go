package render

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Highlighter applies chroma syntax highlighting to code shown by the
// python and custom tool renderers.
type Highlighter struct {
	formatter chroma.Formatter
	style     *chroma.Style
	enabled   bool
}

// NewHighlighter creates a highlighter for the named chroma style. A
// disabled highlighter returns code unchanged.
func NewHighlighter(style string, enabled bool) *Highlighter {
	formatter := formatters.Get("terminal16m")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	s := styles.Get(style)
	if s == nil {
		s = styles.Fallback
	}

	return &Highlighter{formatter: formatter, style: s, enabled: enabled}
}

// Highlight returns code highlighted as language. Any lexer or formatter
// failure falls back to the plain code.
func (h *Highlighter) Highlight(code, language string) string {
	if h == nil || !h.enabled || code == "" {
		return code
	}

	var lexer chroma.Lexer
	if language != "" {
		lexer = lexers.Get(language)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	if err := h.formatter.Format(&buf, h.style, iterator); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}
