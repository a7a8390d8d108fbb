package render

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/killallgit/chatstream/pkg/packet"
)

// Renderer turns a group's packets into a view. Implementations are pure
// and only look at the first State.Revealed packets.
type Renderer interface {
	Render(packets []packet.Packet, state State) View
}

// Options configures a renderer Set
type Options struct {
	SyntaxStyle string
	Color       bool
}

// Set holds one renderer per Kind
type Set struct {
	renderers map[Kind]Renderer
}

// NewSet builds the renderers for every kind
func NewSet(opts Options) *Set {
	if opts.SyntaxStyle == "" {
		opts.SyntaxStyle = "monokai"
	}
	hl := NewHighlighter(opts.SyntaxStyle, opts.Color)

	return &Set{renderers: map[Kind]Renderer{
		KindText:          textRenderer{},
		KindPlan:          planRenderer{},
		KindResearchAgent: researchAgentRenderer{},
		KindSearch:        searchRenderer{},
		KindImage:         imageRenderer{},
		KindPython:        pythonRenderer{hl: hl},
		KindCustomTool:    customToolRenderer{hl: hl},
		KindFetch:         fetchRenderer{},
		KindReasoning:     reasoningRenderer{},
	}}
}

// For returns the renderer of kind, or a renderer producing empty views for
// KindNone.
func (s *Set) For(kind Kind) Renderer {
	if r, ok := s.renderers[kind]; ok {
		return r
	}
	return noneRenderer{}
}

var defaultSet = NewSet(Options{Color: false})

// For returns the uncolored renderer of kind
func For(kind Kind) Renderer {
	return defaultSet.For(kind)
}

// RenderGroup resolves and renders a group in one step
func (s *Set) RenderGroup(g packet.Group, state State) View {
	return s.For(Resolve(g)).Render(g.Packets, state)
}

func visible(packets []packet.Packet, state State) []packet.Packet {
	if state.Revealed < 0 || state.Revealed >= len(packets) {
		return packets
	}
	return packets[:state.Revealed]
}

func closed(packets []packet.Packet) bool {
	for _, p := range packets {
		if packet.IsSectionEnd(p) {
			return true
		}
	}
	return false
}

func firstError(packets []packet.Packet) (packet.Error, bool) {
	for _, p := range packets {
		if e, ok := p.Obj.(packet.Error); ok {
			return e, true
		}
	}
	return packet.Error{}, false
}

func docTitle(d packet.Document) string {
	switch {
	case d.SemanticIdentifier != "":
		return d.SemanticIdentifier
	case d.Link != "":
		return d.Link
	}
	return d.DocumentID
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

type noneRenderer struct{}

func (noneRenderer) Render([]packet.Packet, State) View {
	return View{Kind: KindNone}
}

type textRenderer struct{}

func (textRenderer) Render(packets []packet.Packet, state State) View {
	shown := visible(packets, state)

	var b strings.Builder
	citations := map[int]string{}
	for _, p := range shown {
		switch obj := p.Obj.(type) {
		case packet.MessageDelta:
			b.WriteString(obj.Content)
		case packet.CitationInfo:
			citations[obj.CitationNumber] = obj.DocumentID
		}
	}

	body := b.String()
	if len(citations) > 0 {
		nums := make([]int, 0, len(citations))
		for n := range citations {
			nums = append(nums, n)
		}
		sort.Ints(nums)

		refs := make([]string, len(nums))
		for i, n := range nums {
			refs[i] = fmt.Sprintf("[%d] %s", n, citations[n])
		}
		body += "\n\n" + strings.Join(refs, "\n")
	}

	v := View{Kind: KindText, Icon: "◆", Status: "Answering", Body: body, Done: closed(shown)}
	if v.Done {
		v.Status = "Answer"
	}
	if e, ok := firstError(shown); ok {
		v.Failed = true
		v.Status = "Error"
		v.Body = strings.TrimSpace(body + "\n" + e.Message)
	}
	return v
}

type searchRenderer struct{}

func (searchRenderer) Render(packets []packet.Packet, state State) View {
	shown := visible(packets, state)

	var queries []string
	var docs []packet.Document
	internet := false
	for _, p := range shown {
		switch obj := p.Obj.(type) {
		case packet.SearchToolStart:
			internet = obj.IsInternetSearch
		case packet.SearchToolQueriesDelta:
			queries = append(queries, obj.Queries...)
		case packet.SearchToolDocumentsDelta:
			docs = append(docs, obj.Documents...)
		}
	}

	v := View{Kind: KindSearch, Icon: "⌕", Done: closed(shown)}
	where := "knowledge base"
	if internet {
		v.Icon = "◎"
		where = "the web"
	}

	switch {
	case v.Done:
		v.Status = fmt.Sprintf("Searched %s, found %s", where, plural(len(docs), "document"))
	case len(docs) > 0:
		v.Status = fmt.Sprintf("Reading %s", plural(len(docs), "document"))
	default:
		v.Status = "Searching " + where
	}

	if state.Collapsed {
		return v
	}

	var lines []string
	for _, q := range queries {
		lines = append(lines, "? "+q)
	}
	for _, d := range docs {
		lines = append(lines, "- "+docTitle(d))
	}
	v.Body = strings.Join(lines, "\n")
	return v
}

type fetchRenderer struct{}

func (fetchRenderer) Render(packets []packet.Packet, state State) View {
	shown := visible(packets, state)

	var urls []string
	var docs []packet.Document
	for _, p := range shown {
		switch obj := p.Obj.(type) {
		case packet.OpenURLURLs:
			urls = append(urls, obj.URLs...)
		case packet.OpenURLDocuments:
			docs = append(docs, obj.Documents...)
		}
	}

	v := View{Kind: KindFetch, Icon: "↗", Done: closed(shown)}
	switch {
	case v.Done:
		v.Status = "Opened " + plural(len(urls), "page")
	case len(urls) > 0:
		v.Status = "Opening " + plural(len(urls), "page")
	default:
		v.Status = "Opening pages"
	}

	if state.Collapsed {
		return v
	}

	lines := make([]string, 0, len(urls)+len(docs))
	lines = append(lines, urls...)
	for _, d := range docs {
		lines = append(lines, "- "+docTitle(d))
	}
	v.Body = strings.Join(lines, "\n")
	return v
}

type imageRenderer struct{}

func (imageRenderer) Render(packets []packet.Packet, state State) View {
	shown := visible(packets, state)

	var images []packet.GeneratedImage
	beats := 0
	for _, p := range shown {
		switch obj := p.Obj.(type) {
		case packet.ImageGenerationHeartbeat:
			beats++
		case packet.ImageGenerationFinal:
			images = append(images, obj.Images...)
		}
	}

	v := View{Kind: KindImage, Icon: "▣", Done: closed(shown)}
	if len(images) > 0 || v.Done {
		v.Status = "Generated " + plural(len(images), "image")
	} else {
		v.Status = "Generating image" + strings.Repeat(".", beats%4)
	}

	// generated images are final output and stay visible when collapsed
	lines := make([]string, 0, len(images))
	for _, img := range images {
		line := img.URL
		if img.RevisedPrompt != "" {
			line += "  " + img.RevisedPrompt
		}
		lines = append(lines, line)
	}
	v.Body = strings.Join(lines, "\n")
	return v
}

type pythonRenderer struct {
	hl *Highlighter
}

func (r pythonRenderer) Render(packets []packet.Packet, state State) View {
	shown := visible(packets, state)

	var code string
	var stdout, stderr strings.Builder
	var files []string
	for _, p := range shown {
		switch obj := p.Obj.(type) {
		case packet.PythonToolStart:
			code = obj.Code
		case packet.PythonToolDelta:
			stdout.WriteString(obj.Stdout)
			stderr.WriteString(obj.Stderr)
			files = append(files, obj.FileIDs...)
		}
	}

	v := View{Kind: KindPython, Icon: "λ", Status: "Running python", Done: closed(shown)}
	if v.Done {
		v.Status = "Ran python"
	}
	if stderr.Len() > 0 {
		v.Failed = true
	}

	var parts []string
	if code != "" && !state.Collapsed {
		parts = append(parts, r.hl.Highlight(code, "python"))
	}
	if out := strings.TrimRight(stdout.String(), "\n"); out != "" {
		parts = append(parts, out)
	}
	if errOut := strings.TrimRight(stderr.String(), "\n"); errOut != "" {
		parts = append(parts, errOut)
	}
	if len(files) > 0 {
		parts = append(parts, "files: "+strings.Join(files, ", "))
	}
	v.Body = strings.Join(parts, "\n")
	return v
}

type customToolRenderer struct {
	hl *Highlighter
}

func (r customToolRenderer) Render(packets []packet.Packet, state State) View {
	shown := visible(packets, state)

	name := "tool"
	var results []string
	var files []string
	for _, p := range shown {
		switch obj := p.Obj.(type) {
		case packet.CustomToolStart:
			if obj.ToolName != "" {
				name = obj.ToolName
			}
		case packet.CustomToolDelta:
			if obj.ToolName != "" {
				name = obj.ToolName
			}
			files = append(files, obj.FileIDs...)
			if obj.Data != nil {
				results = append(results, r.formatData(obj.ResponseType, obj.Data))
			}
		}
	}

	v := View{Kind: KindCustomTool, Icon: "⚙", Status: "Calling " + name, Done: closed(shown)}
	if v.Done {
		v.Status = "Called " + name
	}
	if state.Collapsed {
		return v
	}

	if len(files) > 0 {
		results = append(results, "files: "+strings.Join(files, ", "))
	}
	v.Body = strings.Join(results, "\n")
	return v
}

func (r customToolRenderer) formatData(responseType string, data any) string {
	if s, ok := data.(string); ok && responseType != "json" {
		return s
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprint(data)
	}
	return r.hl.Highlight(string(raw), "json")
}

type reasoningRenderer struct{}

func (reasoningRenderer) Render(packets []packet.Packet, state State) View {
	shown := visible(packets, state)

	var b strings.Builder
	done := false
	for _, p := range shown {
		switch obj := p.Obj.(type) {
		case packet.ReasoningDelta:
			b.WriteString(obj.Reasoning)
		case packet.ReasoningDone:
			done = true
		}
	}

	v := View{Kind: KindReasoning, Icon: "✱", Status: "Thinking", Done: done || closed(shown)}
	if v.Done {
		v.Status = "Thought"
	}
	if e, ok := firstError(shown); ok {
		v.Failed = true
		v.Status = "Error"
		v.Body = e.Message
		return v
	}
	if !state.Collapsed {
		v.Body = strings.TrimSpace(b.String())
	}
	return v
}

type planRenderer struct{}

func (planRenderer) Render(packets []packet.Packet, state State) View {
	shown := visible(packets, state)

	var b strings.Builder
	for _, p := range shown {
		if d, ok := p.Obj.(packet.DeepResearchPlanDelta); ok {
			b.WriteString(d.Content)
		}
	}

	v := View{Kind: KindPlan, Icon: "☰", Status: "Planning research", Done: closed(shown)}
	if v.Done {
		v.Status = "Research plan"
	}
	if !state.Collapsed {
		v.Body = strings.TrimSpace(b.String())
	}
	return v
}

type researchAgentRenderer struct{}

func (researchAgentRenderer) Render(packets []packet.Packet, state State) View {
	shown := visible(packets, state)

	task := ""
	var report strings.Builder
	cited := 0
	for _, p := range shown {
		switch obj := p.Obj.(type) {
		case packet.ResearchAgentStart:
			task = obj.ResearchTask
		case packet.IntermediateReportDelta:
			report.WriteString(obj.Content)
		case packet.IntermediateReportCitedDocs:
			cited += len(obj.CitedDocs)
		}
	}

	v := View{Kind: KindResearchAgent, Icon: "⚲", Status: "Researching", Done: closed(shown)}
	if v.Done {
		v.Status = "Researched"
	}
	if task != "" {
		v.Status += ": " + task
	}
	if cited > 0 {
		v.Status += fmt.Sprintf(" (%s)", plural(cited, "source"))
	}
	if !state.Collapsed {
		v.Body = strings.TrimSpace(report.String())
	}
	return v
}
