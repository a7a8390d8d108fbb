package render

import "github.com/killallgit/chatstream/pkg/packet"

// Kind identifies one of the closed set of renderers
type Kind int

const (
	KindNone Kind = iota
	KindText
	KindPlan
	KindResearchAgent
	KindSearch
	KindImage
	KindPython
	KindCustomTool
	KindFetch
	KindReasoning
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindPlan:
		return "plan"
	case KindResearchAgent:
		return "research_agent"
	case KindSearch:
		return "search"
	case KindImage:
		return "image"
	case KindPython:
		return "python"
	case KindCustomTool:
		return "custom_tool"
	case KindFetch:
		return "fetch"
	case KindReasoning:
		return "reasoning"
	default:
		return "none"
	}
}

// precedence is checked top to bottom, first match wins. Deep research
// packets may share a group with reasoning or fetch packets and must win.
var precedence = []struct {
	kind Kind
	is   func(packet.Packet) bool
}{
	{KindText, packet.IsChatPacket},
	{KindPlan, packet.IsDeepResearchPlanPacket},
	{KindResearchAgent, packet.IsResearchAgentPacket},
	{KindSearch, packet.IsSearchToolPacket},
	{KindImage, packet.IsImageToolPacket},
	{KindPython, packet.IsPythonToolPacket},
	{KindCustomTool, packet.IsCustomToolPacket},
	{KindFetch, packet.IsFetchToolPacket},
	{KindReasoning, func(p packet.Packet) bool {
		return packet.IsReasoningPacket(p) || packet.IsErrorPacket(p)
	}},
}

// Resolve picks the renderer for a group. Groups holding only control,
// citation or unknown packets resolve to KindNone and render nothing.
func Resolve(g packet.Group) Kind {
	for _, rule := range precedence {
		if g.Has(rule.is) {
			return rule.kind
		}
	}
	return KindNone
}
