package packet

// Family groups tags that belong to the same logical block of output
type Family int

const (
	FamilyUnknown Family = iota
	FamilyControl
	FamilyChat
	FamilyCitation
	FamilySearch
	FamilyFetch
	FamilyImage
	FamilyPython
	FamilyCustomTool
	FamilyReasoning
	FamilyDeepResearchPlan
	FamilyResearchAgent
)

// String returns the string representation of the family
func (f Family) String() string {
	switch f {
	case FamilyControl:
		return "control"
	case FamilyChat:
		return "chat"
	case FamilyCitation:
		return "citation"
	case FamilySearch:
		return "search"
	case FamilyFetch:
		return "fetch"
	case FamilyImage:
		return "image"
	case FamilyPython:
		return "python"
	case FamilyCustomTool:
		return "custom_tool"
	case FamilyReasoning:
		return "reasoning"
	case FamilyDeepResearchPlan:
		return "deep_research_plan"
	case FamilyResearchAgent:
		return "research_agent"
	default:
		return "unknown"
	}
}

// IsTool reports whether the family is a tool invocation block
func (f Family) IsTool() bool {
	switch f {
	case FamilySearch, FamilyFetch, FamilyImage, FamilyPython, FamilyCustomTool:
		return true
	}
	return false
}

// FamilyOf maps a tag to its family. Every tag in AllTags must map to a
// known family.
func FamilyOf(tag Tag) Family {
	switch tag {
	case TagStop, TagSectionEnd, TagTopLevelBranching, TagError:
		return FamilyControl
	case TagMessageStart, TagMessageDelta, TagMessageEnd:
		return FamilyChat
	case TagCitationInfo:
		return FamilyCitation
	case TagSearchToolStart, TagSearchToolQueriesDelta, TagSearchToolDocumentsDelta:
		return FamilySearch
	case TagOpenURLStart, TagOpenURLURLs, TagOpenURLDocuments:
		return FamilyFetch
	case TagImageGenerationStart, TagImageGenerationHeartbeat, TagImageGenerationFinal:
		return FamilyImage
	case TagPythonToolStart, TagPythonToolDelta:
		return FamilyPython
	case TagCustomToolStart, TagCustomToolDelta:
		return FamilyCustomTool
	case TagReasoningStart, TagReasoningDelta, TagReasoningDone:
		return FamilyReasoning
	case TagDeepResearchPlanStart, TagDeepResearchPlanDelta:
		return FamilyDeepResearchPlan
	case TagResearchAgentStart, TagIntermediateReportStart, TagIntermediateReportDelta, TagIntermediateReportCitedDocs:
		return FamilyResearchAgent
	}
	return FamilyUnknown
}

// Family returns the packet's family
func (p Packet) Family() Family {
	return FamilyOf(p.Type())
}
