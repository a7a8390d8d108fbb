package packet

// Tag is the wire discriminator carried in every packet's "type" field
type Tag string

const (
	// Control
	TagStop              Tag = "stop"
	TagSectionEnd        Tag = "section_end"
	TagTopLevelBranching Tag = "top_level_branching"
	TagError             Tag = "error"

	// Chat
	TagMessageStart Tag = "message_start"
	TagMessageDelta Tag = "message_delta"
	TagMessageEnd   Tag = "message_end"

	// Search tool
	TagSearchToolStart          Tag = "search_tool_start"
	TagSearchToolQueriesDelta   Tag = "search_tool_queries_delta"
	TagSearchToolDocumentsDelta Tag = "search_tool_documents_delta"

	// Open URL (fetch) tool
	TagOpenURLStart     Tag = "open_url_start"
	TagOpenURLURLs      Tag = "open_url_urls"
	TagOpenURLDocuments Tag = "open_url_documents"

	// Image generation tool
	TagImageGenerationStart     Tag = "image_generation_start"
	TagImageGenerationHeartbeat Tag = "image_generation_heartbeat"
	TagImageGenerationFinal     Tag = "image_generation_final"

	// Python tool
	TagPythonToolStart Tag = "python_tool_start"
	TagPythonToolDelta Tag = "python_tool_delta"

	// Custom tool
	TagCustomToolStart Tag = "custom_tool_start"
	TagCustomToolDelta Tag = "custom_tool_delta"

	// Reasoning
	TagReasoningStart Tag = "reasoning_start"
	TagReasoningDelta Tag = "reasoning_delta"
	TagReasoningDone  Tag = "reasoning_done"

	// Citations
	TagCitationInfo Tag = "citation_info"

	// Deep research
	TagDeepResearchPlanStart       Tag = "deep_research_plan_start"
	TagDeepResearchPlanDelta       Tag = "deep_research_plan_delta"
	TagResearchAgentStart          Tag = "research_agent_start"
	TagIntermediateReportStart     Tag = "intermediate_report_start"
	TagIntermediateReportDelta     Tag = "intermediate_report_delta"
	TagIntermediateReportCitedDocs Tag = "intermediate_report_cited_docs"
)

// AllTags lists every tag the decoder knows about
var AllTags = []Tag{
	TagStop, TagSectionEnd, TagTopLevelBranching, TagError,
	TagMessageStart, TagMessageDelta, TagMessageEnd,
	TagSearchToolStart, TagSearchToolQueriesDelta, TagSearchToolDocumentsDelta,
	TagOpenURLStart, TagOpenURLURLs, TagOpenURLDocuments,
	TagImageGenerationStart, TagImageGenerationHeartbeat, TagImageGenerationFinal,
	TagPythonToolStart, TagPythonToolDelta,
	TagCustomToolStart, TagCustomToolDelta,
	TagReasoningStart, TagReasoningDelta, TagReasoningDone,
	TagCitationInfo,
	TagDeepResearchPlanStart, TagDeepResearchPlanDelta,
	TagResearchAgentStart, TagIntermediateReportStart, TagIntermediateReportDelta, TagIntermediateReportCitedDocs,
}

// Placement positions a packet within a response
type Placement struct {
	TurnIndex    int  `json:"turn_index"`
	BranchIndex  int  `json:"tab_index,omitempty"`
	SubTurnIndex *int `json:"sub_turn_index,omitempty"`
}

// Packet is one atomic unit of a streamed response
type Packet struct {
	Placement Placement
	Obj       Obj
}

// Type returns the packet's tag, or "" for a packet without payload
func (p Packet) Type() Tag {
	if p.Obj == nil {
		return ""
	}
	return p.Obj.Type()
}

// At builds a packet at (turn, branch)
func At(turn, branch int, obj Obj) Packet {
	return Packet{Placement: Placement{TurnIndex: turn, BranchIndex: branch}, Obj: obj}
}

// Obj is the closed set of packet payloads. Only types in this package
// implement it.
type Obj interface {
	Type() Tag
	isObj()
}

type sealed struct{}

func (sealed) isObj() {}

// Document is a search result or fetched page attached to a packet
type Document struct {
	DocumentID         string  `json:"document_id"`
	SemanticIdentifier string  `json:"semantic_identifier,omitempty"`
	Link               string  `json:"link,omitempty"`
	Blurb              string  `json:"blurb,omitempty"`
	SourceType         string  `json:"source_type,omitempty"`
	Score              float64 `json:"score,omitempty"`
}

// GeneratedImage is one output of the image generation tool
type GeneratedImage struct {
	FileID        string `json:"file_id"`
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt"`
	Shape         string `json:"shape,omitempty"`
}

type Stop struct {
	sealed
	StopReason string `json:"stop_reason,omitempty"`
}

type SectionEnd struct{ sealed }

// TopLevelBranching announces how many parallel branches the turn it is
// placed in will produce.
type TopLevelBranching struct {
	sealed
	NumParallelBranches int `json:"num_parallel_branches"`
}

type Error struct {
	sealed
	Message   string `json:"message,omitempty"`
	Exception any    `json:"exception,omitempty"`
}

type MessageStart struct {
	sealed
	FinalDocuments []Document `json:"final_documents,omitempty"`
}

type MessageDelta struct {
	sealed
	Content string `json:"content"`
}

type MessageEnd struct{ sealed }

type SearchToolStart struct {
	sealed
	IsInternetSearch bool `json:"is_internet_search,omitempty"`
}

type SearchToolQueriesDelta struct {
	sealed
	Queries []string `json:"queries"`
}

type SearchToolDocumentsDelta struct {
	sealed
	Documents []Document `json:"documents"`
}

type OpenURLStart struct{ sealed }

type OpenURLURLs struct {
	sealed
	URLs []string `json:"urls"`
}

type OpenURLDocuments struct {
	sealed
	Documents []Document `json:"documents"`
}

type ImageGenerationStart struct{ sealed }

type ImageGenerationHeartbeat struct{ sealed }

type ImageGenerationFinal struct {
	sealed
	Images []GeneratedImage `json:"images"`
}

type PythonToolStart struct {
	sealed
	Code string `json:"code"`
}

type PythonToolDelta struct {
	sealed
	Stdout  string   `json:"stdout,omitempty"`
	Stderr  string   `json:"stderr,omitempty"`
	FileIDs []string `json:"file_ids,omitempty"`
}

type CustomToolStart struct {
	sealed
	ToolName string `json:"tool_name"`
}

type CustomToolDelta struct {
	sealed
	ToolName     string   `json:"tool_name"`
	ResponseType string   `json:"response_type"`
	Data         any      `json:"data,omitempty"`
	FileIDs      []string `json:"file_ids,omitempty"`
}

type ReasoningStart struct{ sealed }

type ReasoningDelta struct {
	sealed
	Reasoning string `json:"reasoning"`
}

type ReasoningDone struct{ sealed }

// CitationInfo maps an inline citation number to a document id
type CitationInfo struct {
	sealed
	CitationNumber int    `json:"citation_number"`
	DocumentID     string `json:"document_id"`
}

type DeepResearchPlanStart struct{ sealed }

type DeepResearchPlanDelta struct {
	sealed
	Content string `json:"content"`
}

type ResearchAgentStart struct {
	sealed
	ResearchTask string `json:"research_task"`
}

type IntermediateReportStart struct{ sealed }

type IntermediateReportDelta struct {
	sealed
	Content string `json:"content"`
}

type IntermediateReportCitedDocs struct {
	sealed
	CitedDocs []Document `json:"cited_docs,omitempty"`
}

// Unknown carries a payload whose tag this client does not recognise
type Unknown struct {
	sealed
	Tag Tag
	Raw []byte
}

func (Stop) Type() Tag                        { return TagStop }
func (SectionEnd) Type() Tag                  { return TagSectionEnd }
func (TopLevelBranching) Type() Tag           { return TagTopLevelBranching }
func (Error) Type() Tag                       { return TagError }
func (MessageStart) Type() Tag                { return TagMessageStart }
func (MessageDelta) Type() Tag                { return TagMessageDelta }
func (MessageEnd) Type() Tag                  { return TagMessageEnd }
func (SearchToolStart) Type() Tag             { return TagSearchToolStart }
func (SearchToolQueriesDelta) Type() Tag      { return TagSearchToolQueriesDelta }
func (SearchToolDocumentsDelta) Type() Tag    { return TagSearchToolDocumentsDelta }
func (OpenURLStart) Type() Tag                { return TagOpenURLStart }
func (OpenURLURLs) Type() Tag                 { return TagOpenURLURLs }
func (OpenURLDocuments) Type() Tag            { return TagOpenURLDocuments }
func (ImageGenerationStart) Type() Tag        { return TagImageGenerationStart }
func (ImageGenerationHeartbeat) Type() Tag    { return TagImageGenerationHeartbeat }
func (ImageGenerationFinal) Type() Tag        { return TagImageGenerationFinal }
func (PythonToolStart) Type() Tag             { return TagPythonToolStart }
func (PythonToolDelta) Type() Tag             { return TagPythonToolDelta }
func (CustomToolStart) Type() Tag             { return TagCustomToolStart }
func (CustomToolDelta) Type() Tag             { return TagCustomToolDelta }
func (ReasoningStart) Type() Tag              { return TagReasoningStart }
func (ReasoningDelta) Type() Tag              { return TagReasoningDelta }
func (ReasoningDone) Type() Tag               { return TagReasoningDone }
func (CitationInfo) Type() Tag                { return TagCitationInfo }
func (DeepResearchPlanStart) Type() Tag       { return TagDeepResearchPlanStart }
func (DeepResearchPlanDelta) Type() Tag       { return TagDeepResearchPlanDelta }
func (ResearchAgentStart) Type() Tag          { return TagResearchAgentStart }
func (IntermediateReportStart) Type() Tag     { return TagIntermediateReportStart }
func (IntermediateReportDelta) Type() Tag     { return TagIntermediateReportDelta }
func (IntermediateReportCitedDocs) Type() Tag { return TagIntermediateReportCitedDocs }
func (u Unknown) Type() Tag                   { return u.Tag }
