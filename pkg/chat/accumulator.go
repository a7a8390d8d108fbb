package chat

import (
	"strings"

	"github.com/killallgit/chatstream/pkg/packet"
)

// Tool names recorded on assistant messages for the built-in tools
const (
	ToolSearch   = "run_search"
	ToolOpenURL  = "open_url"
	ToolImageGen = "generate_image"
	ToolPython   = "run_python"
)

// ApplyPackets derives an assistant message's content from the full packet
// list received so far. It is pure: msg is not modified and the same input
// always yields the same message.
func ApplyPackets(msg Message, packets []packet.Packet) Message {
	out := msg.clone()
	out.Packets = append([]packet.Packet(nil), packets...)

	var text, reasoning strings.Builder
	citations := map[int]string{}
	var docs []packet.Document
	seenDocs := map[string]bool{}
	addDocs := func(ds []packet.Document) {
		for _, d := range ds {
			if d.DocumentID != "" && seenDocs[d.DocumentID] {
				continue
			}
			seenDocs[d.DocumentID] = true
			docs = append(docs, d)
		}
	}

	var tool *ToolCallMetadata
	startTool := func(name string, args map[string]any) {
		tool = &ToolCallMetadata{ToolName: name, ToolArgs: args}
	}

	for _, p := range packets {
		switch obj := p.Obj.(type) {
		case packet.MessageStart:
			addDocs(obj.FinalDocuments)
		case packet.MessageDelta:
			text.WriteString(obj.Content)
		case packet.ReasoningDelta:
			reasoning.WriteString(obj.Reasoning)
		case packet.CitationInfo:
			citations[obj.CitationNumber] = obj.DocumentID
		case packet.Stop:
			out.StopReason = obj.StopReason

		case packet.SearchToolStart:
			startTool(ToolSearch, map[string]any{"internet_search": obj.IsInternetSearch})
		case packet.SearchToolQueriesDelta:
			if tool != nil {
				tool.ToolArgs["queries"] = append(stringsArg(tool.ToolArgs["queries"]), obj.Queries...)
			}
		case packet.SearchToolDocumentsDelta:
			addDocs(obj.Documents)

		case packet.OpenURLStart:
			startTool(ToolOpenURL, map[string]any{})
		case packet.OpenURLURLs:
			if tool != nil {
				tool.ToolArgs["urls"] = append(stringsArg(tool.ToolArgs["urls"]), obj.URLs...)
			}
		case packet.OpenURLDocuments:
			addDocs(obj.Documents)

		case packet.ImageGenerationStart:
			startTool(ToolImageGen, map[string]any{})
		case packet.ImageGenerationFinal:
			if tool != nil {
				tool.Result = obj.Images
			}

		case packet.PythonToolStart:
			startTool(ToolPython, map[string]any{"code": obj.Code})
		case packet.PythonToolDelta:
			if tool != nil {
				prev, _ := tool.Result.(string)
				tool.Result = prev + obj.Stdout
			}

		case packet.CustomToolStart:
			startTool(obj.ToolName, map[string]any{})
		case packet.CustomToolDelta:
			if tool != nil {
				tool.Result = obj.Data
			}

		case packet.IntermediateReportCitedDocs:
			addDocs(obj.CitedDocs)
		}
	}

	out.Message = text.String()
	out.Reasoning = reasoning.String()
	out.Documents = docs
	out.Citations = nil
	if len(citations) > 0 {
		out.Citations = citations
	}
	out.ToolCall = tool
	return out
}

func stringsArg(v any) []string {
	s, _ := v.([]string)
	return s
}

// FirstError returns the first error packet in packets
func FirstError(packets []packet.Packet) (packet.Error, bool) {
	for _, p := range packets {
		if e, ok := p.Obj.(packet.Error); ok {
			return e, true
		}
	}
	return packet.Error{}, false
}
