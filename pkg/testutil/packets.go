package testutil

import (
	"strings"

	"github.com/killallgit/chatstream/pkg/packet"
)

// TextResponse builds a plain answer in turn: message_start, one delta per
// word, section_end and stop.
func TextResponse(turn int, text string) []packet.Packet {
	out := []packet.Packet{packet.At(turn, 0, packet.MessageStart{})}
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if w == "" {
			continue
		}
		out = append(out, packet.At(turn, 0, packet.MessageDelta{Content: w}))
	}
	return append(out,
		packet.At(turn, 0, packet.SectionEnd{}),
		packet.At(turn, 0, packet.Stop{StopReason: "finished"}),
	)
}

// SearchThenAnswer builds a web search in turn 0 followed by the answer in
// turn 1.
func SearchThenAnswer(query, answer string) []packet.Packet {
	out := []packet.Packet{
		packet.At(0, 0, packet.SearchToolStart{IsInternetSearch: true}),
		packet.At(0, 0, packet.SearchToolQueriesDelta{Queries: []string{query}}),
		packet.At(0, 0, packet.SearchToolDocumentsDelta{Documents: []packet.Document{
			{DocumentID: "doc-1", SemanticIdentifier: "First result", Link: "https://example.com/1"},
			{DocumentID: "doc-2", SemanticIdentifier: "Second result", Link: "https://example.com/2"},
		}}),
		packet.At(0, 0, packet.SectionEnd{}),
	}
	return append(out, TextResponse(1, answer)...)
}

// ParallelImages builds two image generations running side by side in turn
// followed by a short answer in the next turn.
func ParallelImages(turn int) []packet.Packet {
	out := []packet.Packet{
		packet.At(turn, 0, packet.TopLevelBranching{NumParallelBranches: 2}),
		packet.At(turn, 0, packet.ImageGenerationStart{}),
		packet.At(turn, 1, packet.ImageGenerationStart{}),
		packet.At(turn, 0, packet.ImageGenerationFinal{Images: []packet.GeneratedImage{{FileID: "img-a", URL: "https://example.com/a.png", RevisedPrompt: "a cat"}}}),
		packet.At(turn, 0, packet.SectionEnd{}),
		packet.At(turn, 1, packet.ImageGenerationFinal{Images: []packet.GeneratedImage{{FileID: "img-b", URL: "https://example.com/b.png", RevisedPrompt: "a dog"}}}),
		packet.At(turn, 1, packet.SectionEnd{}),
	}
	return append(out, TextResponse(turn+1, "Here are both images.")...)
}

// ErrorResponse builds a response that starts answering and then fails
func ErrorResponse(message string) []packet.Packet {
	return []packet.Packet{
		packet.At(0, 0, packet.MessageStart{}),
		packet.At(0, 0, packet.MessageDelta{Content: "Partial "}),
		packet.At(0, 0, packet.Error{Message: message}),
	}
}
