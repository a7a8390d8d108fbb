package packet

func IsChatPacket(p Packet) bool {
	return p.Family() == FamilyChat
}

func IsSearchToolPacket(p Packet) bool {
	return p.Family() == FamilySearch
}

func IsFetchToolPacket(p Packet) bool {
	return p.Family() == FamilyFetch
}

func IsImageToolPacket(p Packet) bool {
	return p.Family() == FamilyImage
}

func IsPythonToolPacket(p Packet) bool {
	return p.Family() == FamilyPython
}

func IsCustomToolPacket(p Packet) bool {
	return p.Family() == FamilyCustomTool
}

func IsReasoningPacket(p Packet) bool {
	return p.Family() == FamilyReasoning
}

func IsCitationPacket(p Packet) bool {
	return p.Family() == FamilyCitation
}

func IsDeepResearchPlanPacket(p Packet) bool {
	return p.Family() == FamilyDeepResearchPlan
}

// IsResearchAgentPacket covers research agent starts and intermediate reports
func IsResearchAgentPacket(p Packet) bool {
	return p.Family() == FamilyResearchAgent
}

func IsControlPacket(p Packet) bool {
	return p.Family() == FamilyControl
}

// IsErrorPacket reports a bare error control packet
func IsErrorPacket(p Packet) bool {
	return p.Type() == TagError
}

// IsSectionEnd reports whether p structurally closes its group
func IsSectionEnd(p Packet) bool {
	t := p.Type()
	return t == TagSectionEnd || t == TagError
}

// IsToolPacket reports tool, reasoning and deep research packets. With
// includeControl, section_end and error also count since they close a
// tool block.
func IsToolPacket(p Packet, includeControl bool) bool {
	switch p.Family() {
	case FamilySearch, FamilyFetch, FamilyImage, FamilyPython, FamilyCustomTool,
		FamilyReasoning, FamilyDeepResearchPlan, FamilyResearchAgent:
		return true
	}
	return includeControl && IsSectionEnd(p)
}

// IsActualToolCallPacket reports a genuine tool invocation: tool packets
// minus reasoning and control tags.
func IsActualToolCallPacket(p Packet) bool {
	return IsToolPacket(p, false) && !IsReasoningPacket(p)
}

// IsDisplayPacket reports the packets that begin user-visible final output:
// the chat answer, or a tool whose result is shown directly.
func IsDisplayPacket(p Packet) bool {
	switch p.Type() {
	case TagMessageStart, TagImageGenerationStart, TagPythonToolStart:
		return true
	}
	return false
}

// IsStreamingComplete reports whether the stop packet has arrived
func IsStreamingComplete(packets []Packet) bool {
	for _, p := range packets {
		if p.Type() == TagStop {
			return true
		}
	}
	return false
}

// IsFinalAnswerComing reports whether the final answer has started
func IsFinalAnswerComing(packets []Packet) bool {
	for _, p := range packets {
		if IsDisplayPacket(p) {
			return true
		}
	}
	return false
}

// IsFinalAnswerComplete reports whether the turn holding the first display
// packet has been closed by a section_end or error.
func IsFinalAnswerComplete(packets []Packet) bool {
	turn := -1
	for _, p := range packets {
		if IsDisplayPacket(p) {
			turn = p.Placement.TurnIndex
			break
		}
	}
	if turn < 0 {
		return false
	}

	for _, p := range packets {
		if IsSectionEnd(p) && p.Placement.TurnIndex == turn {
			return true
		}
	}
	return false
}

// FinalAnswerTracker follows IsFinalAnswerComing incrementally. It resets
// when a real tool call starts in a later turn than the display packet.
type FinalAnswerTracker struct {
	coming bool
	turn   int
}

// Observe feeds one packet and returns the current state
func (t *FinalAnswerTracker) Observe(p Packet) bool {
	switch {
	case IsDisplayPacket(p):
		t.coming = true
		t.turn = p.Placement.TurnIndex
	case t.coming && IsActualToolCallPacket(p) && p.Placement.TurnIndex > t.turn:
		t.coming = false
	}
	return t.coming
}

// Coming reports whether the final answer is currently streaming
func (t *FinalAnswerTracker) Coming() bool {
	return t.coming
}
