package packet

import (
	"encoding/json"
	"fmt"
)

type wirePacket struct {
	Placement Placement       `json:"placement"`
	Obj       json.RawMessage `json:"obj"`
}

// newObj allocates the payload struct for a tag. Unknown tags return nil.
func newObj(tag Tag) Obj {
	switch tag {
	case TagStop:
		return &Stop{}
	case TagSectionEnd:
		return &SectionEnd{}
	case TagTopLevelBranching:
		return &TopLevelBranching{}
	case TagError:
		return &Error{}
	case TagMessageStart:
		return &MessageStart{}
	case TagMessageDelta:
		return &MessageDelta{}
	case TagMessageEnd:
		return &MessageEnd{}
	case TagSearchToolStart:
		return &SearchToolStart{}
	case TagSearchToolQueriesDelta:
		return &SearchToolQueriesDelta{}
	case TagSearchToolDocumentsDelta:
		return &SearchToolDocumentsDelta{}
	case TagOpenURLStart:
		return &OpenURLStart{}
	case TagOpenURLURLs:
		return &OpenURLURLs{}
	case TagOpenURLDocuments:
		return &OpenURLDocuments{}
	case TagImageGenerationStart:
		return &ImageGenerationStart{}
	case TagImageGenerationHeartbeat:
		return &ImageGenerationHeartbeat{}
	case TagImageGenerationFinal:
		return &ImageGenerationFinal{}
	case TagPythonToolStart:
		return &PythonToolStart{}
	case TagPythonToolDelta:
		return &PythonToolDelta{}
	case TagCustomToolStart:
		return &CustomToolStart{}
	case TagCustomToolDelta:
		return &CustomToolDelta{}
	case TagReasoningStart:
		return &ReasoningStart{}
	case TagReasoningDelta:
		return &ReasoningDelta{}
	case TagReasoningDone:
		return &ReasoningDone{}
	case TagCitationInfo:
		return &CitationInfo{}
	case TagDeepResearchPlanStart:
		return &DeepResearchPlanStart{}
	case TagDeepResearchPlanDelta:
		return &DeepResearchPlanDelta{}
	case TagResearchAgentStart:
		return &ResearchAgentStart{}
	case TagIntermediateReportStart:
		return &IntermediateReportStart{}
	case TagIntermediateReportDelta:
		return &IntermediateReportDelta{}
	case TagIntermediateReportCitedDocs:
		return &IntermediateReportCitedDocs{}
	}
	return nil
}

// deref turns the pointer produced by newObj back into the value type so
// callers can type-switch on values only.
func deref(o Obj) Obj {
	switch v := o.(type) {
	case *Stop:
		return *v
	case *SectionEnd:
		return *v
	case *TopLevelBranching:
		return *v
	case *Error:
		return *v
	case *MessageStart:
		return *v
	case *MessageDelta:
		return *v
	case *MessageEnd:
		return *v
	case *SearchToolStart:
		return *v
	case *SearchToolQueriesDelta:
		return *v
	case *SearchToolDocumentsDelta:
		return *v
	case *OpenURLStart:
		return *v
	case *OpenURLURLs:
		return *v
	case *OpenURLDocuments:
		return *v
	case *ImageGenerationStart:
		return *v
	case *ImageGenerationHeartbeat:
		return *v
	case *ImageGenerationFinal:
		return *v
	case *PythonToolStart:
		return *v
	case *PythonToolDelta:
		return *v
	case *CustomToolStart:
		return *v
	case *CustomToolDelta:
		return *v
	case *ReasoningStart:
		return *v
	case *ReasoningDelta:
		return *v
	case *ReasoningDone:
		return *v
	case *CitationInfo:
		return *v
	case *DeepResearchPlanStart:
		return *v
	case *DeepResearchPlanDelta:
		return *v
	case *ResearchAgentStart:
		return *v
	case *IntermediateReportStart:
		return *v
	case *IntermediateReportDelta:
		return *v
	case *IntermediateReportCitedDocs:
		return *v
	}
	return o
}

// DecodeObj decodes a tagged payload. Unknown tags are preserved as Unknown
// rather than rejected.
func DecodeObj(data []byte) (Obj, error) {
	var head struct {
		Type Tag `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to read packet type: %w", err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("packet payload has no type")
	}

	obj := newObj(head.Type)
	if obj == nil {
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unknown{Tag: head.Type, Raw: raw}, nil
	}

	if err := json.Unmarshal(data, obj); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", head.Type, err)
	}
	return deref(obj), nil
}

// EncodeObj encodes a payload with its "type" discriminator
func EncodeObj(obj Obj) ([]byte, error) {
	if u, ok := obj.(Unknown); ok {
		return u.Raw, nil
	}

	body, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", obj.Type(), err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(obj.Type())
	fields["type"] = tag
	return json.Marshal(fields)
}

// UnmarshalJSON implements json.Unmarshaler
func (p *Packet) UnmarshalJSON(data []byte) error {
	var wire wirePacket
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire.Obj) == 0 {
		return fmt.Errorf("packet has no obj")
	}

	obj, err := DecodeObj(wire.Obj)
	if err != nil {
		return err
	}

	p.Placement = wire.Placement
	p.Obj = obj
	return nil
}

// MarshalJSON implements json.Marshaler
func (p Packet) MarshalJSON() ([]byte, error) {
	if p.Obj == nil {
		return nil, fmt.Errorf("packet has no obj")
	}
	obj, err := EncodeObj(p.Obj)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wirePacket{Placement: p.Placement, Obj: obj})
}
