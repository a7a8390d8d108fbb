package chat

import (
	"strings"
	"time"

	"github.com/killallgit/chatstream/pkg/packet"
)

// MessageType is the kind of node in the message tree
type MessageType string

const (
	TypeUser      MessageType = "user"
	TypeAssistant MessageType = "assistant"
	TypeError     MessageType = "error"
	TypeSystem    MessageType = "system"
)

// SystemNodeID is the fixed id of every tree's synthetic root
const SystemNodeID = -3

// AutoPlaceParentID asks the backend to attach a message after the latest
// message of the session.
const AutoPlaceParentID = -1

// FileDescriptor is an attachment of a user message
type FileDescriptor struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// ToolCallMetadata describes the tool an assistant message invoked
type ToolCallMetadata struct {
	ToolName string         `json:"tool_name"`
	ToolArgs map[string]any `json:"tool_args,omitempty"`
	Result   any            `json:"tool_result,omitempty"`
}

// Message is one node of the message tree
type Message struct {
	NodeID            int               `json:"node_id"`
	ParentNodeID      *int              `json:"parent_node_id"`
	Type              MessageType       `json:"type"`
	Message           string            `json:"message"`
	Files             []FileDescriptor  `json:"files,omitempty"`
	ToolCall          *ToolCallMetadata `json:"tool_call,omitempty"`
	ChildrenNodeIDs   []int             `json:"children_node_ids,omitempty"`
	LatestChildNodeID *int              `json:"latest_child_node_id"`
	Packets           []packet.Packet   `json:"packets,omitempty"`
	Citations         map[int]string    `json:"citations,omitempty"`
	Documents         []packet.Document `json:"documents,omitempty"`
	Reasoning         string            `json:"reasoning,omitempty"`
	StopReason        string            `json:"stop_reason,omitempty"`
	StackTrace        string            `json:"stack_trace,omitempty"`
	ErrorCode         string            `json:"error_code,omitempty"`
	Retryable         bool              `json:"retryable,omitempty"`
	OverriddenModel   string            `json:"overridden_model,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
}

// IntPtr returns a pointer to a copy of v
func IntPtr(v int) *int {
	return &v
}

// NewSystemRoot creates the root node of a tree
func NewSystemRoot() Message {
	return Message{
		NodeID:    SystemNodeID,
		Type:      TypeSystem,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a user node under parent
func NewUserMessage(nodeID, parent int, content string, files []FileDescriptor) Message {
	return Message{
		NodeID:       nodeID,
		ParentNodeID: IntPtr(parent),
		Type:         TypeUser,
		Message:      strings.TrimSpace(content),
		Files:        files,
		Timestamp:    time.Now(),
	}
}

// NewAssistantPlaceholder creates an empty assistant node under parent
func NewAssistantPlaceholder(nodeID, parent int) Message {
	return Message{
		NodeID:       nodeID,
		ParentNodeID: IntPtr(parent),
		Type:         TypeAssistant,
		Timestamp:    time.Now(),
	}
}

func (m Message) IsUser() bool {
	return m.Type == TypeUser
}

func (m Message) IsAssistant() bool {
	return m.Type == TypeAssistant
}

func (m Message) IsSystem() bool {
	return m.Type == TypeSystem
}

func (m Message) IsError() bool {
	return m.Type == TypeError
}

func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Message) == ""
}

func (m Message) HasToolCall() bool {
	return m.ToolCall != nil
}

// AsError converts m into an error node carrying the failure details
func (m Message) AsError(text, stackTrace, code string, retryable bool) Message {
	m.Type = TypeError
	m.Message = text
	m.StackTrace = stackTrace
	m.ErrorCode = code
	m.Retryable = retryable
	m.ToolCall = nil
	return m
}

// clone copies m deep enough that edits to the copy's slices, maps and
// pointers never reach m.
func (m Message) clone() Message {
	out := m
	if m.ParentNodeID != nil {
		out.ParentNodeID = IntPtr(*m.ParentNodeID)
	}
	if m.LatestChildNodeID != nil {
		out.LatestChildNodeID = IntPtr(*m.LatestChildNodeID)
	}
	if m.ChildrenNodeIDs != nil {
		out.ChildrenNodeIDs = append([]int(nil), m.ChildrenNodeIDs...)
	}
	if m.Files != nil {
		out.Files = append([]FileDescriptor(nil), m.Files...)
	}
	if m.Packets != nil {
		out.Packets = append([]packet.Packet(nil), m.Packets...)
	}
	if m.Documents != nil {
		out.Documents = append([]packet.Document(nil), m.Documents...)
	}
	if m.Citations != nil {
		out.Citations = make(map[int]string, len(m.Citations))
		for k, v := range m.Citations {
			out.Citations[k] = v
		}
	}
	if m.ToolCall != nil {
		tc := *m.ToolCall
		out.ToolCall = &tc
	}
	return out
}
