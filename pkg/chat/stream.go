package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/killallgit/chatstream/pkg/logger"
	"github.com/killallgit/chatstream/pkg/packet"
	"github.com/killallgit/chatstream/pkg/stream"
)

// maxLineSize bounds one NDJSON line. Document-heavy packets can be large.
const maxLineSize = 8 * 1024 * 1024

// MessageIDs carries the backend ids assigned to the new user message and
// the assistant message being generated.
type MessageIDs struct {
	UserMessageID              *int `json:"user_message_id"`
	ReservedAssistantMessageID int  `json:"reserved_assistant_message_id"`
}

// StreamError is a failure the backend reports inside the stream
type StreamError struct {
	Error       string         `json:"error"`
	StackTrace  string         `json:"stack_trace,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	IsRetryable bool           `json:"is_retryable"`
	Details     map[string]any `json:"details,omitempty"`
}

// Event is one line of the response stream. Exactly one field is set.
type Event struct {
	Packet *packet.Packet
	IDs    *MessageIDs
	Err    *StreamError
}

// EventStream is the queue a response is delivered on
type EventStream = stream.Queue[Event]

// NewEventStream creates an open, empty event queue
func NewEventStream() *EventStream {
	return stream.NewQueue[Event]()
}

// DecodeEvent decodes one NDJSON line
func DecodeEvent(line []byte) (Event, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(line, &probe); err != nil {
		return Event{}, fmt.Errorf("failed to parse stream line: %w", err)
	}

	switch {
	case probe["obj"] != nil:
		var p packet.Packet
		if err := json.Unmarshal(line, &p); err != nil {
			return Event{}, err
		}
		return Event{Packet: &p}, nil

	case probe["reserved_assistant_message_id"] != nil:
		var ids MessageIDs
		if err := json.Unmarshal(line, &ids); err != nil {
			return Event{}, fmt.Errorf("failed to parse message ids: %w", err)
		}
		return Event{IDs: &ids}, nil

	case probe["error"] != nil:
		var se StreamError
		if err := json.Unmarshal(line, &se); err != nil {
			return Event{}, fmt.Errorf("failed to parse stream error: %w", err)
		}
		return Event{Err: &se}, nil
	}

	return Event{}, fmt.Errorf("unrecognised stream line")
}

// ReadStream decodes body line by line into q and closes q when the body
// ends. Lines that fail to decode are logged and skipped. Cancelling ctx
// stops reading; packets already queued stay queued.
func ReadStream(ctx context.Context, body io.Reader, q *EventStream) {
	log := logger.WithComponent("stream_reader")

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lines := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			q.Close(err)
			return
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines++

		ev, err := DecodeEvent(line)
		if err != nil {
			log.Warn("skipping stream line", "line", lines, "error", err)
			continue
		}
		q.Push(ev)
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		q.Close(fmt.Errorf("stream reading error: %w", err))
		return
	}
	q.Close(nil)
}
