package process

// State is the submission state of one chat session
type State string

const (
	// StateInput accepts a new submission
	StateInput State = "input"

	// StateLoading waits for the first content packet of a response
	StateLoading State = "loading"

	// StateStreaming applies packets as they arrive
	StateStreaming State = "streaming"

	// StateUploading attaches files before a submission can be sent
	StateUploading State = "uploading"
)

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// GetIcon returns the appropriate icon for a given state
func (s State) GetIcon() string {
	switch s {
	case StateLoading:
		return "…"
	case StateStreaming:
		return "↓"
	case StateUploading:
		return "↑"
	default:
		return ""
	}
}

// GetDisplayName returns a human-readable name for the state
func (s State) GetDisplayName() string {
	switch s {
	case StateInput:
		return "Ready"
	case StateLoading:
		return "Waiting for response"
	case StateStreaming:
		return "Streaming"
	case StateUploading:
		return "Uploading"
	default:
		return ""
	}
}

// CanSubmit reports whether a new message may be sent from this state
func (s State) CanSubmit() bool {
	return s == StateInput
}

// Busy reports whether a response is in flight
func (s State) Busy() bool {
	return s == StateLoading || s == StateStreaming
}
