package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LLMOverride selects a model for a single request
type LLMOverride struct {
	ModelProvider string   `json:"model_provider,omitempty"`
	ModelVersion  string   `json:"model_version,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
}

// SendMessageRequest is the body of a send-chat-message call
type SendMessageRequest struct {
	ChatSessionID    string           `json:"chat_session_id"`
	ParentMessageID  *int             `json:"parent_message_id"`
	Message          string           `json:"message"`
	FileDescriptors  []FileDescriptor `json:"file_descriptors"`
	SearchDocIDs     []int            `json:"search_doc_ids"`
	RetrievalOptions map[string]any   `json:"retrieval_options"`
	Regenerate       bool             `json:"regenerate,omitempty"`
	LLMOverride      *LLMOverride     `json:"llm_override,omitempty"`
	ForcedToolIDs    []int            `json:"forced_tool_ids,omitempty"`
	AlternatePersona *int             `json:"alternate_assistant_id,omitempty"`
	DeepResearch     bool             `json:"deep_research,omitempty"`
}

type renameRequest struct {
	ChatSessionID string  `json:"chat_session_id"`
	Name          *string `json:"name"`
}

type renameResponse struct {
	NewName string `json:"new_name"`
}

// Client talks to the chat backend over HTTP
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client with a 60 second timeout for non-streaming
// calls. Streams are bounded by the caller's context only.
func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, 60*time.Second)
}

// NewClientWithTimeout creates a client with a custom timeout
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithAPIKey sets the bearer token sent with every request
func (c *Client) WithAPIKey(key string) *Client {
	c.apiKey = key
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// statusError reads a non-2xx response into an error
func statusError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("request failed with status %d (failed to read error response: %w)", resp.StatusCode, err)
	}

	var errorResp struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &errorResp) == nil {
		if errorResp.Detail != "" {
			return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, errorResp.Detail)
		}
		if errorResp.Error != "" {
			return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, errorResp.Error)
		}
	}
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// SendMessage starts a response stream. A nil ParentMessageID places the
// message at the session root; AutoPlaceParentID places it after the latest
// message. Events are pushed to the returned queue by a background reader
// that closes it when the response ends or ctx is cancelled.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*EventStream, error) {
	if req.FileDescriptors == nil {
		req.FileDescriptors = []FileDescriptor{}
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/chat/send-chat-message", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/x-ndjson")

	// the stream outlives the client timeout, so use a copy without one
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	q := NewEventStream()
	go func() {
		defer resp.Body.Close()
		ReadStream(ctx, resp.Body, q)
	}()
	return q, nil
}

// StopChatSession asks the backend to stop generating for a session
func (c *Client) StopChatSession(ctx context.Context, sessionID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/stop-chat-session/"+sessionID, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stop request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	return nil
}

// RenameChatSession asks the backend to generate a name for a session and
// returns it.
func (c *Client) RenameChatSession(ctx context.Context, sessionID string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPut, "/chat/rename-chat-session", renameRequest{ChatSessionID: sessionID})
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("rename request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var out renameResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return out.NewName, nil
}
