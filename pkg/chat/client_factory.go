package chat

import (
	"fmt"
	"net/url"

	"github.com/killallgit/chatstream/pkg/config"
)

// NewClientFromConfig creates a backend client from the backend section of
// the configuration.
func NewClientFromConfig(cfg config.BackendConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("backend url is not configured")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", cfg.URL)
	}

	client := NewClient(cfg.URL)
	if cfg.Timeout > 0 {
		client = NewClientWithTimeout(cfg.URL, cfg.Timeout)
	}
	return client.WithAPIKey(cfg.APIKey), nil
}
