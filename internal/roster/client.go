package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the student registry microservice for section rosters.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Stub short-circuits the network call and returns a canned roster,
	// for local development without the registry running.
	Stub bool
}

// NewClient creates a registry client with a request timeout.
func NewClient(baseURL string, stub bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Stub:    stub,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type rosterResponse struct {
	SectionID string   `json:"section_id"`
	Students  []string `json:"students"`
}

// RosterForSection fetches the enrolled student ids for a section.
func (c *Client) RosterForSection(ctx context.Context, sectionID string) ([]string, error) {
	if c.Stub {
		return []string{"stu-001", "stu-002", "stu-003"}, nil
	}

	url := fmt.Sprintf("%s/v1/sections/%s/roster", c.BaseURL, sectionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("roster service returned %d: %s", resp.StatusCode, string(body))
	}

	var out rosterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode roster response: %w", err)
	}
	return out.Students, nil
}

// Health pings the registry service.
func (c *Client) Health(ctx context.Context) error {
	if c.Stub {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("roster service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
