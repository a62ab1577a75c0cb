// Package remote implements the HTTP client for a redlined server. It is
// what the CLI and embedding editor hosts use: it satisfies the session's
// checker and feedback interfaces and the ignore registry's remote store,
// all against the server's /api/v1 surface.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quillworks/redline/internal/issue"
)

// defaultTimeout bounds every server call.
const defaultTimeout = 30 * time.Second

// Config holds the client construction parameters.
type Config struct {
	// BaseURL is the redlined server root, e.g. "http://localhost:8433".
	BaseURL string

	// Token is the bearer credential identifying the user.
	Token string

	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
}

// Client calls a redlined server.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a redlined API client.
func NewClient(cfg *Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  client,
	}
}

// do runs one JSON round trip. A nil in skips the request body; a nil out
// drains and discards the response body.
func (c *Client) do(ctx context.Context, method, path string, in,
	out any) error {

	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, body,
	)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned status %d", method, path,
			resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	return nil
}

// Check submits text for correction.
func (c *Client) Check(ctx context.Context,
	text string) ([]issue.Issue, error) {

	var resp struct {
		Issues []issue.Issue `json:"issues"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/check", struct {
		Text string `json:"text"`
	}{Text: text}, &resp)
	if err != nil {
		return nil, err
	}

	return resp.Issues, nil
}

// ListRules fetches the calling user's ignore rules.
func (c *Client) ListRules(ctx context.Context) ([]issue.Rule, error) {
	var resp struct {
		Rules []issue.Rule `json:"rules"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/ignores", nil, &resp)
	if err != nil {
		return nil, err
	}

	return resp.Rules, nil
}

// CreateRule persists a new ignore rule.
func (c *Client) CreateRule(ctx context.Context, token,
	issueType string) (issue.Rule, error) {

	var rule issue.Rule
	err := c.do(ctx, http.MethodPost, "/api/v1/ignores", struct {
		Token string `json:"token"`
		Type  string `json:"type"`
	}{Token: token, Type: issueType}, &rule)
	if err != nil {
		return issue.Rule{}, err
	}

	return rule, nil
}

// DeleteRule removes the rule with the given ID.
func (c *Client) DeleteRule(ctx context.Context, ruleID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/ignores/"+ruleID,
		nil, nil)
}

// DeleteAllRules removes every rule for the calling user.
func (c *Client) DeleteAllRules(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/ignores", nil, nil)
}

// Accept reports an accepted edit to the server, which proxies it to the
// provider.
func (c *Client) Accept(ctx context.Context, editID string) error {
	return c.do(ctx, http.MethodPost,
		"/api/v1/feedback/accept/"+editID, nil, nil)
}

// Reject reports a rejected edit.
func (c *Client) Reject(ctx context.Context, editID string) error {
	return c.do(ctx, http.MethodPost,
		"/api/v1/feedback/reject/"+editID, nil, nil)
}
