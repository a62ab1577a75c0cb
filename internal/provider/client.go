// Package provider implements the boundary client for the paid remote
// correction provider. It normalizes the two response shapes providers are
// known to return into the pipeline's Issue type and carries the best-effort
// accept/reject feedback calls.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	btclog "github.com/btcsuite/btclog/v2"
	"github.com/quillworks/redline/internal/build"
	"github.com/quillworks/redline/internal/issue"
)

// defaultTimeout bounds every provider call. Checks are advisory; a hung
// provider must not hold a session hostage.
const defaultTimeout = 30 * time.Second

// Config holds the provider client construction parameters.
type Config struct {
	// BaseURL is the provider's API root, e.g. "https://api.example.com".
	BaseURL string

	// APIKey is sent as a bearer credential on every call.
	APIKey string

	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client

	// Logger receives validation warnings. Defaults to a nop logger.
	Logger btclog.Logger
}

// Client calls the remote correction provider.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     btclog.Logger
}

// NewClient creates a provider client.
func NewClient(cfg *Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	log := cfg.Logger
	if log == nil {
		log = build.NewNopLogger()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  client,
		log:     log,
	}
}

// checkRequest is the wire request for a correction check.
type checkRequest struct {
	Text string `json:"text"`
}

// checkEnvelope covers both known provider response shapes. Exactly one of
// the two lists is expected to be populated; the errors shape wins when both
// are present.
type checkEnvelope struct {
	Errors []wireError `json:"errors"`
	Edits  []wireEdit  `json:"edits"`
}

// wireError is the issue-per-token response shape.
type wireError struct {
	Offset      int      `json:"offset"`
	Token       string   `json:"token"`
	Type        string   `json:"type"`
	Suggestions []string `json:"suggestions"`
	EditID      string   `json:"editId"`
}

// wireEdit is the provider-native edit-span response shape. The flagged
// token is not carried on the wire; it is recovered by slicing the request
// text with the start/end offsets.
type wireEdit struct {
	ID          string `json:"id"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Replacement string `json:"replacement"`
	ErrorType   string `json:"error_type"`
}

// Check submits the raw text for correction and returns the normalized,
// validated issues. Malformed individual entries are dropped and logged; a
// transport or decode failure returns an error with no partial results.
func (c *Client) Check(ctx context.Context,
	text string) ([]issue.Issue, error) {

	body, err := json.Marshal(checkRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode check request: %w",
			err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/check",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build check request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("check call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("check call returned status %d",
			resp.StatusCode)
	}

	var envelope checkEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode check response: %w",
			err)
	}

	return c.normalize(text, envelope), nil
}

// normalize converts whichever response shape the provider used into the
// pipeline Issue type, dropping entries that fail validation.
func (c *Client) normalize(text string,
	envelope checkEnvelope) []issue.Issue {

	var issues []issue.Issue

	switch {
	case len(envelope.Errors) > 0:
		for _, e := range envelope.Errors {
			iss := issue.Issue{
				Offset:      e.Offset,
				Token:       e.Token,
				Type:        e.Type,
				Suggestions: e.Suggestions,
				EditID:      e.EditID,
			}
			if !iss.Valid() {
				c.log.Warnf("Dropping malformed provider "+
					"issue: token=%q offset=%d",
					e.Token, e.Offset)
				continue
			}
			issues = append(issues, iss)
		}

	case len(envelope.Edits) > 0:
		for _, e := range envelope.Edits {
			if e.Start < 0 || e.End > len(text) ||
				e.Start >= e.End {

				c.log.Warnf("Dropping provider edit with "+
					"bad span: id=%s start=%d end=%d",
					e.ID, e.Start, e.End)
				continue
			}

			iss := issue.Issue{
				Offset:      e.Start,
				Token:       text[e.Start:e.End],
				Type:        e.ErrorType,
				Suggestions: []string{e.Replacement},
				EditID:      e.ID,
			}
			if !iss.Valid() {
				c.log.Warnf("Dropping malformed provider "+
					"edit: id=%s", e.ID)
				continue
			}
			issues = append(issues, iss)
		}
	}

	return issues
}

// Accept reports to the provider that the user accepted the edit. Callers
// treat this as best-effort and do not gate local state on it.
func (c *Client) Accept(ctx context.Context, editID string) error {
	return c.feedback(ctx, "accept", editID)
}

// Reject reports to the provider that the user rejected the edit.
func (c *Client) Reject(ctx context.Context, editID string) error {
	return c.feedback(ctx, "reject", editID)
}

// feedback posts an accept/reject signal for the given edit ID.
func (c *Client) feedback(ctx context.Context, verb, editID string) error {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, verb, editID)
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, nil,
	)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", verb, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s call failed: %w", verb, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK &&
		resp.StatusCode != http.StatusNoContent {

		return fmt.Errorf("%s call returned status %d", verb,
			resp.StatusCode)
	}

	return nil
}
