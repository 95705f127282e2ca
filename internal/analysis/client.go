// Package analysis is the HTTP client for the external browser-automation
// and LLM analysis agent. The agent screenshots the target site, runs
// Lighthouse and asks an LLM to flag UX/UI issues; none of that logic lives
// here, only the wire call.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Request is the body of the agent's /analyze endpoint.
type Request struct {
	URL             string `json:"url"`
	SaveScreenshots bool   `json:"save_screenshots"`
}

// Report is the agent's analysis result.
type Report struct {
	URL         string          `json:"url"`
	LoadTime    float64         `json:"loadTime"`
	Issues      []string        `json:"issues"`
	Screenshots json.RawMessage `json:"screenshots,omitempty"`
	Lighthouse  json.RawMessage `json:"lighthouse,omitempty"`
}

// Client calls the analysis agent over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a Client for the agent at baseURL. The timeout bounds
// the whole analysis round trip, which includes page load, screenshots and
// the LLM call, so it is measured in minutes rather than seconds.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		log:     logger.With().Str("component", "analysis_client").Logger(),
	}
}

// Analyze submits the URL for analysis and returns the agent's report. The
// requestID is forwarded for log correlation across services.
func (c *Client) Analyze(ctx context.Context, requestID string, req Request) (*Report, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call analysis agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("analysis agent returned %d: %s", resp.StatusCode, payload)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode analysis report: %w", err)
	}

	c.log.Debug().
		Str("request_id", requestID).
		Str("url", req.URL).
		Int("issues", len(report.Issues)).
		Dur("duration", time.Since(start)).
		Msg("analysis completed")

	return &report, nil
}
