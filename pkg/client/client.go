// Package client provides the public Go SDK for a treadline deployment:
// session login, batch recommendation calls, and engine diagnostics.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client calls the treadline HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authorize  func(ctx context.Context, req *http.Request) error
	timeout    time.Duration
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	// BaseURL of the deployment, e.g. "http://localhost:8080".
	BaseURL string
	// HTTPClient to send with. Session-guarded endpoints need a client
	// with a cookie jar so the login cookie is replayed. Defaults to a
	// plain client.
	HTTPClient *http.Client
	// Authorize, when set, attaches credentials (e.g. a bearer token)
	// to every outgoing request.
	Authorize func(ctx context.Context, req *http.Request) error
	// RequestTimeout caps each call. Zero means the caller's context
	// governs alone.
	RequestTimeout time.Duration
}

// NewClient creates a treadline API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: hc,
		authorize:  cfg.Authorize,
		timeout:    cfg.RequestTimeout,
	}, nil
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: status %d, body: %s", e.StatusCode, e.Body)
}

// CAM identifies one vehicle/size combination.
type CAM struct {
	Vehicle string `json:"Vehicle"`
	Size    string `json:"Size"`
}

// BatchParams are the optional tuning knobs sent with a batch. Zero
// values are omitted and the engine applies its defaults.
type BatchParams struct {
	GoldilocksZonePct     float64 `json:"goldilocks_zone_pct,omitempty"`
	PriceFluctuationUpper float64 `json:"price_fluctuation_upper,omitempty"`
	PriceFluctuationLower float64 `json:"price_fluctuation_lower,omitempty"`
	BrandEnhancer         string  `json:"brand_enhancer,omitempty"`
	ModelEnhancer         string  `json:"model_enhancer,omitempty"`
	Season                string  `json:"season,omitempty"`
	Pod                   string  `json:"pod,omitempty"`
	Segment               string  `json:"segment,omitempty"`
	DisableSearch         *bool   `json:"disable_search,omitempty"`
}

// BatchRequest is the payload of POST /api/recommendations/batch.
type BatchRequest struct {
	RunID  string      `json:"run_id"`
	CAMs   []CAM       `json:"cams"`
	Params BatchParams `json:"params"`
}

// Usage carries token counters for the model calls a batch made.
type Usage struct {
	PromptTokens     int64 `json:"prompt_token_count"`
	CompletionTokens int64 `json:"candidates_token_count"`
	TotalTokens      int64 `json:"total_token_count"`
}

// Recommendation is one CAM's result row.
type Recommendation struct {
	Vehicle   string   `json:"Vehicle"`
	Size      string   `json:"Size"`
	HB1       string   `json:"HB1"`
	HB2       string   `json:"HB2"`
	HB3       string   `json:"HB3"`
	HB4       string   `json:"HB4"`
	SKUs      []string `json:"SKUs"`
	Success   bool     `json:"success"`
	ErrorCode string   `json:"error_code,omitempty"`
	Usage     *Usage   `json:"usage,omitempty"`
}

// BatchResponse is the answer to a batch call: one recommendation per
// input CAM, index-aligned, plus summed usage.
type BatchResponse struct {
	RunID   string           `json:"run_id"`
	Results []Recommendation `json:"results"`
	Usage   Usage            `json:"usage"`
}

// EngineStatus is the diagnostics shape of GET /api/status/engine.
type EngineStatus struct {
	Status        string    `json:"status"`
	Version       string    `json:"version"`
	Mode          string    `json:"mode"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	MaxBatchCAMs  int       `json:"max_batch_cams"`
	MaxWorkers    int       `json:"max_workers"`
}

// Login authenticates with the service password. The session cookie
// lands in the configured HTTP client's jar.
func (c *Client) Login(ctx context.Context, password string) error {
	form := url.Values{"password": {password}}
	req, err := c.newRequest(ctx, http.MethodPost, "/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, nil)
}

// FetchBatch runs one batch of CAMs and returns index-aligned results.
func (c *Client) FetchBatch(ctx context.Context, breq BatchRequest) (*BatchResponse, error) {
	body, err := json.Marshal(breq)
	if err != nil {
		return nil, fmt.Errorf("marshal batch request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/recommendations/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out BatchResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EngineStatus fetches the engine diagnostics.
func (c *Client) EngineStatus(ctx context.Context) (*EngineStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/status/engine", nil)
	if err != nil {
		return nil, err
	}
	var out EngineStatus
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks service liveness.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	ctx := req.Context()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	if c.authorize != nil {
		if err := c.authorize(ctx, req); err != nil {
			return fmt.Errorf("authorize request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
