// Package genai streams completions from the generative model endpoint.
package genai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/domain"
	"github.com/treadline-ai/treadline/internal/observability"
)

// TokenProvider supplies the bearer token for model calls. A provider may
// return an empty token (local mode), in which case the header is omitted.
type TokenProvider interface {
	IdentityToken(ctx context.Context) (string, error)
}

// Options are per-call overrides on top of the configured model.
type Options struct {
	Model         string // overrides the configured model name when set
	DisableSearch bool   // drop the retrieval tool for this call
}

// Result is the outcome of one generation. Usage may be populated even
// when the call failed: counters collected before the failure are kept.
type Result struct {
	Text  string
	Usage domain.Usage
}

// Generator is the model-call surface the recommendation pipeline uses.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (*Result, error)
}

// Client calls the streaming generate endpoint. It carries no internal
// timeout: deadlines are the caller's job and propagate via ctx.
type Client struct {
	httpClient *http.Client
	cfg        config.ModelConfig
	tokens     TokenProvider
	logger     *observability.Logger
}

// NewClient creates a model client. tokens may be nil for unauthenticated
// endpoints.
func NewClient(cfg config.ModelConfig, tokens TokenProvider, logger *observability.Logger) *Client {
	return &Client{
		httpClient: &http.Client{}, // no timeout; ctx governs
		cfg:        cfg,
		tokens:     tokens,
		logger:     logger,
	}
}

// Generate runs one generation, retrying quota rejections (HTTP 429 /
// RESOURCE_EXHAUSTED) with exponential backoff: base, 2·base, 4·base.
// Any other failure terminates immediately.
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	maxRetries := c.cfg.Retry.MaxRetries
	base := c.cfg.Retry.BaseBackoff

	var lastUsage domain.Usage
	for attempt := 0; ; attempt++ {
		res, err := c.generateOnce(ctx, prompt, opts)
		if res != nil && res.Usage != (domain.Usage{}) {
			lastUsage = res.Usage
		}
		if err == nil {
			return res, nil
		}
		if !retryable(err) || attempt >= maxRetries {
			return &Result{Usage: lastUsage}, err
		}

		delay := base << attempt
		c.logger.Warn().
			Int("attempt", attempt+1).
			Int("max_retries", maxRetries).
			Dur("delay", delay).
			Msg("model quota exhausted, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &Result{Usage: lastUsage}, ctx.Err()
		}
	}
}

func (c *Client) generateOnce(ctx context.Context, prompt string, opts Options) (*Result, error) {
	body, err := json.Marshal(c.buildRequest(prompt, opts))
	if err != nil {
		return nil, &APIError{Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL(opts.Model), bytes.NewReader(body))
	if err != nil {
		return nil, &APIError{Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	if c.tokens != nil {
		token, err := c.tokens.IdentityToken(ctx)
		if err != nil {
			return nil, &APIError{Message: "acquire token", Err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	return readStream(resp.Body)
}

// streamChunk is one SSE data payload from the model.
type streamChunk struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usage_metadata"`
}

type candidate struct {
	Content *content `json:"content"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type usageMetadata struct {
	PromptTokenCount     int64 `json:"prompt_token_count"`
	CandidatesTokenCount int64 `json:"candidates_token_count"`
	TotalTokenCount      int64 `json:"total_token_count"`
}

// readStream consumes the SSE body, concatenating text parts. Usage rides
// on the terminal chunk; whatever was seen last wins. A clean stream with
// no text is a GenerationError.
func readStream(body io.Reader) (*Result, error) {
	var (
		text  strings.Builder
		usage domain.Usage
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return &Result{Usage: usage}, &StreamError{Message: "decode chunk", Err: err}
		}

		if len(chunk.Candidates) > 0 && chunk.Candidates[0].Content != nil && len(chunk.Candidates[0].Content.Parts) > 0 {
			text.WriteString(chunk.Candidates[0].Content.Parts[0].Text)
		}
		if chunk.UsageMetadata != nil {
			usage = domain.Usage{
				PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
				CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return &Result{Usage: usage}, &StreamError{Message: "read stream", Err: err}
	}

	if strings.TrimSpace(text.String()) == "" {
		return &Result{Usage: usage}, &GenerationError{Message: "model returned no content"}
	}

	return &Result{Text: text.String(), Usage: usage}, nil
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generation_config"`
	SafetySettings   []safetySetting  `json:"safety_settings,omitempty"`
	Tools            []tool           `json:"tools,omitempty"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"top_p"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type tool struct {
	Retrieval *retrievalTool `json:"retrieval,omitempty"`
}

type retrievalTool struct {
	VertexAISearch vertexAISearch `json:"vertex_ai_search"`
}

type vertexAISearch struct {
	Datastore string `json:"datastore"`
}

func (c *Client) buildRequest(prompt string, opts Options) generateRequest {
	temperature := c.cfg.Temperature
	topP := c.cfg.TopP
	if c.cfg.Benchmark {
		temperature = 0
		topP = 1
	}

	req := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     temperature,
			TopP:            topP,
			MaxOutputTokens: c.cfg.MaxOutputTokens,
		},
	}

	categories := make([]string, 0, len(c.cfg.SafetySettings))
	for category := range c.cfg.SafetySettings {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		req.SafetySettings = append(req.SafetySettings, safetySetting{
			Category:  category,
			Threshold: c.cfg.SafetySettings[category],
		})
	}

	if !opts.DisableSearch && c.cfg.DatastoreID != "" {
		req.Tools = []tool{{Retrieval: &retrievalTool{
			VertexAISearch: vertexAISearch{Datastore: c.cfg.DatastoreID},
		}}}
	}
	return req
}

func (c *Client) requestURL(override string) string {
	model := c.cfg.Name
	if override != "" {
		model = override
	}
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s-aiplatform.googleapis.com", c.cfg.Location)
	}
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:streamGenerateContent?alt=sse",
		strings.TrimSuffix(endpoint, "/"), c.cfg.Project, c.cfg.Location, model)
}

var _ Generator = (*Client)(nil)
