package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPOpts configures an HTTPGenerator.
type HTTPOpts struct {
	Endpoint          string
	APIKey            string
	RequestsPerMinute int
	Timeout           time.Duration
	Client            *http.Client
}

// HTTPGenerator calls a remote generation service, one POST per step:
//
//	POST {endpoint}/v1/steps/{step}  {"request": ..., "artifacts": ...}
//
// The service answers with the updated artifacts. Calls are rate limited
// across all jobs sharing the generator.
type HTTPGenerator struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewHTTPGenerator returns a generator for the service at opts.Endpoint.
func NewHTTPGenerator(opts HTTPOpts) *HTTPGenerator {
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	return &HTTPGenerator{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		apiKey:   opts.APIKey,
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst),
	}
}

type stepRequest struct {
	Request   Request    `json:"request"`
	Artifacts *Artifacts `json:"artifacts"`
}

type stepResponse struct {
	Artifacts *Artifacts `json:"artifacts"`
	Error     string     `json:"error,omitempty"`
}

// RunStep implements Generator.
func (g *HTTPGenerator) RunStep(ctx context.Context, step Step, req Request, art *Artifacts) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(stepRequest{Request: req, Artifacts: art})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/steps/"+string(step), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call generation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("generation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out stepResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return fmt.Errorf("generation service: %s", out.Error)
	}
	if out.Artifacts == nil {
		return fmt.Errorf("generation service returned no artifacts")
	}
	*art = *out.Artifacts
	return nil
}
