package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// httpGenerator talks to a vLLM-style sidecar that accepts a prompt plus
// sampling parameters and returns raw token ids.
type httpGenerator struct {
	endpoint string
	client   *http.Client
	ready    atomic.Bool
}

type generateRequest struct {
	Prompt            string  `json:"prompt"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	MaxTokens         int     `json:"max_tokens"`
	MinTokens         int     `json:"min_tokens,omitempty"`
	StopTokenIDs      []int   `json:"stop_token_ids,omitempty"`
}

type generateResponse struct {
	TokenIDs []int  `json:"token_ids"`
	Error    string `json:"error,omitempty"`
}

// NewHTTPGenerator probes the sidecar's health endpoint before returning, so
// pool construction can skip instances whose backend never came up.
func NewHTTPGenerator(ctx context.Context, endpoint string, timeout time.Duration) (Generator, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("generation endpoint not configured")
	}
	g := &httpGenerator{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
	if err := g.probe(ctx); err != nil {
		return nil, fmt.Errorf("probe generation backend: %w", err)
	}
	g.ready.Store(true)
	return g, nil
}

func (g *httpGenerator) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("generation backend returned status %s", resp.Status)
	}
	return nil
}

func (g *httpGenerator) Generate(ctx context.Context, prompt string, params GenerateParams) ([]int, error) {
	payload := generateRequest{
		Prompt:            prompt,
		Temperature:       params.Temperature,
		TopP:              params.TopP,
		RepetitionPenalty: params.RepetitionPenalty,
		MaxTokens:         params.MaxTokens,
		MinTokens:         params.MinTokens,
		StopTokenIDs:      params.StopTokenIDs,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.ready.Store(false)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("generation backend returned status %s", resp.Status)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode generation response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("generation backend error: %s", decoded.Error)
	}
	g.ready.Store(true)
	return decoded.TokenIDs, nil
}

func (g *httpGenerator) Ready() bool { return g.ready.Load() }
