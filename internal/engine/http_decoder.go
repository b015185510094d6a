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

	"github.com/chorus-tts/chorus/internal/codec"
)

// httpDecoder posts code levels to a codec decode sidecar.
type httpDecoder struct {
	endpoint   string
	sampleRate int
	client     *http.Client
	ready      atomic.Bool
}

type decodeRequest struct {
	Levels     [3][]int `json:"levels"`
	SampleRate int      `json:"sample_rate"`
}

type decodeResponse struct {
	Samples []float32 `json:"samples"`
	Error   string    `json:"error,omitempty"`
}

func NewHTTPDecoder(ctx context.Context, endpoint string, sampleRate int, timeout time.Duration) (Decoder, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("decode endpoint not configured")
	}
	d := &httpDecoder{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		sampleRate: sampleRate,
		client:     &http.Client{Timeout: timeout},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe decode backend: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("decode backend returned status %s", resp.Status)
	}
	d.ready.Store(true)
	return d, nil
}

func (d *httpDecoder) Decode(ctx context.Context, levels codec.Levels) ([]float32, error) {
	body, err := json.Marshal(decodeRequest{
		Levels:     [3][]int{levels.L1, levels.L2, levels.L3},
		SampleRate: d.sampleRate,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/decode", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		d.ready.Store(false)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("decode backend returned status %s", resp.Status)
	}

	var decoded decodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("decode backend error: %s", decoded.Error)
	}
	d.ready.Store(true)
	return decoded.Samples, nil
}

func (d *httpDecoder) Ready() bool { return d.ready.Load() }
