package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AIGateway is the boundary to the external analysis service. Responses are
// opaque JSON documents; the engine never interprets them.
type AIGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewAIGateway(baseURL, apiKey string, timeout time.Duration) *AIGateway {
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	return &AIGateway{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analyze submits input to the gateway's analysis endpoint for the given kind
// and returns the raw response document.
func (g *AIGateway) Analyze(ctx context.Context, kind string, input any) (json.RawMessage, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway input: %w", err)
	}

	url := fmt.Sprintf("%s/v1/analyze/%s", g.baseURL, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d for %s", resp.StatusCode, kind)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("gateway returned invalid JSON for %s", kind)
	}
	return data, nil
}
