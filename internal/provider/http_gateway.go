package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SendBatchRequest is the JSON body posted to the gateway.
type SendBatchRequest struct {
	Messages []Message `json:"messages"`
}

// SendBatchResponse maps the gateway's 200 OK response body.
type SendBatchResponse struct {
	SuccessCount int       `json:"successCount"`
	FailureCount int       `json:"failureCount"`
	Responses    []Outcome `json:"responses"`
}

// HTTPGateway delivers message batches by POSTing them to a bulk send endpoint.
// The URL is injected from config so tests can point to a local mock.
type HTTPGateway struct {
	url        string
	httpClient *http.Client
}

func NewHTTPGateway(url string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SendBatch posts msgs in one call and expects a 200 OK with one response
// entry per message.
func (g *HTTPGateway) SendBatch(ctx context.Context, msgs []Message) ([]Outcome, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	if len(msgs) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds gateway limit %d", len(msgs), MaxBatchSize)
	}

	body, err := json.Marshal(SendBatchRequest{Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected gateway status: %d", resp.StatusCode)
	}

	var out SendBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Responses) != len(msgs) {
		return nil, fmt.Errorf("gateway returned %d responses for %d messages", len(out.Responses), len(msgs))
	}

	return out.Responses, nil
}

// compile-time check that HTTPGateway implements Gateway
var _ Gateway = (*HTTPGateway)(nil)
