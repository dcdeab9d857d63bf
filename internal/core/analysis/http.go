package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var _ Pipeline = (*HTTPPipeline)(nil)

// HTTPPipeline calls a remote analyzer over HTTP: POST the source text,
// receive a Report.
type HTTPPipeline struct {
	endpoint string
	client   *http.Client
}

type analyzeRequest struct {
	Source string `json:"source"`
}

func NewHTTPPipeline(endpoint string, timeout time.Duration) *HTTPPipeline {
	return &HTTPPipeline{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *HTTPPipeline) Analyze(ctx context.Context, sourceText string) (*Report, error) {
	body, err := json.Marshal(analyzeRequest{Source: sourceText})
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call analysis pipeline: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis pipeline returned status %d", resp.StatusCode)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode analysis report: %w", err)
	}
	return &report, nil
}

// StubPipeline returns a fixed report. Used in tests and when no analyzer
// endpoint is configured.
type StubPipeline struct {
	Report Report
	Err    error
}

func (p *StubPipeline) Analyze(_ context.Context, _ string) (*Report, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	r := p.Report
	return &r, nil
}
