// Package analysis defines the contract with the external contract-analysis
// pipeline. The engine only depends on the request/response shape; the
// pipeline itself is a black box with bounded latency and possible failure.
package analysis

import "context"

// Report carries the scores the pipeline assigns to a saved version.
// Scores are 0-100.
type Report struct {
	OptimizationScore int      `json:"optimization_score"`
	SecurityScore     int      `json:"security_score"`
	Findings          []string `json:"findings"`
}

// Pipeline analyzes a frozen source text. Implementations must honor the
// context deadline; callers treat errors and timeouts as "scores missing",
// never as a failed save.
type Pipeline interface {
	Analyze(ctx context.Context, sourceText string) (*Report, error)
}
