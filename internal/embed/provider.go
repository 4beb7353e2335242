// Package embed implements the embedding provider pool (component C3):
// the Local and Remote HTTP provider variants, a token-bucket rate
// limiter, and the Pool that selects, validates, retries, and falls back
// between provider instances.
package embed

import (
	"context"
	"math"
	"time"
)

// Common provider limits and timeouts, carried over from the pool this
// module was grounded on.
const (
	MinBatchSize      = 1
	MaxBatchSize      = 256
	DefaultBatchSize  = 32
	DefaultWarmTimeout = 120 * time.Second
	DefaultColdTimeout = 180 * time.Second
	ModelUnloadThreshold = 5 * time.Minute
	DefaultMaxRetries = 3
	MaxBackoff        = 30 * time.Second
)

// HealthStatus is the result of an Embedder.HealthCheck call (spec §4.3).
type HealthStatus struct {
	Healthy bool
	Status  string
	Details map[string]string
}

// Metrics is the result of an Embedder.Metrics call (spec §4.3).
type Metrics struct {
	Requests         int64
	Errors           int64
	AvgLatency       time.Duration
	ProviderSpecific map[string]any
}

// ProviderConfig configures one Embedder instance at construction time.
type ProviderConfig struct {
	// Kind selects which registered Pool factory builds the instance
	// ("local" or "remote-http"). Callers that talk to the pool
	// directly may still pass a kind explicitly instead of reading it
	// from here; the pipeline always uses this field.
	Kind              string
	ProviderID        string
	ModelID           string
	Dimensions        int
	APIKey            string
	BaseURL           string
	RequestsPerMinute int
	Timeout           time.Duration
	MaxRetries        int
	FallbackModels    []string
}

// Embedder is the narrow contract the pool consumes (spec §4.3): name,
// fixed dimensionality, batch/length limits, lifecycle hooks, the two
// generation operations, and observability.
type Embedder interface {
	Name() string
	Dimensions() int
	MaxBatchSize() int
	MaxTextLength() int

	Initialize(ctx context.Context, cfg ProviderConfig) error
	Cleanup() error

	Generate(ctx context.Context, text string) ([]float32, error)
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)

	HealthCheck(ctx context.Context) HealthStatus
	Metrics() Metrics
}

// normalizeVector normalizes a vector to unit length, returning it
// unchanged if it has zero magnitude.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return v
	}
	mag := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / mag)
	}
	return out
}
