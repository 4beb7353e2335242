package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	cerrors "github.com/ciphermesh/hyperia/internal/errors"
)

// LocalEmbedder is the "Local" provider variant (spec §4.3): an
// in-process embedder with no external process or network dependency.
// It produces deterministic, fast, reduced-semantic-quality embeddings
// via hashed token/n-gram projection — useful as the default provider in
// environments without a real model runtime, and for tests that need
// stable vectors without a network dependency.
type LocalEmbedder struct {
	dims       int
	maxBatch   int
	maxTextLen int

	mu       sync.RWMutex
	closed   bool
	requests atomic.Int64
	errors   atomic.Int64
}

var _ Embedder = (*LocalEmbedder)(nil)

// localStopWords filters common structural tokens that carry little
// semantic signal for the hash projection.
var localStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
	"the": true, "a": true, "an": true, "of": true, "and": true, "or": true,
}

const (
	localTokenWeight = 0.7
	localNgramWeight = 0.3
	localNgramSize   = 3
)

var localTokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewLocalEmbedder constructs a Local provider with the given fixed
// dimensionality (one of domain.SupportedDimensions; 384 if unset).
func NewLocalEmbedder(dims int) *LocalEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &LocalEmbedder{dims: dims, maxBatch: MaxBatchSize, maxTextLen: 1_000_000}
}

// Name identifies this provider instance.
func (e *LocalEmbedder) Name() string { return "local" }

// Dimensions returns the fixed embedding dimensionality.
func (e *LocalEmbedder) Dimensions() int { return e.dims }

// MaxBatchSize returns the largest batch this provider accepts.
func (e *LocalEmbedder) MaxBatchSize() int { return e.maxBatch }

// MaxTextLength returns the largest single text this provider accepts.
func (e *LocalEmbedder) MaxTextLength() int { return e.maxTextLen }

// Initialize applies the requested dimensionality; the Local provider has
// no external resources to acquire.
func (e *LocalEmbedder) Initialize(_ context.Context, cfg ProviderConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.Dimensions > 0 {
		e.dims = cfg.Dimensions
	}
	e.closed = false
	return nil
}

// Cleanup marks the provider closed; subsequent calls fail.
func (e *LocalEmbedder) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Generate produces one embedding.
func (e *LocalEmbedder) Generate(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, cerrors.New(cerrors.ErrCodeInternal, "local provider is closed", nil)
	}
	e.requests.Add(1)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}
	if len([]rune(text)) > e.maxTextLen {
		e.errors.Add(1)
		return nil, cerrors.ValidationError("text exceeds provider's maximum length", nil)
	}
	return normalizeVector(e.project(trimmed)), nil
}

// GenerateBatch produces one embedding per input text, in order.
func (e *LocalEmbedder) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > e.maxBatch {
		return nil, cerrors.ValidationError("batch exceeds provider's maximum batch size", nil)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Generate(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// HealthCheck always reports healthy unless Cleanup has been called.
func (e *LocalEmbedder) HealthCheck(_ context.Context) HealthStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return HealthStatus{Healthy: false, Status: "closed"}
	}
	return HealthStatus{Healthy: true, Status: "ready", Details: map[string]string{"dimensions": strconv.Itoa(e.dims)}}
}

// Metrics reports request/error counters. Local has no network latency to
// average, so AvgLatency is always zero.
func (e *LocalEmbedder) Metrics() Metrics {
	return Metrics{Requests: e.requests.Load(), Errors: e.errors.Load()}
}

// project builds the hash-based vector: weighted tokens plus weighted
// character n-grams, both hashed into the fixed-width vector.
func (e *LocalEmbedder) project(text string) []float32 {
	vec := make([]float32, e.dims)

	for _, tok := range localTokens(text) {
		vec[hashIndex(tok, e.dims)] += localTokenWeight
	}
	for _, gram := range localNgrams(localFold(text), localNgramSize) {
		vec[hashIndex(gram, e.dims)] += localNgramWeight
	}
	return vec
}

func localTokens(text string) []string {
	var tokens []string
	for _, word := range localTokenRegex.FindAllString(text, -1) {
		for _, part := range localSplitCodeToken(word) {
			lower := strings.ToLower(part)
			if lower != "" && !localStopWords[lower] {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func localSplitCodeToken(token string) []string {
	if strings.Contains(token, "_") {
		var out []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				out = append(out, localSplitCamelCase(part)...)
			}
		}
		return out
	}
	return localSplitCamelCase(token)
}

func localSplitCamelCase(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	var cur strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevLower || nextLower) && cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func localFold(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func localNgrams(text string, n int) []string {
	if len(text) < n {
		return nil
	}
	out := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		out = append(out, text[i:i+n])
	}
	return out
}

func hashIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

