package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cerrors "github.com/ciphermesh/hyperia/internal/errors"
)

// DefaultRemoteHost is used when a collection's provider config omits a
// base URL (an Ollama-compatible local daemon).
const DefaultRemoteHost = "http://localhost:11434"

// RemoteEmbedder is the "Remote HTTP" provider variant (spec §4.3): an
// authenticated HTTP service with selectable dimensions and batch
// embedding support. Grounded on an Ollama-compatible `/api/embed` and
// `/api/tags` surface; the connection-pooling, progressive-timeout, and
// cooperative-cancellation shape below carries over from that reference
// client unchanged.
type RemoteEmbedder struct {
	client    *http.Client
	transport *http.Transport

	host           string
	modelName      string
	fallbackModels []string
	dims           int
	maxBatch       int
	maxTextLen     int
	timeout        time.Duration
	maxRetries     int

	mu        sync.RWMutex
	closed    bool
	lastCall  time.Time
	requests  atomic.Int64
	errors    atomic.Int64
	latencies atomic.Int64 // cumulative nanoseconds, divided by requests for the average
}

var _ Embedder = (*RemoteEmbedder)(nil)

// NewRemoteEmbedder constructs a Remote provider. Model/dimension
// discovery happens in Initialize, not here, so construction never
// blocks on a network call.
func NewRemoteEmbedder() *RemoteEmbedder {
	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 16,
		MaxConnsPerHost:     32,
		IdleConnTimeout:     10 * time.Second,
	}
	return &RemoteEmbedder{
		client:     &http.Client{Transport: transport},
		transport:  transport,
		host:       DefaultRemoteHost,
		maxBatch:   DefaultBatchSize,
		maxTextLen: 1_000_000,
		timeout:    DefaultWarmTimeout,
		maxRetries: DefaultMaxRetries,
	}
}

// Name identifies this provider instance.
func (e *RemoteEmbedder) Name() string { return "remote-http" }

// Dimensions returns the selected (or auto-detected) dimensionality.
func (e *RemoteEmbedder) Dimensions() int { return e.dims }

// MaxBatchSize returns the largest batch this provider accepts per call.
func (e *RemoteEmbedder) MaxBatchSize() int { return e.maxBatch }

// MaxTextLength returns the largest single text this provider accepts.
func (e *RemoteEmbedder) MaxTextLength() int { return e.maxTextLen }

// Initialize connects to the remote host, resolves the model (falling
// back through cfg.FallbackModels), and auto-detects dimensions when the
// caller didn't pin one.
func (e *RemoteEmbedder) Initialize(ctx context.Context, cfg ProviderConfig) error {
	e.mu.Lock()
	if cfg.BaseURL != "" {
		e.host = cfg.BaseURL
	}
	if cfg.ModelID != "" {
		e.modelName = cfg.ModelID
	}
	e.fallbackModels = cfg.FallbackModels
	if cfg.Timeout > 0 {
		e.timeout = cfg.Timeout
	}
	if cfg.MaxRetries > 0 {
		e.maxRetries = cfg.MaxRetries
	}
	e.dims = cfg.Dimensions
	e.closed = false
	e.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, DefaultColdTimeout)
	defer cancel()

	resolved, err := e.findAvailableModel(checkCtx)
	if err != nil {
		return cerrors.NetworkError("failed to reach remote embedding host or find model", err)
	}
	e.mu.Lock()
	e.modelName = resolved
	e.mu.Unlock()

	if e.dims == 0 {
		dims, err := e.detectDimensions(checkCtx)
		if err != nil {
			return cerrors.NetworkError("failed to auto-detect embedding dimensions", err)
		}
		e.mu.Lock()
		e.dims = dims
		e.mu.Unlock()
	}
	return nil
}

// Cleanup closes idle connections.
func (e *RemoteEmbedder) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}

func (e *RemoteEmbedder) listModels(ctx context.Context) ([]RemoteModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	var result RemoteModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

func (e *RemoteEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}
	available := make(map[string]string)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		available[name] = m.Name
		base := strings.Split(name, ":")[0]
		if _, exists := available[base]; !exists {
			available[base] = m.Name
		}
	}

	e.mu.RLock()
	primary := e.modelName
	fallbacks := e.fallbackModels
	e.mu.RUnlock()

	if primary != "" {
		primaryLower := strings.ToLower(primary)
		if actual, ok := available[primaryLower]; ok {
			return actual, nil
		}
		if actual, ok := available[strings.Split(primaryLower, ":")[0]]; ok {
			return actual, nil
		}
	}
	for _, fb := range fallbacks {
		lower := strings.ToLower(fb)
		if actual, ok := available[lower]; ok {
			return actual, nil
		}
		if actual, ok := available[strings.Split(lower, ":")[0]]; ok {
			return actual, nil
		}
	}
	return "", fmt.Errorf("no embedding model available (tried %q and %v)", primary, fallbacks)
}

func (e *RemoteEmbedder) detectDimensions(ctx context.Context) (int, error) {
	embeddings, err := e.doEmbed(ctx, []string{"dimension detection"})
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(embeddings[0]), nil
}

// Generate produces one embedding. Every failed HTTP call is retried up
// to maxRetries attempts; the response status is not classified, so
// authentication and validation failures are retried like any other.
func (e *RemoteEmbedder) Generate(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, cerrors.New(cerrors.ErrCodeInternal, "remote provider is closed", nil)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}

	embeddings, err := e.doEmbedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, cerrors.ProviderInternalError("remote host returned no embedding", nil)
	}
	return embeddings[0], nil
}

// GenerateBatch produces one embedding per input text, sharding requests
// at the provider's max batch size.
func (e *RemoteEmbedder) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, cerrors.New(cerrors.ErrCodeInternal, "remote provider is closed", nil)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}
	if len(nonEmpty) == 0 {
		return results, nil
	}

	for start := 0; start < len(nonEmpty); start += e.maxBatch {
		select {
		case <-ctx.Done():
			return nil, cerrors.CancelledError("batch embedding cancelled")
		default:
		}
		end := start + e.maxBatch
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}
		embeddings, err := e.doEmbedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}
	return results, nil
}

// doEmbedWithRetry retries with exponential backoff, capped at
// MaxBackoff, honoring context cancellation between attempts.
func (e *RemoteEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, cerrors.CancelledError("embedding request cancelled")
		default:
		}
		if attempt > 0 {
			backoff := time.Duration(100<<uint(attempt)) * time.Millisecond
			if backoff > MaxBackoff {
				backoff = MaxBackoff
			}
			select {
			case <-ctx.Done():
				return nil, cerrors.CancelledError("embedding request cancelled")
			case <-time.After(backoff):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, e.currentTimeout())
		start := time.Now()
		embeddings, err := e.doEmbed(timeoutCtx, texts)
		cancel()
		e.requests.Add(1)
		e.latencies.Add(int64(time.Since(start)))

		if err == nil {
			e.mu.Lock()
			e.lastCall = time.Now()
			e.mu.Unlock()
			return embeddings, nil
		}
		e.errors.Add(1)
		lastErr = err
		if ctx.Err() != nil {
			return nil, cerrors.CancelledError("embedding request cancelled")
		}
	}
	return nil, cerrors.NetworkError(fmt.Sprintf("embedding failed after %d attempts", e.maxRetries), lastErr)
}

func (e *RemoteEmbedder) currentTimeout() time.Duration {
	e.mu.RLock()
	last := e.lastCall
	e.mu.RUnlock()
	if last.IsZero() || time.Since(last) > ModelUnloadThreshold {
		return DefaultColdTimeout
	}
	return e.timeout
}

// doEmbed issues one HTTP call, racing it against ctx cancellation on a
// goroutine so a Ctrl+C-style cancel returns promptly instead of waiting
// for the transport's own timeout.
func (e *RemoteEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}
	body, err := json.Marshal(RemoteEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	type result struct {
		embeddings [][]float32
		err        error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := e.client.Do(req)
		if err != nil {
			resultCh <- result{nil, err}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))}
			return
		}
		var apiResult RemoteEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
			resultCh <- result{nil, err}
			return
		}
		embeddings := make([][]float32, len(apiResult.Embeddings))
		for i, emb := range apiResult.Embeddings {
			v := make([]float32, len(emb))
			for j, f := range emb {
				v[j] = float32(f)
			}
			embeddings[i] = normalizeVector(v)
		}
		resultCh <- result{embeddings, nil}
	}()

	select {
	case <-ctx.Done():
		e.transport.CloseIdleConnections()
		select {
		case <-resultCh:
		case <-time.After(100 * time.Millisecond):
		}
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.embeddings, r.err
	}
}

// HealthCheck reports reachability of the remote host and model presence.
func (e *RemoteEmbedder) HealthCheck(ctx context.Context) HealthStatus {
	e.mu.RLock()
	closed := e.closed
	model := e.modelName
	e.mu.RUnlock()
	if closed {
		return HealthStatus{Healthy: false, Status: "closed"}
	}
	models, err := e.listModels(ctx)
	if err != nil {
		return HealthStatus{Healthy: false, Status: "unreachable", Details: map[string]string{"error": err.Error()}}
	}
	for _, m := range models {
		if strings.EqualFold(m.Name, model) || strings.Contains(strings.ToLower(m.Name), strings.ToLower(model)) {
			return HealthStatus{Healthy: true, Status: "ready", Details: map[string]string{"model": model}}
		}
	}
	return HealthStatus{Healthy: false, Status: "model-not-found", Details: map[string]string{"model": model}}
}

// Metrics reports request/error counters and average observed latency.
func (e *RemoteEmbedder) Metrics() Metrics {
	requests := e.requests.Load()
	var avg time.Duration
	if requests > 0 {
		avg = time.Duration(e.latencies.Load() / requests)
	}
	return Metrics{Requests: requests, Errors: e.errors.Load(), AvgLatency: avg}
}
