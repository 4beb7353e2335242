package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cerrors "github.com/ciphermesh/hyperia/internal/errors"
)

// Factory constructs a fresh, uninitialized Embedder of one provider
// kind ("local" or "remote-http").
type Factory func() Embedder

// instance bundles one constructed Embedder with the rate limiter and
// circuit breaker that guard calls into it.
type instance struct {
	embedder Embedder
	limiter  *rateLimiter
	breaker  *cerrors.CircuitBreaker
	kind     string
	cfg      ProviderConfig
}

// Pool is the embedding provider pool (spec §4.3): it selects and warms
// provider instances on first use, validates configuration before
// construction, rate-limits and retries calls into a provider, maps
// provider errors onto the shared taxonomy, and falls back to a
// secondary provider when the primary is unavailable.
type Pool struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]*instance
	log       *slog.Logger

	fallbackKind *string
	fallbackCfg  ProviderConfig
}

// NewPool constructs an empty pool with the built-in Local and Remote
// HTTP factories registered.
func NewPool(log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		factories: make(map[string]Factory),
		instances: make(map[string]*instance),
		log:       log,
	}
	p.Register("local", func() Embedder { return NewLocalEmbedder(0) })
	p.Register("remote-http", func() Embedder { return NewRemoteEmbedder() })
	return p
}

// Register adds or replaces the factory for a provider kind.
func (p *Pool) Register(kind string, factory Factory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[kind] = factory
}

// SetFallback configures a secondary provider engaged when the primary
// is unavailable (spec §4.3 point 6). Callers are responsible for
// confirming the fallback's dimensions match the collection's before
// calling this — the pool does not second-guess that decision.
func (p *Pool) SetFallback(kind string, cfg ProviderConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := kind
	p.fallbackKind = &k
	p.fallbackCfg = cfg
}

func instanceKey(kind string, cfg ProviderConfig) string {
	return fmt.Sprintf("%s/%s/%s/%d", kind, cfg.ProviderID, cfg.ModelID, cfg.Dimensions)
}

// getOrCreate returns the warmed instance for (kind, cfg), constructing
// and initializing it on first use. Construction is validated first so
// a bad configuration never reaches a provider's Initialize.
func (p *Pool) getOrCreate(ctx context.Context, kind string, cfg ProviderConfig) (*instance, error) {
	key := instanceKey(kind, cfg)

	p.mu.RLock()
	inst, ok := p.instances[key]
	p.mu.RUnlock()
	if ok {
		return inst, nil
	}

	validation := ValidateProviderConfig(kind, cfg)
	if !validation.IsValid {
		return nil, cerrors.ConfigError(fmt.Sprintf("invalid provider configuration: %v", validation.Errors), nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if inst, ok := p.instances[key]; ok {
		return inst, nil
	}

	factory, ok := p.factories[kind]
	if !ok {
		return nil, cerrors.EnvironmentUnsupportedError(
			fmt.Sprintf("no provider registered for kind %q", kind),
			fmt.Sprintf("register a factory for %q before use", kind),
		)
	}

	embedder := factory()
	if err := embedder.Initialize(ctx, cfg); err != nil {
		return nil, err
	}

	inst = &instance{
		embedder: embedder,
		limiter:  newRateLimiter(cfg.RequestsPerMinute),
		breaker:  cerrors.NewCircuitBreaker(key, cerrors.WithMaxFailures(5), cerrors.WithResetTimeout(30*time.Second)),
		kind:     kind,
		cfg:      cfg,
	}
	p.instances[key] = inst
	p.log.Info("embedding provider warmed", "kind", kind, "provider", cfg.ProviderID, "model", cfg.ModelID)
	return inst, nil
}

func (p *Pool) retryConfig() cerrors.RetryConfig {
	return cerrors.RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     MaxBackoff,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// callWithGuards applies rate limiting, circuit breaking, and retry to
// one operation against an instance. A ResetAt time carried on a
// retryable error (QuotaError) replaces the backoff delay before the next
// attempt.
func callWithGuards[T any](ctx context.Context, inst *instance, retryCfg cerrors.RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := inst.limiter.Wait(ctx); err != nil {
		return zero, err
	}
	if !inst.breaker.Allow() {
		return zero, cerrors.New(cerrors.ErrCodeProviderInternal, "provider circuit breaker is open", nil).
			WithSuggestion("wait for the circuit breaker reset timeout or use a fallback provider")
	}

	result, err := cerrors.RetryIfWithResult(ctx, retryCfg, cerrors.IsRetryable, func() (T, error) {
		return fn(ctx)
	})
	if err != nil {
		inst.breaker.RecordFailure()
		return zero, err
	}
	inst.breaker.RecordSuccess()
	return result, nil
}

// Embed generates one embedding via the named provider kind,
// constructing/warming it on first use, then falls back to the
// configured secondary provider if the primary cannot be constructed or
// its call ultimately fails with any error that is not fatal.
func (p *Pool) Embed(ctx context.Context, kind string, cfg ProviderConfig, text string) ([]float32, error) {
	inst, err := p.getOrCreate(ctx, kind, cfg)
	if err != nil {
		return p.embedFallback(ctx, err, text)
	}

	vec, err := callWithGuards(ctx, inst, p.retryConfig(), func(ctx context.Context) ([]float32, error) {
		return inst.embedder.Generate(ctx, text)
	})
	if err != nil {
		if cerrors.IsFatal(err) {
			return nil, err
		}
		return p.embedFallback(ctx, err, text)
	}
	return vec, nil
}

func (p *Pool) embedFallback(ctx context.Context, primaryErr error, text string) ([]float32, error) {
	p.mu.RLock()
	fallbackKind := p.fallbackKind
	fallbackCfg := p.fallbackCfg
	p.mu.RUnlock()
	if fallbackKind == nil {
		return nil, primaryErr
	}
	inst, err := p.getOrCreate(ctx, *fallbackKind, fallbackCfg)
	if err != nil {
		return nil, primaryErr
	}
	p.log.Warn("falling back to secondary embedding provider", "reason", primaryErr, "fallback", *fallbackKind)
	return callWithGuards(ctx, inst, p.retryConfig(), func(ctx context.Context) ([]float32, error) {
		return inst.embedder.Generate(ctx, text)
	})
}

// EmbedBatch generates embeddings for many texts via the named provider
// kind. All texts go to the provider in one GenerateBatch call; the pool
// does not split them, so the provider's own MaxBatchSize handling applies.
func (p *Pool) EmbedBatch(ctx context.Context, kind string, cfg ProviderConfig, texts []string) ([][]float32, error) {
	inst, err := p.getOrCreate(ctx, kind, cfg)
	if err != nil {
		return p.embedBatchFallback(ctx, err, texts)
	}

	out, err := callWithGuards(ctx, inst, p.retryConfig(), func(ctx context.Context) ([][]float32, error) {
		return inst.embedder.GenerateBatch(ctx, texts)
	})
	if err != nil {
		if cerrors.IsFatal(err) {
			return nil, err
		}
		return p.embedBatchFallback(ctx, err, texts)
	}
	return out, nil
}

func (p *Pool) embedBatchFallback(ctx context.Context, primaryErr error, texts []string) ([][]float32, error) {
	p.mu.RLock()
	fallbackKind := p.fallbackKind
	fallbackCfg := p.fallbackCfg
	p.mu.RUnlock()
	if fallbackKind == nil {
		return nil, primaryErr
	}
	inst, err := p.getOrCreate(ctx, *fallbackKind, fallbackCfg)
	if err != nil {
		return nil, primaryErr
	}
	p.log.Warn("falling back to secondary embedding provider for batch", "reason", primaryErr, "fallback", *fallbackKind)
	return callWithGuards(ctx, inst, p.retryConfig(), func(ctx context.Context) ([][]float32, error) {
		return inst.embedder.GenerateBatch(ctx, texts)
	})
}

// HealthCheck reports health of every warmed instance, keyed by its
// pool instance key.
func (p *Pool) HealthCheck(ctx context.Context) map[string]HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]HealthStatus, len(p.instances))
	for key, inst := range p.instances {
		out[key] = inst.embedder.HealthCheck(ctx)
	}
	return out
}

// Metrics reports per-instance metrics, keyed by pool instance key.
func (p *Pool) Metrics() map[string]Metrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Metrics, len(p.instances))
	for key, inst := range p.instances {
		out[key] = inst.embedder.Metrics()
	}
	return out
}

// Close cleans up every warmed provider instance, collecting (not
// short-circuiting on) the first error encountered.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for key, inst := range p.instances {
		if err := inst.embedder.Cleanup(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cleanup failed for %s: %w", key, err)
		}
	}
	p.instances = make(map[string]*instance)
	return firstErr
}
