package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cerrors "github.com/ciphermesh/hyperia/internal/errors"
)

// DefaultTimeout is the per-request deadline applied when a Call's context
// carries no earlier deadline (spec §4.8: "default 30s").
const DefaultTimeout = 30 * time.Second

// DefaultMaxConcurrentOperations bounds in-flight requests per channel
// before further calls fail fast with RateLimit.
const DefaultMaxConcurrentOperations = 64

// Transport is the narrow abstraction a ControlPlane multiplexes requests,
// responses, and log messages across. Implementations may be a Unix
// socket connection, an in-process pipe, or anything else that can carry
// one Envelope at a time in each direction.
type Transport interface {
	Send(Envelope) error
	Recv() (Envelope, error)
	Close() error
}

// HandlerFunc answers one inbound request. Returning an error produces an
// error response; the ControlPlane does not interpret the error further.
type HandlerFunc func(ctx context.Context, params any) (any, error)

// Config tunes one ControlPlane instance.
type Config struct {
	DefaultTimeout          time.Duration
	MaxConcurrentOperations int
}

// DefaultConfig returns the spec's default backpressure and timeout
// values.
func DefaultConfig() Config {
	return Config{DefaultTimeout: DefaultTimeout, MaxConcurrentOperations: DefaultMaxConcurrentOperations}
}

// Metrics accumulates the counters spec §4.8 requires. All fields are
// updated atomically and safe to read concurrently with Snapshot.
type Metrics struct {
	totalCalls   int64
	totalTimeNs  int64
	errorCount   int64
	timeoutCount int64
}

// MetricsSnapshot is a point-in-time read of Metrics plus the derived
// averaged latency and success rate.
type MetricsSnapshot struct {
	TotalCalls   int64
	TotalTime    time.Duration
	ErrorCount   int64
	TimeoutCount int64
	PendingDepth int
	AvgLatency   time.Duration
	SuccessRate  float64
}

type pendingCall struct {
	resultCh chan pendingResult
	start    time.Time
}

type pendingResult struct {
	result any
	err    error
}

// channelState tracks ControlPlane's lifecycle so Call can fail fast after
// Close/Terminate instead of racing the pending table.
type channelState int32

const (
	stateOpen channelState = iota
	stateClosed
	stateTerminated
)

// ControlPlane is component C8: it issues correlated calls over a
// Transport, answers inbound requests via a registered handler table, and
// tracks the metrics spec §4.8 names.
type ControlPlane struct {
	transport Transport
	cfg       Config
	log       *slog.Logger

	nextID atomic.Uint64
	sem    chan struct{}

	mu      sync.Mutex
	pending map[string]*pendingCall
	state   channelState

	handlers map[string]HandlerFunc

	metrics Metrics

	onLog func(level, message string, args ...any)
}

// New constructs a ControlPlane over transport. Call Run in its own
// goroutine to start dispatching inbound messages before issuing calls or
// expecting inbound requests to be answered.
func New(transport Transport, cfg Config, log *slog.Logger) *ControlPlane {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MaxConcurrentOperations <= 0 {
		cfg.MaxConcurrentOperations = DefaultMaxConcurrentOperations
	}
	if log == nil {
		log = slog.Default()
	}
	return &ControlPlane{
		transport: transport,
		cfg:       cfg,
		log:       log,
		sem:       make(chan struct{}, cfg.MaxConcurrentOperations),
		pending:   make(map[string]*pendingCall),
		handlers:  make(map[string]HandlerFunc),
	}
}

// Register installs a handler for an inbound method name. Call before Run;
// registration is not safe to race against an active Run loop.
func (c *ControlPlane) Register(method string, handler HandlerFunc) {
	c.handlers[method] = handler
}

// OnLog sets the callback invoked for inbound log envelopes. A nil
// callback (the default) discards them.
func (c *ControlPlane) OnLog(fn func(level, message string, args ...any)) {
	c.onLog = fn
}

// Run reads inbound envelopes until the transport closes or ctx is
// cancelled, dispatching responses to pending calls, requests to
// registered handlers, and log envelopes to OnLog. It returns once the
// transport is exhausted; callers typically run it in its own goroutine.
func (c *ControlPlane) Run(ctx context.Context) error {
	for {
		env, err := c.transport.Recv()
		if err != nil {
			c.failAll(cerrors.ChannelError("control-plane transport failed", err))
			return err
		}
		switch env.kind() {
		case kindResponse:
			c.complete(env)
		case kindLog:
			if c.onLog != nil {
				c.onLog(env.Level, env.Message, env.Args...)
			}
		case kindRequest:
			go c.dispatchRequest(ctx, env)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// dispatchRequest answers one inbound request by invoking its registered
// handler and sending back a response envelope.
func (c *ControlPlane) dispatchRequest(ctx context.Context, env Envelope) {
	handler, ok := c.handlers[env.Method]
	if !ok {
		_ = c.transport.Send(NewErrorResponse(env.ID, "ERR_METHOD_NOT_FOUND", fmt.Sprintf("method not found: %s", env.Method)))
		return
	}
	result, err := handler(ctx, env.Params)
	if err != nil {
		_ = c.transport.Send(NewErrorResponse(env.ID, cerrors.GetCode(err), err.Error()))
		return
	}
	_ = c.transport.Send(NewSuccessResponse(env.ID, result))
}

// Call issues a correlated request and blocks until a response arrives,
// the deadline expires, ctx is cancelled, or the channel closes.
func (c *ControlPlane) Call(ctx context.Context, method string, params any) (any, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	switch state {
	case stateClosed:
		return nil, cerrors.ClosedError("control plane is closed")
	case stateTerminated:
		return nil, cerrors.TerminatedError("control plane is terminated")
	}

	select {
	case c.sem <- struct{}{}:
	default:
		atomic.AddInt64(&c.metrics.errorCount, 1)
		return nil, cerrors.RateLimitError("control plane at maxConcurrentOperations")
	}
	defer func() { <-c.sem }()

	id := fmt.Sprintf("req-%d", c.nextID.Add(1))
	deadline := c.deadlineFor(ctx)

	pc := &pendingCall{resultCh: make(chan pendingResult, 1), start: time.Now()}

	c.mu.Lock()
	c.pending[id] = pc
	c.mu.Unlock()

	atomic.AddInt64(&c.metrics.totalCalls, 1)

	if err := c.transport.Send(NewRequest(id, method, params)); err != nil {
		c.removePending(id)
		atomic.AddInt64(&c.metrics.errorCount, 1)
		return nil, cerrors.SendError("failed to send request", err)
	}

	select {
	case res := <-pc.resultCh:
		c.recordLatency(pc.start)
		if res.err != nil {
			atomic.AddInt64(&c.metrics.errorCount, 1)
		}
		return res.result, res.err
	case <-ctx.Done():
		c.removePending(id)
		atomic.AddInt64(&c.metrics.errorCount, 1)
		return nil, cerrors.CancelledError("request cancelled: " + ctx.Err().Error())
	case <-deadline:
		c.removePending(id)
		atomic.AddInt64(&c.metrics.timeoutCount, 1)
		atomic.AddInt64(&c.metrics.errorCount, 1)
		return nil, cerrors.TimeoutError("request exceeded its deadline")
	}
}

// deadlineFor returns a channel that fires at ctx's deadline, capped by
// cfg.DefaultTimeout — the per-request deadline spec §4.8 requires even
// when the caller's context carries none.
func (c *ControlPlane) deadlineFor(ctx context.Context) <-chan time.Time {
	timeout := c.cfg.DefaultTimeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	return time.After(timeout)
}

// complete resolves a pending call from an inbound response envelope.
func (c *ControlPlane) complete(env Envelope) {
	c.mu.Lock()
	pc, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Warn("response for unknown correlation id dropped", "id", env.ID)
		return
	}
	if env.Error != nil {
		pc.resultCh <- pendingResult{err: fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)}
		return
	}
	pc.resultCh <- pendingResult{result: env.Result}
}

func (c *ControlPlane) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *ControlPlane) recordLatency(start time.Time) {
	atomic.AddInt64(&c.metrics.totalTimeNs, int64(time.Since(start)))
}

// failAll rejects every pending call with err, used when the transport
// itself fails fatally (spec §4.8 "channel failures").
func (c *ControlPlane) failAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()
	for _, pc := range pending {
		select {
		case pc.resultCh <- pendingResult{err: err}:
		default:
		}
	}
}

// Close transitions the channel to closed, rejecting all pending calls
// with Closed and refusing further Call invocations.
func (c *ControlPlane) Close() error {
	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
	c.failAll(cerrors.ClosedError("control plane closed"))
	return c.transport.Close()
}

// Terminate is Close's harder-stop sibling: pending calls are rejected
// with Terminated instead of Closed, signalling an abnormal shutdown
// rather than a cooperative one.
func (c *ControlPlane) Terminate() error {
	c.mu.Lock()
	c.state = stateTerminated
	c.mu.Unlock()
	c.failAll(cerrors.TerminatedError("control plane terminated"))
	return c.transport.Close()
}

// Snapshot returns the current metrics, including the derived average
// latency and success rate.
func (c *ControlPlane) Snapshot() MetricsSnapshot {
	c.mu.Lock()
	depth := len(c.pending)
	c.mu.Unlock()

	total := atomic.LoadInt64(&c.metrics.totalCalls)
	errs := atomic.LoadInt64(&c.metrics.errorCount)
	timeouts := atomic.LoadInt64(&c.metrics.timeoutCount)
	totalTime := time.Duration(atomic.LoadInt64(&c.metrics.totalTimeNs))

	snap := MetricsSnapshot{
		TotalCalls:   total,
		TotalTime:    totalTime,
		ErrorCount:   errs,
		TimeoutCount: timeouts,
		PendingDepth: depth,
	}
	if total > 0 {
		snap.AvgLatency = totalTime / time.Duration(total)
		snap.SuccessRate = float64(total-errs) / float64(total)
	}
	return snap
}
