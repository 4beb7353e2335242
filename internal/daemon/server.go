package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ciphermesh/hyperia/internal/domain"
	"github.com/ciphermesh/hyperia/internal/search"
)

// SearchService is the narrow slice of search.Engine the server needs:
// resolving a collection by name and running a query against it.
type SearchService interface {
	Search(ctx context.Context, ci search.CollectionIndex, query string, pagination domain.Pagination, budgetMS int, opts search.Options) (search.Result, error)
	GlobalSearch(ctx context.Context, collections []search.CollectionIndex, query string, pagination domain.Pagination, budgetMS int, opts search.Options) (search.GlobalResult, error)
}

// CollectionResolver looks up the CollectionIndex(es) a search request
// names, so the server stays decoupled from how collections are
// registered (config file, discovery, admin API).
type CollectionResolver interface {
	Resolve(name string) (search.CollectionIndex, bool)
	All() []search.CollectionIndex
}

// Server is the execution-domain side of the control plane: it accepts
// connections on a Unix socket, wraps each in a ControlPlane, and answers
// search/status/ping requests against a SearchService.
type Server struct {
	socketPath string
	service    SearchService
	resolver   CollectionResolver
	log        *slog.Logger
	started    time.Time

	mu        sync.Mutex
	listener  net.Listener
	shutdown  bool
	wg        sync.WaitGroup
	planes    map[*ControlPlane]struct{}
	queueSize func() int
}

// NewServer builds a Server. queueSize, if non-nil, feeds StatusResult's
// QueueDepth field (typically queue.Queue.Depth or similar).
func NewServer(socketPath string, service SearchService, resolver CollectionResolver, queueSize func() int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		service:    service,
		resolver:   resolver,
		log:        log,
		planes:     make(map[*ControlPlane]struct{}),
		queueSize:  queueSize,
	}
}

// ListenAndServe accepts connections until ctx is cancelled, spawning one
// ControlPlane per connection.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := ListenUnix(s.socketPath)
	if err != nil {
		return err
	}
	s.listener = listener
	s.started = time.Now()
	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.log.Info("control plane listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			s.log.Error("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

// serveConn builds a ControlPlane over one connection, registers the
// request handlers, and runs it until the connection closes.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	transport := NewSocketTransport(conn)
	cp := New(transport, DefaultConfig(), s.log)
	cp.Register(MethodPing, s.handlePing)
	cp.Register(MethodStatus, s.handleStatus)
	cp.Register(MethodSearch, s.handleSearch)
	cp.Register(MethodGlobalSearch, s.handleGlobalSearch)

	s.mu.Lock()
	s.planes[cp] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.planes, cp)
		s.mu.Unlock()
	}()

	if err := cp.Run(ctx); err != nil {
		s.log.Debug("control plane connection ended", "error", err)
	}
}

func (s *Server) handlePing(context.Context, any) (any, error) {
	return PingResult{Pong: true}, nil
}

func (s *Server) handleStatus(context.Context, any) (any, error) {
	depth := 0
	if s.queueSize != nil {
		depth = s.queueSize()
	}
	return StatusResult{
		Running:           true,
		PID:               os.Getpid(),
		Uptime:            time.Since(s.started).Round(time.Second).String(),
		CollectionsLoaded: len(s.resolver.All()),
		QueueDepth:        depth,
	}, nil
}

func (s *Server) decodeSearchParams(params any) (SearchParams, error) {
	var p SearchParams
	data, err := json.Marshal(params)
	if err != nil {
		return p, fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to decode params: %w", err)
	}
	return p, p.Validate()
}

func (s *Server) handleSearch(ctx context.Context, params any) (any, error) {
	p, err := s.decodeSearchParams(params)
	if err != nil {
		return nil, err
	}
	ci, ok := s.resolver.Resolve(p.Collection)
	if !ok {
		return nil, fmt.Errorf("unknown collection: %s", p.Collection)
	}
	res, err := s.service.Search(ctx, ci, p.Query, domain.Pagination{Limit: p.Limit, Offset: p.Offset}, 0, search.Options{Rerank: p.Rerank, Diversify: p.Diversify})
	if err != nil {
		return nil, err
	}
	return toWireResults(res.Documents), nil
}

func (s *Server) handleGlobalSearch(ctx context.Context, params any) (any, error) {
	p, err := s.decodeSearchParams(params)
	if err != nil {
		return nil, err
	}
	res, err := s.service.GlobalSearch(ctx, s.resolver.All(), p.Query, domain.Pagination{Limit: p.Limit, Offset: p.Offset}, 0, search.Options{Rerank: p.Rerank, Diversify: p.Diversify})
	if err != nil {
		return nil, err
	}
	return toWireResults(res.Documents), nil
}

func toWireResults(docs []search.ResultDocument) []SearchResultItem {
	out := make([]SearchResultItem, len(docs))
	for i, d := range docs {
		out[i] = SearchResultItem{DocID: d.DocID, Collection: d.Collection, Title: d.Title, Snippet: d.Snippet, Score: d.Score}
	}
	return out
}

// Close stops accepting new connections and terminates active ones.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	planes := make([]*ControlPlane, 0, len(s.planes))
	for cp := range s.planes {
		planes = append(planes, cp)
	}
	s.mu.Unlock()

	for _, cp := range planes {
		_ = cp.Terminate()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
