// Package web serves the engine's query and allocation API over HTTP.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/yasserelgammal/rate-limiter/limiter"

	"github.com/IC-Footprint/IC-Footprint-Main/internal/engine"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/events"
)

// traceHeader carries a caller-supplied trace id into engine logs.
const traceHeader = "X-Trace-Id"

// ContributionQuerier reads past contributions.
type ContributionQuerier interface {
	List(ctx context.Context) (json.RawMessage, error)
	ByEntity(ctx context.Context, entity string) (json.RawMessage, error)
	ByID(ctx context.Context, id string) (json.RawMessage, error)
}

// Server serves the engine API over HTTP.
type Server struct {
	httpServer    *http.Server
	engine        *engine.Engine
	contributions ContributionQuerier
	hub           *events.Hub
	cors          CORSConfig
	rateLimit     RateLimitConfig
	limiter       *limiter.TokenBucket
	logger        zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithCORS enables CORS for the configured origins.
func WithCORS(cfg CORSConfig) Option {
	return func(s *Server) { s.cors = cfg }
}

// WithRateLimit limits mutating requests per client address.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(s *Server) { s.rateLimit = cfg }
}

// WithEventHub streams hub events on GET /events/ws.
func WithEventHub(hub *events.Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithContributions serves contribution queries from q.
func WithContributions(q ContributionQuerier) Option {
	return func(s *Server) { s.contributions = q }
}

// New creates a Server for eng listening on addr.
func New(addr string, eng *engine.Engine, opts ...Option) *Server {
	s := &Server{engine: eng, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "web").Logger()

	if s.rateLimit.enabled() {
		tb, err := newRateLimiter(s.rateLimit)
		if err != nil {
			s.logger.Error().Err(err).Msg("rate limiting disabled")
		} else {
			s.limiter = tb
		}
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's routes wrapped in its middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /nodes", s.handleNodes)
	mux.HandleFunc("GET /nodes/{name}", s.handleNode)
	mux.HandleFunc("GET /clients", s.handleClientNodes)
	mux.HandleFunc("GET /clients/{name}", s.handleClient)
	mux.HandleFunc("POST /clients", s.handleAddClient)
	mux.HandleFunc("DELETE /clients/{name}", s.handleRemoveClient)
	mux.HandleFunc("POST /offsets", s.handleOffset)
	mux.HandleFunc("GET /payments", s.handlePayments)
	mux.HandleFunc("POST /payments", s.handlePurchase)
	mux.HandleFunc("GET /payments/price", s.handlePrice)
	mux.HandleFunc("GET /units/{id}", s.handleUnit)
	mux.HandleFunc("GET /emissions/{id}", s.handleEmissions)
	mux.HandleFunc("GET /escrows", s.handleEscrows)
	mux.HandleFunc("GET /escrows/{id}", s.handleEscrow)
	mux.HandleFunc("POST /escrows", s.handleAddEscrow)
	mux.HandleFunc("GET /contributions", s.handleContributions)
	mux.HandleFunc("GET /events/ws", s.handleEventStream)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.engine.Gatherer(), promhttp.HandlerOpts{}))

	return withCORS(s.cors, s.withTrace(s.withRateLimit(mux)))
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// withTrace propagates the X-Trace-Id header into the request context and
// logs every request.
func (s *Server) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if id := r.Header.Get(traceHeader); id != "" {
			r = r.WithContext(engine.WithTraceID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str(engine.FieldTraceID, engine.TraceIDFromContext(r.Context())).
			Int64(engine.FieldDurationMs, time.Since(start).Milliseconds()).
			Msg("request served")
	})
}
