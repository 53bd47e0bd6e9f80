// Package httpapi exposes the sync engine over HTTP.
//
// Routes:
//
//	POST /api/transactions            ingest one batch
//	GET  /api/transactions?from=&to=  incremental fetch
//	GET  /api/bootstrap               full state snapshot
//	GET  /api/status                  horizon and materialized position
//	GET  /healthz                     liveness
//	GET  /metrics                     Prometheus exposition
//	GET  /*                           static client bundle
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/roach88/syncd/internal/config"
	"github.com/roach88/syncd/internal/ir"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
	defaultMaxBodyBytes    = 4 << 20
)

// Syncer is the part of engine.Engine served over HTTP.
type Syncer interface {
	Ingest(ctx context.Context, batch ir.Batch) (int64, error)
	FetchRange(ctx context.Context, from, to int64) (int64, []ir.Transaction, error)
	Bootstrap(ctx context.Context) (int64, ir.Models, error)
	Status(ctx context.Context) (ir.Status, error)
}

// Server is the HTTP front end.
type Server struct {
	sync     Syncer
	cfg      config.Config
	limiter  *rate.Limiter // nil when ingest is not rate limited
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for access and error logs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithGatherer sets the registry exposed on /metrics.
// Default: prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a Server. Only the server and ingest sections of cfg are used.
func New(sync Syncer, cfg config.Config, opts ...Option) *Server {
	s := &Server{
		sync:     sync,
		cfg:      cfg,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
	}
	if cfg.Ingest.RateLimit > 0 {
		burst := cfg.Ingest.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Ingest.RateLimit), burst)
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.With(s.limitIngest).Post("/transactions", s.handleIngest)
		r.Get("/transactions", s.handleFetch)
		r.Get("/bootstrap", s.handleBootstrap)
		r.Get("/status", s.handleStatus)
	})

	if s.cfg.Server.UIPath != "" {
		r.NotFound(staticHandler(s.cfg.Server.UIPath))
	}

	return r
}

// ListenAndServe binds the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	readHeaderTimeout := s.cfg.Server.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = time.Second
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()
	s.logger.Info("HTTP server started", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) limitIngest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.writeJSON(w, r, http.StatusTooManyRequests,
				newErrorResponse("rate_limited", errors.New("ingest rate limit exceeded")))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Ingest.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}

	var batch ir.Batch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(&batch); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, r, http.StatusRequestEntityTooLarge, newErrorResponse("too_large", err))
			return
		}
		s.writeJSON(w, r, http.StatusBadRequest, newErrorResponse("malformed", err))
		return
	}

	position, err := s.sync.Ingest(r.Context(), batch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, IngestResponse{SyncID: position})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	from, err := queryInt(r, "from", 0)
	if err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, newErrorResponse("malformed", err))
		return
	}
	to, err := queryInt(r, "to", ir.Unbounded)
	if err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, newErrorResponse("malformed", err))
		return
	}

	horizon, txs, err := s.sync.FetchRange(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, TransactionsResponse{SyncID: horizon, Transactions: txs})
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	horizon, models, err := s.sync.Bootstrap(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, BootstrapResponse{SyncID: horizon, Models: models})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sync.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, st)
}

func queryInt(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q: not an integer: %q", name, raw)
	}
	return v, nil
}

// writeError maps engine errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ir.ErrEmptyBatch):
		s.writeJSON(w, r, http.StatusBadRequest, newErrorResponse("empty_batch", err))
	case ir.IsInvalidAction(err):
		s.writeJSON(w, r, http.StatusBadRequest, newErrorResponse("invalid_action", err))
	case ir.IsSerialization(err):
		s.logger.Error("stored data is corrupt", "error", err, "request_id", RequestID(r.Context()))
		s.writeJSON(w, r, http.StatusInternalServerError, newErrorResponse("serialization", err))
	case ir.IsPersistence(err):
		s.logger.Error("storage failure", "error", err, "request_id", RequestID(r.Context()))
		s.writeJSON(w, r, http.StatusInternalServerError, newErrorResponse("persistence", err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeJSON(w, r, http.StatusServiceUnavailable, newErrorResponse("canceled", err))
	default:
		s.logger.Error("request failed", "error", err, "request_id", RequestID(r.Context()))
		s.writeJSON(w, r, http.StatusInternalServerError, newErrorResponse("internal", err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		s.logger.Warn("Error encoding response", "error", err, "request_id", RequestID(r.Context()))
	}
}

// staticHandler serves the client bundle under root. Paths that do not name
// an existing file get index.html so client-side routes resolve.
func staticHandler(root string) http.HandlerFunc {
	files := http.FileServer(http.Dir(root))
	index := filepath.Join(root, "index.html")

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.NotFound(w, r)
			return
		}

		name := filepath.Join(root, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
		if _, err := os.Stat(name); err == nil {
			files.ServeHTTP(w, r)
			return
		}
		if _, err := os.Stat(index); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, index)
	}
}
