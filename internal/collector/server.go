package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/invisinsights/internal/config"
	"github.com/xkilldash9x/invisinsights/internal/signal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server is the collection endpoint.
type Server struct {
	cfg       config.CollectorConfig
	directory ProjectDirectory
	sink      Sink
	logger    *zap.Logger
	metrics   *metrics
	limiter   *projectLimiter
	router    chi.Router
}

// New wires the collection endpoint.
func New(cfg config.CollectorConfig, directory ProjectDirectory, sink Sink, logger *zap.Logger) (*Server, error) {
	if directory == nil {
		return nil, errors.New("collector: project directory is required")
	}
	if sink == nil {
		return nil, errors.New("collector: sink is required")
	}
	s := &Server{
		cfg:       cfg,
		directory: directory,
		sink:      sink,
		logger:    logger.Named("collector"),
		metrics:   newMetrics(),
		limiter:   newProjectLimiter(cfg.RateLimit, cfg.RateBurst),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(corsMiddleware(s.cfg.AllowedOrigins))

	r.Post("/collect", s.handleCollect)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

func (s *Server) reject(w http.ResponseWriter, status int, outcome, code, detail string) {
	s.metrics.requests.WithLabelValues(outcome).Inc()
	s.writeJSON(w, status, errorResponse{Error: code, Detail: detail})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(signal.ProjectKeyHeader)
	if key == "" {
		s.reject(w, http.StatusUnauthorized, outcomeUnauthorized, "missing_project_key", "")
		return
	}

	project, ok, err := s.directory.Lookup(r.Context(), key)
	if err != nil {
		s.logger.Error("Project lookup failed", zap.Error(err))
		s.reject(w, http.StatusInternalServerError, outcomeSinkError, "project_lookup_failed", "")
		return
	}
	if !ok {
		s.reject(w, http.StatusUnauthorized, outcomeUnauthorized, "invalid_project_key", "")
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if !project.AllowsOrigin(origin) {
		s.reject(w, http.StatusForbidden, outcomeForbidden, "domain_not_allowed", "")
		return
	}

	if !s.limiter.Allow(project.Key) {
		s.reject(w, http.StatusTooManyRequests, outcomeRateLimited, "rate_limited", "")
		return
	}

	payload, err := s.decode(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, errBodyTooLarge) {
			s.reject(w, http.StatusRequestEntityTooLarge, outcomeTooLarge, "payload_too_large", "")
			return
		}
		s.reject(w, http.StatusBadRequest, outcomeInvalid, "invalid_payload", err.Error())
		return
	}

	if payload.ProjectID != project.Key {
		s.reject(w, http.StatusBadRequest, outcomeInvalid, "project_key_mismatch", "")
		return
	}
	if err := payload.Validate(); err != nil {
		s.reject(w, http.StatusBadRequest, outcomeInvalid, "invalid_payload", err.Error())
		return
	}

	if err := s.sink.Save(r.Context(), payload); err != nil {
		s.logger.Error("Failed to store payload",
			zap.String("project_id", payload.ProjectID),
			zap.String("session_id", payload.SessionID),
			zap.Error(err))
		s.reject(w, http.StatusInternalServerError, outcomeSinkError, "collect_failed", "")
		return
	}

	s.metrics.requests.WithLabelValues(outcomeAccepted).Inc()
	s.metrics.observe(payload)
	s.logger.Info("Session payload accepted",
		zap.String("project_id", payload.ProjectID),
		zap.String("session_id", payload.SessionID),
		zap.String("page_path", payload.PagePath),
		zap.String("reason", payload.SessionEndReason))
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

var errBodyTooLarge = errors.New("decoded body exceeds limit")

// decode reads the body, brotli-decoded when the engine compressed it. Both
// the wire body and the decoded body are bounded by MaxBodyBytes.
func (s *Server) decode(w http.ResponseWriter, r *http.Request) (signal.Payload, error) {
	var p signal.Payload
	limit := s.cfg.MaxBodyBytes
	var body io.Reader = r.Body
	if limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}

	switch r.Header.Get("Content-Encoding") {
	case "", "identity":
	case "br":
		body = brotli.NewReader(body)
	default:
		return p, fmt.Errorf("unsupported content encoding %q", r.Header.Get("Content-Encoding"))
	}

	if limit > 0 {
		body = io.LimitReader(body, limit+1)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return p, err
	}
	if limit > 0 && int64(len(raw)) > limit {
		return p, errBodyTooLarge
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("malformed JSON: %w", err)
	}
	return p, nil
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Collector listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("collector server failed: %w", err)
	case <-ctx.Done():
	}

	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	s.logger.Info("Shutting down collector")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("collector shutdown failed: %w", err)
	}
	<-errCh
	return nil
}
