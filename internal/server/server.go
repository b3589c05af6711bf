package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/runnerr0/trail/internal/capture"
	"github.com/runnerr0/trail/internal/config"
	"github.com/runnerr0/trail/internal/history"
	"github.com/runnerr0/trail/internal/metrics"
)

// History is the engine surface the HTTP API exposes.
type History interface {
	RecordVisit(ctx context.Context, v history.Visit) (history.VisitID, error)
	UpdateVisitDuration(ctx context.Context, id history.VisitID, seconds int64) error
	DeleteVisit(ctx context.Context, id history.VisitID) error
	GetVisit(ctx context.Context, id history.VisitID) (*history.Visit, error)
	Search(ctx context.Context, q history.SearchQuery) ([]history.Visit, error)
	GetRecent(ctx context.Context, limit int) ([]history.Visit, error)
	GetVisitsForURL(ctx context.Context, url string) ([]history.Visit, error)
	GetMostVisited(ctx context.Context, limit int) ([]history.PageAggregate, error)
	GetFrecent(ctx context.Context, limit int) ([]history.PageAggregate, error)
	CountVisits(ctx context.Context) (int64, error)
	CountVisitsForURL(ctx context.Context, url string) (int64, error)
	ClearOlderThan(ctx context.Context, before int64) (int64, error)
	ClearAll(ctx context.Context) (int64, error)
	Path() string
}

// Options holds the optional collaborators of a Server.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector
	Version string
	Clock   func() time.Time
}

// Server is the trail ingest and query HTTP API.
type Server struct {
	history  History
	policy   *capture.Policy
	cfg      config.DaemonConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
	limiter  *rate.Limiter
	validate *validator.Validate
	router   chi.Router
	version  string
	started  time.Time
	now      func() time.Time
}

// New creates a Server. A nil policy records every visit.
func New(h History, policy *capture.Policy, cfg config.DaemonConfig, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Server{
		history:  h,
		policy:   policy,
		cfg:      cfg,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		validate: validator.New(),
		version:  opts.Version,
		started:  opts.Clock(),
		now:      opts.Clock,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.instrument)

	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(s.rateLimit)
			if s.cfg.MaxRequestSize > 0 {
				r.Use(middleware.RequestSize(s.cfg.MaxRequestSize))
			}

			r.Post("/visits", s.handleRecordVisit)
			r.Get("/visits/{visitID}", s.handleGetVisit)
			r.Delete("/visits/{visitID}", s.handleDeleteVisit)
			r.Patch("/visits/{visitID}/duration", s.handleUpdateDuration)

			r.Get("/search", s.handleSearch)
			r.Get("/recent", s.handleRecent)
			r.Get("/pages/visits", s.handlePageVisits)
			r.Get("/top", s.handleMostVisited)
			r.Get("/frecent", s.handleFrecent)
			r.Get("/count", s.handleCount)

			r.Post("/clear", s.handleClear)
		})
	})

	s.router = r
}

// Addr returns the listen address from the daemon config.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// ListenAndServe serves on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
