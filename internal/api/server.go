package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
	"github.com/JakeFAU/crawl-control-plane/internal/metrics"
	"github.com/JakeFAU/crawl-control-plane/internal/results"
)

// CrawlService is the crawl lifecycle used by the handlers.
type CrawlService interface {
	Create(ctx context.Context, req *crawl.Crawl) (*crawl.Crawl, error)
	Get(ctx context.Context, id string) (*crawl.Crawl, error)
	List(ctx context.Context) ([]*crawl.Crawl, error)
	Stop(ctx context.Context, id string) (*crawl.Crawl, error)
	Delete(ctx context.Context, id string) error
}

// ResultService is the results surface used by the handlers.
type ResultService interface {
	Search(ctx context.Context, q results.Query, onlyCrawlLanguages bool, page, size int) (results.Page, error)
	Counts(ctx context.Context, q results.Query) (map[string]int64, error)
	Delete(ctx context.Context, q results.Query) (int64, error)
	Classify(ctx context.Context, urls []string, label string) (int64, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusReader reads back a crawl's status index. Stores passed to
// NewServer that implement it enable GET /crawls/{crawlId}/status.
type StatusReader interface {
	StatusItems(ctx context.Context, crawlID string, limit int) ([]crawl.WorkItem, error)
}

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins []string
	// RateLimitPerMinute caps requests per client IP; 0 disables it.
	RateLimitPerMinute int
	RequestTimeout     time.Duration
	Languages          []string
	Countries          []string
}

// Server wires HTTP handlers to the crawl and result services.
type Server struct {
	router   chi.Router
	crawls   CrawlService
	results  ResultService
	store    Pinger
	status   StatusReader
	opts     Options
	validate *validator.Validate
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(crawls CrawlService, res ResultService, store Pinger, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}
	s := &Server{
		crawls:   crawls,
		results:  res,
		store:    store,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
	s.status, _ = store.(StatusReader)
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:         300,
	}))
	if opts.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(opts.RateLimitPerMinute, time.Minute))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		r.Route("/crawls", func(r chi.Router) {
			r.Get("/", s.listCrawls)
			r.Put("/", s.createCrawl)
			r.Route("/{crawlId}", func(r chi.Router) {
				r.Get("/", s.getCrawl)
				r.Delete("/", s.stopCrawl)
				r.Delete("/record", s.deleteCrawl)
				r.Get("/status", s.crawlStatus)
			})
		})
		r.Route("/results", func(r chi.Router) {
			r.Get("/", s.listResults)
			r.Delete("/", s.deleteResults)
			r.Get("/counts", s.countResults)
			r.Post("/classify", s.classifyResults)
		})
		r.Get("/capabilities/languages", s.languages)
		r.Get("/capabilities/countries", s.countries)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "search store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) languages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.opts.Languages))
}

func (s *Server) countries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.opts.Countries))
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs), errors.Is(err, errBadRequest),
		errors.Is(err, results.ErrUnfiltered), errors.Is(err, results.ErrInvalidLabel):
		return http.StatusBadRequest
	case errors.Is(err, crawl.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, crawl.ErrPrecondition):
		return http.StatusConflict
	case errors.Is(err, crawl.ErrNoSeedURLs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, err.Error())
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
