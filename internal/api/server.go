package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/stylegen/internal/cache"
	"github.com/dunamismax/stylegen/internal/domain"
	"github.com/dunamismax/stylegen/internal/genimage"
	"github.com/dunamismax/stylegen/internal/jobs"
	"github.com/dunamismax/stylegen/internal/queue"
	"github.com/dunamismax/stylegen/internal/ratelimit"
	"github.com/dunamismax/stylegen/internal/realtime"
	"github.com/dunamismax/stylegen/internal/telemetry"
	"github.com/dunamismax/stylegen/internal/templates"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxUploadBytes = 8 << 20
	DefaultHeartbeat      = 15 * time.Second
)

// JobService is the job coordinator as seen by HTTP handlers.
type JobService interface {
	Submit(ctx context.Context, req domain.SubmitRequest) (jobs.SubmitResult, error)
	Stream(jobID string) (*realtime.Stream, error)
	CloseStream(jobID string)
	GetStatus(jobID string) (domain.JobMetadata, error)
	GetResult(jobID string) (domain.JobResult, error)
	Cancel(jobID string)
	QueueStats() (queue.Counts, error)
	ClearQueue() (int, error)
	CacheStats() cache.Stats
	ClearCache() jobs.ClearCacheResult
}

type TemplateCatalog interface {
	List() []templates.Template
	Get(id string) (templates.Template, error)
	Preview(ctx context.Context, id string) (templates.Asset, error)
}

type UsageSummarizer interface {
	Summary(ctx context.Context) (domain.UsageSummary, error)
}

type Options struct {
	MaxUploadBytes  int64
	Usage           UsageSummarizer
	RateLimiter     ratelimit.Limiter
	RateLimitHeader string
	Pricing         genimage.PricingInfo
	Registry        *prometheus.Registry
	Heartbeat       time.Duration
}

type Server struct {
	logger          zerolog.Logger
	jobs            JobService
	templates       TemplateCatalog
	usage           UsageSummarizer
	maxUploadBytes  int64
	rateLimiter     ratelimit.Limiter
	rateLimitHeader string
	pricing         genimage.PricingInfo
	heartbeat       time.Duration
	registry        *prometheus.Registry
	metrics         *metrics
	tracer          trace.Tracer
	router          chi.Router
}

func NewServer(logger zerolog.Logger, jobService JobService, catalog TemplateCatalog, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.RateLimitHeader == "" {
		opts.RateLimitHeader = "X-User-ID"
	}
	if opts.Registry == nil {
		opts.Registry = telemetry.NewRegistry()
	}

	s := &Server{
		logger:          logger,
		jobs:            jobService,
		templates:       catalog,
		usage:           opts.Usage,
		maxUploadBytes:  opts.MaxUploadBytes,
		rateLimiter:     opts.RateLimiter,
		rateLimitHeader: opts.RateLimitHeader,
		pricing:         opts.Pricing,
		heartbeat:       opts.Heartbeat,
		registry:        opts.Registry,
		metrics:         newMetrics(opts.Registry),
		tracer:          otel.Tracer("stylegen/api"),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.withAccessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.withTracing)
	r.Use(s.metrics.withHTTPMetrics)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", telemetry.MetricsHandler(s.registry))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.With(s.withRateLimit).Post("/", s.handleCreateJob)

			r.Get("/queue", s.handleQueueStats)
			r.Delete("/queue", s.handleClearQueue)
			r.Get("/cache", s.handleCacheStats)
			r.Delete("/cache", s.handleClearCache)
			r.Get("/pricing", s.handlePricing)
			r.Get("/usage", s.handleUsage)

			r.Get("/{id}/stream", s.handleStream)
			r.Get("/{id}/status", s.handleStatus)
			r.Get("/{id}/result", s.handleResult)
			r.Delete("/{id}", s.handleCancel)
		})
		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Get("/{id}", s.handleGetTemplate)
			r.Get("/{id}/preview", s.handleTemplatePreview)
		})
	})

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps err onto a status code by its kind. Internal details are
// logged, not returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		status = http.StatusBadRequest
		message = fmt.Sprintf("upload exceeds the %d MB limit", s.maxUploadBytes>>20)
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		message = err.Error()
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
