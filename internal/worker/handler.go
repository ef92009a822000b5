package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/stylegen/internal/cache"
	"github.com/dunamismax/stylegen/internal/domain"
	"github.com/dunamismax/stylegen/internal/genimage"
	"github.com/dunamismax/stylegen/internal/pipeline"
	"github.com/dunamismax/stylegen/internal/prompt"
	"github.com/dunamismax/stylegen/internal/queue"
	"github.com/dunamismax/stylegen/internal/realtime"
	"github.com/dunamismax/stylegen/internal/store"
	"github.com/dunamismax/stylegen/internal/templates"
	"github.com/dunamismax/stylegen/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	MsgStarting  = "Starting image generation..."
	MsgTemplate  = "Resolving template..."
	MsgPrompt    = "Preparing AI instructions..."
	MsgGenerate  = "AI is editing the photo..."
	MsgComposite = "Applying template frame..."
	MsgSaving    = "Saving result..."
	MsgCompleted = "Image generation completed!"
)

// Catalog resolves a template and its artwork.
type Catalog interface {
	Get(id string) (templates.Template, error)
	Assets(ctx context.Context, t templates.Template) (templates.Assets, error)
}

type Generator interface {
	GenerateImage(ctx context.Context, req genimage.Request) (genimage.Response, error)
	Model() string
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Deps struct {
	Cache       *cache.Cache
	Broadcaster *realtime.Broadcaster
	Templates   Catalog
	Generator   Generator
	Compositor  pipeline.Compositor
	Usage       store.UsageStore
	Webhooks    webhookSender
	Registry    prometheus.Registerer
	Logger      zerolog.Logger
}

// Handler runs one generation job per task delivery.
type Handler struct {
	cache       *cache.Cache
	broadcaster *realtime.Broadcaster
	templates   Catalog
	generator   Generator
	compositor  pipeline.Compositor
	usage       store.UsageStore
	webhooks    webhookSender
	metrics     *metrics
	tracer      trace.Tracer
	logger      zerolog.Logger

	attemptInfo func(ctx context.Context) (attempt, maxAttempts int)
	now         func() time.Time
}

func NewHandler(deps Deps) (*Handler, error) {
	switch {
	case deps.Cache == nil:
		return nil, fmt.Errorf("result cache is required")
	case deps.Broadcaster == nil:
		return nil, fmt.Errorf("progress broadcaster is required")
	case deps.Templates == nil:
		return nil, fmt.Errorf("template catalog is required")
	case deps.Generator == nil:
		return nil, fmt.Errorf("image generator is required")
	case deps.Compositor == nil:
		return nil, fmt.Errorf("compositor is required")
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	return &Handler{
		cache:       deps.Cache,
		broadcaster: deps.Broadcaster,
		templates:   deps.Templates,
		generator:   deps.Generator,
		compositor:  deps.Compositor,
		usage:       deps.Usage,
		webhooks:    deps.Webhooks,
		metrics:     newMetrics(registry),
		tracer:      otel.Tracer("stylegen/worker"),
		logger:      deps.Logger,
		attemptInfo: asynqAttempt,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// asynqAttempt reports the 1-based delivery number and the attempt budget.
// Outside an asynq handler every delivery counts as the last one.
func asynqAttempt(ctx context.Context) (int, int) {
	retried, ok := asynq.GetRetryCount(ctx)
	maxRetry, okMax := asynq.GetMaxRetry(ctx)
	if !ok || !okMax {
		return 1, 1
	}
	return retried + 1, maxRetry + 1
}

type outcome struct {
	usage      genimage.Usage
	output     pipeline.Output
	templateID string
}

func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseGenerateImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	job := payload.Job()
	attempt, maxAttempts := h.attemptInfo(ctx)
	startedAt := time.Now()

	ctx, span := h.tracer.Start(ctx, "worker.generate_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.template_id", job.TemplateID),
		attribute.Int("job.attempt", attempt),
	)
	defer span.End()

	h.metrics.activeJobs.Inc()
	defer h.metrics.activeJobs.Dec()

	log := h.logger.With().Str("job_id", job.ID).Int("attempt", attempt).Logger()
	log.Info().Str("template_id", job.TemplateID).Msg("generation started")

	result, err := h.run(ctx, job, attempt, maxAttempts)
	elapsed := time.Since(startedAt)
	if err != nil {
		kind := domain.KindOf(err)
		h.metrics.jobsTotal.WithLabelValues("failed", string(kind)).Inc()
		h.metrics.jobDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		log.Error().Err(err).Str("kind", string(kind)).Int("max_attempts", maxAttempts).Msg("generation failed")

		h.fail(ctx, job, attempt, maxAttempts, err)
		return fmt.Errorf("generate image for job %s: %w", job.ID, err)
	}

	h.metrics.jobsTotal.WithLabelValues("completed", "").Inc()
	h.metrics.jobDuration.WithLabelValues("completed").Observe(elapsed.Seconds())
	span.SetStatus(codes.Ok, "generated")
	log.Info().
		Str("format", result.output.Format).
		Int("bytes", len(result.output.Data)).
		Dur("elapsed", elapsed).
		Msg("generation completed")

	h.recordUsage(ctx, job, attempt, result, elapsed)
	h.notify(ctx, job, attempt, domain.JobStatusCompleted, "")
	return nil
}

func (h *Handler) run(ctx context.Context, job domain.Job, attempt, maxAttempts int) (outcome, error) {
	h.stage(job.ID, 10, MsgStarting, func(m *domain.JobMetadata) {
		m.Attempt = attempt
		m.MaxAttempts = maxAttempts
		m.Error = ""
		m.ErrorDetails = ""
		m.FailedAt = nil
		m.CompletedAt = nil
	})
	if len(job.Image) == 0 {
		return outcome{}, fmt.Errorf("%w: job image is empty", domain.ErrInternal)
	}

	h.stage(job.ID, 20, MsgTemplate, nil)
	mark := time.Now()
	tpl, err := h.templates.Get(job.TemplateID)
	if err != nil {
		return outcome{}, fmt.Errorf("%w: resolve template: %v", domain.ErrInternal, err)
	}
	assets, err := h.templates.Assets(ctx, tpl)
	if err != nil {
		return outcome{}, fmt.Errorf("%w: load template assets: %v", domain.ErrInternal, err)
	}
	mark = h.observe("template", mark)

	h.stage(job.ID, 40, MsgPrompt, nil)
	instruction, err := prompt.Build(prompt.Input{
		Style:        job.Style,
		Prompt:       job.Prompt,
		TemplateName: tpl.Name,
		AspectRatio:  job.AspectRatio,
		HasLogo:      !assets.Logo.Empty(),
	})
	if err != nil {
		return outcome{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	mark = h.observe("prompt", mark)

	h.stage(job.ID, 50, MsgGenerate, nil)
	generated, err := h.generator.GenerateImage(ctx, genimage.Request{
		Instruction: instruction,
		Face:        genimage.Image{Data: job.Image, MIMEType: faceMIME(job)},
		Background:  genimage.Image{Data: assets.Background.Data, MIMEType: assets.Background.MIMEType},
		Logo:        genimage.Image{Data: assets.Logo.Data, MIMEType: assets.Logo.MIMEType},
		AspectRatio: job.AspectRatio,
	})
	if err != nil {
		return outcome{}, err
	}
	mark = h.observe("generate", mark)

	h.stage(job.ID, 70, MsgComposite, nil)
	output, err := h.compositor.Composite(ctx, generated.Image, assets.Overlay.Data)
	if err != nil {
		return outcome{}, fmt.Errorf("%w: composite: %v", domain.ErrInternal, err)
	}
	mark = h.observe("composite", mark)

	h.stage(job.ID, 80, MsgSaving, nil)
	completedAt := h.now()
	result := domain.JobResult{
		Data:      output.Data,
		MIMEType:  output.MIMEType(),
		Filename:  domain.ResultFilename(job.ID, pipeline.Extension(output.Format)),
		CreatedAt: completedAt,
	}
	if !h.cache.CommitResult(job.ID, result, func(m *domain.JobMetadata) {
		m.Status = domain.JobStatusCompleted
		m.Progress = 100
		m.Message = MsgCompleted
		m.CompletedAt = &completedAt
	}) {
		h.logger.Warn().Str("job_id", job.ID).Msg("result stored without metadata, job was cancelled or expired")
	}
	h.broadcaster.Complete(job.ID, MsgCompleted)
	h.observe("save", mark)

	return outcome{usage: generated.Usage, output: output, templateID: tpl.ID}, nil
}

// stage records progress in the cache and pushes it to live subscribers.
func (h *Handler) stage(jobID string, progress int, message string, update func(*domain.JobMetadata)) {
	h.cache.UpdateMetadata(jobID, func(m *domain.JobMetadata) {
		m.Status = domain.JobStatusRunning
		m.Progress = progress
		m.Message = message
		if update != nil {
			update(m)
		}
	})
	h.broadcaster.Progress(jobID, progress, message)
}

func (h *Handler) observe(stage string, since time.Time) time.Time {
	now := time.Now()
	h.metrics.stageDuration.WithLabelValues(stage).Observe(now.Sub(since).Seconds())
	return now
}

func (h *Handler) fail(ctx context.Context, job domain.Job, attempt, maxAttempts int, cause error) {
	failedAt := h.now()
	message := cause.Error()
	h.cache.UpdateMetadata(job.ID, func(m *domain.JobMetadata) {
		m.Status = domain.JobStatusFailed
		m.Message = "Image generation failed"
		m.Error = message
		m.ErrorDetails = fmt.Sprintf("kind=%s attempt=%d/%d", domain.KindOf(cause), attempt, maxAttempts)
		m.Attempt = attempt
		m.MaxAttempts = maxAttempts
		m.FailedAt = &failedAt
	})
	h.broadcaster.Error(job.ID, message)

	if attempt >= maxAttempts {
		h.notify(ctx, job, attempt, domain.JobStatusFailed, message)
	}
}

func (h *Handler) recordUsage(ctx context.Context, job domain.Job, attempt int, result outcome, elapsed time.Duration) {
	computeTimeMS := elapsed.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	h.metrics.promptTokensTotal.Add(float64(result.usage.PromptTokens))
	h.metrics.outputTokensTotal.Add(float64(result.usage.OutputTokens))
	h.metrics.costUSDTotal.Add(result.usage.CostUSD)
	h.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))

	if h.usage == nil {
		return
	}
	usage := domain.UsageLog{
		JobID:         job.ID,
		TemplateID:    result.templateID,
		Model:         h.generator.Model(),
		InputBytes:    int64(len(job.Image)),
		OutputBytes:   int64(len(result.output.Data)),
		PromptTokens:  result.usage.PromptTokens,
		OutputTokens:  result.usage.OutputTokens,
		EstimatedCost: result.usage.CostUSD,
		ComputeTimeMS: computeTimeMS,
		Attempt:       attempt,
		CreatedAt:     h.now(),
	}
	if err := h.usage.CreateUsageLog(ctx, usage); err != nil {
		h.logger.Warn().Err(err).Str("job_id", job.ID).Msg("usage log write failed")
	}
}

// notify delivers the outcome webhook. Delivery errors are logged and never
// fail the job.
func (h *Handler) notify(ctx context.Context, job domain.Job, attempt int, status domain.JobStatus, errMessage string) {
	if job.CallbackURL == "" || h.webhooks == nil {
		return
	}

	now := h.now()
	event := webhook.EventJobFailed
	body := webhook.JobEvent{
		JobID:       job.ID,
		Status:      string(status),
		TemplateID:  job.TemplateID,
		Attempt:     attempt,
		RequestedAt: job.RequestedAt,
		Error:       errMessage,
	}
	if status == domain.JobStatusCompleted {
		event = webhook.EventJobCompleted
		body.CompletedAt = &now
		body.ResultURL = fmt.Sprintf("/api/v1/jobs/%s/result", job.ID)
	} else {
		body.FailedAt = &now
	}

	if err := h.webhooks.Send(ctx, job.CallbackURL, event, body); err != nil {
		h.logger.Warn().Err(err).Str("job_id", job.ID).Str("event", event).Msg("webhook delivery failed")
	}
}

func faceMIME(job domain.Job) string {
	if job.ContentType != "" && job.ContentType != "application/octet-stream" {
		return job.ContentType
	}
	return http.DetectContentType(job.Image)
}
