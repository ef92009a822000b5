package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/stylegen/internal/cache"
	"github.com/dunamismax/stylegen/internal/domain"
	"github.com/dunamismax/stylegen/internal/genimage"
	"github.com/dunamismax/stylegen/internal/pipeline"
	"github.com/dunamismax/stylegen/internal/queue"
	"github.com/dunamismax/stylegen/internal/realtime"
	"github.com/dunamismax/stylegen/internal/store"
	"github.com/dunamismax/stylegen/internal/templates"
	"github.com/dunamismax/stylegen/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	templates map[string]templates.Template
	assets    templates.Assets
}

func (c fakeCatalog) Get(id string) (templates.Template, error) {
	t, ok := c.templates[id]
	if !ok {
		return templates.Template{}, fmt.Errorf("template %q: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (c fakeCatalog) Assets(context.Context, templates.Template) (templates.Assets, error) {
	return c.assets, nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	errs  []error
	calls []genimage.Request
}

func (g *fakeGenerator) GenerateImage(_ context.Context, req genimage.Request) (genimage.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		if err != nil {
			return genimage.Response{}, err
		}
	}
	return genimage.Response{
		Image:    []byte("generated"),
		MIMEType: "image/png",
		Usage:    genimage.Usage{PromptTokens: 1200, OutputTokens: 0, ImagesOut: 1, CostUSD: 0.04},
	}, nil
}

func (g *fakeGenerator) Model() string { return genimage.DefaultModel }

type fakeCompositor struct {
	overlay []byte
}

func (c *fakeCompositor) Composite(_ context.Context, base, overlay []byte) (pipeline.Output, error) {
	if len(base) == 0 {
		return pipeline.Output{}, pipeline.ErrEmptyImage
	}
	c.overlay = overlay
	return pipeline.Output{Data: append([]byte("framed:"), base...), Format: "png", Width: 8, Height: 8}, nil
}

type sentWebhook struct {
	endpoint string
	event    string
	body     webhook.JobEvent
}

type captureWebhooks struct {
	mu   sync.Mutex
	sent []sentWebhook
	err  error
}

func (w *captureWebhooks) Send(_ context.Context, endpoint, event string, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent = append(w.sent, sentWebhook{endpoint: endpoint, event: event, body: payload.(webhook.JobEvent)})
	return w.err
}

type harness struct {
	handler     *Handler
	cache       *cache.Cache
	broadcaster *realtime.Broadcaster
	generator   *fakeGenerator
	compositor  *fakeCompositor
	usage       *store.MemoryUsageStore
	webhooks    *captureWebhooks
	attempt     int
	maxAttempts int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		cache:       cache.New(cache.Options{}, zerolog.Nop()),
		broadcaster: realtime.NewBroadcaster(realtime.DefaultBuffer, zerolog.Nop()),
		generator:   &fakeGenerator{},
		compositor:  &fakeCompositor{},
		usage:       store.NewMemoryUsageStore(),
		webhooks:    &captureWebhooks{},
		attempt:     1,
		maxAttempts: 3,
	}
	handler, err := NewHandler(Deps{
		Cache:       h.cache,
		Broadcaster: h.broadcaster,
		Templates: fakeCatalog{
			templates: map[string]templates.Template{
				"summer": {ID: "summer", Name: "Summer Party", AspectRatio: "1:1"},
			},
			assets: templates.Assets{
				Background: templates.Asset{Data: []byte("background"), MIMEType: "image/png"},
				Overlay:    templates.Asset{Data: []byte("overlay"), MIMEType: "image/png"},
			},
		},
		Generator:  h.generator,
		Compositor: h.compositor,
		Usage:      h.usage,
		Webhooks:   h.webhooks,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	handler.attemptInfo = func(context.Context) (int, int) { return h.attempt, h.maxAttempts }
	h.handler = handler
	return h
}

func (h *harness) submit(t *testing.T, job domain.Job) *asynq.Task {
	t.Helper()
	h.cache.SetMetadata(job.ID, domain.JobMetadata{
		Status:     domain.JobStatusQueued,
		Message:    "Job queued for processing",
		TemplateID: job.TemplateID,
		CreatedAt:  time.Now(),
	})
	task, err := queue.NewGenerateImageTask(queue.PayloadFromJob(job))
	require.NoError(t, err)
	return task
}

func testJob(id string) domain.Job {
	return domain.Job{
		ID:          id,
		Image:       []byte("\x89PNG\r\n\x1a\nface"),
		Filename:    "me.png",
		ContentType: "image/png",
		Prompt:      "red jacket",
		TemplateID:  "summer",
		AspectRatio: "1:1",
		Style:       "natural",
		CallbackURL: "https://hooks.example.com/jobs",
		RequestedAt: time.Now().UTC(),
	}
}

func drain(events <-chan realtime.Event) []realtime.Event {
	var out []realtime.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestProcessTaskReportsStagesAndStoresResult(t *testing.T) {
	h := newHarness(t)
	job := testJob("job-1")
	task := h.submit(t, job)

	events, unsubscribe := h.broadcaster.Attach(job.ID).Subscribe()
	defer unsubscribe()

	require.NoError(t, h.handler.ProcessTask(context.Background(), task))

	got := drain(events)
	require.Len(t, got, 7)
	wantProgress := []int{10, 20, 40, 50, 70, 80}
	wantMessages := []string{MsgStarting, MsgTemplate, MsgPrompt, MsgGenerate, MsgComposite, MsgSaving}
	for i, ev := range got[:6] {
		require.Equal(t, realtime.EventProgress, ev.Type)
		data := ev.Data.(realtime.ProgressData)
		assert.Equal(t, "running", data.Status)
		assert.Equal(t, wantProgress[i], data.Progress)
		assert.Equal(t, wantMessages[i], data.Message)
	}
	assert.Equal(t, realtime.EventComplete, got[6].Type)
	assert.Equal(t, 100, got[6].Data.(realtime.ProgressData).Progress)

	meta, ok := h.cache.GetMetadata(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusCompleted, meta.Status)
	assert.Equal(t, 100, meta.Progress)
	assert.Equal(t, MsgCompleted, meta.Message)
	assert.NotNil(t, meta.CompletedAt)
	assert.Equal(t, 1, meta.Attempt)

	result, ok := h.cache.GetResult(job.ID)
	require.True(t, ok)
	assert.Equal(t, "image/png", result.MIMEType)
	assert.Equal(t, "ai-generated-job-1.png", result.Filename)
	assert.Equal(t, []byte("framed:generated"), result.Data)
	assert.Equal(t, []byte("overlay"), h.compositor.overlay)

	require.Len(t, h.generator.calls, 1)
	call := h.generator.calls[0]
	assert.Contains(t, call.Instruction, "Summer Party")
	assert.Equal(t, "image/png", call.Face.MIMEType)
	assert.Equal(t, []byte("background"), call.Background.Data)
	assert.Empty(t, call.Logo.Data)

	logs := h.usage.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "job-1", logs[0].JobID)
	assert.Equal(t, "summer", logs[0].TemplateID)
	assert.Equal(t, int64(1200), logs[0].PromptTokens)
	assert.GreaterOrEqual(t, logs[0].ComputeTimeMS, int64(1))

	require.Len(t, h.webhooks.sent, 1)
	assert.Equal(t, webhook.EventJobCompleted, h.webhooks.sent[0].event)
	assert.Equal(t, "/api/v1/jobs/job-1/result", h.webhooks.sent[0].body.ResultURL)
}

func TestProcessTaskFailureThenRetrySucceeds(t *testing.T) {
	h := newHarness(t)
	h.generator.errs = []error{fmt.Errorf("%w: model overloaded", domain.ErrUpstream)}
	job := testJob("job-2")
	task := h.submit(t, job)

	events, unsubscribe := h.broadcaster.Attach(job.ID).Subscribe()
	defer unsubscribe()

	err := h.handler.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)

	got := drain(events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, realtime.EventError, last.Type)
	assert.Contains(t, last.Data.(realtime.ErrorData).Error, "model overloaded")

	meta, ok := h.cache.GetMetadata(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusFailed, meta.Status)
	assert.Contains(t, meta.Error, "model overloaded")
	assert.Equal(t, "kind=upstream attempt=1/3", meta.ErrorDetails)
	assert.Equal(t, 3, meta.MaxAttempts)
	assert.NotNil(t, meta.FailedAt)
	assert.Empty(t, h.webhooks.sent, "non-final failures do not notify")

	h.attempt = 2
	require.NoError(t, h.handler.ProcessTask(context.Background(), task))

	meta, ok = h.cache.GetMetadata(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusCompleted, meta.Status)
	assert.Equal(t, 2, meta.Attempt)
	assert.Empty(t, meta.Error)
	assert.Empty(t, meta.ErrorDetails)
	assert.Nil(t, meta.FailedAt)

	_, ok = h.cache.GetResult(job.ID)
	assert.True(t, ok)
}

func TestProcessTaskFinalFailureSendsFailedWebhook(t *testing.T) {
	h := newHarness(t)
	h.attempt, h.maxAttempts = 3, 3
	h.generator.errs = []error{fmt.Errorf("%w: blocked", domain.ErrUpstream)}
	job := testJob("job-3")
	task := h.submit(t, job)

	require.Error(t, h.handler.ProcessTask(context.Background(), task))

	require.Len(t, h.webhooks.sent, 1)
	sent := h.webhooks.sent[0]
	assert.Equal(t, webhook.EventJobFailed, sent.event)
	assert.Equal(t, "https://hooks.example.com/jobs", sent.endpoint)
	assert.Equal(t, "failed", sent.body.Status)
	assert.Equal(t, 3, sent.body.Attempt)
	assert.NotNil(t, sent.body.FailedAt)
	assert.Empty(t, h.usage.Logs())
}

func TestProcessTaskUnknownTemplateIsInternal(t *testing.T) {
	h := newHarness(t)
	job := testJob("job-4")
	job.TemplateID = "missing"
	task := h.submit(t, job)

	err := h.handler.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	assert.Empty(t, h.generator.calls)

	meta, ok := h.cache.GetMetadata(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusFailed, meta.Status)
	assert.Equal(t, 20, meta.Progress)
}

func TestProcessTaskRejectsMalformedPayloadWithoutRetry(t *testing.T) {
	h := newHarness(t)

	err := h.handler.ProcessTask(context.Background(), asynq.NewTask(queue.TypeGenerateImage, []byte("{")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = h.handler.ProcessTask(context.Background(), asynq.NewTask(queue.TypeGenerateImage, []byte(`{"prompt":"x"}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessTaskWebhookFailureDoesNotFailJob(t *testing.T) {
	h := newHarness(t)
	h.webhooks.err = errors.New("connection refused")
	job := testJob("job-5")
	task := h.submit(t, job)

	require.NoError(t, h.handler.ProcessTask(context.Background(), task))

	meta, ok := h.cache.GetMetadata(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusCompleted, meta.Status)
}

func TestProcessTaskAfterCancelStillStoresResult(t *testing.T) {
	h := newHarness(t)
	job := testJob("job-6")
	task := h.submit(t, job)
	h.cache.DeleteMetadata(job.ID)

	require.NoError(t, h.handler.ProcessTask(context.Background(), task))

	_, ok := h.cache.GetMetadata(job.ID)
	assert.False(t, ok)
	_, ok = h.cache.GetResult(job.ID)
	assert.True(t, ok)
}

func TestFaceMIMEFallsBackToSniffing(t *testing.T) {
	job := domain.Job{Image: []byte("\xff\xd8\xff\xe0jpeg"), ContentType: "application/octet-stream"}
	assert.Equal(t, "image/jpeg", faceMIME(job))

	job.ContentType = "image/webp"
	assert.Equal(t, "image/webp", faceMIME(job))
}

func TestNewHandlerRequiresDependencies(t *testing.T) {
	_, err := NewHandler(Deps{})
	require.Error(t, err)
}
