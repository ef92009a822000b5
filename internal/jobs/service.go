// Package jobs is the entry point for submitting and observing generation
// jobs. It ties the queue, the result cache and the progress streams
// together.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dunamismax/stylegen/internal/cache"
	"github.com/dunamismax/stylegen/internal/domain"
	"github.com/dunamismax/stylegen/internal/id"
	"github.com/dunamismax/stylegen/internal/queue"
	"github.com/dunamismax/stylegen/internal/realtime"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const QueuedMessage = "Job queued for processing"

// Queue is the subset of *queue.Client the service relies on.
type Queue interface {
	Enqueue(ctx context.Context, payload queue.GenerateImagePayload) (*asynq.TaskInfo, error)
	GetJob(id string) (*asynq.TaskInfo, error)
	Remove(info *asynq.TaskInfo) error
	Counts() (queue.Counts, error)
	Clear() (int, error)
}

type SubmitResult struct {
	JobID   string           `json:"jobId"`
	Status  domain.JobStatus `json:"status"`
	Message string           `json:"message"`
}

type ClearCacheResult struct {
	MetadataCleared int `json:"metadataCleared"`
	ResultsCleared  int `json:"resultsCleared"`
}

type Service struct {
	queue       Queue
	cache       *cache.Cache
	broadcaster *realtime.Broadcaster
	logger      zerolog.Logger
	newID       func() string
	now         func() time.Time
}

func NewService(q Queue, c *cache.Cache, b *realtime.Broadcaster, logger zerolog.Logger) *Service {
	return &Service{
		queue:       q,
		cache:       c,
		broadcaster: b,
		logger:      logger,
		newID:       id.New,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates req, records the job as queued and enqueues it. The
// metadata is written before the task becomes visible to a worker.
func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (SubmitResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return SubmitResult{}, err
	}

	now := s.now()
	job := domain.Job{
		ID:          s.newID(),
		Image:       req.Image,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Prompt:      req.Prompt,
		TemplateID:  req.TemplateID,
		AspectRatio: req.AspectRatio,
		Style:       req.Style,
		CallbackURL: req.CallbackURL,
		RequestedAt: now,
	}

	s.cache.SetMetadata(job.ID, domain.JobMetadata{
		Status:     domain.JobStatusQueued,
		Progress:   0,
		Message:    QueuedMessage,
		TemplateID: job.TemplateID,
		CreatedAt:  now,
	})

	if _, err := s.queue.Enqueue(ctx, queue.PayloadFromJob(job)); err != nil {
		s.cache.DeleteMetadata(job.ID)
		return SubmitResult{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("template_id", job.TemplateID).
		Int("image_bytes", len(job.Image)).
		Msg("job queued")

	return SubmitResult{JobID: job.ID, Status: domain.JobStatusQueued, Message: QueuedMessage}, nil
}

// Stream returns the shared progress stream for a known job.
func (s *Service) Stream(jobID string) (*realtime.Stream, error) {
	if _, ok := s.cache.GetMetadata(jobID); !ok {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}
	return s.broadcaster.Attach(jobID), nil
}

func (s *Service) CloseStream(jobID string) {
	s.broadcaster.Close(jobID)
}

func (s *Service) GetStatus(jobID string) (domain.JobMetadata, error) {
	meta, ok := s.cache.GetMetadata(jobID)
	if !ok {
		return domain.JobMetadata{}, fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}
	return meta, nil
}

func (s *Service) GetResult(jobID string) (domain.JobResult, error) {
	result, ok := s.cache.GetResult(jobID)
	if !ok || len(result.Data) == 0 {
		return domain.JobResult{}, fmt.Errorf("%w: result for job %s", domain.ErrNotFound, jobID)
	}
	return result, nil
}

// Cancel removes a job that has not started and forgets its state. It
// never fails. A job already running is not interrupted and may still
// store its result.
func (s *Service) Cancel(jobID string) {
	info, err := s.queue.GetJob(jobID)
	switch {
	case err != nil:
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("cancel: lookup failed")
	case info != nil:
		if err := s.queue.Remove(info); err != nil {
			s.logger.Info().Err(err).Str("job_id", jobID).Msg("cancel: job not removed from queue")
		}
	}

	s.cache.DeleteMetadata(jobID)
	s.cache.DeleteResult(jobID)
	s.broadcaster.Close(jobID)
	s.logger.Info().Str("job_id", jobID).Msg("job cancelled")
}

func (s *Service) QueueStats() (queue.Counts, error) {
	counts, err := s.queue.Counts()
	if err != nil {
		return queue.Counts{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return counts, nil
}

// ClearQueue drops every job that has not started yet.
func (s *Service) ClearQueue() (int, error) {
	n, err := s.queue.Clear()
	if err != nil {
		return n, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return n, nil
}

func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

func (s *Service) ClearCache() ClearCacheResult {
	metadata, results := s.cache.ClearAll()
	return ClearCacheResult{MetadataCleared: metadata, ResultsCleared: results}
}
