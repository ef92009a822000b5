package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/dunamismax/stylegen/internal/logging"
	"github.com/dunamismax/stylegen/internal/queue"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

type ServerConfig struct {
	Queue       string
	Concurrency int
	BackoffBase time.Duration
}

// Server consumes generation tasks from the queue.
type Server struct {
	server  *asynq.Server
	handler *Handler
	logger  zerolog.Logger
}

func NewServer(redisOpt asynq.RedisConnOpt, cfg ServerConfig, handler *Handler, logger zerolog.Logger) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Server{
		server: asynq.NewServer(redisOpt, asynq.Config{
			Concurrency:    cfg.Concurrency,
			Queues:         map[string]int{cfg.Queue: 1},
			RetryDelayFunc: queue.RetryDelay(cfg.BackoffBase),
			Logger:         logging.AsynqLogger{L: logger},
			LogLevel:       asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn().
					Err(err).
					Str("task_type", task.Type()).
					Int("retried", retried).
					Int("max_retry", maxRetry).
					Msg("task failed")
			}),
		}),
		handler: handler,
		logger:  logger,
	}, nil
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(queue.TypeGenerateImage, s.handler)
	return mux
}

// Run processes tasks until ctx is cancelled, then drains in-flight jobs.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux()); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	s.logger.Info().Msg("worker started")

	<-ctx.Done()
	s.server.Shutdown()
	s.logger.Info().Msg("worker stopped")
	return nil
}
