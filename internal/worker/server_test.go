package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/stylegen/internal/queue"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerRequiresHandler(t *testing.T) {
	_, err := NewServer(asynq.RedisClientOpt{Addr: "localhost:6379"}, ServerConfig{Queue: "gen"}, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestServerRoutesGenerateTasksToHandler(t *testing.T) {
	h := newHarness(t)
	s, err := NewServer(
		asynq.RedisClientOpt{Addr: "localhost:6379"},
		ServerConfig{Queue: "gen", Concurrency: 1, BackoffBase: 2 * time.Second},
		h.handler,
		zerolog.Nop(),
	)
	require.NoError(t, err)

	err = s.mux().ProcessTask(context.Background(), asynq.NewTask(queue.TypeGenerateImage, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	job := testJob("job-routed")
	task := h.submit(t, job)
	require.NoError(t, s.mux().ProcessTask(context.Background(), task))
	_, ok := h.cache.GetResult(job.ID)
	assert.True(t, ok)
}
