package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// ErrJobActive is returned when removing a task a worker is running.
var ErrJobActive = errors.New("job is being processed")

type Options struct {
	Name        string
	Attempts    int
	BackoffBase time.Duration
	Timeout     time.Duration
	Retention   time.Duration
}

type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	opts      Options
	logger    zerolog.Logger
}

func NewClient(redisOpt asynq.RedisConnOpt, opts Options, logger zerolog.Logger) *Client {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &Client{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		opts:      opts,
		logger:    logger,
	}
}

// RetryDelay returns an exponential backoff: the n-th retry waits base*2^n.
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if n < 0 {
			n = 0
		}
		if n > 16 {
			n = 16
		}
		return base << uint(n)
	}
}

// Enqueue submits a generation task whose task id is the job id.
func (c *Client) Enqueue(ctx context.Context, payload GenerateImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewGenerateImageTask(payload)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(c.opts.Name),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(c.opts.Attempts - 1),
	}
	if c.opts.Timeout > 0 {
		opts = append(opts, asynq.Timeout(c.opts.Timeout))
	}
	if c.opts.Retention > 0 {
		opts = append(opts, asynq.Retention(c.opts.Retention))
	}
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", payload.JobID, err)
	}
	return info, nil
}

// GetJob returns the task for id, or nil when the queue no longer has it.
func (c *Client) GetJob(id string) (*asynq.TaskInfo, error) {
	info, err := c.inspector.GetTaskInfo(c.opts.Name, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return info, nil
}

// Remove deletes a task that is not currently running.
func (c *Client) Remove(info *asynq.TaskInfo) error {
	if info == nil {
		return nil
	}
	if info.State == asynq.TaskStateActive {
		return ErrJobActive
	}
	if err := c.inspector.DeleteTask(info.Queue, info.ID); err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil
		}
		return fmt.Errorf("remove job %s: %w", info.ID, err)
	}
	return nil
}

// queueExists reports whether anything was ever enqueued on the queue.
// Queue level inspector calls fail for unknown queues.
func (c *Client) queueExists() (bool, error) {
	names, err := c.inspector.Queues()
	if err != nil {
		return false, fmt.Errorf("list queues: %w", err)
	}
	return slices.Contains(names, c.opts.Name), nil
}

func (c *Client) Counts() (Counts, error) {
	if ok, err := c.queueExists(); err != nil || !ok {
		return Counts{}, err
	}
	qi, err := c.inspector.GetQueueInfo(c.opts.Name)
	if err != nil {
		return Counts{}, fmt.Errorf("queue info: %w", err)
	}
	return Counts{
		Waiting:   qi.Pending,
		Active:    qi.Active,
		Completed: qi.Completed,
		Failed:    qi.Archived,
		Delayed:   qi.Scheduled + qi.Retry,
	}, nil
}

// Clear drops every task that has not started yet and returns how many.
func (c *Client) Clear() (int, error) {
	if ok, err := c.queueExists(); err != nil || !ok {
		return 0, err
	}
	var total int
	for _, del := range []func(string) (int, error){
		c.inspector.DeleteAllPendingTasks,
		c.inspector.DeleteAllScheduledTasks,
		c.inspector.DeleteAllRetryTasks,
	} {
		n, err := del(c.opts.Name)
		if err != nil {
			return total, fmt.Errorf("clear queue: %w", err)
		}
		total += n
	}
	c.logger.Info().Int("removed", total).Msg("queue cleared")
	return total, nil
}

// TrimHistory keeps only the newest keepCompleted finished tasks and the
// newest keepFailed exhausted ones.
func (c *Client) TrimHistory(keepCompleted, keepFailed int) (int, error) {
	if ok, err := c.queueExists(); err != nil || !ok {
		return 0, err
	}
	qi, err := c.inspector.GetQueueInfo(c.opts.Name)
	if err != nil {
		return 0, fmt.Errorf("queue info: %w", err)
	}

	removed := 0
	if qi.Completed > keepCompleted {
		tasks, err := c.inspector.ListCompletedTasks(c.opts.Name, asynq.PageSize(qi.Completed))
		if err != nil {
			return removed, fmt.Errorf("list completed: %w", err)
		}
		removed += c.deleteOldest(tasks, keepCompleted, func(t *asynq.TaskInfo) time.Time { return t.CompletedAt })
	}
	if qi.Archived > keepFailed {
		tasks, err := c.inspector.ListArchivedTasks(c.opts.Name, asynq.PageSize(qi.Archived))
		if err != nil {
			return removed, fmt.Errorf("list archived: %w", err)
		}
		removed += c.deleteOldest(tasks, keepFailed, func(t *asynq.TaskInfo) time.Time { return t.LastFailedAt })
	}
	return removed, nil
}

func (c *Client) deleteOldest(tasks []*asynq.TaskInfo, keep int, at func(*asynq.TaskInfo) time.Time) int {
	removed := 0
	for _, t := range overflow(tasks, keep, at) {
		if err := c.inspector.DeleteTask(t.Queue, t.ID); err != nil {
			c.logger.Warn().Err(err).Str("task_id", t.ID).Msg("trim history")
			continue
		}
		removed++
	}
	return removed
}

// overflow returns the tasks older than the newest keep, oldest first.
func overflow(tasks []*asynq.TaskInfo, keep int, at func(*asynq.TaskInfo) time.Time) []*asynq.TaskInfo {
	keep = max(keep, 0)
	if len(tasks) <= keep {
		return nil
	}
	sorted := make([]*asynq.TaskInfo, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool { return at(sorted[i]).Before(at(sorted[j])) })
	return sorted[:len(sorted)-keep]
}

// RunTrimmer calls TrimHistory every interval until ctx is done.
func (c *Client) RunTrimmer(ctx context.Context, interval time.Duration, keepCompleted, keepFailed int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := c.TrimHistory(keepCompleted, keepFailed)
			if err != nil {
				c.logger.Warn().Err(err).Msg("trim history")
				continue
			}
			if n > 0 {
				c.logger.Debug().Int("removed", n).Msg("trimmed queue history")
			}
		}
	}
}

func (c *Client) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close())
}
