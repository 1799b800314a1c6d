package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	DefaultMaxRetry = 5
	DefaultTimeout  = 3 * time.Minute
)

type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client:   asynq.NewClient(redisOpt),
		queue:    queueName,
		maxRetry: DefaultMaxRetry,
		timeout:  DefaultTimeout,
	}
}

// WithLimits overrides retry count and per-task timeout. Zero keeps the
// default.
func (c *Client) WithLimits(maxRetry int, timeout time.Duration) *Client {
	if maxRetry > 0 {
		c.maxRetry = maxRetry
	}
	if timeout > 0 {
		c.timeout = timeout
	}
	return c
}

// EnqueueRender uses the job id as the task id so a job is never queued twice.
func (c *Client) EnqueueRender(ctx context.Context, payload RenderImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewRenderImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
