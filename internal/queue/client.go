package queue

import (
	"context"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueProcessDocument hands a job to the worker pool. MaxRetry is zero:
// a job that fails is terminal and is never re-queued automatically.
func (c *Client) EnqueueProcessDocument(ctx context.Context, payload ProcessDocumentPayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessDocumentTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(0),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
