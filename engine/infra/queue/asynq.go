package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/pubflow/pubflow/pkg/config"
	"github.com/redis/go-redis/v9"
)

// QueueAutomations is the dedicated queue for automation jobs; it gets a
// higher weight than default so chained runs are not starved by housekeeping
// tasks.
const QueueAutomations = "automations"

type asynqClient struct {
	client *asynq.Client
}

// Ping verifies the Redis backing store is reachable. The worker calls it
// at startup so a bad address fails fast instead of surfacing as enqueue
// errors mid-chain.
func Ping(ctx context.Context, cfg config.RedisConfig) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis is unreachable: %w", err)
	}
	return nil
}

// NewAsynqClient builds the production queue client backed by Redis.
func NewAsynqClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &asynqClient{client: client}
}

func (c *asynqClient) Enqueue(
	ctx context.Context,
	taskType string,
	payload []byte,
	opts ...Option,
) (string, error) {
	resolved := buildOptions(opts)
	taskOpts := []asynq.Option{
		asynq.MaxRetry(resolved.MaxRetry),
		asynq.Queue(resolved.Queue),
		asynq.Timeout(resolved.Timeout),
	}
	if resolved.ProcessIn > 0 {
		taskOpts = append(taskOpts, asynq.ProcessIn(resolved.ProcessIn))
	}
	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(taskType, payload), taskOpts...)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}
	return info.ID, nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
