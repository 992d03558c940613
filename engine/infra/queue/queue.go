package queue

import (
	"context"
	"time"
)

// Option tunes a single enqueue.
type Option func(*Options)

// Options is the resolved enqueue configuration.
type Options struct {
	ProcessIn time.Duration
	MaxRetry  int
	Queue     string
	Timeout   time.Duration
}

func WithProcessIn(d time.Duration) Option {
	return func(o *Options) { o.ProcessIn = d }
}

func WithMaxRetry(n int) Option {
	return func(o *Options) { o.MaxRetry = n }
}

func WithQueue(name string) Option {
	return func(o *Options) { o.Queue = name }
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

func buildOptions(opts []Option) *Options {
	resolved := &Options{
		MaxRetry: 3,
		Queue:    "default",
		Timeout:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(resolved)
	}
	return resolved
}

// Client enqueues jobs onto a durable, at-least-once queue. Handlers must
// be idempotent or guarded; the engine's terminal-state and cycle checks
// provide that guard for duplicate deliveries.
type Client interface {
	Enqueue(ctx context.Context, taskType string, payload []byte, opts ...Option) (string, error)
	Close() error
}
