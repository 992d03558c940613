package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Job is one enqueued task captured by the in-memory client.
type Job struct {
	ID        string
	Type      string
	Payload   []byte
	ProcessIn time.Duration
	Queue     string
}

// MemoryClient is an in-process Client used by tests and by the synchronous
// manual-run path's assertions. Jobs are recorded, and an optional handler
// can drain them inline.
type MemoryClient struct {
	mu   sync.Mutex
	jobs []Job
	next int
	seq  int
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{}
}

func (c *MemoryClient) Enqueue(
	_ context.Context,
	taskType string,
	payload []byte,
	opts ...Option,
) (string, error) {
	resolved := buildOptions(opts)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	job := Job{
		ID:        fmt.Sprintf("mem-%d", c.seq),
		Type:      taskType,
		Payload:   payload,
		ProcessIn: resolved.ProcessIn,
		Queue:     resolved.Queue,
	}
	c.jobs = append(c.jobs, job)
	return job.ID, nil
}

func (c *MemoryClient) Close() error {
	return nil
}

// Jobs returns a copy of everything enqueued so far.
func (c *MemoryClient) Jobs() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Job, len(c.jobs))
	copy(out, c.jobs)
	return out
}

// Pop returns the next undrained job, if any.
func (c *MemoryClient) Pop() (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.jobs) {
		return Job{}, false
	}
	job := c.jobs[c.next]
	c.next++
	return job, true
}
