package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/pubflow/pubflow/engine/infra/queue"
	"github.com/pubflow/pubflow/engine/worker/tasks"
	"github.com/pubflow/pubflow/pkg/config"
	"github.com/pubflow/pubflow/pkg/logger"
)

// Server runs the asynq worker pool that processes automation jobs.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    logger.Logger
}

func NewServer(cfg *config.Config, handlers *Handlers, log logger.Logger) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				queue.QueueAutomations: 6,
				"default":              1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				log.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.Use(loggerMiddleware(log))
	mux.HandleFunc(tasks.TypeDeliverEvent, handlers.HandleDeliverEvent)
	mux.HandleFunc(tasks.TypeRunAutomation, handlers.HandleRunAutomation)
	mux.HandleFunc(tasks.TypeScheduleDelayed, handlers.HandleStageDuration)
	mux.HandleFunc(tasks.TypeRunDelayed, handlers.HandleRunDelayed)
	mux.HandleFunc(tasks.TypeCancelScheduled, handlers.HandleCancelScheduled)

	return &Server{server: srv, mux: mux, log: log}
}

func loggerMiddleware(log logger.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			return next.ProcessTask(logger.ContextWithLogger(ctx, log), task)
		})
	}
}

// Run blocks until shutdown.
func (s *Server) Run() error {
	s.log.Info("worker server starting")
	return s.server.Run(s.mux)
}

// Start runs the server without blocking.
func (s *Server) Start() error {
	s.log.Info("worker server starting in background")
	return s.server.Start(s.mux)
}

// Shutdown drains in-flight tasks and stops the pool.
func (s *Server) Shutdown() {
	s.log.Info("worker server stopping")
	s.server.Shutdown()
}
