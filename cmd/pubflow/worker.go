package pubflow

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/pubflow/pubflow/engine/automation"
	"github.com/pubflow/pubflow/engine/executor"
	"github.com/pubflow/pubflow/engine/infra/postgres"
	"github.com/pubflow/pubflow/engine/infra/queue"
	"github.com/pubflow/pubflow/engine/outbox"
	"github.com/pubflow/pubflow/engine/rule"
	"github.com/pubflow/pubflow/engine/worker"
	"github.com/pubflow/pubflow/pkg/config"
	"github.com/pubflow/pubflow/pkg/logger"
	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the automation worker (job server + outbox poller)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := setupLogger(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = logger.ContextWithLogger(ctx, log)
			cfg, err := config.NewLoader().Load(ctx)
			if err != nil {
				return err
			}
			return runWorker(ctx, cfg, log)
		},
	}
}

func runWorker(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	if err := postgres.ApplyMigrationsWithLock(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := queue.Ping(ctx, cfg.Redis); err != nil {
		return err
	}
	client := queue.NewAsynqClient(cfg.Redis)
	defer client.Close()

	pubs := postgres.NewPubStore(pool)
	runs := postgres.NewRunRepo(pool)
	rules := postgres.NewRuleRepo(pool)
	automations := postgres.NewAutomationRepo(pool)
	outboxStore := postgres.NewOutboxStore(pool)

	catalog := automation.NewCatalog()
	actions := []*automation.Action{
		automation.LogAction(),
		automation.SetFieldAction(pubs),
		automation.MoveToStageAction(pubs),
	}
	for _, action := range actions {
		if err := catalog.Register(action); err != nil {
			return fmt.Errorf("failed to register action %s: %w", action.Name, err)
		}
	}
	catalog.Seal()

	exec := executor.NewChainExecutor(
		automations,
		runs,
		pubs,
		catalog,
		outbox.NewDispatcher(outboxStore),
		worker.NewQueueScheduler(client),
		executor.WithTimeout(cfg.Worker.ActionTimeout),
		executor.WithMaxDepth(cfg.Worker.MaxChainDepth),
	)
	service := executor.NewService(exec, automations, runs)
	matcher := rule.NewMatcher(rules, automations)
	handlers := worker.NewHandlers(matcher, automations, exec, service, pubs, client)
	server := worker.NewServer(cfg, handlers, log)

	poller := outbox.NewPoller(outboxStore, client, cfg.Worker.OutboxInterval, cfg.Worker.OutboxBatchSize)
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("outbox poller stopped", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}
	log.Info("worker running",
		"concurrency", cfg.Worker.Concurrency,
		"outbox_interval", cfg.Worker.OutboxInterval)

	<-ctx.Done()
	log.Info("shutting down")
	server.Shutdown()
	select {
	case <-pollerDone:
	case <-time.After(cfg.Worker.ShutdownTimeout):
		log.Warn("outbox poller did not stop within the shutdown timeout")
	}
	return nil
}
