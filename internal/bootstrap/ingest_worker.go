package bootstrap

import (
	"ingest_server/adapter/in/worker"
	"ingest_server/config"
	"ingest_server/pkg/logger"
)

// Worker runs the ingestion schedule.
type Worker struct {
	scheduler *worker.Scheduler
	deps      *Dependencies
}

// NewWorker wires the scheduler over a fresh dependency graph.
func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "newsletter-worker",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	return NewWorkerWithDeps(cfg, deps), cleanup, nil
}

// NewWorkerWithDeps wires the scheduler over an existing dependency
// graph, sharing its coordinator with whoever else holds the graph.
func NewWorkerWithDeps(cfg *config.Config, deps *Dependencies) *Worker {
	return &Worker{
		scheduler: worker.NewScheduler(deps.Coordinator, cfg.SyncInterval),
		deps:      deps,
	}
}

// Start launches the schedule loop.
func (w *Worker) Start() {
	w.scheduler.Start()
}

// Stop shuts the schedule loop down and waits for an in-flight run to
// observe cancellation.
func (w *Worker) Stop() {
	w.scheduler.Stop()
}

// Dependencies exposes the wired dependency graph.
func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
