// Package worker runs the periodic ingestion schedule.
package worker

import (
	"context"
	"errors"
	"time"

	"ingest_server/core/domain"
	"ingest_server/core/service/ingest"
	"ingest_server/pkg/logger"
)

// Startup settle delay before the first scheduled run.
const schedulerWarmup = 10 * time.Second

// RunTrigger starts one ingestion run. Satisfied by the coordinator.
type RunTrigger interface {
	Run(ctx context.Context, force bool) (*domain.RunSummary, error)
}

// Scheduler triggers an ingestion run on a fixed interval. It never
// forces re-ingest; a tick that lands while a run is in flight is a
// quiet no-op because the coordinator enforces single-run semantics.
type Scheduler struct {
	coordinator RunTrigger
	interval    time.Duration
	warmup      time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	log         *logger.Logger
}

// NewScheduler creates a scheduler on the given interval.
func NewScheduler(coordinator RunTrigger, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		coordinator: coordinator,
		interval:    interval,
		warmup:      schedulerWarmup,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		log:         logger.WithField("component", "scheduler"),
	}
}

// Start launches the schedule loop.
func (s *Scheduler) Start() {
	s.log.WithField("interval", s.interval.String()).Info("scheduler starting")
	go s.run()
}

// Stop cancels the loop and waits for it to exit. A run already in
// progress observes the cancelled context and aborts.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.done
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.done)

	select {
	case <-s.ctx.Done():
		return
	case <-time.After(s.warmup):
	}

	s.tick()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	summary, err := s.coordinator.Run(s.ctx, false)
	if err != nil {
		if errors.Is(err, ingest.ErrRunInFlight) {
			s.log.Debug("skipping tick, run already in flight")
			return
		}
		if s.ctx.Err() != nil {
			return
		}
		log := s.log.WithError(err)
		if summary != nil {
			log = log.WithRun(summary.RunID)
		}
		log.Error("scheduled run failed")
		return
	}

	s.log.WithRun(summary.RunID).WithFields(map[string]any{
		"persisted": summary.Persisted,
		"skipped":   summary.Skipped,
	}).Info("scheduled run finished")
}
