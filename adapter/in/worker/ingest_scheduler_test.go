package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"ingest_server/core/domain"
	"ingest_server/core/service/ingest"
)

type fakeTrigger struct {
	runs     atomic.Int32
	inFlight bool
	forced   atomic.Bool
}

func (f *fakeTrigger) Run(ctx context.Context, force bool) (*domain.RunSummary, error) {
	if force {
		f.forced.Store(true)
	}
	if f.inFlight {
		return nil, ingest.ErrRunInFlight
	}
	f.runs.Add(1)
	return &domain.RunSummary{RunID: "run-test"}, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestScheduler_TicksWithoutForce(t *testing.T) {
	trigger := &fakeTrigger{}
	s := NewScheduler(trigger, 20*time.Millisecond)
	s.warmup = time.Millisecond

	s.Start()
	waitFor(t, 2*time.Second, func() bool { return trigger.runs.Load() >= 3 })
	s.Stop()

	if trigger.forced.Load() {
		t.Error("scheduled runs must never force re-ingest")
	}
}

func TestScheduler_InFlightRunIsQuietNoOp(t *testing.T) {
	trigger := &fakeTrigger{inFlight: true}
	s := NewScheduler(trigger, 10*time.Millisecond)
	s.warmup = time.Millisecond

	s.Start()
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	if n := trigger.runs.Load(); n != 0 {
		t.Errorf("expected no completed runs, got %d", n)
	}
}

func TestScheduler_StopBeforeWarmupNeverRuns(t *testing.T) {
	trigger := &fakeTrigger{}
	s := NewScheduler(trigger, 10*time.Millisecond)

	s.Start()
	s.Stop()

	if n := trigger.runs.Load(); n != 0 {
		t.Errorf("expected no runs after immediate stop, got %d", n)
	}
}
