package hindsight

import (
	"context"

	"github.com/robfig/cron/v3"
)

// defaultConsolidationSpec runs the consolidation sweep every 15 minutes.
const defaultConsolidationSpec = "*/15 * * * *"

// defaultAsyncDrainSpec runs the async operation queue drain every minute,
// much tighter than consolidation since queued ops (mental model refreshes)
// are meant to trail a write by seconds, not a sweep interval.
const defaultAsyncDrainSpec = "* * * * *"

// asyncDrainBatchSize bounds how many pending operations one drain tick
// processes across all banks.
const asyncDrainBatchSize = 100

// Scheduler drives periodic maintenance over an Engine: consolidation sweeps
// across every bank that has it enabled. It is optional — an Engine works
// fine with Retain-triggered background consolidation alone — but a
// long-running process can start one to guarantee banks that have gone quiet
// still get swept.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron
}

// NewScheduler builds a scheduler bound to engine. consolidationSpec is a
// standard 5-field cron expression; pass "" for the default of every 15
// minutes.
func NewScheduler(engine *Engine, consolidationSpec string) (*Scheduler, error) {
	if consolidationSpec == "" {
		consolidationSpec = defaultConsolidationSpec
	}
	s := &Scheduler{engine: engine, cron: cron.New()}
	if _, err := s.cron.AddFunc(consolidationSpec, s.sweepConsolidation); err != nil {
		return nil, wrapErr("new_scheduler", err)
	}
	if _, err := s.cron.AddFunc(defaultAsyncDrainSpec, s.sweepAsyncQueue); err != nil {
		return nil, wrapErr("new_scheduler", err)
	}
	return s, nil
}

// Start begins running the scheduled jobs in their own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the scheduler and returns a context that is done once any
// currently-running job has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) sweepConsolidation() {
	ctx := context.Background()
	banks, err := s.engine.ListBanks(ctx)
	if err != nil {
		s.engine.cfg.Logger.Warn("scheduled sweep: list banks failed", "error", err)
		return
	}
	for _, b := range banks {
		if !s.engine.consolidationEnabled(b) {
			continue
		}
		if _, err := s.engine.RunConsolidation(ctx, b.ID, ConsolidationOptions{}); err != nil {
			s.engine.cfg.Logger.Warn("scheduled consolidation failed", "bank_id", b.ID, "error", err)
		}
	}
}

// sweepAsyncQueue drains pending async operations (mental model refreshes,
// any future task type) across every bank, keeping the queue from becoming
// merely decorative between consolidation sweeps.
func (s *Scheduler) sweepAsyncQueue() {
	ctx := context.Background()
	if _, err := s.engine.DrainPendingOperations(ctx, "", asyncDrainBatchSize); err != nil {
		s.engine.cfg.Logger.Warn("scheduled async drain failed", "error", err)
	}
}
