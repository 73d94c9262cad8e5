package worker

import (
	"context"
	"time"

	syncsvc "mailsync_server/core/service/sync"
	"mailsync_server/pkg/logger"
)

// =============================================================================
// StuckSyncSweeper - releases sync slots held by crashed workers
// =============================================================================

const stuckSweepInterval = 5 * time.Minute

type StuckSyncSweeper struct {
	orchestrator  *syncsvc.Orchestrator
	checkInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
}

func NewStuckSyncSweeper(orchestrator *syncsvc.Orchestrator) *StuckSyncSweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &StuckSyncSweeper{
		orchestrator:  orchestrator,
		checkInterval: stuckSweepInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (s *StuckSyncSweeper) Start() {
	logger.Info("[StuckSyncSweeper] starting...")
	go s.run()
}

func (s *StuckSyncSweeper) Stop() {
	logger.Info("[StuckSyncSweeper] stopping...")
	s.cancel()
}

func (s *StuckSyncSweeper) run() {
	// Let the server settle before the first sweep.
	time.Sleep(30 * time.Second)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[StuckSyncSweeper] stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *StuckSyncSweeper) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	reset, err := s.orchestrator.CleanupStuckSyncs(ctx)
	if err != nil {
		logger.WithError(err).Error("[StuckSyncSweeper] sweep failed")
		return
	}
	if reset > 0 {
		logger.Info("[StuckSyncSweeper] reset %d stuck syncs", reset)
	}
}

// SetCheckInterval sets the sweep interval (for testing).
func (s *StuckSyncSweeper) SetCheckInterval(interval time.Duration) {
	s.checkInterval = interval
}
