package worker

import (
	"context"
	"time"

	"mailsync_server/core/port/out"
	"mailsync_server/pkg/logger"
)

// =============================================================================
// QueueCleanupScheduler - keeps delivered stream entries from piling up
// =============================================================================

const (
	queueCleanupInterval = 1 * time.Hour
	queueMaxLen          = 10000
)

type QueueCleanupScheduler struct {
	admin         out.QueueAdmin
	checkInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
}

func NewQueueCleanupScheduler(admin out.QueueAdmin) *QueueCleanupScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &QueueCleanupScheduler{
		admin:         admin,
		checkInterval: queueCleanupInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (s *QueueCleanupScheduler) Start() {
	logger.Info("[QueueCleanup] starting...")
	go s.run()
}

func (s *QueueCleanupScheduler) Stop() {
	logger.Info("[QueueCleanup] stopping...")
	s.cancel()
}

func (s *QueueCleanupScheduler) run() {
	time.Sleep(30 * time.Second)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[QueueCleanup] stopped")
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *QueueCleanupScheduler) cleanup() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	trimmed, err := s.admin.TrimCompleted(ctx, queueMaxLen)
	if err != nil {
		logger.WithError(err).Error("[QueueCleanup] trim failed")
		return
	}
	if trimmed > 0 {
		logger.Info("[QueueCleanup] trimmed %d stream entries", trimmed)
	}

	stats, err := s.admin.Stats(ctx)
	if err != nil {
		logger.WithError(err).Error("[QueueCleanup] failed to read queue stats")
		return
	}
	for _, st := range stats {
		if st.Pending > 0 || st.Length > queueMaxLen/2 {
			logger.Info("[QueueCleanup] stream=%s length=%d pending=%d", st.Stream, st.Length, st.Pending)
		}
	}
}

// SetCheckInterval sets the cleanup interval (for testing).
func (s *QueueCleanupScheduler) SetCheckInterval(interval time.Duration) {
	s.checkInterval = interval
}
