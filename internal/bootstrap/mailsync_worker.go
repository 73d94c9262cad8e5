package bootstrap

import (
	"context"
	"os"
	"sync"
	"time"

	"mailsync_server/adapter/in/worker"
	"mailsync_server/adapter/out/messaging"
	"mailsync_server/config"
	"mailsync_server/pkg/logger"

	"github.com/rs/zerolog"
)

const consumerGroup = "mailsync-workers"

// Worker hosts the job pool, the stream consumer, and the background
// schedulers that keep sync state and queues healthy.
type Worker struct {
	pool      *worker.Pool
	consumer  *messaging.Consumer
	deps      *Dependencies
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	zlog      zerolog.Logger
	sweeper   *worker.StuckSyncSweeper
	qcleanup  *worker.QueueCleanupScheduler
	ownedDeps bool
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	w, err := newWorkerWithDeps(cfg, deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	w.ownedDeps = true
	return w, cleanup, nil
}

// NewWorkerWithDeps shares an already-built dependency graph, used when the
// API and worker run in the same process.
func NewWorkerWithDeps(cfg *config.Config, deps *Dependencies) (*Worker, error) {
	return newWorkerWithDeps(cfg, deps)
}

func newWorkerWithDeps(cfg *config.Config, deps *Dependencies) (*Worker, error) {
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	pool := deps.NewPool(zlog)

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	if deps.Redis != nil {
		bridge := worker.NewStreamBridge(pool)
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:                consumerGroup,
			Consumer:             cfg.WorkerID,
			Streams:              messaging.Streams,
			Handler:              bridge,
			Logger:               zlog,
			PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
			PendingIdleTime:      time.Duration(cfg.ConsumerIdleClaimSec) * time.Second,
			MaxRetries:           cfg.ConsumerMaxRetries,
		})
		logger.Info("Redis Stream Consumer configured for %d streams", len(messaging.Streams))
	} else {
		logger.Warn("Redis not available, worker will only process direct submissions")
	}

	if cfg.SchedulerEnabled {
		w.sweeper = worker.NewStuckSyncSweeper(deps.Orchestrator)
		if deps.QueueAdmin != nil {
			w.qcleanup = worker.NewQueueCleanupScheduler(deps.QueueAdmin)
		}
	}

	return w, nil
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pool.Start()
	}()

	w.deps.CategorizeSvc.Start()

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.zlog.Info().Msg("starting Redis Stream Consumer")
			if err := w.consumer.Run(w.ctx); err != nil && err != context.Canceled {
				w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
			}
		}()
	}

	if w.sweeper != nil {
		w.sweeper.Start()
		w.zlog.Info().Msg("started stuck sync sweeper")
	}
	if w.qcleanup != nil {
		w.qcleanup.Start()
		w.zlog.Info().Msg("started queue cleanup scheduler")
	}

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()

	if w.sweeper != nil {
		w.sweeper.Stop()
	}
	if w.qcleanup != nil {
		w.qcleanup.Stop()
	}

	w.deps.CategorizeSvc.Stop()

	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) Submit(msg *worker.Message) bool {
	if msg.IsPriority() {
		return w.pool.SubmitPriority(msg)
	}
	return w.pool.Submit(msg)
}

func (w *Worker) Pool() *worker.Pool {
	return w.pool
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
