package http

import (
	"context"

	"mailsync_server/adapter/in/worker"
	"mailsync_server/adapter/out/realtime"
	"mailsync_server/core/port/out"
	"mailsync_server/core/service/categorize"
	"mailsync_server/infra/database"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const trimKeepLen = 10000

// StuckSyncCleaner sweeps sync slots whose owners went silent.
type StuckSyncCleaner interface {
	CleanupStuckSyncs(ctx context.Context) (int, error)
}

// AdminHandler exposes operational endpoints: queue backlogs, worker pool
// metrics, stuck-sync cleanup, and connection stats. Worker-side fields are
// nil when the process runs in API-only mode; those sections are simply
// omitted.
type AdminHandler struct {
	queues     out.QueueAdmin
	syncs      StuckSyncCleaner
	pool       *worker.Pool
	categorize *categorize.Processor
	sse        *realtime.SSEAdapter
	db         *pgxpool.Pool
	redis      *redis.Client
}

func NewAdminHandler(
	queues out.QueueAdmin,
	syncs StuckSyncCleaner,
	pool *worker.Pool,
	categorizeProc *categorize.Processor,
	sse *realtime.SSEAdapter,
	db *pgxpool.Pool,
	redisClient *redis.Client,
) *AdminHandler {
	return &AdminHandler{
		queues:     queues,
		syncs:      syncs,
		pool:       pool,
		categorize: categorizeProc,
		sse:        sse,
		db:         db,
		redis:      redisClient,
	}
}

func (h *AdminHandler) Register(app fiber.Router) {
	app.Get("/admin/queues", h.QueueStats)
	app.Post("/admin/queues/trim", h.TrimQueues)
	app.Post("/admin/sync/cleanup", h.CleanupStuckSyncs)
	app.Get("/admin/metrics", h.Metrics)
}

// CleanupStuckSyncs releases sync slots silent past the stuck timeout. Same
// sweep the background scheduler runs, available on demand.
func (h *AdminHandler) CleanupStuckSyncs(c *fiber.Ctx) error {
	if h.syncs == nil {
		return ErrorResponse(c, 404, "sync admin not available")
	}

	reset, err := h.syncs.CleanupStuckSyncs(c.Context())
	if err != nil {
		return InternalErrorResponse(c, err, "stuck sync cleanup")
	}
	return SuccessResponse(c, fiber.Map{"reset": reset})
}

// QueueStats returns backlog and pending counts for every stream.
func (h *AdminHandler) QueueStats(c *fiber.Ctx) error {
	if h.queues == nil {
		return ErrorResponse(c, 404, "queue admin not available")
	}

	stats, err := h.queues.Stats(c.Context())
	if err != nil {
		return InternalErrorResponse(c, err, "queue stats")
	}
	return SuccessResponse(c, stats)
}

// TrimQueues drops old delivered stream entries.
func (h *AdminHandler) TrimQueues(c *fiber.Ctx) error {
	if h.queues == nil {
		return ErrorResponse(c, 404, "queue admin not available")
	}

	removed, err := h.queues.TrimCompleted(c.Context(), trimKeepLen)
	if err != nil {
		return InternalErrorResponse(c, err, "queue trim")
	}
	return SuccessResponse(c, fiber.Map{"removed": removed})
}

// Metrics returns a snapshot across the worker pool, categorization lanes,
// SSE fan-out, and connection pools.
func (h *AdminHandler) Metrics(c *fiber.Ctx) error {
	result := fiber.Map{}

	if h.pool != nil {
		m := h.pool.GetMetrics()
		result["worker_pool"] = fiber.Map{
			"jobs_processed": m.JobsProcessed,
			"jobs_failed":    m.JobsFailed,
			"jobs_dropped":   m.JobsDropped,
		}
	}

	if h.categorize != nil {
		result["categorize_lanes"] = h.categorize.Depths()
	}

	if h.sse != nil {
		result["sse"] = h.sse.GetMetrics()
	}

	if h.db != nil {
		result["postgres"] = database.GetPoolStats(h.db)
	}
	if h.redis != nil {
		result["redis"] = database.GetRedisStats(h.redis)
	}

	return SuccessResponse(c, result)
}
