package http

import (
	"mailsync_server/core/domain"
	"mailsync_server/core/service/notify"
	"mailsync_server/core/service/sync"
	"mailsync_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// SyncHandler exposes mailbox sync operations.
type SyncHandler struct {
	orchestrator *sync.Orchestrator
	notifier     *notify.Notifier
}

func NewSyncHandler(orchestrator *sync.Orchestrator, notifier *notify.Notifier) *SyncHandler {
	return &SyncHandler{
		orchestrator: orchestrator,
		notifier:     notifier,
	}
}

func (h *SyncHandler) Register(app fiber.Router) {
	app.Post("/sync/:strategy", h.StartSync)
	app.Get("/sync/status", h.Status)
	app.Post("/sync/reset", h.Reset)
}

// StartSync kicks off a sync with the requested strategy. A sync already
// running for the user comes back as 409.
func (h *SyncHandler) StartSync(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	strategy := domain.SyncStrategy(c.Params("strategy"))
	if !strategy.IsValid() {
		return ErrorResponse(c, 400, "unknown sync strategy: "+string(strategy))
	}

	state, err := h.orchestrator.InitiateSync(c.Context(), userID, strategy)
	if err != nil {
		// Busy slot and missing credential both map to their own status.
		if apperr.IsAppError(err) {
			return AppErrorResponse(c, err)
		}
		return InternalErrorResponse(c, err, "start sync")
	}

	return SuccessResponse(c, fiber.Map{
		"strategy":           string(strategy),
		"sync_in_progress":   state.SyncInProgress,
		"is_initial_syncing": state.IsInitialSyncing,
	})
}

// Status returns the user's sync state, served from cache when a recent
// status event is still fresh.
func (h *SyncHandler) Status(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	if cached, ok := h.notifier.CachedSyncStatus(c.Context(), userID); ok {
		return SuccessResponse(c, fiber.Map{
			"status":   cached,
			"cached":   true,
			"in_sync":  cached.Status == "started" || cached.Status == "progress",
			"strategy": cached.Strategy,
		})
	}

	state, err := h.orchestrator.GetSyncStatus(c.Context(), userID)
	if err != nil {
		return InternalErrorResponse(c, err, "get sync status")
	}

	return SuccessResponse(c, state)
}

// Reset force-clears the user's sync state. Meant for support and recovery,
// not routine use.
func (h *SyncHandler) Reset(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	if err := h.orchestrator.ResetSyncState(c.Context(), userID); err != nil {
		return InternalErrorResponse(c, err, "reset sync state")
	}

	return SuccessResponse(c, fiber.Map{"reset": true})
}
