package worker

import (
	"context"

	"mailsync_server/pkg/logger"

	"github.com/goccy/go-json"
)

type Handler struct {
	syncProcessor       *SyncProcessor
	categorizeProcessor *CategorizeProcessor
}

func NewHandler(
	syncProcessor *SyncProcessor,
	categorizeProcessor *CategorizeProcessor,
) *Handler {
	return &Handler{
		syncProcessor:       syncProcessor,
		categorizeProcessor: categorizeProcessor,
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("processing message: %s", msg.Type)

	switch msg.Type {
	case JobSyncPage:
		return h.syncProcessor.ProcessSyncPage(ctx, msg)
	case JobCategorizeEmail:
		return h.categorizeProcessor.ProcessCategorize(ctx, msg)
	default:
		logger.Warn("unknown job type: %s", msg.Type)
		return nil
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
