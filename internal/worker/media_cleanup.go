// Package worker 消费 API 入队的后台任务。
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"cvSync/internal/cvstore"
	"cvSync/internal/tasks"
)

// ObjectDeleter 删除对象存储中的对象；对象不存在应视为成功。
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, objectKey string) error
}

// MediaCleanupHandler 删除被新上传替换的旧视频对象。
type MediaCleanupHandler struct {
	store   *cvstore.Store
	objects ObjectDeleter
	logger  *slog.Logger
}

// NewMediaCleanupHandler 创建任务处理器。
func NewMediaCleanupHandler(store *cvstore.Store, objects ObjectDeleter, logger *slog.Logger) *MediaCleanupHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaCleanupHandler{store: store, objects: objects, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *MediaCleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseMediaCleanup(t)
	if err != nil {
		h.logger.Error("invalid media cleanup payload", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("cv_id", uint64(payload.CVID)),
		slog.String("object_key", payload.ObjectKey),
	)

	// 简历仍引用该对象时不能删除。
	record, err := h.store.Load(ctx, payload.CVID)
	switch {
	case err == nil:
		if record.VideoObjectKey == payload.ObjectKey {
			log.Info("object still referenced, skipping cleanup")
			return nil
		}
	case errors.Is(err, cvstore.ErrNotFound):
		log.Info("cv gone, deleting orphaned object")
	default:
		log.Error("load cv failed", slog.Any("error", err))
		return err
	}

	if err := h.objects.DeleteObject(ctx, payload.ObjectKey); err != nil {
		log.Error("delete object failed", slog.Any("error", err))
		return err
	}
	log.Info("superseded object deleted")
	return nil
}
