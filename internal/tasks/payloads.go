// Package tasks 定义 API 与 worker 之间的异步任务。
package tasks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeMediaCleanup = "media:cleanup"
)

// MediaCleanupQueue 是清理任务使用的队列名。
const MediaCleanupQueue = "media"

// MediaCleanupPayload 描述一个被替换、需要从对象存储删除的对象。
type MediaCleanupPayload struct {
	CVID          uint   `json:"cv_id"`
	ObjectKey     string `json:"object_key"`
	CorrelationID string `json:"correlation_id"`
}

// NewMediaCleanupTask 构造删除旧对象的任务；延迟执行以便仍在播放的链接自然过期。
func NewMediaCleanupTask(cvID uint, objectKey, correlationID string, delay time.Duration) (*asynq.Task, []asynq.Option, error) {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return nil, nil, fmt.Errorf("object key is required")
	}
	payload, err := json.Marshal(MediaCleanupPayload{
		CVID:          cvID,
		ObjectKey:     objectKey,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(MediaCleanupQueue),
		asynq.MaxRetry(5),
		asynq.ProcessIn(delay),
	}
	return asynq.NewTask(TypeMediaCleanup, payload), opts, nil
}

// ParseMediaCleanup 解析任务载荷。
func ParseMediaCleanup(task *asynq.Task) (MediaCleanupPayload, error) {
	var payload MediaCleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode media cleanup payload: %w", err)
	}
	if strings.TrimSpace(payload.ObjectKey) == "" {
		return payload, fmt.Errorf("media cleanup payload missing object key")
	}
	return payload, nil
}
