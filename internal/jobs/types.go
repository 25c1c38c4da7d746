package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskRefreshCache = "cache:refresh"
	QueueRefresh     = "refresh"
)

// RefreshCachePayload asks the worker to drop and re-warm the shared cache.
// An empty Kind means every kind.
type RefreshCachePayload struct {
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// NewRefreshCacheTask builds the task with the retry policy every producer
// uses.
func NewRefreshCacheTask(p RefreshCachePayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRefreshCache, b,
		asynq.Queue(QueueRefresh),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
	), nil
}
