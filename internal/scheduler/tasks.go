package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// TaskBroadcastSweep deletes expired fallback broadcast records.
const TaskBroadcastSweep = "funnel.broadcasts.sweep"

// TaskTenantResync re-publishes a tenant's current stages onto the
// broadcast channels so every process converges without waiting for the
// poller horizon.
const TaskTenantResync = "funnel.tenant.resync"

type TenantResyncPayload struct {
	TenantID string `json:"tenantId"`
}

func NewBroadcastSweepTask() *asynq.Task {
	return asynq.NewTask(TaskBroadcastSweep, nil)
}

func NewTenantResyncTask(payload TenantResyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTenantResync, data), nil
}

func ParseTenantResyncPayload(task *asynq.Task) (TenantResyncPayload, error) {
	var payload TenantResyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TenantResyncPayload{}, err
	}
	return payload, nil
}
