package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypePermReindex refreshes the flattened visibility rows of one
	// object after its grants changed.
	TaskTypePermReindex = "perm:reindex"
	// TaskTypeGrantSweep removes grants whose target row no longer
	// exists.
	TaskTypeGrantSweep = "perm:sweep"
	// TaskTypeAuditPrune trims old audit records.
	TaskTypeAuditPrune = "audit:prune"
)

// PermReindexPayload identifies the object whose visibility changed.
type PermReindexPayload struct {
	TargetType string `json:"target_type"`
	TargetID   int64  `json:"target_id"`
}

// NewPermReindexTask constructs an Asynq task.
func NewPermReindexTask(payload PermReindexPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePermReindex, data), nil
}

// NewGrantSweepTask constructs the sweep task. It carries no payload.
func NewGrantSweepTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskTypeGrantSweep, nil), nil
}

// AuditPrunePayload bounds how much history the prune keeps.
type AuditPrunePayload struct {
	RetainDays int `json:"retain_days"`
}

// NewAuditPruneTask constructs the prune task.
func NewAuditPruneTask(retainDays int) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPrunePayload{RetainDays: retainDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditPrune, data), nil
}
