package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/sandialabs/scot4-api-sub002/internal/jobs"
	"github.com/sandialabs/scot4-api-sub002/internal/platform/db"
)

// PermReindexJob rebuilds the flattened object_visibility rows for one
// object. The search backend reads that table instead of joining the
// grants at query time.
type PermReindexJob struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewPermReindexJob constructs the job.
func NewPermReindexJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermReindexJob {
	return &PermReindexJob{pool: pool, logger: logger, metrics: metrics}
}

// Handle processes TaskTypePermReindex tasks.
func (j *PermReindexJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload PermReindexPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("perm_reindex")
	err := db.WithTx(ctx, j.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM object_visibility WHERE target_type = $1 AND target_id = $2`,
			payload.TargetType, payload.TargetID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO object_visibility (target_type, target_id, role_id)
			 SELECT target_type, target_id, role_id FROM permissions
			 WHERE target_type = $1 AND target_id = $2 AND permission = 'read'`,
			payload.TargetType, payload.TargetID)
		return err
	})
	if err != nil {
		j.logger.Error("perm reindex",
			slog.String("target_type", payload.TargetType),
			slog.Int64("target_id", payload.TargetID),
			slog.Any("error", err))
	}
	return tracker.End(err)
}
