package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/sandialabs/scot4-api-sub002/internal/jobs"
)

// AuditPruneJob trims audit records older than the retention window.
type AuditPruneJob struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewAuditPruneJob constructs the job.
func NewAuditPruneJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPruneJob {
	return &AuditPruneJob{pool: pool, logger: logger, metrics: metrics}
}

// Handle processes TaskTypeAuditPrune tasks.
func (j *AuditPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload AuditPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetainDays <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("audit_prune")
	tag, err := j.pool.Exec(ctx,
		`DELETE FROM audit_logs WHERE occurred_at < NOW() - make_interval(days => $1)`,
		payload.RetainDays)
	if err != nil {
		j.logger.Error("audit prune", slog.Any("error", err))
		return tracker.End(err)
	}
	if tag.RowsAffected() > 0 {
		j.logger.Info("pruned audit records", slog.Int64("count", tag.RowsAffected()))
	}
	return tracker.End(nil)
}
