package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/sandialabs/scot4-api-sub002/internal/entities"
	jobmetrics "github.com/sandialabs/scot4-api-sub002/internal/jobs"
)

// GrantSweepJob deletes grants pointing at rows that no longer exist.
// Object deletion removes its grants inline; the sweep catches anything
// left behind by bulk imports or out-of-band deletes.
type GrantSweepJob struct {
	pool    *pgxpool.Pool
	reg     *entities.Registry
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewGrantSweepJob constructs the job.
func NewGrantSweepJob(pool *pgxpool.Pool, reg *entities.Registry, logger *slog.Logger, metrics *jobmetrics.Metrics) *GrantSweepJob {
	return &GrantSweepJob{pool: pool, reg: reg, logger: logger, metrics: metrics}
}

// Handle processes TaskTypeGrantSweep tasks. Types are swept
// concurrently; one failing type does not stop the others.
func (j *GrantSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track("grant_sweep")

	var swept atomic.Int64
	var g errgroup.Group
	g.SetLimit(4)
	for _, name := range j.reg.Names() {
		d, ok := j.reg.Lookup(name)
		if !ok {
			continue
		}
		g.Go(func() error {
			tag, err := j.pool.Exec(ctx,
				`DELETE FROM permissions p WHERE p.target_type = $1
				 AND NOT EXISTS (SELECT 1 FROM `+d.Table+` t WHERE t.`+d.IDColumn+` = p.target_id)`,
				d.Name)
			if err != nil {
				j.logger.Error("grant sweep", slog.String("target_type", d.Name), slog.Any("error", err))
				return err
			}
			swept.Add(tag.RowsAffected())
			return nil
		})
	}
	err := g.Wait()

	if n := swept.Load(); n > 0 {
		j.metrics.AddOrphansSwept(int(n))
		j.logger.Info("swept orphaned grants", slog.Int64("count", n))
	}
	return tracker.End(err)
}
