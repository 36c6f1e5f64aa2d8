package jobs

import (
	"context"
	"log/slog"

	"github.com/kiranshivaraju/codeagent/pkg/models"
)

// Observer is told about every committed job transition. The Redis status
// cache is one; a push channel to clients would be another.
type Observer interface {
	JobUpdated(ctx context.Context, j *models.Job) error
}

// Observers fans a transition out to each observer. Failures are logged and
// never affect the job.
type Observers []Observer

func (o Observers) Notify(ctx context.Context, logger *slog.Logger, j *models.Job) {
	for _, ob := range o {
		if err := ob.JobUpdated(ctx, j); err != nil {
			logger.Warn("job observer failed",
				slog.String("job_id", j.ID.String()),
				slog.String("status", j.Status),
				slog.String("error", err.Error()),
			)
		}
	}
}
