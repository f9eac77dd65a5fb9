package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/gsakit-io/gsakit/internal/job"
)

// Reporter throttles progress writes of one running job so a chatty kernel
// cannot thrash the blackboard. Terminal transitions never pass through the
// reporter; they go straight to the registry.
type Reporter struct {
	registry *job.Registry
	kind     job.Kind
	jobID    string
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewReporter creates a progress reporter writing at most one update per
// minInterval. The first update always passes.
func NewReporter(registry *job.Registry, kind job.Kind, jobID string, minInterval time.Duration, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reporter{
		registry: registry,
		kind:     kind,
		jobID:    jobID,
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		logger:   logger,
	}
}

// Report writes one progress step, dropping it when inside the rate window.
// Errors are logged, not propagated: a lost progress update never fails an
// analysis.
func (r *Reporter) Report(ctx context.Context, message string, fraction float64) {
	if !r.limiter.Allow() {
		return
	}

	if _, err := r.registry.Progress(ctx, r.kind, r.jobID, message, fraction); err != nil {
		// a terminal record means the sweeper or a concurrent retry beat
		// us; nothing to report against
		if !errors.Is(err, job.ErrTerminalStateImmutable) {
			r.logger.WarnContext(ctx, "progress update failed",
				"job_id", r.jobID,
				"error", err)
		}
	}
}
