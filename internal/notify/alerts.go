package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Alerter sends operator alerts about non-validation job failures to the
// configured error address. All methods are best effort: an unconfigured or
// failing mailer is logged, never propagated.
type Alerter struct {
	mailer  Mailer
	address string
	logger  *slog.Logger
}

// NewAlerter creates an operator alerter. An empty address disables alerts.
func NewAlerter(mailer Mailer, address string, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Alerter{mailer: mailer, address: address, logger: logger.With("component", "alerter")}
}

// JobFailed alerts the operator about a job that was promoted to failed for
// a non-validation reason (crash, timeout, downstream outage).
func (a *Alerter) JobFailed(ctx context.Context, jobID, kind, reason string) {
	if a.address == "" {
		return
	}

	subject := fmt.Sprintf("[gsakit] %s job %s failed", kind, jobID)
	body := fmt.Sprintf("Job %s (%s) was promoted to failed.\n\nReason: %s\n", jobID, kind, reason)

	if err := a.mailer.Send(ctx, []string{a.address}, subject, body); err != nil {
		a.logger.WarnContext(ctx, "failed to send operator alert", "job_id", jobID, "error", err)
	}
}
