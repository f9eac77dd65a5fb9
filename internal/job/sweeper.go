package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gsakit-io/gsakit/internal/blackboard"
	"github.com/gsakit-io/gsakit/internal/config"
)

// Sweeper defaults, overridable through the environment.
const (
	defaultSweepInterval   = 60 * time.Second
	defaultWorkerTimeout   = 60 * time.Minute
	defaultLoadingTimeout  = 60 * time.Minute
	workerTimeoutReason    = "worker timeout"
	loadingTimeoutReason   = "dataset loading timeout"
	reportTimeoutReason    = "report generation timeout"
)

// SweeperConfig holds the stall detection settings.
type SweeperConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// WorkerTimeout is the maximum silence tolerated for analysis and
	// report jobs.
	WorkerTimeout time.Duration
	// LoadingTimeout is the maximum silence tolerated for dataset loads.
	LoadingTimeout time.Duration
}

// LoadSweeperConfig reads the sweeper settings from the environment:
// SWEEP_INTERVAL, MAX_WORKER_TIMEOUT, LOADING_MAX_TIMEOUT.
func LoadSweeperConfig() *SweeperConfig {
	return &SweeperConfig{
		Interval:       config.GetEnvDuration("SWEEP_INTERVAL", defaultSweepInterval),
		WorkerTimeout:  config.GetEnvDuration("MAX_WORKER_TIMEOUT", defaultWorkerTimeout),
		LoadingTimeout: config.GetEnvDuration("LOADING_MAX_TIMEOUT", defaultLoadingTimeout),
	}
}

// Sweeper scans the active markers and fails running jobs whose status
// record has gone silent for longer than the kind's timeout. It is the
// backstop for workers that die without reporting failure.
type Sweeper struct {
	registry *Registry
	store    blackboard.Store
	cfg      *SweeperConfig
	logger   *slog.Logger

	// OnFailure, when set, is invoked for every job the sweeper fails.
	// Used to alert operators about silent worker deaths.
	OnFailure func(ctx context.Context, status *Status)

	// now is swapped in tests to control staleness decisions
	now func() time.Time
}

// NewSweeper creates a stall sweeper over the given registry.
func NewSweeper(registry *Registry, store blackboard.Store, cfg *SweeperConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		registry: registry,
		store:    store,
		cfg:      cfg,
		logger:   logger.With("component", "sweeper"),
		now:      time.Now,
	}
}

// Run sweeps on the configured interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "sweeper started",
		"interval", s.cfg.Interval,
		"worker_timeout", s.cfg.WorkerTimeout,
		"loading_timeout", s.cfg.LoadingTimeout)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one pass over the active markers.
func (s *Sweeper) Sweep(ctx context.Context) error {
	keys, err := s.store.Keys(ctx, blackboard.ActivePattern)
	if err != nil {
		return err
	}

	for _, key := range keys {
		s.sweepMarker(ctx, key)
	}

	return nil
}

// sweepMarker inspects one active marker and fails the job if stale.
// Problems with individual markers are logged, never fatal for the pass.
func (s *Sweeper) sweepMarker(ctx context.Context, key string) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, blackboard.ErrNotFound) {
			s.logger.WarnContext(ctx, "unreadable active marker", "key", key, "error", err)
		}

		return
	}

	var marker activeMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		s.logger.WarnContext(ctx, "malformed active marker", "key", key, "error", err)
		s.deleteMarker(ctx, key)

		return
	}

	status, err := s.registry.Get(ctx, marker.Kind, marker.ID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			// status record expired; the marker is an orphan
			s.deleteMarker(ctx, key)
		} else {
			s.logger.WarnContext(ctx, "failed to read status during sweep", "job_id", marker.ID, "error", err)
		}

		return
	}

	if status.Status.IsTerminal() {
		// the worker beat us to it; clean up the leftover marker
		s.deleteMarker(ctx, key)
		return
	}

	timeout, reason := s.timeoutFor(marker.Kind)
	if s.now().Sub(status.UpdatedAt) < timeout {
		return
	}

	failed, err := s.registry.Fail(ctx, marker.Kind, marker.ID, reason)
	if err != nil {
		// ErrTerminalStateImmutable means the worker finished concurrently
		if !errors.Is(err, ErrTerminalStateImmutable) {
			s.logger.WarnContext(ctx, "failed to reap stale job", "job_id", marker.ID, "error", err)
		}

		return
	}

	s.logger.WarnContext(ctx, "reaped stale job",
		"job_id", marker.ID,
		"kind", marker.Kind,
		"last_update", status.UpdatedAt)

	if s.OnFailure != nil {
		s.OnFailure(ctx, failed)
	}
}

// timeoutFor returns the staleness threshold and failure reason for a kind.
func (s *Sweeper) timeoutFor(kind Kind) (time.Duration, string) {
	switch kind {
	case KindDataset:
		return s.cfg.LoadingTimeout, loadingTimeoutReason
	case KindReport:
		return s.cfg.WorkerTimeout, reportTimeoutReason
	default:
		return s.cfg.WorkerTimeout, workerTimeoutReason
	}
}

// deleteMarker removes a marker key, logging failure.
func (s *Sweeper) deleteMarker(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to delete active marker", "key", key, "error", err)
	}
}
