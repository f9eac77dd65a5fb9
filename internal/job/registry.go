package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gsakit-io/gsakit/internal/blackboard"
)

// casRetries bounds the optimistic-concurrency retry loop on status updates.
// Contention on a single job is rare (one worker owns a job at a time), so a
// handful of retries is plenty.
const casRetries = 5

// Sentinel errors for registry operations.
var (
	// ErrJobNotFound indicates the job id has no status record.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists indicates a Seed for an id that already has a record.
	ErrJobExists = errors.New("job already exists")

	// ErrConcurrentUpdate indicates the CAS retry budget was exhausted.
	ErrConcurrentUpdate = errors.New("concurrent status update")
)

// activeMarker is the JSON payload of a sweeper bookkeeping key. It carries
// enough to find the status record back without parsing the key.
type activeMarker struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// Registry allocates job ids and owns every status mutation. All writes go
// through compare-and-set so concurrent writers cannot roll a record back.
type Registry struct {
	store  blackboard.Store
	logger *slog.Logger
	ttl    time.Duration

	// now is swapped in tests to control UpdatedAt
	now func() time.Time
}

// NewRegistry creates a job registry on top of the blackboard. Status and
// result records expire after ttl (0 = keep forever).
func NewRegistry(store blackboard.Store, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		store:  store,
		logger: logger.With("component", "job_registry"),
		ttl:    ttl,
		now:    time.Now,
	}
}

// NewID allocates the next id for a job kind. Ids are a kind prefix plus a
// zero-padded counter, e.g. "Analysis00000001".
func (r *Registry) NewID(ctx context.Context, kind Kind) (string, error) {
	prefix, err := kind.Prefix()
	if err != nil {
		return "", err
	}

	sequence, err := r.store.Incr(ctx, blackboard.CounterKey(string(kind)))
	if err != nil {
		return "", fmt.Errorf("allocating %s id: %w", kind, err)
	}

	return fmt.Sprintf("%s%08d", prefix, sequence), nil
}

// Seed creates the initial running record for a job and its sweeper marker.
// Seeding an id twice returns ErrJobExists.
func (r *Registry) Seed(ctx context.Context, kind Kind, jobID, description string) (*Status, error) {
	status := &Status{
		ID:          jobID,
		Status:      StateRunning,
		Description: description,
		Completed:   0,
		UpdatedAt:   r.now().UTC(),
	}

	data, err := encodeStatus(status)
	if err != nil {
		return nil, err
	}

	created, err := r.store.CompareAndSet(ctx, statusKey(kind, jobID), nil, data, r.ttl)
	if err != nil {
		return nil, fmt.Errorf("seeding job %s: %w", jobID, err)
	}

	if !created {
		return nil, fmt.Errorf("%w: %s", ErrJobExists, jobID)
	}

	if err := r.markActive(ctx, kind, jobID); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "job seeded", "job_id", jobID, "kind", kind)

	return status, nil
}

// Get returns the status record of a job.
func (r *Registry) Get(ctx context.Context, kind Kind, jobID string) (*Status, error) {
	data, err := r.store.Get(ctx, statusKey(kind, jobID))
	if err != nil {
		if errors.Is(err, blackboard.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}

		return nil, fmt.Errorf("reading status for %s: %w", jobID, err)
	}

	return decodeStatus(data)
}

// Update applies mutate to the current record under optimistic concurrency.
// The mutated record is validated against the state machine before the write,
// and UpdatedAt is refreshed on every successful write.
func (r *Registry) Update(ctx context.Context, kind Kind, jobID string, mutate func(*Status)) (*Status, error) {
	key := statusKey(kind, jobID)

	for attempt := 0; attempt < casRetries; attempt++ {
		current, err := r.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, blackboard.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
			}

			return nil, fmt.Errorf("reading status for %s: %w", jobID, err)
		}

		before, err := decodeStatus(current)
		if err != nil {
			return nil, err
		}

		next := *before
		next.Reports = append([]Artifact(nil), before.Reports...)
		mutate(&next)

		if err := ValidateTransition(before.Status, next.Status); err != nil {
			return nil, fmt.Errorf("job %s: %w", jobID, err)
		}

		if err := ValidateProgress(before.Completed, next.Completed, next.Status); err != nil {
			return nil, fmt.Errorf("job %s: %w", jobID, err)
		}

		next.UpdatedAt = r.now().UTC()

		data, err := encodeStatus(&next)
		if err != nil {
			return nil, err
		}

		swapped, err := r.store.CompareAndSet(ctx, key, current, data, r.ttl)
		if err != nil {
			return nil, fmt.Errorf("writing status for %s: %w", jobID, err)
		}

		if swapped {
			if next.Status.IsTerminal() {
				r.clearActive(ctx, kind, jobID)
			}

			return &next, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrConcurrentUpdate, jobID)
}

// Progress records a progress step while the job keeps running.
func (r *Registry) Progress(ctx context.Context, kind Kind, jobID, description string, completed float64) (*Status, error) {
	return r.Update(ctx, kind, jobID, func(status *Status) {
		status.Status = StateRunning
		status.Description = description
		status.Completed = completed
	})
}

// Complete marks the job complete with full progress.
func (r *Registry) Complete(ctx context.Context, kind Kind, jobID, description string) (*Status, error) {
	status, err := r.Update(ctx, kind, jobID, func(status *Status) {
		status.Status = StateComplete
		status.Description = description
		status.Completed = 1
	})
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "job complete", "job_id", jobID, "kind", kind)

	return status, nil
}

// Fail marks the job failed. Progress is retained as a hint of how far the
// job got.
func (r *Registry) Fail(ctx context.Context, kind Kind, jobID, reason string) (*Status, error) {
	status, err := r.Update(ctx, kind, jobID, func(status *Status) {
		status.Status = StateFailed
		status.Description = reason
	})
	if err != nil {
		return nil, err
	}

	r.logger.WarnContext(ctx, "job failed", "job_id", jobID, "kind", kind, "reason", reason)

	return status, nil
}

// markActive writes the sweeper bookkeeping marker for a running job.
func (r *Registry) markActive(ctx context.Context, kind Kind, jobID string) error {
	marker, err := json.Marshal(activeMarker{ID: jobID, Kind: kind})
	if err != nil {
		return fmt.Errorf("encoding active marker for %s: %w", jobID, err)
	}

	if err := r.store.Put(ctx, blackboard.ActiveKey(string(kind), jobID), marker, r.ttl); err != nil {
		return fmt.Errorf("marking job %s active: %w", jobID, err)
	}

	return nil
}

// clearActive removes the sweeper marker. Failure only delays the sweeper's
// own cleanup, so it is logged and swallowed.
func (r *Registry) clearActive(ctx context.Context, kind Kind, jobID string) {
	if err := r.store.Delete(ctx, blackboard.ActiveKey(string(kind), jobID)); err != nil {
		r.logger.WarnContext(ctx, "failed to clear active marker", "job_id", jobID, "error", err)
	}
}
