package datasets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gsakit-io/gsakit/internal/blackboard"
	"github.com/gsakit-io/gsakit/internal/broker"
	"github.com/gsakit-io/gsakit/internal/job"
	"github.com/gsakit-io/gsakit/internal/notify"
	"github.com/gsakit-io/gsakit/internal/worker"
)

// LoadRequest is the staged request data of one dataset load job.
type LoadRequest struct {
	JobID      string            `json:"jobId"`
	ResourceID string            `json:"resourceId"`
	Parameters map[string]string `json:"parameters"`
}

// Loader consumes dataset load jobs. Loaded datasets are published on the
// blackboard under a fresh dataset id, separate from the load job id, so the
// same dataset can be referenced by any number of analysis requests.
type Loader struct {
	cfg      *LoaderConfig
	registry *job.Registry
	store    blackboard.Store
	queue    broker.Broker
	fetchers *Registry
	alerter  *notify.Alerter
	logger   *slog.Logger

	// newDatasetID is swapped in tests for deterministic ids
	newDatasetID func() string
}

// NewLoader creates a dataset loader.
func NewLoader(
	cfg *LoaderConfig,
	registry *job.Registry,
	store blackboard.Store,
	queue broker.Broker,
	fetchers *Registry,
	alerter *notify.Alerter,
	logger *slog.Logger,
) *Loader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Loader{
		cfg:          cfg,
		registry:     registry,
		store:        store,
		queue:        queue,
		fetchers:     fetchers,
		alerter:      alerter,
		logger:       logger.With("component", "dataset_loader"),
		newDatasetID: uuid.NewString,
	}
}

// Run consumes the dataset queue until ctx is canceled.
func (l *Loader) Run(ctx context.Context) error {
	return l.queue.Consume(ctx, broker.QueueDataset, l.Handle)
}

// Handle processes one dataset load delivery.
func (l *Loader) Handle(ctx context.Context, delivery broker.Delivery) broker.Verdict {
	jobID := string(delivery.Body)
	logger := l.logger.With("job_id", jobID)

	status, err := l.registry.Get(ctx, job.KindDataset, jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			logger.WarnContext(ctx, "dropping message for unknown load job")
			return broker.VerdictDrop
		}

		logger.ErrorContext(ctx, "failed to read job status", "error", err)

		return broker.VerdictRetry
	}

	if status.Status.IsTerminal() {
		logger.InfoContext(ctx, "dropping message for terminal load job", "status", status.Status)
		return broker.VerdictAck
	}

	request, err := l.loadRequest(ctx, jobID)
	if err != nil {
		if errors.Is(err, blackboard.ErrNotFound) || errors.Is(err, errBadLoadRequest) {
			l.fail(ctx, jobID, "Loading request data is no longer available.")
			return broker.VerdictAck
		}

		logger.ErrorContext(ctx, "failed to load request data", "error", err)

		return broker.VerdictRetry
	}

	fetcher, err := l.fetchers.Get(request.ResourceID)
	if err != nil {
		l.fail(ctx, jobID, err.Error())
		return broker.VerdictAck
	}

	fingerprint := Fingerprint(request.ResourceID, request.Parameters)

	// a previous load of the same resource and parameters short-circuits
	if datasetID, ok := l.cachedDataset(ctx, fingerprint); ok {
		logger.InfoContext(ctx, "dataset already loaded", "dataset_id", datasetID)
		l.complete(ctx, jobID, datasetID)

		return broker.VerdictAck
	}

	reporter := worker.NewReporter(l.registry, job.KindDataset, jobID, l.cfg.ProgressMinInterval, logger)

	if _, err := l.registry.Progress(ctx, job.KindDataset, jobID, "Fetching dataset", 0.1); err != nil {
		if errors.Is(err, job.ErrTerminalStateImmutable) {
			return broker.VerdictAck
		}

		logger.ErrorContext(ctx, "failed to write initial progress", "error", err)

		return broker.VerdictRetry
	}

	loaded, err := fetcher.Load(ctx, request.Parameters, func(message string, fraction float64) {
		// fetch spans the 0.1..0.8 band of the load job
		reporter.Report(ctx, message, 0.1+0.7*fraction)
	})
	if err != nil {
		if ctx.Err() != nil {
			return broker.VerdictRetry
		}

		// fetch errors are final: the fetcher already spent its own
		// retry budget on transient upstream failures
		l.fail(ctx, jobID, err.Error())
		l.alert(ctx, jobID, err)

		return broker.VerdictAck
	}

	reporter.Report(ctx, "Storing dataset", 0.9)

	datasetID, err := l.publish(ctx, fingerprint, loaded)
	if err != nil {
		logger.ErrorContext(ctx, "failed to store dataset", "error", err)
		return broker.VerdictRetry
	}

	l.complete(ctx, jobID, datasetID)
	logger.InfoContext(ctx, "dataset loaded", "dataset_id", datasetID, "resource", request.ResourceID)

	return broker.VerdictAck
}

var errBadLoadRequest = errors.New("malformed loading request")

func (l *Loader) loadRequest(ctx context.Context, jobID string) (*LoadRequest, error) {
	data, err := l.store.Get(ctx, blackboard.RequestKey(jobID))
	if err != nil {
		return nil, err
	}

	var request LoadRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadLoadRequest, err)
	}

	return &request, nil
}

// cachedDataset consults the idempotence index. A dangling index entry whose
// dataset already expired does not count.
func (l *Loader) cachedDataset(ctx context.Context, fingerprint string) (string, bool) {
	data, err := l.store.Get(ctx, blackboard.DatasetIndexKey(fingerprint))
	if err != nil {
		return "", false
	}

	datasetID := string(data)

	if _, err := l.store.Get(ctx, blackboard.DatasetKey(datasetID)); err != nil {
		return "", false
	}

	return datasetID, true
}

// publish stores the dataset description, its expression table, and the
// idempotence index entry, all under the dataset TTL.
func (l *Loader) publish(ctx context.Context, fingerprint string, loaded *Loaded) (string, error) {
	datasetID := l.newDatasetID()

	data, err := json.Marshal(loaded.Data)
	if err != nil {
		return "", fmt.Errorf("encoding dataset description: %w", err)
	}

	if err := l.store.Put(ctx, blackboard.DatasetKey(datasetID), data, l.cfg.DatasetTTL); err != nil {
		return "", err
	}

	if err := l.store.Put(ctx, blackboard.RequestKey(datasetID), []byte(loaded.Table), l.cfg.DatasetTTL); err != nil {
		return "", err
	}

	if err := l.store.Put(ctx, blackboard.DatasetIndexKey(fingerprint), []byte(datasetID), l.cfg.DatasetTTL); err != nil {
		return "", err
	}

	return datasetID, nil
}

// complete promotes the load job and records the dataset id on its status.
func (l *Loader) complete(ctx context.Context, jobID, datasetID string) {
	_, err := l.registry.Update(ctx, job.KindDataset, jobID, func(status *job.Status) {
		status.Status = job.StateComplete
		status.Description = "Dataset loaded"
		status.Completed = 1
		status.DatasetID = datasetID
	})
	if err != nil && !errors.Is(err, job.ErrTerminalStateImmutable) {
		l.logger.ErrorContext(ctx, "failed to complete load job", "job_id", jobID, "error", err)
	}
}

func (l *Loader) fail(ctx context.Context, jobID, reason string) {
	if _, err := l.registry.Fail(ctx, job.KindDataset, jobID, reason); err != nil {
		if !errors.Is(err, job.ErrTerminalStateImmutable) {
			l.logger.ErrorContext(ctx, "failed to mark load job failed", "job_id", jobID, "error", err)
		}
	}
}

func (l *Loader) alert(ctx context.Context, jobID string, err error) {
	if l.alerter != nil {
		l.alerter.JobFailed(ctx, jobID, string(job.KindDataset), err.Error())
	}
}
