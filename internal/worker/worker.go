// Package worker consumes the analysis queue and drives the gene set
// analysis kernels: read the staged request, prepare and process every
// dataset, write the result, and promote the job's status.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gsakit-io/gsakit/internal/blackboard"
	"github.com/gsakit-io/gsakit/internal/broker"
	"github.com/gsakit-io/gsakit/internal/catalog"
	"github.com/gsakit-io/gsakit/internal/config"
	"github.com/gsakit-io/gsakit/internal/job"
	"github.com/gsakit-io/gsakit/internal/kernels"
	"github.com/gsakit-io/gsakit/internal/model"
	"github.com/gsakit-io/gsakit/internal/notify"
)

// Config holds the analysis worker settings.
type Config struct {
	// ResultTTL bounds the lifetime of result blobs.
	ResultTTL time.Duration
	// ProgressMinInterval throttles kernel progress writes.
	ProgressMinInterval time.Duration
}

// LoadWorkerConfig reads the worker settings from the environment:
// RESULT_TTL, PROGRESS_MIN_INTERVAL.
func LoadWorkerConfig() *Config {
	return &Config{
		ResultTTL:           config.GetEnvDuration("RESULT_TTL", 7*24*time.Hour),
		ProgressMinInterval: config.GetEnvDuration("PROGRESS_MIN_INTERVAL", time.Second),
	}
}

// Worker consumes analysis jobs.
type Worker struct {
	cfg      *Config
	registry *job.Registry
	store    blackboard.Store
	queue    broker.Broker
	kernels  *kernels.Registry
	geneSets *kernels.GeneSetDB
	links    *LinkBuilder
	alerter  *notify.Alerter
	logger   *slog.Logger
}

// New creates an analysis worker. links may be nil to disable pathway
// browser visualizations.
func New(
	cfg *Config,
	registry *job.Registry,
	store blackboard.Store,
	queue broker.Broker,
	kernelRegistry *kernels.Registry,
	geneSets *kernels.GeneSetDB,
	links *LinkBuilder,
	alerter *notify.Alerter,
	logger *slog.Logger,
) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		cfg:      cfg,
		registry: registry,
		store:    store,
		queue:    queue,
		kernels:  kernelRegistry,
		geneSets: geneSets,
		links:    links,
		alerter:  alerter,
		logger:   logger.With("component", "analysis_worker"),
	}
}

// Run consumes the analysis queue until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	return w.queue.Consume(ctx, broker.QueueAnalysis, w.Handle)
}

// Handle processes one analysis delivery.
func (w *Worker) Handle(ctx context.Context, delivery broker.Delivery) broker.Verdict {
	jobID := string(delivery.Body)
	logger := w.logger.With("job_id", jobID)

	status, err := w.registry.Get(ctx, job.KindAnalysis, jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			// status record expired or never existed; nothing to do
			logger.WarnContext(ctx, "dropping message for unknown job")
			return broker.VerdictDrop
		}

		logger.ErrorContext(ctx, "failed to read job status", "error", err)

		return broker.VerdictRetry
	}

	if status.Status.IsTerminal() {
		// stale redelivery of a finished job
		logger.InfoContext(ctx, "dropping message for terminal job", "status", status.Status)
		return broker.VerdictAck
	}

	input, err := w.loadRequest(ctx, jobID)
	if err != nil {
		if errors.Is(err, blackboard.ErrNotFound) || errors.Is(err, errBadRequestData) {
			w.fail(ctx, jobID, "Analysis request data is no longer available.")
			return broker.VerdictAck
		}

		logger.ErrorContext(ctx, "failed to load request data", "error", err)

		return broker.VerdictRetry
	}

	reporter := NewReporter(w.registry, job.KindAnalysis, jobID, w.cfg.ProgressMinInterval, logger)

	if _, err := w.registry.Progress(ctx, job.KindAnalysis, jobID, "Starting analysis", 0.05); err != nil {
		if errors.Is(err, job.ErrTerminalStateImmutable) {
			return broker.VerdictAck
		}

		logger.ErrorContext(ctx, "failed to write initial progress", "error", err)

		return broker.VerdictRetry
	}

	result, kernelErr := w.analyse(ctx, input, reporter)
	if kernelErr != nil {
		if ctx.Err() != nil {
			// shutdown, not a kernel verdict; let redelivery decide
			return broker.VerdictRetry
		}

		// kernel errors are deterministic: fail and ack, never requeue
		w.fail(ctx, jobID, kernelErr.Error())
		w.alert(ctx, jobID, kernelErr)

		return broker.VerdictAck
	}

	data, err := json.Marshal(result)
	if err != nil {
		w.fail(ctx, jobID, "Failed to encode analysis result.")
		return broker.VerdictAck
	}

	if err := w.store.Put(ctx, blackboard.ResultKey(jobID), data, w.cfg.ResultTTL); err != nil {
		logger.ErrorContext(ctx, "failed to store result", "error", err)
		return broker.VerdictRetry
	}

	if _, err := w.registry.Complete(ctx, job.KindAnalysis, jobID, "Analysis complete"); err != nil {
		if !errors.Is(err, job.ErrTerminalStateImmutable) {
			logger.ErrorContext(ctx, "failed to complete job", "error", err)
			return broker.VerdictRetry
		}
	}

	w.requestReport(ctx, jobID, input)

	logger.InfoContext(ctx, "analysis complete", "datasets", len(input.Datasets))

	return broker.VerdictAck
}

var errBadRequestData = errors.New("malformed request data")

// loadRequest reads and decodes the staged analysis request.
func (w *Worker) loadRequest(ctx context.Context, jobID string) (*model.AnalysisInput, error) {
	data, err := w.store.Get(ctx, blackboard.RequestKey(jobID))
	if err != nil {
		return nil, err
	}

	var input model.AnalysisInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequestData, err)
	}

	return &input, nil
}

// analyse runs the kernel over every dataset of the request.
func (w *Worker) analyse(ctx context.Context, input *model.AnalysisInput, reporter *Reporter) (*model.AnalysisResult, error) {
	kernel, err := w.kernels.Get(input.MethodName)
	if err != nil {
		return nil, err
	}

	if err := kernel.LoadLibraries(ctx); err != nil {
		return nil, fmt.Errorf("initializing %s: %w", kernel.Name(), err)
	}

	result := &model.AnalysisResult{
		Release: w.geneSets.Release,
		Results: make([]model.DatasetResult, 0, len(input.Datasets)),
	}

	defaults := methodDefaults(input.MethodName)
	total := len(input.Datasets)

	var identifiers []string

	for i, dataset := range input.Datasets {
		base := 0.1 + 0.85*float64(i)/float64(total)
		span := 0.85 / float64(total)

		reporter.Report(ctx, fmt.Sprintf("Analysing dataset %q", dataset.Name), base)

		cfg := kernels.ConfigFromParameters(model.EffectiveParameters(defaults,
			model.EffectiveParameters(input.Parameters, dataset.Parameters)))

		prepared, err := kernel.Prepare(ctx, &dataset, cfg)
		if err != nil {
			return nil, err
		}

		identifiers = append(identifiers, prepared.Matrix.Rows...)

		table, err := kernel.Process(ctx, prepared, w.geneSets, func(message string, fraction float64) {
			reporter.Report(ctx, message, base+span*fraction)
		})
		if err != nil {
			return nil, fmt.Errorf("analysing dataset %q: %w", dataset.Name, err)
		}

		foldChanges, err := kernel.GeneFoldChanges(ctx, prepared)
		if err != nil {
			return nil, fmt.Errorf("computing fold changes for %q: %w", dataset.Name, err)
		}

		datasetResult := model.DatasetResult{
			Name:     dataset.Name,
			Pathways: table.Encode(),
		}

		if foldChanges != nil {
			datasetResult.FoldChanges = foldChanges.Encode()
		}

		if expressor, ok := kernel.(kernels.PathwayExpressor); ok {
			expression, err := expressor.PathwayExpression(ctx, prepared, w.geneSets)
			if err != nil {
				return nil, fmt.Errorf("computing pathway expression for %q: %w", dataset.Name, err)
			}

			if expression != nil && expression.NRow() > 0 {
				datasetResult.PathwayExpression = expression.Encode()
			}
		}

		result.Results = append(result.Results, datasetResult)
	}

	result.Mappings = identifierMappings(identifiers, w.geneSets)

	w.visualize(ctx, input, identifiers, result)

	return result, nil
}

// methodDefaults returns the catalog-declared parameter defaults of a
// method; they act as the lowest-precedence layer under the request's own
// values.
func methodDefaults(name string) []model.Parameter {
	method, ok := catalog.MethodByName(name)
	if !ok {
		return nil
	}

	return catalog.DefaultParameters(method)
}

// visualize attaches the pathway browser link unless the request disabled
// visualizations. Link creation is best effort: the external analysis
// service must never fail a finished analysis.
func (w *Worker) visualize(ctx context.Context, input *model.AnalysisInput, identifiers []string, result *model.AnalysisResult) {
	if w.links == nil || !model.BoolParameter(input.Parameters, "create_reactome_visualization", true) {
		return
	}

	links, err := w.links.Build(ctx, input, identifiers)
	if err != nil {
		w.logger.WarnContext(ctx, "failed to create pathway browser visualization", "error", err)
		return
	}

	result.ReactomeLinks = links
}

// requestReport publishes a report job when the request asked for reports or
// an e-mail notification. Publish failures are logged; the analysis result
// is already durable.
func (w *Worker) requestReport(ctx context.Context, jobID string, input *model.AnalysisInput) {
	wantsReport := model.BoolParameter(input.Parameters, "create_reports", false)

	email, _ := model.ParameterValue(input.Parameters, "email")
	if !wantsReport && email == "" {
		return
	}

	if err := w.queue.Publish(ctx, broker.QueueReport, []byte(jobID)); err != nil {
		w.logger.ErrorContext(ctx, "failed to request report", "job_id", jobID, "error", err)
		w.alert(ctx, jobID, fmt.Errorf("report request not queued: %w", err))
	}
}

// fail promotes the job to failed, tolerating races with the sweeper.
func (w *Worker) fail(ctx context.Context, jobID, reason string) {
	if _, err := w.registry.Fail(ctx, job.KindAnalysis, jobID, reason); err != nil {
		if !errors.Is(err, job.ErrTerminalStateImmutable) {
			w.logger.ErrorContext(ctx, "failed to mark job failed", "job_id", jobID, "error", err)
		}
	}
}

func (w *Worker) alert(ctx context.Context, jobID string, err error) {
	if w.alerter != nil {
		w.alerter.JobFailed(ctx, jobID, string(job.KindAnalysis), err.Error())
	}
}
