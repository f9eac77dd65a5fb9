package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gsakit-io/gsakit/internal/blackboard"
	"github.com/gsakit-io/gsakit/internal/broker"
	"github.com/gsakit-io/gsakit/internal/job"
	"github.com/gsakit-io/gsakit/internal/model"
	"github.com/gsakit-io/gsakit/internal/notify"
	"github.com/gsakit-io/gsakit/internal/worker"
)

// Artifact names and content types. Reports are keyed to the analysis id
// they were generated for.
const (
	ArtifactExcel = "report.xlsx"
	ArtifactPDF   = "report.pdf"

	mimeExcel = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimePDF   = "application/pdf"
)

// Service consumes report jobs.
type Service struct {
	cfg      *ReportConfig
	registry *job.Registry
	store    blackboard.Store
	queue    broker.Broker
	mailer   notify.Mailer
	alerter  *notify.Alerter
	logger   *slog.Logger
}

// NewService creates a report service.
func NewService(
	cfg *ReportConfig,
	registry *job.Registry,
	store blackboard.Store,
	queue broker.Broker,
	mailer notify.Mailer,
	alerter *notify.Alerter,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		cfg:      cfg,
		registry: registry,
		store:    store,
		queue:    queue,
		mailer:   mailer,
		alerter:  alerter,
		logger:   logger.With("component", "report_service"),
	}
}

// Run consumes the report queue until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.queue.Consume(ctx, broker.QueueReport, s.Handle)
}

// Handle processes one report delivery. The body carries the analysis id the
// report belongs to; the report status record lives under the same id in its
// own prefix.
func (s *Service) Handle(ctx context.Context, delivery broker.Delivery) broker.Verdict {
	jobID := string(delivery.Body)
	logger := s.logger.With("job_id", jobID)

	status, err := s.ensureStatus(ctx, jobID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to read report status", "error", err)
		return broker.VerdictRetry
	}

	if status.Status.IsTerminal() {
		logger.InfoContext(ctx, "dropping message for terminal report job", "status", status.Status)
		return broker.VerdictAck
	}

	result, err := s.loadResult(ctx, jobID)
	if err != nil {
		if errors.Is(err, blackboard.ErrNotFound) || errors.Is(err, errBadResultData) {
			s.fail(ctx, jobID, "Analysis result is no longer available.")
			return broker.VerdictAck
		}

		logger.ErrorContext(ctx, "failed to load analysis result", "error", err)

		return broker.VerdictRetry
	}

	reporter := worker.NewReporter(s.registry, job.KindReport, jobID, s.cfg.ProgressMinInterval, logger)

	if _, err := s.registry.Progress(ctx, job.KindReport, jobID, "Creating report", 0.1); err != nil {
		if errors.Is(err, job.ErrTerminalStateImmutable) {
			return broker.VerdictAck
		}

		logger.ErrorContext(ctx, "failed to write initial progress", "error", err)

		return broker.VerdictRetry
	}

	var failedArtifacts []string

	type artifact struct {
		name string
		mime string
		data []byte
	}

	artifacts := make([]artifact, 0, 2)

	if data, err := buildExcel(result); err != nil {
		logger.ErrorContext(ctx, "spreadsheet generation failed", "error", err)
		failedArtifacts = append(failedArtifacts, ArtifactExcel)
	} else {
		artifacts = append(artifacts, artifact{name: ArtifactExcel, mime: mimeExcel, data: data})
	}

	reporter.Report(ctx, "Creating PDF summary", 0.4)

	if data, err := buildPDF(jobID, result); err != nil {
		logger.ErrorContext(ctx, "pdf generation failed", "error", err)
		failedArtifacts = append(failedArtifacts, ArtifactPDF)
	} else {
		artifacts = append(artifacts, artifact{name: ArtifactPDF, mime: mimePDF, data: data})
	}

	if len(artifacts) == 0 {
		reason := "Report generation failed."

		s.fail(ctx, jobID, reason)
		s.alert(ctx, jobID, errors.New(reason))

		return broker.VerdictAck
	}

	reporter.Report(ctx, "Storing report", 0.8)

	records := make([]job.Artifact, 0, len(artifacts))

	for _, a := range artifacts {
		if err := s.store.Put(ctx, blackboard.ReportKey(jobID, a.name), a.data, s.cfg.ReportTTL); err != nil {
			logger.ErrorContext(ctx, "failed to store artifact", "artifact", a.name, "error", err)
			return broker.VerdictRetry
		}

		records = append(records, job.Artifact{
			Name:     a.name,
			URL:      s.artifactURL(jobID, a.name),
			MimeType: a.mime,
		})
	}

	description := "Report created"
	if len(failedArtifacts) > 0 {
		description = fmt.Sprintf("Report created without %s", strings.Join(failedArtifacts, ", "))
	}

	_, err = s.registry.Update(ctx, job.KindReport, jobID, func(status *job.Status) {
		status.Status = job.StateComplete
		status.Description = description
		status.Completed = 1
		status.Reports = records
	})
	if err != nil && !errors.Is(err, job.ErrTerminalStateImmutable) {
		logger.ErrorContext(ctx, "failed to complete report job", "error", err)
		return broker.VerdictRetry
	}

	// notification is best effort and never fails a report that has
	// artifacts
	s.notifyUser(ctx, jobID, records)

	logger.InfoContext(ctx, "report complete", "artifacts", len(records))

	return broker.VerdictAck
}

var errBadResultData = errors.New("malformed analysis result")

// ensureStatus returns the report status record, seeding it on the first
// delivery for a job.
func (s *Service) ensureStatus(ctx context.Context, jobID string) (*job.Status, error) {
	status, err := s.registry.Get(ctx, job.KindReport, jobID)
	if err == nil {
		return status, nil
	}

	if !errors.Is(err, job.ErrJobNotFound) {
		return nil, err
	}

	status, err = s.registry.Seed(ctx, job.KindReport, jobID, "Queued")
	if err != nil {
		if errors.Is(err, job.ErrJobExists) {
			// a concurrent delivery seeded it first
			return s.registry.Get(ctx, job.KindReport, jobID)
		}

		return nil, err
	}

	return status, nil
}

func (s *Service) loadResult(ctx context.Context, jobID string) (*model.AnalysisResult, error) {
	data, err := s.store.Get(ctx, blackboard.ResultKey(jobID))
	if err != nil {
		return nil, err
	}

	var result model.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadResultData, err)
	}

	return &result, nil
}

// notifyUser mails the download links to the address of the original
// request, when one was given.
func (s *Service) notifyUser(ctx context.Context, jobID string, records []job.Artifact) {
	if s.mailer == nil {
		return
	}

	email := s.requestEmail(ctx, jobID)
	if email == "" {
		return
	}

	var body strings.Builder

	body.WriteString("Your gene set analysis report is ready.\n\n")

	for _, record := range records {
		body.WriteString(record.Name + ": " + record.URL + "\n")
	}

	body.WriteString("\nResult: " + fmt.Sprintf("%s/0.1/result/%s", s.cfg.BaseURL, jobID) + "\n")

	subject := fmt.Sprintf("Analysis %s report ready", jobID)

	if err := s.mailer.Send(ctx, []string{email}, subject, body.String()); err != nil {
		s.logger.WarnContext(ctx, "report notification failed", "job_id", jobID, "error", err)
	}
}

// requestEmail digs the e-mail parameter out of the staged analysis request.
// The request may have expired by report time; that simply disables the mail.
func (s *Service) requestEmail(ctx context.Context, jobID string) string {
	data, err := s.store.Get(ctx, blackboard.RequestKey(jobID))
	if err != nil {
		return ""
	}

	var input model.AnalysisInput
	if err := json.Unmarshal(data, &input); err != nil {
		return ""
	}

	email, _ := model.ParameterValue(input.Parameters, "email")

	return strings.TrimSpace(email)
}

func (s *Service) artifactURL(jobID, name string) string {
	return fmt.Sprintf("%s/0.1/report/%s/%s", s.cfg.BaseURL, jobID, name)
}

func (s *Service) fail(ctx context.Context, jobID, reason string) {
	if _, err := s.registry.Fail(ctx, job.KindReport, jobID, reason); err != nil {
		if !errors.Is(err, job.ErrTerminalStateImmutable) {
			s.logger.ErrorContext(ctx, "failed to mark report job failed", "job_id", jobID, "error", err)
		}
	}
}

func (s *Service) alert(ctx context.Context, jobID string, err error) {
	if s.alerter != nil {
		s.alerter.JobFailed(ctx, jobID, string(job.KindReport), err.Error())
	}
}
