package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gsakit-io/gsakit/internal/blackboard"
	"github.com/gsakit-io/gsakit/internal/job"
)

// handleAnalysisStatus serves the status record of an analysis job.
func (s *Server) handleAnalysisStatus(w http.ResponseWriter, r *http.Request) {
	s.serveStatus(w, r, job.KindAnalysis, r.PathValue("id"))
}

// handleReportStatus serves the status record of a report job.
func (s *Server) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	s.serveStatus(w, r, job.KindReport, r.PathValue("id"))
}

// handleDataStatus serves the status record of a dataset load job.
func (s *Server) handleDataStatus(w http.ResponseWriter, r *http.Request) {
	s.serveStatus(w, r, job.KindDataset, r.PathValue("id"))
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request, kind job.Kind, jobID string) {
	status, err := s.registry.Get(r.Context(), kind, jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("No job with the given identifier exists"))
			return
		}

		s.logger.Error("Failed to read job status", "job_id", jobID, "error", err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Status storage is unavailable"))

		return
	}

	s.writeJSON(w, r, status)
}

// handleResult streams a completed analysis result.
//
// Response codes:
//   - 200: the analysis is complete and the result blob exists
//   - 406: the analysis is still running or has failed
//   - 404: neither a status record nor a result exists
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	status, err := s.registry.Get(r.Context(), job.KindAnalysis, jobID)
	if err != nil && !errors.Is(err, job.ErrJobNotFound) {
		s.logger.Error("Failed to read job status", "job_id", jobID, "error", err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Status storage is unavailable"))

		return
	}

	if status != nil && status.Status != job.StateComplete {
		WriteErrorResponse(w, r, s.logger, NotAcceptable("The analysis result is not available: "+status.Description))
		return
	}

	data, err := s.store.Get(r.Context(), blackboard.ResultKey(jobID))
	if err != nil {
		if errors.Is(err, blackboard.ErrNotFound) {
			// a status record may outlive an evicted result; both absent
			// is a plain 404
			WriteErrorResponse(w, r, s.logger, NotFound("No result for the given identifier exists"))
			return
		}

		s.logger.Error("Failed to read result", "job_id", jobID, "error", err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Result storage is unavailable"))

		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write result", "job_id", jobID, "error", err.Error())
	}
}

// handleReportArtifact streams one generated report artifact.
func (s *Server) handleReportArtifact(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	artifact := r.PathValue("artifact")

	data, err := s.store.Get(r.Context(), blackboard.ReportKey(jobID, artifact))
	if err != nil {
		if errors.Is(err, blackboard.ErrNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("No such report artifact exists"))
			return
		}

		s.logger.Error("Failed to read report artifact", "job_id", jobID, "error", err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Report storage is unavailable"))

		return
	}

	w.Header().Set("Content-Type", artifactContentType(artifact))
	w.Header().Set("Content-Disposition", "attachment; filename=\""+artifact+"\"")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write report artifact", "job_id", jobID, "error", err.Error())
	}
}

func artifactContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".xlsx"):
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case strings.HasSuffix(name, ".pdf"):
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
