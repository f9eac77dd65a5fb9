package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gsakit-io/gsakit/internal/blackboard"
	"github.com/gsakit-io/gsakit/internal/broker"
	"github.com/gsakit-io/gsakit/internal/datasets"
	"github.com/gsakit-io/gsakit/internal/job"
	"github.com/gsakit-io/gsakit/internal/model"
)

// handleDataLoad admits a dataset loading job for an external resource.
//
// The body is an optional JSON array of name/value parameters passed through
// to the resource fetcher. Responds with the load job id as plain text.
func (s *Server) handleDataLoad(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")

	if s.fetchers == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Dataset loading is not available"))
		return
	}

	if _, err := s.fetchers.Get(resource); err != nil {
		WriteErrorResponse(w, r, s.logger, NotFound("No data source with the given identifier exists"))
		return
	}

	parameters, err := readLoadParameters(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("The loading parameters could not be parsed: "+err.Error()))
		return
	}

	jobID, err := s.registry.NewID(r.Context(), job.KindDataset)
	if err != nil {
		s.logger.Error("Failed to allocate load id", "error", err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("The dataset load could not be scheduled"))

		return
	}

	request := datasets.LoadRequest{
		JobID:      jobID,
		ResourceID: resource,
		Parameters: parameters,
	}

	staged, err := json.Marshal(&request)
	if err != nil {
		s.logger.Error("Failed to encode load request", "job_id", jobID, "error", err)
		WriteErrorResponse(w, r, s.logger, InternalServerError("The load request could not be stored"))

		return
	}

	if err := s.store.Put(r.Context(), blackboard.RequestKey(jobID), staged, s.config.StatusTTL); err != nil {
		s.logger.Error("Failed to stage load request", "job_id", jobID, "error", err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("The dataset load could not be scheduled"))

		return
	}

	if _, err := s.registry.Seed(r.Context(), job.KindDataset, jobID, "Queued"); err != nil {
		s.logger.Error("Failed to seed load status", "job_id", jobID, "error", err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("The dataset load could not be scheduled"))

		return
	}

	if err := s.queue.Publish(r.Context(), broker.QueueDataset, []byte(jobID)); err != nil {
		s.logger.Error("Failed to queue dataset load", "job_id", jobID, "error", err)

		if _, failErr := s.registry.Fail(r.Context(), job.KindDataset, jobID,
			"The dataset load could not be queued."); failErr != nil {
			s.logger.Error("Failed to mark unqueued load failed", "job_id", jobID, "error", failErr)
		}

		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("The dataset load could not be queued"))

		return
	}

	s.logger.Info("Dataset load admitted", "job_id", jobID, "resource", resource)

	s.writeText(w, jobID)
}

// readLoadParameters decodes the parameter list of a load request into the
// map the fetchers consume. An empty body is a valid empty parameter set.
func readLoadParameters(r *http.Request) (map[string]string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	parameters := make(map[string]string)

	if len(body) == 0 {
		return parameters, nil
	}

	var list []model.Parameter
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, err
	}

	for _, parameter := range list {
		parameters[parameter.Name] = parameter.Value
	}

	return parameters, nil
}

// handleDataSummary serves the stored description of a loaded dataset.
func (s *Server) handleDataSummary(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")

	data, err := s.store.Get(r.Context(), blackboard.DatasetKey(datasetID))
	if err != nil {
		if errors.Is(err, blackboard.ErrNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("No dataset with the given identifier exists"))
			return
		}

		s.logger.Error("Failed to read dataset summary", "dataset_id", datasetID, "error", err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Dataset storage is unavailable"))

		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write dataset summary", "dataset_id", datasetID, "error", err.Error())
	}
}

// handleDataDownload streams the expression table of a loaded dataset as
// tab-delimited text.
func (s *Server) handleDataDownload(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")

	data, err := s.store.Get(r.Context(), blackboard.RequestKey(datasetID))
	if err != nil {
		if errors.Is(err, blackboard.ErrNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("No dataset with the given identifier exists"))
			return
		}

		s.logger.Error("Failed to read dataset table", "dataset_id", datasetID, "error", err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Dataset storage is unavailable"))

		return
	}

	w.Header().Set("Content-Type", contentTypeText)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write dataset table", "dataset_id", datasetID, "error", err.Error())
	}
}
