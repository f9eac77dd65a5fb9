package api

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gsakit-io/gsakit/internal/blackboard"
	"github.com/gsakit-io/gsakit/internal/broker"
	"github.com/gsakit-io/gsakit/internal/catalog"
	"github.com/gsakit-io/gsakit/internal/job"
	"github.com/gsakit-io/gsakit/internal/model"
)

// handleSubmitAnalysis admits a gene set analysis request.
//
// The body is the JSON analysis specification, optionally gzip-compressed.
// Admission outcomes:
//   - 400: the body cannot be parsed
//   - 404: the requested method is not in the catalog, or a dataset storage
//     token does not resolve
//   - 406: the specification is well-formed but internally inconsistent
//   - 503: the job cannot be staged or queued
//   - 200: the allocated job id as plain text
func (s *Server) handleSubmitAnalysis(w http.ResponseWriter, r *http.Request) {
	body, err := s.readAnalysisBody(w, r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("The request body could not be read: "+err.Error()))
		return
	}

	var input model.AnalysisInput
	if err := json.Unmarshal(body, &input); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("The analysis request could not be parsed: "+err.Error()))
		return
	}

	method, ok := catalog.MethodByName(input.MethodName)
	if !ok {
		WriteErrorResponse(w, r, s.logger,
			NotFound(fmt.Sprintf("No analysis method named %q is available", input.MethodName)))

		return
	}

	if problem := s.resolveStorageTokens(r, &input); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)
		return
	}

	if problem := s.validateAnalysisInput(method, &input); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)
		return
	}

	expandRiboSeqDesigns(&input)

	jobID, err := s.registry.NewID(r.Context(), job.KindAnalysis)
	if err != nil {
		s.logger.Error("Failed to allocate analysis id", "error", err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("The analysis could not be scheduled"))

		return
	}

	input.AnalysisID = jobID

	staged, err := json.Marshal(&input)
	if err != nil {
		s.logger.Error("Failed to encode analysis request", "job_id", jobID, "error", err)
		WriteErrorResponse(w, r, s.logger, InternalServerError("The analysis request could not be stored"))

		return
	}

	if err := s.store.Put(r.Context(), blackboard.RequestKey(jobID), staged, s.config.StatusTTL); err != nil {
		s.logger.Error("Failed to stage analysis request", "job_id", jobID, "error", err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("The analysis could not be scheduled"))

		return
	}

	if _, err := s.registry.Seed(r.Context(), job.KindAnalysis, jobID, "Queued"); err != nil {
		s.logger.Error("Failed to seed analysis status", "job_id", jobID, "error", err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("The analysis could not be scheduled"))

		return
	}

	if err := s.queue.Publish(r.Context(), broker.QueueAnalysis, []byte(jobID)); err != nil {
		s.logger.Error("Failed to queue analysis", "job_id", jobID, "error", err)

		// the record exists, so leave a terminal trace for the client
		if _, failErr := s.registry.Fail(r.Context(), job.KindAnalysis, jobID,
			"The analysis could not be queued."); failErr != nil {
			s.logger.Error("Failed to mark unqueued analysis failed", "job_id", jobID, "error", failErr)
		}

		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("The analysis could not be queued"))

		return
	}

	s.logger.Info("Analysis admitted",
		"job_id", jobID,
		"method", method.Name,
		"datasets", len(input.Datasets),
	)

	s.writeText(w, jobID)
}

// readAnalysisBody reads the request body, transparently decompressing gzip
// payloads. Compression is recognized from the Content-Encoding header or
// from the gzip magic bytes, whichever is present.
func (s *Server) readAnalysisBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	reader := http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	gzipped := strings.Contains(r.Header.Get("Content-Encoding"), "gzip") ||
		(len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b)

	if !gzipped {
		return data, nil
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid gzip payload: %w", err)
	}
	defer gz.Close()

	decompressed, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("invalid gzip payload: %w", err)
	}

	return decompressed, nil
}

// resolveStorageTokens substitutes previously loaded datasets into the
// request. A dataset whose data field contains no newline is treated as a
// storage token referencing a staged expression matrix.
func (s *Server) resolveStorageTokens(r *http.Request, input *model.AnalysisInput) *ProblemDetail {
	for i := range input.Datasets {
		data := input.Datasets[i].Data
		if strings.Contains(data, "\n") {
			continue
		}

		token := strings.TrimSpace(data)
		if token == "" {
			continue
		}

		staged, err := s.store.Get(r.Context(), blackboard.RequestKey(token))
		if err != nil {
			if errors.Is(err, blackboard.ErrNotFound) {
				return NotFound(fmt.Sprintf("No dataset is stored under the token %q", token))
			}

			s.logger.Error("Failed to resolve storage token", "token", token, "error", err)

			return ServiceUnavailable("Stored datasets are not available")
		}

		input.Datasets[i].Data = string(staged)
	}

	return nil
}

// expandRiboSeqDesigns rewrites the design of every ribo-seq dataset so it
// covers the full matched matrix before the request is staged: the first half
// of the columns carries the RNA-seq measurements, the second half the
// Ribo-seq measurements of the same samples, so samples, analysis groups and
// covariates are concatenated with themselves.
func expandRiboSeqDesigns(input *model.AnalysisInput) {
	for i := range input.Datasets {
		dataset := &input.Datasets[i]
		if dataset.Type != catalog.TypeRiboSeq || dataset.Design == nil {
			continue
		}

		design := dataset.Design
		design.Samples = append(design.Samples, design.Samples...)
		design.AnalysisGroup = append(design.AnalysisGroup, design.AnalysisGroup...)

		for name, values := range design.Properties {
			design.Properties[name] = append(values, values...)
		}
	}
}

// validateAnalysisInput performs the cross-field consistency checks of an
// admitted request. Structural problems return 400, semantic inconsistencies
// return 406.
func (s *Server) validateAnalysisInput(method *catalog.Method, input *model.AnalysisInput) *ProblemDetail {
	if len(input.Datasets) == 0 {
		return BadRequest("The analysis request must contain at least one dataset")
	}

	if warnings, err := catalog.ValidateAnalysisParameters(method, input.Parameters); err != nil {
		return NotAcceptable(err.Error())
	} else if len(warnings) > 0 {
		s.logger.Debug("Analysis parameter warnings", "warnings", warnings)
	}

	seen := make(map[string]bool, len(input.Datasets))

	for i := range input.Datasets {
		dataset := &input.Datasets[i]

		name := strings.TrimSpace(dataset.Name)
		if name == "" {
			return BadRequest("Every dataset must have a name")
		}

		if seen[name] {
			return NotAcceptable(fmt.Sprintf("The dataset name %q is used more than once", name))
		}

		seen[name] = true

		if _, ok := catalog.DataTypeByID(dataset.Type); !ok {
			return NotAcceptable(fmt.Sprintf("Dataset %q uses the unknown data type %q", name, dataset.Type))
		}

		matrix, err := model.ParseMatrix(dataset.Data)
		if err != nil {
			return NotAcceptable(fmt.Sprintf("Dataset %q does not contain a valid expression table: %v", name, err))
		}

		if warnings, err := catalog.ValidateDatasetParameters(method, name, dataset.Parameters); err != nil {
			return NotAcceptable(err.Error())
		} else if len(warnings) > 0 {
			s.logger.Debug("Dataset parameter warnings", "dataset", name, "warnings", warnings)
		}

		if dataset.Design == nil {
			continue
		}

		if problem := validateDesign(dataset, matrix); problem != nil {
			return problem
		}
	}

	return nil
}

// validateDesign checks a dataset's experimental design against its
// expression matrix.
//
// Ribo-seq datasets carry matched RNA-seq and Ribo-seq columns, so the
// declared samples and analysis group cover the matrix twice.
func validateDesign(dataset *model.Dataset, matrix *model.Matrix) *ProblemDetail {
	design := dataset.Design
	name := dataset.Name

	samples := len(design.Samples)
	groups := len(design.AnalysisGroup)

	if dataset.Type == catalog.TypeRiboSeq {
		samples *= 2
		groups *= 2
	}

	if samples != matrix.NCol() {
		return NotAcceptable(fmt.Sprintf(
			"Dataset %q declares %d samples but its expression table has %d columns",
			name, samples, matrix.NCol()))
	}

	if groups != samples {
		return NotAcceptable(fmt.Sprintf(
			"Dataset %q assigns %d analysis group values to %d samples",
			name, groups, samples))
	}

	group1 := strings.TrimSpace(design.Comparison.Group1)
	group2 := strings.TrimSpace(design.Comparison.Group2)

	if group1 == "" || group2 == "" {
		return NotAcceptable(fmt.Sprintf("Dataset %q must name two comparison groups", name))
	}

	present := make(map[string]bool, len(design.AnalysisGroup))
	for _, value := range design.AnalysisGroup {
		present[value] = true
	}

	for _, group := range []string{group1, group2} {
		if !present[group] {
			return NotAcceptable(fmt.Sprintf(
				"Dataset %q compares the group %q which is not part of its analysis group", name, group))
		}
	}

	for covariate, values := range design.Properties {
		if len(values) != len(design.Samples) {
			return NotAcceptable(fmt.Sprintf(
				"Dataset %q assigns %d values to the covariate %q but declares %d samples",
				name, len(values), covariate, len(design.Samples)))
		}
	}

	return nil
}
