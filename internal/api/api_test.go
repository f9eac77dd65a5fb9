package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsakit-io/gsakit/internal/blackboard"
	"github.com/gsakit-io/gsakit/internal/broker"
	"github.com/gsakit-io/gsakit/internal/datasets"
	"github.com/gsakit-io/gsakit/internal/job"
	"github.com/gsakit-io/gsakit/internal/model"
	"github.com/gsakit-io/gsakit/internal/search"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type apiFixture struct {
	store    *blackboard.MemoryStore
	queue    *broker.MemoryBroker
	registry *job.Registry
	handler  http.Handler
}

func newAPIFixture(t *testing.T, opts ...func(*broker.Config)) *apiFixture {
	t.Helper()

	store := blackboard.NewMemoryStore()

	brokerCfg := &broker.Config{MaxQueueLength: 16, MaxDeliveries: 3}
	for _, opt := range opts {
		opt(brokerCfg)
	}

	queue := broker.NewMemoryBroker(brokerCfg)

	logger := testLogger()
	registry := job.NewRegistry(store, time.Hour, logger)

	filter, err := search.LoadTermFilter("", "")
	require.NoError(t, err)

	index := search.NewIndex([]search.Document{
		{
			ID:          "GSE1402",
			Source:      "grein",
			Title:       "Psoriatic arthritis synovial biopsies",
			Species:     "Homo sapiens",
			Description: "Expression profiling of synovial tissue",
			ResourceID:  "grein",
			Parameters:  map[string]string{"dataset_id": "GSE1402"},
		},
	}, filter)

	server := NewServer(LoadServerConfig(), &Dependencies{
		Store:    store,
		Queue:    queue,
		Registry: registry,
		Fetchers: datasets.NewFetcherRegistry(),
		Index:    index,
		Logger:   logger,
	})

	return &apiFixture{
		store:    store,
		queue:    queue,
		registry: registry,
		handler:  server.Handler(),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for name, value := range header {
		req.Header.Set(name, value)
	}

	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, req)

	return recorder
}

// nextDelivery drains one message from a queue, failing the test when none
// arrives.
func (f *apiFixture) nextDelivery(t *testing.T, queue string) broker.Delivery {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var delivery broker.Delivery

	received := false

	_ = f.queue.Consume(ctx, queue, func(_ context.Context, d broker.Delivery) broker.Verdict {
		delivery = d
		received = true

		cancel()

		return broker.VerdictAck
	})

	require.True(t, received, "expected a message on queue %s", queue)

	return delivery
}

const testMatrix = "\tSample1\tSample2\tSample3\tSample4\n" +
	"TP53\t10\t12\t30\t28\n" +
	"BRCA1\t5\t4\t19\t22\n"

func testAnalysisRequest() model.AnalysisInput {
	return model.AnalysisInput{
		MethodName: "Camera",
		Datasets: []model.Dataset{
			{
				Name: "first",
				Type: "rnaseq_counts",
				Data: testMatrix,
				Design: &model.Design{
					Samples:       []string{"Sample1", "Sample2", "Sample3", "Sample4"},
					Comparison:    model.Comparison{Group1: "control", Group2: "treated"},
					AnalysisGroup: []string{"control", "control", "treated", "treated"},
				},
			},
		},
		Parameters: []model.Parameter{
			{Name: "max_missing_values", Value: "0.5"},
		},
	}
}

func encodeRequest(t *testing.T, input model.AnalysisInput) []byte {
	t.Helper()

	data, err := json.Marshal(input)
	require.NoError(t, err)

	return data
}

func TestSubmitAnalysisAdmitsValidRequest(t *testing.T) {
	fixture := newAPIFixture(t)

	resp := fixture.do(t, http.MethodPost, "/0.1/analysis", encodeRequest(t, testAnalysisRequest()), nil)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	jobID := resp.Body.String()
	assert.Equal(t, "Analysis00000001", jobID)

	// the status record exists and is running
	status, err := fixture.registry.Get(context.Background(), job.KindAnalysis, jobID)
	require.NoError(t, err)
	assert.Equal(t, job.StateRunning, status.Status)

	// the request is staged for the worker
	staged, err := fixture.store.Get(context.Background(), blackboard.RequestKey(jobID))
	require.NoError(t, err)
	assert.Contains(t, string(staged), "Camera")

	// the job id is on the analysis queue
	delivery := fixture.nextDelivery(t, broker.QueueAnalysis)
	assert.Equal(t, jobID, string(delivery.Body))
}

func TestSubmitAnalysisAcceptsGzip(t *testing.T) {
	fixture := newAPIFixture(t)

	var compressed bytes.Buffer

	gz := gzip.NewWriter(&compressed)
	_, err := gz.Write(encodeRequest(t, testAnalysisRequest()))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	resp := fixture.do(t, http.MethodPost, "/0.1/analysis", compressed.Bytes(),
		map[string]string{"Content-Encoding": "gzip"})

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "Analysis00000001", resp.Body.String())
}

func TestSubmitAnalysisDetectsGzipWithoutHeader(t *testing.T) {
	fixture := newAPIFixture(t)

	var compressed bytes.Buffer

	gz := gzip.NewWriter(&compressed)
	_, err := gz.Write(encodeRequest(t, testAnalysisRequest()))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	resp := fixture.do(t, http.MethodPost, "/0.1/analysis", compressed.Bytes(), nil)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
}

func TestSubmitAnalysisRejections(t *testing.T) {
	mutate := func(change func(*model.AnalysisInput)) model.AnalysisInput {
		input := testAnalysisRequest()
		change(&input)

		return input
	}

	tests := []struct {
		name     string
		body     []byte
		input    *model.AnalysisInput
		wantCode int
	}{
		{
			name:     "malformed JSON",
			body:     []byte("{not json"),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown method",
			input: ptr(mutate(func(in *model.AnalysisInput) {
				in.MethodName = "no_such_method"
			})),
			wantCode: http.StatusNotFound,
		},
		{
			name: "no datasets",
			input: ptr(mutate(func(in *model.AnalysisInput) {
				in.Datasets = nil
			})),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "duplicate dataset names",
			input: ptr(mutate(func(in *model.AnalysisInput) {
				in.Datasets = append(in.Datasets, in.Datasets[0])
			})),
			wantCode: http.StatusNotAcceptable,
		},
		{
			name: "unknown data type",
			input: ptr(mutate(func(in *model.AnalysisInput) {
				in.Datasets[0].Type = "metabolomics"
			})),
			wantCode: http.StatusNotAcceptable,
		},
		{
			name: "sample arity mismatch",
			input: ptr(mutate(func(in *model.AnalysisInput) {
				in.Datasets[0].Design.Samples = in.Datasets[0].Design.Samples[:3]
			})),
			wantCode: http.StatusNotAcceptable,
		},
		{
			name: "analysis group arity mismatch",
			input: ptr(mutate(func(in *model.AnalysisInput) {
				in.Datasets[0].Design.AnalysisGroup = []string{"control", "treated"}
			})),
			wantCode: http.StatusNotAcceptable,
		},
		{
			name: "comparison group outside analysis group",
			input: ptr(mutate(func(in *model.AnalysisInput) {
				in.Datasets[0].Design.Comparison.Group2 = "missing"
			})),
			wantCode: http.StatusNotAcceptable,
		},
		{
			name: "covariate arity mismatch",
			input: ptr(mutate(func(in *model.AnalysisInput) {
				in.Datasets[0].Design.Properties = map[string][]string{
					"patient.id": {"p1", "p2"},
				}
			})),
			wantCode: http.StatusNotAcceptable,
		},
		{
			name: "invalid enum parameter",
			input: ptr(mutate(func(in *model.AnalysisInput) {
				in.Parameters = []model.Parameter{
					{Name: "discrete_norm_function", Value: "bogus"},
				}
			})),
			wantCode: http.StatusNotAcceptable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := newAPIFixture(t)

			body := tt.body
			if tt.input != nil {
				body = encodeRequest(t, *tt.input)
			}

			resp := fixture.do(t, http.MethodPost, "/0.1/analysis", body, nil)

			assert.Equal(t, tt.wantCode, resp.Code, resp.Body.String())
			assert.Equal(t, "application/problem+json", resp.Header().Get("Content-Type"))
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}

func TestSubmitAnalysisRiboSeqDoublesDesign(t *testing.T) {
	fixture := newAPIFixture(t)

	// four matrix columns covered by two declared samples: matched RNA-seq
	// and Ribo-seq measurements share the design
	input := testAnalysisRequest()
	input.Datasets[0].Type = "ribo_seq"
	input.Datasets[0].Design.Samples = []string{"SampleA", "SampleB"}
	input.Datasets[0].Design.AnalysisGroup = []string{"control", "treated"}
	input.Datasets[0].Design.Properties = map[string][]string{"patient": {"p1", "p2"}}

	resp := fixture.do(t, http.MethodPost, "/0.1/analysis", encodeRequest(t, input), nil)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	// the staged design must cover every matrix column so the worker's
	// preparation arity check holds
	data, err := fixture.store.Get(context.Background(), blackboard.RequestKey(resp.Body.String()))
	require.NoError(t, err)

	var staged model.AnalysisInput
	require.NoError(t, json.Unmarshal(data, &staged))
	require.Len(t, staged.Datasets, 1)

	design := staged.Datasets[0].Design
	require.NotNil(t, design)
	assert.Equal(t, []string{"SampleA", "SampleB", "SampleA", "SampleB"}, design.Samples)
	assert.Equal(t, []string{"control", "treated", "control", "treated"}, design.AnalysisGroup)
	assert.Equal(t, []string{"p1", "p2", "p1", "p2"}, design.Properties["patient"])
}

func TestSubmitAnalysisResolvesStorageToken(t *testing.T) {
	fixture := newAPIFixture(t)

	ctx := context.Background()
	require.NoError(t, fixture.store.Put(ctx, blackboard.RequestKey("stored-token"), []byte(testMatrix), 0))

	input := testAnalysisRequest()
	input.Datasets[0].Data = "stored-token"

	resp := fixture.do(t, http.MethodPost, "/0.1/analysis", encodeRequest(t, input), nil)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	// the staged request carries the resolved matrix, not the token
	staged, err := fixture.store.Get(ctx, blackboard.RequestKey(resp.Body.String()))
	require.NoError(t, err)
	assert.Contains(t, string(staged), "TP53")
}

func TestSubmitAnalysisUnknownStorageToken(t *testing.T) {
	fixture := newAPIFixture(t)

	input := testAnalysisRequest()
	input.Datasets[0].Data = "no-such-token"

	resp := fixture.do(t, http.MethodPost, "/0.1/analysis", encodeRequest(t, input), nil)

	assert.Equal(t, http.StatusNotFound, resp.Code, resp.Body.String())
}

func TestSubmitAnalysisQueueFull(t *testing.T) {
	fixture := newAPIFixture(t, func(cfg *broker.Config) {
		cfg.MaxQueueLength = 1
	})

	first := fixture.do(t, http.MethodPost, "/0.1/analysis", encodeRequest(t, testAnalysisRequest()), nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := fixture.do(t, http.MethodPost, "/0.1/analysis", encodeRequest(t, testAnalysisRequest()), nil)
	require.Equal(t, http.StatusServiceUnavailable, second.Code, second.Body.String())

	// the rejected job is left with a terminal failed record
	status, err := fixture.registry.Get(context.Background(), job.KindAnalysis, "Analysis00000002")
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, status.Status)
}

func TestResultEndpointStateMatrix(t *testing.T) {
	fixture := newAPIFixture(t)
	ctx := context.Background()

	seed := func(t *testing.T, jobID string) {
		t.Helper()

		_, err := fixture.registry.Seed(ctx, job.KindAnalysis, jobID, "Queued")
		require.NoError(t, err)
	}

	// running
	seed(t, "Analysis00000101")
	resp := fixture.do(t, http.MethodGet, "/0.1/result/Analysis00000101", nil, nil)
	assert.Equal(t, http.StatusNotAcceptable, resp.Code)

	// failed
	seed(t, "Analysis00000102")
	_, err := fixture.registry.Fail(ctx, job.KindAnalysis, "Analysis00000102", "kernel crashed")
	require.NoError(t, err)

	resp = fixture.do(t, http.MethodGet, "/0.1/result/Analysis00000102", nil, nil)
	assert.Equal(t, http.StatusNotAcceptable, resp.Code)

	// complete
	seed(t, "Analysis00000103")
	_, err = fixture.registry.Complete(ctx, job.KindAnalysis, "Analysis00000103", "Analysis done")
	require.NoError(t, err)
	require.NoError(t, fixture.store.Put(ctx, blackboard.ResultKey("Analysis00000103"), []byte(`{"release":"81"}`), 0))

	resp = fixture.do(t, http.MethodGet, "/0.1/result/Analysis00000103", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"release":"81"}`, resp.Body.String())

	// unknown
	resp = fixture.do(t, http.MethodGet, "/0.1/result/Analysis00000999", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestStatusEndpoints(t *testing.T) {
	fixture := newAPIFixture(t)
	ctx := context.Background()

	_, err := fixture.registry.Seed(ctx, job.KindAnalysis, "Analysis00000001", "Queued")
	require.NoError(t, err)

	resp := fixture.do(t, http.MethodGet, "/0.1/status/Analysis00000001", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var status job.Status

	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &status))
	assert.Equal(t, "Analysis00000001", status.ID)
	assert.Equal(t, job.StateRunning, status.Status)

	for _, path := range []string{
		"/0.1/status/Analysis00000042",
		"/0.1/report_status/Analysis00000042",
		"/0.1/data/status/Load00000042",
	} {
		resp := fixture.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.Code, path)
	}
}

func TestReportArtifactDownload(t *testing.T) {
	fixture := newAPIFixture(t)
	ctx := context.Background()

	require.NoError(t, fixture.store.Put(ctx,
		blackboard.ReportKey("Analysis00000001", "report.pdf"), []byte("%PDF-1.4 fake"), 0))

	resp := fixture.do(t, http.MethodGet, "/0.1/report/Analysis00000001/report.pdf", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/pdf", resp.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4 fake", resp.Body.String())

	resp = fixture.do(t, http.MethodGet, "/0.1/report/Analysis00000001/report.xlsx", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDataLoadAdmitsJob(t *testing.T) {
	fixture := newAPIFixture(t)

	body, err := json.Marshal([]model.Parameter{{Name: "dataset_id", Value: "EXAMPLE_MEL_RNA"}})
	require.NoError(t, err)

	resp := fixture.do(t, http.MethodPost, "/0.1/data/load/example_datasets", body, nil)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	jobID := resp.Body.String()
	assert.Equal(t, "Load00000001", jobID)

	status, err := fixture.registry.Get(context.Background(), job.KindDataset, jobID)
	require.NoError(t, err)
	assert.Equal(t, job.StateRunning, status.Status)

	staged, err := fixture.store.Get(context.Background(), blackboard.RequestKey(jobID))
	require.NoError(t, err)

	var request datasets.LoadRequest

	require.NoError(t, json.Unmarshal(staged, &request))
	assert.Equal(t, "example_datasets", request.ResourceID)
	assert.Equal(t, "EXAMPLE_MEL_RNA", request.Parameters["dataset_id"])

	delivery := fixture.nextDelivery(t, broker.QueueDataset)
	assert.Equal(t, jobID, string(delivery.Body))
}

func TestDataLoadUnknownResource(t *testing.T) {
	fixture := newAPIFixture(t)

	resp := fixture.do(t, http.MethodPost, "/0.1/data/load/no_such_source", nil, nil)

	assert.Equal(t, http.StatusNotFound, resp.Code, resp.Body.String())
}

func TestDataSummaryAndDownload(t *testing.T) {
	fixture := newAPIFixture(t)
	ctx := context.Background()

	require.NoError(t, fixture.store.Put(ctx, blackboard.DatasetKey("dataset-1"), []byte(`{"id":"dataset-1"}`), 0))
	require.NoError(t, fixture.store.Put(ctx, blackboard.RequestKey("dataset-1"), []byte(testMatrix), 0))

	resp := fixture.do(t, http.MethodGet, "/0.1/data/summary/dataset-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"id":"dataset-1"}`, resp.Body.String())

	resp = fixture.do(t, http.MethodGet, "/0.1/data/download/dataset-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, testMatrix, resp.Body.String())

	resp = fixture.do(t, http.MethodGet, "/0.1/data/summary/dataset-2", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = fixture.do(t, http.MethodGet, "/0.1/data/download/dataset-2", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	fixture := newAPIFixture(t)

	resp := fixture.do(t, http.MethodGet, "/0.1/methods", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Camera")
	assert.Contains(t, resp.Body.String(), "PADOG")

	resp = fixture.do(t, http.MethodGet, "/0.1/types", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "rnaseq_counts")
}

func TestDataSearch(t *testing.T) {
	fixture := newAPIFixture(t)

	resp := fixture.do(t, http.MethodGet, "/0.1/data/search?query=psoriatic", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var hits []search.Result

	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "GSE1402", hits[0].ID)

	resp = fixture.do(t, http.MethodGet, "/0.1/data/search", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPingAndHealth(t *testing.T) {
	fixture := newAPIFixture(t)

	resp := fixture.do(t, http.MethodGet, "/ping", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "pong", resp.Body.String())

	resp = fixture.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = fixture.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, strings.Contains(resp.Body.String(), "healthy"))
}

func TestUnknownRouteReturnsProblem(t *testing.T) {
	fixture := newAPIFixture(t)

	resp := fixture.do(t, http.MethodGet, "/0.1/nope", nil, nil)

	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "application/problem+json", resp.Header().Get("Content-Type"))
}
