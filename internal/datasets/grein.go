package datasets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gsakit-io/gsakit/internal/model"
)

const (
	defaultGreinBaseURL = "https://www.ilincs.org/apps/grein"

	greinFetchAttempts = 3
	greinRetryBackoff  = 2 * time.Second
	greinTimeout       = 2 * time.Minute
)

// ErrUpstreamUnavailable indicates the external resource did not answer
// within the retry budget.
var ErrUpstreamUnavailable = errors.New("external resource unavailable")

// GreinFetcher loads re-processed GEO RNA-seq datasets from a GREIN server.
type GreinFetcher struct {
	baseURL string
	client  *http.Client

	// backoff between retry attempts, shortened in tests
	backoff time.Duration
}

// NewGreinFetcher creates a GREIN fetcher. An empty baseURL selects the
// public server.
func NewGreinFetcher(baseURL string) *GreinFetcher {
	if baseURL == "" {
		baseURL = defaultGreinBaseURL
	}

	return &GreinFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: greinTimeout},
		backoff: greinRetryBackoff,
	}
}

// DatasetID implements Fetcher. GREIN serves GEO series, so the identifier
// must carry the GSE prefix.
func (f *GreinFetcher) DatasetID(parameters map[string]string) (string, error) {
	id, err := requiredParameter(parameters, "dataset_id")
	if err != nil {
		return "", err
	}

	id = strings.ToUpper(id)
	if !strings.HasPrefix(id, "GSE") {
		return "", fmt.Errorf("%w: dataset_id must be a GEO series accession (GSExxxx)", ErrMissingParameter)
	}

	return id, nil
}

// greinMetadata is the wire shape of the GREIN metadata endpoint.
type greinMetadata struct {
	Accession   string                       `json:"accession"`
	Title       string                       `json:"title"`
	Description string                       `json:"description"`
	Species     string                       `json:"species"`
	Samples     map[string]map[string]string `json:"samples"`
}

// Load implements Fetcher: it fetches sample metadata and the raw count
// matrix and converts both into the internal dataset shape.
func (f *GreinFetcher) Load(ctx context.Context, parameters map[string]string, progress ProgressFunc) (*Loaded, error) {
	id, err := f.DatasetID(parameters)
	if err != nil {
		return nil, err
	}

	if progress != nil {
		progress("Requesting data from GREIN", 0.2)
	}

	metaBody, err := f.get(ctx, fmt.Sprintf("%s/api/dataset/%s/metadata", f.baseURL, id))
	if err != nil {
		return nil, err
	}

	var meta greinMetadata
	if err := json.Unmarshal(metaBody, &meta); err != nil {
		return nil, fmt.Errorf("decoding GREIN metadata for %s: %w", id, err)
	}

	if progress != nil {
		progress("Downloading expression values", 0.5)
	}

	counts, err := f.get(ctx, fmt.Sprintf("%s/api/dataset/%s/counts", f.baseURL, id))
	if err != nil {
		return nil, err
	}

	if progress != nil {
		progress("Converting dataset", 0.8)
	}

	data := convertGreinMetadata(id, &meta)

	table, err := alignCounts(string(counts), data.SampleIDs)
	if err != nil {
		return nil, fmt.Errorf("converting GREIN counts for %s: %w", id, err)
	}

	return &Loaded{Data: data, Table: table}, nil
}

// get fetches one URL with a bounded retry budget. Server errors and
// transport failures retry; a 404 is final.
func (f *GreinFetcher) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= greinFetchAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.backoff):
			}
		}

		body, retryable, err := f.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}

		if !retryable {
			return nil, err
		}

		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

func (f *GreinFetcher) fetchOnce(ctx context.Context, url string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, err
		}

		return data, false, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%w: %s", ErrDatasetNotFound, url)
	default:
		return nil, true, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
}

// convertGreinMetadata maps the GREIN sample table into the internal dataset
// description. Sample characteristics become parallel metadata arrays.
func convertGreinMetadata(id string, meta *greinMetadata) *model.ExternalData {
	sampleIDs := make([]string, 0, len(meta.Samples))
	for sampleID := range meta.Samples {
		sampleIDs = append(sampleIDs, sampleID)
	}

	sort.Strings(sampleIDs)

	// collect the union of characteristic names
	names := make(map[string]bool)

	for _, characteristics := range meta.Samples {
		for name := range characteristics {
			names[name] = true
		}
	}

	sortedNames := make([]string, 0, len(names))
	for name := range names {
		sortedNames = append(sortedNames, name)
	}

	sort.Strings(sortedNames)

	metadata := make([]model.SampleMetadata, 0, len(sortedNames))

	for _, name := range sortedNames {
		values := make([]string, len(sampleIDs))
		for i, sampleID := range sampleIDs {
			values[i] = meta.Samples[sampleID][name]
		}

		metadata = append(metadata, model.SampleMetadata{Name: name, Values: values})
	}

	return &model.ExternalData{
		ID:             id,
		Title:          meta.Title,
		Type:           "rnaseq_counts",
		Description:    meta.Description,
		Group:          meta.Species,
		SampleIDs:      sampleIDs,
		SampleMetadata: metadata,
	}
}

// alignCounts reorders the columns of a tab-delimited count table to the
// metadata sample order and drops samples absent from the metadata.
func alignCounts(table string, sampleIDs []string) (string, error) {
	lines := strings.Split(strings.TrimRight(table, "\n"), "\n")
	if len(lines) < 2 {
		return "", errors.New("count table has no data rows")
	}

	header := strings.Split(lines[0], "\t")
	if len(header) < 2 {
		return "", errors.New("count table has no sample columns")
	}

	// column index per sample id; header[0] is the gene column
	position := make(map[string]int, len(header)-1)
	for i, name := range header[1:] {
		position[strings.TrimSpace(name)] = i + 1
	}

	columns := make([]int, 0, len(sampleIDs))

	for _, sampleID := range sampleIDs {
		idx, ok := position[sampleID]
		if !ok {
			return "", fmt.Errorf("sample %q missing from count table", sampleID)
		}

		columns = append(columns, idx)
	}

	var sb strings.Builder

	sb.WriteString("\t")
	sb.WriteString(strings.Join(sampleIDs, "\t"))
	sb.WriteString("\n")

	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")

		sb.WriteString(fields[0])

		for _, idx := range columns {
			sb.WriteString("\t")

			if idx < len(fields) {
				sb.WriteString(fields[idx])
			}
		}

		sb.WriteString("\n")
	}

	return sb.String(), nil
}
