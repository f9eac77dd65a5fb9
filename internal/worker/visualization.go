package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gsakit-io/gsakit/internal/kernels"
	"github.com/gsakit-io/gsakit/internal/model"
)

// ErrNoVisualizationToken indicates an analysis service response without a
// usable token.
var ErrNoVisualizationToken = errors.New("analysis service returned no token")

// reactomeServers maps the reactome_server parameter values to base URLs.
var reactomeServers = map[string]string{
	"production": "https://reactome.org",
	"dev":        "https://dev.reactome.org",
	"release":    "https://release.reactome.org",
}

// LinkBuilder creates pathway browser visualizations for completed analyses
// by submitting the analysed identifiers to the Reactome analysis service.
type LinkBuilder struct {
	client  *http.Client
	servers map[string]string
	logger  *slog.Logger
}

// NewLinkBuilder creates a link builder against the public Reactome servers.
func NewLinkBuilder(logger *slog.Logger) *LinkBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	return &LinkBuilder{
		client:  &http.Client{Timeout: 30 * time.Second},
		servers: reactomeServers,
		logger:  logger.With("component", "link_builder"),
	}
}

// tokenResponse is the part of the analysis service response the builder
// consumes.
type tokenResponse struct {
	Summary struct {
		Token string `json:"token"`
	} `json:"summary"`
}

// Build submits the identifiers as a projection analysis and returns the
// pathway browser link of the resulting token. The reactome_server parameter
// selects the target server; unknown values fall back to production.
func (b *LinkBuilder) Build(ctx context.Context, input *model.AnalysisInput, identifiers []string) ([]model.ReactomeLink, error) {
	if len(identifiers) == 0 {
		return nil, nil
	}

	server, _ := model.ParameterValue(input.Parameters, "reactome_server")

	base, ok := b.servers[server]
	if !ok {
		base = b.servers["production"]
	}

	useInteractors := model.BoolParameter(input.Parameters, "use_interactors", false)

	url := fmt.Sprintf("%s/AnalysisService/identifiers/projection?interactors=%t", base, useInteractors)
	body := strings.Join(identifiers, "\n")

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return nil, err
	}

	request.Header.Set("Content-Type", "text/plain")

	response, err := b.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("submitting identifiers: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis service returned %s", response.Status)
	}

	payload, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading analysis service response: %w", err)
	}

	var decoded tokenResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decoding analysis service response: %w", err)
	}

	if decoded.Summary.Token == "" {
		return nil, ErrNoVisualizationToken
	}

	link := model.ReactomeLink{
		URL:         fmt.Sprintf("%s/PathwayBrowser/#/DTAB=AN&ANALYSIS=%s", base, decoded.Summary.Token),
		Name:        "Gene set analysis",
		Token:       decoded.Summary.Token,
		Description: "Pathway browser visualization of the submitted identifiers",
	}

	b.logger.DebugContext(ctx, "created pathway browser visualization",
		"server", base, "identifiers", len(identifiers))

	return []model.ReactomeLink{link}, nil
}

// identifierMappings reports, for every analysed identifier found in the
// pathway database, the pathways it contributes to. Identifiers are matched
// case-insensitively and reported in their submitted form.
func identifierMappings(identifiers []string, db *kernels.GeneSetDB) []model.Mapping {
	seen := make(map[string]bool, len(identifiers))
	mappings := make([]model.Mapping, 0, len(identifiers))

	for _, identifier := range identifiers {
		key := strings.ToUpper(strings.TrimSpace(identifier))
		if key == "" || seen[key] {
			continue
		}

		seen[key] = true

		var mapped []string

		for i := range db.Sets {
			if db.Sets[i].Genes[key] {
				mapped = append(mapped, db.Sets[i].ID)
			}
		}

		if len(mapped) == 0 {
			continue
		}

		sort.Strings(mapped)

		mappings = append(mappings, model.Mapping{Identifier: identifier, MappedTo: mapped})
	}

	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].Identifier < mappings[j].Identifier
	})

	return mappings
}
