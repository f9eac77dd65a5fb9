// Package datasets implements the dataset loader: it consumes load jobs,
// fetches datasets from external resources through pluggable fetchers, and
// publishes the converted result on the blackboard.
package datasets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gsakit-io/gsakit/internal/model"
)

// Sentinel errors.
var (
	// ErrUnknownResource indicates a resource id with no registered fetcher.
	ErrUnknownResource = errors.New("unknown data resource")

	// ErrMissingParameter indicates a load request without a required
	// parameter.
	ErrMissingParameter = errors.New("missing loading parameter")

	// ErrDatasetNotFound indicates the external resource has no dataset
	// with the requested id.
	ErrDatasetNotFound = errors.New("dataset not found")
)

// ProgressFunc reports fetch progress as a message and a fraction in [0,1].
type ProgressFunc func(message string, fraction float64)

// Loaded is the product of one fetch: the dataset description and the
// tab-delimited expression table.
type Loaded struct {
	Data  *model.ExternalData
	Table string
}

// Fetcher loads datasets from one external resource.
type Fetcher interface {
	// DatasetID returns the resource-scoped dataset identifier of a load
	// request, used for idempotence fingerprinting.
	DatasetID(parameters map[string]string) (string, error)

	// Load fetches and converts one dataset.
	Load(ctx context.Context, parameters map[string]string, progress ProgressFunc) (*Loaded, error)
}

// Registry resolves resource ids to fetchers.
type Registry struct {
	fetchers map[string]Fetcher
}

// NewFetcherRegistry creates a registry holding the built-in fetchers.
func NewFetcherRegistry() *Registry {
	registry := &Registry{fetchers: make(map[string]Fetcher)}

	registry.Register("example_datasets", NewExampleFetcher())
	registry.Register("grein", NewGreinFetcher(""))

	return registry
}

// Register adds a fetcher under a resource id.
func (r *Registry) Register(resourceID string, fetcher Fetcher) {
	r.fetchers[strings.ToLower(resourceID)] = fetcher
}

// Get returns the fetcher of a resource id.
func (r *Registry) Get(resourceID string) (Fetcher, error) {
	fetcher, ok := r.fetchers[strings.ToLower(strings.TrimSpace(resourceID))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, resourceID)
	}

	return fetcher, nil
}

// Resources returns the registered resource ids.
func (r *Registry) Resources() []string {
	ids := make([]string, 0, len(r.fetchers))
	for id := range r.fetchers {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Fingerprint derives the idempotence key of a load request from the
// resource id and the sorted parameters.
func Fingerprint(resourceID string, parameters map[string]string) string {
	keys := make([]string, 0, len(parameters))
	for key := range parameters {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	hasher := sha256.New()
	hasher.Write([]byte(strings.ToLower(resourceID)))

	for _, key := range keys {
		hasher.Write([]byte{0})
		hasher.Write([]byte(key))
		hasher.Write([]byte{0})
		hasher.Write([]byte(parameters[key]))
	}

	return hex.EncodeToString(hasher.Sum(nil))
}

// requiredParameter returns a named parameter or ErrMissingParameter.
func requiredParameter(parameters map[string]string, name string) (string, error) {
	value := strings.TrimSpace(parameters[name])
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingParameter, name)
	}

	return value, nil
}
