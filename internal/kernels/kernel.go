// Package kernels implements the gene set analysis methods. Each kernel
// turns one prepared expression dataset and the pathway database into a
// pathway result table and a gene-level fold change table.
package kernels

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gsakit-io/gsakit/internal/model"
)

// Sentinel errors.
var (
	// ErrUnknownMethod indicates a method name with no registered kernel.
	ErrUnknownMethod = errors.New("unknown analysis method")

	// ErrInvalidDataset indicates a dataset a kernel cannot analyse.
	ErrInvalidDataset = errors.New("invalid dataset")
)

// ProgressFunc reports kernel progress as a message and a fraction in [0,1].
type ProgressFunc func(message string, fraction float64)

// KernelConfig carries the effective per-dataset analysis settings. Values
// arrive coerced from the method catalog; kernels never read ambient state.
type KernelConfig struct {
	// DiscreteNorm is the normalization for count data (TMM, RLE,
	// upperquartile, none).
	DiscreteNorm string
	// ContinuousNorm is the normalization for intensity data (none, scale,
	// quantile, cyclicloess).
	ContinuousNorm string
	// SampleGroups names the design property holding matched-pair group
	// assignments. Empty means unpaired.
	SampleGroups string
	// MaxMissingValues is the tolerated fraction of missing values per
	// comparison group before a gene is dropped.
	MaxMissingValues float64
	// UseInteractors extends pathways with interactor genes.
	UseInteractors bool
	// IncludeDiseasePathways keeps disease pathways in the analysis.
	IncludeDiseasePathways bool
	// MinPathwaySize and MaxPathwaySize bound the pathway size, measured
	// as the number of submitted genes mapped to the pathway.
	MinPathwaySize int
	MaxPathwaySize int
	// Pathways, when non-empty, restricts the analysis to the listed
	// pathway ids.
	Pathways []string
}

// ConfigFromParameters builds a KernelConfig from coerced catalog
// parameters.
func ConfigFromParameters(parameters []model.Parameter) *KernelConfig {
	cfg := &KernelConfig{
		DiscreteNorm:           "TMM",
		ContinuousNorm:         "none",
		MaxMissingValues:       0.5,
		IncludeDiseasePathways: true,
		MinPathwaySize:         1,
		MaxPathwaySize:         1000,
	}

	for _, parameter := range parameters {
		value := strings.TrimSpace(parameter.Value)
		if value == "" {
			continue
		}

		switch parameter.Name {
		case "discrete_norm_function":
			cfg.DiscreteNorm = value
		case "continuous_norm_function":
			cfg.ContinuousNorm = value
		case "sample_groups":
			cfg.SampleGroups = value
		case "max_missing_values":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				cfg.MaxMissingValues = f
			}
		case "use_interactors":
			cfg.UseInteractors = parseBool(value)
		case "include_disease_pathways":
			cfg.IncludeDiseasePathways = parseBool(value)
		case "min_size":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.MinPathwaySize = n
			}
		case "max_size":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.MaxPathwaySize = n
			}
		case "pathways":
			for _, id := range strings.Split(value, ",") {
				if id = strings.TrimSpace(id); id != "" {
					cfg.Pathways = append(cfg.Pathways, id)
				}
			}
		}
	}

	return cfg
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	}

	return false
}

// Prepared is a dataset after parsing, normalization and missing value
// filtering, ready for analysis.
type Prepared struct {
	Name   string
	Matrix *model.Matrix
	Design *model.Design
	Config *KernelConfig

	// GroupA and GroupB hold the sample column indexes of the two
	// comparison groups. Empty when the dataset has no design.
	GroupA []int
	GroupB []int

	// Pairs maps matched samples between the groups when SampleGroups is
	// set: Pairs[i] is the GroupB index paired with GroupA[i].
	Pairs []int
}

// Kernel is one gene set analysis method.
type Kernel interface {
	// Name returns the catalog method name.
	Name() string

	// UsesDesign reports whether the kernel requires an experimental
	// design with a comparison.
	UsesDesign() bool

	// LoadLibraries performs one-time warm-up work before the first
	// analysis.
	LoadLibraries(ctx context.Context) error

	// Prepare parses, normalizes and filters one dataset.
	Prepare(ctx context.Context, dataset *model.Dataset, cfg *KernelConfig) (*Prepared, error)

	// Process runs the gene set analysis over a prepared dataset.
	Process(ctx context.Context, prepared *Prepared, pathways *GeneSetDB, progress ProgressFunc) (*model.PathwayTable, error)

	// GeneFoldChanges returns the gene-level fold change table of a
	// prepared dataset.
	GeneFoldChanges(ctx context.Context, prepared *Prepared) (*model.Matrix, error)
}

// PathwayExpressor is implemented by kernels that additionally produce a
// pathway-by-sample expression matrix (ssGSEA). The worker surfaces it next
// to the pathway result table.
type PathwayExpressor interface {
	PathwayExpression(ctx context.Context, prepared *Prepared, pathways *GeneSetDB) (*model.Matrix, error)
}

// Registry resolves method names to kernels.
type Registry struct {
	kernels map[string]Kernel
}

// NewRegistry creates a registry holding the built-in kernels.
func NewRegistry() *Registry {
	registry := &Registry{kernels: make(map[string]Kernel)}

	registry.Register(&CameraKernel{})
	registry.Register(&CameraRiboSeqKernel{})
	registry.Register(&PadogKernel{})
	registry.Register(&SSGSEAKernel{})

	return registry
}

// Register adds a kernel under its lowercased name.
func (r *Registry) Register(kernel Kernel) {
	r.kernels[strings.ToLower(kernel.Name())] = kernel
}

// Get returns the kernel for a method name, matched case-insensitively.
func (r *Registry) Get(method string) (Kernel, error) {
	kernel, ok := r.kernels[strings.ToLower(strings.TrimSpace(method))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	return kernel, nil
}

// Names returns the registered method names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.kernels))
	for name := range r.kernels {
		names = append(names, name)
	}

	return names
}
