package kernels

import (
	"context"
	"fmt"

	"github.com/gsakit-io/gsakit/internal/model"
)

// riboSeqType is the catalog id of matched RNA-seq / Ribo-seq datasets.
const riboSeqType = "ribo_seq"

// CameraRiboSeqKernel is the camera variant for matched Ribo-seq datasets.
// The submitted matrix carries the RNA-seq measurements of every sample in
// its first half and the Ribo-seq measurements of the same samples in its
// second half. After normalization the halves are collapsed into per-sample
// translational efficiency values, which are then tested like any other
// expression dataset.
type CameraRiboSeqKernel struct {
	camera CameraKernel
}

// Name returns the catalog method name.
func (k *CameraRiboSeqKernel) Name() string { return "camera_riboseq" }

// UsesDesign reports that the variant requires a comparison design.
func (k *CameraRiboSeqKernel) UsesDesign() bool { return true }

// LoadLibraries performs no warm-up work.
func (k *CameraRiboSeqKernel) LoadLibraries(context.Context) error { return nil }

// Prepare normalizes the doubled matrix and collapses it to translational
// efficiency.
func (k *CameraRiboSeqKernel) Prepare(_ context.Context, dataset *model.Dataset, cfg *KernelConfig) (*Prepared, error) {
	prepared, err := prepareDataset(dataset, cfg, true)
	if err != nil {
		return nil, err
	}

	return collapseTranslationalEfficiency(prepared)
}

// Process runs the competitive gene set test over the collapsed matrix.
func (k *CameraRiboSeqKernel) Process(ctx context.Context, prepared *Prepared, pathways *GeneSetDB, progress ProgressFunc) (*model.PathwayTable, error) {
	return k.camera.Process(ctx, prepared, pathways, progress)
}

// GeneFoldChanges returns the translational efficiency fold change table.
func (k *CameraRiboSeqKernel) GeneFoldChanges(ctx context.Context, prepared *Prepared) (*model.Matrix, error) {
	return k.camera.GeneFoldChanges(ctx, prepared)
}

// collapseTranslationalEfficiency reduces the doubled matrix to one column
// per biological sample: the log-scale Ribo-seq value minus the matching
// RNA-seq value. The design is halved accordingly and the comparison groups
// recomputed over the collapsed columns.
func collapseTranslationalEfficiency(prepared *Prepared) (*Prepared, error) {
	matrix := prepared.Matrix

	if matrix.NCol()%2 != 0 {
		return nil, fmt.Errorf("%w: dataset %q: matched analysis requires an even column count, got %d",
			ErrInvalidDataset, prepared.Name, matrix.NCol())
	}

	half := matrix.NCol() / 2

	collapsed := &model.Matrix{
		Samples: append([]string(nil), matrix.Samples[:half]...),
		Rows:    append([]string(nil), matrix.Rows...),
		Values:  make([][]float64, matrix.NRow()),
	}

	for i, values := range matrix.Values {
		row := make([]float64, half)
		for j := 0; j < half; j++ {
			row[j] = values[half+j] - values[j]
		}

		collapsed.Values[i] = row
	}

	design := &model.Design{
		Samples:       append([]string(nil), prepared.Design.Samples[:half]...),
		Comparison:    prepared.Design.Comparison,
		AnalysisGroup: append([]string(nil), prepared.Design.AnalysisGroup[:half]...),
		Properties:    make(map[string][]string, len(prepared.Design.Properties)),
	}

	for name, values := range prepared.Design.Properties {
		if len(values) >= half {
			design.Properties[name] = append([]string(nil), values[:half]...)
		}
	}

	out := &Prepared{
		Name:   prepared.Name,
		Matrix: collapsed,
		Design: design,
		Config: prepared.Config,
	}

	out.GroupA, out.GroupB = comparisonGroups(design)

	if len(out.GroupA) == 0 || len(out.GroupB) == 0 {
		return nil, fmt.Errorf("%w: dataset %q: comparison groups are empty", ErrInvalidDataset, prepared.Name)
	}

	if prepared.Config.SampleGroups != "" {
		if err := resolvePairs(out); err != nil {
			return nil, err
		}
	}

	return out, nil
}

var _ Kernel = (*CameraRiboSeqKernel)(nil)
