package kernels

import (
	"context"
	"math"

	"github.com/gsakit-io/gsakit/internal/model"
)

// PadogKernel implements a weighted gene set test in the spirit of the PADOG
// method: genes that appear in many pathways are down-weighed, so pathways
// driven by specific genes rank higher than pathways riding on promiscuous
// housekeeping signal.
type PadogKernel struct{}

// Name returns the catalog method name.
func (k *PadogKernel) Name() string { return "PADOG" }

// UsesDesign reports that PADOG requires a comparison design.
func (k *PadogKernel) UsesDesign() bool { return true }

// LoadLibraries performs no warm-up work.
func (k *PadogKernel) LoadLibraries(context.Context) error { return nil }

// Prepare parses and normalizes a dataset for PADOG.
func (k *PadogKernel) Prepare(_ context.Context, dataset *model.Dataset, cfg *KernelConfig) (*Prepared, error) {
	return prepareDataset(dataset, cfg, true)
}

// Process runs the down-weighted gene set test.
func (k *PadogKernel) Process(ctx context.Context, prepared *Prepared, pathways *GeneSetDB, progress ProgressFunc) (*model.PathwayTable, error) {
	if progress == nil {
		progress = func(string, float64) {}
	}

	progress("computing gene statistics", 0.1)

	statistics := geneStatistics(prepared)

	sets := pathways.selectSets(prepared.Matrix.Rows, prepared.Config)
	if len(sets) == 0 {
		return &model.PathwayTable{}, nil
	}

	// weight = 1/sqrt(frequency): a gene in one pathway counts full, a
	// gene in four pathways counts half
	frequency := geneFrequency(sets, prepared.Matrix.NRow())

	weights := make([]float64, len(frequency))
	for i, f := range frequency {
		if f > 0 {
			weights[i] = 1 / math.Sqrt(float64(f))
		}
	}

	// null distribution: weighted absolute statistics over all genes that
	// appear in at least one pathway
	var nullSum, nullSquares float64
	var nullCount int

	for i, w := range weights {
		if w == 0 {
			continue
		}

		weighted := w * math.Abs(statistics[i])
		nullSum += weighted
		nullSquares += weighted * weighted
		nullCount++
	}

	if nullCount < 2 {
		return &model.PathwayTable{}, nil
	}

	nullMean := nullSum / float64(nullCount)
	nullSD := math.Sqrt((nullSquares - nullSum*nullSum/float64(nullCount)) / float64(nullCount-1))

	const sdFloor = 1e-8
	if nullSD < sdFloor {
		nullSD = sdFloor
	}

	progress("testing gene sets", 0.4)

	table := &model.PathwayTable{Rows: make([]model.PathwayRow, 0, len(sets))}
	pValues := make([]float64, 0, len(sets))

	for i, s := range sets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var weightedSum, signedSum float64

		for _, row := range s.rows {
			weightedSum += weights[row] * math.Abs(statistics[row])
			signedSum += weights[row] * statistics[row]
		}

		setScore := weightedSum / float64(len(s.rows))

		// one-sided: only enrichment above the null mean is significant
		z := (setScore - nullMean) * math.Sqrt(float64(len(s.rows))) / nullSD

		p := 1 - normalCDF(z)
		if p > 1 {
			p = 1
		}

		table.Rows = append(table.Rows, model.PathwayRow{
			Pathway:   s.set.ID,
			Name:      s.set.Name,
			Direction: direction(signedSum),
			PValue:    p,
		})
		pValues = append(pValues, p)

		if len(sets) > 10 && i%(len(sets)/10) == 0 {
			progress("testing gene sets", 0.4+0.5*float64(i)/float64(len(sets)))
		}
	}

	applyFDR(table, pValues)
	sortByPValue(table)

	progress("gene set testing complete", 1)

	return table, nil
}

// GeneFoldChanges returns the per-gene fold change table.
func (k *PadogKernel) GeneFoldChanges(_ context.Context, prepared *Prepared) (*model.Matrix, error) {
	return foldChangeTable(prepared), nil
}

var _ Kernel = (*PadogKernel)(nil)
