package kernels

import (
	"context"
	"math"
	"sort"

	"github.com/gsakit-io/gsakit/internal/model"
)

// CameraKernel implements a competitive gene set test in the spirit of the
// limma camera method: per-gene moderated statistics are compared between a
// pathway's genes and the remaining genes.
type CameraKernel struct{}

// Name returns the catalog method name.
func (k *CameraKernel) Name() string { return "Camera" }

// UsesDesign reports that camera requires a comparison design.
func (k *CameraKernel) UsesDesign() bool { return true }

// LoadLibraries performs no warm-up work.
func (k *CameraKernel) LoadLibraries(context.Context) error { return nil }

// Prepare parses and normalizes a dataset for camera. Matched Ribo-seq
// datasets are routed through the translational efficiency variant.
func (k *CameraKernel) Prepare(ctx context.Context, dataset *model.Dataset, cfg *KernelConfig) (*Prepared, error) {
	if dataset.Type == riboSeqType {
		variant := &CameraRiboSeqKernel{}
		return variant.Prepare(ctx, dataset, cfg)
	}

	return prepareDataset(dataset, cfg, true)
}

// Process runs the competitive gene set test.
func (k *CameraKernel) Process(ctx context.Context, prepared *Prepared, pathways *GeneSetDB, progress ProgressFunc) (*model.PathwayTable, error) {
	if progress == nil {
		progress = func(string, float64) {}
	}

	progress("computing gene statistics", 0.1)

	statistics := geneStatistics(prepared)

	sets := pathways.selectSets(prepared.Matrix.Rows, prepared.Config)
	if len(sets) == 0 {
		return &model.PathwayTable{}, nil
	}

	overallMean := mean(statistics)
	overallSD := math.Sqrt(variance(statistics))

	const sdFloor = 1e-8
	if overallSD < sdFloor {
		overallSD = sdFloor
	}

	progress("testing gene sets", 0.4)

	table := &model.PathwayTable{Rows: make([]model.PathwayRow, 0, len(sets))}
	pValues := make([]float64, 0, len(sets))

	for i, s := range sets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		setStats := make([]float64, len(s.rows))
		for j, row := range s.rows {
			setStats[j] = statistics[row]
		}

		setMean := mean(setStats)

		// competitive z score of the set mean against the gene population
		z := (setMean - overallMean) * math.Sqrt(float64(len(setStats))) / overallSD
		p := zTestPValue(z)

		table.Rows = append(table.Rows, model.PathwayRow{
			Pathway:   s.set.ID,
			Name:      s.set.Name,
			Direction: direction(setMean),
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
func (k *CameraKernel) GeneFoldChanges(_ context.Context, prepared *Prepared) (*model.Matrix, error) {
	return foldChangeTable(prepared), nil
}

// geneStatistics computes the per-gene comparison statistic: a paired t
// statistic when the design is matched, a pooled two-sample t statistic
// otherwise.
func geneStatistics(prepared *Prepared) []float64 {
	matrix := prepared.Matrix
	statistics := make([]float64, matrix.NRow())

	for i := range matrix.Values {
		if len(prepared.Pairs) > 0 {
			statistics[i] = pairedStatistic(matrix.Values[i], prepared.GroupA, prepared.Pairs)
		} else {
			statistics[i] = tStatistic(
				pick(matrix.Values[i], prepared.GroupA),
				pick(matrix.Values[i], prepared.GroupB))
		}
	}

	return statistics
}

// pairedStatistic is the one-sample t statistic of the matched differences.
func pairedStatistic(values []float64, groupA, pairs []int) float64 {
	differences := make([]float64, len(groupA))
	for i, a := range groupA {
		differences[i] = values[a] - values[pairs[i]]
	}

	m := mean(differences)
	sd := math.Sqrt(variance(differences))

	const sdFloor = 1e-8
	if sd < sdFloor {
		sd = sdFloor
	}

	return m * math.Sqrt(float64(len(differences))) / sd
}

// applyFDR fills in Benjamini-Hochberg adjusted p-values.
func applyFDR(table *model.PathwayTable, pValues []float64) {
	adjusted := benjaminiHochberg(pValues)
	for i := range table.Rows {
		table.Rows[i].FDR = adjusted[i]
	}
}

// sortByPValue orders rows by significance, ties by pathway id.
func sortByPValue(table *model.PathwayTable) {
	sort.Slice(table.Rows, func(i, j int) bool {
		if table.Rows[i].PValue != table.Rows[j].PValue {
			return table.Rows[i].PValue < table.Rows[j].PValue
		}

		return table.Rows[i].Pathway < table.Rows[j].Pathway
	})
}

var _ Kernel = (*CameraKernel)(nil)
