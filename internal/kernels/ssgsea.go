package kernels

import (
	"context"
	"math"
	"sort"

	"github.com/gsakit-io/gsakit/internal/model"
)

// rank weighting exponent of the enrichment score
const ssgseaAlpha = 0.25

// SSGSEAKernel implements single-sample gene set enrichment: every sample
// receives one enrichment score per pathway. When a comparison design is
// present the scores are additionally tested between the groups; without a
// design the per-sample scores themselves are the result.
type SSGSEAKernel struct{}

// Name returns the catalog method name.
func (k *SSGSEAKernel) Name() string { return "ssGSEA" }

// UsesDesign reports that ssGSEA runs with or without a design.
func (k *SSGSEAKernel) UsesDesign() bool { return false }

// LoadLibraries performs no warm-up work.
func (k *SSGSEAKernel) LoadLibraries(context.Context) error { return nil }

// Prepare parses and normalizes a dataset for ssGSEA.
func (k *SSGSEAKernel) Prepare(_ context.Context, dataset *model.Dataset, cfg *KernelConfig) (*Prepared, error) {
	return prepareDataset(dataset, cfg, false)
}

// Process computes the per-sample enrichment scores and, when a comparison
// is defined, tests them between the groups.
func (k *SSGSEAKernel) Process(ctx context.Context, prepared *Prepared, pathways *GeneSetDB, progress ProgressFunc) (*model.PathwayTable, error) {
	if progress == nil {
		progress = func(string, float64) {}
	}

	sets := pathways.selectSets(prepared.Matrix.Rows, prepared.Config)
	if len(sets) == 0 {
		return &model.PathwayTable{}, nil
	}

	progress("computing enrichment scores", 0.2)

	scores, err := k.enrichmentScores(ctx, prepared, sets, progress)
	if err != nil {
		return nil, err
	}

	progress("testing pathway scores", 0.8)

	hasComparison := len(prepared.GroupA) > 0 && len(prepared.GroupB) > 0

	table := &model.PathwayTable{Rows: make([]model.PathwayRow, 0, len(sets))}
	pValues := make([]float64, 0, len(sets))

	for i, s := range sets {
		row := model.PathwayRow{Pathway: s.set.ID, Name: s.set.Name}

		if hasComparison {
			t := tStatistic(pick(scores[i], prepared.GroupA), pick(scores[i], prepared.GroupB))
			row.PValue = zTestPValue(t)
			row.Direction = direction(t)
		} else {
			// without a comparison the scores are descriptive
			row.PValue = 1
			row.Direction = direction(mean(scores[i]))
		}

		table.Rows = append(table.Rows, row)
		pValues = append(pValues, row.PValue)
	}

	applyFDR(table, pValues)
	sortByPValue(table)

	progress("enrichment complete", 1)

	return table, nil
}

// GeneFoldChanges returns the per-gene fold change table, or the mean
// expression per gene when the dataset has no comparison.
func (k *SSGSEAKernel) GeneFoldChanges(_ context.Context, prepared *Prepared) (*model.Matrix, error) {
	return foldChangeTable(prepared), nil
}

// PathwayExpression returns the pathway-by-sample enrichment score matrix,
// the primary ssGSEA output surfaced alongside the result table.
func (k *SSGSEAKernel) PathwayExpression(ctx context.Context, prepared *Prepared, pathways *GeneSetDB) (*model.Matrix, error) {
	sets := pathways.selectSets(prepared.Matrix.Rows, prepared.Config)

	scores, err := k.enrichmentScores(ctx, prepared, sets, nil)
	if err != nil {
		return nil, err
	}

	expression := &model.Matrix{
		Samples: append([]string(nil), prepared.Matrix.Samples...),
		Rows:    make([]string, len(sets)),
		Values:  scores,
	}

	for i, s := range sets {
		expression.Rows[i] = s.set.ID
	}

	return expression, nil
}

// enrichmentScores computes the score of every selected set in every sample.
func (k *SSGSEAKernel) enrichmentScores(ctx context.Context, prepared *Prepared, sets []selected, progress ProgressFunc) ([][]float64, error) {
	matrix := prepared.Matrix

	scores := make([][]float64, len(sets))
	for i := range scores {
		scores[i] = make([]float64, matrix.NCol())
	}

	for sample := 0; sample < matrix.NCol(); sample++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		column := columnValues(matrix, sample)
		sampleRanks := ranks(column)

		for i, s := range sets {
			scores[i][sample] = enrichmentScore(sampleRanks, s.rows)
		}

		if progress != nil && matrix.NCol() > 4 && sample%(matrix.NCol()/4) == 0 {
			progress("computing enrichment scores", 0.2+0.6*float64(sample)/float64(matrix.NCol()))
		}
	}

	return scores, nil
}

// enrichmentScore is the weighted ECDF difference between a set's genes and
// the remaining genes within one sample's expression ranking.
func enrichmentScore(sampleRanks []float64, setRows []int) float64 {
	n := len(sampleRanks)
	if n == 0 || len(setRows) == 0 || len(setRows) >= n {
		return 0
	}

	inSet := make(map[int]bool, len(setRows))
	for _, row := range setRows {
		inSet[row] = true
	}

	// order rows by descending rank (highest expression first)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	sort.Slice(order, func(i, j int) bool {
		return sampleRanks[order[i]] > sampleRanks[order[j]]
	})

	var weightTotal float64

	for _, row := range setRows {
		weightTotal += math.Pow(sampleRanks[row], ssgseaAlpha)
	}

	if weightTotal == 0 {
		return 0
	}

	missTotal := float64(n - len(setRows))

	var score, hitCum, missCum float64

	for _, row := range order {
		if inSet[row] {
			hitCum += math.Pow(sampleRanks[row], ssgseaAlpha) / weightTotal
		} else {
			missCum += 1 / missTotal
		}

		score += hitCum - missCum
	}

	return score / float64(n)
}

var (
	_ Kernel           = (*SSGSEAKernel)(nil)
	_ PathwayExpressor = (*SSGSEAKernel)(nil)
)
