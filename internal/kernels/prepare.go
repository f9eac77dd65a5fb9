package kernels

import (
	"fmt"
	"math"

	"github.com/gsakit-io/gsakit/internal/model"
)

// prepareDataset is the shared preparation pipeline: parse, resolve the
// comparison groups, normalize, filter missing values, impute, and resolve
// matched pairs when requested.
func prepareDataset(dataset *model.Dataset, cfg *KernelConfig, needsDesign bool) (*Prepared, error) {
	matrix, err := model.ParseMatrix(dataset.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %q: %v", ErrInvalidDataset, dataset.Name, err)
	}

	prepared := &Prepared{
		Name:   dataset.Name,
		Matrix: matrix,
		Design: dataset.Design,
		Config: cfg,
	}

	if dataset.Design != nil {
		if len(dataset.Design.Samples) != matrix.NCol() {
			return nil, fmt.Errorf("%w: dataset %q: design has %d samples, matrix has %d columns",
				ErrInvalidDataset, dataset.Name, len(dataset.Design.Samples), matrix.NCol())
		}

		prepared.GroupA, prepared.GroupB = comparisonGroups(dataset.Design)
	}

	if needsDesign && (len(prepared.GroupA) == 0 || len(prepared.GroupB) == 0) {
		return nil, fmt.Errorf("%w: dataset %q: comparison groups are empty", ErrInvalidDataset, dataset.Name)
	}

	if err := normalize(matrix, dataset.Type, cfg); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", dataset.Name, err)
	}

	filterMissing(prepared)
	imputeMissing(matrix)

	if cfg.SampleGroups != "" && dataset.Design != nil {
		if err := resolvePairs(prepared); err != nil {
			return nil, err
		}
	}

	return prepared, nil
}

// comparisonGroups returns the sample column indexes of the two comparison
// groups.
func comparisonGroups(design *model.Design) ([]int, []int) {
	var groupA, groupB []int

	for i, group := range design.AnalysisGroup {
		switch group {
		case design.Comparison.Group1:
			groupA = append(groupA, i)
		case design.Comparison.Group2:
			groupB = append(groupB, i)
		}
	}

	return groupA, groupB
}

// filterMissing drops rows whose missing fraction exceeds the configured
// maximum within either comparison group, or across all samples when no
// groups are defined.
func filterMissing(prepared *Prepared) {
	matrix := prepared.Matrix

	groups := [][]int{prepared.GroupA, prepared.GroupB}
	if len(prepared.GroupA) == 0 && len(prepared.GroupB) == 0 {
		all := make([]int, matrix.NCol())
		for j := range all {
			all[j] = j
		}

		groups = [][]int{all}
	}

	keptRows := matrix.Rows[:0]
	keptValues := matrix.Values[:0]

	for i := range matrix.Rows {
		if missingExceeds(matrix.Values[i], groups, prepared.Config.MaxMissingValues) {
			continue
		}

		keptRows = append(keptRows, matrix.Rows[i])
		keptValues = append(keptValues, matrix.Values[i])
	}

	matrix.Rows = keptRows
	matrix.Values = keptValues
}

func missingExceeds(values []float64, groups [][]int, maxFraction float64) bool {
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}

		missing := 0

		for _, j := range group {
			if math.IsNaN(values[j]) {
				missing++
			}
		}

		if float64(missing)/float64(len(group)) > maxFraction {
			return true
		}
	}

	return false
}

// imputeMissing replaces surviving missing values with the row mean.
func imputeMissing(matrix *model.Matrix) {
	for i := range matrix.Values {
		rowMean := mean(matrix.Values[i])
		if math.IsNaN(rowMean) {
			rowMean = 0
		}

		for j, value := range matrix.Values[i] {
			if math.IsNaN(value) {
				matrix.Values[i][j] = rowMean
			}
		}
	}
}

// resolvePairs matches samples across the comparison groups by the design
// property named in SampleGroups. Every property value must occur exactly
// once in each group.
func resolvePairs(prepared *Prepared) error {
	property, ok := prepared.Design.Properties[prepared.Config.SampleGroups]
	if !ok {
		// the property is absent from the submitted metadata: fall back
		// to an unpaired design
		prepared.Pairs = nil
		return nil
	}

	if len(property) != len(prepared.Design.Samples) {
		return fmt.Errorf("%w: dataset %q: property %q has %d values, design has %d samples",
			ErrInvalidDataset, prepared.Name, prepared.Config.SampleGroups, len(property), len(prepared.Design.Samples))
	}

	groupBByValue := make(map[string]int, len(prepared.GroupB))

	for _, j := range prepared.GroupB {
		value := property[j]
		if _, dup := groupBByValue[value]; dup {
			return pairingError(prepared, value)
		}

		groupBByValue[value] = j
	}

	pairs := make([]int, len(prepared.GroupA))
	seen := make(map[string]bool, len(prepared.GroupA))

	for i, a := range prepared.GroupA {
		value := property[a]
		if seen[value] {
			return pairingError(prepared, value)
		}

		seen[value] = true

		b, ok := groupBByValue[value]
		if !ok {
			return pairingError(prepared, value)
		}

		pairs[i] = b
	}

	if len(prepared.GroupA) != len(prepared.GroupB) {
		return fmt.Errorf("%w: dataset %q: paired design requires equally sized groups",
			ErrInvalidDataset, prepared.Name)
	}

	prepared.Pairs = pairs

	return nil
}

func pairingError(prepared *Prepared, value string) error {
	return fmt.Errorf("%w: dataset %q: sample group %q must occur exactly once in each comparison group",
		ErrInvalidDataset, prepared.Name, value)
}

// foldChangeTable builds the gene-level fold change table: the average
// log-scale difference between the comparison groups, with the per-group
// means alongside. Datasets without a comparison report the overall mean.
func foldChangeTable(prepared *Prepared) *model.Matrix {
	matrix := prepared.Matrix

	if len(prepared.GroupA) == 0 || len(prepared.GroupB) == 0 {
		table := &model.Matrix{
			Samples: []string{"avg_expression"},
			Rows:    append([]string(nil), matrix.Rows...),
			Values:  make([][]float64, matrix.NRow()),
		}

		for i := range matrix.Values {
			table.Values[i] = []float64{mean(matrix.Values[i])}
		}

		return table
	}

	table := &model.Matrix{
		Samples: []string{"logFC", "avg_group1", "avg_group2"},
		Rows:    append([]string(nil), matrix.Rows...),
		Values:  make([][]float64, matrix.NRow()),
	}

	for i := range matrix.Values {
		meanA := mean(pick(matrix.Values[i], prepared.GroupA))
		meanB := mean(pick(matrix.Values[i], prepared.GroupB))

		table.Values[i] = []float64{meanA - meanB, meanA, meanB}
	}

	return table
}

func pick(values []float64, indexes []int) []float64 {
	picked := make([]float64, len(indexes))
	for i, j := range indexes {
		picked[i] = values[j]
	}

	return picked
}
