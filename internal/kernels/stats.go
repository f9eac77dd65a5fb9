package kernels

import (
	"math"
	"sort"
)

// mean ignores NaN values; an all-NaN slice yields NaN.
func mean(values []float64) float64 {
	var sum float64
	var n int

	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}

		sum += v
		n++
	}

	if n == 0 {
		return math.NaN()
	}

	return sum / float64(n)
}

// variance is the sample variance, ignoring NaN values.
func variance(values []float64) float64 {
	m := mean(values)
	if math.IsNaN(m) {
		return math.NaN()
	}

	var sum float64
	var n int

	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}

		d := v - m
		sum += d * d
		n++
	}

	if n < 2 {
		return 0
	}

	return sum / float64(n-1)
}

// tStatistic is the two-sample t statistic with pooled variance. A small
// floor on the pooled standard error keeps constant genes finite.
func tStatistic(groupA, groupB []float64) float64 {
	meanA, meanB := mean(groupA), mean(groupB)
	if math.IsNaN(meanA) || math.IsNaN(meanB) {
		return 0
	}

	nA, nB := countValid(groupA), countValid(groupB)
	if nA < 2 || nB < 2 {
		return 0
	}

	pooled := ((float64(nA-1))*variance(groupA) + (float64(nB-1))*variance(groupB)) / float64(nA+nB-2)
	se := math.Sqrt(pooled * (1/float64(nA) + 1/float64(nB)))

	const seFloor = 1e-8
	if se < seFloor {
		se = seFloor
	}

	return (meanA - meanB) / se
}

func countValid(values []float64) int {
	n := 0

	for _, v := range values {
		if !math.IsNaN(v) {
			n++
		}
	}

	return n
}

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}

// zTestPValue is the two-sided p-value of a standard normal statistic.
func zTestPValue(z float64) float64 {
	p := 2 * (1 - normalCDF(math.Abs(z)))
	if p > 1 {
		p = 1
	}

	if p < 0 {
		p = 0
	}

	return p
}

// benjaminiHochberg computes FDR-adjusted p-values.
func benjaminiHochberg(pValues []float64) []float64 {
	n := len(pValues)
	if n == 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	sort.Slice(order, func(i, j int) bool {
		return pValues[order[i]] < pValues[order[j]]
	})

	adjusted := make([]float64, n)
	minSoFar := 1.0

	for rank := n - 1; rank >= 0; rank-- {
		idx := order[rank]

		value := pValues[idx] * float64(n) / float64(rank+1)
		if value < minSoFar {
			minSoFar = value
		}

		adjusted[idx] = minSoFar
	}

	return adjusted
}

// ranks returns 1-based average ranks, smallest value first. NaN values rank
// last.
func ranks(values []float64) []float64 {
	n := len(values)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := values[order[i]], values[order[j]]

		// NaN sorts last
		if math.IsNaN(a) {
			return false
		}

		if math.IsNaN(b) {
			return true
		}

		return a < b
	})

	result := make([]float64, n)

	for i := 0; i < n; {
		j := i
		for j+1 < n && values[order[j+1]] == values[order[i]] {
			j++
		}

		// average rank for ties
		avg := float64(i+j+2) / 2

		for k := i; k <= j; k++ {
			result[order[k]] = avg
		}

		i = j + 1
	}

	return result
}

// direction renders the sign of a statistic as the wire-format direction.
func direction(statistic float64) string {
	if statistic < 0 {
		return "Down"
	}

	return "Up"
}
