package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMatrix = "\tSample1\tSample2\tSample3\n" +
	"CD19\t10\t20\t5\n" +
	"MS4A1\t8.5\t12\t4\n" +
	"MITF\t0\t1\t2\n"

func TestParseMatrix(t *testing.T) {
	matrix, err := ParseMatrix(sampleMatrix)
	require.NoError(t, err)

	assert.Equal(t, []string{"Sample1", "Sample2", "Sample3"}, matrix.Samples)
	assert.Equal(t, []string{"CD19", "MS4A1", "MITF"}, matrix.Rows)
	assert.Equal(t, 3, matrix.NCol())
	assert.Equal(t, 3, matrix.NRow())
	assert.InDelta(t, 8.5, matrix.Values[1][0], 1e-9)
}

func TestParseMatrixErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		err  error
	}{
		{name: "empty", data: "", err: ErrEmptyMatrix},
		{name: "header only", data: "\tSample1\tSample2\n", err: ErrEmptyMatrix},
		{name: "ragged row", data: "\tSample1\tSample2\nCD19\t1\n", err: ErrRaggedMatrix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMatrix(tt.data)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestParseMatrixNonNumericValue(t *testing.T) {
	_, err := ParseMatrix("\tSample1\nCD19\tabc\n")
	assert.Error(t, err)
}

func TestMatrixRoundTrip(t *testing.T) {
	matrix, err := ParseMatrix(sampleMatrix)
	require.NoError(t, err)

	again, err := ParseMatrix(matrix.Encode())
	require.NoError(t, err)

	assert.Equal(t, matrix, again)
}

func TestPathwayTableRoundTrip(t *testing.T) {
	table := &PathwayTable{Rows: []PathwayRow{
		{Pathway: "R-HSA-1280218", Name: "Adaptive Immune System", Direction: "up", FDR: 0.01, PValue: 0.001},
		{Pathway: "R-HSA-168256", Name: "Immune System", Direction: "down", FDR: 0.2, PValue: 0.05},
	}}

	again, err := ParsePathwayTable(table.Encode())
	require.NoError(t, err)

	assert.Equal(t, table, again)
}

func TestParsePathwayTableMissingColumn(t *testing.T) {
	_, err := ParsePathwayTable("Pathway\tDirection\tFDR\nR-HSA-1\tup\t0.1\n")
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestAnalysisInputRoundTrip(t *testing.T) {
	input := AnalysisInput{
		MethodName: "Camera",
		Datasets: []Dataset{
			{
				Name: "melanoma",
				Type: "rnaseq_counts",
				Data: sampleMatrix,
				Design: &Design{
					Samples:       []string{"Sample1", "Sample2", "Sample3"},
					Comparison:    Comparison{Group1: "control", Group2: "treated"},
					AnalysisGroup: []string{"control", "treated", "control"},
					Properties:    map[string][]string{"patient.id": {"p1", "p2", "p1"}},
				},
				Parameters: []Parameter{{Name: "discrete_norm_function", Value: "TMM"}},
			},
		},
		Parameters: []Parameter{{Name: "max_missing_values", Value: "0.5"}},
	}

	data, err := json.Marshal(input)
	require.NoError(t, err)

	var decoded AnalysisInput
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, input, decoded)
}

func TestDesignUnmarshalCollectsCovariates(t *testing.T) {
	payload := `{
		"samples": ["a", "b"],
		"comparison": {"group1": "x", "group2": "y"},
		"analysisGroup": ["x", "y"],
		"age": ["63", "71"],
		"notAnArray": 5
	}`

	var design Design
	require.NoError(t, json.Unmarshal([]byte(payload), &design))

	assert.Equal(t, []string{"63", "71"}, design.Properties["age"])
	assert.NotContains(t, design.Properties, "notAnArray")
	assert.Equal(t, "x", design.Comparison.Group1)
}

func TestEffectiveParameters(t *testing.T) {
	analysis := []Parameter{
		{Name: "discrete_norm_function", Value: "TMM"},
		{Name: "max_missing_values", Value: "0.5"},
	}
	dataset := []Parameter{{Name: "discrete_norm_function", Value: "RLE"}}

	merged := EffectiveParameters(analysis, dataset)

	value, ok := ParameterValue(merged, "discrete_norm_function")
	require.True(t, ok)
	assert.Equal(t, "RLE", value)

	value, ok = ParameterValue(merged, "max_missing_values")
	require.True(t, ok)
	assert.Equal(t, "0.5", value)
}

func TestBoolParameter(t *testing.T) {
	params := []Parameter{
		{Name: "create_reports", Value: "True"},
		{Name: "use_interactors", Value: "garbage"},
	}

	assert.True(t, BoolParameter(params, "create_reports", false))
	assert.False(t, BoolParameter(params, "use_interactors", false))
	assert.True(t, BoolParameter(params, "missing", true))
}
