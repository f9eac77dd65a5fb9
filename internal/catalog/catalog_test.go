package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsakit-io/gsakit/internal/model"
)

func TestMethodsIncludeGlobalParameters(t *testing.T) {
	methods := Methods()
	require.Len(t, methods, 3)

	for _, method := range methods {
		names := make(map[string]bool)
		for _, parameter := range method.Parameters {
			names[parameter.Name] = true
		}

		// global parameters are prepended to every method
		assert.True(t, names["use_interactors"], "%s misses use_interactors", method.Name)
		assert.True(t, names["create_reports"], "%s misses create_reports", method.Name)
		assert.True(t, names["email"], "%s misses email", method.Name)
		assert.True(t, names["max_missing_values"], "%s misses max_missing_values", method.Name)
	}
}

func TestMethodByNameIsCaseInsensitive(t *testing.T) {
	method, ok := MethodByName("padog")
	require.True(t, ok)
	assert.Equal(t, "PADOG", method.Name)

	method, ok = MethodByName(" CAMERA ")
	require.True(t, ok)
	assert.Equal(t, "Camera", method.Name)

	_, ok = MethodByName("gsea")
	assert.False(t, ok)
}

func TestMethodsAreIsolatedCopies(t *testing.T) {
	first := Methods()
	first[0].Parameters[0].Name = "mutated"

	second := Methods()
	assert.Equal(t, "use_interactors", second[0].Parameters[0].Name)
}

func TestDataTypes(t *testing.T) {
	types := DataTypes()
	assert.Len(t, types, 6)

	dataType, ok := DataTypeByID(TypeRiboSeq)
	require.True(t, ok)
	assert.Equal(t, "Ribo-seq", dataType.Name)

	_, ok = DataTypeByID("metabolomics")
	assert.False(t, ok)
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name      string
		parameter Parameter
		raw       string
		want      string
		wantErr   bool
	}{
		{name: "valid int", parameter: Parameter{Name: "min_size", Type: TypeInt}, raw: "10", want: "10"},
		{name: "invalid int", parameter: Parameter{Name: "min_size", Type: TypeInt}, raw: "ten", wantErr: true},
		{name: "valid float", parameter: Parameter{Name: "max_missing_values", Type: TypeFloat}, raw: "0.5", want: "0.5"},
		{name: "invalid float", parameter: Parameter{Name: "max_missing_values", Type: TypeFloat}, raw: "half", wantErr: true},
		{name: "valid bool", parameter: Parameter{Name: "create_reports", Type: TypeBool}, raw: "True", want: "True"},
		{name: "invalid bool", parameter: Parameter{Name: "create_reports", Type: TypeBool}, raw: "maybe", wantErr: true},
		{name: "trims whitespace", parameter: Parameter{Name: "email", Type: TypeString}, raw: " a@b.org ", want: "a@b.org"},
		{
			name:      "enum member",
			parameter: Parameter{Name: "discrete_norm_function", Type: TypeString, Values: []string{"TMM", "RLE", "none"}},
			raw:       "RLE",
			want:      "RLE",
		},
		{
			name:      "enum violation",
			parameter: Parameter{Name: "discrete_norm_function", Type: TypeString, Values: []string{"TMM", "RLE", "none"}},
			raw:       "median",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceValue(&tt.parameter, tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParameter)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestValidateAnalysisParameters(t *testing.T) {
	method, ok := MethodByName("PADOG")
	require.True(t, ok)

	// dataset-scoped parameters are accepted at the analysis level as defaults
	warnings, err := ValidateAnalysisParameters(method, []model.Parameter{
		{Name: "use_interactors", Value: "true"},
		{Name: "discrete_norm_function", Value: "RLE"},
		{Name: "max_missing_values", Value: "0.25"},
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	// unknown parameters warn but do not fail
	warnings, err = ValidateAnalysisParameters(method, []model.Parameter{
		{Name: "permutations", Value: "1000"},
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "permutations")

	// enum violations fail
	_, err = ValidateAnalysisParameters(method, []model.Parameter{
		{Name: "discrete_norm_function", Value: "median"},
	})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestValidateDatasetParameters(t *testing.T) {
	method, ok := MethodByName("PADOG")
	require.True(t, ok)

	warnings, err := ValidateDatasetParameters(method, "proteomics", []model.Parameter{
		{Name: "continuous_norm_function", Value: "quantile"},
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	// analysis-scoped parameters cannot be overridden per dataset
	warnings, err = ValidateDatasetParameters(method, "proteomics", []model.Parameter{
		{Name: "use_interactors", Value: "true"},
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "use_interactors")

	// invalid values name the dataset
	_, err = ValidateDatasetParameters(method, "proteomics", []model.Parameter{
		{Name: "max_missing_values", Value: "lots"},
	})
	require.ErrorIs(t, err, ErrInvalidParameter)
	assert.Contains(t, err.Error(), "proteomics")
}

func TestDefaultParametersExcludeCommonScope(t *testing.T) {
	method, ok := MethodByName("ssGSEA")
	require.True(t, ok)

	defaults := DefaultParameters(method)

	names := make(map[string]string)
	for _, parameter := range defaults {
		names[parameter.Name] = parameter.Value
	}

	assert.Equal(t, "1", names["min_size"])
	assert.Equal(t, "1000", names["max_size"])
	assert.NotContains(t, names, "create_reports")
	assert.NotContains(t, names, "email")
}

func TestLoadDatasourcesBuiltins(t *testing.T) {
	sources, err := LoadDatasources("")
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "example_datasets", sources[0].ID)
	assert.Equal(t, "grein", sources[1].ID)
}

func TestLoadDatasourcesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasources.yaml")
	content := `datasources:
  - id: expression_atlas
    name: Expression Atlas
    description: Curated cross-species expression datasets.
    url: https://www.ebi.ac.uk/gxa/
    parameters:
      - name: dataset_id
        display_name: Dataset id
        type: string
        required: true
        description: The experiment accession.
  - id: grein
    name: GREIN (mirror)
    description: Mirrored GREIN instance.
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	sources, err := LoadDatasources(path)
	require.NoError(t, err)
	require.Len(t, sources, 3)

	// file entries can replace built-in descriptors
	grein := sources[datasourceIndex(sources, "grein")]
	assert.Equal(t, "GREIN (mirror)", grein.Name)

	atlas := sources[datasourceIndex(sources, "expression_atlas")]
	assert.Equal(t, "Expression Atlas", atlas.Name)
	require.Len(t, atlas.Parameters, 1)
	assert.True(t, atlas.Parameters[0].Required)
}

func TestLoadDatasourcesRejectsMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasources.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datasources:\n  - name: nameless\n"), 0o600))

	_, err := LoadDatasources(path)
	assert.Error(t, err)
}
