package kernels

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsakit-io/gsakit/internal/model"
)

// testMatrix builds a small expression matrix with a clear signal: the SIG*
// genes are strongly elevated in the treated group, the BG* genes are flat.
func testMatrix() string {
	var sb strings.Builder

	sb.WriteString("\tc1\tc2\tc3\tt1\tt2\tt3\n")
	sb.WriteString("SIG1\t1.0\t1.2\t0.9\t6.1\t6.4\t5.8\n")
	sb.WriteString("SIG2\t2.1\t1.8\t2.2\t7.5\t7.2\t7.9\n")
	sb.WriteString("SIG3\t0.5\t0.8\t0.4\t5.2\t5.5\t5.1\n")
	sb.WriteString("BG1\t3.0\t3.1\t2.9\t3.2\t3.0\t2.8\n")
	sb.WriteString("BG2\t4.1\t4.0\t4.2\t4.0\t4.1\t3.9\n")
	sb.WriteString("BG3\t1.5\t1.6\t1.4\t1.5\t1.7\t1.3\n")
	sb.WriteString("BG4\t2.8\t2.6\t2.9\t2.7\t2.8\t2.6\n")
	sb.WriteString("BG5\t3.6\t3.4\t3.7\t3.5\t3.6\t3.3\n")

	return sb.String()
}

func testDesign() *model.Design {
	return &model.Design{
		Samples:       []string{"c1", "c2", "c3", "t1", "t2", "t3"},
		AnalysisGroup: []string{"control", "control", "control", "treated", "treated", "treated"},
		Comparison:    model.Comparison{Group1: "treated", Group2: "control"},
		Properties: map[string][]string{
			"patient": {"p1", "p2", "p3", "p1", "p2", "p3"},
		},
	}
}

func testDataset() *model.Dataset {
	return &model.Dataset{
		Name:   "test",
		Type:   "proteomics_int",
		Data:   testMatrix(),
		Design: testDesign(),
	}
}

func testGeneSets() *GeneSetDB {
	return &GeneSetDB{
		Release: "88",
		Sets: []GeneSet{
			{
				ID:    "P-SIG",
				Name:  "Signal pathway",
				Genes: map[string]bool{"SIG1": true, "SIG2": true, "SIG3": true},
			},
			{
				ID:    "P-BG",
				Name:  "Background pathway",
				Genes: map[string]bool{"BG1": true, "BG2": true, "BG3": true, "BG4": true},
			},
			{
				ID:      "P-DIS",
				Name:    "Disease pathway",
				Disease: true,
				Genes:   map[string]bool{"BG5": true, "BG1": true},
			},
		},
	}
}

func defaultConfig() *KernelConfig {
	return &KernelConfig{
		DiscreteNorm:           "TMM",
		ContinuousNorm:         "none",
		MaxMissingValues:       0.5,
		IncludeDiseasePathways: true,
		MinPathwaySize:         1,
		MaxPathwaySize:         1000,
	}
}

func TestLoadGeneSets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathways.tsv")
	content := "# pathway database\n" +
		"R-HSA-1\tInterferon signaling\t0\tSTAT1,STAT2,IRF9\tJAK1\n" +
		"R-HSA-2\tOncogene induced senescence\t1\tTP53,CDKN2A\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	db, err := LoadGeneSets(path, "88")
	require.NoError(t, err)
	assert.Equal(t, "88", db.Release)
	require.Len(t, db.Sets, 2)

	first := db.Sets[0]
	assert.Equal(t, "R-HSA-1", first.ID)
	assert.False(t, first.Disease)
	assert.True(t, first.Genes["STAT1"])
	assert.True(t, first.Interactors["JAK1"])

	assert.True(t, db.Sets[1].Disease)
}

func TestLoadGeneSetsRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathways.tsv")
	require.NoError(t, os.WriteFile(path, []byte("# nothing\n"), 0o600))

	_, err := LoadGeneSets(path, "88")
	assert.ErrorIs(t, err, ErrNoGeneSets)
}

func TestSelectSetsFilters(t *testing.T) {
	db := testGeneSets()
	rows := []string{"SIG1", "SIG2", "SIG3", "BG1", "BG2", "BG3", "BG4", "BG5"}

	cfg := defaultConfig()
	assert.Len(t, db.selectSets(rows, cfg), 3)

	cfg.IncludeDiseasePathways = false
	sets := db.selectSets(rows, cfg)
	require.Len(t, sets, 2)
	for _, s := range sets {
		assert.NotEqual(t, "P-DIS", s.set.ID)
	}

	cfg = defaultConfig()
	cfg.Pathways = []string{"P-SIG"}
	sets = db.selectSets(rows, cfg)
	require.Len(t, sets, 1)
	assert.Equal(t, "P-SIG", sets[0].set.ID)

	// size bounds count mapped submitted genes
	cfg = defaultConfig()
	cfg.MinPathwaySize = 3
	sets = db.selectSets(rows, cfg)
	require.Len(t, sets, 2)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	for _, name := range []string{"camera", "Camera", "camera_riboseq", "PADOG", "ssgsea", " ssGSEA "} {
		kernel, err := registry.Get(name)
		require.NoError(t, err, name)
		assert.NotNil(t, kernel)
	}

	_, err := registry.Get("gsea")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestConfigFromParameters(t *testing.T) {
	cfg := ConfigFromParameters([]model.Parameter{
		{Name: "discrete_norm_function", Value: "RLE"},
		{Name: "max_missing_values", Value: "0.25"},
		{Name: "use_interactors", Value: "True"},
		{Name: "include_disease_pathways", Value: "False"},
		{Name: "pathways", Value: "P-1, P-2"},
		{Name: "min_size", Value: "5"},
		{Name: "unknown", Value: "ignored"},
	})

	assert.Equal(t, "RLE", cfg.DiscreteNorm)
	assert.InDelta(t, 0.25, cfg.MaxMissingValues, 1e-9)
	assert.True(t, cfg.UseInteractors)
	assert.False(t, cfg.IncludeDiseasePathways)
	assert.Equal(t, []string{"P-1", "P-2"}, cfg.Pathways)
	assert.Equal(t, 5, cfg.MinPathwaySize)
}

func TestPrepareResolvesGroups(t *testing.T) {
	kernel := &CameraKernel{}

	prepared, err := kernel.Prepare(context.Background(), testDataset(), defaultConfig())
	require.NoError(t, err)

	assert.Equal(t, []int{3, 4, 5}, prepared.GroupA)
	assert.Equal(t, []int{0, 1, 2}, prepared.GroupB)
	assert.Equal(t, 8, prepared.Matrix.NRow())
}

func TestPrepareRejectsSampleMismatch(t *testing.T) {
	dataset := testDataset()
	dataset.Design.Samples = dataset.Design.Samples[:4]
	dataset.Design.AnalysisGroup = dataset.Design.AnalysisGroup[:4]

	_, err := (&CameraKernel{}).Prepare(context.Background(), dataset, defaultConfig())
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

func TestPrepareFiltersMissingValues(t *testing.T) {
	dataset := testDataset()
	// GAPPY misses two of three control values
	dataset.Data += "GAPPY\tNA\tNA\t1.0\t2.0\t2.1\t1.9\n"

	prepared, err := (&CameraKernel{}).Prepare(context.Background(), dataset, defaultConfig())
	require.NoError(t, err)

	assert.NotContains(t, prepared.Matrix.Rows, "GAPPY")
}

func TestPrepareImputesSurvivingMissingValues(t *testing.T) {
	dataset := testDataset()
	dataset.Data += "SPARSE\t1.0\t1.2\tNA\t2.0\t2.1\tNA\n"

	prepared, err := (&CameraKernel{}).Prepare(context.Background(), dataset, defaultConfig())
	require.NoError(t, err)

	require.Contains(t, prepared.Matrix.Rows, "SPARSE")

	for _, values := range prepared.Matrix.Values {
		for _, v := range values {
			assert.False(t, math.IsNaN(v))
		}
	}
}

func TestPreparePairedDesign(t *testing.T) {
	cfg := defaultConfig()
	cfg.SampleGroups = "patient"

	prepared, err := (&PadogKernel{}).Prepare(context.Background(), testDataset(), cfg)
	require.NoError(t, err)

	// t1..t3 pair with c1..c3 through the patient property
	assert.Equal(t, []int{0, 1, 2}, prepared.Pairs)
}

func TestPrepareMissingPairingPropertyFallsBackToUnpaired(t *testing.T) {
	cfg := defaultConfig()
	cfg.SampleGroups = "cell_line"

	prepared, err := (&PadogKernel{}).Prepare(context.Background(), testDataset(), cfg)
	require.NoError(t, err)
	assert.Nil(t, prepared.Pairs)
}

func TestPrepareRejectsBrokenPairing(t *testing.T) {
	cfg := defaultConfig()
	cfg.SampleGroups = "patient"

	dataset := testDataset()
	dataset.Design.Properties["patient"] = []string{"p1", "p1", "p3", "p1", "p2", "p3"}

	_, err := (&PadogKernel{}).Prepare(context.Background(), dataset, cfg)
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

func TestCameraFindsSignalPathway(t *testing.T) {
	ctx := context.Background()
	kernel := &CameraKernel{}

	prepared, err := kernel.Prepare(ctx, testDataset(), defaultConfig())
	require.NoError(t, err)

	table, err := kernel.Process(ctx, prepared, testGeneSets(), nil)
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)

	// the signal pathway ranks first, upregulated in the treated group
	top := table.Rows[0]
	assert.Equal(t, "P-SIG", top.Pathway)
	assert.Equal(t, "Up", top.Direction)
	assert.Less(t, top.PValue, 0.05)

	for _, row := range table.Rows {
		assert.GreaterOrEqual(t, row.FDR, row.PValue)
		assert.LessOrEqual(t, row.FDR, 1.0)
	}
}

// riboSeqDataset builds a matched dataset as staged at admission: RNA-seq
// counts in the first four columns, Ribo-seq counts of the same samples in
// the last four, the design covering all eight columns. The SIG* genes are
// translationally induced in the treated group while their transcription
// stays flat.
func riboSeqDataset() *model.Dataset {
	var sb strings.Builder

	sb.WriteString("\trna_c1\trna_c2\trna_t1\trna_t2\tribo_c1\tribo_c2\tribo_t1\tribo_t2\n")
	sb.WriteString("SIG1\t100\t110\t105\t95\t100\t105\t480\t520\n")
	sb.WriteString("SIG2\t200\t190\t210\t205\t210\t195\t900\t880\n")
	sb.WriteString("SIG3\t150\t160\t155\t145\t150\t158\t700\t660\n")
	sb.WriteString("BG1\t300\t310\t290\t305\t300\t295\t310\t290\n")
	sb.WriteString("BG2\t120\t115\t125\t118\t118\t122\t116\t124\n")
	sb.WriteString("BG3\t80\t85\t78\t82\t82\t80\t84\t79\n")
	sb.WriteString("BG4\t140\t150\t145\t148\t145\t142\t150\t144\n")
	sb.WriteString("BG5\t250\t240\t255\t245\t248\t252\t246\t250\n")

	return &model.Dataset{
		Name: "matched",
		Type: "ribo_seq",
		Data: sb.String(),
		Design: &model.Design{
			Samples:       []string{"c1", "c2", "t1", "t2", "c1", "c2", "t1", "t2"},
			AnalysisGroup: []string{"control", "control", "treated", "treated", "control", "control", "treated", "treated"},
			Comparison:    model.Comparison{Group1: "treated", Group2: "control"},
			Properties:    map[string][]string{},
		},
	}
}

func TestCameraPrepareCollapsesRiboSeq(t *testing.T) {
	prepared, err := (&CameraKernel{}).Prepare(context.Background(), riboSeqDataset(), defaultConfig())
	require.NoError(t, err)

	// one column per biological sample, not per measurement
	assert.Equal(t, []string{"rna_c1", "rna_c2", "rna_t1", "rna_t2"}, prepared.Matrix.Samples)
	assert.Len(t, prepared.Design.Samples, 4)
	assert.Equal(t, []int{2, 3}, prepared.GroupA)
	assert.Equal(t, []int{0, 1}, prepared.GroupB)
}

func TestCameraRiboSeqFindsTranslationalSignal(t *testing.T) {
	ctx := context.Background()
	kernel := &CameraRiboSeqKernel{}

	prepared, err := kernel.Prepare(ctx, riboSeqDataset(), defaultConfig())
	require.NoError(t, err)

	table, err := kernel.Process(ctx, prepared, testGeneSets(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, table.Rows)

	assert.Equal(t, "P-SIG", table.Rows[0].Pathway)
	assert.Equal(t, "Up", table.Rows[0].Direction)
}

func TestRiboSeqRejectsOddColumnCount(t *testing.T) {
	dataset := &model.Dataset{
		Name: "odd",
		Type: "ribo_seq",
		Data: "\ts1\ts2\ts3\nSIG1\t1\t2\t3\nBG1\t4\t5\t6\n",
		Design: &model.Design{
			Samples:       []string{"s1", "s2", "s3"},
			AnalysisGroup: []string{"control", "control", "treated"},
			Comparison:    model.Comparison{Group1: "treated", Group2: "control"},
		},
	}

	_, err := (&CameraRiboSeqKernel{}).Prepare(context.Background(), dataset, defaultConfig())
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

func TestPadogFindsSignalPathway(t *testing.T) {
	ctx := context.Background()
	kernel := &PadogKernel{}

	prepared, err := kernel.Prepare(ctx, testDataset(), defaultConfig())
	require.NoError(t, err)

	table, err := kernel.Process(ctx, prepared, testGeneSets(), nil)
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, "P-SIG", table.Rows[0].Pathway)
	assert.Equal(t, "Up", table.Rows[0].Direction)
}

func TestSSGSEAWithComparison(t *testing.T) {
	ctx := context.Background()
	kernel := &SSGSEAKernel{}

	prepared, err := kernel.Prepare(ctx, testDataset(), defaultConfig())
	require.NoError(t, err)

	table, err := kernel.Process(ctx, prepared, testGeneSets(), nil)
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, "P-SIG", table.Rows[0].Pathway)
	assert.Equal(t, "Up", table.Rows[0].Direction)
}

func TestSSGSEAWithoutDesign(t *testing.T) {
	ctx := context.Background()
	kernel := &SSGSEAKernel{}

	dataset := testDataset()
	dataset.Design = nil

	prepared, err := kernel.Prepare(ctx, dataset, defaultConfig())
	require.NoError(t, err)

	table, err := kernel.Process(ctx, prepared, testGeneSets(), nil)
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)

	// descriptive mode: no significance claims
	for _, row := range table.Rows {
		assert.InDelta(t, 1.0, row.PValue, 1e-9)
	}
}

func TestSSGSEAPathwayExpression(t *testing.T) {
	ctx := context.Background()
	kernel := &SSGSEAKernel{}

	prepared, err := kernel.Prepare(ctx, testDataset(), defaultConfig())
	require.NoError(t, err)

	expression, err := kernel.PathwayExpression(ctx, prepared, testGeneSets())
	require.NoError(t, err)
	assert.Equal(t, 3, expression.NRow())
	assert.Equal(t, 6, expression.NCol())

	// the signal pathway scores higher in treated samples
	sigRow := -1

	for i, row := range expression.Rows {
		if row == "P-SIG" {
			sigRow = i
		}
	}

	require.GreaterOrEqual(t, sigRow, 0)

	treated := mean(expression.Values[sigRow][3:])
	control := mean(expression.Values[sigRow][:3])
	assert.Greater(t, treated, control)
}

func TestGeneFoldChanges(t *testing.T) {
	ctx := context.Background()
	kernel := &CameraKernel{}

	prepared, err := kernel.Prepare(ctx, testDataset(), defaultConfig())
	require.NoError(t, err)

	table, err := kernel.GeneFoldChanges(ctx, prepared)
	require.NoError(t, err)
	assert.Equal(t, []string{"logFC", "avg_group1", "avg_group2"}, table.Samples)

	// SIG1 is up in treated (group1)
	assert.Greater(t, table.Values[0][0], 3.0)
}

func TestBenjaminiHochberg(t *testing.T) {
	adjusted := benjaminiHochberg([]float64{0.01, 0.04, 0.03, 0.005})
	require.Len(t, adjusted, 4)

	// monotone in the sorted order and never below the raw p-value
	raw := []float64{0.01, 0.04, 0.03, 0.005}
	for i := range raw {
		assert.GreaterOrEqual(t, adjusted[i], raw[i])
		assert.LessOrEqual(t, adjusted[i], 1.0)
	}

	// the smallest p-value gets the smallest adjusted value
	assert.Equal(t, adjusted[3], minFloat(adjusted))
}

func minFloat(values []float64) float64 {
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}

	return min
}

func TestRanks(t *testing.T) {
	assert.Equal(t, []float64{2, 1, 3}, ranks([]float64{5, 2, 9}))

	// ties share the average rank
	assert.Equal(t, []float64{1.5, 1.5, 3}, ranks([]float64{1, 1, 2}))
}

func TestNormalizeCountsTMM(t *testing.T) {
	matrix, err := model.ParseMatrix("\ts1\ts2\nG1\t100\t200\nG2\t300\t600\n")
	require.NoError(t, err)

	require.NoError(t, normalizeCounts(matrix, "TMM"))

	// s2 has twice the library size; after scaling the profiles align
	assert.InDelta(t, matrix.Values[0][0], matrix.Values[0][1], 0.01)
	assert.InDelta(t, matrix.Values[1][0], matrix.Values[1][1], 0.01)
}

func TestNormalizeContinuousQuantile(t *testing.T) {
	matrix, err := model.ParseMatrix("\ts1\ts2\nG1\t1\t10\nG2\t2\t20\nG3\t3\t30\n")
	require.NoError(t, err)

	require.NoError(t, normalizeContinuous(matrix, "quantile"))

	// after quantile normalization both columns share the same profile
	for i := range matrix.Values {
		assert.InDelta(t, matrix.Values[i][0], matrix.Values[i][1], 1e-9)
	}
}

func TestNormalizeRejectsUnknownMethod(t *testing.T) {
	matrix, err := model.ParseMatrix("\ts1\nG1\t1\n")
	require.NoError(t, err)

	assert.Error(t, normalizeCounts(matrix, "median"))
	assert.Error(t, normalizeContinuous(matrix, "median"))
}
