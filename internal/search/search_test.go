package search

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDocuments() []Document {
	return []Document{
		{
			ID:          "GSE100001",
			Source:      "grein",
			Title:       "Melanoma tumor immune infiltration",
			Species:     "Homo sapiens",
			Description: "RNA-seq of melanoma biopsies before and after checkpoint therapy.",
			Technology:  "RNA-seq",
			NumSamples:  24,
			ResourceID:  "GSE100001",
		},
		{
			ID:          "GSE100002",
			Source:      "grein",
			Title:       "Murine melanoma cell lines",
			Species:     "Mus musculus",
			Description: "Expression profiles of B16 melanoma lines.",
			Technology:  "RNA-seq",
			NumSamples:  12,
			ResourceID:  "GSE100002",
		},
		{
			ID:          "E-MTAB-0001",
			Source:      "ebi_gxa",
			Title:       "Melanoma single cell atlas",
			Species:     "Homo sapiens",
			Description: "Single cell profiling of metastatic melanoma.",
			Technology:  "scRNA-seq",
			NumSamples:  8,
			ResourceID:  "E-MTAB-0001",
		},
		{
			ID:          "GSE200001",
			Source:      "grein",
			Title:       "Cardiac fibrosis time course",
			Species:     "Homo sapiens",
			Description: "Heart tissue after infarction.",
			Technology:  "RNA-seq",
			NumSamples:  30,
			ResourceID:  "GSE200001",
		},
	}
}

func TestSearchRanksTitleHitsHigher(t *testing.T) {
	idx := NewIndex(testDocuments(), nil)

	results := idx.Search("melanoma", "")
	require.Len(t, results, 3)

	// every hit carries the query token; title hits outrank description-only
	for _, result := range results {
		assert.NotEqual(t, "GSE200001", result.ID)
	}

	assert.GreaterOrEqual(t, results[0].Score, results[len(results)-1].Score)
}

func TestSearchAndSemantics(t *testing.T) {
	idx := NewIndex(testDocuments(), nil)

	results := idx.Search("melanoma checkpoint", "")
	require.Len(t, results, 1)
	assert.Equal(t, "GSE100001", results[0].ID)

	// a token matching nothing empties the result
	assert.Empty(t, idx.Search("melanoma proteomics", ""))
}

func TestSearchSpeciesFilter(t *testing.T) {
	idx := NewIndex(testDocuments(), nil)

	results := idx.Search("melanoma", "Mus musculus")
	require.Len(t, results, 1)
	assert.Equal(t, "GSE100002", results[0].ID)

	// species matching is case-insensitive
	results = idx.Search("melanoma", "homo sapiens")
	assert.Len(t, results, 2)
}

func TestSearchEmptyQuery(t *testing.T) {
	idx := NewIndex(testDocuments(), nil)

	assert.Empty(t, idx.Search("", ""))
	assert.Empty(t, idx.Search("  ,;  ", ""))
}

func TestSpecies(t *testing.T) {
	idx := NewIndex(testDocuments(), nil)

	assert.Equal(t, []string{"Homo sapiens", "Mus musculus"}, idx.Species())
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"rna", "seq", "of", "b16", "lines"}, Tokenize("RNA-seq of B16 lines."))
	assert.Empty(t, Tokenize(""))
}

func TestTermFilter(t *testing.T) {
	dir := t.TempDir()

	whitelist := filepath.Join(dir, "whitelist.yaml")
	require.NoError(t, os.WriteFile(whitelist, []byte("- b16\n"), 0o600))

	blacklist := filepath.Join(dir, "blacklist.yaml")
	require.NoError(t, os.WriteFile(blacklist, []byte("- melanoma\n"), 0o600))

	filter, err := LoadTermFilter(whitelist, blacklist)
	require.NoError(t, err)

	idx := NewIndex(testDocuments(), filter)

	// blacklisted tokens are not indexed
	assert.Empty(t, idx.Search("melanoma", ""))

	// whitelisted tokens bypass the minimum length cut
	results := idx.Search("b16", "")
	require.Len(t, results, 1)
	assert.Equal(t, "GSE100002", results[0].ID)
}

func TestShortTokensAreDropped(t *testing.T) {
	idx := NewIndex(testDocuments(), nil)

	// "of" is shorter than the minimum token length
	assert.Empty(t, idx.Search("of", ""))
}
