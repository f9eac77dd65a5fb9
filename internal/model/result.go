package model

type (
	// DatasetResult holds the pathway matrix (and optionally the per-gene
	// fold changes) produced for one submitted dataset. All matrices are
	// transmitted as tab-delimited strings.
	DatasetResult struct {
		Name        string `json:"name"`
		Pathways    string `json:"pathways"`
		FoldChanges string `json:"foldChanges,omitempty"`
		// PathwayExpression carries the pathway-by-sample expression
		// matrix for methods that score individual samples (ssGSEA).
		PathwayExpression string `json:"pathwayExpression,omitempty"`
	}

	// ReactomeLink points to an external pathway browser visualization of
	// the result.
	ReactomeLink struct {
		URL         string `json:"url"`
		Name        string `json:"name"`
		Token       string `json:"token"`
		Description string `json:"description,omitempty"`
	}

	// Mapping records how one submitted identifier was mapped to pathway
	// database identifiers.
	Mapping struct {
		Identifier string   `json:"identifier"`
		MappedTo   []string `json:"mapsTo"`
	}

	// AnalysisResult is the immutable outcome of a completed analysis.
	// Release identifies the pathway database version the analysis ran
	// against.
	AnalysisResult struct {
		Release       string         `json:"release"`
		Results       []DatasetResult `json:"results"`
		ReactomeLinks []ReactomeLink `json:"reactomeLinks,omitempty"`
		Mappings      []Mapping      `json:"mappings,omitempty"`
	}
)
