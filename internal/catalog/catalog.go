// Package catalog holds the static service catalog: the gene set analysis
// methods with their parameter declarations, the supported expression data
// types, and the external datasource descriptors.
//
// The method and type catalogs are compiled in; datasource descriptors can be
// extended through a YAML file so new public data sources do not require a
// release.
package catalog

import "strings"

// Scope declares where a parameter may be set.
type Scope string

// Parameter scopes.
const (
	// ScopeAnalysis parameters are set once per analysis.
	ScopeAnalysis Scope = "analysis"
	// ScopeDataset parameters may be set per dataset; an analysis-level
	// value acts as the default for all datasets.
	ScopeDataset Scope = "dataset"
	// ScopeCommon parameters steer the surrounding pipeline (reports,
	// notification) and are never passed to the analysis kernels.
	ScopeCommon Scope = "common"
)

// ValueType declares the parameter value type used for coercion.
type ValueType string

// Parameter value types.
const (
	TypeInt    ValueType = "int"
	TypeFloat  ValueType = "float"
	TypeString ValueType = "string"
	TypeBool   ValueType = "bool"
)

// Parameter declares one method parameter.
type Parameter struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Type        ValueType `json:"type"`
	Scope       Scope     `json:"scope"`
	Default     string    `json:"default"`
	Values      []string  `json:"values,omitempty"`
	Description string    `json:"description"`
}

// Method describes one gene set analysis method.
type Method struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// DataType describes one supported expression data type.
type DataType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Expression data type ids.
const (
	TypeRNASeqCounts   = "rnaseq_counts"
	TypeRNASeqNorm     = "rnaseq_norm"
	TypeProteomicsInt  = "proteomics_int"
	TypeProteomicsSC   = "proteomics_sc"
	TypeMicroarrayNorm = "microarray_norm"
	TypeRiboSeq        = "ribo_seq"
)

// globalParameters apply to every method and are prepended to each method's
// own declarations.
var globalParameters = []Parameter{
	{
		Name:        "use_interactors",
		DisplayName: "Use interactors",
		Type:        TypeBool,
		Scope:       ScopeAnalysis,
		Default:     "False",
		Description: "Indicates whether interactors from IntAct should be used to extend the pathways in the analysis.",
	},
	{
		Name:        "include_disease_pathways",
		DisplayName: "Include disease pathways",
		Type:        TypeBool,
		Scope:       ScopeAnalysis,
		Default:     "True",
		Description: "Disease pathways may lead to a skewed analysis result. Note: excluding disease pathways currently prevents the visualization of results in the pathway browser.",
	},
	{
		Name:        "max_missing_values",
		DisplayName: "Max. missing values",
		Type:        TypeFloat,
		Scope:       ScopeDataset,
		Default:     "0.5",
		Description: "The maximum (relative) number of missing values within one comparison group before a gene / protein is removed from analysis. Must be between 0-1.",
	},
	{
		Name:        "create_reactome_visualization",
		DisplayName: "Create Reactome visualizations",
		Type:        TypeBool,
		Scope:       ScopeCommon,
		Default:     "True",
		Description: "If set to 'False', no pathway browser visualization is created for the performed analysis.",
	},
	{
		Name:        "create_reports",
		DisplayName: "Create reports",
		Type:        TypeBool,
		Scope:       ScopeCommon,
		Default:     "False",
		Description: "If set to 'True', additional Microsoft Excel and PDF-based reports of the analysis result will be created.",
	},
	{
		Name:        "email",
		DisplayName: "E-Mail",
		Type:        TypeString,
		Scope:       ScopeCommon,
		Default:     "",
		Description: "If set to a valid e-mail address, links to the analysis result (and report) will be sent once the analysis is complete.",
	},
	{
		Name:        "reactome_server",
		DisplayName: "Reactome server",
		Type:        TypeString,
		Scope:       ScopeCommon,
		Default:     "production",
		Values:      []string{"production", "dev", "release"},
		Description: "The Reactome server used to create result visualizations.",
	},
}

// shared normalization parameter declarations
var (
	discreteNormParameter = Parameter{
		Name:        "discrete_norm_function",
		DisplayName: "Discrete normalisation function",
		Type:        TypeString,
		Scope:       ScopeDataset,
		Default:     "TMM",
		Values:      []string{"TMM", "RLE", "upperquartile", "none"},
		Description: "The normalisation function to use for raw RNA-seq read counts and raw proteomics spectral counts.",
	}
	continuousNormParameter = Parameter{
		Name:        "continuous_norm_function",
		DisplayName: "Continuous normalisation function",
		Type:        TypeString,
		Scope:       ScopeDataset,
		Default:     "none",
		Values:      []string{"none", "scale", "quantile", "cyclicloess"},
		Description: "The normalisation function to use for proteomics intensity data.",
	}
)

// availableMethods holds the method-specific declarations, without the
// global parameters.
var availableMethods = []Method{
	{
		Name:        "PADOG",
		Description: "Weighted gene set analysis method that down-weighs genes that are present in many pathways. Supports multiple omics data sources including Ribo-seq data.",
		Parameters: []Parameter{
			{
				Name:        "sample_groups",
				DisplayName: "Sample Groups",
				Type:        TypeString,
				Scope:       ScopeDataset,
				Default:     "",
				Description: "Specifies the sample property name that holds the sample group information for matched-pair analyses. If used, every sample must occur exactly twice, once in each of the analysis groups.",
			},
			discreteNormParameter,
			continuousNormParameter,
		},
	},
	{
		Name:        "Camera",
		Description: "A gene set analysis algorithm similar to the classical GSEA algorithm as implemented in the limma package.",
		Parameters: []Parameter{
			discreteNormParameter,
			continuousNormParameter,
		},
	},
	{
		Name:        "ssGSEA",
		Description: "The ssGSEA approach to derive pathway expression values for every sample. Note: the visualization is only available for up to 15 samples.",
		Parameters: []Parameter{
			{
				Name:        "pathways",
				DisplayName: "Pathways",
				Type:        TypeString,
				Scope:       ScopeAnalysis,
				Default:     "",
				Description: "A comma delimited list of pathways to include in the analysis. All other pathways will be ignored.",
			},
			{
				Name:        "min_size",
				DisplayName: "Minimum pathway size",
				Type:        TypeInt,
				Scope:       ScopeAnalysis,
				Default:     "1",
				Description: "The minimum pathway size (number of submitted genes mapped to the pathway) to include a pathway in the analysis.",
			},
			{
				Name:        "max_size",
				DisplayName: "Maximum pathway size",
				Type:        TypeInt,
				Scope:       ScopeAnalysis,
				Default:     "1000",
				Description: "The maximum pathway size (number of submitted genes mapped to the pathway) to include a pathway in the analysis.",
			},
		},
	},
}

// dataTypes holds the supported expression data types.
var dataTypes = []DataType{
	{
		ID:          TypeRNASeqCounts,
		Name:        "RNA-seq (raw counts)",
		Description: "Raw RNA-seq based read counts per gene (recommended).",
	},
	{
		ID:          TypeRNASeqNorm,
		Name:        "RNA-seq (normalized)",
		Description: "log2 transformed, normalized RNA-seq based read counts per gene (f.e. RPKM, TPM).",
	},
	{
		ID:          TypeProteomicsInt,
		Name:        "Proteomics (intensity)",
		Description: "Intensity-based quantitative proteomics data (for example, iTRAQ/TMT or intensity-based label-free quantitation). Values must be log2 transformed.",
	},
	{
		ID:          TypeProteomicsSC,
		Name:        "Proteomics (spectral counts)",
		Description: "Raw spectral-counts of label-free proteomics experiments.",
	},
	{
		ID:          TypeMicroarrayNorm,
		Name:        "Microarray (normalized)",
		Description: "Normalized and log2 transformed microarray-based gene expression values.",
	},
	{
		ID:          TypeRiboSeq,
		Name:        "Ribo-seq",
		Description: "Ribo-seq data analysis using matched RNA-seq and Ribo-seq data.",
	},
}

// GlobalParameters returns the parameters shared by every method.
func GlobalParameters() []Parameter {
	return append([]Parameter(nil), globalParameters...)
}

// Methods returns all available methods with the global parameters prepended
// to each method's own declarations.
func Methods() []Method {
	methods := make([]Method, 0, len(availableMethods))

	for _, method := range availableMethods {
		parameters := make([]Parameter, 0, len(globalParameters)+len(method.Parameters))
		parameters = append(parameters, globalParameters...)
		parameters = append(parameters, method.Parameters...)

		method.Parameters = parameters
		methods = append(methods, method)
	}

	return methods
}

// MethodByName returns the method with the given name, matched
// case-insensitively, including the global parameters.
func MethodByName(name string) (*Method, bool) {
	name = strings.ToLower(strings.TrimSpace(name))

	for _, method := range Methods() {
		if strings.ToLower(method.Name) == name {
			return &method, true
		}
	}

	return nil, false
}

// DataTypes returns the supported expression data types.
func DataTypes() []DataType {
	return append([]DataType(nil), dataTypes...)
}

// DataTypeByID returns the data type with the given id.
func DataTypeByID(id string) (*DataType, bool) {
	for _, dataType := range dataTypes {
		if dataType.ID == id {
			return &dataType, true
		}
	}

	return nil, false
}
