package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DatasourceParameter declares one loader parameter of an external
// datasource.
type DatasourceParameter struct {
	Name        string `yaml:"name" json:"name"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	Type        string `yaml:"type" json:"type"`
	Required    bool   `yaml:"required" json:"required"`
	Description string `yaml:"description" json:"description"`
}

// Datasource describes one external public data source jobs can load
// datasets from.
type Datasource struct {
	ID          string                `yaml:"id" json:"id"`
	Name        string                `yaml:"name" json:"name"`
	Description string                `yaml:"description" json:"description"`
	URL         string                `yaml:"url" json:"url,omitempty"`
	Parameters  []DatasourceParameter `yaml:"parameters" json:"parameters,omitempty"`
}

// builtinDatasources ship with the service and are always available.
var builtinDatasources = []Datasource{
	{
		ID:          "example_datasets",
		Name:        "Example datasets",
		Description: "Curated example datasets bundled with the service.",
		Parameters: []DatasourceParameter{
			{
				Name:        "dataset_id",
				DisplayName: "Dataset id",
				Type:        "string",
				Required:    true,
				Description: "The identifier of the example dataset to load.",
			},
		},
	},
	{
		ID:          "grein",
		Name:        "GREIN",
		Description: "GEO RNA-seq experiments interactive navigator: uniformly reprocessed RNA-seq datasets from GEO.",
		URL:         "https://www.ilincs.org/apps/grein/",
		Parameters: []DatasourceParameter{
			{
				Name:        "dataset_id",
				DisplayName: "Dataset id",
				Type:        "string",
				Required:    true,
				Description: "The GEO series accession of the dataset to load (f.e. GSE100024).",
			},
		},
	},
}

// LoadDatasources returns the datasource catalog: the built-in sources plus
// any descriptors from the YAML file at path. An empty path returns only the
// built-in sources. File entries with an id matching a built-in source
// replace it.
func LoadDatasources(path string) ([]Datasource, error) {
	sources := append([]Datasource(nil), builtinDatasources...)

	if path == "" {
		return sources, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading datasource file %s: %w", path, err)
	}

	var file struct {
		Datasources []Datasource `yaml:"datasources"`
	}

	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing datasource file %s: %w", path, err)
	}

	for _, source := range file.Datasources {
		if source.ID == "" {
			return nil, fmt.Errorf("datasource file %s: entry without id", path)
		}

		if i := datasourceIndex(sources, source.ID); i >= 0 {
			sources[i] = source
		} else {
			sources = append(sources, source)
		}
	}

	return sources, nil
}

func datasourceIndex(sources []Datasource, id string) int {
	for i, source := range sources {
		if source.ID == id {
			return i
		}
	}

	return -1
}
