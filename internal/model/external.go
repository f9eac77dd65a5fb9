package model

type (
	// SampleMetadata is one named metadata array parallel to the sample id
	// list of an external dataset.
	SampleMetadata struct {
		Name   string   `json:"name"`
		Values []string `json:"values"`
	}

	// ExternalData describes a dataset loaded from an external resource.
	// It is written once by the dataset loader and read-only thereafter.
	ExternalData struct {
		ID                string           `json:"id"`
		Title             string           `json:"title,omitempty"`
		Type              string           `json:"type"`
		Description       string           `json:"description,omitempty"`
		Group             string           `json:"group,omitempty"`
		SampleIDs         []string         `json:"sampleIds,omitempty"`
		SampleMetadata    []SampleMetadata `json:"sampleMetadata,omitempty"`
		DefaultParameters []Parameter      `json:"defaultParameters,omitempty"`
	}

	// ExternalDatasource describes a source datasets can be loaded from,
	// including the parameters a loading request accepts.
	ExternalDatasource struct {
		ID          string              `json:"id"`
		Name        string              `json:"name"`
		Description string              `json:"description,omitempty"`
		URL         string              `json:"url,omitempty"`
		Parameters  []DatasourceParameter `json:"parameters,omitempty"`
	}

	// DatasourceParameter declares one accepted loading parameter.
	DatasourceParameter struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName,omitempty"`
		Type        string `json:"type"`
		Description string `json:"description,omitempty"`
		Required    bool   `json:"required"`
	}
)

// MetadataValues returns the values of the named sample metadata array, or
// nil if the dataset does not carry it.
func (d *ExternalData) MetadataValues(name string) []string {
	for _, meta := range d.SampleMetadata {
		if meta.Name == name {
			return meta.Values
		}
	}

	return nil
}
