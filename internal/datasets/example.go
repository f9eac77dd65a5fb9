package datasets

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gsakit-io/gsakit/internal/model"
)

// ExampleFetcher serves a small curated set of bundled datasets. It needs no
// network access and answers instantly, which also makes it the fixture of
// choice for loader tests.
type ExampleFetcher struct {
	datasets map[string]exampleDataset
}

type exampleDataset struct {
	data  model.ExternalData
	table string
}

// NewExampleFetcher creates the curated example fetcher.
func NewExampleFetcher() *ExampleFetcher {
	return &ExampleFetcher{datasets: builtinExamples()}
}

// DatasetID implements Fetcher.
func (f *ExampleFetcher) DatasetID(parameters map[string]string) (string, error) {
	return requiredParameter(parameters, "dataset_id")
}

// Load implements Fetcher.
func (f *ExampleFetcher) Load(_ context.Context, parameters map[string]string, progress ProgressFunc) (*Loaded, error) {
	id, err := f.DatasetID(parameters)
	if err != nil {
		return nil, err
	}

	example, ok := f.datasets[strings.ToUpper(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, id)
	}

	if progress != nil {
		progress("Loading example dataset", 0.5)
	}

	data := example.data

	return &Loaded{Data: &data, Table: example.table}, nil
}

// Available returns the descriptions of the bundled datasets.
func (f *ExampleFetcher) Available() []model.ExternalData {
	ids := make([]string, 0, len(f.datasets))
	for id := range f.datasets {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	out := make([]model.ExternalData, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.datasets[id].data)
	}

	return out
}

func builtinExamples() map[string]exampleDataset {
	var melanoma strings.Builder

	melanoma.WriteString("\tpatient1_baseline\tpatient2_baseline\tpatient3_baseline\tpatient1_treated\tpatient2_treated\tpatient3_treated\n")
	melanoma.WriteString("CD8A\t812\t640\t933\t2104\t1850\t2390\n")
	melanoma.WriteString("GZMB\t455\t510\t390\t1622\t1480\t1725\n")
	melanoma.WriteString("PRF1\t388\t420\t365\t1244\t1190\t1310\n")
	melanoma.WriteString("IFNG\t120\t98\t142\t860\t790\t905\n")
	melanoma.WriteString("MLANA\t2210\t2485\t2090\t1140\t1260\t1010\n")
	melanoma.WriteString("ACTB\t9800\t10140\t9650\t9910\t10080\t9720\n")
	melanoma.WriteString("GAPDH\t8450\t8610\t8390\t8520\t8480\t8600\n")

	var proteomics strings.Builder

	proteomics.WriteString("\tctrl_1\tctrl_2\tctrl_3\tstim_1\tstim_2\tstim_3\n")
	proteomics.WriteString("STAT1\t18.2\t18.5\t18.1\t21.4\t21.1\t21.8\n")
	proteomics.WriteString("STAT3\t19.4\t19.1\t19.6\t20.9\t21.2\t20.6\n")
	proteomics.WriteString("IRF1\t14.8\t15.1\t14.6\t17.9\t18.2\t17.5\n")
	proteomics.WriteString("TUBB\t22.5\t22.4\t22.6\t22.5\t22.3\t22.7\n")
	proteomics.WriteString("VIM\t23.1\t23.0\t23.2\tNA\t23.1\t22.9\n")

	return map[string]exampleDataset{
		"EXAMPLE_MEL_RNA": {
			data: model.ExternalData{
				ID:          "EXAMPLE_MEL_RNA",
				Title:       "Melanoma checkpoint therapy, RNA-seq",
				Type:        "rnaseq_counts",
				Description: "Paired tumour biopsies before and during checkpoint therapy.",
				Group:       "Example datasets",
				SampleIDs: []string{
					"patient1_baseline", "patient2_baseline", "patient3_baseline",
					"patient1_treated", "patient2_treated", "patient3_treated",
				},
				SampleMetadata: []model.SampleMetadata{
					{Name: "treatment", Values: []string{"baseline", "baseline", "baseline", "treated", "treated", "treated"}},
					{Name: "patient", Values: []string{"p1", "p2", "p3", "p1", "p2", "p3"}},
				},
				DefaultParameters: []model.Parameter{
					{Name: "analysis_group", Value: "treatment"},
					{Name: "comparison_group_1", Value: "treated"},
					{Name: "comparison_group_2", Value: "baseline"},
				},
			},
			table: melanoma.String(),
		},
		"EXAMPLE_IFN_PROT": {
			data: model.ExternalData{
				ID:          "EXAMPLE_IFN_PROT",
				Title:       "Interferon stimulation, proteomics",
				Type:        "proteomics_int",
				Description: "Fibroblasts with and without interferon gamma stimulation.",
				Group:       "Example datasets",
				SampleIDs:   []string{"ctrl_1", "ctrl_2", "ctrl_3", "stim_1", "stim_2", "stim_3"},
				SampleMetadata: []model.SampleMetadata{
					{Name: "condition", Values: []string{"control", "control", "control", "stimulated", "stimulated", "stimulated"}},
				},
				DefaultParameters: []model.Parameter{
					{Name: "analysis_group", Value: "condition"},
					{Name: "comparison_group_1", Value: "stimulated"},
					{Name: "comparison_group_2", Value: "control"},
				},
			},
			table: proteomics.String(),
		},
	}
}
