// Package model defines the wire-level data model of the GSA service:
// analysis requests, experimental designs, results, external datasets and
// the tab-delimited matrix format shared by all of them.
package model

import (
	"encoding/json"
	"errors"
	"strings"
)

// Sentinel errors for request decoding.
var (
	// ErrInvalidDesign indicates a design object that cannot be decoded.
	ErrInvalidDesign = errors.New("invalid design")
)

type (
	// Parameter is a single name/value setting. Values are transmitted as
	// strings; the type and scope are declared by the method catalog and
	// coerced at admission.
	Parameter struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}

	// Comparison names the two sample groups compared in a differential
	// analysis.
	Comparison struct {
		Group1 string `json:"group1"`
		Group2 string `json:"group2"`
	}

	// Design assigns samples to comparison groups and covariate strata.
	// Besides the fixed fields, a design may carry arbitrary additional
	// covariate arrays (f.e. "patient.id", "cell.type") that must have the
	// same arity as Samples. These are kept in Properties.
	Design struct {
		Samples       []string
		Comparison    Comparison
		AnalysisGroup []string
		Properties    map[string][]string
	}

	// Dataset is one expression matrix submitted for analysis. Data is the
	// tab-delimited matrix as a single string (rows = genes, columns =
	// samples). Design may be nil for methods that do not use one.
	Dataset struct {
		Name       string      `json:"name"`
		Type       string      `json:"type"`
		Data       string      `json:"data"`
		Design     *Design     `json:"design,omitempty"`
		Parameters []Parameter `json:"parameters,omitempty"`
	}

	// AnalysisInput is the complete specification of a gene set analysis.
	// AnalysisID is assigned by the API; a client-set value is ignored.
	AnalysisInput struct {
		MethodName string      `json:"methodName"`
		Datasets   []Dataset   `json:"datasets"`
		Parameters []Parameter `json:"parameters,omitempty"`
		AnalysisID string      `json:"analysisId,omitempty"`
	}
)

// designWire mirrors the fixed JSON fields of a Design.
type designWire struct {
	Samples       []string   `json:"samples"`
	Comparison    Comparison `json:"comparison"`
	AnalysisGroup []string   `json:"analysisGroup"`
}

// UnmarshalJSON decodes a design, collecting unknown array-of-string fields
// as additional covariates.
func (d *Design) UnmarshalJSON(data []byte) error {
	var wire designWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.Join(ErrInvalidDesign, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Join(ErrInvalidDesign, err)
	}

	d.Samples = wire.Samples
	d.Comparison = wire.Comparison
	d.AnalysisGroup = wire.AnalysisGroup
	d.Properties = make(map[string][]string)

	for key, value := range raw {
		switch key {
		case "samples", "comparison", "analysisGroup":
			continue
		}

		// Only string arrays qualify as covariates; anything else is
		// silently ignored (matches the permissive wire format).
		var values []string
		if err := json.Unmarshal(value, &values); err == nil {
			d.Properties[key] = values
		}
	}

	return nil
}

// MarshalJSON encodes the design with covariates inlined next to the fixed
// fields, restoring the original wire shape.
func (d Design) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Properties)+3)

	for key, values := range d.Properties {
		out[key] = values
	}

	out["samples"] = d.Samples
	out["comparison"] = d.Comparison
	out["analysisGroup"] = d.AnalysisGroup

	return json.Marshal(out)
}

// ParameterValue returns the value of the named parameter and whether it was
// present.
func ParameterValue(params []Parameter, name string) (string, bool) {
	for _, p := range params {
		if p.Name == name {
			return p.Value, true
		}
	}

	return "", false
}

// BoolParameter interprets the named parameter as a boolean. Missing or
// unparsable values return the default.
func BoolParameter(params []Parameter, name string, defaultValue bool) bool {
	value, ok := ParameterValue(params, name)
	if !ok {
		return defaultValue
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}

	return defaultValue
}

// EffectiveParameters resolves the parameter list visible to one dataset:
// analysis-level values act as defaults, dataset-level values of the same
// name override them.
func EffectiveParameters(analysis, dataset []Parameter) []Parameter {
	merged := make([]Parameter, 0, len(analysis)+len(dataset))
	overridden := make(map[string]bool, len(dataset))

	for _, p := range dataset {
		overridden[p.Name] = true
		merged = append(merged, p)
	}

	for _, p := range analysis {
		if !overridden[p.Name] {
			merged = append(merged, p)
		}
	}

	return merged
}
