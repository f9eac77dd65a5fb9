package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gsakit-io/gsakit/internal/model"
)

// ErrInvalidParameter indicates a parameter value that cannot be coerced to
// its declared type or lies outside the declared value set. API handlers map
// it to a 406 response.
var ErrInvalidParameter = errors.New("invalid parameter value")

// CoerceValue validates raw against the parameter's declared type and value
// set and returns the normalized string form.
func CoerceValue(parameter *Parameter, raw string) (string, error) {
	value := strings.TrimSpace(raw)

	switch parameter.Type {
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return "", fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidParameter, parameter.Name, raw)
		}
	case TypeFloat:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return "", fmt.Errorf("%w: %s must be a number, got %q", ErrInvalidParameter, parameter.Name, raw)
		}
	case TypeBool:
		switch strings.ToLower(value) {
		case "true", "false", "1", "0", "yes", "no":
		default:
			return "", fmt.Errorf("%w: %s must be a boolean, got %q", ErrInvalidParameter, parameter.Name, raw)
		}
	case TypeString:
		// any string is structurally valid; value sets are checked below
	default:
		return "", fmt.Errorf("%w: %s has unknown type %q", ErrInvalidParameter, parameter.Name, parameter.Type)
	}

	if len(parameter.Values) > 0 && value != "" {
		for _, allowed := range parameter.Values {
			if value == allowed {
				return value, nil
			}
		}

		return "", fmt.Errorf("%w: %s must be one of %s, got %q",
			ErrInvalidParameter, parameter.Name, strings.Join(parameter.Values, ", "), raw)
	}

	return value, nil
}

// ValidateAnalysisParameters checks the analysis-level parameters of a
// request against the method's declarations. Any scope is accepted at the
// analysis level: dataset-scoped values act as defaults for all datasets.
// Unknown parameters produce warnings and are otherwise ignored.
func ValidateAnalysisParameters(method *Method, parameters []model.Parameter) ([]string, error) {
	return validateParameters(method, parameters, "", nil)
}

// ValidateDatasetParameters checks the per-dataset parameters of a request.
// Only dataset-scoped parameters may be overridden per dataset; other scopes
// produce warnings.
func ValidateDatasetParameters(method *Method, datasetName string, parameters []model.Parameter) ([]string, error) {
	return validateParameters(method, parameters, datasetName, func(p *Parameter) string {
		if p.Scope != ScopeDataset {
			return fmt.Sprintf("parameter %q has %s scope and cannot be set per dataset", p.Name, p.Scope)
		}

		return ""
	})
}

// validateParameters is the shared validation walk. scopeCheck, when set,
// may veto a known parameter with a warning message.
func validateParameters(
	method *Method,
	parameters []model.Parameter,
	datasetName string,
	scopeCheck func(*Parameter) string,
) ([]string, error) {
	declarations := make(map[string]*Parameter, len(method.Parameters))
	for i := range method.Parameters {
		declarations[method.Parameters[i].Name] = &method.Parameters[i]
	}

	var warnings []string

	for _, supplied := range parameters {
		declaration, known := declarations[supplied.Name]
		if !known {
			warnings = append(warnings, unknownParameterWarning(supplied.Name, method.Name, datasetName))
			continue
		}

		if scopeCheck != nil {
			if warning := scopeCheck(declaration); warning != "" {
				warnings = append(warnings, warning)
				continue
			}
		}

		if _, err := CoerceValue(declaration, supplied.Value); err != nil {
			if datasetName != "" {
				return warnings, fmt.Errorf("dataset %q: %w", datasetName, err)
			}

			return warnings, err
		}
	}

	return warnings, nil
}

func unknownParameterWarning(name, method, dataset string) string {
	if dataset != "" {
		return fmt.Sprintf("dataset %q: unknown parameter %q for method %s, ignored", dataset, name, method)
	}

	return fmt.Sprintf("unknown parameter %q for method %s, ignored", name, method)
}

// DefaultParameters returns the declared defaults of a method as request
// parameters, one per non-common declaration. Kernels consume these merged
// with the request's own values.
func DefaultParameters(method *Method) []model.Parameter {
	defaults := make([]model.Parameter, 0, len(method.Parameters))

	for _, parameter := range method.Parameters {
		if parameter.Scope == ScopeCommon {
			continue
		}

		defaults = append(defaults, model.Parameter{Name: parameter.Name, Value: parameter.Default})
	}

	return defaults
}
