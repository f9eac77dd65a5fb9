package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Sentinel errors for matrix decoding.
var (
	// ErrEmptyMatrix indicates a matrix without any data rows.
	ErrEmptyMatrix = errors.New("matrix contains no data rows")

	// ErrRaggedMatrix indicates a row whose column count differs from the header.
	ErrRaggedMatrix = errors.New("matrix row length does not match header")

	// ErrMissingColumn indicates a pathway table without a required column.
	ErrMissingColumn = errors.New("missing required column")
)

// Matrix is a parsed expression matrix. The wire format is tab-delimited:
// a header row with a leading tab followed by sample labels, then one row
// per gene starting with the gene/protein identifier.
type Matrix struct {
	Samples []string
	Rows    []string
	Values  [][]float64
}

// ParseMatrix decodes the tab-delimited expression matrix format.
func ParseMatrix(data string) (*Matrix, error) {
	lines := splitLines(data)
	if len(lines) < 2 {
		return nil, ErrEmptyMatrix
	}

	header := strings.Split(lines[0], "\t")

	// The header's first field is the empty cell above the identifier
	// column. Tolerate matrices that omit the leading tab.
	samples := header
	if header[0] == "" {
		samples = header[1:]
	}

	if len(samples) == 0 {
		return nil, ErrEmptyMatrix
	}

	matrix := &Matrix{
		Samples: samples,
		Rows:    make([]string, 0, len(lines)-1),
		Values:  make([][]float64, 0, len(lines)-1),
	}

	for i, line := range lines[1:] {
		fields := strings.Split(line, "\t")
		if len(fields) != len(samples)+1 {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d",
				ErrRaggedMatrix, i+1, len(fields)-1, len(samples))
		}

		values := make([]float64, len(samples))

		for j, field := range fields[1:] {
			field = strings.TrimSpace(field)

			// missing measurements are common in proteomics data
			if isMissingValue(field) {
				values[j] = math.NaN()
				continue
			}

			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i+1, j+1, err)
			}

			values[j] = value
		}

		matrix.Rows = append(matrix.Rows, fields[0])
		matrix.Values = append(matrix.Values, values)
	}

	return matrix, nil
}

// NCol returns the number of sample columns.
func (m *Matrix) NCol() int {
	return len(m.Samples)
}

// NRow returns the number of gene rows.
func (m *Matrix) NRow() int {
	return len(m.Rows)
}

// Encode serializes the matrix back into the tab-delimited wire format.
func (m *Matrix) Encode() string {
	var sb strings.Builder

	sb.WriteString("\t" + strings.Join(m.Samples, "\t") + "\n")

	for i, row := range m.Rows {
		sb.WriteString(row)

		for _, value := range m.Values[i] {
			sb.WriteString("\t" + strconv.FormatFloat(value, 'g', -1, 64))
		}

		sb.WriteString("\n")
	}

	return sb.String()
}

// PathwayRow is one entry of a pathway result table.
type PathwayRow struct {
	Pathway   string
	Name      string
	Direction string
	FDR       float64
	PValue    float64
}

// PathwayTable is the result of one gene set analysis over one dataset.
type PathwayTable struct {
	Rows []PathwayRow
}

// requiredPathwayColumns are the columns every pathway result matrix must carry.
var requiredPathwayColumns = []string{"Pathway", "Direction", "FDR", "PValue"}

// Encode serializes the table into the tab-delimited pathway matrix format
// with the required columns Pathway, Name, Direction, FDR, PValue.
func (t *PathwayTable) Encode() string {
	var sb strings.Builder

	sb.WriteString("Pathway\tName\tDirection\tFDR\tPValue\n")

	for _, row := range t.Rows {
		sb.WriteString(fmt.Sprintf("%s\t%s\t%s\t%s\t%s\n",
			row.Pathway,
			row.Name,
			row.Direction,
			strconv.FormatFloat(row.FDR, 'g', -1, 64),
			strconv.FormatFloat(row.PValue, 'g', -1, 64)))
	}

	return sb.String()
}

// ParsePathwayTable decodes a tab-delimited pathway matrix, enforcing the
// required columns.
func ParsePathwayTable(data string) (*PathwayTable, error) {
	lines := splitLines(data)
	if len(lines) < 1 {
		return nil, ErrEmptyMatrix
	}

	header := strings.Split(lines[0], "\t")
	index := make(map[string]int, len(header))

	for i, name := range header {
		index[name] = i
	}

	for _, required := range requiredPathwayColumns {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	table := &PathwayTable{Rows: make([]PathwayRow, 0, len(lines)-1)}

	for i, line := range lines[1:] {
		fields := strings.Split(line, "\t")
		if len(fields) != len(header) {
			return nil, fmt.Errorf("%w: row %d", ErrRaggedMatrix, i+1)
		}

		fdr, err := strconv.ParseFloat(fields[index["FDR"]], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d FDR: %w", i+1, err)
		}

		pValue, err := strconv.ParseFloat(fields[index["PValue"]], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d PValue: %w", i+1, err)
		}

		row := PathwayRow{
			Pathway:   fields[index["Pathway"]],
			Direction: fields[index["Direction"]],
			FDR:       fdr,
			PValue:    pValue,
		}

		if nameIdx, ok := index["Name"]; ok {
			row.Name = fields[nameIdx]
		}

		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// isMissingValue reports whether a matrix field encodes a missing
// measurement.
func isMissingValue(field string) bool {
	switch strings.ToLower(field) {
	case "", "na", "nan", "null":
		return true
	}

	return false
}

// splitLines splits on newlines and drops empty trailing lines.
func splitLines(data string) []string {
	raw := strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))

	for _, line := range raw {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}

	return lines
}
