package report

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/gsakit-io/gsakit/internal/model"
)

// maxSheetName is the spreadsheet format's hard limit on sheet name length.
const maxSheetName = 31

// buildExcel renders one workbook with a sheet of pathway results per
// dataset, followed by a fold-change sheet where the result carries one.
func buildExcel(result *model.AnalysisResult) ([]byte, error) {
	workbook := excelize.NewFile()
	defer workbook.Close()

	used := make(map[string]bool, 2*len(result.Results))

	for i, dataset := range result.Results {
		table, err := model.ParsePathwayTable(dataset.Pathways)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", dataset.Name, err)
		}

		sheet := sheetName(dataset.Name, i, used)

		if i == 0 {
			// reuse the default sheet so the workbook has no empty tab
			if err := workbook.SetSheetName("Sheet1", sheet); err != nil {
				return nil, err
			}
		} else if _, err := workbook.NewSheet(sheet); err != nil {
			return nil, err
		}

		if err := writePathwaySheet(workbook, sheet, table); err != nil {
			return nil, err
		}

		if dataset.FoldChanges != "" {
			fcSheet := sheetName(dataset.Name+" genes", i, used)
			if _, err := workbook.NewSheet(fcSheet); err != nil {
				return nil, err
			}

			if err := writeRawSheet(workbook, fcSheet, dataset.FoldChanges); err != nil {
				return nil, err
			}
		}
	}

	buffer, err := workbook.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}

	return buffer.Bytes(), nil
}

func writePathwaySheet(workbook *excelize.File, sheet string, table *model.PathwayTable) error {
	header := []interface{}{"Pathway", "Name", "Direction", "FDR", "PValue"}
	if err := workbook.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i, row := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}

		values := []interface{}{row.Pathway, row.Name, row.Direction, row.FDR, row.PValue}
		if err := workbook.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}

	return nil
}

// writeRawSheet dumps a tab-delimited matrix verbatim into a sheet.
func writeRawSheet(workbook *excelize.File, sheet, table string) error {
	lines := strings.Split(strings.TrimRight(table, "\n"), "\n")

	for i, line := range lines {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}

		fields := strings.Split(line, "\t")

		values := make([]interface{}, len(fields))
		for j, field := range fields {
			values[j] = field
		}

		if err := workbook.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}

	return nil
}

// sheetName sanitizes a dataset name into a legal sheet name, unique within
// the workbook. Names colliding after truncation receive a numeric suffix.
func sheetName(name string, index int, used map[string]bool) string {
	replacer := strings.NewReplacer(":", " ", "\\", " ", "/", " ", "?", " ", "*", " ", "[", " ", "]", " ")

	clean := strings.TrimSpace(replacer.Replace(name))
	if clean == "" {
		clean = fmt.Sprintf("Dataset %d", index+1)
	}

	if len(clean) > maxSheetName {
		clean = clean[:maxSheetName]
	}

	unique := clean

	for n := 2; used[unique]; n++ {
		suffix := fmt.Sprintf(" %d", n)

		base := clean
		if len(base)+len(suffix) > maxSheetName {
			base = strings.TrimSpace(base[:maxSheetName-len(suffix)])
		}

		unique = base + suffix
	}

	used[unique] = true

	return unique
}
