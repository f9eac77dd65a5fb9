package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/gsakit-io/gsakit/internal/model"
)

// pdfTopPathways bounds the per-dataset pathway listing of the PDF summary.
// The spreadsheet carries the full table.
const pdfTopPathways = 25

// buildPDF renders a compact summary document: one section per dataset with
// its most significant pathways.
func buildPDF(jobID string, result *model.AnalysisResult) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Gene set analysis report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 12, "Gene set analysis report")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Analysis %s", jobID))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Pathway database release %s", result.Release))
	pdf.Ln(10)

	for _, dataset := range result.Results {
		table, err := model.ParsePathwayTable(dataset.Pathways)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", dataset.Name, err)
		}

		writeDatasetSection(pdf, dataset.Name, table)
	}

	var buffer bytes.Buffer
	if err := pdf.Output(&buffer); err != nil {
		return nil, fmt.Errorf("writing pdf: %w", err)
	}

	return buffer.Bytes(), nil
}

func writeDatasetSection(pdf *fpdf.Fpdf, name string, table *model.PathwayTable) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 9, name)
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(70, 6, "Pathway", "B", 0, "", false, 0, "")
	pdf.CellFormat(60, 6, "Name", "B", 0, "", false, 0, "")
	pdf.CellFormat(20, 6, "Direction", "B", 0, "", false, 0, "")
	pdf.CellFormat(20, 6, "FDR", "B", 0, "", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 9)

	rows := table.Rows
	if len(rows) > pdfTopPathways {
		rows = rows[:pdfTopPathways]
	}

	for _, row := range rows {
		pdf.CellFormat(70, 5, truncate(row.Pathway, 40), "", 0, "", false, 0, "")
		pdf.CellFormat(60, 5, truncate(row.Name, 35), "", 0, "", false, 0, "")
		pdf.CellFormat(20, 5, row.Direction, "", 0, "", false, 0, "")
		pdf.CellFormat(20, 5, fmt.Sprintf("%.2g", row.FDR), "", 0, "", false, 0, "")
		pdf.Ln(5)
	}

	if len(table.Rows) > pdfTopPathways {
		pdf.SetFont("Helvetica", "I", 8)
		pdf.Cell(0, 5, fmt.Sprintf("... and %d more pathways in the spreadsheet", len(table.Rows)-pdfTopPathways))
		pdf.Ln(5)
	}

	pdf.Ln(4)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	return s[:max-1] + "~"
}
