// Package report renders patient-file summaries as PDF documents.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// FileRow is one line of the patient-file summary.
type FileRow struct {
	PatientDNI    string
	PatientName   string
	XRayCount     int
	AnalyzedCount int
	PendingCount  int
	LastUpload    string
}

// Options controls the document header.
type Options struct {
	Title       string
	Filter      string
	GeneratedAt time.Time
}

var columns = []struct {
	title string
	width float64
	align string
}{
	{"DNI", 30, "L"},
	{"Paciente", 62, "L"},
	{"Total", 18, "R"},
	{"Analizadas", 22, "R"},
	{"Pendientes", 22, "R"},
	{"Última carga", 36, "L"},
}

// WritePatientFiles renders rows as an A4 table and writes the PDF to w.
func WritePatientFiles(w io.Writer, rows []FileRow, opts Options) error {
	if opts.Title == "" {
		opts.Title = "Expedientes de pacientes"
	}
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now()
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(opts.Title, true)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 10, tr(fmt.Sprintf("Página %d", pdf.PageNo())), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, tr(opts.Title))
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, tr("Generado: "+opts.GeneratedAt.Format("02-01-2006 15:04")))
	pdf.Ln(6)
	if opts.Filter != "" {
		pdf.Cell(0, 6, tr("Filtro: "+opts.Filter))
		pdf.Ln(6)
	}
	pdf.Cell(0, 6, tr(fmt.Sprintf("Expedientes: %d", len(rows))))
	pdf.Ln(10)

	header := func() {
		pdf.SetFont("Arial", "B", 10)
		pdf.SetFillColor(226, 232, 240)
		for _, col := range columns {
			pdf.CellFormat(col.width, 8, tr(col.title), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
	}
	header()

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, r := range rows {
		if pdf.GetY()+7 > pageHeight-bottom-15 {
			pdf.AddPage()
			header()
		}
		cells := []string{
			r.PatientDNI,
			r.PatientName,
			fmt.Sprintf("%d", r.XRayCount),
			fmt.Sprintf("%d", r.AnalyzedCount),
			fmt.Sprintf("%d", r.PendingCount),
			formatUpload(r.LastUpload),
		}
		for i, col := range columns {
			pdf.CellFormat(col.width, 7, tr(cells[i]), "1", 0, col.align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render patient files pdf: %w", err)
	}
	return nil
}

// formatUpload shows ISO timestamps as dd-mm-yyyy hh:mm and passes anything
// else through unchanged.
func formatUpload(s string) string {
	if s == "" {
		return "-"
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			if layout == "2006-01-02" {
				return t.Format("02-01-2006")
			}
			return t.Format("02-01-2006 15:04")
		}
	}
	return s
}
