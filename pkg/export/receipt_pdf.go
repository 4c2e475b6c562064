package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// ReceiptLine is one labelled amount in the receipt summary box.
type ReceiptLine struct {
	Label  string
	Amount int64
	Bold   bool
}

// ReceiptDocument carries everything printed on a payment receipt.
type ReceiptDocument struct {
	SchoolName  string
	Tagline     string
	ReceiptNo   string
	IssuedAt    time.Time
	StudentName string
	Class       string
	Phone       string
	Description string
	Amount      int64
	Summary     []ReceiptLine
}

// RenderReceipt draws a single-page fee receipt.
func (e *PDFExporter) RenderReceipt(doc ReceiptDocument) ([]byte, error) {
	if doc.ReceiptNo == "" {
		return nil, fmt.Errorf("receipt number required")
	}
	if doc.Amount <= 0 {
		return nil, fmt.Errorf("receipt amount must be positive")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetTextColor(30, 60, 114)
	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 10, doc.SchoolName, "", 1, "C", false, 0, "")
	if doc.Tagline != "" {
		pdf.SetTextColor(102, 102, 102)
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, doc.Tagline, "", 1, "C", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetDrawColor(30, 60, 114)
	pdf.SetLineWidth(0.6)
	top := pdf.GetY()
	pdf.Rect(15, top, 180, 150, "D")

	pdf.SetTextColor(30, 60, 114)
	pdf.SetFont("Arial", "B", 14)
	pdf.SetY(top + 4)
	pdf.CellFormat(0, 8, "OFFICIAL FEE RECEIPT", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetTextColor(0, 0, 0)
	details := [][2]string{
		{"Receipt No:", doc.ReceiptNo},
		{"Date:", doc.IssuedAt.Format("02/01/2006")},
		{"Student:", doc.StudentName},
		{"Class:", doc.Class},
		{"Phone:", doc.Phone},
	}
	for _, row := range details {
		pdf.SetX(25)
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(35, 7, row[0], "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 7, row[1], "", 1, "", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetX(25)
	pdf.SetFillColor(30, 60, 114)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(110, 9, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(50, 9, "Amount (Rs)", "1", 1, "R", true, 0, "")
	pdf.SetX(25)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(110, 9, doc.Description, "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 9, formatAmount(doc.Amount), "1", 1, "R", false, 0, "")
	pdf.Ln(6)

	if len(doc.Summary) > 0 {
		pdf.SetFillColor(248, 249, 250)
		for _, line := range doc.Summary {
			style := ""
			if line.Bold {
				style = "B"
			}
			pdf.SetX(105)
			pdf.SetFont("Arial", style, 11)
			pdf.CellFormat(45, 8, line.Label, "", 0, "L", true, 0, "")
			pdf.CellFormat(35, 8, "Rs "+formatAmount(line.Amount), "", 1, "R", true, 0, "")
		}
	}

	pdf.SetY(top + 140)
	pdf.SetTextColor(102, 102, 102)
	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(0, 5, "This is a system-generated receipt. No physical signature required.", "", 1, "C", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func formatAmount(v int64) string {
	return fmt.Sprintf("%d.00", v)
}
