package infra

// pdf.go renders the closure report of a cash session with go-pdf/fpdf:
// header, session data, reconciliation totals, discrepancy and the
// transaction detail. Written to storagePath/closure_{session}.pdf.

import (
	"fmt"
	"os"
	"path/filepath"

	"pettycash/internal/model"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// ClosureReport is everything the closure PDF shows.
type ClosureReport struct {
	BusinessName string
	Session      *model.CashSession
	Closure      *model.CashClosure
	Expenses     []model.Expense
	Purchases    []model.Purchase
	Incomes      []model.Income
}

// GenerateClosureReportPDF writes the report and returns the file path.
// storagePath is created if needed.
func GenerateClosureReportPDF(r ClosureReport, storagePath string) (string, error) {
	if r.Session == nil || r.Closure == nil {
		return "", fmt.Errorf("pdf: session and closure are required")
	}
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return "", fmt.Errorf("pdf: create storage dir: %w", err)
	}

	filePath := filepath.Join(storagePath, fmt.Sprintf("closure_%s.pdf", r.Session.ID))

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 30

	// ── Header ───────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(contentW, 9, r.BusinessName, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(contentW, 6, "Petty cash closure report", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	// ── Session ──────────────────────────────────────────────────────────────
	label := contentW * 0.35
	value := contentW - label
	row := func(k, v string) {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.CellFormat(label, 6, k, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		pdf.CellFormat(value, 6, v, "", 1, "L", false, 0, "")
	}
	row("Session", r.Session.ID.String())
	row("Register", fmt.Sprintf("%d", r.Session.RegisterID))
	row("Opened at", r.Session.OpenedAt.Format("02/01/2006 15:04"))
	row("Closed at", r.Closure.ClosedAt.Format("02/01/2006 15:04"))
	pdf.Ln(2)
	separator(pdf, pageW)

	// ── Reconciliation ───────────────────────────────────────────────────────
	money := func(k string, d decimal.Decimal, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 10)
		pdf.CellFormat(contentW*0.6, 6, k, "", 0, "L", false, 0, "")
		pdf.CellFormat(contentW*0.4, 6, "$"+d.StringFixed(2), "", 1, "R", false, 0, "")
	}
	money("Opening amount", r.Closure.OpeningAmount, false)
	money("+ Income", r.Closure.TotalIncome, false)
	money("- Expenses", r.Closure.TotalExpenses, false)
	money("- Purchases", r.Closure.TotalPurchases, false)
	money("Expected cash", r.Closure.ExpectedCash, true)
	money("Counted cash", r.Closure.ActualCash, true)
	pdf.Ln(1)
	money(fmt.Sprintf("Difference (%s%%, %s)", r.Closure.DifferencePct.StringFixed(2), r.Closure.Classification), r.Closure.Difference, true)
	if r.Closure.Notes != nil && *r.Closure.Notes != "" {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(contentW, 5, "Notes: "+*r.Closure.Notes, "", "L", false)
	}
	pdf.Ln(2)
	separator(pdf, pageW)

	// ── Detail ───────────────────────────────────────────────────────────────
	table := func(title string, rows [][2]string) {
		if len(rows) == 0 {
			return
		}
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(contentW, 7, title, "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, line := range rows {
			desc := line[0]
			if len(desc) > 70 {
				desc = desc[:69] + "..."
			}
			pdf.CellFormat(contentW*0.75, 5, desc, "B", 0, "L", false, 0, "")
			pdf.CellFormat(contentW*0.25, 5, line[1], "B", 1, "R", false, 0, "")
		}
		pdf.Ln(3)
	}

	var rows [][2]string
	for _, i := range r.Incomes {
		rows = append(rows, [2]string{fmt.Sprintf("%s (%s, %s)", i.Description, i.Category, i.PaymentMethod), "$" + i.Amount.StringFixed(2)})
	}
	table("Income", rows)

	rows = rows[:0]
	for _, e := range r.Expenses {
		rows = append(rows, [2]string{fmt.Sprintf("%s (%s)", e.Description, e.Category), "$" + e.Amount.StringFixed(2)})
	}
	table("Expenses", rows)

	rows = rows[:0]
	for _, p := range r.Purchases {
		rows = append(rows, [2]string{
			fmt.Sprintf("%s x%s @ $%s", p.ProductRef, p.Quantity.String(), p.UnitPrice.StringFixed(2)),
			"$" + p.Amount.StringFixed(2),
		})
	}
	table("Purchases", rows)

	if err := pdf.OutputFileAndClose(filePath); err != nil {
		return "", fmt.Errorf("pdf: write file: %w", err)
	}
	return filePath, nil
}

func separator(pdf *fpdf.Fpdf, pageW float64) {
	pdf.Line(15, pdf.GetY(), pageW-15, pdf.GetY())
	pdf.Ln(3)
}
