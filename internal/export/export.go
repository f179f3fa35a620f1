// Package export renders a user's filtered expenses to CSV, XLSX and PDF,
// each with the current wallet balances attached where the format allows.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/xuri/excelize/v2"

	"kharcha/internal/core"
)

var columns = []string{"Date", "Category", "Title", "Amount", "Method", "Notes"}

// ToCSV renders expenses as UTF-8 CSV with a header row.
func ToCSV(expenses []core.Expense) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, e := range expenses {
		record := []string{
			e.Date.String(),
			e.Category,
			e.Title,
			strconv.FormatFloat(e.Amount.Rupees(), 'f', 2, 64),
			string(e.Method),
			e.Notes,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ToXLSX renders expenses as a single-sheet workbook.
func ToXLSX(expenses []core.Expense) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Expenses"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for i, h := range columns {
		cell := fmt.Sprintf("%c1", 'A'+i)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	for idx, e := range expenses {
		row := idx + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), e.Date.String())
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), e.Category)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), e.Title)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), e.Amount.Rupees())
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), string(e.Method))
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), e.Notes)
	}

	f.SetColWidth(sheet, "A", "A", 12)
	f.SetColWidth(sheet, "B", "B", 18)
	f.SetColWidth(sheet, "C", "C", 34)
	f.SetColWidth(sheet, "D", "D", 12)
	f.SetColWidth(sheet, "E", "E", 10)
	f.SetColWidth(sheet, "F", "F", 30)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// ToPDF renders a formatted expense report with transaction and wallet
// summaries followed by the transaction table.
func ToPDF(expenses []core.Expense, user core.User, wallet core.Wallet) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Expense Report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Expense Report", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 10, fmt.Sprintf("User: %s", user.Username), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 10, fmt.Sprintf("Report Generated: %s", time.Now().Format("2006-01-02 15:04")), "", 1, "C", false, 0, "")
	pdf.Ln(5)

	var total int64
	for _, e := range expenses {
		total += e.Amount.Cents
	}

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 10, "Transaction Summary", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 8, fmt.Sprintf("Total Expenses: %.2f", float64(total)/100.0), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 8, fmt.Sprintf("Total Transactions: %d", len(expenses)), "", 1, "L", false, 0, "")
	pdf.Ln(5)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 10, "Current Wallet Balances", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 8, fmt.Sprintf("UPI Balance: %.2f", wallet.UPI.Rupees()), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 8, fmt.Sprintf("Cash Balance: %.2f", wallet.Cash.Rupees()), "", 1, "L", false, 0, "")
	pdf.Ln(10)

	widths := []float64{25, 35, 65, 25, 25}
	headers := []string{"Date", "Category", "Title", "Amount", "Method"}

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(240, 240, 240)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 10, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, e := range expenses {
		pdf.CellFormat(widths[0], 10, e.Date.String(), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 10, e.Category, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 10, e.Title, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[3], 10, fmt.Sprintf("%.2f", e.Amount.Rupees()), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 10, string(e.Method), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
