// Package receipt renders purchase receipts as PDF documents.
package receipt

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

type Store struct {
	Name         string
	AddressLine1 string
	AddressLine2 string
	SupportEmail string
	Phone        string
}

type Line struct {
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
}

type Data struct {
	Store           Store
	TxRef           string
	Provider        string
	Status          string
	Amount          decimal.Decimal
	Currency        string
	PurchasedAt     time.Time
	CustomerName    string
	CustomerEmail   string
	ShippingAddress string
	Lines           []Line
}

const (
	pageMargin   = 15.0
	bottomMargin = 20.0
	rowHeight    = 8.0
	labelWidth   = 55.0
	valueWidth   = 125.0
)

var itemColumns = []struct {
	title string
	width float64
	align string
}{
	{"Product Name", 80, "L"},
	{"Quantity", 25, "C"},
	{"Unit Price", 37.5, "R"},
	{"Subtotal", 37.5, "R"},
}

// Render returns the receipt PDF. Output depends only on d: the document
// dates are pinned to d.PurchasedAt.
func Render(d Data) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(d.PurchasedAt)
	pdf.SetModificationDate(d.PurchasedAt)
	pdf.SetTitle("Purchase Receipt "+d.TxRef, true)
	pdf.SetAuthor(d.Store.Name, true)
	pdf.SetCreator(d.Store.Name, true)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, bottomMargin)
	pdf.AliasNbPages("")

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("%s - Page %d/{nb}", tr(d.TxRef), pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetTextColor(0, 0, 139)
	pdf.CellFormat(0, 14, "PURCHASE RECEIPT", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 6, tr(d.Store.Name), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, line := range []string{
		d.Store.AddressLine1,
		d.Store.AddressLine2,
		prefixed("Email: ", d.Store.SupportEmail),
		prefixed("Phone: ", d.Store.Phone),
	} {
		if line != "" {
			pdf.CellFormat(0, 5, tr(line), "", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(6)

	details := [][2]string{
		{"Purchase Date:", d.PurchasedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Transaction Reference:", d.TxRef},
		{"Payment Provider:", d.Provider},
		{"Total Amount:", money(d.Amount, d.Currency)},
		{"Status:", title(d.Status)},
	}
	keyValueTable(pdf, tr, details)
	pdf.Ln(6)

	heading(pdf, "CUSTOMER INFORMATION")
	keyValueTable(pdf, tr, [][2]string{
		{"Name:", d.CustomerName},
		{"Email:", d.CustomerEmail},
		{"Shipping Address:", d.ShippingAddress},
	})
	pdf.Ln(6)

	heading(pdf, "ORDER ITEMS")
	itemHeader(pdf)
	pdf.SetFont("Helvetica", "", 10)
	_, pageHeight := pdf.GetPageSize()
	for _, line := range d.Lines {
		if pdf.GetY()+rowHeight > pageHeight-bottomMargin {
			pdf.AddPage()
			itemHeader(pdf)
			pdf.SetFont("Helvetica", "", 10)
		}
		cells := []string{
			truncate(tr(line.ProductName), 45),
			strconv.Itoa(line.Quantity),
			money(line.UnitPrice, d.Currency),
			money(line.Subtotal, d.Currency),
		}
		for i, col := range itemColumns {
			pdf.CellFormat(col.width, rowHeight, cells[i], "1", 0, col.align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(211, 211, 211)
	pdf.CellFormat(itemColumns[0].width+itemColumns[1].width, rowHeight, "", "1", 0, "C", true, 0, "")
	pdf.CellFormat(itemColumns[2].width, rowHeight, "TOTAL", "1", 0, "R", true, 0, "")
	pdf.CellFormat(itemColumns[3].width, rowHeight, money(d.Amount, d.Currency), "1", 1, "R", true, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, "Thank you for your purchase! We appreciate your business and hope you enjoy your items. "+
		"If you have any questions about your order, please contact our customer service team.", "", "L", false)
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 5, "Terms and Conditions:", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, term := range []string{
		"This receipt serves as proof of purchase.",
		"All sales are final unless covered by our return policy.",
		"For returns or exchanges, please contact us within 30 days of purchase.",
	} {
		pdf.CellFormat(0, 5, "- "+term, "", 1, "L", false, 0, "")
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to render receipt: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func heading(pdf *fpdf.Fpdf, text string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetTextColor(0, 100, 0)
	pdf.CellFormat(0, 9, text, "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
}

func keyValueTable(pdf *fpdf.Fpdf, tr func(string) string, rows [][2]string) {
	pdf.SetFillColor(211, 211, 211)
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(labelWidth, rowHeight, row[0], "1", 0, "L", true, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(valueWidth, rowHeight, truncate(tr(row[1]), 70), "1", 1, "L", false, 0, "")
	}
}

func itemHeader(pdf *fpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(128, 128, 128)
	pdf.SetTextColor(245, 245, 245)
	for _, col := range itemColumns {
		pdf.CellFormat(col.width, rowHeight, col.title, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(0, 0, 0)
}

func money(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(2) + " " + currency
}

func prefixed(prefix, value string) string {
	if value == "" {
		return ""
	}
	return prefix + value
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
