// Package reports aggregates payments and ledger entries for staff and renders
// them as JSON summaries or xlsx workbooks.
package reports

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"estate-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// Range is a half-open [From, To) window; zero bounds are open.
type Range struct {
	From time.Time
	To   time.Time
}

// ParseRange reads from/to as YYYY-MM-DD. "to" is inclusive of that day.
func ParseRange(from, to string) (Range, error) {
	var r Range
	var err error
	if from != "" {
		if r.From, err = time.Parse(dateLayout, from); err != nil {
			return r, fmt.Errorf("invalid from date %q", from)
		}
	}
	if to != "" {
		if r.To, err = time.Parse(dateLayout, to); err != nil {
			return r, fmt.Errorf("invalid to date %q", to)
		}
		r.To = r.To.AddDate(0, 0, 1)
	}
	if !r.From.IsZero() && !r.To.IsZero() && !r.To.After(r.From) {
		return r, fmt.Errorf("to must not be before from")
	}
	return r, nil
}

func (r Range) Apply(db *gorm.DB) *gorm.DB {
	if !r.From.IsZero() {
		db = db.Where("created_at >= ?", r.From)
	}
	if !r.To.IsZero() {
		db = db.Where("created_at < ?", r.To)
	}
	return db
}

type Bucket struct {
	Key    string          `json:"key"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type DailyRevenue struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
}

type Summary struct {
	From             string          `json:"from,omitempty"`
	To               string          `json:"to,omitempty"`
	PaymentsByStatus []Bucket        `json:"payments_by_status"`
	LedgerByType     []Bucket        `json:"transactions_by_type"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	DailyBreakdown   []DailyRevenue  `json:"daily_breakdown"`
}

func groupBy(db *gorm.DB, model any, column string, r Range) ([]Bucket, error) {
	var rows []struct {
		Name   string
		Total  int64
		Amount decimal.NullDecimal
	}
	err := r.Apply(db.Model(model)).
		Select(column + " AS name, COUNT(*) AS total, SUM(amount) AS amount").
		Group(column).
		Order(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Bucket, 0, len(rows))
	for _, row := range rows {
		b := Bucket{Key: row.Name, Count: row.Total, Amount: decimal.Zero}
		if row.Amount.Valid {
			b.Amount = row.Amount.Decimal
		}
		out = append(out, b)
	}
	return out, nil
}

// BuildSummary totals payments by status and ledger entries by type, and breaks paid
// revenue down per day.
func BuildSummary(db *gorm.DB, r Range) (*Summary, error) {
	s := &Summary{TotalRevenue: decimal.Zero, DailyBreakdown: []DailyRevenue{}}
	if !r.From.IsZero() {
		s.From = r.From.Format(dateLayout)
	}
	if !r.To.IsZero() {
		s.To = r.To.AddDate(0, 0, -1).Format(dateLayout)
	}

	var err error
	if s.PaymentsByStatus, err = groupBy(db, &models.Payment{}, "status", r); err != nil {
		return nil, fmt.Errorf("payments by status: %w", err)
	}
	if s.LedgerByType, err = groupBy(db, &models.Transaction{}, "type", r); err != nil {
		return nil, fmt.Errorf("transactions by type: %w", err)
	}

	var paid []models.Payment
	if err := r.Apply(db.Select("amount", "created_at")).
		Where("status IN ?", []models.PaymentStatus{models.PaymentPaid, models.PaymentRefunded}).
		Find(&paid).Error; err != nil {
		return nil, fmt.Errorf("paid payments: %w", err)
	}
	days := map[string]decimal.Decimal{}
	for _, p := range paid {
		d := p.CreatedAt.Format(dateLayout)
		days[d] = days[d].Add(p.Amount)
		s.TotalRevenue = s.TotalRevenue.Add(p.Amount)
	}
	for d, amt := range days {
		s.DailyBreakdown = append(s.DailyBreakdown, DailyRevenue{Date: d, Revenue: amt})
	}
	sort.Slice(s.DailyBreakdown, func(i, j int) bool { return s.DailyBreakdown[i].Date < s.DailyBreakdown[j].Date })
	return s, nil
}

// workbook writes header plus rows to the first sheet, renamed to sheet.
func workbook(sheet string, header []any, rows [][]any) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
		return nil, err
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
		return nil, err
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, err
	}
	return f.WriteToBuffer()
}

func money(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

func optUint(v *uint) any {
	if v == nil {
		return ""
	}
	return *v
}

// PaymentsWorkbook exports payments created in r, newest first.
func PaymentsWorkbook(db *gorm.DB, r Range, status string) (*bytes.Buffer, error) {
	dbq := r.Apply(db.Model(&models.Payment{}))
	if status != "" {
		dbq = dbq.Where("status = ?", status)
	}
	var list []models.Payment
	if err := dbq.Order("created_at DESC, id DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	header := []any{"Reference", "Created", "User ID", "Status", "Amount", "Currency", "Method", "Paynow Reference", "Transaction Type", "Property ID"}
	rows := make([][]any, 0, len(list))
	for _, p := range list {
		method, txType := "web", ""
		if p.MobileMethod != nil {
			method = string(*p.MobileMethod)
		}
		if p.TransactionType != nil {
			txType = p.TransactionType.Label()
		}
		rows = append(rows, []any{
			p.Reference.String(),
			p.CreatedAt.Format("2006-01-02 15:04"),
			optUint(p.UserID),
			string(p.Status),
			money(p.Amount),
			p.Currency,
			method,
			p.PaynowReference,
			txType,
			optUint(p.PropertyID),
		})
	}
	return workbook("Payments", header, rows)
}

// TransactionsWorkbook exports ledger entries created in r, newest first.
func TransactionsWorkbook(db *gorm.DB, r Range, txType string) (*bytes.Buffer, error) {
	dbq := r.Apply(db.Model(&models.Transaction{}))
	if txType != "" {
		dbq = dbq.Where("type = ?", txType)
	}
	var list []models.Transaction
	if err := dbq.Order("created_at DESC, id DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	header := []any{"ID", "Created", "User ID", "Type", "Amount", "Payment ID", "Property ID", "Rental Contract", "Sale Contract", "Subscription"}
	rows := make([][]any, 0, len(list))
	for _, t := range list {
		rows = append(rows, []any{
			t.ID,
			t.CreatedAt.Format("2006-01-02 15:04"),
			t.UserID,
			t.Type.Label(),
			money(t.Amount),
			t.PaymentID,
			optUint(t.PropertyID),
			optUint(t.RentalContractID),
			optUint(t.SaleContractID),
			optUint(t.SubscriptionID),
		})
	}
	return workbook("Transactions", header, rows)
}
