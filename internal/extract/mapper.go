package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ventasync/backend/internal/domain"
)

// saleTypeSynonyms maps normalized source classifications to the
// canonical sale types.
var saleTypeSynonyms = map[string]string{
	"contado":         domain.SaleTypeCash,
	"contado_credito": domain.SaleTypeCashCredit,
	"credito":         domain.SaleTypeCredit,
	"alianza":         domain.SaleTypeAlliance,
	"alianzas":        domain.SaleTypeAlliance,
}

// MapRecords converts parsed rows into typed SalesRecords using the
// column index. Rows are never dropped here: a row with an unparseable
// date is flagged Invalid and later counted as an invalid row instead of
// being inserted with a guessed date. Blank or unparseable amounts
// default to zero. Negative amounts are returns and pass through signed.
func MapRecords(rows [][]string, index ColumnIndex) []domain.SalesRecord {
	records := make([]domain.SalesRecord, 0, len(rows))
	for i, row := range rows {
		rec := domain.SalesRecord{
			AdvisorCode:   index.Field(row, FieldAdvisorCode),
			BranchCode:    index.Field(row, FieldBranchCode),
			SaleType:      NormalizeSaleType(index.Field(row, FieldSaleType)),
			PaymentMethod: index.Field(row, FieldPaymentMethod),
			NetAmount:     ParseAmount(index.Field(row, FieldNetAmount)),
			ClientID:      index.Field(row, FieldClientID),
			Product:       index.Field(row, FieldProduct),
			DocumentType:  index.Field(row, FieldDocumentType),
		}

		rawDate := index.Field(row, FieldTransactionDate)
		date, err := ParseDate(rawDate)
		if err != nil {
			rec.Invalid = true
			rec.InvalidReason = fmt.Sprintf("row %d: %v", i+2, err)
		} else {
			rec.TransactionDate = date
		}
		records = append(records, rec)
	}
	return records
}

// ParseDate accepts ISO dates as-is and slashed or dashed forms by
// locating the 4-digit segment as the year. Two short leading segments
// are read day-first, matching the source system.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	// Timestamps like "2026-01-15 00:00:00" keep only the date part.
	if idx := strings.IndexAny(raw, " T"); idx > 0 {
		raw = raw[:idx]
	}

	sep := "-"
	if strings.Contains(raw, "/") {
		sep = "/"
	}
	parts := strings.Split(raw, sep)
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
	}

	var year, month, day string
	switch {
	case len(parts[0]) == 4:
		year, month, day = parts[0], parts[1], parts[2]
	case len(parts[2]) == 4:
		day, month, year = parts[0], parts[1], parts[2]
	default:
		return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
	}

	parsed, err := time.Parse("2006-1-2", fmt.Sprintf("%s-%s-%s", year, month, day))
	if err != nil {
		// Day-first guess may really be month-first (e.g. 12/25/2026).
		parsed, err = time.Parse("2006-1-2", fmt.Sprintf("%s-%s-%s", year, day, month))
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
		}
	}
	return parsed, nil
}

// ParseAmount coerces a numeric field, tolerating thousands separators
// and comma decimal marks. Blank or unparseable values become zero.
func ParseAmount(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	raw = strings.ReplaceAll(raw, " ", "")

	// "1.234.567,89" and "1,234,567.89" both appear in source extracts.
	// A lone trailing comma group is a decimal mark; repeated commas are
	// thousands separators.
	lastComma := strings.LastIndex(raw, ",")
	lastDot := strings.LastIndex(raw, ".")
	if lastComma > lastDot && strings.Count(raw, ",") == 1 {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.Replace(raw, ",", ".", 1)
	} else {
		raw = strings.ReplaceAll(raw, ",", "")
		if strings.Count(raw, ".") > 1 {
			raw = strings.ReplaceAll(raw, ".", "")
		}
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

// NormalizeSaleType maps source classifications onto the canonical enum.
// Empty stays empty; unknown non-empty values become OTHER.
func NormalizeSaleType(raw string) string {
	normalized := NormalizeHeader(raw)
	if normalized == "" {
		return ""
	}
	if canonical, ok := saleTypeSynonyms[normalized]; ok {
		return canonical
	}
	return domain.SaleTypeOther
}
