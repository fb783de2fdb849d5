package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Canonical field names produced by header normalization.
const (
	FieldTransactionDate = "transaction_date"
	FieldClientID        = "client_id"
	FieldNetAmount       = "net_amount"
	FieldAdvisorCode     = "advisor_code"
	FieldSaleType        = "sale_type"
	FieldBranchCode      = "branch_code"
	FieldPaymentMethod   = "payment_method"
	FieldProduct         = "product"
	FieldDocumentType    = "document_type"
)

// headerSynonyms maps normalized source headers to canonical fields. The
// accounting system renames columns between exports, so every observed
// variant is listed. Unknown headers are kept but unmapped.
var headerSynonyms = map[string]string{
	"fecha":              FieldTransactionDate,
	"fecha_fact":         FieldTransactionDate,
	"fecha_venta":        FieldTransactionDate,
	"fecha_factura":      FieldTransactionDate,
	"identifica":         FieldClientID,
	"identificacion":     FieldClientID,
	"cli_identificacion": FieldClientID,
	"vtas_ant_i":         FieldNetAmount,
	"vtasanti":           FieldNetAmount,
	"valor":              FieldNetAmount,
	"valor_neto":         FieldNetAmount,
	"codigo_ase":         FieldAdvisorCode,
	"cod_asesor":         FieldAdvisorCode,
	"asesor":             FieldAdvisorCode,
	"tipo_venta":         FieldSaleType,
	"tipoventa":          FieldSaleType,
	"sucursal":           FieldBranchCode,
	"cod_sucursal":       FieldBranchCode,
	"regional":           FieldBranchCode,
	"forma_pago":         FieldPaymentMethod,
	"metodo_pago":        FieldPaymentMethod,
	"producto":           FieldProduct,
	"linea":              FieldProduct,
	"tipo_doc":           FieldDocumentType,
	"tipo_documento":     FieldDocumentType,
}

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeHeader folds case, strips accents, collapses separator runs to
// a single underscore and trims leading/trailing underscores, so that
// "Fecha Fact.", "FECHA_FACT" and "fecha-fact" all normalize identically.
func NormalizeHeader(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if folded, _, err := transform.String(stripAccents, lowered); err == nil {
		lowered = folded
	}

	var b strings.Builder
	lastUnderscore := true
	for _, r := range lowered {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// ColumnIndex maps canonical field names to column positions in the
// parsed rows.
type ColumnIndex map[string]int

func (c ColumnIndex) Has(field string) bool {
	_, ok := c[field]
	return ok
}

// Field returns the trimmed value of a canonical field in row, or "" when
// the field is unmapped or the row is short.
func (c ColumnIndex) Field(row []string, field string) string {
	pos, ok := c[field]
	if !ok || pos >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[pos])
}

// IndexHeaders resolves the header row into a canonical column index.
// When two columns map to the same canonical field the first wins. Fails
// when no header maps to the transaction date, since date is required to
// assign records to a period.
func IndexHeaders(header []string) (ColumnIndex, error) {
	index := make(ColumnIndex, len(header))
	for pos, raw := range header {
		canonical, ok := headerSynonyms[NormalizeHeader(raw)]
		if !ok {
			continue
		}
		if _, taken := index[canonical]; taken {
			continue
		}
		index[canonical] = pos
	}
	if !index.Has(FieldTransactionDate) {
		return nil, ErrMissingDateColumn
	}
	return index, nil
}
