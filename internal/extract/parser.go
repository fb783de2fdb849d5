package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrMalformedFile     = errors.New("malformed file: no data rows")
	ErrMissingDateColumn = errors.New("missing required transaction date column")
)

// DetectDelimiter picks the field delimiter by comparing counts of ';'
// and ',' on the header line. More semicolons wins; ties go to comma.
func DetectDelimiter(headerLine string) rune {
	if strings.Count(headerLine, ";") > strings.Count(headerLine, ",") {
		return ';'
	}
	return ','
}

// Parse tokenizes raw extract content into a header row and data rows.
// Double-quote-enclosed fields may contain the delimiter; quotes are
// stripped from field boundaries. Rows may have ragged field counts, the
// mapper indexes positionally and tolerates short rows.
func Parse(content string) ([]string, [][]string, error) {
	content = strings.TrimPrefix(content, "\uFEFF")
	firstLine := content
	if idx := strings.IndexAny(content, "\r\n"); idx >= 0 {
		firstLine = content[:idx]
	}

	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = DetectDelimiter(firstLine)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, ErrMalformedFile
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	var rows [][]string
	lineNum := 1
	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if isBlankRow(row) {
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, nil, ErrMalformedFile
	}
	return header, rows, nil
}

func isBlankRow(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
