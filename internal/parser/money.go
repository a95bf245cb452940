package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var numericRun = regexp.MustCompile(`[\d,.]+`)

// parseMoney converts strings like "$1,234.56", "($12.00)", "+3.10" or "-$5"
// into an exact decimal. Empty and placeholder values parse as zero.
func parseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" || strings.EqualFold(s, "n/a") {
		return decimal.Zero, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	s = strings.TrimPrefix(s, "+")
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}
	if s == "" {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// moneyOrZero is parseMoney for cells where a malformed value means "no value"
func moneyOrZero(s string) decimal.Decimal {
	d, err := parseMoney(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// quantityOrZero extracts the first numeric run, e.g. "100 shs" -> 100
func quantityOrZero(s string) decimal.Decimal {
	m := numericRun.FindString(s)
	if m == "" {
		return decimal.Zero
	}
	return moneyOrZero(m)
}

// readRecords reads a CSV tolerating ragged rows, stray quotes and a UTF-8 BOM
func readRecords(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

// columns is a case-insensitive header index
type columns map[string]int

func newColumns(header []string) columns {
	cols := make(columns, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, exists := cols[key]; !exists && key != "" {
			cols[key] = i
		}
	}
	return cols
}

// find returns the index of the first candidate present, or -1
func (c columns) find(names ...string) int {
	for _, name := range names {
		if idx, ok := c[strings.ToLower(name)]; ok {
			return idx
		}
	}
	return -1
}

// cell returns row[idx] trimmed, or "" when idx is missing
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// firstCell returns the first non-empty cell of a row
func firstCell(row []string) string {
	for _, v := range row {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
