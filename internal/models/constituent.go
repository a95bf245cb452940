package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Constituent is a security held inside an ETF or mutual fund.
// Weight is a fraction of the fund's value; Value is the estimated dollar
// amount (Weight x fund value). Sector, Industry, Country and Geography
// are filled in by a later enrichment pass.
type Constituent struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Weight    decimal.Decimal `json:"weight"`
	Value     decimal.Decimal `json:"value"`
	Sector    string          `json:"sector,omitempty"`
	Industry  string          `json:"industry,omitempty"`
	Country   string          `json:"country,omitempty"`
	Geography string          `json:"geography,omitempty"`
}

// NeedsInfo reports whether sector enrichment is still missing
func (c *Constituent) NeedsInfo() bool {
	return c.Sector == ""
}

// Constituents is the ordered constituent list stored as a JSON column.
type Constituents []Constituent

// Value implements driver.Valuer
func (c Constituents) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal([]Constituent(c))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal constituents: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (c *Constituents) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Constituents", src)
	}
	if len(data) == 0 || string(data) == "null" {
		*c = nil
		return nil
	}

	var list []Constituent
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("failed to unmarshal constituents: %w", err)
	}
	*c = list
	return nil
}

// TotalWeight sums the weights. Funds may omit cash and derivative
// positions so the result need not equal one.
func (c Constituents) TotalWeight() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c {
		total = total.Add(item.Weight)
	}
	return total
}

// Clone returns a copy that can be mutated without touching the original
func (c Constituents) Clone() Constituents {
	if c == nil {
		return nil
	}
	out := make(Constituents, len(c))
	copy(out, c)
	return out
}
