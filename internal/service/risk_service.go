package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/securityinfo"
)

// RiskLevel is the overall concentration risk
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Risk thresholds in percent of total portfolio value
var (
	ConcentrationThreshold = decimal.NewFromInt(20)
	highRiskThreshold      = decimal.NewFromInt(30)
	minBreakdownPct        = decimal.RequireFromString("0.1")
	geographyCompleteness  = decimal.RequireFromString("99.5")
)

const (
	bucketCash  = "Cash"
	bucketOther = "Other"
)

// ConcentrationEntry is a stock whose combined direct and fund-embedded
// allocation exceeds the threshold
type ConcentrationEntry struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Value         decimal.Decimal `json:"value"`
	AllocationPct decimal.Decimal `json:"allocationPct"`
}

// Allocation is one labelled slice of a breakdown
type Allocation struct {
	Label      string          `json:"label"`
	Percentage decimal.Decimal `json:"percentage"`
}

// RiskMetrics summarizes concentration, sector and geography exposure
type RiskMetrics struct {
	Concentration []ConcentrationEntry `json:"concentration"`
	Sectors       []Allocation         `json:"sectors"`
	Geography     []Allocation         `json:"geography"`
	OverallRisk   RiskLevel            `json:"overallRisk"`
	TotalValue    decimal.Decimal      `json:"totalValue"`
	CashValue     decimal.Decimal      `json:"cashValue"`
}

// RiskService computes risk metrics over the aggregated portfolio
type RiskService struct {
	aggregator *HoldingsAggregator
}

// NewRiskService creates a risk service
func NewRiskService(aggregator *HoldingsAggregator) *RiskService {
	return &RiskService{aggregator: aggregator}
}

// Metrics computes risk metrics for the latest snapshots
func (s *RiskService) Metrics(ctx context.Context) (*RiskMetrics, error) {
	portfolio, err := s.aggregator.Aggregate(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeRisk(portfolio.Positions()), nil
}

// ComputeRisk derives risk metrics from raw positions. Missing sector or
// country data falls into the Unknown bucket.
func ComputeRisk(positions []*models.Holding) *RiskMetrics {
	m := &RiskMetrics{
		Concentration: []ConcentrationEntry{},
		Sectors:       []Allocation{},
		Geography:     []Allocation{},
		OverallRisk:   RiskLow,
		TotalValue:    decimal.Zero,
		CashValue:     decimal.Zero,
	}
	for _, h := range positions {
		m.TotalValue = m.TotalValue.Add(h.TotalValue)
		if h.IsCash() {
			m.CashValue = m.CashValue.Add(h.TotalValue)
		}
	}
	if !m.TotalValue.IsPositive() {
		return m
	}

	m.Concentration = concentration(positions, m.TotalValue)
	m.Sectors = sectorBreakdown(positions, m.TotalValue)
	m.Geography = geographyBreakdown(positions, m.TotalValue)
	m.OverallRisk = overallRisk(m.Concentration)
	return m
}

func concentration(positions []*models.Holding, total decimal.Decimal) []ConcentrationEntry {
	values := newBuckets()
	names := make(map[string]string)

	for _, h := range positions {
		switch {
		case h.AssetType == models.AssetTypeStock:
			values.add(h.Symbol, h.TotalValue)
			if _, ok := names[h.Symbol]; !ok {
				names[h.Symbol] = orSymbol(h.Name, h.Symbol)
			}
		case h.AssetType.IsFund():
			for _, c := range constituentsOf(h) {
				values.add(c.Symbol, c.Value)
				if _, ok := names[c.Symbol]; !ok {
					names[c.Symbol] = orSymbol(c.Name, c.Symbol)
				}
			}
		}
	}

	out := []ConcentrationEntry{}
	for _, symbol := range values.order {
		v := values.sums[symbol]
		pct := percentOf(v, total, 2)
		if pct.GreaterThan(ConcentrationThreshold) {
			out = append(out, ConcentrationEntry{Symbol: symbol, Name: names[symbol], Value: v, AllocationPct: pct})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AllocationPct.GreaterThan(out[j].AllocationPct) })
	return out
}

func sectorBreakdown(positions []*models.Holding, total decimal.Decimal) []Allocation {
	sums := newBuckets()
	for _, h := range positions {
		if h.IsCash() {
			continue
		}
		if list := constituentsOf(h); len(list) > 0 {
			for _, c := range list {
				sums.add(orUnknown(c.Sector), c.Value)
			}
			continue
		}
		sums.add(orUnknown(h.Sector), h.TotalValue)
	}

	out := sums.allocations(total)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Percentage.GreaterThan(out[j].Percentage) })
	return out
}

func geographyBreakdown(positions []*models.Holding, total decimal.Decimal) []Allocation {
	sums := newBuckets()
	for _, h := range positions {
		if h.IsCash() {
			sums.add(bucketCash, h.TotalValue)
			continue
		}
		if list := constituentsOf(h); len(list) > 0 {
			for _, c := range list {
				geo := c.Geography
				if geo == "" {
					geo = securityinfo.GeographyFor(c.Country)
				}
				sums.add(geo, c.Value)
			}
			continue
		}
		sums.add(securityinfo.GeographyFor(h.Country), h.TotalValue)
	}

	out := sums.allocations(total)

	// constituent lists rarely cover 100% of a fund; attribute the gap
	covered := decimal.Zero
	for _, a := range out {
		covered = covered.Add(a.Percentage)
	}
	if covered.LessThan(geographyCompleteness) {
		remainder := hundred.Sub(covered).Round(1)
		if remainder.GreaterThanOrEqual(minBreakdownPct) {
			merged := false
			for i := range out {
				if out[i].Label == securityinfo.GeographyUnknown {
					out[i].Percentage = out[i].Percentage.Add(remainder)
					merged = true
				}
			}
			if !merged {
				out = append(out, Allocation{Label: bucketOther, Percentage: remainder})
			}
		}
	}

	rank := func(label string) int {
		switch label {
		case bucketCash:
			return 1
		case securityinfo.GeographyUnknown, bucketOther:
			return 2
		default:
			return 0
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].Label), rank(out[j].Label)
		if ri != rj {
			return ri < rj
		}
		return out[i].Percentage.GreaterThan(out[j].Percentage)
	})
	return out
}

func overallRisk(entries []ConcentrationEntry) RiskLevel {
	maxPct := decimal.Zero
	for _, e := range entries {
		if e.AllocationPct.GreaterThan(maxPct) {
			maxPct = e.AllocationPct
		}
	}
	switch {
	case maxPct.GreaterThan(highRiskThreshold):
		return RiskHigh
	case maxPct.GreaterThan(ConcentrationThreshold):
		return RiskMedium
	default:
		return RiskLow
	}
}

// buckets sums values by label, remembering first-seen order
type buckets struct {
	sums  map[string]decimal.Decimal
	order []string
}

func newBuckets() *buckets {
	return &buckets{sums: make(map[string]decimal.Decimal)}
}

func (b *buckets) add(label string, v decimal.Decimal) {
	cur, ok := b.sums[label]
	if !ok {
		b.order = append(b.order, label)
	}
	b.sums[label] = cur.Add(v)
}

// allocations converts sums to percentages, dropping slices under 0.1%
func (b *buckets) allocations(total decimal.Decimal) []Allocation {
	out := []Allocation{}
	for _, label := range b.order {
		pct := percentOf(b.sums[label], total, 1)
		if pct.GreaterThanOrEqual(minBreakdownPct) {
			out = append(out, Allocation{Label: label, Percentage: pct})
		}
	}
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return securityinfo.Unknown
	}
	return s
}

func orSymbol(name, symbol string) string {
	if name == "" {
		return symbol
	}
	return name
}
