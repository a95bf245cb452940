// Package parser turns broker CSV exports into a normalized ParsedPortfolio.
// Each broker has its own Parser registered by broker name.
package parser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
	"github.com/shopspring/decimal"
)

// ErrNoHoldings is returned when a file parses but contains no positions
var ErrNoHoldings = errors.New("no holdings found")

// ParsedHolding is one normalized position from a CSV row
type ParsedHolding struct {
	Symbol      string
	Name        string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TotalValue  decimal.Decimal
	AssetType   models.AssetType
	AccountType string

	// OriginalSymbol is set when the symbol was rewritten, e.g. CUSIP -> ticker
	OriginalSymbol string
	// NeedsReview flags identifiers that could not be mapped to a ticker
	NeedsReview bool
}

// String implements fmt.Stringer for log fields
func (h ParsedHolding) String() string {
	return fmt.Sprintf("%s %s %s", h.Symbol, h.AssetType, h.TotalValue.StringFixed(2))
}

// ParsedPortfolio is the result of parsing one export file
type ParsedPortfolio struct {
	Broker          string
	AccountLast4    string
	ExportTimestamp *time.Time
	Holdings        []ParsedHolding
	TotalValue      decimal.Decimal
}

// TotalCash sums the cash positions
func (p *ParsedPortfolio) TotalCash() decimal.Decimal {
	total := decimal.Zero
	for _, h := range p.Holdings {
		if h.AssetType == models.AssetTypeCash {
			total = total.Add(h.TotalValue)
		}
	}
	return total
}

// Parser parses one broker's export format
type Parser interface {
	// Broker returns the registry key, e.g. "merrill"
	Broker() string
	// Validate checks the file looks like this broker's export
	Validate(data []byte) error
	// Parse extracts the holdings. A failure never yields a partial portfolio.
	Parse(ctx context.Context, data []byte) (*ParsedPortfolio, error)
}

// AssetClassifier resolves the asset type of a non-cash row
type AssetClassifier interface {
	Resolve(ctx context.Context, symbol, description, typeHint string) (models.AssetType, string)
}

// Registry maps broker names to parsers
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates a registry with the given parsers
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// NewDefaultRegistry registers every built-in broker parser
func NewDefaultRegistry(classifier AssetClassifier) *Registry {
	return NewRegistry(
		NewMerrillParser(classifier),
		NewFidelityParser(classifier),
	)
}

// Register adds or replaces a parser
func (r *Registry) Register(p Parser) {
	r.parsers[strings.ToLower(p.Broker())] = p
}

// Get returns the parser for a broker or an unsupported-broker error
func (r *Registry) Get(broker string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(strings.TrimSpace(broker))]
	if !ok {
		return nil, apperrors.NewUnsupportedBrokerError(broker, r.Brokers())
	}
	return p, nil
}

// Brokers lists registered broker names in sorted order
func (r *Registry) Brokers() []string {
	names := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateAndParse runs Validate then Parse, wrapping failures as parse errors
func (r *Registry) ValidateAndParse(ctx context.Context, broker string, data []byte) (*ParsedPortfolio, error) {
	p, err := r.Get(broker)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(data); err != nil {
		return nil, apperrors.NewParseError(p.Broker(), err)
	}
	portfolio, err := p.Parse(ctx, data)
	if err != nil {
		return nil, apperrors.NewParseError(p.Broker(), err)
	}
	if len(portfolio.Holdings) == 0 {
		return nil, apperrors.NewParseError(p.Broker(), ErrNoHoldings)
	}
	return portfolio, nil
}

// normalizeSymbol upper-cases and trims a ticker, dropping trailing '*' markers
func normalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimRight(s, "*")
	if s == "N/A" || s == "--" {
		return ""
	}
	return s
}

// last4 keeps the last four alphanumeric characters of an account number
func last4(account string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(account) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) < 4 {
		return ""
	}
	return s[len(s)-4:]
}

// accountType maps free-form account descriptions to taxable/ira/roth/401k
func accountType(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "roth"):
		return "roth"
	case strings.Contains(s, "ira"):
		return "ira"
	case strings.Contains(s, "401k"), strings.Contains(s, "401(k)"):
		return "401k"
	case strings.Contains(s, "taxable"), strings.Contains(s, "individual"), strings.Contains(s, "brokerage"):
		return "taxable"
	default:
		return ""
	}
}
