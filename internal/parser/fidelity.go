package parser

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
	"github.com/shopspring/decimal"
)

// fidelityCUSIPs maps fund CUSIPs that appear in 401k exports to tickers
var fidelityCUSIPs = map[string]string{
	"31617E745": "FXAIX", // Fidelity 500 Index
	"31617E703": "FSKAX", // Fidelity Total Market Index
	"31617E679": "FTIHX", // Fidelity Total International Index
	"31617E760": "FXNAX", // Fidelity US Bond Index
	"316146109": "FLCSX",
	"316146208": "FLCOX",
	"316390772": "FMIJX",
	"316390699": "FSSNX",
	"31635V638": "FXIFX",
	"31635V679": "FSPSX",
	"315792879": "FBALX",
	"315911206": "FCNTX",
	"315792507": "FBGRX",
	"315920719": "FDGRX",
	"67080C105": "VINIX",
	"922908728": "VIIIX",
	"87281G408": "TRRDX", // T. Rowe Price Retirement 2035
	"87281J402": "TRRKX",
	"87281G507": "TRRCX",
	"87281G705": "TRRAX",
	"87281J501": "TRRLX",
	"87281J600": "TRRMX",
	"87281G101": "TRRGX",
}

var fidelityMoneyMarkets = map[string]bool{
	"SPAXX": true, "FDRXX": true, "FZFXX": true, "SPRXX": true, "FDLXX": true,
	"FTEXX": true, "FRGXX": true, "FCASH": true, "CORE": true, "FLGXX": true,
}

var fidelityCashPhrases = []string{
	"held in money market",
	"held in fcash",
	"core position",
	"government money market",
}

var fidelityRequiredHeaders = []string{"Account Number", "Account Name", "Symbol", "Description", "Current Value"}

var fidelityExportDate = regexp.MustCompile(`(?i)(\w+)-(\d+)-(\d+)\s+at\s+(\d+):(\d+)\s*(a\.?m|p\.?m)?`)

// FidelityParser parses Fidelity positions exports. The Type column is
// unreliable (it reports "Cash" for equities) and is ignored.
type FidelityParser struct {
	classifier AssetClassifier
}

// NewFidelityParser creates a Fidelity parser
func NewFidelityParser(classifier AssetClassifier) *FidelityParser {
	return &FidelityParser{classifier: classifier}
}

// Broker returns the registry key
func (p *FidelityParser) Broker() string {
	return "fidelity"
}

// Validate requires at least three of the expected headers on the first line
func (p *FidelityParser) Validate(data []byte) error {
	text := strings.TrimPrefix(string(data), "\ufeff")
	firstLine, _, _ := strings.Cut(text, "\n")

	found := 0
	for _, h := range fidelityRequiredHeaders {
		if strings.Contains(firstLine, h) {
			found++
		}
	}
	if found < 3 {
		return errors.New("missing Fidelity CSV headers")
	}
	return nil
}

type fidelityColumns struct {
	accountNumber, accountName, symbol, description, quantity, price, value int
}

// Parse extracts holdings. Multiple accounts in one export are folded into a
// single snapshot keyed by the first account number.
func (p *FidelityParser) Parse(ctx context.Context, data []byte) (*ParsedPortfolio, error) {
	logger := logging.FromContext(ctx).WithField("broker", p.Broker())

	text := strings.TrimPrefix(string(data), "\ufeff")
	lines := strings.Split(strings.TrimSpace(text), "\n")

	exportDate := p.exportDate(lines)
	kept := lines[:0:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.Trim(strings.TrimSpace(line), `"`), "Date downloaded") {
			continue
		}
		kept = append(kept, line)
	}

	records, err := readRecords([]byte(strings.Join(kept, "\n")))
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, ErrNoHoldings
	}

	cols := newColumns(records[0])
	fc := fidelityColumns{
		accountNumber: cols.find("Account Number"),
		accountName:   cols.find("Account Name"),
		symbol:        cols.find("Symbol"),
		description:   cols.find("Description"),
		quantity:      cols.find("Quantity"),
		price:         cols.find("Last Price"),
		value:         cols.find("Current Value"),
	}
	if fc.symbol < 0 || fc.value < 0 {
		return nil, errors.New("could not map Symbol/Current Value columns")
	}

	portfolio := &ParsedPortfolio{
		Broker:          p.Broker(),
		ExportTimestamp: exportDate,
		TotalValue:      decimal.Zero,
	}
	for _, row := range records[1:] {
		h, account := p.parseRow(ctx, row, fc)
		if h == nil {
			continue
		}
		if portfolio.AccountLast4 == "" {
			portfolio.AccountLast4 = last4(account)
		}
		portfolio.Holdings = append(portfolio.Holdings, *h)
		portfolio.TotalValue = portfolio.TotalValue.Add(h.TotalValue)
	}

	logger.WithFields(map[string]interface{}{
		"holdings":   len(portfolio.Holdings),
		"totalValue": portfolio.TotalValue.StringFixed(2),
		"cash":       portfolio.TotalCash().StringFixed(2),
		"exportDate": exportDate,
	}).Info("Parsed Fidelity export")

	return portfolio, nil
}

func (p *FidelityParser) parseRow(ctx context.Context, row []string, fc fidelityColumns) (*ParsedHolding, string) {
	account := cell(row, fc.accountNumber)
	symbol := normalizeSymbol(cell(row, fc.symbol))
	description := cell(row, fc.description)

	if account == "" && description == "" && symbol == "" {
		return nil, ""
	}
	// disclaimer and footer rows land in the account column
	if len(account) > 20 || strings.Contains(account, "Fidelity") {
		return nil, ""
	}
	if strings.Contains(strings.ToLower(symbol), "pending") || strings.Contains(strings.ToLower(description), "pending") {
		return nil, ""
	}

	value := moneyOrZero(cell(row, fc.value))
	if value.IsZero() && symbol == "" {
		return nil, ""
	}

	if fidelityIsCash(symbol, description) {
		if value.IsZero() {
			return nil, ""
		}
		if symbol == "" {
			symbol = models.CashSymbol
		}
		name := description
		if name == "" {
			name = "Cash"
		}
		return &ParsedHolding{
			Symbol:     symbol,
			Name:       name,
			Quantity:   decimal.NewFromInt(1),
			Price:      value,
			TotalValue: value,
			AssetType:  models.AssetTypeCash,
		}, account
	}
	if symbol == "" {
		return nil, ""
	}

	h := &ParsedHolding{
		Symbol:     symbol,
		Name:       description,
		Quantity:   moneyOrZero(cell(row, fc.quantity)),
		Price:      moneyOrZero(cell(row, fc.price)),
		TotalValue: value,
	}
	if isCUSIP(symbol) {
		if ticker, ok := fidelityCUSIPs[symbol]; ok {
			h.Symbol = ticker
			h.OriginalSymbol = symbol
		} else {
			h.NeedsReview = true
			logging.FromContext(ctx).WithField("cusip", symbol).Warn("Unmapped CUSIP, keeping identifier")
		}
	}
	if h.Name == "" {
		h.Name = h.Symbol
	}
	if h.Price.IsZero() && h.Quantity.IsPositive() {
		h.Price = value.DivRound(h.Quantity, 4)
	}
	h.AssetType, _ = p.classifier.Resolve(ctx, h.Symbol, description, "")
	return h, account
}

// exportDate reads the trailing "Date downloaded Oct-19-2026 at 3:04 p.m ET"
// line. Returns nil when the line is missing or malformed.
func (p *FidelityParser) exportDate(lines []string) *time.Time {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.Trim(strings.TrimSpace(lines[i]), `"`)
		if !strings.HasPrefix(line, "Date downloaded") {
			continue
		}
		m := fidelityExportDate.FindStringSubmatch(line)
		if m == nil {
			break
		}
		month := monthNumber(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		hour, _ := strconv.Atoi(m[4])
		minute, _ := strconv.Atoi(m[5])
		ampm := strings.ToLower(m[6])
		switch {
		case strings.HasPrefix(ampm, "p") && hour != 12:
			hour += 12
		case strings.HasPrefix(ampm, "a") && hour == 12:
			hour = 0
		}
		ts := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
		return &ts
	}
	return nil
}

func monthNumber(s string) time.Month {
	s = strings.ToLower(s)
	if len(s) > 3 {
		s = s[:3]
	}
	for m := time.January; m <= time.December; m++ {
		if strings.ToLower(m.String()[:3]) == s {
			return m
		}
	}
	return time.January
}

func fidelityIsCash(symbol, description string) bool {
	desc := strings.ToLower(description)
	for _, phrase := range fidelityCashPhrases {
		if strings.Contains(desc, phrase) {
			return true
		}
	}
	return fidelityMoneyMarkets[symbol]
}

// isCUSIP reports whether a symbol looks like a 9 character CUSIP rather than a ticker
func isCUSIP(symbol string) bool {
	if len(symbol) == 9 && unicode.IsDigit(rune(symbol[0])) {
		return true
	}
	if len(symbol) > 5 {
		for _, r := range symbol {
			if unicode.IsDigit(r) {
				return true
			}
		}
	}
	return false
}
