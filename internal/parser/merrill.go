package parser

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
	"github.com/shopspring/decimal"
)

var (
	merrillSymbolCols      = []string{"Symbol", "Ticker", "Security", "Security Symbol"}
	merrillDescriptionCols = []string{"Description", "Security Description", "Name", "Security Name"}
	merrillQuantityCols    = []string{"Quantity", "Shares", "Qty", "Units"}
	merrillPriceCols       = []string{"Price", "Last Price", "Market Price", "Current Price", "Unit Price"}
	merrillValueCols       = []string{"Value", "Market Value", "Total Value", "Current Value", "Amount"}
	merrillAccountTypeCols = []string{"Account Type", "Acct Type"}
	merrillSecTypeCols     = []string{"Security Type", "Type", "Asset Type", "Asset Class"}
	merrillAccountCols     = []string{"Account", "Account Number", "Acct"}

	// placeholder symbols Merrill uses for sweep and settlement balances
	merrillCashSymbols = map[string]bool{
		"CASH": true, "CORE": true, "SWEEP": true, "SETTLEMENT": true,
		"USD": true, "MMDA": true, "BANK DEPOSIT": true,
	}

	// phrases that mark a cash row whatever its symbol
	merrillCashPhrases = regexp.MustCompile(`(?i)\b(money market|bank deposit|fdic|cash balance|available cash|uninvested|core position|sweep (account|program|fund))\b`)

	// looser words accepted only when the row has no symbol
	merrillBlankSymbolCash = regexp.MustCompile(`(?i)\b(cash|sweep|settlement)\b`)

	merrillPending = regexp.MustCompile(`(?i)\bpending\b`)

	merrillFooterSymbol = regexp.MustCompile(`(?i)^(total|pending.*|balances)$`)
)

// MerrillParser parses Merrill Lynch holdings exports. The data section sits
// between an account summary preamble and a totals footer.
type MerrillParser struct {
	classifier AssetClassifier
}

// NewMerrillParser creates a Merrill parser
func NewMerrillParser(classifier AssetClassifier) *MerrillParser {
	return &MerrillParser{classifier: classifier}
}

// Broker returns the registry key
func (p *MerrillParser) Broker() string {
	return "merrill"
}

type merrillSection struct {
	header []string
	rows   [][]string
}

// dataSection locates the header row and returns the rows up to the footer
func (p *MerrillParser) dataSection(data []byte) (*merrillSection, error) {
	records, err := readRecords(data)
	if err != nil {
		return nil, err
	}

	headerIdx := -1
	for i, row := range records {
		joined := strings.ToLower(strings.Join(row, " "))
		if strings.Contains(joined, "symbol") && strings.Contains(joined, "description") && strings.Contains(joined, "quantity") {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, errors.New("could not find data section with Symbol/Description/Quantity columns")
	}

	section := &merrillSection{header: records[headerIdx]}
	for _, row := range records[headerIdx+1:] {
		if isBlankRow(row) {
			continue
		}
		first := firstCell(row)
		if strings.HasPrefix(first, "Total") || strings.HasPrefix(first, "Balances") {
			break
		}
		section.rows = append(section.rows, row)
	}
	return section, nil
}

// Validate checks the data section and required columns exist
func (p *MerrillParser) Validate(data []byte) error {
	section, err := p.dataSection(data)
	if err != nil {
		return err
	}
	if len(section.rows) == 0 {
		return errors.New("CSV file is empty or has no valid data section")
	}

	cols := newColumns(section.header)
	if cols.find(merrillSymbolCols...) < 0 {
		return errors.New("could not find Symbol/Ticker column")
	}
	if cols.find(merrillQuantityCols...) < 0 {
		return errors.New("could not find Quantity/Shares column")
	}
	if cols.find(merrillValueCols...) < 0 {
		return errors.New("could not find Value/Market Value column")
	}
	return nil
}

type merrillColumns struct {
	symbol, description, quantity, price, value, accountType, secType, account int
}

// Parse extracts holdings, keeping cash rows and dropping footer rows
func (p *MerrillParser) Parse(ctx context.Context, data []byte) (*ParsedPortfolio, error) {
	logger := logging.FromContext(ctx).WithField("broker", p.Broker())

	section, err := p.dataSection(data)
	if err != nil {
		return nil, err
	}
	cols := newColumns(section.header)
	mc := merrillColumns{
		symbol:      cols.find(merrillSymbolCols...),
		description: cols.find(merrillDescriptionCols...),
		quantity:    cols.find(merrillQuantityCols...),
		price:       cols.find(merrillPriceCols...),
		value:       cols.find(merrillValueCols...),
		accountType: cols.find(merrillAccountTypeCols...),
		secType:     cols.find(merrillSecTypeCols...),
		account:     cols.find(merrillAccountCols...),
	}
	if mc.symbol < 0 || mc.quantity < 0 || mc.value < 0 {
		return nil, errors.New("could not map required columns")
	}

	portfolio := &ParsedPortfolio{Broker: p.Broker(), TotalValue: decimal.Zero}
	for _, row := range section.rows {
		if portfolio.AccountLast4 == "" {
			portfolio.AccountLast4 = last4(cell(row, mc.account))
		}
		if merrillFooterSymbol.MatchString(cell(row, mc.symbol)) {
			continue
		}

		h := p.parseRow(ctx, row, mc)
		if h == nil || !h.TotalValue.IsPositive() {
			continue
		}
		portfolio.Holdings = append(portfolio.Holdings, *h)
		portfolio.TotalValue = portfolio.TotalValue.Add(h.TotalValue)
	}

	logger.WithFields(map[string]interface{}{
		"holdings":   len(portfolio.Holdings),
		"totalValue": portfolio.TotalValue.StringFixed(2),
		"cash":       portfolio.TotalCash().StringFixed(2),
	}).Info("Parsed Merrill export")

	return portfolio, nil
}

func (p *MerrillParser) parseRow(ctx context.Context, row []string, mc merrillColumns) *ParsedHolding {
	symbol := normalizeSymbol(cell(row, mc.symbol))
	description := cell(row, mc.description)
	if merrillPending.MatchString(symbol) || merrillPending.MatchString(description) {
		return nil
	}
	isCash := merrillIsCash(symbol, description)

	if symbol == "" {
		if !isCash {
			return nil
		}
		symbol = models.CashSymbol
	}

	quantity := quantityOrZero(cell(row, mc.quantity))
	if quantity.IsZero() && !isCash {
		return nil
	}

	totalValue := moneyOrZero(cell(row, mc.value))
	if totalValue.IsZero() {
		return nil
	}

	h := &ParsedHolding{
		Symbol:      symbol,
		Name:        description,
		AccountType: accountType(cell(row, mc.accountType)),
	}
	if h.Name == "" {
		h.Name = symbol
	}

	if isCash {
		h.Quantity = decimal.NewFromInt(1)
		h.Price = totalValue
		h.TotalValue = totalValue
		h.AssetType = models.AssetTypeCash
		return h
	}

	h.Quantity = quantity
	h.TotalValue = totalValue
	h.Price = totalValue.DivRound(quantity, 4)
	if m := numericRun.FindString(cell(row, mc.price)); m != "" {
		if price := moneyOrZero(m); price.IsPositive() {
			h.Price = price
			h.TotalValue = price.Mul(quantity).Round(2)
		}
	}
	h.AssetType, _ = p.classifier.Resolve(ctx, symbol, description, cell(row, mc.secType))
	return h
}

// merrillIsCash matches placeholder symbols and whole cash phrases only, so
// fund names such as "iShares Core" stay investments
func merrillIsCash(symbol, description string) bool {
	if merrillCashSymbols[strings.ToUpper(symbol)] {
		return true
	}
	if merrillCashPhrases.MatchString(description) {
		return true
	}
	return symbol == "" && merrillBlankSymbolCash.MatchString(description)
}
