package securityinfo

import "strings"

// Geography is a coarse region derived from a country
const (
	GeographyUS                     = "US"
	GeographyInternationalDeveloped = "International Developed"
	GeographyEmergingMarkets        = "Emerging Markets"
	GeographyUnknown                = "Unknown"
)

// Unknown is the placeholder stored for fields the provider could not supply
const Unknown = "Unknown"

var usCountries = map[string]bool{
	"united states": true, "usa": true, "us": true,
}

var developedCountries = map[string]bool{
	"united kingdom": true, "japan": true, "germany": true, "france": true, "canada": true,
	"australia": true, "switzerland": true, "netherlands": true, "sweden": true, "norway": true,
	"denmark": true, "finland": true, "belgium": true, "austria": true, "ireland": true,
	"spain": true, "italy": true, "portugal": true, "singapore": true, "hong kong": true,
	"new zealand": true, "uk": true, "gbr": true,
}

var emergingCountries = map[string]bool{
	"china": true, "india": true, "brazil": true, "russia": true, "south korea": true,
	"taiwan": true, "mexico": true, "indonesia": true, "turkey": true, "saudi arabia": true,
	"south africa": true, "thailand": true, "malaysia": true, "poland": true, "chile": true,
	"philippines": true, "egypt": true, "united arab emirates": true, "colombia": true,
	"peru": true, "czech republic": true,
	"chn": true, "ind": true, "bra": true, "rus": true, "kor": true, "twn": true,
}

// exchangeSuffixCountry maps ticker exchange suffixes (the part after the
// last dot) to the listing country.
var exchangeSuffixCountry = map[string]string{
	"T":  "Japan",
	"L":  "United Kingdom",
	"DE": "Germany",
	"F":  "Germany",
	"PA": "France",
	"TO": "Canada",
	"AX": "Australia",
	"HK": "Hong Kong",
	"SW": "Switzerland",
	"AS": "Netherlands",
	"ST": "Sweden",
	"OL": "Norway",
	"CO": "Denmark",
	"HE": "Finland",
	"BR": "Belgium",
	"VI": "Austria",
	"IR": "Ireland",
	"MC": "Spain",
	"MI": "Italy",
	"LS": "Portugal",
	"SI": "Singapore",
	"NZ": "New Zealand",
	"SS": "China",
	"SZ": "China",
	"NS": "India",
	"BO": "India",
	"SA": "Brazil",
	"KS": "South Korea",
	"KQ": "South Korea",
	"TW": "Taiwan",
	"MX": "Mexico",
	"JK": "Indonesia",
	"IS": "Turkey",
	"SR": "Saudi Arabia",
	"JO": "South Africa",
	"BK": "Thailand",
	"KL": "Malaysia",
	"WA": "Poland",
	"SN": "Chile",
}

// GeographyFor maps a country to its region. Unlisted countries count as
// International Developed; an empty or Unknown country is Unknown.
func GeographyFor(country string) string {
	c := strings.ToLower(strings.TrimSpace(country))
	switch {
	case c == "" || c == strings.ToLower(Unknown):
		return GeographyUnknown
	case usCountries[c]:
		return GeographyUS
	case developedCountries[c]:
		return GeographyInternationalDeveloped
	case emergingCountries[c]:
		return GeographyEmergingMarkets
	default:
		return GeographyInternationalDeveloped
	}
}

// CountryFromSuffix infers the listing country from an exchange suffix
func CountryFromSuffix(symbol string) (string, bool) {
	i := strings.LastIndex(symbol, ".")
	if i < 0 || i == len(symbol)-1 {
		return "", false
	}
	country, ok := exchangeSuffixCountry[strings.ToUpper(symbol[i+1:])]
	return country, ok
}

// TickerVariants lists the spellings to try against the provider. Share
// class symbols such as BRK.B are tried as-is and as BRK-B; symbols with an
// exchange suffix are kept unchanged.
func TickerVariants(symbol string) []string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil
	}
	if _, ok := CountryFromSuffix(symbol); ok {
		return []string{symbol}
	}
	if strings.ContainsAny(symbol, "./") {
		dashed := strings.NewReplacer(".", "-", "/", "-").Replace(symbol)
		return []string{symbol, dashed}
	}
	return []string{symbol}
}

// known reports whether a metadata field carries real data
func known(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, Unknown)
}
