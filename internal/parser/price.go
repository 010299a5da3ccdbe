package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// pricePattern has two alternatives: an optional currency symbol followed by a
// grouped amount with two fraction digits, or a bare amount followed by an
// optional three-letter currency code.
var pricePattern = regexp.MustCompile(`([\$€£¥]?\s?)(\d{1,3}(?:[,.]\d{3})*[.,]\d{2})|(\d+\.?\d*)\s?([A-Z]{3})?`)

var nonAmountChars = regexp.MustCompile(`[^\d.]`)

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
}

// PriceMatch is the result of scanning a text for a price token.
type PriceMatch struct {
	Amount decimal.Decimal
	// Token is the captured currency symbol or code, possibly empty.
	Token string
}

// MatchPrice finds the first price token in text.
func MatchPrice(text string) (PriceMatch, bool) {
	m := pricePattern.FindStringSubmatch(text)
	if m == nil {
		return PriceMatch{}, false
	}

	amountText := m[2]
	if amountText == "" {
		amountText = m[3]
	}
	token := m[1]
	if strings.TrimSpace(token) == "" {
		token = m[4]
	}

	amount, err := ParseAmount(amountText)
	if err != nil {
		return PriceMatch{}, false
	}
	return PriceMatch{Amount: amount, Token: strings.TrimSpace(token)}, true
}

// ParseAmount normalizes a captured amount. Commas become dots and every dot
// but the last is dropped, so the rightmost separator is the decimal point:
// "1,234.56", "1.234,56" and "1234.56" all parse to 1234.56.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := nonAmountChars.ReplaceAllString(strings.ReplaceAll(s, ",", "."), "")
	if n := strings.Count(cleaned, "."); n > 1 {
		cleaned = strings.Replace(cleaned, ".", "", n-1)
	}
	cleaned = strings.TrimSuffix(cleaned, ".")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("no digits in amount %q", s)
	}
	return decimal.NewFromString(cleaned)
}

// ResolveCurrency maps a symbol to its ISO code, passes a three-letter code
// through unchanged and otherwise falls back to the domain default.
func ResolveCurrency(token, domain string) string {
	token = strings.TrimSpace(token)
	if code, ok := currencySymbols[token]; ok {
		return code
	}
	if isCurrencyCode(token) {
		return token
	}
	return DefaultCurrency(domain)
}

// DefaultCurrency infers a currency from the storefront domain.
func DefaultCurrency(domain string) string {
	switch {
	case strings.Contains(domain, "amazon.co.uk"):
		return "GBP"
	case strings.Contains(domain, "amazon.de"):
		return "EUR"
	default:
		return "USD"
	}
}

func isCurrencyCode(token string) bool {
	if utf8.RuneCountInString(token) != 3 {
		return false
	}
	for _, r := range token {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
