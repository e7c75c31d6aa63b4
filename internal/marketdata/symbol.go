package marketdata

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches US equity tickers: 1-5 letters with an optional
// class suffix, e.g. AAPL, BRK.B.
var symbolRegex = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z])?$`)

// ErrInvalidSymbol is returned for ticker strings the feed would reject.
var ErrInvalidSymbol = errors.New("marketdata: invalid symbol")

// NormalizeSymbol upper-cases and validates a ticker string. Rejecting
// junk here keeps garbage keys out of the price cache.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}
