package receipt

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
)

// pricePattern matches one to three leading digits, optional thousands groups
// and an optional two digit fraction. The whole token must match.
var pricePattern = regexp.MustCompile(`^\d{1,3}(?:[.,]\d{3})*(?:[.,]\d{2})?$`)

// thousandsSeparator matches a separator followed by exactly three digits and
// then another separator or the end of the input. RE2 has no lookahead, so
// this one goes through regexp2.
var thousandsSeparator = regexp2.MustCompile(`[.,](?=\d{3}(?:[.,]|$))`, regexp2.None)

// IsPrice reports whether s looks like a price token
func IsPrice(s string) bool {
	return pricePattern.MatchString(s)
}

// NormalizePrice parses a price written with either comma or period
// separators ("1.234,56", "1,234.56", "12.50"). Input that cannot be parsed
// normalizes to 0.
func NormalizePrice(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	stripped, err := thousandsSeparator.Replace(s, "", -1, -1)
	if err != nil {
		return 0
	}
	stripped = strings.ReplaceAll(stripped, ",", ".")

	v, err := strconv.ParseFloat(stripped, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
