package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// MaxPlausibleValue is the upper bound for an extracted order value. Numbers
// above it are treated as parse garbage, not real prices.
const MaxPlausibleValue = 1_000_000

// numberToken matches the first price-like run of digits and separators.
var numberToken = regexp.MustCompile(`\d[\d .,\x{00a0}]*`)

// ParsePrice normalizes a price string to a float. It handles both
// comma-as-decimal ("499,00", "1 234,56") and comma-as-thousands
// ("1,234.56") conventions and rejects values outside (0, MaxPlausibleValue].
func ParsePrice(raw string) (float64, bool) {
	token := numberToken.FindString(raw)
	if token == "" {
		return 0, false
	}
	token = strings.Map(func(r rune) rune {
		if r == ' ' || r == ' ' {
			return -1
		}
		return r
	}, strings.TrimRight(token, " ., "))

	lastComma := strings.LastIndexByte(token, ',')
	lastDot := strings.LastIndexByte(token, '.')

	var normalized string
	switch {
	case lastComma < 0 && lastDot < 0:
		normalized = token
	case lastComma >= 0 && lastDot >= 0:
		// The later separator is the decimal mark, the other groups
		// thousands.
		if lastComma > lastDot {
			normalized = strings.ReplaceAll(token, ".", "")
			normalized = strings.Replace(normalized, ",", ".", 1)
		} else {
			normalized = strings.ReplaceAll(token, ",", "")
		}
	case lastComma >= 0:
		normalized = normalizeSingleSeparator(token, ',')
	default:
		normalized = normalizeSingleSeparator(token, '.')
	}

	value, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, false
	}
	if value <= 0 || value > MaxPlausibleValue {
		return 0, false
	}
	return value, true
}

// normalizeSingleSeparator decides whether the sole separator kind in token
// is a decimal mark or a thousands grouper. One or two trailing digits after
// a single separator mean a decimal mark; exact three-digit groups mean
// thousands.
func normalizeSingleSeparator(token string, sep byte) string {
	parts := strings.Split(token, string(sep))
	last := parts[len(parts)-1]

	if len(parts) == 2 && len(last) != 3 {
		return parts[0] + "." + last
	}
	grouped := true
	for _, p := range parts[1:] {
		if len(p) != 3 {
			grouped = false
			break
		}
	}
	if grouped {
		return strings.Join(parts, "")
	}
	if len(last) <= 2 {
		return strings.Join(parts[:len(parts)-1], "") + "." + last
	}
	return strings.Join(parts, "")
}
