package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// totalLabel matches the multilingual "total" vocabulary in a label element.
var totalLabel = regexp.MustCompile(
	`(?i)^\s*(order\s+total|grand\s+total|total|amount\s+due|итого|всего|всього|сума|сумма|разом|razem|summe|gesamt|montant|importe|totale)\s*:?\s*$`,
)

// currencyAmount matches a currency-marked number in either symbol-first or
// symbol-last order.
var currencyAmount = regexp.MustCompile(
	`(?i)([$€£₴₽]|грн|uah|usd|eur|gbp|руб|zł|pln)\s*(\d[\d .,\x{00a0}]*)|(\d[\d .,\x{00a0}]*)\s*([$€£₴₽]|грн|uah|usd|eur|gbp|руб|zł|pln)`,
)

// maxLabelLength keeps the label check to short elements; a paragraph
// containing the word "total" is not a label.
const maxLabelLength = 40

// domScanStrategy is the last rung of the ladder: a full-page heuristic
// scan. A "total" label with an adjacent currency-formatted number beats any
// lone currency match; among lone matches the largest plausible number wins.
type domScanStrategy struct{}

func (s *domScanStrategy) Name() string { return "domscan" }

func (s *domScanStrategy) Attempt(ctx *Context) (float64, bool) {
	if ctx.Page == nil || ctx.Page.Doc == nil {
		return 0, false
	}
	body := ctx.Page.Doc.Find("body")
	if body.Length() == 0 {
		return 0, false
	}

	if value, ok := labelAdjacentValue(body); ok {
		return value, true
	}
	return largestCurrencyValue(body)
}

// labelAdjacentValue finds elements whose text is a bare "total" label and
// reads the price from the next sibling or, failing that, the parent row.
func labelAdjacentValue(body *goquery.Selection) (float64, bool) {
	var value float64
	var found bool

	body.Find("td, th, dt, dd, div, span, p, strong, b, li, label").
		EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := strings.TrimSpace(sel.Text())
			if len(text) > maxLabelLength || !totalLabel.MatchString(text) {
				return true
			}
			for _, candidate := range []string{
				strings.TrimSpace(sel.Next().Text()),
				strings.TrimSpace(sel.Parent().Text()),
			} {
				if candidate == "" {
					continue
				}
				if v, ok := amountIn(candidate); ok {
					value, found = v, true
					return false
				}
			}
			return true
		})

	return value, found
}

// largestCurrencyValue scans every currency-marked number on the page and
// returns the largest plausible one.
func largestCurrencyValue(body *goquery.Selection) (float64, bool) {
	cleaned := body.Clone()
	cleaned.Find("script, style, noscript, template").Remove()

	var best float64
	for _, match := range currencyAmount.FindAllString(cleaned.Text(), -1) {
		if v, ok := ParsePrice(match); ok && v > best {
			best = v
		}
	}
	return best, best > 0
}

// amountIn extracts a currency-marked amount from a text snippet.
func amountIn(text string) (float64, bool) {
	match := currencyAmount.FindString(text)
	if match == "" {
		// Inside a label-adjacent cell a bare number is acceptable.
		return ParsePrice(text)
	}
	return ParsePrice(match)
}
