package extract

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// valueParams are the URL query/fragment parameters recognized as an order
// value, in priority order.
var valueParams = []string{
	"total", "amount", "value", "price", "sum",
	"order_total", "grand_total", "revenue",
}

// purchaseEventNames are data-layer event names that mark a completed
// transaction.
var purchaseEventNames = map[string]struct{}{
	"purchase":          {},
	"transaction":       {},
	"order_completed":   {},
	"checkout_complete": {},
}

// operatorStrategy applies the operator-configured static price or CSS
// price selector. The operator knows their own page, so this is
// authoritative and sits at the top of the ladder.
type operatorStrategy struct{}

func (s *operatorStrategy) Name() string { return "operator" }

func (s *operatorStrategy) Attempt(ctx *Context) (float64, bool) {
	if ctx.Config.StaticPrice > 0 && ctx.Config.StaticPrice <= MaxPlausibleValue {
		return ctx.Config.StaticPrice, true
	}
	if sel := ctx.Config.PriceSelector; sel != "" && ctx.Page != nil && ctx.Page.Doc != nil {
		text := findSafely(ctx, sel)
		if value, ok := ParsePrice(text); ok {
			return value, true
		}
	}
	return 0, false
}

// findSafely evaluates an operator-supplied selector, absorbing the panic
// cascadia raises on invalid selector syntax.
func findSafely(ctx *Context, selector string) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	return strings.TrimSpace(ctx.Page.Doc.Find(selector).First().Text())
}

// urlParamsStrategy reads the value from the page URL's query string or
// hash fragment.
type urlParamsStrategy struct{}

func (s *urlParamsStrategy) Name() string { return "url" }

func (s *urlParamsStrategy) Attempt(ctx *Context) (float64, bool) {
	if ctx.Page == nil {
		return 0, false
	}
	return ValueFromURL(ctx.Page.URL)
}

// ValueFromURL reads an order value from a URL's query string or fragment.
// The reconciler uses it on referrer URLs that have no document.
func ValueFromURL(u *url.URL) (float64, bool) {
	if u == nil {
		return 0, false
	}
	if value, ok := valueFromValues(u.Query()); ok {
		return value, true
	}
	return valueFromValues(fragmentValues(u))
}

// fragmentValues parses key=value pairs out of a URL fragment, covering both
// "#total=500" and SPA-style "#/done?total=500" shapes.
func fragmentValues(u *url.URL) url.Values {
	frag := u.Fragment
	if i := strings.IndexByte(frag, '?'); i >= 0 {
		frag = frag[i+1:]
	}
	vals, err := url.ParseQuery(frag)
	if err != nil {
		return url.Values{}
	}
	return vals
}

func valueFromValues(vals url.Values) (float64, bool) {
	for _, name := range valueParams {
		if raw := vals.Get(name); raw != "" {
			if value, ok := ParsePrice(raw); ok {
				return value, true
			}
		}
	}
	return 0, false
}

// dataLayerStrategy reads the most recent purchase/transaction event pushed
// to the host page's analytics bus, newest first. It understands both the
// flat value/revenue/total shape and the nested actionField shape.
type dataLayerStrategy struct{}

func (s *dataLayerStrategy) Name() string { return "datalayer" }

func (s *dataLayerStrategy) Attempt(ctx *Context) (float64, bool) {
	if ctx.Page == nil {
		return 0, false
	}
	entries := ctx.Page.DataLayer()
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if !isPurchaseEntry(entry) {
			continue
		}
		if value, ok := numericField(entry, "value", "revenue", "total", "order_value"); ok {
			return value, true
		}
		if value, ok := nestedActionFieldRevenue(entry); ok {
			return value, true
		}
	}
	return 0, false
}

func isPurchaseEntry(entry map[string]any) bool {
	if name, ok := entry["event"].(string); ok {
		if _, known := purchaseEventNames[strings.ToLower(name)]; known {
			return true
		}
	}
	// Vendor shape: an ecommerce object with a purchase node is a purchase
	// even without an event name.
	_, ok := nestedMap(entry, "ecommerce", "purchase")
	return ok
}

// nestedActionFieldRevenue reads ecommerce.purchase.actionField.revenue.
func nestedActionFieldRevenue(entry map[string]any) (float64, bool) {
	action, ok := nestedMap(entry, "ecommerce", "purchase", "actionField")
	if !ok {
		return 0, false
	}
	return numericField(action, "revenue", "total", "value")
}

func nestedMap(entry map[string]any, path ...string) (map[string]any, bool) {
	current := entry
	for _, key := range path {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// numericField returns the first plausible numeric field among keys. Hosts
// push numbers as JSON numbers or as strings; both are accepted.
func numericField(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			if v > 0 && v <= MaxPlausibleValue {
				return v, true
			}
		case string:
			if value, ok := ParsePrice(v); ok {
				return value, true
			}
		}
	}
	return 0, false
}

// structuredDataStrategy parses schema.org JSON-LD blocks for an order or
// product price. Each block that fails to parse is skipped individually.
type structuredDataStrategy struct{}

func (s *structuredDataStrategy) Name() string { return "jsonld" }

// jsonLDPriceKeys are tried on every schema.org node, most specific first.
var jsonLDPriceKeys = []string{"totalPrice", "totalPaymentDue", "price"}

func (s *structuredDataStrategy) Attempt(ctx *Context) (float64, bool) {
	if ctx.Page == nil || ctx.Page.Doc == nil {
		return 0, false
	}

	var value float64
	var found bool
	ctx.Page.Doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(sel.Text()), &raw); err != nil {
			return true
		}
		if v, ok := priceFromJSONLD(raw, 0); ok {
			value, found = v, true
			return false
		}
		return true
	})
	return value, found
}

// jsonLDTypes are the schema.org types whose price fields we trust.
var jsonLDTypes = map[string]struct{}{
	"Order": {}, "Invoice": {}, "Receipt": {}, "Product": {}, "Offer": {},
}

// maxJSONLDDepth bounds recursion through @graph/offers nesting.
const maxJSONLDDepth = 6

func priceFromJSONLD(node any, depth int) (float64, bool) {
	if depth > maxJSONLDDepth {
		return 0, false
	}
	switch n := node.(type) {
	case []any:
		for _, item := range n {
			if v, ok := priceFromJSONLD(item, depth+1); ok {
				return v, true
			}
		}
	case map[string]any:
		if typ, ok := n["@type"].(string); ok {
			if _, trusted := jsonLDTypes[typ]; trusted {
				if v, ok := numericField(n, jsonLDPriceKeys...); ok {
					return v, true
				}
				if spec, ok := n["priceSpecification"].(map[string]any); ok {
					if v, ok := numericField(spec, jsonLDPriceKeys...); ok {
						return v, true
					}
				}
			}
		}
		for _, key := range []string{"@graph", "offers", "acceptedOffer", "referencesOrder"} {
			if child, ok := n[key]; ok {
				if v, ok := priceFromJSONLD(child, depth+1); ok {
					return v, true
				}
			}
		}
	}
	return 0, false
}

// globalsStrategy reads state objects common e-commerce platforms expose on
// the page, as captured by the embedder.
type globalsStrategy struct{}

func (s *globalsStrategy) Name() string { return "globals" }

// globalPaths maps a known platform global to the path of its order total.
var globalPaths = []struct {
	global string
	path   []string
}{
	{"Shopify", []string{"checkout", "total_price"}},
	{"wc_order", []string{"total"}},
	{"order", []string{"total"}},
	{"order", []string{"amount"}},
}

func (s *globalsStrategy) Attempt(ctx *Context) (float64, bool) {
	if ctx.Page == nil {
		return 0, false
	}
	for _, gp := range globalPaths {
		raw, ok := ctx.Page.Globals[gp.global]
		if !ok {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			continue
		}
		parent := decoded
		if len(gp.path) > 1 {
			if parent, ok = nestedMap(decoded, gp.path[:len(gp.path)-1]...); !ok {
				continue
			}
		}
		if value, ok := numericField(parent, gp.path[len(gp.path)-1]); ok {
			return value, true
		}
	}
	return 0, false
}

// metaTagsStrategy reads price meta tags.
type metaTagsStrategy struct{}

func (s *metaTagsStrategy) Name() string { return "meta" }

// metaPriceSelectors are tried in order.
var metaPriceSelectors = []string{
	`meta[property="product:price:amount"]`,
	`meta[property="og:price:amount"]`,
	`meta[itemprop="price"]`,
	`meta[name="price"]`,
}

func (s *metaTagsStrategy) Attempt(ctx *Context) (float64, bool) {
	if ctx.Page == nil || ctx.Page.Doc == nil {
		return 0, false
	}
	for _, sel := range metaPriceSelectors {
		content, exists := ctx.Page.Doc.Find(sel).First().Attr("content")
		if !exists {
			continue
		}
		if value, ok := ParsePrice(content); ok {
			return value, true
		}
	}
	return 0, false
}
