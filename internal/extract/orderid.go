package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// orderIDParams are the URL parameters recognized as an order identifier.
var orderIDParams = []string{
	"order_id", "order", "order_number", "oid",
	"transaction_id", "invoice", "tid",
}

// orderIDText matches "Order #12345" style phrasings in visible text, with
// localized label variants.
var orderIDText = regexp.MustCompile(
	`(?i)(?:order|bestellung|commande|pedido|заказ|замовлення)\s*(?:number|no\.?|#|№)?\s*[:#№]?\s*([A-Za-z0-9][A-Za-z0-9_-]{2,31})`,
)

// orderIDSelectors are element hooks platforms commonly put around the order
// number on the confirmation page.
var orderIDSelectors = []string{
	".order-number", ".order_number", "#order-number",
	"[class*=order-number]", ".woocommerce-order-overview__order strong",
}

// orderIDMetaSelectors are meta tags carrying an order identifier.
var orderIDMetaSelectors = []string{
	`meta[name="order-id"]`,
	`meta[property="og:order_id"]`,
}

// orderIDStopWords are capture-shaped words that are not identifiers.
var orderIDStopWords = map[string]struct{}{
	"confirmed": {}, "complete": {}, "completed": {}, "received": {},
	"number": {}, "status": {}, "details": {}, "history": {},
	"оформлен": {}, "принят": {}, "прийнято": {},
}

// orderIDTextLimit bounds the visible-text scan for an order number.
const orderIDTextLimit = 4000

// OrderID extracts an order identifier from the page, mirroring the value
// ladder: URL parameters, data-layer events, DOM patterns, then meta tags.
// It returns "" when nothing credible is found.
func OrderID(ctx *Context) string {
	if ctx == nil || ctx.Page == nil {
		return ""
	}

	if id := orderIDFromURL(ctx); id != "" {
		return id
	}
	if id := orderIDFromDataLayer(ctx); id != "" {
		return id
	}
	if id := orderIDFromDOM(ctx); id != "" {
		return id
	}
	return orderIDFromMeta(ctx)
}

// OrderIDFromURL reads an order identifier from a URL's query string or
// fragment. The reconciler uses it on referrer URLs that have no document.
func OrderIDFromURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	query := u.Query()
	for _, name := range orderIDParams {
		if id := strings.TrimSpace(query.Get(name)); id != "" {
			return id
		}
	}
	frag := fragmentValues(u)
	for _, name := range orderIDParams {
		if id := strings.TrimSpace(frag.Get(name)); id != "" {
			return id
		}
	}
	return ""
}

func orderIDFromURL(ctx *Context) string {
	return OrderIDFromURL(ctx.Page.URL)
}

func orderIDFromDataLayer(ctx *Context) string {
	entries := ctx.Page.DataLayer()
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if !isPurchaseEntry(entry) {
			continue
		}
		if id := stringField(entry, "transaction_id", "order_id", "orderId"); id != "" {
			return id
		}
		if action, ok := nestedMap(entry, "ecommerce", "purchase", "actionField"); ok {
			if id := stringField(action, "id", "order_id"); id != "" {
				return id
			}
		}
	}
	return ""
}

func orderIDFromDOM(ctx *Context) string {
	if ctx.Page.Doc == nil {
		return ""
	}
	for _, sel := range orderIDSelectors {
		text := strings.TrimSpace(ctx.Page.Doc.Find(sel).First().Text())
		if text != "" && len(text) <= 64 {
			return strings.TrimPrefix(strings.TrimPrefix(text, "#"), "№")
		}
	}
	if m := orderIDText.FindStringSubmatch(ctx.Page.VisibleText(orderIDTextLimit)); m != nil {
		candidate := m[1]
		if _, stop := orderIDStopWords[strings.ToLower(candidate)]; !stop {
			return candidate
		}
	}
	return ""
}

func orderIDFromMeta(ctx *Context) string {
	if ctx.Page.Doc == nil {
		return ""
	}
	for _, sel := range orderIDMetaSelectors {
		if content, ok := ctx.Page.Doc.Find(sel).First().Attr("content"); ok {
			if id := strings.TrimSpace(content); id != "" {
				return id
			}
		}
	}
	return ""
}

// stringField returns the first non-empty string (or integral number) field
// among keys. Hosts push numeric order ids as JSON numbers.
func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case float64:
			if v > 0 && v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10)
			}
		}
	}
	return ""
}
