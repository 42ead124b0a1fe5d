// Package detect decides whether a page represents a completed purchase.
// The decision is two-stage: URL shape first, visible content as fallback.
// The checkout exclusion beats every positive signal so the payment step is
// never classified as a success page.
package detect

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/page"
)

// visibleTextLimit bounds the content scan to the start of the page, where
// confirmation banners live.
const visibleTextLimit = 4000

// checkoutPattern matches cart/checkout/payment steps. Pages on these paths
// are never conversion pages regardless of other signals.
var checkoutPattern = regexp.MustCompile(
	`(?i)/(checkout|cart|basket|payment|pay|billing|warenkorb|panier|korzina|koszyk|oformlenie)([/?#]|$)`,
)

// successPattern matches paths platforms use for the post-purchase page.
var successPattern = regexp.MustCompile(
	`(?i)/(thank[-_]?you|order[-_]?(received|confirmation|complete[d]?|success)|purchase[-_]?(complete[d]?|success)|success|confirmation|merci|danke|gracias|spasibo)([/?#]|$)`,
)

// confirmationPhrases is the curated multilingual set of purchase
// confirmation wordings matched against visible page text.
var confirmationPhrases = []string{
	"thank you for your order",
	"thank you for your purchase",
	"order confirmed",
	"your order has been received",
	"your order is complete",
	"order complete",
	"payment successful",
	"purchase complete",
	"vielen dank für ihre bestellung",
	"ihre bestellung ist eingegangen",
	"merci pour votre commande",
	"votre commande est confirmée",
	"gracias por su compra",
	"pedido confirmado",
	"grazie per il tuo ordine",
	"спасибо за заказ",
	"ваш заказ принят",
	"заказ оформлен",
	"дякуємо за замовлення",
	"ваше замовлення прийнято",
	"dziękujemy za zamówienie",
}

// Detector classifies pages using heuristics plus operator hints.
type Detector struct {
	cfg domain.SiteConfig
}

// New creates a detector. The zero SiteConfig means heuristics only.
func New(cfg domain.SiteConfig) *Detector {
	return &Detector{cfg: cfg}
}

// IsConversionPage reports whether the page represents a completed purchase,
// checking the URL first and falling back to visible content.
func (d *Detector) IsConversionPage(pc *page.Context) bool {
	if pc == nil || pc.URL == nil {
		return false
	}
	if IsCheckoutURL(pc.URL) {
		return false
	}
	if d.IsConversionURL(pc.URL) {
		return true
	}
	return MatchesConfirmationText(pc.VisibleText(visibleTextLimit))
}

// IsConversionURL applies only the URL stages: the checkout exclusion, the
// success pattern, and the operator's configured conversion URLs. It is
// reused on candidate URLs that have no document, such as a referrer or a
// polled SPA location.
func (d *Detector) IsConversionURL(u *url.URL) bool {
	if u == nil || IsCheckoutURL(u) {
		return false
	}
	if successPattern.MatchString(u.Path) {
		return true
	}
	for _, configured := range d.cfg.ConversionURLs {
		if configured == "" {
			continue
		}
		if strings.Contains(u.Path, configured) || strings.Contains(u.String(), configured) {
			return true
		}
	}
	return false
}

// IsCheckoutURL reports whether the URL is a cart/checkout/payment step.
func IsCheckoutURL(u *url.URL) bool {
	return u != nil && checkoutPattern.MatchString(u.Path)
}

// MatchesConfirmationText reports whether the text contains a known
// purchase-confirmation phrase.
func MatchesConfirmationText(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range confirmationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
