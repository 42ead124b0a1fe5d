package domain

import "time"

// AttributionContext is the visitor's affiliate identity. RefCode and
// ClickID come from referral URL parameters; VisitorID is generated locally
// once and kept stable for the lifetime of the profile.
type AttributionContext struct {
	RefCode   string `json:"ref_code"`
	ClickID   string `json:"click_id,omitempty"`
	VisitorID string `json:"visitor_id"`
}

// Attributed reports whether the visitor arrived via a referral.
func (a AttributionContext) Attributed() bool {
	return a.RefCode != ""
}

// SiteConfig holds operator-defined detection and extraction hints fetched
// once per page load. The zero value means "no hints, heuristics only".
type SiteConfig struct {
	Success                bool     `json:"success"`
	PurchaseButtonSelector string   `json:"purchaseButtonSelector,omitempty"`
	CartButtonSelector     string   `json:"cartButtonSelector,omitempty"`
	PriceSelector          string   `json:"priceSelector,omitempty"`
	StaticPrice            float64  `json:"staticPrice,omitempty"`
	ConversionURLs         []string `json:"conversionUrls,omitempty"`
}

// PendingSale is a provisional price captured at the moment of purchase
// intent. It is consumed by whichever mechanism confirms the sale first and
// must never be consumed after its TTL.
type PendingSale struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	OriginURL string    `json:"origin_page_url"`
}

// PendingSaleTTL is how long a pending sale stays consumable.
const PendingSaleTTL = 30 * time.Minute

// Expired reports whether the pending sale is past its TTL at the given time.
func (p PendingSale) Expired(now time.Time) bool {
	return now.Sub(p.Timestamp) > PendingSaleTTL
}
