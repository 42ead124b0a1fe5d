// Package domain defines the core types shared by the tracking agent.
package domain

import "time"

// EventType classifies a reportable visitor interaction.
type EventType string

const (
	// EventLead is a purchase-intent signal, always reported with zero value.
	EventLead EventType = "lead"
	// EventCart is an add-to-cart signal.
	EventCart EventType = "cart"
	// EventSale is a confirmed purchase with a best-effort monetary value.
	EventSale EventType = "sale"
)

// Intent reports whether the event type expresses intent rather than a
// completed purchase.
func (t EventType) Intent() bool {
	return t == EventLead || t == EventCart
}

// ConversionEvent is one reportable interaction. It is constructed inside
// the dispatcher, sent at most once, and never mutated after construction.
type ConversionEvent struct {
	EventType EventType `json:"event_type"`
	Value     float64   `json:"order_value"`
	OrderID   string    `json:"order_id,omitempty"`
	ClickID   string    `json:"click_id,omitempty"`
	RefCode   string    `json:"unique_code"`
	SiteID    string    `json:"site_id"`
	Timestamp time.Time `json:"-"`
}
