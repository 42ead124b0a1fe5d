// Package dispatch builds outbound conversion events, applies the
// deduplication policy, and delivers them fire-and-forget.
package dispatch

import (
	"context"
	"time"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/storage"
)

// Dedup windows for events without an order id. Intent events get a longer
// window because several integration points can fire the same click; sales
// without an order id only need to absorb an immediate reload.
const (
	intentWindow = 8 * time.Second
	saleWindow   = 3 * time.Second
)

// Storage key prefixes for dedup records.
const (
	permanentDedupPrefix = "dedup:order:"
	windowDedupPrefix    = "dedup:window:"
)

// Outcome describes what Send did with an event.
type Outcome string

const (
	// OutcomeSent means the event reached a transport.
	OutcomeSent Outcome = "sent"
	// OutcomeNoIdentity means the visitor has no referral identity; the
	// event was silently refused.
	OutcomeNoIdentity Outcome = "no_identity"
	// OutcomeDeduplicated means a dedup record or window suppressed the
	// event.
	OutcomeDeduplicated Outcome = "deduplicated"
	// OutcomeDropped means both transports failed; the event is lost by
	// design (no retry).
	OutcomeDropped Outcome = "dropped"
)

// Transport delivers one event. The backend client implements both paths.
type Transport interface {
	SendEvent(ctx context.Context, ev domain.ConversionEvent) error
	SendPixel(ctx context.Context, ev domain.ConversionEvent) error
}

// Dispatcher applies dedup policy and delivers events.
type Dispatcher struct {
	transport Transport
	durable   storage.Store
	session   storage.Store
	siteID    string
	logger    logger.Logger
	metrics   *Metrics
	now       func() time.Time
}

// New creates a dispatcher. durable holds permanent per-order dedup records;
// session holds the short-lived anonymous windows.
func New(
	transport Transport,
	durable, session storage.Store,
	siteID string,
	metrics *Metrics,
	log logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		durable:   durable,
		session:   session,
		siteID:    siteID,
		logger:    log,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Send reports one event for the attributed visitor. It refuses silently
// without a referral identity, applies dedup, forces intent values to zero,
// and delivers fire-and-forget with the pixel transport as fallback.
func (d *Dispatcher) Send(
	ctx context.Context,
	attr domain.AttributionContext,
	eventType domain.EventType,
	value float64,
	orderID string,
) Outcome {
	if !attr.Attributed() {
		return OutcomeNoIdentity
	}

	// Monetary value is attributed only at sale confirmation.
	if eventType.Intent() {
		value = 0
	}

	if !d.claim(eventType, orderID) {
		d.metrics.deduped.WithLabelValues(string(eventType)).Inc()
		d.logger.Debug("event deduplicated",
			logger.String("event_type", string(eventType)),
			logger.String("order_id", orderID),
		)
		return OutcomeDeduplicated
	}

	ev := domain.ConversionEvent{
		EventType: eventType,
		Value:     value,
		OrderID:   orderID,
		ClickID:   attr.ClickID,
		RefCode:   attr.RefCode,
		SiteID:    d.siteID,
		Timestamp: d.now(),
	}

	if err := d.transport.SendEvent(ctx, ev); err != nil {
		d.logger.Debug("primary transport failed, trying pixel", logger.Error(err))
		if pixelErr := d.transport.SendPixel(ctx, ev); pixelErr != nil {
			d.metrics.dropped.WithLabelValues(string(eventType)).Inc()
			d.logger.Warn("event dropped, both transports failed",
				logger.String("event_type", string(eventType)),
				logger.Error(pixelErr),
			)
			return OutcomeDropped
		}
		d.metrics.fallback.WithLabelValues(string(eventType)).Inc()
	}

	d.metrics.sent.WithLabelValues(string(eventType)).Inc()
	d.logger.Info("event sent",
		logger.String("event_type", string(eventType)),
		logger.Float64("value", ev.Value),
		logger.String("order_id", orderID),
	)
	return OutcomeSent
}

// claim writes the dedup record for the event and reports whether this call
// won it. The record is written before any network activity so a reload
// racing the send cannot double-report.
func (d *Dispatcher) claim(eventType domain.EventType, orderID string) bool {
	if orderID != "" {
		key := permanentDedupPrefix + string(eventType) + ":" + orderID
		if _, exists, _ := d.durable.Get(key); exists {
			return false
		}
		_ = d.durable.Set(key, d.now().Format(time.RFC3339), 0)
		return true
	}

	window := saleWindow
	if eventType.Intent() {
		window = intentWindow
	}
	key := windowDedupPrefix + string(eventType)
	if _, active, _ := d.session.Get(key); active {
		return false
	}
	_ = d.session.Set(key, d.now().Format(time.RFC3339), window)
	return true
}
