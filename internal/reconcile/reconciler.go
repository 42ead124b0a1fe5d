// Package reconcile recovers conversions that completed on a page where the
// agent never ran, using the referrer chain and a short-lived pending-sale
// record written at purchase intent.
package reconcile

import (
	"context"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/detect"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/dispatch"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/extract"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/page"
)

// Reconciler runs once per page load, after configuration fetch.
type Reconciler struct {
	pending    *PendingStore
	detector   *detect.Detector
	dispatcher *dispatch.Dispatcher
	logger     logger.Logger
}

// New creates a reconciler.
func New(
	pending *PendingStore,
	detector *detect.Detector,
	dispatcher *dispatch.Dispatcher,
	log logger.Logger,
) *Reconciler {
	return &Reconciler{
		pending:    pending,
		detector:   detector,
		dispatcher: dispatcher,
		logger:     log,
	}
}

// Run reconstructs a sale when a fresh pending sale exists and the visitor
// arrived from a same-origin success page — the funnel completed on a page
// without the agent installed. The pending record is consumed either way
// once a sale is dispatched.
func (r *Reconciler) Run(ctx context.Context, attr domain.AttributionContext, pc *page.Context) bool {
	sale, ok := r.pending.Get()
	if !ok {
		return false
	}
	if pc == nil || pc.Referrer == nil || !pc.SameOrigin(pc.Referrer) {
		return false
	}
	if !r.detector.IsConversionURL(pc.Referrer) {
		return false
	}

	value, hasValue := extract.ValueFromURL(pc.Referrer)
	if !hasValue {
		value = sale.Price
	}
	orderID := extract.OrderIDFromURL(pc.Referrer)

	r.logger.Info("reconciling deferred conversion",
		logger.String("referrer", pc.Referrer.String()),
		logger.Float64("value", value),
	)

	outcome := r.dispatcher.Send(ctx, attr, domain.EventSale, value, orderID)
	if outcome == dispatch.OutcomeSent || outcome == dispatch.OutcomeDeduplicated {
		r.pending.Clear()
	}
	return outcome == dispatch.OutcomeSent
}
