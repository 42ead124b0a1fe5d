package engine

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/decorate"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/detect"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/dispatch"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/extract"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/mapper"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/page"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/reconcile"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/watch"
)

// PageSession is the engine's view of one loaded page: the attribution
// resolved at load time, the site configuration in effect, and the live
// observers attached to the page feed. Close it when the page unloads.
type PageSession struct {
	engine    *Engine
	pageCtx   *page.Context
	feed      *page.Feed
	attr      domain.AttributionContext
	siteCfg   domain.SiteConfig
	detector  *detect.Detector
	decorator *decorate.Decorator
	watcher   *watch.Watcher
	mapper    *mapper.Session
	logger    logger.Logger
}

// OnPageLoad runs the full page-load sequence: capture identity from the
// URL, report a referred landing, fetch the site configuration, decorate
// outbound links, reconcile any pending sale against the referrer, detect a
// conversion on this page, and activate the mapper when requested. A config
// fetch failure degrades to heuristics-only detection rather than failing
// the load.
func (e *Engine) OnPageLoad(ctx context.Context, pc *page.Context, feed *page.Feed) *PageSession {
	attr := e.identity.Capture(pc.URL)

	if attr.Attributed() && hasRefParam(pc) {
		e.pageView(attr.RefCode, attr.VisitorID)
	}

	// Decoration depends only on identity, never on the config fetch.
	decorator := decorate.New(attr, pc, e.logger)
	decorator.Apply(feed)

	siteCfg, err := e.client.FetchConfig(ctx, e.cfg.Site.ID)
	if err != nil {
		e.logger.Warn("site config unavailable, using heuristics only", logger.Error(err))
		siteCfg = domain.SiteConfig{}
	}
	detector := detect.New(siteCfg)

	ps := &PageSession{
		engine:    e,
		pageCtx:   pc,
		feed:      feed,
		attr:      attr,
		siteCfg:   siteCfg,
		detector:  detector,
		decorator: decorator,
		watcher: watch.New(
			feed, detector, e.extractor, e.dispatch, e.pending,
			e.cfg.Watcher.Timeout, e.cfg.Watcher.PollInterval,
			e.logger,
		),
		logger: e.logger,
	}

	reconciler := reconcile.New(e.pending, detector, e.dispatch, e.logger)
	if !reconciler.Run(ctx, attr, pc) && detector.IsConversionPage(pc) {
		ps.reportSale(ctx)
	}

	ms, err := mapper.Activate(ctx, pc.URL, e.client, e.session, e.logger)
	if err != nil {
		e.logger.Warn("mapper activation failed", logger.Error(err))
	}
	ps.mapper = ms

	if pc.URL != nil {
		e.mu.Lock()
		e.lastHost = pc.URL.Hostname()
		e.mu.Unlock()
	}
	return ps
}

// Attribution returns the attribution resolved for this page load.
func (p *PageSession) Attribution() domain.AttributionContext { return p.attr }

// Config returns the site configuration in effect for this page.
func (p *PageSession) Config() domain.SiteConfig { return p.siteCfg }

// Mapper returns the active mapper session, or nil.
func (p *PageSession) Mapper() *mapper.Session { return p.mapper }

// Click routes an element click. In a mapper select session the click is
// captured as a selector; otherwise a click on a configured purchase or
// cart button raises the corresponding intent.
func (p *PageSession) Click(ctx context.Context, el *goquery.Selection) {
	if p.mapper != nil && p.mapper.Mode() == mapper.ModeSelect {
		p.mapper.Capture(el)
		return
	}
	if matchesSafely(el, p.siteCfg.PurchaseButtonSelector) {
		p.PurchaseIntent(ctx)
		return
	}
	if matchesSafely(el, p.siteCfg.CartButtonSelector) {
		p.CartIntent(ctx)
	}
}

// PurchaseIntent reports a purchase-button click: a zero-value lead event
// plus a confirmation watch carrying the best value known right now.
func (p *PageSession) PurchaseIntent(ctx context.Context) {
	p.engine.dispatch.Send(ctx, p.attr, domain.EventLead, 0, "")
	p.startWatch()
}

// CartIntent reports an add-to-cart click and opens a confirmation watch,
// since some shops go straight from cart to payment.
func (p *PageSession) CartIntent(ctx context.Context) {
	p.engine.dispatch.Send(ctx, p.attr, domain.EventCart, 0, "")
	p.startWatch()
}

// TrackPurchase is the embedder-facing manual API: report a confirmed sale
// with a known value and order id, bypassing detection and extraction.
func (p *PageSession) TrackPurchase(ctx context.Context, value float64, orderID string) dispatch.Outcome {
	out := p.engine.dispatch.Send(ctx, p.attr, domain.EventSale, value, orderID)
	if out == dispatch.OutcomeSent || out == dispatch.OutcomeDeduplicated {
		p.engine.pending.Clear()
	}
	return out
}

// TrackLead reports a manual lead event.
func (p *PageSession) TrackLead(ctx context.Context) dispatch.Outcome {
	return p.engine.dispatch.Send(ctx, p.attr, domain.EventLead, 0, "")
}

// Close detaches the page's observers. A pending sale recorded by the
// watcher survives for the reconciler on the next load.
func (p *PageSession) Close() {
	p.decorator.Stop()
	p.watcher.Stop()
}

// reportSale handles a conversion detected on the current page: extract the
// best value and order id and dispatch the sale.
func (p *PageSession) reportSale(ctx context.Context) {
	extractCtx := &extract.Context{Page: p.pageCtx, Config: p.siteCfg}
	value, strategy, ok := p.engine.extractor.Value(extractCtx)
	if !ok {
		value, strategy = 0, "none"
	}
	orderID := extract.OrderID(extractCtx)

	p.logger.Info("conversion page detected",
		logger.Float64("value", value),
		logger.String("strategy", strategy),
		logger.String("order_id", orderID),
	)
	out := p.engine.dispatch.Send(ctx, p.attr, domain.EventSale, value, orderID)
	if out == dispatch.OutcomeSent || out == dispatch.OutcomeDeduplicated {
		p.engine.pending.Clear()
	}
}

func (p *PageSession) startWatch() {
	extractCtx := &extract.Context{Page: p.pageCtx, Config: p.siteCfg}
	provisional, _, _ := p.engine.extractor.Value(extractCtx)
	if err := p.watcher.Start(p.attr, extractCtx, provisional); err != nil {
		p.logger.Debug("watch not started", logger.Error(err))
	}
}

// matchesSafely reports whether el matches the selector, treating an empty
// or invalid operator-supplied selector as no match.
func matchesSafely(el *goquery.Selection, selector string) (matched bool) {
	if selector == "" || el == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	return el.Is(selector)
}
