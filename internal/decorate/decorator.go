// Package decorate propagates attribution identifiers onto same-origin
// links and forms so the referral survives navigation through the host
// site, including nodes inserted after the initial load.
package decorate

import (
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/page"
)

// Param names written onto decorated links and injected form fields.
const (
	RefParam     = "ref"
	ClickIDParam = "click_id"
)

// skipSchemes are href schemes that never navigate within the site.
var skipSchemes = []string{"javascript:", "mailto:", "tel:", "sms:", "data:"}

// Decorator rewrites links and forms on a page. It is a strict no-op for
// organic traffic: without a referral identity nothing is ever injected.
type Decorator struct {
	attr    domain.AttributionContext
	pageCtx *page.Context
	logger  logger.Logger
	sub     page.Subscription
}

// New creates a decorator for one page load.
func New(attr domain.AttributionContext, pc *page.Context, log logger.Logger) *Decorator {
	return &Decorator{attr: attr, pageCtx: pc, logger: log}
}

// Apply decorates the whole document and subscribes to the mutation feed so
// fragments inserted later are decorated on insertion. Stop must be called
// on teardown.
func (d *Decorator) Apply(feed *page.Feed) {
	if !d.attr.Attributed() {
		return
	}
	d.Decorate(d.pageCtx.Doc.Selection)
	if feed != nil {
		d.sub = feed.OnMutation(func(fragment *goquery.Document) {
			d.Decorate(fragment.Selection)
		})
	}
}

// Stop cancels the mutation subscription.
func (d *Decorator) Stop() {
	if d.sub != nil {
		d.sub.Stop()
		d.sub = nil
	}
}

// Decorate rewrites every same-origin anchor under root to carry the ref
// (and click id), and injects hidden identifier fields into forms.
func (d *Decorator) Decorate(root *goquery.Selection) {
	if !d.attr.Attributed() || root == nil {
		return
	}

	root.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if rewritten, ok := d.rewriteHref(href); ok {
			a.SetAttr("href", rewritten)
		}
	})

	root.Find("form").Each(func(_ int, form *goquery.Selection) {
		d.injectField(form, RefParam, d.attr.RefCode)
		if d.attr.ClickID != "" {
			d.injectField(form, ClickIDParam, d.attr.ClickID)
		}
	})
}

// rewriteHref returns the decorated href and whether it should be replaced.
func (d *Decorator) rewriteHref(href string) (string, bool) {
	trimmed := strings.TrimSpace(href)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	lower := strings.ToLower(trimmed)
	for _, scheme := range skipSchemes {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}

	target, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}
	// Absolute links to other hosts are left alone; relative links are
	// same-origin by construction.
	if target.Host != "" && !d.pageCtx.SameOrigin(target) {
		return "", false
	}

	query := target.Query()
	if query.Get(RefParam) != "" {
		return "", false
	}
	query.Set(RefParam, d.attr.RefCode)
	if d.attr.ClickID != "" && query.Get(ClickIDParam) == "" {
		query.Set(ClickIDParam, d.attr.ClickID)
	}
	target.RawQuery = query.Encode()
	return target.String(), true
}

// injectField appends a hidden input unless the form already carries one
// with the same name.
func (d *Decorator) injectField(form *goquery.Selection, name, value string) {
	if form.Find(`input[name="` + name + `"]`).Length() > 0 {
		return
	}
	form.AppendHtml(`<input type="hidden" name="` + name + `" value="` + html.EscapeString(value) + `">`)
}
