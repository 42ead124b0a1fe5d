package reconcile

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/detect"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/dispatch"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/page"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/storage"
)

type captureTransport struct {
	events []domain.ConversionEvent
}

func (c *captureTransport) SendEvent(_ context.Context, ev domain.ConversionEvent) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *captureTransport) SendPixel(_ context.Context, ev domain.ConversionEvent) error {
	return nil
}

var attr = domain.AttributionContext{RefCode: "ABC", VisitorID: "v-1"}

func newReconciler(t *testing.T) (*Reconciler, *PendingStore, *captureTransport) {
	t.Helper()
	store := storage.NewMemory()
	pending := NewPendingStore(store)
	transport := &captureTransport{}
	dispatcher := dispatch.New(transport, store, storage.NewMemory(), "site-1",
		dispatch.NewMetrics(prometheus.NewRegistry()), logger.NewNop())
	r := New(pending, detect.New(domain.SiteConfig{}), dispatcher, logger.NewNop())
	return r, pending, transport
}

func landingPage(t *testing.T, rawURL, referrer string) *page.Context {
	t.Helper()
	pc, err := page.New(rawURL, referrer, strings.NewReader("<html><body>Home</body></html>"))
	require.NoError(t, err)
	return pc
}

func TestRun_RecoversSaleFromSuccessReferrer(t *testing.T) {
	r, pending, transport := newReconciler(t)
	pending.Put(320, "https://shop.example/product")

	pc := landingPage(t, "https://shop.example/",
		"https://shop.example/thank-you?order_id=o-12&total=340")

	assert.True(t, r.Run(context.Background(), attr, pc))
	require.Len(t, transport.events, 1)
	assert.Equal(t, domain.EventSale, transport.events[0].EventType)
	assert.InDelta(t, 340.0, transport.events[0].Value, 1e-9,
		"referrer URL value outranks the stored pending price")
	assert.Equal(t, "o-12", transport.events[0].OrderID)

	_, ok := pending.Get()
	assert.False(t, ok, "pending sale must be consumed")
}

func TestRun_FallsBackToPendingPrice(t *testing.T) {
	r, pending, transport := newReconciler(t)
	pending.Put(320, "https://shop.example/product")

	pc := landingPage(t, "https://shop.example/", "https://shop.example/thank-you")

	assert.True(t, r.Run(context.Background(), attr, pc))
	require.Len(t, transport.events, 1)
	assert.InDelta(t, 320.0, transport.events[0].Value, 1e-9)
}

func TestRun_ExpiredPendingSaleIsClearedNotDispatched(t *testing.T) {
	r, pending, transport := newReconciler(t)
	pending.now = func() time.Time { return time.Now().Add(-31 * time.Minute) }
	pending.Put(320, "https://shop.example/product")
	pending.now = time.Now

	pc := landingPage(t, "https://shop.example/", "https://shop.example/thank-you")

	assert.False(t, r.Run(context.Background(), attr, pc))
	assert.Empty(t, transport.events)

	_, ok := pending.Get()
	assert.False(t, ok, "stale record must be cleared")
}

func TestRun_IgnoresCrossOriginReferrer(t *testing.T) {
	r, pending, transport := newReconciler(t)
	pending.Put(320, "https://shop.example/product")

	pc := landingPage(t, "https://shop.example/", "https://payments.example/thank-you")

	assert.False(t, r.Run(context.Background(), attr, pc))
	assert.Empty(t, transport.events)
}

func TestRun_IgnoresNonSuccessReferrer(t *testing.T) {
	r, pending, transport := newReconciler(t)
	pending.Put(320, "https://shop.example/product")

	pc := landingPage(t, "https://shop.example/", "https://shop.example/products/mug")

	assert.False(t, r.Run(context.Background(), attr, pc))
	assert.Empty(t, transport.events)
}

func TestRun_NoPendingSaleIsNoOp(t *testing.T) {
	r, _, transport := newReconciler(t)

	pc := landingPage(t, "https://shop.example/", "https://shop.example/thank-you")

	assert.False(t, r.Run(context.Background(), attr, pc))
	assert.Empty(t, transport.events)
}
