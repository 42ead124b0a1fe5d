package watch_test

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
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/extract"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/page"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/reconcile"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/storage"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/watch"
)

type syncTransport struct {
	ch chan domain.ConversionEvent
}

func (s *syncTransport) SendEvent(_ context.Context, ev domain.ConversionEvent) error {
	s.ch <- ev
	return nil
}

func (s *syncTransport) SendPixel(_ context.Context, ev domain.ConversionEvent) error {
	return nil
}

type fixture struct {
	watcher   *watch.Watcher
	feed      *page.Feed
	pending   *reconcile.PendingStore
	transport *syncTransport
	extract   *extract.Context
}

var attr = domain.AttributionContext{RefCode: "ABC", VisitorID: "v-1"}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()

	pc, err := page.New("https://shop.example/product", "",
		strings.NewReader(`<html><body><span class="sum">Грн 250,00</span></body></html>`))
	require.NoError(t, err)

	feed := page.NewFeed(pc.URL)
	store := storage.NewMemory()
	pending := reconcile.NewPendingStore(store)
	transport := &syncTransport{ch: make(chan domain.ConversionEvent, 1)}
	dispatcher := dispatch.New(transport, store, storage.NewMemory(), "site-1",
		dispatch.NewMetrics(prometheus.NewRegistry()), logger.NewNop())

	cfg := domain.SiteConfig{PriceSelector: ".sum"}
	w := watch.New(feed, detect.New(cfg), extract.New(logger.NewNop()), dispatcher,
		pending, timeout, 10*time.Millisecond, logger.NewNop())

	return &fixture{
		watcher:   w,
		feed:      feed,
		pending:   pending,
		transport: transport,
		extract:   &extract.Context{Page: pc, Config: cfg},
	}
}

func waitEvent(t *testing.T, f *fixture) domain.ConversionEvent {
	t.Helper()
	select {
	case ev := <-f.transport.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event dispatched")
		return domain.ConversionEvent{}
	}
}

func TestWatcher_ConfirmsOnNavigationToSuccessURL(t *testing.T) {
	f := newFixture(t, time.Minute)
	require.NoError(t, f.watcher.Start(attr, f.extract, 250))

	f.feed.Navigate("https://shop.example/thank-you")

	ev := waitEvent(t, f)
	assert.Equal(t, domain.EventSale, ev.EventType)
	assert.InDelta(t, 250.0, ev.Value, 1e-9)
	assert.Equal(t, watch.StateConfirmed, f.watcher.State())

	_, ok := f.pending.Get()
	assert.False(t, ok, "pending sale must be cleared on confirmation")
}

func TestWatcher_ConfirmsOnSuccessPhraseMutation(t *testing.T) {
	f := newFixture(t, time.Minute)
	require.NoError(t, f.watcher.Start(attr, f.extract, 250))

	f.feed.Mutate(`<div class="banner">Thank you for your order!</div>`)

	ev := waitEvent(t, f)
	assert.Equal(t, domain.EventSale, ev.EventType)
	assert.Equal(t, watch.StateConfirmed, f.watcher.State())
}

func TestWatcher_ConfirmsViaURLPoll(t *testing.T) {
	f := newFixture(t, time.Minute)
	require.NoError(t, f.watcher.Start(attr, f.extract, 250))

	// A location change with no navigation callback, as after a silent
	// history rewrite; only the poll can see it.
	f.feed.SetLocation("https://shop.example/order-received")

	waitEvent(t, f)
	assert.Equal(t, watch.StateConfirmed, f.watcher.State())
}

func TestWatcher_TimesOutWithoutConfirmation(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	require.NoError(t, f.watcher.Start(attr, f.extract, 250))

	require.Eventually(t, func() bool {
		return f.watcher.State() == watch.StateTimedOut
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-f.transport.ch:
		t.Fatal("timed-out watch must not dispatch")
	default:
	}

	_, ok := f.pending.Get()
	assert.True(t, ok, "pending sale stays for the reconciler after a timeout")
}

func TestWatcher_OnlyOneActiveWatch(t *testing.T) {
	f := newFixture(t, time.Minute)
	require.NoError(t, f.watcher.Start(attr, f.extract, 250))

	err := f.watcher.Start(attr, f.extract, 100)
	assert.ErrorIs(t, err, watch.ErrAlreadyWatching)
}

func TestWatcher_MutationAfterConfirmationIsIgnored(t *testing.T) {
	f := newFixture(t, time.Minute)
	require.NoError(t, f.watcher.Start(attr, f.extract, 250))

	f.feed.Navigate("https://shop.example/thank-you")
	waitEvent(t, f)

	// Observers are torn down; a late success phrase changes nothing.
	f.feed.Mutate(`<div>Order confirmed</div>`)
	select {
	case <-f.transport.ch:
		t.Fatal("torn-down watcher must not dispatch again")
	case <-time.After(50 * time.Millisecond):
	}
}
