package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/storage"
)

type fakeTransport struct {
	events   []domain.ConversionEvent
	pixels   []domain.ConversionEvent
	eventErr error
	pixelErr error
}

func (f *fakeTransport) SendEvent(_ context.Context, ev domain.ConversionEvent) error {
	if f.eventErr != nil {
		return f.eventErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeTransport) SendPixel(_ context.Context, ev domain.ConversionEvent) error {
	if f.pixelErr != nil {
		return f.pixelErr
	}
	f.pixels = append(f.pixels, ev)
	return nil
}

func newDispatcher(t *testing.T, transport Transport) (*Dispatcher, *storage.Memory, *storage.Memory) {
	t.Helper()
	durable := storage.NewMemory()
	session := storage.NewMemory()
	d := New(transport, durable, session, "site-1",
		NewMetrics(prometheus.NewRegistry()), logger.NewNop())
	return d, durable, session
}

var attributed = domain.AttributionContext{RefCode: "ABC", ClickID: "c-1", VisitorID: "v-1"}

func TestSend_RefusesWithoutIdentity(t *testing.T) {
	transport := &fakeTransport{}
	d, _, _ := newDispatcher(t, transport)

	outcome := d.Send(context.Background(), domain.AttributionContext{}, domain.EventSale, 100, "o-1")

	assert.Equal(t, OutcomeNoIdentity, outcome)
	assert.Empty(t, transport.events)
}

func TestSend_SaleWithOrderIDIsPermanentlyDeduped(t *testing.T) {
	transport := &fakeTransport{}
	d, _, _ := newDispatcher(t, transport)

	first := d.Send(context.Background(), attributed, domain.EventSale, 100, "o-1")
	second := d.Send(context.Background(), attributed, domain.EventSale, 100, "o-1")

	assert.Equal(t, OutcomeSent, first)
	assert.Equal(t, OutcomeDeduplicated, second)
	require.Len(t, transport.events, 1)
	assert.Equal(t, "o-1", transport.events[0].OrderID)
	assert.Equal(t, "ABC", transport.events[0].RefCode)
}

func TestSend_PermanentDedupSurvivesNewDispatcher(t *testing.T) {
	transport := &fakeTransport{}
	d, durable, _ := newDispatcher(t, transport)
	d.Send(context.Background(), attributed, domain.EventSale, 100, "o-1")

	// Same profile, fresh page load.
	reloaded := New(transport, durable, storage.NewMemory(), "site-1",
		NewMetrics(prometheus.NewRegistry()), logger.NewNop())
	outcome := reloaded.Send(context.Background(), attributed, domain.EventSale, 100, "o-1")

	assert.Equal(t, OutcomeDeduplicated, outcome)
	assert.Len(t, transport.events, 1)
}

func TestSend_DifferentOrderIDsAreIndependent(t *testing.T) {
	transport := &fakeTransport{}
	d, _, _ := newDispatcher(t, transport)

	d.Send(context.Background(), attributed, domain.EventSale, 100, "o-1")
	outcome := d.Send(context.Background(), attributed, domain.EventSale, 50, "o-2")

	assert.Equal(t, OutcomeSent, outcome)
	assert.Len(t, transport.events, 2)
}

func TestSend_AnonymousWindowSuppressesDoubleFire(t *testing.T) {
	transport := &fakeTransport{}
	d, _, _ := newDispatcher(t, transport)

	first := d.Send(context.Background(), attributed, domain.EventLead, 0, "")
	second := d.Send(context.Background(), attributed, domain.EventLead, 0, "")

	assert.Equal(t, OutcomeSent, first)
	assert.Equal(t, OutcomeDeduplicated, second)
}

func TestSend_AnonymousWindowExpires(t *testing.T) {
	transport := &fakeTransport{}
	durable := storage.NewMemory()
	session := storage.NewMemory()
	d := New(transport, durable, session, "site-1",
		NewMetrics(prometheus.NewRegistry()), logger.NewNop())

	d.Send(context.Background(), attributed, domain.EventSale, 40, "")

	// The sale window is seconds; after it passes the same anonymous event
	// may report again.
	require.Eventually(t, func() bool {
		return d.Send(context.Background(), attributed, domain.EventSale, 40, "") == OutcomeSent
	}, 5*time.Second, 200*time.Millisecond)
}

func TestSend_LeadAlwaysValueZero(t *testing.T) {
	transport := &fakeTransport{}
	d, _, _ := newDispatcher(t, transport)

	outcome := d.Send(context.Background(), attributed, domain.EventLead, 499.99, "")

	assert.Equal(t, OutcomeSent, outcome)
	require.Len(t, transport.events, 1)
	assert.Zero(t, transport.events[0].Value)
}

func TestSend_PixelFallbackWhenPrimaryBlocked(t *testing.T) {
	transport := &fakeTransport{eventErr: errors.New("blocked by network policy")}
	d, _, _ := newDispatcher(t, transport)

	outcome := d.Send(context.Background(), attributed, domain.EventSale, 100, "o-1")

	assert.Equal(t, OutcomeSent, outcome)
	require.Len(t, transport.pixels, 1)
	assert.InDelta(t, 100.0, transport.pixels[0].Value, 1e-9)
}

func TestSend_BothTransportsFailingDropsWithoutRetry(t *testing.T) {
	transport := &fakeTransport{
		eventErr: errors.New("blocked"),
		pixelErr: errors.New("also blocked"),
	}
	d, _, _ := newDispatcher(t, transport)

	outcome := d.Send(context.Background(), attributed, domain.EventSale, 100, "o-1")

	assert.Equal(t, OutcomeDropped, outcome)
	assert.Empty(t, transport.events)
	assert.Empty(t, transport.pixels)
}
