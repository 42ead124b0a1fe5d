package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/backend"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
)

func newClient(t *testing.T, handler http.Handler) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return backend.NewClient(srv.URL, srv.Client(), logger.NewNop())
}

func TestFetchConfig_Success(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/configuration", r.URL.Path)
		assert.Equal(t, "site-1", r.URL.Query().Get("site"))
		_ = json.NewEncoder(w).Encode(domain.SiteConfig{
			Success:       true,
			PriceSelector: ".total",
			ConversionURLs: []string{
				"/order-received",
			},
		})
	}))

	cfg, err := c.FetchConfig(context.Background(), "site-1")
	require.NoError(t, err)
	assert.Equal(t, ".total", cfg.PriceSelector)
	assert.Equal(t, []string{"/order-received"}, cfg.ConversionURLs)
}

func TestFetchConfig_NonOKLeavesZeroConfig(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	cfg, err := c.FetchConfig(context.Background(), "site-1")
	require.Error(t, err)
	assert.Equal(t, domain.SiteConfig{}, cfg)
}

func TestSendEvent_PostsJSONBody(t *testing.T) {
	var got map[string]any
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/event", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))

	err := c.SendEvent(context.Background(), domain.ConversionEvent{
		EventType: domain.EventSale,
		Value:     499,
		OrderID:   "o-77",
		RefCode:   "ABC",
		SiteID:    "site-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "sale", got["event_type"])
	assert.Equal(t, "ABC", got["unique_code"])
	assert.InEpsilon(t, 499.0, got["order_value"], 1e-9)
	assert.Equal(t, "o-77", got["order_id"])
}

func TestSendPixel_EncodesEventInQuery(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pixel.gif", r.URL.Path)
		assert.Equal(t, "ABC", r.URL.Query().Get("unique_code"))
		assert.Equal(t, "sale", r.URL.Query().Get("event_type"))
		assert.Equal(t, "499", r.URL.Query().Get("order_value"))
	}))

	err := c.SendPixel(context.Background(), domain.ConversionEvent{
		EventType: domain.EventSale,
		Value:     499,
		RefCode:   "ABC",
		SiteID:    "site-1",
	})
	require.NoError(t, err)
}

func TestSaveSelector_UnauthorizedMeansExpiredToken(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	err := c.SaveSelector(context.Background(), "tok", "#buy", "")
	assert.ErrorIs(t, err, backend.ErrUnauthorized)
}

func TestResolveCode_ReturnsOpaqueToken(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cfg/SHORT1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "opaque-token"})
	}))

	token, err := c.ResolveCode(context.Background(), "SHORT1")
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", token)
}

func TestVerify_SendsIdentifyingParams(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify", r.URL.Path)
		assert.Equal(t, "shop.example", r.URL.Query().Get("domain"))
		assert.Equal(t, "site-1", r.URL.Query().Get("site_id"))
		assert.NotEmpty(t, r.URL.Query().Get("version"))
	}))

	require.NoError(t, c.Verify(context.Background(), "shop.example", "site-1", "1.0.0"))
}
