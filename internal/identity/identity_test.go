package identity

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/storage"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestCapture_URLWinsOverStored(t *testing.T) {
	store := storage.NewMemory()
	m := NewManager(store, logger.NewNop())

	m.Capture(mustURL(t, "https://shop.example/?ref=OLD&click_id=c1"))
	attr := m.Capture(mustURL(t, "https://shop.example/?ref=NEW&click_id=c2"))

	assert.Equal(t, "NEW", attr.RefCode)
	assert.Equal(t, "c2", attr.ClickID)
}

func TestCapture_FreshRefWithoutClickIDClearsStaleClickID(t *testing.T) {
	store := storage.NewMemory()
	m := NewManager(store, logger.NewNop())

	m.Capture(mustURL(t, "https://shop.example/?ref=A&click_id=c1"))
	attr := m.Capture(mustURL(t, "https://shop.example/?ref=B"))

	assert.Equal(t, "B", attr.RefCode)
	assert.Empty(t, attr.ClickID, "click id from an older click must not attach to a new ref")
}

func TestCapture_NoParamsKeepsStoredIdentity(t *testing.T) {
	store := storage.NewMemory()
	m := NewManager(store, logger.NewNop())

	m.Capture(mustURL(t, "https://shop.example/?ref=KEEP"))
	attr := m.Capture(mustURL(t, "https://shop.example/checkout"))

	assert.Equal(t, "KEEP", attr.RefCode)
}

func TestCapture_OrganicTrafficHasNoRef(t *testing.T) {
	m := NewManager(storage.NewMemory(), logger.NewNop())

	attr := m.Capture(mustURL(t, "https://shop.example/"))

	assert.False(t, attr.Attributed())
}

func TestCapture_AlternateRefParam(t *testing.T) {
	m := NewManager(storage.NewMemory(), logger.NewNop())

	attr := m.Capture(mustURL(t, "https://shop.example/?sub001=XYZ"))

	assert.Equal(t, "XYZ", attr.RefCode)
}

func TestVisitorID_StableOnceGenerated(t *testing.T) {
	m := NewManager(storage.NewMemory(), logger.NewNop())

	first := m.VisitorID()
	second := m.VisitorID()

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}
