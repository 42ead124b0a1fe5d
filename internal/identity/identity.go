// Package identity manages the visitor's durable affiliate identity: the
// referral code and click id carried in from a tracked link, and the locally
// generated visitor id.
package identity

import (
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/storage"
)

// Storage keys for the attribution identity.
const (
	keyRef     = "attr:ref"
	keyClickID = "attr:click_id"
	keyVisitor = "attr:visitor_id"
)

// attributionTTL keeps a captured referral live across a long consideration
// window before a fresh click is required.
const attributionTTL = 90 * 24 * time.Hour

// RefParams are the URL query parameters recognized as a referral code, in
// priority order.
var RefParams = []string{"ref", "sub001", "aff"}

// ClickIDParams are the URL query parameters recognized as a click id.
var ClickIDParams = []string{"click_id", "cid"}

// Manager reads and writes the attribution identity through the storage
// tier chain. All storage failures degrade to "identity absent".
type Manager struct {
	store  storage.Store
	logger logger.Logger
}

// NewManager creates an identity manager on top of the given store.
func NewManager(store storage.Store, log logger.Logger) *Manager {
	return &Manager{store: store, logger: log}
}

// Capture inspects the page URL for referral parameters. Fresh URL
// parameters win over every stored tier and overwrite them, so a new click
// re-attributes the visitor. Without URL parameters the stored identity is
// left untouched.
func (m *Manager) Capture(pageURL *url.URL) domain.AttributionContext {
	if pageURL != nil {
		query := pageURL.Query()
		if ref := firstParam(query, RefParams); ref != "" {
			_ = m.store.Set(keyRef, ref, attributionTTL)
			if clickID := firstParam(query, ClickIDParams); clickID != "" {
				_ = m.store.Set(keyClickID, clickID, attributionTTL)
			} else {
				_ = m.store.Remove(keyClickID)
			}
			m.logger.Debug("captured referral from url",
				logger.String("ref", ref),
			)
		}
	}

	return domain.AttributionContext{
		RefCode:   m.Ref(),
		ClickID:   m.ClickID(),
		VisitorID: m.VisitorID(),
	}
}

// Ref returns the stored referral code, or "" for organic traffic.
func (m *Manager) Ref() string {
	val, _, _ := m.store.Get(keyRef)
	return val
}

// ClickID returns the stored click id, if any.
func (m *Manager) ClickID() string {
	val, _, _ := m.store.Get(keyClickID)
	return val
}

// VisitorID returns the stable visitor id, generating and persisting one on
// first use. Once present it is never regenerated.
func (m *Manager) VisitorID() string {
	if val, ok, _ := m.store.Get(keyVisitor); ok && val != "" {
		return val
	}
	id := uuid.NewString()
	_ = m.store.Set(keyVisitor, id, 0)
	return id
}

func firstParam(query url.Values, names []string) string {
	for _, name := range names {
		if val := query.Get(name); val != "" {
			return val
		}
	}
	return ""
}
