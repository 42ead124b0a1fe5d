package reconcile

import (
	"encoding/json"
	"time"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/storage"
)

// pendingKey is the durable-store slot for the provisional sale.
const pendingKey = "pending:sale"

// PendingStore keeps the single provisional sale captured at purchase
// intent. Whichever confirmation mechanism runs first consumes it.
type PendingStore struct {
	store storage.Store
	now   func() time.Time
}

// NewPendingStore creates a pending-sale store on the durable tier chain.
func NewPendingStore(store storage.Store) *PendingStore {
	return &PendingStore{store: store, now: time.Now}
}

// Put records a provisional sale, replacing any previous one.
func (p *PendingStore) Put(price float64, originURL string) {
	sale := domain.PendingSale{
		Price:     price,
		Timestamp: p.now(),
		OriginURL: originURL,
	}
	data, err := json.Marshal(sale)
	if err != nil {
		return
	}
	_ = p.store.Set(pendingKey, string(data), domain.PendingSaleTTL)
}

// Get returns the pending sale if one exists and is fresh. A stale or
// unreadable record is cleared and reported as absent, so an expired
// pending sale can never be consumed.
func (p *PendingStore) Get() (domain.PendingSale, bool) {
	raw, ok, _ := p.store.Get(pendingKey)
	if !ok {
		return domain.PendingSale{}, false
	}

	var sale domain.PendingSale
	if err := json.Unmarshal([]byte(raw), &sale); err != nil {
		p.Clear()
		return domain.PendingSale{}, false
	}
	if sale.Expired(p.now()) {
		p.Clear()
		return domain.PendingSale{}, false
	}
	return sale, true
}

// Clear deletes the pending sale.
func (p *PendingStore) Clear() {
	_ = p.store.Remove(pendingKey)
}
