package storage

import (
	"time"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
)

// Tiered chains multiple backends in priority order. Reads return the first
// hit and backfill higher-priority tiers that missed; writes go to every
// tier. A failing tier is skipped, so as long as one tier works (the memory
// tier always does) callers never observe an error.
type Tiered struct {
	tiers  []Store
	logger logger.Logger
}

// NewTiered creates a tier chain. Tiers are consulted in the given order;
// an in-memory tier is appended if the caller did not supply one, so the
// chain can never be empty or fully unavailable.
func NewTiered(log logger.Logger, tiers ...Store) *Tiered {
	hasMemory := false
	for _, t := range tiers {
		if _, ok := t.(*Memory); ok {
			hasMemory = true
		}
	}
	if !hasMemory {
		tiers = append(tiers, NewMemory())
	}
	return &Tiered{tiers: tiers, logger: log}
}

// Get returns the first value found across the tiers, backfilling any
// higher-priority tier that was empty.
func (t *Tiered) Get(key string) (string, bool, error) {
	for i, tier := range t.tiers {
		val, ok, err := tier.Get(key)
		if err != nil {
			t.logger.Debug("storage tier read failed",
				logger.String("tier", tier.Name()),
				logger.String("key", key),
				logger.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}
		for _, missed := range t.tiers[:i] {
			if setErr := missed.Set(key, val, 0); setErr != nil {
				t.logger.Debug("storage tier backfill failed",
					logger.String("tier", missed.Name()),
					logger.Error(setErr),
				)
			}
		}
		return val, true, nil
	}
	return "", false, nil
}

// Set writes the value to every tier, best effort.
func (t *Tiered) Set(key, value string, ttl time.Duration) error {
	for _, tier := range t.tiers {
		if err := tier.Set(key, value, ttl); err != nil {
			t.logger.Debug("storage tier write failed",
				logger.String("tier", tier.Name()),
				logger.String("key", key),
				logger.Error(err),
			)
		}
	}
	return nil
}

// Remove deletes the key from every tier, best effort.
func (t *Tiered) Remove(key string) error {
	for _, tier := range t.tiers {
		if err := tier.Remove(key); err != nil {
			t.logger.Debug("storage tier remove failed",
				logger.String("tier", tier.Name()),
				logger.Error(err),
			)
		}
	}
	return nil
}

// Name identifies the backend in logs.
func (t *Tiered) Name() string { return "tiered" }
