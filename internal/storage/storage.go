// Package storage provides the tiered key-value persistence used by the
// tracking agent. Callers talk to a single Store; tier failures are absorbed
// by the chain and never surface as errors to the rest of the engine.
package storage

import "time"

// Store is the capability interface every backend implements.
type Store interface {
	// Get returns the value for key, and whether it was present.
	Get(key string) (string, bool, error)
	// Set writes the value for key. A zero ttl means no expiry.
	Set(key, value string, ttl time.Duration) error
	// Remove deletes the key. Removing an absent key is not an error.
	Remove(key string) error
	// Name identifies the backend in logs.
	Name() string
}
