package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
)

func TestMemory_SetGetRemove(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.Set("k", "v", 0))

	val, ok, err := m.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	require.NoError(t, m.Remove("k"))
	_, ok, err = m.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set("k", "v", 5*time.Second))

	_, ok, _ := m.Get("k")
	assert.True(t, ok)

	now = now.Add(6 * time.Second)
	_, ok, _ = m.Get("k")
	assert.False(t, ok, "entry must expire after its ttl")
}

func TestFile_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")

	f, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Set("ref", "ABC", 0))

	reopened, err := NewFile(path)
	require.NoError(t, err)

	val, ok, err := reopened.Get("ref")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ABC", val)
}

func TestFile_ExpiredEntryNotReturned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	f, err := NewFile(path)
	require.NoError(t, err)

	now := time.Now()
	f.now = func() time.Time { return now }
	require.NoError(t, f.Set("pending", "p", time.Minute))

	now = now.Add(2 * time.Minute)
	_, ok, _ := f.Get("pending")
	assert.False(t, ok)
}

func TestRedis_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, "agent:")

	require.NoError(t, r.Set("visitor", "v-1", 0))

	val, ok, err := r.Get("visitor")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v-1", val)

	require.NoError(t, r.Remove("visitor"))
	_, ok, err = r.Get("visitor")
	require.NoError(t, err)
	assert.False(t, ok)
}

// failing is a tier that always errors, standing in for a quota-exhausted or
// disabled browser store.
type failing struct{}

func (failing) Get(string) (string, bool, error) { return "", false, errTierDown }
func (failing) Set(string, string, time.Duration) error {
	return errTierDown
}
func (failing) Remove(string) error { return errTierDown }
func (failing) Name() string        { return "failing" }

var errTierDown = assert.AnError

func TestTiered_FallsThroughFailingTier(t *testing.T) {
	mem := NewMemory()
	require.NoError(t, mem.Set("k", "v", 0))

	chain := NewTiered(logger.NewNop(), failing{}, mem)

	val, ok, err := chain.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestTiered_BackfillsEmptyHigherTier(t *testing.T) {
	primary := NewMemory()
	secondary := NewMemory()
	require.NoError(t, secondary.Set("k", "v", 0))

	chain := NewTiered(logger.NewNop(), primary, secondary)

	_, ok, _ := chain.Get("k")
	require.True(t, ok)

	val, ok, _ := primary.Get("k")
	assert.True(t, ok, "read must backfill the empty higher tier")
	assert.Equal(t, "v", val)
}

func TestTiered_AlwaysHasMemoryTerminator(t *testing.T) {
	chain := NewTiered(logger.NewNop(), failing{})

	require.NoError(t, chain.Set("k", "v", 0))
	val, ok, err := chain.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)
}
