package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsStableAndModelSensitive(t *testing.T) {
	assert.Equal(t, Key("m1", "hello"), Key("m1", "hello"))
	assert.NotEqual(t, Key("m1", "hello"), Key("m2", "hello"))
}

func TestSetAndGetRoundTrip(t *testing.T) {
	c := New(WithMaxSize(10))
	c.Set("k1", []float64{1, 2, 3})

	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3}, v)
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := New(WithMaxSize(10))
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestSetEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c := New(WithMaxSize(2))
	c.Set("a", []float64{1})
	c.Set("b", []float64{2})
	c.Set("c", []float64{3}) // evicts "a", the least recently used

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestGetTouchKeepsEntryAliveUnderPressure(t *testing.T) {
	c := New(WithMaxSize(2))
	c.Set("a", []float64{1})
	c.Set("b", []float64{2})
	c.Get("a")              // touch "a", making "b" the least recently used
	c.Set("c", []float64{3}) // evicts "b"

	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestGetExpiresEntryPastTTL(t *testing.T) {
	c := New(WithMaxSize(10), WithTTL(time.Millisecond))
	c.Set("k1", []float64{1})
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("k1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestSaveAndLoadRoundTripsThroughDisk(t *testing.T) {
	dir := t.TempDir()
	c1 := New(WithMaxSize(10), WithPersistence(dir))
	c1.Set("k1", []float64{1, 2, 3})
	require.NoError(t, c1.Save())

	c2 := New(WithMaxSize(10), WithPersistence(dir))
	v, ok := c2.Get("k1")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3}, v)
}

func TestClearRemovesPersistedSnapshot(t *testing.T) {
	dir := t.TempDir()
	c := New(WithMaxSize(10), WithPersistence(dir))
	c.Set("k1", []float64{1})
	require.NoError(t, c.Save())

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Len())
	assert.NoFileExists(t, filepath.Join(dir, "embedding_cache.json"))
}
