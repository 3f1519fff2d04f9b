package cache

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetSet(t *testing.T) {
	c := New[int](2, time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	c.Set("b", 2)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// "b" is now least recently used.
	c.Set("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCacheExpires(t *testing.T) {
	c := New[string](10, 20*time.Millisecond)
	c.Set("k", "v")

	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestKey(t *testing.T) {
	series := []float64{1, 2, 3}

	k1, err := Key("ensemble", series, map[string]float64{"threshold": 2})
	require.NoError(t, err)
	k2, err := Key("ensemble", []float64{1, 2, 3}, map[string]float64{"threshold": 2})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)

	k3, err := Key("zscore", series, map[string]float64{"threshold": 2})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	_, err = Key("ensemble", []float64{math.NaN()})
	assert.Error(t, err)
}
