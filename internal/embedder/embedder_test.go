package embedder

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ComputeHash(""))
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", ComputeHash("hello world"))
	assert.Equal(t, ComputeHash("test"), ComputeHash("test"))
}

func TestCache_GetReturnsCopy(t *testing.T) {
	c := NewCache(2)
	c.Set("a", &Embedding{Vector: []float32{1, 2}, Dimension: 2})

	got, ok := c.Get("a")
	require.True(t, ok)
	got.Vector[0] = 99

	again, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, float32(1), again.Vector[0])
}

func TestCache_Eviction(t *testing.T) {
	c := NewCache(2)
	c.Set("a", &Embedding{})
	c.Set("b", &Embedding{})
	c.Set("c", &Embedding{})
	assert.Equal(t, 2, c.Size())
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestCache_NilIsSafe(t *testing.T) {
	var c *Cache
	c.Set("a", &Embedding{})
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestCachedBatch_FetchesOnlyMisses(t *testing.T) {
	cache := NewCache(10)
	var fetched [][]string
	fetch := func(_ context.Context, texts []string) ([][]float32, error) {
		fetched = append(fetched, texts)
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{float32(len(texts[i]))}
		}
		return out, nil
	}

	ctx := context.Background()
	_, err := cachedBatch(ctx, cache, "p", "m", []string{"a", "bb"}, fetch)
	require.NoError(t, err)

	embs, err := cachedBatch(ctx, cache, "p", "m", []string{"bb", "ccc", "a"}, fetch)
	require.NoError(t, err)
	require.Len(t, embs, 3)
	assert.Equal(t, []float32{2}, embs[0].Vector)
	assert.Equal(t, []float32{3}, embs[1].Vector)
	assert.Equal(t, []float32{1}, embs[2].Vector)

	require.Len(t, fetched, 2)
	assert.Equal(t, []string{"ccc"}, fetched[1])
}

func TestCachedBatch_Validation(t *testing.T) {
	fetch := func(context.Context, []string) ([][]float32, error) { return nil, nil }
	_, err := cachedBatch(context.Background(), nil, "p", "m", nil, fetch)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = cachedBatch(context.Background(), nil, "p", "m", []string{"ok", ""}, fetch)
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestCachedBatch_CountMismatch(t *testing.T) {
	fetch := func(context.Context, []string) ([][]float32, error) { return [][]float32{{1}}, nil }
	_, err := cachedBatch(context.Background(), nil, "p", "m", []string{"a", "b"}, fetch)
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	var norm float64
	for _, x := range NormalizeVector([]float32{1, 2, 3, 4}) {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		got, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("transient")
			}
			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, got)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			return 0, errors.New("down")
		})
		assert.EqualError(t, err, "down")
		assert.Equal(t, 3, calls)
	})

	t.Run("input errors are not retried", func(t *testing.T) {
		calls := 0
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			return 0, ErrEmptyText
		})
		assert.ErrorIs(t, err, ErrEmptyText)
		assert.Equal(t, 1, calls)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			return 0, errors.New("down")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
