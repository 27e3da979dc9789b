package keypool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptyPoolIsFatal(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrEmptyPool)

	_, err = New([]string{"", "  "})
	require.ErrorIs(t, err, ErrEmptyPool)
}

func TestNew_DiscardsBlankEntries(t *testing.T) {
	pool, err := New([]string{"key-a", "", "key-b "})
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Size())
	assert.Equal(t, "key-a", pool.Current().Key)
}

func TestRotate_CyclesBackToStart(t *testing.T) {
	pool, err := New([]string{"key-a", "key-b", "key-c"})
	require.NoError(t, err)

	start := pool.Current()
	for i := 0; i < pool.Size(); i++ {
		pool.Rotate()
	}
	assert.Equal(t, start.Key, pool.Current().Key,
		"rotate called size() times must return to the original credential")
}

func TestRotate_AdvancesAndReturnsNewCurrent(t *testing.T) {
	pool, err := New([]string{"key-a", "key-b"})
	require.NoError(t, err)

	next := pool.Rotate()
	assert.Equal(t, "key-b", next.Key)
	assert.Equal(t, "key-b", pool.Current().Key)
}

func TestRotate_ConcurrentRotationsAreSerialized(t *testing.T) {
	pool, err := New([]string{"k1", "k2", "k3", "k4", "k5"})
	require.NoError(t, err)

	const goroutines = 50
	const rotationsEach = 100

	var wg sync.WaitGroup
	seen := make(chan string, goroutines*rotationsEach)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rotationsEach; j++ {
				seen <- pool.Rotate().Key
			}
		}()
	}
	wg.Wait()
	close(seen)

	// Total rotations is a multiple of the pool size, so every credential
	// must have been handed out exactly the same number of times.
	counts := make(map[string]int)
	for key := range seen {
		counts[key]++
	}
	require.Len(t, counts, pool.Size())
	expected := goroutines * rotationsEach / pool.Size()
	for key, n := range counts {
		assert.Equal(t, expected, n, "credential %s handed out unevenly", key)
	}
}

func TestRandomPick_ReturnsPoolMember(t *testing.T) {
	pool, err := New([]string{"key-a", "key-b"})
	require.NoError(t, err)

	members := map[string]bool{"key-a": true, "key-b": true}
	for i := 0; i < 20; i++ {
		assert.True(t, members[pool.RandomPick().Key])
	}
	// Cursor must not move.
	assert.Equal(t, "key-a", pool.Current().Key)
}

func TestMarkExhausted_IsAdvisoryOnly(t *testing.T) {
	pool, err := New([]string{"key-a", "key-b"})
	require.NoError(t, err)

	pool.MarkExhausted("key-b")

	// Exhausted credentials stay in rotation.
	next := pool.Rotate()
	assert.Equal(t, "key-b", next.Key)
	assert.Equal(t, HealthExhausted, next.Health)

	pool.MarkHealthy("key-b")
	assert.Equal(t, HealthHealthy, pool.Current().Health)
}

func TestFromEnv_NumberedVariables(t *testing.T) {
	t.Setenv("TESTPOOL_KEY_1", "alpha")
	t.Setenv("TESTPOOL_KEY_2", "beta")

	pool, err := FromEnv("TESTPOOL_KEY")
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Size())
	assert.Equal(t, "alpha", pool.Current().Key)
}

func TestFromEnv_CommaSeparatedFallback(t *testing.T) {
	t.Setenv("TESTCSV_KEYS", "one,two,three")

	pool, err := FromEnv("TESTCSV_KEY")
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Size())
}
