package middleware

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginLimiterThreshold(t *testing.T) {
	l := NewLoginLimiter(5, 15*time.Minute)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "attempt %d should be admitted", i+1)
	}
	assert.False(t, l.Allow("10.0.0.1"), "sixth attempt should be refused")
	assert.False(t, l.Allow("10.0.0.1"), "refusal should persist")
	assert.Equal(t, 5, l.Attempts("10.0.0.1"), "refused attempts do not count")
}

func TestLoginLimiterAddressesAreIndependent(t *testing.T) {
	l := NewLoginLimiter(5, 15*time.Minute)

	for i := 0; i < 6; i++ {
		l.Allow("10.0.0.1")
	}
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "another address is unaffected")
}

func TestLoginLimiterResetOnSuccess(t *testing.T) {
	l := NewLoginLimiter(5, 15*time.Minute)

	for i := 0; i < 4; i++ {
		require.True(t, l.Allow("10.0.0.1"))
	}
	// The successful attempt itself takes the last slot, then clears it.
	require.True(t, l.Allow("10.0.0.1"))
	l.Reset("10.0.0.1")

	assert.Equal(t, 0, l.Attempts("10.0.0.1"))
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "history should be forgotten")
	}
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestLoginLimiterWindowExpiry(t *testing.T) {
	l := NewLoginLimiter(5, 15*time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	l.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("10.0.0.1"))
	}
	require.False(t, l.Allow("10.0.0.1"))

	now = base.Add(14*time.Minute + 59*time.Second)
	assert.False(t, l.Allow("10.0.0.1"), "still inside the window")

	now = base.Add(15 * time.Minute)
	assert.True(t, l.Allow("10.0.0.1"), "window has expired")
	assert.Equal(t, 1, l.Attempts("10.0.0.1"), "expiry starts a fresh window")
}

func TestLoginLimiterLastSlotNotSharedUnderRace(t *testing.T) {
	l := NewLoginLimiter(5, 15*time.Minute)

	for i := 0; i < 4; i++ {
		require.True(t, l.Allow("10.0.0.1"))
	}

	// Two requests racing for the one remaining slot: exactly one wins,
	// because admission and counting happen in the same critical section.
	results := make(chan bool, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.Allow("10.0.0.1")
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for ok := range results {
		if ok {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 5, l.Attempts("10.0.0.1"))
}

func TestLoginLimiterConcurrentAttempts(t *testing.T) {
	l := NewLoginLimiter(5, 15*time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("10.0.0.1") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, admitted, "no more than the threshold gets through")
	assert.Equal(t, 5, l.Attempts("10.0.0.1"))
}

func TestLoginLimiterBucketBound(t *testing.T) {
	l := NewLoginLimiter(5, 15*time.Minute)

	for i := 0; i < loginBucketCap+100; i++ {
		l.Allow(fmt.Sprintf("10.%d.%d.%d", i>>16&0xff, i>>8&0xff, i&0xff))
	}
	assert.LessOrEqual(t, l.buckets.Len(), loginBucketCap)
}
