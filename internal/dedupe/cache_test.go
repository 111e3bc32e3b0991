// ABOUTME: Tests for the dedupe cache behind telemetry event suppression.
// ABOUTME: Covers TTL expiry, capacity eviction, and concurrent marking.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndMark(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.CheckAndMark("a"), "first sighting is not a duplicate")
	assert.True(t, c.CheckAndMark("a"), "second sighting within TTL is a duplicate")
	assert.False(t, c.CheckAndMark("b"), "distinct key is not a duplicate")
}

func TestTTLExpiry(t *testing.T) {
	c := New(20*time.Millisecond, 100)
	defer c.Close()

	assert.False(t, c.CheckAndMark("a"))
	time.Sleep(30 * time.Millisecond)
	assert.False(t, c.CheckAndMark("a"), "expired key counts as unseen")
}

func TestCapacityEviction(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	for i := 0; i < 3; i++ {
		c.CheckAndMark(fmt.Sprintf("k%d", i))
	}
	// k3 evicts k0, the oldest.
	c.CheckAndMark("k3")
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.CheckAndMark("k0"), "evicted key is unseen again")
}

func TestConcurrentMarking(t *testing.T) {
	c := New(time.Minute, 10_000)
	defer c.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.CheckAndMark(fmt.Sprintf("g%d-k%d", g, i))
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 1600, c.Len())
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
