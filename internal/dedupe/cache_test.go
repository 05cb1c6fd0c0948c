// ABOUTME: Tests for the TTL dedupe cache: expiry, capacity eviction, atomicity.
// ABOUTME: Uses short TTLs so expiry can be observed without long sleeps.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndMark_FirstSeenThenDuplicate(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.CheckAndMark("env-1"))
	assert.True(t, c.CheckAndMark("env-1"))
	assert.False(t, c.CheckAndMark("env-2"))
}

func TestCheck_DoesNotMark(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Check("env-1"))
	assert.False(t, c.Check("env-1"))

	c.Mark("env-1")
	assert.True(t, c.Check("env-1"))
}

func TestTTLExpiry(t *testing.T) {
	c := New(20*time.Millisecond, 100)
	defer c.Close()

	c.Mark("env-1")
	assert.True(t, c.Check("env-1"))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, c.Check("env-1"))
	assert.False(t, c.CheckAndMark("env-1"), "expired keys behave as unseen")
}

func TestCapacityEviction_OldestFirst(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	c.Mark("a")
	c.Mark("b")
	c.Mark("c")
	c.Mark("d") // evicts a

	assert.False(t, c.Check("a"))
	assert.True(t, c.Check("b"))
	assert.True(t, c.Check("d"))
}

func TestMark_RefreshMovesToBack(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	c.Mark("a")
	c.Mark("b")
	c.Mark("c")
	c.Mark("a") // refresh; b is now oldest
	c.Mark("d") // evicts b

	assert.True(t, c.Check("a"))
	assert.False(t, c.Check("b"))
}

func TestConcurrentCheckAndMark_ExactlyOneWinner(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	const workers = 32
	var wg sync.WaitGroup
	firsts := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("contested") {
				firsts <- true
			}
		}()
	}
	wg.Wait()
	close(firsts)

	assert.Equal(t, 1, len(firsts), "exactly one caller should see the key as new")
}

func TestClose_Idempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}

func TestHighChurnStaysBounded(t *testing.T) {
	c := New(time.Minute, 50)
	defer c.Close()

	for i := 0; i < 500; i++ {
		c.Mark(fmt.Sprintf("key-%d", i))
	}

	seen := 0
	for i := 0; i < 500; i++ {
		if c.Check(fmt.Sprintf("key-%d", i)) {
			seen++
		}
	}
	assert.Equal(t, 50, seen)
}
