// ABOUTME: Tests for the processed-message tracker
// ABOUTME: Covers atomic seen-and-record, TTL expiry, size eviction and concurrent use

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeen_FirstTimeIsNew(t *testing.T) {
	tr := New(time.Minute, 100)
	defer tr.Close()

	assert.False(t, tr.Seen("wamid.A"))
	assert.True(t, tr.Seen("wamid.A"))
	assert.True(t, tr.Seen("wamid.A"))
}

func TestSeen_DistinctIDsIndependent(t *testing.T) {
	tr := New(time.Minute, 100)
	defer tr.Close()

	assert.False(t, tr.Seen("wamid.A"))
	assert.False(t, tr.Seen("wamid.B"))
	assert.True(t, tr.Seen("wamid.A"))
}

func TestSeen_ExpiredIDIsNewAgain(t *testing.T) {
	tr := New(15*time.Millisecond, 100)
	defer tr.Close()

	assert.False(t, tr.Seen("wamid.A"))
	time.Sleep(25 * time.Millisecond)
	assert.False(t, tr.Seen("wamid.A"))
}

func TestSeen_RefreshesTimestamp(t *testing.T) {
	tr := New(40*time.Millisecond, 100)
	defer tr.Close()

	assert.False(t, tr.Seen("wamid.A"))
	time.Sleep(25 * time.Millisecond)
	// Redelivery refreshes the entry.
	assert.True(t, tr.Seen("wamid.A"))
	time.Sleep(25 * time.Millisecond)
	// Still within TTL of the refresh.
	assert.True(t, tr.Seen("wamid.A"))
}

func TestEviction_OldestGoesFirst(t *testing.T) {
	tr := New(time.Minute, 3)
	defer tr.Close()

	tr.Seen("a")
	tr.Seen("b")
	tr.Seen("c")
	tr.Seen("d") // evicts "a"

	assert.Equal(t, 3, tr.Len())
	assert.False(t, tr.Seen("a"))
	assert.True(t, tr.Seen("b"))
}

func TestDefaults(t *testing.T) {
	tr := New(0, 0)
	defer tr.Close()

	assert.Equal(t, DefaultTTL, tr.ttl)
	assert.Equal(t, DefaultMaxSize, tr.maxSize)
}

func TestSweepRemovesExpired(t *testing.T) {
	tr := New(10*time.Millisecond, 100)
	defer tr.Close()

	for i := 0; i < 10; i++ {
		tr.Seen(fmt.Sprintf("id-%d", i))
	}
	time.Sleep(20 * time.Millisecond)
	tr.sweep()
	assert.Equal(t, 0, tr.Len())
}

func TestConcurrentSeen_ExactlyOneWinner(t *testing.T) {
	tr := New(time.Minute, 1000)
	defer tr.Close()

	const goroutines = 50
	var wg sync.WaitGroup
	newCount := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !tr.Seen("contested-id") {
				newCount <- true
			}
		}()
	}
	wg.Wait()
	close(newCount)

	assert.Len(t, newCount, 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	tr := New(time.Minute, 10)
	tr.Close()
	tr.Close()
}
