package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_FreshFeedStartsAtOne(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current(), "Current must not advance")
}

func TestClock_ResumesAfterLoggedSequence(t *testing.T) {
	// An author whose log already holds seq 41 continues at 42.
	c := NewClockAt(41)
	assert.Equal(t, int64(41), c.Current())
	assert.Equal(t, int64(42), c.Next())
}

func TestClock_ObserveReplicatedOwnOperations(t *testing.T) {
	c := NewClockAt(10)

	c.Observe(4)
	assert.Equal(t, int64(10), c.Current(), "stale sequence ignored")

	c.Observe(25)
	assert.Equal(t, int64(26), c.Next(), "resumes past the observed sequence")
}

func TestClock_ConcurrentWritersNeverShareASequence(t *testing.T) {
	c := NewClock()
	const writers, writes = 50, 200

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]struct{}, writers*writes)
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(observe bool) {
			defer wg.Done()
			for j := 0; j < writes; j++ {
				seq := c.Next()
				if observe {
					c.Observe(seq - 1)
				}
				mu.Lock()
				_, dup := seen[seq]
				seen[seq] = struct{}{}
				mu.Unlock()
				if dup {
					t.Errorf("sequence %d issued twice", seq)
				}
			}
		}(i%2 == 0)
	}
	wg.Wait()

	require.Len(t, seen, writers*writes)
	assert.Equal(t, int64(writers*writes), c.Current())
}
