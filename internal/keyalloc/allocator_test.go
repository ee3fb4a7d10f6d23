package keyalloc

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memReservations struct {
	mu      sync.Mutex
	marks   map[string]int64
	saves   int
	failErr error
}

func newMemReservations() *memReservations {
	return &memReservations{marks: make(map[string]int64)}
}

func (m *memReservations) LoadReservation(_ context.Context, table, identity string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mark, ok := m.marks[table+"\x00"+identity]
	return mark, ok, nil
}

func (m *memReservations) SaveReservation(_ context.Context, table, identity string, mark int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.saves++
	m.marks[table+"\x00"+identity] = mark
	return nil
}

func TestNextKey_FirstKey(t *testing.T) {
	a := New(newMemReservations())
	key, err := a.NextKey(context.Background(), "todos", "@A")
	require.NoError(t, err)
	assert.Equal(t, "1_@A", key)
}

func TestNextSequence_Monotonic(t *testing.T) {
	store := newMemReservations()
	a := New(store, WithWindow(10))
	ctx := context.Background()

	for want := int64(1); want <= 25; want++ {
		got, err := a.NextSequence(ctx, "todos", "A")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	// Marks persisted at 1, 11, 21.
	assert.Equal(t, 3, store.saves)
	assert.Equal(t, int64(30), store.marks["todos\x00A"])
}

func TestNextSequence_IndependentCounters(t *testing.T) {
	a := New(newMemReservations())
	ctx := context.Background()

	s1, _ := a.NextSequence(ctx, "todos", "A")
	s2, _ := a.NextSequence(ctx, "todos", "B")
	s3, _ := a.NextSequence(ctx, "notes", "A")
	s4, _ := a.NextSequence(ctx, "todos", "A")

	assert.Equal(t, []int64{1, 1, 1, 2}, []int64{s1, s2, s3, s4})
}

func TestNextSequence_RestartNeverReuses(t *testing.T) {
	store := newMemReservations()
	ctx := context.Background()

	first := New(store, WithWindow(100))
	var last int64
	for i := 0; i < 5; i++ {
		n, err := first.NextSequence(ctx, "todos", "A")
		require.NoError(t, err)
		last = n
	}
	assert.Equal(t, int64(5), last)

	// Simulated crash: the in-memory counter is lost.
	second := New(store, WithWindow(100))
	n, err := second.NextSequence(ctx, "todos", "A")
	require.NoError(t, err)
	assert.Equal(t, int64(101), n)
	assert.Greater(t, n, last)
}

func TestNextSequence_SaveError(t *testing.T) {
	store := newMemReservations()
	store.failErr = errors.New("disk full")
	a := New(store)

	_, err := a.NextSequence(context.Background(), "todos", "A")
	require.Error(t, err)
	assert.ErrorContains(t, err, "save reservation")

	// Nothing was issued, so recovery restarts at 1.
	store.failErr = nil
	n, err := a.NextSequence(context.Background(), "todos", "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNextSequence_RequiresTableAndIdentity(t *testing.T) {
	a := New(newMemReservations())
	_, err := a.NextSequence(context.Background(), "", "A")
	assert.Error(t, err)
	_, err = a.NextSequence(context.Background(), "todos", "")
	assert.Error(t, err)
}

func TestNextSequence_Concurrent(t *testing.T) {
	a := New(newMemReservations(), WithWindow(7))
	ctx := context.Background()

	const workers, each = 8, 50
	results := make(chan int64, workers*each)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				n, err := a.NextSequence(ctx, "todos", "A")
				if err != nil {
					t.Error(err)
					return
				}
				results <- n
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for n := range results {
		assert.False(t, seen[n], "sequence %d issued twice", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers*each)
	for n := int64(1); n <= workers*each; n++ {
		assert.True(t, seen[n], "sequence %d missing", n)
	}
}

func TestWithWindow_IgnoresInvalid(t *testing.T) {
	a := New(newMemReservations(), WithWindow(0))
	assert.Equal(t, DefaultWindow, a.Window())
}

func TestParseKey(t *testing.T) {
	seq, owner, err := ParseKey("42_@abc_def")
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
	assert.Equal(t, "@abc_def", owner)

	_, _, err = ParseKey("nope")
	assert.Error(t, err)

	assert.Equal(t, "7_B", FormatKey(7, "B"))
}
