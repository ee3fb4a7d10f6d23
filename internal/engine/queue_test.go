package engine

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowmerge/internal/ir"
)

func opEvent(id string) Event {
	return Event{Type: EventTypeOperation, Operation: &ir.Operation{ID: id}}
}

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue()

	ok := q.Enqueue(opEvent("op-1"))
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, EventTypeOperation, got.Type)
	assert.Equal(t, "op-1", got.Operation.ID)
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(opEvent("A"))
	q.Enqueue(Event{Type: EventTypeRemerge, Ref: ir.RowRef{Table: "todos", Key: "1_A"}})
	q.Enqueue(opEvent("C"))

	e1, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "A", e1.Operation.ID)

	e2, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, EventTypeRemerge, e2.Type)
	assert.Equal(t, "todos/1_A", e2.Ref.String())

	e3, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "C", e3.Operation.ID)
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_Wait_Signals(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(opEvent("A"))
	q.Enqueue(opEvent("B"))

	select {
	case <-q.Wait():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no signal after enqueue")
	}
	assert.Equal(t, 2, q.Len(), "signals coalesce but events do not")
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(opEvent("queued"))
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(opEvent("after-close")), "enqueue after close should return false")

	_, open := <-q.Wait()
	assert.True(t, open, "the pending signal is delivered before the close")
	_, open = <-q.Wait()
	assert.False(t, open, "wait channel should be closed")

	e, ok := q.TryDequeue()
	require.True(t, ok, "queued events survive close")
	assert.Equal(t, "queued", e.Operation.ID)
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()

	assert.Equal(t, 0, q.Len())

	q.Enqueue(opEvent("1"))
	assert.Equal(t, 1, q.Len())

	q.Enqueue(opEvent("2"))
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())

	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_ThreadSafe(t *testing.T) {
	q := newEventQueue()

	const producers = 10
	const eventsPerProducer = 100

	var wg sync.WaitGroup

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(producerID int) {
			defer wg.Done()
			for i := 0; i < eventsPerProducer; i++ {
				q.Enqueue(opEvent(strconv.Itoa(producerID*1000 + i)))
			}
		}(p)
	}

	received := 0
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for received < producers*eventsPerProducer {
			if _, ok := q.TryDequeue(); !ok {
				time.Sleep(time.Millisecond)
				continue
			}
			received++
		}
	}()

	wg.Wait()

	select {
	case <-consumerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer timeout")
	}

	assert.Equal(t, producers*eventsPerProducer, received)
}
