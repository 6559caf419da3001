package bus

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	return New(zerolog.New(os.Stdout).Level(zerolog.ErrorLevel))
}

func TestPublish_AppendsAndTimestamps(t *testing.T) {
	b := newTestBus()

	entry := b.Publish("coordinator", "solver", "delegating task")
	assert.False(t, entry.Timestamp.IsZero())
	assert.Equal(t, 1, b.Len())
}

func TestSubscribe_DeliveryInRegistrationOrder(t *testing.T) {
	b := newTestBus()

	var order []int
	b.Subscribe(func(Entry) { order = append(order, 1) })
	b.Subscribe(func(Entry) { order = append(order, 2) })
	b.Subscribe(func(Entry) { order = append(order, 3) })

	b.Publish("a", "b", "hello")

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSubscribe_PanickingObserverIsIsolated(t *testing.T) {
	b := newTestBus()

	delivered := false
	b.Subscribe(func(Entry) { panic("observer bug") })
	b.Subscribe(func(Entry) { delivered = true })

	require.NotPanics(t, func() {
		b.Publish("a", "b", "hello")
	})

	assert.True(t, delivered, "second observer still receives the entry")
	assert.Equal(t, 1, b.Len(), "log is not corrupted by the panic")
}

func TestRecent(t *testing.T) {
	b := newTestBus()

	b.Publish("a", "b", "one")
	b.Publish("a", "b", "two")
	b.Publish("a", "b", "three")

	recent := b.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Message)
	assert.Equal(t, "three", recent[1].Message)

	assert.Len(t, b.Recent(10), 3)
	assert.Nil(t, b.Recent(0))
}

func TestPublish_ConcurrentPublishers(t *testing.T) {
	b := newTestBus()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish("a", "b", "msg")
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, b.Len())
}

func TestPublish_DeliveryOrderMatchesLog(t *testing.T) {
	b := newTestBus()

	var mu sync.Mutex
	var seen []string
	b.Subscribe(func(e Entry) {
		mu.Lock()
		seen = append(seen, e.Message)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				b.Publish(fmt.Sprintf("pub-%d", p), "all", fmt.Sprintf("p%d-%d", p, i))
			}
		}(p)
	}
	wg.Wait()

	logged := b.Recent(200)
	require.Len(t, seen, 200)
	for i, entry := range logged {
		assert.Equal(t, entry.Message, seen[i])
	}
}
