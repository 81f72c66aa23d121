package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublishSync(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var got []Event
	unsub := bus.Subscribe(MessageCreated, func(e Event) {
		got = append(got, e)
	})
	defer unsub()

	bus.PublishSync(Event{Type: MessageCreated, Data: "a"})
	bus.PublishSync(Event{Type: MessageUpdated, Data: "b"})

	require.Len(t, got, 1)
	assert.Equal(t, MessageCreated, got[0].Type)
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int
	unsub := bus.SubscribeAll(func(e Event) { count++ })
	defer unsub()

	bus.PublishSync(Event{Type: MessageCreated})
	bus.PublishSync(Event{Type: AskRequired})
	bus.PublishSync(Event{Type: TaskStateChanged})

	assert.Equal(t, 3, count)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int
	unsub := bus.Subscribe(AskResolved, func(e Event) { count++ })

	bus.PublishSync(Event{Type: AskResolved})
	unsub()
	bus.PublishSync(Event{Type: AskResolved})

	assert.Equal(t, 1, count)
}

func TestPublishAsync(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var count int
	done := make(chan struct{})

	bus.Subscribe(FileVersionSaved, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
		done <- struct{}{}
	})

	bus.Publish(Event{Type: FileVersionSaved})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async subscriber never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	bus := NewBus()

	var count int
	bus.Subscribe(MessageCreated, func(e Event) { count++ })

	require.NoError(t, bus.Close())
	bus.PublishSync(Event{Type: MessageCreated})

	assert.Equal(t, 0, count)
	// Closing twice is safe.
	assert.NoError(t, bus.Close())
}
