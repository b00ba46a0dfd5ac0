package eventbus_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/notifyd/internal/eventbus"
)

func TestPublishAndReceive(t *testing.T) {
	bus := eventbus.New(eventbus.Config{Workers: 2})
	defer bus.Close()

	var received []eventbus.Event
	var mu sync.Mutex

	bus.Subscribe(func(e eventbus.Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	err := bus.Publish(eventbus.Event{
		Type:      "vehicle.rejected",
		SubjectID: "veh-42",
		Payload:   map[string]any{"plate": "123 TU 4567"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "vehicle.rejected", received[0].Type)
	assert.Equal(t, "veh-42", received[0].SubjectID)
	assert.Equal(t, "123 TU 4567", received[0].Payload["plate"])
	assert.NotEmpty(t, received[0].ID)
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestPublishKeepsCallerIDAndTimestamp(t *testing.T) {
	bus := eventbus.New(eventbus.Config{Workers: 1})

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var got eventbus.Event
	bus.Subscribe(func(e eventbus.Event) { got = e })

	require.NoError(t, bus.Publish(eventbus.Event{ID: "evt-1", Type: "x", Timestamp: ts}))
	bus.Close()

	assert.Equal(t, "evt-1", got.ID)
	assert.True(t, ts.Equal(got.Timestamp))
}

func TestMultipleListeners(t *testing.T) {
	bus := eventbus.New(eventbus.Config{Workers: 2})

	var count int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(func(_ eventbus.Event) {
			atomic.AddInt32(&count, 1)
		})
	}

	require.NoError(t, bus.Publish(eventbus.Event{Type: "multi"}))
	bus.Close()

	assert.EqualValues(t, 3, atomic.LoadInt32(&count))
}

func TestListenerPanicDoesNotCrash(t *testing.T) {
	bus := eventbus.New(eventbus.Config{Workers: 1})

	var goodCalled int32
	bus.Subscribe(func(_ eventbus.Event) {
		panic("intentional panic in listener")
	})
	bus.Subscribe(func(_ eventbus.Event) {
		atomic.AddInt32(&goodCalled, 1)
	})

	require.NoError(t, bus.Publish(eventbus.Event{Type: "panic.event"}))
	bus.Close()

	assert.EqualValues(t, 1, atomic.LoadInt32(&goodCalled))
}

func TestPublishBufferFull(t *testing.T) {
	bus := eventbus.New(eventbus.Config{Workers: 1, BufferSize: 1})

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(func(_ eventbus.Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	// First event occupies the worker, second fills the buffer.
	require.NoError(t, bus.Publish(eventbus.Event{Type: "a"}))
	<-started
	require.NoError(t, bus.Publish(eventbus.Event{Type: "b"}))

	err := bus.Publish(eventbus.Event{Type: "c"})
	assert.ErrorIs(t, err, eventbus.ErrBufferFull)

	close(release)
	bus.Close()
}

func TestClose(t *testing.T) {
	bus := eventbus.New(eventbus.Config{Workers: 2})

	var count int32
	bus.Subscribe(func(_ eventbus.Event) {
		atomic.AddInt32(&count, 1)
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(eventbus.Event{Type: "evt"}))
	}

	bus.Close()
	assert.EqualValues(t, 5, atomic.LoadInt32(&count))

	assert.ErrorIs(t, bus.Publish(eventbus.Event{Type: "late"}), eventbus.ErrClosed)
	bus.Close()
}

func TestDefaultConfig(t *testing.T) {
	bus := eventbus.New(eventbus.Config{})
	require.NotNil(t, bus)
	bus.Close()
}
