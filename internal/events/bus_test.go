package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitReachesSubscribers(t *testing.T) {
	// Given: one typed and one wildcard subscriber
	bus := NewEventBus()
	var (
		mu   sync.Mutex
		seen []string
	)
	record := func(name string) HandlerFunc {
		return func(_ context.Context, e Event) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name+":"+string(e.Type))
			return nil
		}
	}
	bus.Subscribe(EventGameOver, "typed", record("typed"))
	bus.SubscribeAll("all", record("all"))

	// When: two events are published and the bus drains
	bus.Emit(context.Background(), Event{Type: EventGameOver})
	bus.Emit(context.Background(), Event{Type: EventPlayerMoved})
	bus.Stop()

	// Then: the typed handler saw only its event, the wildcard saw both
	assert.ElementsMatch(t, []string{"typed:game_over", "all:game_over", "all:player_moved"}, seen)
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	bus.Subscribe(EventMatchEnded, "fails", func(context.Context, Event) error { return boom })
	bus.Subscribe(EventMatchEnded, "panics", func(context.Context, Event) error { panic("bad handler") })

	err := bus.EmitSync(context.Background(), Event{Type: EventMatchEnded})

	assert.ErrorIs(t, err, boom)
}

func TestEmitSetsTime(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventShutdown, "t", func(_ context.Context, e Event) error {
		got <- e
		return nil
	})

	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventShutdown}))

	e := <-got
	assert.WithinDuration(t, time.Now(), e.Time, time.Second)
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	noop := func(context.Context, Event) error { return nil }
	bus.Subscribe(EventPlayerNamed, "a", noop)
	bus.Subscribe(EventPlayerNamed, "b", noop)
	bus.SubscribeAll("c", noop)
	assert.Equal(t, 3, bus.HandlerCount(EventPlayerNamed))

	bus.Unsubscribe(EventPlayerNamed, "a")
	bus.UnsubscribeAll("c")
	assert.Equal(t, 1, bus.HandlerCount(EventPlayerNamed))

	bus.Stop()
	bus.Stop()
	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}

	called := false
	bus.Subscribe(EventPlayerNamed, "late", func(context.Context, Event) error {
		called = true
		return nil
	})
	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventPlayerNamed}))
	assert.False(t, called)
}

func TestOrderedSubscriberSeesEmitOrder(t *testing.T) {
	// Given: an ordered subscriber that records round numbers
	bus := NewEventBus()
	var (
		mu     sync.Mutex
		rounds []int
	)
	bus.SubscribeAllOrdered("ordered", 0, func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		rounds = append(rounds, e.Payload.(GameOverPayload).Round)
		return nil
	})
	assert.Equal(t, 1, bus.HandlerCount(EventGameOver))

	// When: many events are emitted back to back
	const total = 200
	for i := 1; i <= total; i++ {
		bus.Emit(context.Background(), Event{Type: EventGameOver, Payload: GameOverPayload{Round: i}})
	}
	bus.Stop()

	// Then: they arrive one by one in the same order
	require.Len(t, rounds, total)
	for i, r := range rounds {
		assert.Equal(t, i+1, r)
	}
}

func TestOrderedSubscriberDropsWhenBehind(t *testing.T) {
	// Given: an ordered subscriber with room for one event that is stuck
	bus := NewEventBus()
	release := make(chan struct{})
	var (
		mu   sync.Mutex
		seen int
	)
	bus.SubscribeAllOrdered("slow", 1, func(context.Context, Event) error {
		<-release
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	})

	// When: more events arrive than the queue can hold
	for i := 0; i < 10; i++ {
		bus.Emit(context.Background(), Event{Type: EventPlayerNamed})
	}
	close(release)
	bus.UnsubscribeAll("slow")
	bus.Stop()

	// Then: the extra events are dropped and the rest still arrive
	assert.Equal(t, 0, bus.HandlerCount(EventPlayerNamed))
	assert.GreaterOrEqual(t, seen, 1)
	assert.LessOrEqual(t, seen, 2)
}
