package runtime

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func quietHub() *ObserverHub {
	return NewObserverHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestObserverHubDropsOldestWhenLagging(t *testing.T) {
	hub := quietHub()
	events, cancel := hub.Subscribe(2)
	defer cancel()

	for step := int64(1); step <= 5; step++ {
		hub.Publish(Event{Step: step, Kind: EventCommit})
	}

	// A lagging subscriber keeps the newest tail of the stream.
	first := <-events
	second := <-events
	assert.Equal(t, int64(4), first.Step)
	assert.Equal(t, int64(5), second.Step)
	select {
	case ev := <-events:
		t.Fatalf("unexpected buffered event at step %d", ev.Step)
	default:
	}
}

func TestObserverHubFanOut(t *testing.T) {
	hub := quietHub()
	a, cancelA := hub.Subscribe(4)
	b, cancelB := hub.Subscribe(4)
	defer cancelA()
	defer cancelB()

	hub.Publish(Event{Step: 1, Kind: EventIntentSettled})

	assert.Equal(t, int64(1), (<-a).Step)
	assert.Equal(t, int64(1), (<-b).Step)
}

func TestObserverHubCancelStopsDelivery(t *testing.T) {
	hub := quietHub()
	events, cancel := hub.Subscribe(1)
	cancel()

	_, open := <-events
	assert.False(t, open)

	// Publishing after cancel is a no-op for the removed subscriber.
	hub.Publish(Event{Step: 2, Kind: EventCommit})
}
