package comm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub(nil)
	a, unsubA := h.Subscribe()
	b, unsubB := h.Subscribe()
	defer unsubB()
	require.Equal(t, 2, h.Len())

	e := Event{Kind: EventMessage, Text: "F01", Time: time.Now()}
	h.Notify(e)
	assert.Equal(t, e, <-a)
	assert.Equal(t, e, <-b)

	unsubA()
	unsubA()
	assert.Equal(t, 1, h.Len())
	_, ok := <-a
	assert.False(t, ok, "channel closed after unsubscribe")

	h.Notify(Event{Kind: EventConnectionLost})
	assert.Equal(t, EventConnectionLost, (<-b).Kind)
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(nil)
	ch, unsub := h.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < hubBuffer*2; i++ {
			h.Notify(Event{Kind: EventMessage, Text: "A"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full subscriber")
	}
	assert.Len(t, ch, hubBuffer)
}

func TestHubAsClientSink(t *testing.T) {
	h := NewHub(nil)
	ch, unsub := h.Subscribe()
	defer unsub()

	drv := &fakeDriver{}
	c := NewClient("x", drv, h, WithRetryInterval(time.Millisecond))
	require.NoError(t, c.Connect())

	select {
	case e := <-ch:
		assert.Equal(t, EventConnected, e.Kind)
	case <-time.After(waitFor):
		t.Fatal("no connected event")
	}
	c.Disconnect()
	assert.Equal(t, EventConnectionLost, (<-ch).Kind)
}
