package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHub_FanOut(t *testing.T) {
	h := NewHub(4)
	a, cancelA := h.Subscribe()
	defer cancelA()
	b, cancelB := h.Subscribe()
	defer cancelB()

	wire := []byte{1, 2, 3}
	h.Publish(wire)
	wire[0] = 9

	assert.Equal(t, []byte{1, 2, 3}, <-a)
	assert.Equal(t, []byte{1, 2, 3}, <-b)
	assert.Equal(t, HubStats{Published: 1, Subscribers: 2}, h.Stats())
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish([]byte{1})
	h.Publish([]byte{2})
	h.Publish([]byte{3})

	assert.Equal(t, []byte{1}, <-ch)
	assert.Equal(t, uint64(2), h.Stats().Dropped)
}

func TestHub_CancelAndClose(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok, "cancel closes the channel")
	assert.Zero(t, h.Stats().Subscribers)

	other, _ := h.Subscribe()
	h.Close()
	h.Close()
	_, ok = <-other
	assert.False(t, ok, "Close ends subscriptions")

	late, _ := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed hub yields a closed channel")

	h.Publish([]byte{1})
	assert.Zero(t, h.Stats().Published)
}
