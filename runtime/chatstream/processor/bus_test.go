package processor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListenerBusPublishFanOut(t *testing.T) {
	bus := newListenerBus[int]()

	var a, b int
	bus.Subscribe(func(v int) { a += v })
	bus.Subscribe(func(v int) { b += v })

	bus.Publish(3)
	bus.Publish(4)

	require.Equal(t, 7, a)
	require.Equal(t, 7, b)
}

func TestListenerBusCloseStopsDelivery(t *testing.T) {
	bus := newListenerBus[string]()

	var got []string
	sub := bus.Subscribe(func(v string) { got = append(got, v) })

	bus.Publish("one")
	sub.Close()
	bus.Publish("two")

	require.Equal(t, []string{"one"}, got)
}

func TestListenerBusCloseIsIdempotent(t *testing.T) {
	bus := newListenerBus[int]()
	sub := bus.Subscribe(func(int) {})
	sub.Close()
	require.NotPanics(t, func() { sub.Close() })
}
