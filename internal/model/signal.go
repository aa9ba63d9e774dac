package model

import (
	"sync"

	"github.com/asaskevich/EventBus"
)

// AbortSignal is the stock abort handle: a one-shot broadcaster over
// an event bus. Anything else satisfying [Subscribable] works just as
// well as a Request.Signal.
type AbortSignal struct {
	bus  EventBus.Bus
	once sync.Once
}

func NewAbortSignal() *AbortSignal {
	return &AbortSignal{bus: EventBus.New()}
}

func (s *AbortSignal) Subscribe(topic string, fn interface{}) error {
	return s.bus.Subscribe(topic, fn)
}

func (s *AbortSignal) Unsubscribe(topic string, handler interface{}) error {
	return s.bus.Unsubscribe(topic, handler)
}

// Abort fires the cancellation event. Calls after the first are
// no-ops.
func (s *AbortSignal) Abort() {
	s.once.Do(func() {
		s.bus.Publish(AbortTopic)
	})
}
