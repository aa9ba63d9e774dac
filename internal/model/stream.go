package model

import (
	"io"

	"github.com/asaskevich/EventBus"
)

// StreamBody is the stock push-style request body: the producer
// writes (or fails) on one end, the pipeline reads the other. It
// satisfies [BodyStream].
type StreamBody struct {
	r   *io.PipeReader
	w   *io.PipeWriter
	bus EventBus.Bus
}

func NewStreamBody() *StreamBody {
	r, w := io.Pipe()
	return &StreamBody{r: r, w: w, bus: EventBus.New()}
}

func (s *StreamBody) Read(p []byte) (int, error) { return s.r.Read(p) }

// Write pushes body bytes; it blocks until the pipeline consumes
// them.
func (s *StreamBody) Write(p []byte) (int, error) { return s.w.Write(p) }

// Close ends the body normally from the producer side.
func (s *StreamBody) Close() error { return s.w.Close() }

// Fail aborts the body from the producer side. The owning request
// observes it through the error event and fails with the same error.
func (s *StreamBody) Fail(err error) {
	s.w.CloseWithError(err)
	s.bus.Publish(ErrorTopic, err)
}

func (s *StreamBody) Subscribe(topic string, fn interface{}) error {
	return s.bus.Subscribe(topic, fn)
}

// CloseWithError destroys the stream from the consumer side. Pending
// and future reads and writes observe err.
func (s *StreamBody) CloseWithError(err error) error {
	s.w.CloseWithError(err)
	return s.r.CloseWithError(err)
}
