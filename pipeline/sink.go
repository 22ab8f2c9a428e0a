package pipeline

import "github.com/yanet-platform/telering/ringbuf"

// Sink receives the frames drained from the ring. The message payload
// borrows arena memory and is valid only for the duration of the call;
// implementations that retain data must copy it.
type Sink interface {
	Consume(msg ringbuf.Message) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(msg ringbuf.Message) error

func (f SinkFunc) Consume(msg ringbuf.Message) error {
	return f(msg)
}

// CountingSink tallies delivered records. It is driven by the single
// consumer goroutine, so reading the totals is safe once Run returned.
type CountingSink struct {
	Records uint64
	Bytes   uint64
}

func (s *CountingSink) Consume(msg ringbuf.Message) error {
	s.Records++
	s.Bytes += uint64(len(msg.Payload))
	return nil
}
