package ringbuf

import "sync/atomic"

// Stats is a snapshot of the buffer counters. Each field is read with an
// independent atomic load, so the snapshot is not an atomic instant, but
// every individual field is exact.
type Stats struct {
	MessagesWritten    uint64
	MessagesRead       uint64
	BytesWritten       uint64
	BytesRead          uint64
	WriteErrors        uint64
	ReadErrors         uint64
	BackpressureEvents uint64
}

type counters struct {
	messagesWritten    atomic.Uint64
	messagesRead       atomic.Uint64
	bytesWritten       atomic.Uint64
	bytesRead          atomic.Uint64
	writeErrors        atomic.Uint64
	readErrors         atomic.Uint64
	backpressureEvents atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		MessagesWritten:    c.messagesWritten.Load(),
		MessagesRead:       c.messagesRead.Load(),
		BytesWritten:       c.bytesWritten.Load(),
		BytesRead:          c.bytesRead.Load(),
		WriteErrors:        c.writeErrors.Load(),
		ReadErrors:         c.readErrors.Load(),
		BackpressureEvents: c.backpressureEvents.Load(),
	}
}

func (c *counters) reset() {
	c.messagesWritten.Store(0)
	c.messagesRead.Store(0)
	c.bytesWritten.Store(0)
	c.bytesRead.Store(0)
	c.writeErrors.Store(0)
	c.readErrors.Store(0)
	c.backpressureEvents.Store(0)
}
