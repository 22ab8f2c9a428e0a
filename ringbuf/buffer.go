package ringbuf

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"
)

const (
	// DefaultCapacity is used when New is called with a zero size.
	DefaultCapacity = 64 * datasize.MB

	// MaxPayload bounds a single payload; larger writes are rejected
	// with ErrTooLarge and must be chunked by the caller.
	MaxPayload = 16 * datasize.MB

	// maxCapacity bounds the arena against runaway allocations.
	maxCapacity = 16 * datasize.GB

	// defaultBackpressureThreshold is the fill ratio at which writes
	// start shedding load.
	defaultBackpressureThreshold = 0.8

	// bufferMagic stamps a live Buffer descriptor ("RBFR"). Close zeroes
	// it so dangling use is detectable.
	bufferMagic = 0x52424652
)

// Buffer is a bounded, lock-free ring of framed payloads private to one
// address space. Any number of producers may call Write concurrently;
// Read delivers each frame exactly once only while a single goroutine
// drains the buffer, as it does not arbitrate between concurrent readers
// (see Read).
type Buffer struct {
	data      []byte
	size      uint64
	mask      uint64
	mmapped   bool
	threshold float64
	log       *zap.Logger

	magic atomic.Uint32

	// writePos is the next byte a producer may reserve, commitPos the
	// upper bound of bytes safe for readers, readPos the next byte a
	// consumer will parse. All are kept in [0, size).
	writePos  atomic.Uint64
	commitPos atomic.Uint64
	readPos   atomic.Uint64

	backpressure atomic.Bool

	stats counters
}

// Message is one frame delivered by Read. Payload borrows arena memory
// and is valid only until the caller's next Read or Discard on the same
// buffer.
type Message struct {
	Header  Header
	Payload []byte
}

// Option configures a Buffer at construction time.
type Option func(*Buffer)

// WithLogger sets the logger used for corrupt-frame diagnostics. The
// default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(b *Buffer) {
		b.log = log
	}
}

// WithBackpressureThreshold overrides the fill ratio at which writes are
// shed. Values outside (0, 1] are ignored.
func WithBackpressureThreshold(threshold float64) Option {
	return func(b *Buffer) {
		if threshold > 0 && threshold <= 1 {
			b.threshold = threshold
		}
	}
}

// New allocates an arena of the given size rounded up to the next power
// of two (zero selects DefaultCapacity) and returns a Buffer with all
// cursors and counters zeroed.
func New(size datasize.ByteSize, opts ...Option) (*Buffer, error) {
	if size == 0 {
		size = DefaultCapacity
	}
	if size > maxCapacity {
		return nil, fmt.Errorf("%w: %s exceeds %s", ErrMemory, size, maxCapacity)
	}
	capacity := NextPowerOfTwo(uint64(size))

	b := &Buffer{
		size:      capacity,
		mask:      capacity - 1,
		threshold: defaultBackpressureThreshold,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.data, b.mmapped = alloc(capacity)
	b.magic.Store(bufferMagic)
	return b, nil
}

// Close releases the arena with the mechanism that acquired it and
// invalidates the descriptor. All borrowed payloads must be discarded
// before Close; a nil receiver is a no-op, a second Close reports
// ErrInvalidParam.
func (b *Buffer) Close() error {
	if b == nil {
		return nil
	}
	if b.data == nil {
		return ErrInvalidParam
	}
	b.magic.Store(0)
	data := b.data
	b.data = nil
	return release(data, b.mmapped)
}

// Validate checks the descriptor magic, the backing region and the
// cursor bounds. Every Write and Read revalidates through it.
func (b *Buffer) Validate() bool {
	if b == nil || b.magic.Load() != bufferMagic {
		return false
	}
	if b.data == nil || uint64(len(b.data)) != b.size {
		return false
	}
	if b.size == 0 || b.size&(b.size-1) != 0 {
		return false
	}
	return b.writePos.Load() < b.size &&
		b.commitPos.Load() < b.size &&
		b.readPos.Load() < b.size
}

// Write frames the payload and publishes it to readers. The reservation
// CAS is the only serialising point between producers; commit visibility
// follows reservation order, so a reader never observes a half-built
// frame.
func (b *Buffer) Write(p []byte) error {
	if b == nil {
		return ErrInvalidParam
	}
	if !b.Validate() {
		b.stats.writeErrors.Add(1)
		return ErrCorrupted
	}
	if len(p) == 0 {
		return ErrInvalidParam
	}
	if uint64(len(p)) > uint64(MaxPayload) {
		b.stats.writeErrors.Add(1)
		return ErrTooLarge
	}

	if b.Utilization() >= b.threshold {
		b.backpressure.Store(true)
		b.stats.backpressureEvents.Add(1)
		return ErrBackpressure
	}
	b.backpressure.Store(false)

	frameSize := frameLen(uint32(len(p)))

	var reserved, start, newWrite, skip uint64
	for {
		writePos := b.writePos.Load()
		readPos := b.readPos.Load()
		free := (readPos - writePos - 1) & b.mask

		skip = 0
		need := frameSize
		if tail := b.size - writePos; frameSize > tail {
			// The frame would cross the arena end; burn the tail with
			// a skip frame so the payload stays contiguous.
			skip = tail
			need = tail + frameSize
		}
		if need > free {
			b.stats.writeErrors.Add(1)
			return ErrFull
		}

		newWrite = (writePos + need) & b.mask
		if b.writePos.CompareAndSwap(writePos, newWrite) {
			reserved = writePos
			start = (writePos + skip) & b.mask
			break
		}
	}

	if skip >= headerSize {
		putHeader(b.data[reserved:], Header{
			Magic:     frameMagic,
			Length:    uint32(skip - headerSize),
			Timestamp: timestamp(),
			Reserved:  flagSkip,
		})
	}
	// A tail shorter than one header cannot be stamped; readers treat it
	// as an implicit skip.

	putHeader(b.data[start:], Header{
		Magic:     frameMagic,
		Length:    uint32(len(p)),
		Timestamp: timestamp(),
		Checksum:  Checksum(p),
	})
	copy(b.data[start+headerSize:start+headerSize+uint64(len(p))], p)

	// Publish in reservation order: the commit cursor moves from this
	// frame's reservation start only after every earlier reservation has
	// committed. The atomic store is the release point for the frame
	// bytes, paired with the reader's load of the commit cursor.
	for !b.commitPos.CompareAndSwap(reserved, newWrite) {
		runtime.Gosched()
	}

	b.stats.messagesWritten.Add(1)
	b.stats.bytesWritten.Add(uint64(len(p)))
	return nil
}

// Read parses and validates the frame at the read cursor and returns a
// zero-copy view of its payload. On ErrCorrupted the cursor does not
// advance, stalling the queue until Discard is called.
//
// The cursor advance is a plain store, so each frame goes to exactly one
// caller only when a single goroutine drains the buffer; concurrent
// consumers must arbitrate Read calls themselves.
func (b *Buffer) Read() (Message, error) {
	if b == nil {
		return Message{}, ErrInvalidParam
	}
	if !b.Validate() {
		b.stats.readErrors.Add(1)
		return Message{}, ErrCorrupted
	}

	for {
		commit := b.commitPos.Load()
		readPos := b.readPos.Load()
		avail := (commit - readPos) & b.mask

		if tail := b.size - readPos; tail < headerSize {
			// Not even a header fits before the boundary, so the writer
			// wrapped without stamping a skip frame.
			if avail < tail {
				return Message{}, ErrEmpty
			}
			b.readPos.Store(0)
			continue
		}
		if avail < headerSize {
			return Message{}, ErrEmpty
		}

		hdr := parseHeader(b.data[readPos:])
		if hdr.Magic != frameMagic {
			b.stats.readErrors.Add(1)
			b.log.Debug("frame magic mismatch",
				zap.Uint32("magic", hdr.Magic),
				zap.Uint64("read_pos", readPos))
			return Message{}, ErrCorrupted
		}
		if hdr.Reserved&flagSkip != 0 {
			skipSize := headerSize + uint64(hdr.Length)
			if avail < skipSize {
				return Message{}, ErrEmpty
			}
			b.readPos.Store((readPos + skipSize) & b.mask)
			continue
		}
		if uint64(hdr.Length) > uint64(MaxPayload) {
			b.stats.readErrors.Add(1)
			b.log.Debug("frame length out of bounds",
				zap.Uint32("length", hdr.Length),
				zap.Uint64("read_pos", readPos))
			return Message{}, ErrCorrupted
		}

		frameSize := frameLen(hdr.Length)
		if avail < frameSize {
			// Header is visible but the writer is mid-commit.
			return Message{}, ErrEmpty
		}

		payStart := readPos + headerSize
		payEnd := payStart + uint64(hdr.Length)
		if payEnd > b.size {
			// Frames are laid out to never cross the arena end; one
			// that does is corrupt.
			b.stats.readErrors.Add(1)
			return Message{}, ErrCorrupted
		}
		payload := b.data[payStart:payEnd:payEnd]

		if sum := Checksum(payload); sum != hdr.Checksum {
			b.stats.readErrors.Add(1)
			b.log.Debug("frame checksum mismatch",
				zap.Uint32("want", hdr.Checksum),
				zap.Uint32("got", sum),
				zap.Uint64("read_pos", readPos))
			return Message{}, ErrCorrupted
		}

		b.readPos.Store((readPos + frameSize) & b.mask)
		b.stats.messagesRead.Add(1)
		b.stats.bytesRead.Add(uint64(hdr.Length))
		return Message{Header: hdr, Payload: payload}, nil
	}
}

// Discard skips the frame at the read cursor without delivering it. It
// is the administrative recovery from a corrupt frame: the cursor
// advances by the frame's claimed size when the claimed length is within
// bounds and the claimed frame is fully committed, otherwise the queue
// drains to the commit cursor. Either way a read error is counted.
func (b *Buffer) Discard() error {
	if b == nil {
		return ErrInvalidParam
	}
	if !b.Validate() {
		b.stats.readErrors.Add(1)
		return ErrCorrupted
	}

	commit := b.commitPos.Load()
	readPos := b.readPos.Load()
	avail := (commit - readPos) & b.mask
	if avail == 0 {
		return ErrEmpty
	}

	b.stats.readErrors.Add(1)

	if tail := b.size - readPos; tail < headerSize || avail < headerSize {
		b.readPos.Store(commit)
		return nil
	}

	hdr := parseHeader(b.data[readPos:])
	frameSize := frameLen(hdr.Length)
	if hdr.Reserved&flagSkip != 0 {
		frameSize = headerSize + uint64(hdr.Length)
	}
	if uint64(hdr.Length) > uint64(MaxPayload) || frameSize > avail {
		b.readPos.Store(commit)
		return nil
	}

	b.log.Debug("discarding frame",
		zap.Uint32("length", hdr.Length),
		zap.Uint64("read_pos", readPos))
	b.readPos.Store((readPos + frameSize) & b.mask)
	return nil
}

// Capacity returns the arena size in bytes.
func (b *Buffer) Capacity() datasize.ByteSize {
	if b == nil {
		return 0
	}
	return datasize.ByteSize(b.size)
}

// Utilization returns the used fraction of the arena in [0, 1].
func (b *Buffer) Utilization() float64 {
	if b == nil || b.size == 0 {
		return 0
	}
	used := (b.writePos.Load() - b.readPos.Load()) & b.mask
	return float64(used) / float64(b.size)
}

// AvailableWrite returns the bytes free for reservation. One slot stays
// unused so a full arena is distinguishable from an empty one.
func (b *Buffer) AvailableWrite() uint64 {
	if b == nil {
		return 0
	}
	return (b.readPos.Load() - b.writePos.Load() - 1) & b.mask
}

// AvailableRead returns the committed-but-unread byte count.
func (b *Buffer) AvailableRead() uint64 {
	if b == nil {
		return 0
	}
	return (b.commitPos.Load() - b.readPos.Load()) & b.mask
}

// IsBackpressure reports the advisory backpressure latch. The actual
// gating happens inside Write.
func (b *Buffer) IsBackpressure() bool {
	return b != nil && b.backpressure.Load()
}

// Stats returns a snapshot of the counters.
func (b *Buffer) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	return b.stats.snapshot()
}

// ResetStats zeroes all counters.
func (b *Buffer) ResetStats() {
	if b != nil {
		b.stats.reset()
	}
}
