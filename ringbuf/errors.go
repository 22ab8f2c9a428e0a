package ringbuf

import "errors"

// Error kinds reported by buffer operations. Callers match them with
// errors.Is.
var (
	// ErrInvalidParam reports a nil buffer or a zero-length payload.
	ErrInvalidParam = errors.New("ringbuf: invalid parameter")
	// ErrMemory reports an arena allocation failure.
	ErrMemory = errors.New("ringbuf: memory allocation failed")
	// ErrFull reports insufficient free space for the frame.
	ErrFull = errors.New("ringbuf: buffer full")
	// ErrEmpty reports that no complete frame is committed yet.
	ErrEmpty = errors.New("ringbuf: buffer empty")
	// ErrTooLarge reports a payload above MaxPayload.
	ErrTooLarge = errors.New("ringbuf: payload too large")
	// ErrCorrupted reports a failed magic, bounds or checksum validation.
	ErrCorrupted = errors.New("ringbuf: buffer corrupted")
	// ErrBackpressure reports that utilization reached the backpressure
	// threshold; the payload was not written.
	ErrBackpressure = errors.New("ringbuf: backpressure active")
)
