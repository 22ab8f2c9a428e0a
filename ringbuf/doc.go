// Package ringbuf provides a single-process, lock-free ring of framed
// binary payloads shared by producers and consumers within one address
// space.
//
// Semantics
//   - The arena is a contiguous power-of-two byte region; positions are
//     kept modulo the capacity and manipulated only with atomics.
//   - Producers reserve space with a CAS on the write cursor, fill the
//     frame, then publish it through the commit cursor in reservation
//     order. Readers never observe a half-built frame.
//   - Frames never cross the arena end: a frame that would not fit before
//     the boundary is preceded by a skip frame burning the tail, so every
//     payload is exposed as one contiguous zero-copy view.
//   - With a single goroutine draining the buffer, Read delivers each
//     frame exactly once; concurrent readers are not arbitrated. The
//     returned payload
//     borrows arena memory and is valid only until that caller's next
//     Read on the same buffer.
//   - No operation blocks. Full, Backpressure and Empty conditions are
//     reported to the caller, which decides whether to retry or shed.
package ringbuf
