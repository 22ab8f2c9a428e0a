package ringbuf

import (
	"encoding/binary"
	"hash/crc32"
	"math/bits"
	"time"
)

const (
	// frameMagic identifies a valid frame header ("WARA" on the wire).
	frameMagic = 0x41524157

	// headerSize is the fixed encoded size of a Header.
	headerSize = 24

	// frameAlign keeps successive headers 8-byte aligned.
	frameAlign = 8

	// flagSkip marks a tail-padding frame carrying no payload. Readers
	// advance past it without delivering anything.
	flagSkip = uint32(1) << 0
)

// Header precedes every frame in the arena. It is encoded little-endian
// with a fixed field order.
type Header struct {
	// Magic is frameMagic for every valid frame.
	Magic uint32
	// Length is the payload length in bytes, excluding the header.
	Length uint32
	// Timestamp is nanoseconds since the Unix epoch, captured at write
	// time.
	Timestamp uint64
	// Checksum is the CRC-32 (IEEE 802.3) of the payload bytes.
	Checksum uint32
	// Reserved is zero for payload frames; skip frames set flagSkip.
	Reserved uint32
}

func putHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint32(dst[0:4], h.Magic)
	binary.LittleEndian.PutUint32(dst[4:8], h.Length)
	binary.LittleEndian.PutUint64(dst[8:16], h.Timestamp)
	binary.LittleEndian.PutUint32(dst[16:20], h.Checksum)
	binary.LittleEndian.PutUint32(dst[20:24], h.Reserved)
}

func parseHeader(src []byte) Header {
	return Header{
		Magic:     binary.LittleEndian.Uint32(src[0:4]),
		Length:    binary.LittleEndian.Uint32(src[4:8]),
		Timestamp: binary.LittleEndian.Uint64(src[8:16]),
		Checksum:  binary.LittleEndian.Uint32(src[16:20]),
		Reserved:  binary.LittleEndian.Uint32(src[20:24]),
	}
}

// frameLen returns the on-arena size of a frame carrying n payload bytes,
// padded so the next header stays aligned.
func frameLen(n uint32) uint64 {
	return (headerSize + uint64(n) + frameAlign - 1) &^ (frameAlign - 1)
}

// Checksum computes the CRC-32 (IEEE 802.3, reflected) digest used for
// per-frame payload validation.
func Checksum(p []byte) uint32 {
	return crc32.ChecksumIEEE(p)
}

func timestamp() uint64 {
	return uint64(time.Now().UnixNano())
}

// NextPowerOfTwo rounds n up to the nearest power of two, treating zero
// as one.
func NextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	return 1 << bits.Len64(n-1)
}
