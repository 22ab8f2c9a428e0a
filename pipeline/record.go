package pipeline

import (
	"encoding/binary"
	"fmt"
)

// recordHeaderSize is the encoded prefix identifying a record inside its
// payload: producer id and sequence number.
const recordHeaderSize = 12

// Record identifies one telemetry sample pumped through the ring.
type Record struct {
	// Producer is the id of the emitting producer goroutine.
	Producer uint32
	// Seq is the producer-local sequence number, starting at zero.
	Seq uint64
}

// encodeRecord stamps the record identity over the head of payload. The
// rest of the payload is left as filler.
func encodeRecord(payload []byte, producer uint32, seq uint64) {
	binary.LittleEndian.PutUint32(payload[0:4], producer)
	binary.LittleEndian.PutUint64(payload[4:12], seq)
}

// DecodeRecord recovers the record identity from a frame payload.
func DecodeRecord(payload []byte) (Record, error) {
	if len(payload) < recordHeaderSize {
		return Record{}, fmt.Errorf("payload too short for a record: %d bytes", len(payload))
	}
	return Record{
		Producer: binary.LittleEndian.Uint32(payload[0:4]),
		Seq:      binary.LittleEndian.Uint64(payload[4:12]),
	}, nil
}
