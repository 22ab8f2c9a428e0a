package ringbuf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestBuffer(t *testing.T, size datasize.ByteSize, opts ...Option) *Buffer {
	t.Helper()

	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	b, err := New(size, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if b.Validate() {
			require.NoError(t, b.Close())
		}
	})
	return b
}

func TestEcho(t *testing.T) {
	b := newTestBuffer(t, datasize.MB)

	payload := []byte("Hello, World!")
	require.NoError(t, b.Write(payload))

	msg, err := b.Read()
	require.NoError(t, err)
	assert.Equal(t, uint32(len(payload)), msg.Header.Length)
	assert.Equal(t, payload, msg.Payload)
	assert.Equal(t, Checksum(payload), msg.Header.Checksum)
	assert.NotZero(t, msg.Header.Timestamp)

	_, err = b.Read()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestFillToFull(t *testing.T) {
	b := newTestBuffer(t, 4*datasize.KB)
	payload := bytes.Repeat([]byte{0xAB}, 1024)

	written := 0
	for {
		err := b.Write(payload)
		if err == nil {
			written++
			continue
		}
		assert.ErrorIs(t, err, ErrFull)
		break
	}
	require.Equal(t, 3, written)
	assert.Equal(t, uint64(1), b.Stats().WriteErrors)

	for i := 0; i < written; i++ {
		msg, err := b.Read()
		require.NoError(t, err, "read %d", i)
		assert.Equal(t, payload, msg.Payload)
	}
	_, err := b.Read()
	assert.ErrorIs(t, err, ErrEmpty)

	// Draining made room again, wrapping through a tail skip.
	assert.NoError(t, b.Write(payload))
}

func TestWraparoundAlternation(t *testing.T) {
	b := newTestBuffer(t, 8*datasize.KB)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}

	for i := 0; i < 50; i++ {
		require.NoError(t, b.Write(payload), "write %d", i)

		msg, err := b.Read()
		require.NoError(t, err, "read %d", i)
		assert.Equal(t, payload, msg.Payload, "payload %d", i)
		assert.Equal(t, Checksum(payload), msg.Header.Checksum)
	}

	stats := b.Stats()
	assert.Equal(t, uint64(50), stats.MessagesWritten)
	assert.Equal(t, uint64(50), stats.MessagesRead)
	assert.Zero(t, stats.ReadErrors)
}

func TestOversizeWrite(t *testing.T) {
	b := newTestBuffer(t, datasize.MB)

	err := b.Write(make([]byte, int(MaxPayload)+1))
	assert.ErrorIs(t, err, ErrTooLarge)

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.WriteErrors)
	assert.Zero(t, stats.MessagesWritten)
}

func TestCapacityRounding(t *testing.T) {
	tests := []struct {
		requested datasize.ByteSize
		expected  datasize.ByteSize
	}{
		{1023, 1024},
		{1024, 1024},
		{1025, 2048},
		{0, DefaultCapacity},
		{3 * datasize.MB, 4 * datasize.MB},
	}

	for _, tt := range tests {
		b, err := New(tt.requested)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, b.Capacity(), "requested %d", tt.requested)
		require.NoError(t, b.Close())
	}
}

func TestInvalidParams(t *testing.T) {
	b := newTestBuffer(t, datasize.MB)

	assert.ErrorIs(t, b.Write(nil), ErrInvalidParam)
	assert.ErrorIs(t, b.Write([]byte{}), ErrInvalidParam)

	var nilBuf *Buffer
	assert.ErrorIs(t, nilBuf.Write([]byte{1}), ErrInvalidParam)
	_, err := nilBuf.Read()
	assert.ErrorIs(t, err, ErrInvalidParam)
	assert.NoError(t, nilBuf.Close())

	// Parameter errors leave the counters alone.
	assert.Equal(t, Stats{}, b.Stats())
}

func TestLifecycle(t *testing.T) {
	b, err := New(datasize.MB)
	require.NoError(t, err)
	require.True(t, b.Validate())

	require.NoError(t, b.Write([]byte("x")))
	require.NoError(t, b.Close())

	assert.False(t, b.Validate())
	assert.ErrorIs(t, b.Write([]byte("x")), ErrCorrupted)
	_, err = b.Read()
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.ErrorIs(t, b.Close(), ErrInvalidParam)
}

func TestBackpressure(t *testing.T) {
	b := newTestBuffer(t, 4*datasize.KB)

	big := bytes.Repeat([]byte{1}, 1024)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Write(big))
	}
	require.NoError(t, b.Write(bytes.Repeat([]byte{2}, 512)))
	assert.False(t, b.IsBackpressure())

	// 3680 of 4096 bytes are in flight now, above the 0.80 threshold.
	err := b.Write([]byte{3})
	assert.ErrorIs(t, err, ErrBackpressure)
	assert.True(t, b.IsBackpressure())
	assert.Equal(t, uint64(1), b.Stats().BackpressureEvents)

	// Draining one frame drops utilization below the threshold and the
	// next write clears the latch.
	_, err = b.Read()
	require.NoError(t, err)
	require.NoError(t, b.Write([]byte{3}))
	assert.False(t, b.IsBackpressure())
}

func TestBoundaryExactFit(t *testing.T) {
	b := newTestBuffer(t, 4*datasize.KB)
	payload := bytes.Repeat([]byte{0x42}, 1000) // 1024-byte frames

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Write(payload))
	}
	for i := 0; i < 2; i++ {
		_, err := b.Read()
		require.NoError(t, err)
	}

	// This frame ends exactly at the arena boundary; the next one starts
	// back at offset zero.
	require.NoError(t, b.Write(payload))
	require.NoError(t, b.Write(payload))

	for i := 0; i < 3; i++ {
		msg, err := b.Read()
		require.NoError(t, err, "read %d", i)
		assert.Equal(t, payload, msg.Payload)
	}
}

func TestCorruptedMagic(t *testing.T) {
	b := newTestBuffer(t, datasize.MB)

	require.NoError(t, b.Write([]byte("first")))
	require.NoError(t, b.Write([]byte("second")))

	// Smash the first frame's magic in place.
	binary.LittleEndian.PutUint32(b.data[0:4], 0xBADC0DE)

	before := b.AvailableRead()
	_, err := b.Read()
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.Equal(t, uint64(1), b.Stats().ReadErrors)
	assert.Equal(t, before, b.AvailableRead(), "cursor must not advance past a corrupt frame")

	// Administrative recovery skips the poisoned frame only.
	require.NoError(t, b.Discard())
	msg, err := b.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), msg.Payload)
	assert.Equal(t, uint64(2), b.Stats().ReadErrors)
}

func TestCorruptedLengthDrains(t *testing.T) {
	b := newTestBuffer(t, datasize.MB)

	require.NoError(t, b.Write([]byte("doomed")))
	binary.LittleEndian.PutUint32(b.data[4:8], uint32(MaxPayload)+1)

	_, err := b.Read()
	assert.ErrorIs(t, err, ErrCorrupted)

	// The claimed length is out of bounds, so Discard drains the queue.
	require.NoError(t, b.Discard())
	_, err = b.Read()
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Equal(t, b.commitPos.Load(), b.readPos.Load())
}

func TestCorruptedChecksum(t *testing.T) {
	b := newTestBuffer(t, datasize.MB)

	require.NoError(t, b.Write([]byte("payload under test")))
	b.data[headerSize] ^= 0xFF

	_, err := b.Read()
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.Equal(t, uint64(1), b.Stats().ReadErrors)
}

func TestDiscardEmpty(t *testing.T) {
	b := newTestBuffer(t, datasize.MB)
	assert.ErrorIs(t, b.Discard(), ErrEmpty)
	assert.Zero(t, b.Stats().ReadErrors)
}

func TestStatsSnapshotIdempotent(t *testing.T) {
	b := newTestBuffer(t, datasize.MB)

	require.NoError(t, b.Write([]byte("one")))
	require.NoError(t, b.Write([]byte("two")))
	_, err := b.Read()
	require.NoError(t, err)

	first := b.Stats()
	second := b.Stats()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("snapshots differ on a quiescent buffer (-first +second):\n%s", diff)
	}

	b.ResetStats()
	assert.Equal(t, Stats{}, b.Stats())
}

func TestBackpressureThresholdOption(t *testing.T) {
	b := newTestBuffer(t, 4*datasize.KB, WithBackpressureThreshold(0.5))

	big := bytes.Repeat([]byte{1}, 1024)
	require.NoError(t, b.Write(big))
	require.NoError(t, b.Write(big))

	// 2096 of 4096 bytes in flight is past the lowered threshold.
	assert.ErrorIs(t, b.Write(big), ErrBackpressure)
	assert.True(t, b.IsBackpressure())
}

func TestUtilizationAndAvailability(t *testing.T) {
	b := newTestBuffer(t, 4*datasize.KB)

	assert.Zero(t, b.Utilization())
	assert.Equal(t, uint64(4095), b.AvailableWrite())
	assert.Zero(t, b.AvailableRead())

	require.NoError(t, b.Write(bytes.Repeat([]byte{1}, 1000)))

	assert.InDelta(t, 0.25, b.Utilization(), 0.01)
	assert.Equal(t, uint64(4095-1024), b.AvailableWrite())
	assert.Equal(t, uint64(1024), b.AvailableRead())

	// used + free is the capacity minus the separator slot.
	used := uint64(b.Utilization() * float64(b.Capacity()))
	assert.Equal(t, uint64(b.Capacity())-1, used+b.AvailableWrite())
}
