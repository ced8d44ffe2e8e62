package p25

import (
	"context"
	"testing"

	"github.com/norasector/cyclone/pkg/lmr/frame"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bitsToDibits packs a bit vector into symbols, one dibit per byte.
func bitsToDibits(bits []byte) []byte {
	out := make([]byte, len(bits)/2)
	for i := range out {
		out[i] = bits[2*i]<<1 | bits[2*i+1]
	}
	return out
}

// buildFrame renders one full frame: sync, NID, and the TSBK at its
// fixed offset. The remainder is zero fill.
func buildFrame(nac uint16, duid uint8, tsbk []byte) []byte {
	f := make([]byte, FrameLength)
	frame.UintToBits(FrameSync, f, 0, SyncLength)
	frame.UintToBits(uint64(nac), f, SyncLength, 12)
	frame.UintToBits(uint64(duid), f, SyncLength+12, 4)
	copy(f[TSBKOffset:], tsbk)
	return f
}

func buildTSBK(opcode int) []byte {
	b := make([]byte, TSBKLength)
	frame.UintToBits(uint64(opcode), b, 0, 6)
	return b
}

func collect(ch chan frame.Packet) []TSBK {
	var out []TSBK
	for {
		select {
		case pkt := <-ch:
			out = append(out, pkt.Payload.(TSBK))
		default:
			return out
		}
	}
}

func newTestAssembler(t *testing.T) (*Assembler, chan frame.Packet) {
	t.Helper()
	ch := make(chan frame.Packet, 256)
	return NewAssembler(context.Background(), 1, ch, zerolog.Nop()), ch
}

func TestAssemblerExtractsTSBK(t *testing.T) {
	a, ch := newTestAssembler(t)

	bits := buildFrame(0x293, DUIDTSBK, buildTSBK(0x3C))
	bits = append(bits, buildFrame(0x293, DUIDTSBK, buildTSBK(0x00))...)

	a.Receive(bitsToDibits(bits))

	tsbks := collect(ch)
	require.Len(t, tsbks, 2)
	assert.Equal(t, uint16(0x293), tsbks[0].NAC)
	assert.Equal(t, uint8(DUIDTSBK), tsbks[0].DUID)
	assert.Equal(t, uint64(0x3C), frame.BitsToUint(tsbks[0].Bits, 0, 6))
	assert.Equal(t, uint64(0x00), frame.BitsToUint(tsbks[1].Bits, 0, 6))
	assert.True(t, a.Locked())
}

func TestAssemblerFrameAlignment(t *testing.T) {
	// Frame starts must land every FrameLength bits for a long run.
	a, ch := newTestAssembler(t)

	var bits []byte
	for i := 0; i < 100; i++ {
		bits = append(bits, buildFrame(0x293, DUIDTSBK, buildTSBK(0x00))...)
	}

	a.Receive(bitsToDibits(bits))

	assert.Len(t, collect(ch), 100)
	assert.Equal(t, uint64(100), a.Stats().FramesOK)
	assert.Zero(t, a.Stats().SyncLosses)
}

func TestAssemblerSyncTolerance(t *testing.T) {
	build := func(flips ...int) []byte {
		bits := buildFrame(0x293, DUIDTSBK, buildTSBK(0x3C))
		bits = append(bits, buildFrame(0x293, DUIDTSBK, buildTSBK(0x00))...)
		bits = append(bits, buildFrame(0x293, DUIDTSBK, buildTSBK(0x00))...)
		// Corrupt the second frame's sync.
		for _, p := range flips {
			bits[FrameLength+p] ^= 1
		}
		return bits
	}

	// Four errors are inside tolerance.
	a, ch := newTestAssembler(t)
	a.Receive(bitsToDibits(build(0, 3, 7, 11)))
	assert.Len(t, collect(ch), 3)
	assert.Zero(t, a.Stats().SyncLosses)

	// Five errors break lock; the corrupted frame is lost and decoding
	// resumes on the next clean sync.
	a2, ch2 := newTestAssembler(t)
	a2.Receive(bitsToDibits(build(0, 3, 7, 11, 15)))
	tsbks := collect(ch2)
	require.Len(t, tsbks, 2)
	assert.Equal(t, uint64(1), a2.Stats().SyncLosses)
}

func TestAssemblerIgnoresNonTSBKFrames(t *testing.T) {
	a, ch := newTestAssembler(t)

	bits := buildFrame(0x293, DUIDHeader, make([]byte, TSBKLength))
	a.Receive(bitsToDibits(bits))

	assert.Empty(t, collect(ch))
	assert.Equal(t, uint64(1), a.Stats().FramesOK)
}
