package dmr

import (
	"context"
	"testing"

	"github.com/norasector/cyclone/pkg/fec"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bitsToDibits(bits []byte) []byte {
	out := make([]byte, len(bits)/2)
	for i := range out {
		out[i] = bits[2*i]<<1 | bits[2*i+1]
	}
	return out
}

// buildCSBKPayload assembles the 96-bit block: 80 bits of fields plus
// the masked CRC.
func buildCSBKPayload(opcode, slot, lcn, src, dst int) []byte {
	b := make([]byte, 80)
	frame.UintToBits(uint64(opcode), b, 0, 6)
	frame.UintToBits(uint64(slot), b, 8, 1)
	frame.UintToBits(uint64(lcn), b, 9, 7)
	frame.UintToBits(uint64(src), b, 16, 24)
	frame.UintToBits(uint64(dst), b, 40, 24)
	return fec.AppendCRC16Masked(b, 0xA5A5)
}

// buildBurst renders one 264-bit frame: sync, Golay-protected slot
// type, BPTC-protected payload.
func buildBurst(sync uint64, colorCode, dataType int, payload []byte) []byte {
	f := make([]byte, 0, FrameLength)

	syncBits := make([]byte, SyncLength)
	frame.UintToBits(sync, syncBits, 0, SyncLength)
	f = append(f, syncBits...)

	slotType := make([]byte, SlotTypeLength)
	codeword := fec.Golay2087Encode(byte(colorCode<<4 | dataType))
	frame.UintToBits(uint64(codeword), slotType, 0, SlotTypeLength)
	f = append(f, slotType...)

	return append(f, fec.BPTC19696Encode(payload)...)
}

func collect(ch chan frame.Packet) []Burst {
	var out []Burst
	for {
		select {
		case pkt := <-ch:
			out = append(out, pkt.Payload.(Burst))
		default:
			return out
		}
	}
}

func newTestAssembler(t *testing.T, colorCode int) (*Assembler, chan frame.Packet) {
	t.Helper()
	ch := make(chan frame.Packet, 64)
	return NewAssembler(context.Background(), 1, colorCode, ch, zerolog.Nop()), ch
}

func TestAssemblerSlotToggle(t *testing.T) {
	a, ch := newTestAssembler(t, 3)

	payload := buildCSBKPayload(0x06, 1, 3, 5678, 1234)
	bits := buildBurst(SyncBSData, 3, DataTypeCSBK, payload)
	bits = append(bits, buildBurst(SyncBSData, 3, DataTypeCSBK, payload)...)

	a.Receive(bitsToDibits(bits))

	bursts := collect(ch)
	require.Len(t, bursts, 2)
	assert.Equal(t, 0, bursts[0].Slot)
	assert.Equal(t, 1, bursts[1].Slot)
	assert.Equal(t, 3, bursts[0].ColorCode)
	assert.Equal(t, uint8(DataTypeCSBK), bursts[0].DataType)
	assert.Equal(t, uint64(0x06), frame.BitsToUint(bursts[0].Payload, 0, 6))
	assert.Equal(t, uint64(1234), frame.BitsToUint(bursts[0].Payload, 40, 24))
}

func TestAssemblerColorCodeMismatch(t *testing.T) {
	// Expected color code 3; a frame tagged 2 is dropped and counted.
	a, ch := newTestAssembler(t, 3)

	payload := buildCSBKPayload(0x06, 1, 3, 5678, 1234)
	bits := buildBurst(SyncBSData, 3, DataTypeCSBK, payload)
	bits = append(bits, buildBurst(SyncBSData, 2, DataTypeCSBK, payload)...)

	a.Receive(bitsToDibits(bits))

	require.Len(t, collect(ch), 1)
	assert.Equal(t, uint64(1), a.Stats().ColorCodeMismatch)
}

func TestAssemblerSyncTolerance(t *testing.T) {
	payload := buildCSBKPayload(0x06, 1, 3, 5678, 1234)

	build := func(flips ...int) []byte {
		bits := buildBurst(SyncBSData, 3, DataTypeCSBK, payload)
		bits = append(bits, buildBurst(SyncBSData, 3, DataTypeCSBK, payload)...)
		bits = append(bits, buildBurst(SyncBSData, 3, DataTypeCSBK, payload)...)
		for _, p := range flips {
			bits[FrameLength+p] ^= 1
		}
		return bits
	}

	a, ch := newTestAssembler(t, 3)
	a.Receive(bitsToDibits(build(0, 3, 6, 9)))
	assert.Len(t, collect(ch), 3)
	assert.Zero(t, a.Stats().SyncLosses)

	a2, ch2 := newTestAssembler(t, 3)
	a2.Receive(bitsToDibits(build(0, 3, 6, 9, 12)))
	assert.Len(t, collect(ch2), 2)
	assert.Equal(t, uint64(1), a2.Stats().SyncLosses)
}

func TestAssemblerAcceptsAllSyncVariants(t *testing.T) {
	payload := buildCSBKPayload(0x3D, 0, 0, 0, 0)

	for _, sync := range []uint64{SyncBSVoice, SyncBSData, SyncMSVoice, SyncMSData} {
		a, ch := newTestAssembler(t, 1)
		a.Receive(bitsToDibits(buildBurst(sync, 1, DataTypeCSBK, payload)))
		assert.Len(t, collect(ch), 1, "sync %012X", sync)
	}
}
