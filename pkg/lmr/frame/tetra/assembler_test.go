package tetra

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

// buildSlot is the transmit-side inverse of processSlot: CRC, mother
// code, scramble for the given frame number, interleave, training in
// front and guard fill behind.
func buildSlot(payload []byte, frameNum int) []byte {
	if len(payload) != 300 {
		panic("payload must be 300 bits")
	}

	coded := fec.TetraConvEncode(fec.AppendCRC16(payload))
	Descramble(coded, frameNum)
	interleaved := Interleave(coded)

	slot := make([]byte, 0, SlotLength)
	train := make([]byte, TrainingLength)
	frame.UintToBits(uint64(TrainingNormal), train, 0, TrainingLength)
	slot = append(slot, train...)
	slot = append(slot, interleaved...)
	return append(slot, make([]byte, GuardLength)...)
}

func payloadWithType(pduType int) []byte {
	p := make([]byte, 300)
	frame.UintToBits(uint64(pduType), p, 0, 8)
	return p
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

func newTestAssembler(t *testing.T) (*Assembler, chan frame.Packet) {
	t.Helper()
	ch := make(chan frame.Packet, 64)
	return NewAssembler(context.Background(), 1, ch, zerolog.Nop()), ch
}

func TestAssemblerSlotAndFrameCounters(t *testing.T) {
	a, ch := newTestAssembler(t)

	var bits []byte
	for i := 0; i < 8; i++ {
		bits = append(bits, buildSlot(payloadWithType(i+1), i/SlotsPerFrame)...)
	}

	a.Receive(bitsToDibits(bits))

	bursts := collect(ch)
	require.Len(t, bursts, 8)
	for i, b := range bursts {
		assert.Equal(t, i%SlotsPerFrame, b.Slot)
		assert.Equal(t, i/SlotsPerFrame, b.Frame)
		assert.Equal(t, uint64(i+1), frame.BitsToUint(b.Bits, 0, 8))
	}
	assert.Equal(t, StateLocked, a.State())
	assert.Equal(t, uint64(8), a.Stats().FramesOK)
}

func TestAssemblerTrainingTolerance(t *testing.T) {
	// Three corrupted training bits are inside tolerance; four make the
	// slot slip without losing lock.
	build := func(flips ...int) []byte {
		var bits []byte
		for i := 0; i < 8; i++ {
			bits = append(bits, buildSlot(payloadWithType(i+1), i/SlotsPerFrame)...)
		}
		base := 2 * SlotLength
		for _, p := range flips {
			bits[base+p] ^= 1
		}
		return bits
	}

	a, ch := newTestAssembler(t)
	a.Receive(bitsToDibits(build(0, 2, 5)))
	assert.Len(t, collect(ch), 8)

	a2, ch2 := newTestAssembler(t)
	a2.Receive(bitsToDibits(build(0, 2, 5, 8)))
	bursts := collect(ch2)
	assert.Len(t, bursts, 7)
	assert.Equal(t, StateLocked, a2.State())
	assert.Zero(t, a2.Stats().SyncLosses)
}

func TestAssemblerLosesLockAfterTenBadSlots(t *testing.T) {
	a, ch := newTestAssembler(t)

	bits := buildSlot(payloadWithType(1), 0)
	for i := 0; i < 10; i++ {
		bad := buildSlot(payloadWithType(9), 0)
		// Replace the training sequence with a pattern far from all
		// three known ones.
		frame.UintToBits(0x502, bad, 0, TrainingLength)
		bits = append(bits, bad...)
	}

	a.Receive(bitsToDibits(bits))

	assert.Len(t, collect(ch), 1)
	assert.Equal(t, uint64(1), a.Stats().SyncLosses)
}

func TestAssemblerCountsCRCFailures(t *testing.T) {
	a, ch := newTestAssembler(t)

	var bits []byte
	for i := 0; i < 8; i++ {
		bits = append(bits, buildSlot(payloadWithType(i+1), i/SlotsPerFrame)...)
	}
	// Mangle the second slot's coded region beyond what the Viterbi
	// decoder can repair.
	for p := SlotLength + TrainingLength; p < SlotLength+TrainingLength+CodedLength; p += 4 {
		bits[p] ^= 1
	}

	a.Receive(bitsToDibits(bits))

	assert.Len(t, collect(ch), 7)
	assert.Equal(t, uint64(1), a.Stats().CRCErrors)
}

func TestDescrambleIsInvolution(t *testing.T) {
	data := make([]byte, CodedLength)
	for i := range data {
		data[i] = byte((i * 7) % 2)
	}
	orig := append([]byte(nil), data...)

	Descramble(data, 11)
	assert.NotEqual(t, orig, data)
	Descramble(data, 11)
	assert.Equal(t, orig, data)
}

func TestInterleaveRoundTrip(t *testing.T) {
	data := make([]byte, CodedLength)
	for i := range data {
		data[i] = byte(i % 2)
	}
	assert.Equal(t, data, Deinterleave(Interleave(data)))
}
