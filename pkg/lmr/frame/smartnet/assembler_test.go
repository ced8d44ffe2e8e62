package smartnet

import (
	"context"
	"testing"

	"github.com/norasector/cyclone/pkg/fec"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildOSW renders sync + body for one frame: the 24 payload bits get
// their CRC appended, then the status tail.
func buildOSW(address, group, command, status int) []byte {
	payload := make([]byte, 24)
	frame.UintToBits(uint64(address), payload, 0, AddressLength)
	frame.UintToBits(uint64(group), payload, AddressLength, GroupLength)
	frame.UintToBits(uint64(command), payload, AddressLength+GroupLength, CommandLength)

	body := fec.AppendCRC16(payload)
	statusBits := make([]byte, StatusLength)
	frame.UintToBits(uint64(status), statusBits, 0, StatusLength)
	body = append(body, statusBits...)

	out := make([]byte, SyncLength, SyncLength+len(body))
	frame.UintToBits(uint64(SyncWord), out, 0, SyncLength)
	return append(out, body...)
}

func collect(ch chan frame.Packet) []OSW {
	var out []OSW
	for {
		select {
		case pkt := <-ch:
			out = append(out, pkt.Payload.(OSW))
		default:
			return out
		}
	}
}

func newTestAssembler(t *testing.T) (*Assembler, chan frame.Packet) {
	t.Helper()
	ch := make(chan frame.Packet, 16)
	return NewAssembler(context.Background(), 1, ch, zerolog.Nop()), ch
}

func TestAssemblerDecodesBackToBackFrames(t *testing.T) {
	a, ch := newTestAssembler(t)

	stream := buildOSW(101, 1, 10, 0)
	stream = append(stream, buildOSW(202, 1, 5, 0xFFFFF)...)
	stream = append(stream, buildOSW(101, 1, 10, 0)...)
	// A frame is released when the following sync verifies.
	syncTail := make([]byte, SyncLength)
	frame.UintToBits(uint64(SyncWord), syncTail, 0, SyncLength)
	stream = append(stream, syncTail...)

	a.Receive(stream)

	osws := collect(ch)
	require.Len(t, osws, 3)
	assert.Equal(t, OSW{Address: 101, Group: 1, Command: 10}, osws[0])
	assert.Equal(t, OSW{Address: 202, Group: 1, Command: 5, Status: 0xFFFFF}, osws[1])
	assert.Equal(t, uint64(3), a.Stats().FramesOK)
}

func TestAssemblerSyncTolerance(t *testing.T) {
	build := func(flips ...int) []byte {
		stream := buildOSW(101, 1, 10, 0)
		stream = append(stream, buildOSW(202, 1, 5, 0xFFFFF)...)
		stream = append(stream, buildOSW(101, 1, 10, 0)...)
		syncTail := make([]byte, SyncLength)
		frame.UintToBits(uint64(SyncWord), syncTail, 0, SyncLength)
		stream = append(stream, syncTail...)
		// Corrupt the second frame's sync (one frame length in).
		for _, p := range flips {
			stream[FrameLength+p] ^= 1
		}
		return stream
	}

	// Two flipped sync bits: every frame still decodes.
	a, ch := newTestAssembler(t)
	a.Receive(build(0, 5))
	assert.Len(t, collect(ch), 3)
	assert.Zero(t, a.Stats().SyncLosses)

	// Three flipped bits: sync is lost, two frames are sacrificed while
	// lock re-acquires, and decoding resumes at the next clean frame.
	a2, ch2 := newTestAssembler(t)
	a2.Receive(build(0, 5, 9))
	osws := collect(ch2)
	require.Len(t, osws, 1)
	assert.Equal(t, uint16(101), osws[0].Address)
	assert.Equal(t, uint64(1), a2.Stats().SyncLosses)
}

func TestAssemblerCRCFailureCounted(t *testing.T) {
	a, ch := newTestAssembler(t)

	stream := buildOSW(101, 1, 10, 0)
	// Corrupt one payload bit of the first frame.
	stream[SyncLength+3] ^= 1
	stream = append(stream, buildOSW(202, 1, 5, 0)...)
	syncTail := make([]byte, SyncLength)
	frame.UintToBits(uint64(SyncWord), syncTail, 0, SyncLength)
	stream = append(stream, syncTail...)

	a.Receive(stream)

	osws := collect(ch)
	require.Len(t, osws, 1)
	assert.Equal(t, uint16(202), osws[0].Address)
	assert.Equal(t, uint64(1), a.Stats().CRCErrors)
}
