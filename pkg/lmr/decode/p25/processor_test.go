package p25

import (
	"context"
	"testing"
	"time"

	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	p25frame "github.com/norasector/cyclone/pkg/lmr/frame/p25"
	"github.com/norasector/cyclone/pkg/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTSBKIdentifierUpdate(id, mult, spacing, offset int) []byte {
	b := make([]byte, 144)
	frame.UintToBits(OpcodeIdentifierUpdate, b, 0, 6)
	frame.UintToBits(uint64(id), b, 6, 4)
	frame.UintToBits(uint64(mult), b, 10, 32)
	frame.UintToBits(uint64(spacing), b, 42, 10)
	frame.UintToBits(uint64(offset), b, 52, 10)
	return b
}

func buildTSBKGroupVoiceGrant(options, id, channel, talkgroup, source int) []byte {
	b := make([]byte, 144)
	frame.UintToBits(OpcodeGroupVoiceGrant, b, 0, 6)
	frame.UintToBits(uint64(options), b, 6, 8)
	frame.UintToBits(uint64(id), b, 14, 4)
	frame.UintToBits(uint64(channel), b, 18, 12)
	frame.UintToBits(uint64(talkgroup), b, 30, 16)
	frame.UintToBits(uint64(source), b, 46, 24)
	return b
}

type harness struct {
	packets chan frame.Packet
	updates chan lmr.Update
	cancel  context.CancelFunc
}

func startProcessor(t *testing.T, expectedNAC uint16) *harness {
	t.Helper()
	h := &harness{
		packets: make(chan frame.Packet, 16),
		updates: make(chan lmr.Update, 16),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)

	p := NewProcessor(1, expectedNAC, 0xBEE00, 0x1A2, h.packets, h.updates, &util.MockWriteAPI{}, zerolog.Nop())
	go p.Start(ctx)
	return h
}

func (h *harness) push(nac uint16, bits []byte) {
	h.packets <- frame.Packet{
		SystemID:   1,
		SystemType: lmr.SystemTypeP25,
		Payload:    p25frame.TSBK{NAC: nac, DUID: p25frame.DUIDTSBK, Bits: bits},
		Timestamp:  time.Now(),
	}
}

func (h *harness) next(t *testing.T) lmr.Update {
	t.Helper()
	select {
	case u := <-h.updates:
		return u
	case <-time.After(time.Second):
		t.Fatalf("no update received")
		return lmr.Update{}
	}
}

// nextGrant skips system-info updates, which the decoder interleaves
// when the NAC is first observed.
func (h *harness) nextGrant(t *testing.T) *lmr.CallGrant {
	t.Helper()
	for i := 0; i < 4; i++ {
		u := h.next(t)
		if u.Grant != nil {
			return u.Grant
		}
	}
	t.Fatalf("no grant among updates")
	return nil
}

func (h *harness) expectNone(t *testing.T) {
	t.Helper()
	select {
	case u := <-h.updates:
		if u.Grant != nil {
			t.Fatalf("unexpected grant for tg %d", u.Grant.TalkGroup)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

// Identifier update then grant: the grant resolves against the learned
// table. base 170000000 * 5 Hz = 850 MHz, spacing 100 * 5 Hz = 500 Hz,
// channel 5 puts the call at 850.0025 MHz.
func TestIdentifierUpdateThenGrant(t *testing.T) {
	h := startProcessor(t, 0)

	h.push(0x293, buildTSBKIdentifierUpdate(1, 170000000, 100, 0))
	h.push(0x293, buildTSBKGroupVoiceGrant(0, 1, 5, 1234, 5678))

	grant := h.nextGrant(t)
	assert.Equal(t, 850002500, grant.Frequency)
	assert.Equal(t, 1234, grant.TalkGroup)
	assert.Equal(t, 5678, grant.RadioID)
	assert.False(t, grant.Encrypted)
	assert.Equal(t, lmr.CallTypeGroup, grant.Type)
}

func TestGrantEncryptedFlag(t *testing.T) {
	h := startProcessor(t, 0)

	h.push(0x293, buildTSBKIdentifierUpdate(1, 170000000, 100, 0))
	h.push(0x293, buildTSBKGroupVoiceGrant(0x40, 1, 5, 1234, 5678))

	grant := h.nextGrant(t)
	assert.True(t, grant.Encrypted)
}

// A grant whose identifier was never announced cannot be resolved and
// must not be emitted; the same grant works once the identifier
// arrives.
func TestGrantRequiresKnownIdentifier(t *testing.T) {
	h := startProcessor(t, 0)

	h.push(0x293, buildTSBKGroupVoiceGrant(0, 1, 5, 1234, 5678))
	// Only the system-info update from the first NAC sighting appears.
	u := h.next(t)
	require.NotNil(t, u.SystemInfo)
	h.expectNone(t)

	h.push(0x293, buildTSBKIdentifierUpdate(1, 170000000, 100, 0))
	h.push(0x293, buildTSBKGroupVoiceGrant(0, 1, 5, 1234, 5678))

	grant := h.nextGrant(t)
	assert.Equal(t, 850002500, grant.Frequency)
}

func TestNACFilter(t *testing.T) {
	h := startProcessor(t, 0x293)

	h.push(0x111, buildTSBKIdentifierUpdate(1, 170000000, 100, 0))
	h.push(0x111, buildTSBKGroupVoiceGrant(0, 1, 5, 1234, 5678))
	h.expectNone(t)

	h.push(0x293, buildTSBKIdentifierUpdate(1, 170000000, 100, 0))
	h.push(0x293, buildTSBKGroupVoiceGrant(0, 1, 5, 1234, 5678))
	assert.Equal(t, 850002500, h.nextGrant(t).Frequency)
}

func TestSystemInfoEmittedOnFirstNAC(t *testing.T) {
	h := startProcessor(t, 0)

	h.push(0x293, buildTSBKIdentifierUpdate(1, 170000000, 100, 0))

	u := h.next(t)
	require.NotNil(t, u.SystemInfo)
	assert.Equal(t, uint16(0x293), u.SystemInfo.NAC)
	assert.Equal(t, uint32(0xBEE00), u.SystemInfo.WACN)
	assert.Equal(t, uint16(0x1A2), u.SystemInfo.SysID)
}
