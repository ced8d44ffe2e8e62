package p25

import (
	"context"
	"time"

	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	"github.com/rs/zerolog"
)

const (
	// 48-bit frame sync preceding the NID.
	FrameSync uint64 = 0x5575F5FF77FF

	SyncLength      = 48
	NIDLength       = 64
	FrameLength     = 1728
	TSBKOffset      = 112
	TSBKLength      = 144
	syncMaxDistance = 4

	// DUID values carried in the NID.
	DUIDHeader          = 0x0
	DUIDTerminator      = 0x3
	DUIDLogicalLinkData = 0x6
	DUIDTSBK            = 0x7
)

// TSBK is one trunking signaling block extracted from a control-channel
// frame, tagged with the NID it arrived under.
type TSBK struct {
	NAC  uint16
	DUID uint8
	Bits []byte
}

// Assembler locates P25 frame sync in a dibit stream and extracts TSBKs.
// Symbols arrive one dibit per byte (0..3); each contributes two bits
// MSB-first.
type Assembler struct {
	systemID   int
	bits       []byte
	locked     bool
	outputChan chan frame.Packet
	logger     zerolog.Logger
	ctx        context.Context

	stats frame.Stats
}

func NewAssembler(ctx context.Context, systemID int, ch chan frame.Packet, logger zerolog.Logger) *Assembler {
	return &Assembler{
		systemID:   systemID,
		outputChan: ch,
		ctx:        ctx,
		logger:     logger,
	}
}

func (a *Assembler) Receive(buf []byte) {
	for _, sym := range buf {
		a.bits = append(a.bits, (sym>>1)&1, sym&1)
	}

	for a.step() {
	}

	// Bound memory while hunting for sync.
	if !a.locked && len(a.bits) > 2*FrameLength {
		a.bits = a.bits[len(a.bits)-2*FrameLength:]
	}
}

// step consumes at most one frame (or one alignment move); reports
// whether another pass might make progress.
func (a *Assembler) step() bool {
	if !a.locked {
		pos, ok := a.findSync()
		if !ok {
			return false
		}
		a.bits = a.bits[pos:]
		a.locked = true
		a.logger.Debug().Str("system", "p25").Msg("frame sync acquired")
	}

	if len(a.bits) < FrameLength {
		return false
	}

	if frame.HammingDistance64(frame.BitsToUint(a.bits, 0, SyncLength), FrameSync) > syncMaxDistance {
		a.locked = false
		a.stats.SyncLosses++
		a.logger.Debug().Str("system", "p25").Msg("frame sync lost")
		// Drop one bit so the search does not re-find the same position.
		a.bits = a.bits[1:]
		return true
	}

	a.parseFrame(a.bits[:FrameLength])
	a.bits = a.bits[FrameLength:]
	return true
}

// findSync scans for the sync pattern anywhere in the pending bits.
func (a *Assembler) findSync() (int, bool) {
	if len(a.bits) < SyncLength {
		return 0, false
	}

	var reg uint64
	for i := 0; i < len(a.bits); i++ {
		reg = (reg<<1 | uint64(a.bits[i]&1)) & 0xFFFFFFFFFFFF
		if i >= SyncLength-1 && frame.HammingDistance64(reg, FrameSync) <= syncMaxDistance {
			return i - SyncLength + 1, true
		}
	}
	return 0, false
}

func (a *Assembler) parseFrame(f []byte) {
	nac := uint16(frame.BitsToUint(f, SyncLength, 12))
	duid := uint8(frame.BitsToUint(f, SyncLength+12, 4))

	a.stats.FramesOK++

	if duid != DUIDTSBK {
		return
	}

	bits := make([]byte, TSBKLength)
	copy(bits, f[TSBKOffset:TSBKOffset+TSBKLength])

	select {
	case <-a.ctx.Done():
	case a.outputChan <- frame.Packet{
		SystemID:   a.systemID,
		SystemType: lmr.SystemTypeP25,
		Payload:    TSBK{NAC: nac, DUID: duid, Bits: bits},
		Timestamp:  time.Now().UTC(),
	}:
	}
}

// Locked reports whether the assembler currently holds frame sync.
func (a *Assembler) Locked() bool {
	return a.locked
}

// Stats returns a copy of the quality counters.
func (a *Assembler) Stats() frame.Stats {
	return a.stats
}
