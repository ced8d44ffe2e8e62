package dmr

import (
	"context"
	"time"

	"github.com/norasector/cyclone/pkg/fec"
	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	"github.com/rs/zerolog"
)

// The four 48-bit frame syncs. Any of them marks a frame boundary; the
// variant itself is informational.
const (
	SyncBSVoice uint64 = 0x755FD7DF75F7
	SyncBSData  uint64 = 0xDFF57D75DF5D
	SyncMSVoice uint64 = 0x7F7D5DD57DFD
	SyncMSData  uint64 = 0xD5D7F77FD757

	SyncLength      = 48
	SlotTypeLength  = 20
	InfoLength      = 196
	FrameLength     = SyncLength + SlotTypeLength + InfoLength
	syncMaxDistance = 4
)

// Data types carried in the slot type after Golay correction.
const (
	DataTypeVoiceLCHeader   = 0x0
	DataTypeVoiceTerminator = 0x1
	DataTypeCSBK            = 0x3
	DataTypeDataHeader      = 0x6
	DataTypeIdle            = 0x9
)

var syncWords = [4]uint64{SyncBSVoice, SyncBSData, SyncMSVoice, SyncMSData}

// Burst is one validated frame body: slot type fields plus the 96
// BPTC-recovered payload bits.
type Burst struct {
	Slot      int
	ColorCode int
	DataType  uint8
	Payload   []byte
}

// Assembler locates DMR frame sync in a dibit stream, toggles between
// the two TDMA slots, and recovers burst payloads through Golay and
// BPTC. Frames whose color code does not match the expected one are
// counted and dropped.
type Assembler struct {
	systemID   int
	colorCode  int
	bits       []byte
	locked     bool
	slot       int
	outputChan chan frame.Packet
	logger     zerolog.Logger
	ctx        context.Context

	stats frame.Stats
}

func NewAssembler(ctx context.Context, systemID, colorCode int, ch chan frame.Packet, logger zerolog.Logger) *Assembler {
	return &Assembler{
		systemID:   systemID,
		colorCode:  colorCode,
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

	if !a.locked && len(a.bits) > 4*FrameLength {
		a.bits = a.bits[len(a.bits)-4*FrameLength:]
	}
}

func syncDistance(reg uint64) int {
	best := 64
	for _, w := range syncWords {
		if d := frame.HammingDistance64(reg, w); d < best {
			best = d
		}
	}
	return best
}

func (a *Assembler) step() bool {
	if !a.locked {
		pos, ok := a.findSync()
		if !ok {
			return false
		}
		a.bits = a.bits[pos:]
		a.locked = true
		a.slot = 0
		a.logger.Debug().Str("system", "dmr").Msg("sync acquired")
	}

	if len(a.bits) < FrameLength {
		return false
	}

	if syncDistance(frame.BitsToUint(a.bits, 0, SyncLength)) > syncMaxDistance {
		a.locked = false
		a.stats.SyncLosses++
		a.logger.Debug().Str("system", "dmr").Msg("sync lost")
		a.bits = a.bits[1:]
		return true
	}

	a.parseFrame(a.bits[:FrameLength])
	a.bits = a.bits[FrameLength:]
	// TDMA: alternate slots every frame.
	a.slot ^= 1
	return true
}

func (a *Assembler) findSync() (int, bool) {
	if len(a.bits) < SyncLength {
		return 0, false
	}

	var reg uint64
	for i := 0; i < len(a.bits); i++ {
		reg = (reg<<1 | uint64(a.bits[i]&1)) & 0xFFFFFFFFFFFF
		if i >= SyncLength-1 && syncDistance(reg) <= syncMaxDistance {
			return i - SyncLength + 1, true
		}
	}
	return 0, false
}

func (a *Assembler) parseFrame(f []byte) {
	codeword := uint32(frame.BitsToUint(f, SyncLength, SlotTypeLength))
	data, _, ok := fec.Golay2087Decode(codeword)
	if !ok {
		a.stats.CRCErrors++
		return
	}

	cc := int(data >> 4)
	dataType := data & 0x0F

	if cc != a.colorCode {
		a.stats.ColorCodeMismatch++
		a.logger.Debug().
			Str("system", "dmr").
			Int("expected", a.colorCode).
			Int("got", cc).
			Msg("color code mismatch")
		return
	}

	payload, ok := fec.BPTC19696Decode(f[SyncLength+SlotTypeLength:])
	if !ok {
		a.stats.CRCErrors++
		a.logger.Debug().Str("system", "dmr").Msg("BPTC decode failure")
		return
	}

	a.stats.FramesOK++

	select {
	case <-a.ctx.Done():
	case a.outputChan <- frame.Packet{
		SystemID:   a.systemID,
		SystemType: lmr.SystemTypeDMR,
		Payload: Burst{
			Slot:      a.slot,
			ColorCode: cc,
			DataType:  dataType,
			Payload:   payload,
		},
		Timestamp: time.Now().UTC(),
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
