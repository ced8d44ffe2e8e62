package tetra

import (
	"context"
	"time"

	"github.com/norasector/cyclone/pkg/fec"
	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	"github.com/rs/zerolog"
)

// Burst framing constants. A downlink slot carries an 11-bit training
// sequence, a rate-2/3 coded block sized to the 30-row interleaver, and
// guard/adjustment bits filling the slot out to 510 bits.
const (
	SlotLength     = 510
	TrainingLength = 11
	CodedLength    = 480
	GuardLength    = SlotLength - TrainingLength - CodedLength

	SlotsPerFrame       = 4
	FramesPerMultiframe = 18

	syncMaxDistance    = 3
	maxSlipsBeforeLoss = 10

	interleaveRows = 30
	interleaveCols = CodedLength / interleaveRows
)

// The three known training sequences.
const (
	TrainingNormal   uint16 = 0x0FD
	TrainingExtended uint16 = 0x6E4
	TrainingSync     uint16 = 0x3AA
)

var trainingSequences = [3]uint16{TrainingNormal, TrainingExtended, TrainingSync}

// SyncState is the acquisition state machine position.
type SyncState int

const (
	StateUnsynced SyncState = iota
	StateSearching
	StateLocked
	StateSlipping
)

func (s SyncState) String() string {
	switch s {
	case StateUnsynced:
		return "unsynced"
	case StateSearching:
		return "searching"
	case StateLocked:
		return "locked"
	case StateSlipping:
		return "slipping"
	}
	return "unknown"
}

// Burst is one CRC-verified slot payload.
type Burst struct {
	Slot       int
	Frame      int
	Multiframe int
	Bits       []byte
	BER        float32
}

// Assembler recovers TETRA slots from a sliced bit stream: training
// sequence acquisition, 30-row block deinterleaving, frame-number
// descrambling, rate-2/3 Viterbi decoding and CRC verification.
//
// Symbols arrive one dibit per byte; each contributes two bits
// MSB-first.
type Assembler struct {
	systemID   int
	bits       []byte
	state      SyncState
	slot       int
	frame      int
	multiframe int
	slips      int
	ber        float32
	outputChan chan frame.Packet
	logger     zerolog.Logger
	ctx        context.Context

	stats frame.Stats
}

func NewAssembler(ctx context.Context, systemID int, ch chan frame.Packet, logger zerolog.Logger) *Assembler {
	return &Assembler{
		systemID:   systemID,
		state:      StateUnsynced,
		outputChan: ch,
		ctx:        ctx,
		logger:     logger,
	}
}

func (a *Assembler) Receive(buf []byte) {
	for _, sym := range buf {
		a.bits = append(a.bits, (sym>>1)&1, sym&1)
	}

	if a.state == StateUnsynced {
		a.state = StateSearching
	}

	for a.step() {
	}

	if a.state == StateSearching && len(a.bits) > 2*SlotLength {
		a.bits = a.bits[len(a.bits)-2*SlotLength:]
	}
}

func trainingDistance(seq uint16) int {
	best := 16
	for _, t := range trainingSequences {
		if d := frame.HammingDistance64(uint64(seq), uint64(t)); d < best {
			best = d
		}
	}
	return best
}

func (a *Assembler) step() bool {
	switch a.state {
	case StateSearching:
		pos, ok := a.findTraining()
		if !ok {
			return false
		}
		a.bits = a.bits[pos:]
		a.state = StateLocked
		a.slot, a.frame, a.multiframe = 0, 0, 0
		a.slips = 0
		a.logger.Debug().Str("system", "tetra").Msg("training sequence acquired")
		return true

	case StateLocked, StateSlipping:
		if len(a.bits) < SlotLength {
			return false
		}

		seq := uint16(frame.BitsToUint(a.bits, 0, TrainingLength))
		if trainingDistance(seq) <= syncMaxDistance {
			a.slips = 0
			a.state = StateLocked
			a.processSlot(a.bits[:SlotLength])
		} else {
			a.slips++
			a.state = StateSlipping
			if a.slips >= maxSlipsBeforeLoss {
				a.state = StateSearching
				a.stats.SyncLosses++
				a.logger.Debug().Str("system", "tetra").Msg("sync lost")
				a.bits = a.bits[1:]
				return true
			}
		}

		a.bits = a.bits[SlotLength:]
		a.advanceCounters()
		return true
	}

	return false
}

func (a *Assembler) findTraining() (int, bool) {
	if len(a.bits) < TrainingLength {
		return 0, false
	}

	var reg uint16
	for i := 0; i < len(a.bits); i++ {
		reg = (reg<<1 | uint16(a.bits[i]&1)) & 0x7FF
		if i >= TrainingLength-1 && trainingDistance(reg) <= syncMaxDistance {
			return i - TrainingLength + 1, true
		}
	}
	return 0, false
}

func (a *Assembler) advanceCounters() {
	a.slot++
	if a.slot == SlotsPerFrame {
		a.slot = 0
		a.frame++
		if a.frame == FramesPerMultiframe {
			a.frame = 0
			a.multiframe++
		}
	}
}

func (a *Assembler) processSlot(slot []byte) {
	coded := Deinterleave(slot[TrainingLength : TrainingLength+CodedLength])
	Descramble(coded, a.frame)

	decoded, metric := fec.TetraConvDecode(coded)
	if decoded == nil {
		a.stats.CRCErrors++
		return
	}
	a.ber = 0.9*a.ber + 0.1*float32(metric)/float32(CodedLength)

	if !fec.CheckCRC16(decoded) {
		a.stats.CRCErrors++
		a.logger.Debug().Str("system", "tetra").Msg("burst CRC failure")
		return
	}

	a.stats.FramesOK++

	bits := make([]byte, len(decoded)-16)
	copy(bits, decoded)

	select {
	case <-a.ctx.Done():
	case a.outputChan <- frame.Packet{
		SystemID:   a.systemID,
		SystemType: lmr.SystemTypeTETRA,
		Payload: Burst{
			Slot:       a.slot,
			Frame:      a.frame,
			Multiframe: a.multiframe,
			Bits:       bits,
			BER:        a.ber,
		},
		Timestamp: time.Now().UTC(),
	}:
	}
}

// Deinterleave undoes the rectangular 30-row block interleaver over the
// coded region.
func Deinterleave(in []byte) []byte {
	out := make([]byte, CodedLength)
	for i := 0; i < CodedLength; i++ {
		row := i / interleaveCols
		col := i % interleaveCols
		out[i] = in[col*interleaveRows+row] & 1
	}
	return out
}

// Interleave is the transmit-side counterpart, used by tests to
// synthesize slots.
func Interleave(in []byte) []byte {
	out := make([]byte, CodedLength)
	for i := 0; i < CodedLength; i++ {
		row := i / interleaveCols
		col := i % interleaveCols
		out[col*interleaveRows+row] = in[i] & 1
	}
	return out
}

// Descramble XORs the coded region with the frame-number seeded LFSR
// keystream. The keystream is data independent, so the operation is its
// own inverse.
func Descramble(data []byte, frameNum int) {
	lfsr := uint32(0x1FF ^ (frameNum & 0x1FF))
	for i := range data {
		bit := byte((lfsr ^ (lfsr >> 5)) & 1)
		data[i] ^= bit
		lfsr = ((lfsr << 1) | uint32(bit)) & 0x1FF
	}
}

// State reports the acquisition state machine position.
func (a *Assembler) State() SyncState {
	return a.state
}

// BER reports the smoothed Viterbi path metric per coded bit.
func (a *Assembler) BER() float32 {
	return a.ber
}

// Stats returns a copy of the quality counters.
func (a *Assembler) Stats() frame.Stats {
	return a.stats
}
