package smartnet

import (
	"context"
	"math/bits"
	"time"

	"github.com/norasector/cyclone/pkg/fec"
	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	"github.com/rs/zerolog"
)

const (
	// 16-bit sync followed by address, group, command, CRC and the
	// status tail.
	SyncWord        uint16 = 0xAC4D
	SyncLength             = 16
	FrameLength            = 76
	AddressLength          = 10
	GroupLength            = 3
	CommandLength          = 11
	CRCLength              = 16
	StatusLength           = 20
	syncMaxDistance        = 2
)

// OSW is one validated Outbound Signaling Word.
type OSW struct {
	Address uint16
	Group   uint8
	Command uint16
	Status  uint32
}

// Assembler locates OSW frames in a sliced bit stream. Frames ride back
// to back once locked; a one second silence timer drops the lock so a
// retune resynchronizes cleanly.
type Assembler struct {
	systemID   int
	buf        [2 * FrameLength]byte
	bufIdx     int
	rxCount    int
	syncReg    uint16
	inSync     bool
	timer      *time.Timer
	outputChan chan frame.Packet
	logger     zerolog.Logger
	ctx        context.Context

	stats frame.Stats
}

func NewAssembler(ctx context.Context, systemID int, ch chan frame.Packet, logger zerolog.Logger) *Assembler {
	return &Assembler{
		timer:      time.NewTimer(time.Second),
		outputChan: ch,
		ctx:        ctx,
		logger:     logger,
		systemID:   systemID,
	}
}

func (s *Assembler) insertSymbol(b byte) {
	s.buf[s.bufIdx] = b & 1
	s.buf[s.bufIdx+FrameLength] = b & 1
	s.bufIdx = (s.bufIdx + 1) % FrameLength
}

func (s *Assembler) syncDetected() bool {
	return bits.OnesCount16(s.syncReg^SyncWord) <= syncMaxDistance
}

func (s *Assembler) receiveSymbol(symbol byte) {
	s.syncReg = s.syncReg<<1 | uint16(symbol&1)
	detected := s.syncDetected()
	s.insertSymbol(symbol)
	s.rxCount++

	select {
	case <-s.timer.C:
		s.logger.Debug().Str("system", "smartnet").Msg("sync timer expired")
		s.inSync = false
		s.rxCount = 0
		s.timer.Reset(time.Second)
		return
	default:
	}

	if detected && !s.inSync {
		s.inSync = true
		s.rxCount = 0
		return
	}

	if !s.inSync || s.rxCount < FrameLength {
		return
	}

	if !detected {
		s.logger.Debug().Str("system", "smartnet").Msg("sync lost")
		s.inSync = false
		s.rxCount = 0
		s.stats.SyncLosses++
		return
	}

	s.rxCount = 0

	// The ring now holds the last FrameLength symbols: the previous
	// frame's body (its own sync was consumed at lock time) followed by
	// the sync we just matched.
	osw, ok := s.parseFrame(s.buf[s.bufIdx : s.bufIdx+FrameLength])
	if !ok {
		s.stats.CRCErrors++
		s.logger.Debug().Str("system", "smartnet").Msg("CRC failure")
		return
	}

	s.stats.FramesOK++

	select {
	case <-s.ctx.Done():
		return
	case s.outputChan <- frame.Packet{
		SystemID:   s.systemID,
		SystemType: lmr.SystemTypeSmartnet,
		Payload:    osw,
		Timestamp:  time.Now().UTC(),
	}:
	}
	s.timer.Reset(time.Second)
}

// parseFrame splits address|group|command|crc|status (the body after
// sync) and verifies the CRC-16-CCITT over the 24 payload bits.
func (s *Assembler) parseFrame(f []byte) (OSW, bool) {
	payloadEnd := AddressLength + GroupLength + CommandLength

	if !fec.CheckCRC16(f[:payloadEnd+CRCLength]) {
		return OSW{}, false
	}

	return OSW{
		Address: uint16(frame.BitsToUint(f, 0, AddressLength)),
		Group:   uint8(frame.BitsToUint(f, AddressLength, GroupLength)),
		Command: uint16(frame.BitsToUint(f, AddressLength+GroupLength, CommandLength)),
		Status:  uint32(frame.BitsToUint(f, payloadEnd+CRCLength, StatusLength)),
	}, true
}

func (s *Assembler) Receive(buf []byte) {
	for i := 0; i < len(buf); i++ {
		s.receiveSymbol(buf[i])
	}
}

// Stats returns a copy of the quality counters.
func (s *Assembler) Stats() frame.Stats {
	return s.stats
}
