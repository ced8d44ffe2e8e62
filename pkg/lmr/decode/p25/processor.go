package p25

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	p25frame "github.com/norasector/cyclone/pkg/lmr/frame/p25"
	"github.com/norasector/cyclone/pkg/util"
	"github.com/rs/zerolog"
)

// TSBK opcodes handled by the trunking decoder.
const (
	OpcodeGroupVoiceGrant  = 0x00
	OpcodeGroupVoiceUpdate = 0x02
	OpcodeIdentifierUpdate = 0x3C

	// Frequency fields are carried in units of 5 Hz.
	freqUnitHz = 5
)

// identifier is one row of the channel identifier table announced by
// IDENTIFIER_UPDATE messages.
type identifier struct {
	baseFreq  int
	spacingHz int
	offsetHz  int
}

// Processor decodes P25 trunking signaling blocks into call grants and
// system information. Grants whose channel identifier has not been
// announced yet cannot be resolved to a frequency and are dropped.
type Processor struct {
	systemID    int
	expectedNAC uint16
	wacn        uint32
	sysID       uint16

	identifiers map[int]identifier
	lastNAC     uint16

	packetChan chan frame.Packet
	updateChan chan lmr.Update
	writeAPI   api.WriteAPI
	logger     zerolog.Logger

	unresolvable uint64
	nacRejected  uint64
}

func NewProcessor(systemID int, expectedNAC uint16, wacn uint32, sysID uint16,
	packetChan chan frame.Packet, updateChan chan lmr.Update,
	writeAPI api.WriteAPI, logger zerolog.Logger) *Processor {
	return &Processor{
		systemID:    systemID,
		expectedNAC: expectedNAC,
		wacn:        wacn,
		sysID:       sysID,
		identifiers: make(map[int]identifier),
		packetChan:  packetChan,
		updateChan:  updateChan,
		writeAPI:    writeAPI,
		logger:      logger,
	}
}

// Reset clears learned identifier state; the table does not survive a
// decoder restart.
func (p *Processor) Reset() {
	p.identifiers = make(map[int]identifier)
	p.lastNAC = 0
}

func (p *Processor) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt := <-p.packetChan:
			tsbk, ok := pkt.Payload.(p25frame.TSBK)
			if !ok {
				continue
			}
			p.processTSBK(ctx, tsbk, pkt.Timestamp)
		}
	}
}

func (p *Processor) processTSBK(ctx context.Context, tsbk p25frame.TSBK, ts time.Time) {
	if p.expectedNAC != 0 && tsbk.NAC != p.expectedNAC {
		p.nacRejected++
		return
	}

	if tsbk.NAC != p.lastNAC {
		p.lastNAC = tsbk.NAC
		p.post(ctx, lmr.Update{
			SystemID: p.systemID,
			SystemInfo: &lmr.SystemInfo{
				SystemID:  p.systemID,
				Type:      lmr.SystemTypeP25,
				NAC:       tsbk.NAC,
				WACN:      p.wacn,
				SysID:     p.sysID,
				Timestamp: ts,
			},
		})
	}

	opcode := int(frame.BitsToUint(tsbk.Bits, 0, 6))

	switch opcode {
	case OpcodeGroupVoiceGrant, OpcodeGroupVoiceUpdate:
		p.processGroupVoiceGrant(ctx, tsbk.Bits, ts)

	case OpcodeIdentifierUpdate:
		p.processIdentifierUpdate(tsbk.Bits)

	default:
		p.logger.Debug().
			Str("system", "p25").
			Int("opcode", opcode).
			Msg("unhandled TSBK opcode")
	}
}

// processGroupVoiceGrant parses
// opcode(6) | options(8) | id(4) | channel(12) | talkgroup(16) | source(24).
func (p *Processor) processGroupVoiceGrant(ctx context.Context, bits []byte, ts time.Time) {
	options := int(frame.BitsToUint(bits, 6, 8))
	id := int(frame.BitsToUint(bits, 14, 4))
	channel := int(frame.BitsToUint(bits, 18, 12))
	talkgroup := int(frame.BitsToUint(bits, 30, 16))
	source := int(frame.BitsToUint(bits, 46, 24))

	ident, ok := p.identifiers[id]
	if !ok {
		p.unresolvable++
		p.logger.Debug().
			Str("system", "p25").
			Int("identifier", id).
			Int("tgid", talkgroup).
			Msg("grant for unknown channel identifier dropped")
		return
	}

	freq := ident.baseFreq + channel*ident.spacingHz
	encrypted := options&0x40 != 0

	p.logger.Debug().
		Str("system", "p25").
		Int("tgid", talkgroup).
		Int("source", source).
		Str("frequency", util.MHzToString(freq)).
		Bool("encrypted", encrypted).
		Msg("group voice grant")

	grant := &lmr.CallGrant{
		SystemID:  p.systemID,
		TalkGroup: talkgroup,
		RadioID:   source,
		Frequency: freq,
		Type:      lmr.CallTypeGroup,
		Priority:  5,
		Timestamp: ts,
		Encrypted: encrypted,
	}
	if encrypted {
		grant.Encryption = lmr.EncryptionUnknown
	}

	p.post(ctx, lmr.Update{SystemID: p.systemID, Grant: grant})

	go p.writeAPI.WritePoint(influxdb2.NewPoint("p25.grant",
		map[string]string{"system": "p25"},
		map[string]interface{}{
			"tgid":      talkgroup,
			"frequency": freq,
		}, time.Now()))
}

// processIdentifierUpdate parses
// opcode(6) | id(4) | base multiplier(32) | spacing(10) | offset(10).
func (p *Processor) processIdentifierUpdate(bits []byte) {
	id := int(frame.BitsToUint(bits, 6, 4))
	baseMult := int(frame.BitsToUint(bits, 10, 32))
	spacing := int(frame.BitsToUint(bits, 42, 10))
	offset := int(frame.BitsToUint(bits, 52, 10))

	ident := identifier{
		baseFreq:  baseMult * freqUnitHz,
		spacingHz: spacing * freqUnitHz,
		offsetHz:  offset * freqUnitHz,
	}
	p.identifiers[id] = ident

	p.logger.Debug().
		Str("system", "p25").
		Int("identifier", id).
		Str("base", util.MHzToString(ident.baseFreq)).
		Int("spacing_hz", ident.spacingHz).
		Msg("identifier update")
}

func (p *Processor) post(ctx context.Context, u lmr.Update) {
	select {
	case <-ctx.Done():
	case p.updateChan <- u:
	}
}

// Unresolvable reports grants dropped for lack of an identifier table
// entry.
func (p *Processor) Unresolvable() uint64 {
	return p.unresolvable
}
