package dmr

import (
	"context"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/cyclone/pkg/fec"
	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	dmrframe "github.com/norasector/cyclone/pkg/lmr/frame/dmr"
	"github.com/norasector/cyclone/pkg/util"
	"github.com/rs/zerolog"
)

// CSBK opcodes handled by the trunking decoder.
const (
	OpcodeChannelGrant      = 0x06
	OpcodeTalkgroupAnnounce = 0x08
	OpcodePreamble          = 0x3D

	// CSBK CRC is masked on the wire.
	csbkCRCMask = 0xA5A5

	// Talker alias fragments idle out after this long.
	aliasTimeout = 10 * time.Second
)

type aliasAssembly struct {
	text     strings.Builder
	lastSeen time.Time
}

// Processor decodes DMR Tier III / Capacity Plus control blocks. Grants
// resolve against the logical channel plan when one is configured,
// otherwise against the rest channel; a grant with neither is dropped.
type Processor struct {
	systemID    int
	restChannel int
	planBase    int
	planSpacing int

	packetChan chan frame.Packet
	updateChan chan lmr.Update
	writeAPI   api.WriteAPI
	logger     zerolog.Logger

	aliases map[int]*aliasAssembly
	now     func() time.Time

	unresolvable uint64
	crcErrors    uint64
}

func NewProcessor(systemID, restChannel, planBase, planSpacing int,
	packetChan chan frame.Packet, updateChan chan lmr.Update,
	writeAPI api.WriteAPI, logger zerolog.Logger) *Processor {
	return &Processor{
		systemID:    systemID,
		restChannel: restChannel,
		planBase:    planBase,
		planSpacing: planSpacing,
		packetChan:  packetChan,
		updateChan:  updateChan,
		writeAPI:    writeAPI,
		logger:      logger,
		aliases:     make(map[int]*aliasAssembly),
		now:         time.Now,
	}
}

func (p *Processor) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt := <-p.packetChan:
			burst, ok := pkt.Payload.(dmrframe.Burst)
			if !ok {
				continue
			}
			p.processBurst(ctx, burst, pkt.Timestamp)
		}
	}
}

func (p *Processor) processBurst(ctx context.Context, burst dmrframe.Burst, ts time.Time) {
	p.expireAliases()

	switch burst.DataType {
	case dmrframe.DataTypeCSBK:
		p.processCSBK(ctx, burst, ts)

	case dmrframe.DataTypeVoiceLCHeader:
		p.processVoiceLC(ctx, burst, ts, false)

	case dmrframe.DataTypeVoiceTerminator:
		p.processVoiceLC(ctx, burst, ts, true)

	case dmrframe.DataTypeIdle:

	default:
		p.logger.Debug().
			Str("system", "dmr").
			Int("data_type", int(burst.DataType)).
			Int("slot", burst.Slot).
			Msg("unhandled data type")
	}
}

// processCSBK parses a CRC-verified control block:
// opcode(6) | fid(2) | slot(1) | lcn(7) | source(24) | destination(24).
func (p *Processor) processCSBK(ctx context.Context, burst dmrframe.Burst, ts time.Time) {
	if !fec.CheckCRC16Masked(burst.Payload, csbkCRCMask) {
		p.crcErrors++
		p.logger.Debug().Str("system", "dmr").Msg("CSBK CRC failure")
		return
	}

	opcode := int(frame.BitsToUint(burst.Payload, 0, 6))

	switch opcode {
	case OpcodeChannelGrant:
		slot := int(frame.BitsToUint(burst.Payload, 8, 1))
		lcn := int(frame.BitsToUint(burst.Payload, 9, 7))
		source := int(frame.BitsToUint(burst.Payload, 16, 24))
		dest := int(frame.BitsToUint(burst.Payload, 40, 24))

		freq := p.grantFrequency(lcn)
		if freq == 0 {
			p.unresolvable++
			p.logger.Debug().
				Str("system", "dmr").
				Int("tgid", dest).
				Msg("grant with no resolvable frequency dropped")
			return
		}

		p.logger.Debug().
			Str("system", "dmr").
			Int("slot", slot).
			Int("tgid", dest).
			Int("source", source).
			Str("frequency", util.MHzToString(freq)).
			Msg("channel grant")

		p.post(ctx, lmr.Update{
			SystemID: p.systemID,
			Grant: &lmr.CallGrant{
				SystemID:  p.systemID,
				TalkGroup: dest,
				RadioID:   source,
				Frequency: freq,
				Type:      lmr.CallTypeGroup,
				Priority:  5,
				Timestamp: ts,
			},
		})

		go p.writeAPI.WritePoint(influxdb2.NewPoint("dmr.grant",
			map[string]string{"system": "dmr"},
			map[string]interface{}{"tgid": dest, "frequency": freq}, time.Now()))

	case OpcodeTalkgroupAnnounce:
		tgid := int(frame.BitsToUint(burst.Payload, 16, 24))
		p.logger.Debug().
			Str("system", "dmr").
			Int("tgid", tgid).
			Msg("talkgroup announce")

	case OpcodePreamble:
		p.logger.Debug().Str("system", "dmr").Msg("preamble")

	default:
		p.logger.Debug().
			Str("system", "dmr").
			Int("opcode", opcode).
			Msg("unhandled CSBK opcode")
	}
}

// grantFrequency resolves a logical channel number against the Capacity
// Plus plan, falling back to the rest channel.
func (p *Processor) grantFrequency(lcn int) int {
	if p.planBase != 0 && p.planSpacing != 0 {
		return p.planBase + lcn*p.planSpacing
	}
	return p.restChannel
}

// processVoiceLC handles a voice link control header or terminator:
// flco(6) | fid(2) | options(8) | source(24) | destination(24) | alias(32).
func (p *Processor) processVoiceLC(ctx context.Context, burst dmrframe.Burst, ts time.Time, terminator bool) {
	source := int(frame.BitsToUint(burst.Payload, 16, 24))
	dest := int(frame.BitsToUint(burst.Payload, 40, 24))

	p.appendAliasFragment(dest, burst.Payload[64:96])

	if !terminator {
		p.logger.Debug().
			Str("system", "dmr").
			Int("tgid", dest).
			Int("source", source).
			Int("slot", burst.Slot).
			Msg("voice LC header")
		return
	}

	if alias := p.flushAlias(dest); alias != "" {
		p.post(ctx, lmr.Update{
			SystemID: p.systemID,
			Text: &lmr.TextEvent{
				SystemID:    p.systemID,
				Source:      source,
				Destination: dest,
				Text:        alias,
				Timestamp:   ts,
			},
		})
	}

	p.post(ctx, lmr.Update{
		SystemID: p.systemID,
		End: &lmr.CallEnd{
			SystemID:  p.systemID,
			TalkGroup: dest,
			Timestamp: ts,
		},
	})
}

// appendAliasFragment accumulates printable alias characters keyed by
// destination talkgroup.
func (p *Processor) appendAliasFragment(dest int, bits []byte) {
	var chars []byte
	for i := 0; i+8 <= len(bits); i += 8 {
		ch := byte(frame.BitsToUint(bits, i, 8))
		if ch >= 32 && ch < 127 {
			chars = append(chars, ch)
		}
	}
	if len(chars) == 0 {
		return
	}

	asm := p.aliases[dest]
	if asm == nil {
		asm = &aliasAssembly{}
		p.aliases[dest] = asm
	}
	asm.text.Write(chars)
	asm.lastSeen = p.now()
}

func (p *Processor) flushAlias(dest int) string {
	asm := p.aliases[dest]
	if asm == nil {
		return ""
	}
	delete(p.aliases, dest)
	return asm.text.String()
}

// expireAliases bounds fragment memory: assemblies idle longer than the
// timeout are discarded.
func (p *Processor) expireAliases() {
	now := p.now()
	for dest, asm := range p.aliases {
		if now.Sub(asm.lastSeen) > aliasTimeout {
			delete(p.aliases, dest)
		}
	}
}

func (p *Processor) post(ctx context.Context, u lmr.Update) {
	select {
	case <-ctx.Done():
	case p.updateChan <- u:
	}
}
