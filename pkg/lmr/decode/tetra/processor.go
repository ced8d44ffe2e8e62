package tetra

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	tetraframe "github.com/norasector/cyclone/pkg/lmr/frame/tetra"
	"github.com/norasector/cyclone/pkg/util"
	"github.com/rs/zerolog"
)

// MAC PDU types carried in the first octet of a decoded burst.
const (
	PDUBroadcast = 0x01
	PDUDSetup    = 0x02
	PDUDConnect  = 0x03
	PDUDRelease  = 0x04
	PDUDSDS      = 0x05

	// Downlink carrier spacing.
	channelSpacingHz = 25000
)

// Call type values in a D-SETUP PDU.
const (
	callTypeGroup     = 0
	callTypePrivate   = 1
	callTypeEmergency = 4
)

// Processor decodes TETRA MAC PDUs: broadcast system information,
// call setup/release and short data. Call identities assigned at setup
// are remembered so a release can be attributed to its talkgroup.
type Processor struct {
	systemID   int
	bandBase   int
	expectedCC int

	packetChan chan frame.Packet
	updateChan chan lmr.Update
	writeAPI   api.WriteAPI
	logger     zerolog.Logger

	sysInfo     lmr.SystemInfo
	haveSysInfo bool

	nextCallID  int
	activeCalls map[int]int // call id -> talkgroup

	encryptedCalls uint64
	clearCalls     uint64
}

func NewProcessor(systemID, bandBase, expectedCC int,
	packetChan chan frame.Packet, updateChan chan lmr.Update,
	writeAPI api.WriteAPI, logger zerolog.Logger) *Processor {
	return &Processor{
		systemID:    systemID,
		bandBase:    bandBase,
		expectedCC:  expectedCC,
		packetChan:  packetChan,
		updateChan:  updateChan,
		writeAPI:    writeAPI,
		logger:      logger,
		activeCalls: make(map[int]int),
	}
}

func (p *Processor) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt := <-p.packetChan:
			burst, ok := pkt.Payload.(tetraframe.Burst)
			if !ok {
				continue
			}
			p.processBurst(ctx, burst, pkt.Timestamp)
		}
	}
}

func (p *Processor) processBurst(ctx context.Context, burst tetraframe.Burst, ts time.Time) {
	if len(burst.Bits) < 8 {
		return
	}

	pduType := int(frame.BitsToUint(burst.Bits, 0, 8))

	switch pduType {
	case PDUBroadcast:
		p.processBroadcast(ctx, burst.Bits, ts)

	case PDUDSetup:
		p.processSetup(ctx, burst.Bits, ts)

	case PDUDConnect:
		p.logger.Debug().Str("system", "tetra").Msg("D-CONNECT")

	case PDUDRelease:
		p.processRelease(ctx, burst.Bits, ts)

	case PDUDSDS:
		p.processSDS(ctx, burst.Bits, ts)

	default:
		p.logger.Debug().
			Str("system", "tetra").
			Int("pdu_type", pduType).
			Msg("unhandled MAC PDU type")
	}
}

// processBroadcast parses
// type(8) | mcc(10) | mnc(14) | cc(6) | la(16) | name(8 per char).
func (p *Processor) processBroadcast(ctx context.Context, bits []byte, ts time.Time) {
	if len(bits) < 54 {
		return
	}

	mcc := int(frame.BitsToUint(bits, 8, 10))
	mnc := int(frame.BitsToUint(bits, 18, 14))
	cc := int(frame.BitsToUint(bits, 32, 6))
	la := int(frame.BitsToUint(bits, 38, 16))
	name := extractText(bits, 54, 16)

	info := lmr.SystemInfo{
		SystemID:     (mcc << 16) | mnc,
		Type:         lmr.SystemTypeTETRA,
		MCC:          mcc,
		MNC:          mnc,
		ColorCode:    cc & 0x03,
		LocationArea: la,
		NetworkName:  name,
		Emergency:    p.isEmergencyNetwork(mcc),
		Timestamp:    ts,
	}
	p.sysInfo = info
	p.haveSysInfo = true

	p.logger.Info().
		Str("system", "tetra").
		Int("mcc", mcc).
		Int("mnc", mnc).
		Int("color_code", info.ColorCode).
		Int("location_area", la).
		Bool("emergency", info.Emergency).
		Msg("network broadcast")

	p.post(ctx, lmr.Update{SystemID: p.systemID, SystemInfo: &info})
}

// isEmergencyNetwork infers emergency-services use from the country code
// range combined with the harmonized 380-400 MHz band.
func (p *Processor) isEmergencyNetwork(mcc int) bool {
	inBand := p.bandBase >= 380000000 && p.bandBase < 400000000
	return mcc >= 200 && mcc <= 799 && inBand
}

// processSetup parses
// type(8) | call type(4) | destination(24) | source(24) | channel(12) |
// encryption(2+2).
func (p *Processor) processSetup(ctx context.Context, bits []byte, ts time.Time) {
	if len(bits) < 76 {
		return
	}

	callTypeBits := int(frame.BitsToUint(bits, 8, 4))
	dest := int(frame.BitsToUint(bits, 12, 24))
	source := int(frame.BitsToUint(bits, 36, 24))
	channel := int(frame.BitsToUint(bits, 60, 12))
	encryption := decodeEncryption(bits, 72)

	freq := p.bandBase + channel*channelSpacingHz

	callType := lmr.CallTypeGroup
	priority := 5
	switch callTypeBits {
	case callTypePrivate:
		callType = lmr.CallTypePrivate
	case callTypeEmergency:
		callType = lmr.CallTypeEmergency
		priority = 10
	}

	callID := p.nextCallID
	p.nextCallID++
	p.activeCalls[callID] = dest

	encrypted := encryption != lmr.EncryptionNone
	if encrypted {
		p.encryptedCalls++
	} else {
		p.clearCalls++
	}

	p.logger.Info().
		Str("system", "tetra").
		Int("tgid", dest).
		Int("source", source).
		Str("frequency", util.MHzToString(freq)).
		Str("encryption", encryption.String()).
		Int("call_id", callID).
		Msg("call setup")

	p.post(ctx, lmr.Update{
		SystemID: p.systemID,
		Grant: &lmr.CallGrant{
			SystemID:   p.systemID,
			TalkGroup:  dest,
			RadioID:    source,
			Frequency:  freq,
			CallID:     callID,
			Type:       callType,
			Priority:   priority,
			Timestamp:  ts,
			Encrypted:  encrypted,
			Encryption: encryption,
		},
	})

	go p.writeAPI.WritePoint(influxdb2.NewPoint("tetra.call",
		map[string]string{"system": "tetra", "encryption": encryption.String()},
		map[string]interface{}{"tgid": dest, "frequency": freq}, time.Now()))
}

// processRelease parses type(8) | call id(24).
func (p *Processor) processRelease(ctx context.Context, bits []byte, ts time.Time) {
	if len(bits) < 32 {
		return
	}

	callID := int(frame.BitsToUint(bits, 8, 24))
	tgid, ok := p.activeCalls[callID]
	if !ok {
		p.logger.Debug().
			Str("system", "tetra").
			Int("call_id", callID).
			Msg("release for unknown call")
		return
	}
	delete(p.activeCalls, callID)

	p.logger.Info().
		Str("system", "tetra").
		Int("tgid", tgid).
		Int("call_id", callID).
		Msg("call release")

	p.post(ctx, lmr.Update{
		SystemID: p.systemID,
		End: &lmr.CallEnd{
			SystemID:  p.systemID,
			TalkGroup: tgid,
			CallID:    callID,
			Timestamp: ts,
		},
	})
}

// processSDS parses
// type(8) | sds type(4) | destination(24) | source(24) | text(8 per char).
func (p *Processor) processSDS(ctx context.Context, bits []byte, ts time.Time) {
	if len(bits) < 60 {
		return
	}

	dest := int(frame.BitsToUint(bits, 12, 24))
	source := int(frame.BitsToUint(bits, 36, 24))
	text := extractText(bits, 60, 32)
	if text == "" {
		return
	}

	p.logger.Info().
		Str("system", "tetra").
		Int("source", source).
		Int("destination", dest).
		Str("text", text).
		Msg("short data")

	p.post(ctx, lmr.Update{
		SystemID: p.systemID,
		Text: &lmr.TextEvent{
			SystemID:    p.systemID,
			Source:      source,
			Destination: dest,
			Text:        text,
			Timestamp:   ts,
		},
	})
}

// decodeEncryption maps the 2+2 encryption field to the announced air
// interface cipher.
func decodeEncryption(bits []byte, offset int) lmr.EncryptionType {
	if len(bits) < offset+4 {
		return lmr.EncryptionNone
	}

	class := frame.BitsToUint(bits, offset, 2)
	switch class {
	case 0:
		return lmr.EncryptionNone
	case 1:
		return lmr.EncryptionTEA1
	case 2:
		return lmr.EncryptionTEA2
	}

	if frame.BitsToUint(bits, offset+2, 2) == 0 {
		return lmr.EncryptionTEA3
	}
	return lmr.EncryptionTEA4
}

// extractText reads up to maxChars printable octets, stopping at the
// first non-printable one.
func extractText(bits []byte, offset, maxChars int) string {
	var out []byte
	for i := 0; i < maxChars; i++ {
		pos := offset + i*8
		if pos+8 > len(bits) {
			break
		}
		ch := byte(frame.BitsToUint(bits, pos, 8))
		if ch < 32 || ch >= 127 {
			break
		}
		out = append(out, ch)
	}
	return string(out)
}

func (p *Processor) post(ctx context.Context, u lmr.Update) {
	select {
	case <-ctx.Done():
	case p.updateChan <- u:
	}
}

// EncryptedCalls and ClearCalls report the running call mix.
func (p *Processor) EncryptedCalls() uint64 { return p.encryptedCalls }
func (p *Processor) ClearCalls() uint64     { return p.clearCalls }
