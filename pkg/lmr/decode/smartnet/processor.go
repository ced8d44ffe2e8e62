package smartnet

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	snframe "github.com/norasector/cyclone/pkg/lmr/frame/smartnet"
	"github.com/norasector/cyclone/pkg/util"
	"github.com/rs/zerolog"
)

const (
	// A command whose top 5 bits are clear is a channel assignment; the
	// low 6 bits select the channel against the band plan.
	channelCommandMask = 0x7C0
	channelNumberMask  = 0x03F

	commandIdle = 0x2F0
)

// Processor decodes SmartNet outbound signaling words against the
// configured band plan: frequency = base + channel * spacing. The OSW
// address field is the talkgroup; SmartNet does not convey a radio ID
// in a channel assignment.
type Processor struct {
	systemID  int
	baseFreq  int
	spacingHz int

	packetChan chan frame.Packet
	updateChan chan lmr.Update
	writeAPI   api.WriteAPI
	logger     zerolog.Logger

	announced bool
}

func NewProcessor(systemID, baseFreq, spacingHz int,
	packetChan chan frame.Packet, updateChan chan lmr.Update,
	writeAPI api.WriteAPI, logger zerolog.Logger) *Processor {
	return &Processor{
		systemID:   systemID,
		baseFreq:   baseFreq,
		spacingHz:  spacingHz,
		packetChan: packetChan,
		updateChan: updateChan,
		writeAPI:   writeAPI,
		logger:     logger,
	}
}

func (p *Processor) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt := <-p.packetChan:
			osw, ok := pkt.Payload.(snframe.OSW)
			if !ok {
				continue
			}
			p.processOSW(ctx, osw, pkt.Timestamp)
		}
	}
}

func (p *Processor) processOSW(ctx context.Context, osw snframe.OSW, ts time.Time) {
	if !p.announced {
		p.announced = true
		p.post(ctx, lmr.Update{
			SystemID: p.systemID,
			SystemInfo: &lmr.SystemInfo{
				SystemID:  p.systemID,
				Type:      lmr.SystemTypeSmartnet,
				Timestamp: ts,
			},
		})
	}

	switch {
	case osw.Command&channelCommandMask == 0:
		channel := int(osw.Command & channelNumberMask)
		freq := p.baseFreq + channel*p.spacingHz
		talkgroup := int(osw.Address)

		p.logger.Debug().
			Str("system", "smartnet").
			Int("tgid", talkgroup).
			Int("channel", channel).
			Str("frequency", util.MHzToString(freq)).
			Msg("group call")

		p.post(ctx, lmr.Update{
			SystemID: p.systemID,
			Grant: &lmr.CallGrant{
				SystemID:  p.systemID,
				TalkGroup: talkgroup,
				Frequency: freq,
				Type:      lmr.CallTypeGroup,
				Priority:  5,
				Timestamp: ts,
			},
		})

		go p.writeAPI.WritePoint(influxdb2.NewPoint("smartnet.grant",
			map[string]string{"system": "smartnet"},
			map[string]interface{}{"tgid": talkgroup, "frequency": freq}, time.Now()))

	case osw.Command == commandIdle:

	default:
		p.logger.Debug().
			Str("system", "smartnet").
			Int("command", int(osw.Command)).
			Int("address", int(osw.Address)).
			Int("group", int(osw.Group)).
			Msg("unhandled OSW")
	}
}

func (p *Processor) post(ctx context.Context, u lmr.Update) {
	select {
	case <-ctx.Done():
	case p.updateChan <- u:
	}
}
