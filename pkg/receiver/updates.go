package receiver

import (
	"fmt"

	"github.com/norasector/cyclone/pkg/lmr"
	dmrdecode "github.com/norasector/cyclone/pkg/lmr/decode/dmr"
	p25decode "github.com/norasector/cyclone/pkg/lmr/decode/p25"
	sndecode "github.com/norasector/cyclone/pkg/lmr/decode/smartnet"
	tetradecode "github.com/norasector/cyclone/pkg/lmr/decode/tetra"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	"github.com/norasector/cyclone/pkg/util"
	"golang.org/x/sync/errgroup"
)

// processPackets spawns one protocol decoder per configured system,
// each consuming its assembler's packet channel and posting updates to
// the shared inbox.
func (r *Receiver) processPackets() error {
	eg, ctx := errgroup.WithContext(r.ctx)

	for _, sys := range r.systemMap {
		var proc frame.Processor

		switch sys.Type {
		case lmr.SystemTypeP25:
			proc = p25decode.NewProcessor(sys.ID, uint16(sys.NAC), uint32(sys.WACN), uint16(sys.SystemID),
				sys.packetChan, r.updateChan, r.writeAPI, r.logger)

		case lmr.SystemTypeDMR:
			proc = dmrdecode.NewProcessor(sys.ID, sys.RestChannel, sys.BaseFrequency, sys.ChannelSpacing,
				sys.packetChan, r.updateChan, r.writeAPI, r.logger)

		case lmr.SystemTypeTETRA:
			proc = tetradecode.NewProcessor(sys.ID, sys.BandBase, sys.ColorCode,
				sys.packetChan, r.updateChan, r.writeAPI, r.logger)

		case lmr.SystemTypeSmartnet, lmr.SystemTypeSmartZone:
			proc = sndecode.NewProcessor(sys.ID, sys.BaseFrequency, sys.ChannelSpacing,
				sys.packetChan, r.updateChan, r.writeAPI, r.logger)

		default:
			return fmt.Errorf("unrecognized system: %s", sys.Type)
		}

		eg.Go(func() error {
			return proc.Start(ctx)
		})
	}

	return eg.Wait()
}

// processUpdates owns the single-consumer inbox every decoder posts to:
// grants feed the call tracker and the voice follower, everything else
// is bookkeeping and fan-out.
func (r *Receiver) processUpdates() error {
	for {
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		case update := <-r.updateChan:
			switch {
			case update.Grant != nil:
				grant := update.Grant
				r.tracker.HandleGrant(*grant)
				if r.hub != nil {
					r.hub.BroadcastGrant(grant)
				}
				r.followVoiceFrequency(grant)

			case update.SystemInfo != nil:
				r.infoMu.Lock()
				r.sysInfo[update.SystemID] = *update.SystemInfo
				r.infoMu.Unlock()
				if r.hub != nil {
					r.hub.BroadcastSystemInfo(update.SystemInfo)
				}

			case update.Text != nil:
				r.logger.Info().
					Int("system_id", update.Text.SystemID).
					Int("source", update.Text.Source).
					Int("destination", update.Text.Destination).
					Str("text", update.Text.Text).
					Msg("text event")
				if r.hub != nil {
					r.hub.BroadcastText(update.Text)
				}

			case update.End != nil:
				r.tracker.EndCall(update.End.TalkGroup)
				if r.hub != nil {
					r.hub.BroadcastCallEnd(update.End)
				}

			case update.ControlFrequency > 0:
				r.appendControlFrequency(update.SystemID, update.ControlFrequency)
			}
		}
	}
}

func (r *Receiver) freqWithinBounds(freq int) bool {
	halfBw := r.opts.SampleRate/2 - 25000 // leave room at either tail
	min := r.opts.CenterFreq - halfBw
	max := r.opts.CenterFreq + halfBw
	return freq >= min && freq <= max
}

// followVoiceFrequency attaches a voice chain to an in-band grant, or
// retags an existing one. Out-of-band grants are recorded in the call
// tracker only; a second tunable receiver is the defined extension
// point for following those.
func (r *Receiver) followVoiceFrequency(grant *lmr.CallGrant) {
	if grant.Frequency == 0 {
		return
	}
	if !r.freqWithinBounds(grant.Frequency) {
		r.logger.Debug().
			Str("frequency", util.MHzToString(grant.Frequency)).
			Int("tgid", grant.TalkGroup).
			Msg("grant outside captured bandwidth; recorded only")
		return
	}

	r.controlMu.RLock()
	_, isControl := r.controlFreqCache[grant.Frequency]
	r.controlMu.RUnlock()
	if isControl {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if vf, ok := r.voiceFreqs[grant.Frequency]; ok {
		vf.TalkGroup = grant.TalkGroup
		vf.RadioID = grant.RadioID
		vf.LastSeen = grant.Timestamp
		return
	}

	sys := r.systemMap[grant.SystemID]
	if sys == nil {
		return
	}

	vf := &VoiceFrequency{
		Frequency: grant.Frequency,
		Bandwidth: sys.VoiceBandwidth,
		SystemID:  grant.SystemID,
		TalkGroup: grant.TalkGroup,
		RadioID:   grant.RadioID,
		LastSeen:  grant.Timestamp,
	}
	vf.initNBFM(r, sys)
	r.voiceFreqs[grant.Frequency] = vf
}

// appendControlFrequency starts monitoring a newly announced control
// channel if it fits inside the captured bandwidth.
func (r *Receiver) appendControlFrequency(systemID, freq int) {
	r.controlMu.Lock()
	defer r.controlMu.Unlock()

	if _, ok := r.controlFreqCache[freq]; ok || !r.freqWithinBounds(freq) {
		return
	}

	sys := r.systemMap[systemID]
	if sys == nil {
		return
	}

	r.logger.Debug().
		Str("frequency", util.MHzToString(freq)).
		Msg("got new control freq")

	ch := NewControlFrequency(r, sys, freq)
	r.controlFreqs = append(r.controlFreqs, ch)
	r.controlFreqCache[freq] = struct{}{}
}
