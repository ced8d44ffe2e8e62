package receiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/cyclone/pkg/audio"
	"github.com/norasector/cyclone/pkg/calls"
	"github.com/norasector/cyclone/pkg/dsp/spectrum"
	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	"github.com/norasector/cyclone/pkg/receiver/device"
	"github.com/norasector/cyclone/pkg/server"
	"github.com/norasector/cyclone/pkg/types"
	"github.com/norasector/cyclone/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFrequencyTimeout = time.Minute
	statusInterval          = 10 * time.Second
)

// Receiver wires the pipeline together: one wideband device feeding
// per-control-channel DSP chains, protocol decoders posting to a single
// update inbox, the call tracker, and an in-band voice follower that
// spawns a voice chain when a grant lands inside the captured bandwidth.
type Receiver struct {
	device   device.Device
	opts     Options
	writeAPI api.WriteAPI

	rawSampleChan chan *types.SegmentComplex64
	updateChan    chan lmr.Update

	tracker  *calls.Tracker
	router   *audio.Router
	spectrum *spectrum.Server
	hub      *server.Hub

	systemMap        map[int]*internalSystem
	controlFreqs     []*ControlFrequency
	voiceFreqs       map[int]*VoiceFrequency
	controlFreqCache map[int]struct{}
	sysInfo          map[int]lmr.SystemInfo

	logger zerolog.Logger

	mu        sync.RWMutex
	controlMu sync.RWMutex
	infoMu    sync.Mutex
	cancel    context.CancelFunc
	ctx       context.Context
}

type ReceiverOption func(r *Receiver) error

func WithInfluxDB(writeAPI api.WriteAPI) ReceiverOption {
	return func(r *Receiver) error {
		r.writeAPI = writeAPI
		return nil
	}
}

func WithSpectrumServer(srv *spectrum.Server) ReceiverOption {
	return func(r *Receiver) error {
		r.spectrum = srv
		return nil
	}
}

func WithWebsocketHub(hub *server.Hub) ReceiverOption {
	return func(r *Receiver) error {
		r.hub = hub
		return nil
	}
}

// WithAudioRouter attaches the playback queue for status reporting; the
// router's worker is driven by the caller.
func WithAudioRouter(router *audio.Router) ReceiverOption {
	return func(r *Receiver) error {
		r.router = router
		return nil
	}
}

func WithLogger(logger zerolog.Logger) ReceiverOption {
	return func(r *Receiver) error {
		r.logger = logger
		return nil
	}
}

func NewReceiver(dev device.Device, tracker *calls.Tracker, options Options, opts ...ReceiverOption) (*Receiver, error) {
	r := &Receiver{
		device:           dev,
		opts:             options,
		tracker:          tracker,
		rawSampleChan:    make(chan *types.SegmentComplex64, 1),
		updateChan:       make(chan lmr.Update, 32),
		writeAPI:         &util.MockWriteAPI{}, // overwritten with option
		systemMap:        make(map[int]*internalSystem),
		voiceFreqs:       make(map[int]*VoiceFrequency),
		controlFreqCache: make(map[int]struct{}),
		sysInfo:          make(map[int]lmr.SystemInfo),
		logger:           log.Logger,
	}

	if r.opts.FrequencyTimeout == 0 {
		r.opts.FrequencyTimeout = defaultFrequencyTimeout
	}

	for _, sys := range options.Systems {
		if !sys.Type.Decodable() {
			return nil, fmt.Errorf("no decoder for system type %s (system %d)", sys.Type, sys.ID)
		}
		r.systemMap[sys.ID] = &internalSystem{System: sys}
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	if r.opts.CenterFreq == 0 || r.opts.SampleRate == 0 || r.opts.VoiceOutputSampleRate == 0 {
		return nil, fmt.Errorf("must specify center freq, sample rate, and output rate")
	}

	return r, nil
}

func (r *Receiver) Stop() error {
	r.cancel()
	if r.spectrum != nil {
		r.spectrum.Stop(context.TODO())
	}
	return r.device.Stop()
}

func (r *Receiver) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	r.ctx, r.cancel = context.WithCancel(ctx)

	if r.opts.SampleRate > r.device.MaxSampleRate() {
		return fmt.Errorf("error: sample rate %d > device max sample rate %d", r.opts.SampleRate, r.device.MaxSampleRate())
	}

	for _, sys := range r.systemMap {
		sys.packetChan = make(chan frame.Packet, 32)
		for _, freq := range sys.ControlFrequencies {
			ch := NewControlFrequency(r, sys, freq)
			r.controlFreqs = append(r.controlFreqs, ch)
			r.controlFreqCache[ch.Frequency] = struct{}{}
		}
	}

	eg.Go(func() error {
		return r.device.Start(r.ctx,
			r.opts.CenterFreq,
			r.opts.SampleRate,
			r.rawSampleChan)
	})

	if r.spectrum != nil {
		r.spectrum.SetStatusFunc(func() interface{} { return r.Status() })
		eg.Go(func() error {
			return r.spectrum.Run(r.ctx)
		})
	}
	if r.hub != nil {
		eg.Go(func() error {
			return r.hub.Run(r.ctx)
		})
	}

	eg.Go(r.processPackets)
	eg.Go(r.processUpdates)
	eg.Go(func() error {
		return r.tracker.Run(r.ctx)
	})
	eg.Go(r.processRawSamples)
	eg.Go(r.statusLoop)

	r.logger.Info().
		Str("center_freq", util.MHzToString(r.opts.CenterFreq)).
		Str("sample_rate", util.MHzToString(r.opts.SampleRate)).
		Int("systems", len(r.systemMap)).
		Msg("starting")

	return eg.Wait()
}

func (r *Receiver) processRawSamples() error {
	segNum := 0
	for {
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		case buf := <-r.rawSampleChan:
			segNum++
			buf.SegmentNumber = segNum

			eg, ctx := errgroup.WithContext(r.ctx)

			r.controlMu.RLock()
			for _, freq := range r.controlFreqs {
				thisFreq := freq
				eg.Go(func() error {
					return r.processControlChannel(ctx, buf, thisFreq)
				})
			}
			r.controlMu.RUnlock()

			r.mu.RLock()
			for _, freq := range r.voiceFreqs {
				thisFreq := freq
				eg.Go(func() error {
					return r.processVoiceChannel(ctx, buf, thisFreq)
				})
			}
			r.mu.RUnlock()

			if err := eg.Wait(); err != nil {
				return err
			}
		}
	}
}

// ChannelStatus is the per-chain slice of the status document.
type ChannelStatus struct {
	SystemID          int     `json:"system_id"`
	SystemType        string  `json:"system_type"`
	Frequency         int     `json:"frequency"`
	ChannelType       string  `json:"channel_type"`
	Locked            bool    `json:"locked"`
	Quality           float32 `json:"quality"`
	FramesOK          uint64  `json:"frames_ok"`
	CRCErrors         uint64  `json:"crc_errors"`
	SyncLosses        uint64  `json:"sync_losses"`
	ColorCodeMismatch uint64  `json:"color_code_mismatches"`
}

// Status is the receiver health document: one line of it is logged
// every ten seconds and the full document is served over HTTP and the
// websocket hub.
type Status struct {
	ActiveCalls     int             `json:"active_calls"`
	TotalCalls      uint64          `json:"total_calls"`
	DroppedSamples  uint64          `json:"dropped_samples"`
	AudioQueueDepth int             `json:"audio_queue_depth"`
	AudioDropped    uint64          `json:"audio_dropped"`
	PlaybackHealthy bool            `json:"playback_healthy"`
	Channels        []ChannelStatus `json:"channels"`
}

func (r *Receiver) Status() Status {
	st := Status{
		ActiveCalls:     r.tracker.ActiveCount(),
		TotalCalls:      r.tracker.TotalCalls(),
		DroppedSamples:  r.device.DroppedSamples(),
		PlaybackHealthy: true,
	}
	if r.router != nil {
		st.AudioQueueDepth = r.router.Depth()
		st.AudioDropped = r.router.Dropped()
		st.PlaybackHealthy = r.router.Healthy()
	}

	r.controlMu.RLock()
	for _, freq := range r.controlFreqs {
		stats := freq.stats()
		st.Channels = append(st.Channels, ChannelStatus{
			SystemID:          freq.SystemID,
			SystemType:        string(freq.SystemType),
			Frequency:         freq.Frequency,
			ChannelType:       "control",
			Locked:            freq.locked(),
			Quality:           freq.quality(),
			FramesOK:          stats.FramesOK,
			CRCErrors:         stats.CRCErrors,
			SyncLosses:        stats.SyncLosses,
			ColorCodeMismatch: stats.ColorCodeMismatch,
		})
	}
	r.controlMu.RUnlock()

	return st
}

func (r *Receiver) statusLoop() error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		case <-ticker.C:
			st := r.Status()

			locked := 0
			var quality float32
			for _, ch := range st.Channels {
				if ch.Locked {
					locked++
				}
				if ch.Quality > quality {
					quality = ch.Quality
				}
			}

			r.logger.Info().
				Int("active_calls", st.ActiveCalls).
				Uint64("total_calls", st.TotalCalls).
				Int("channels_locked", locked).
				Int("channels", len(st.Channels)).
				Float32("quality", quality).
				Uint64("dropped_samples", st.DroppedSamples).
				Bool("playback_healthy", st.PlaybackHealthy).
				Msg("status")

			if r.hub != nil {
				r.hub.BroadcastStatus(st)
			}

			r.reapStaleVoiceFrequencies()
		}
	}
}

// reapStaleVoiceFrequencies drops voice chains that have not seen a
// grant within the frequency timeout.
func (r *Receiver) reapStaleVoiceFrequencies() {
	r.mu.Lock()
	for f, vf := range r.voiceFreqs {
		if time.Since(vf.LastSeen) > r.opts.FrequencyTimeout {
			delete(r.voiceFreqs, f)
			r.logger.Debug().
				Str("frequency", util.MHzToString(f)).
				Msg("reaped stale voice frequency")
		}
	}
	r.mu.Unlock()
}
