package receiver

import (
	"context"
	"fmt"
	"math"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/norasector/cyclone/pkg/dsp/demodulators/quad"
	"github.com/norasector/cyclone/pkg/dsp/filters/fir"
	"github.com/norasector/cyclone/pkg/dsp/mixer"
	"github.com/norasector/cyclone/pkg/dsp/processor"
	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/norasector/cyclone/pkg/types"
	"github.com/norasector/cyclone/pkg/util"
	"github.com/racerxdl/segdsp/dsp"
)

// VoiceFrequency is one followed traffic channel. The talkgroup tag is
// refreshed on every grant so audio frames carry the right attribution
// when the frequency is reassigned.
type VoiceFrequency struct {
	Frequency int
	Bandwidth int
	SystemID  int
	TalkGroup int
	RadioID   int
	LastSeen  time.Time

	proc *processor.Processor
}

// initNBFM builds the narrowband FM voice chain down to the audio
// output rate.
func (freq *VoiceFrequency) initNBFM(r *Receiver, sys *internalSystem) {
	freq.proc = processor.NewProcessor(fmt.Sprintf("%d-voice-%d", sys.ID, freq.Frequency))

	var dec1, dec2 int

	switch r.opts.SampleRate {
	case 10000000:
		dec1 = 40
		dec2 = 20
	case 8000000:
		dec1 = 20
		dec2 = 32
	default:
		dec1 = 10
		if r.opts.SampleRate > 1000000 {
			dec1 *= r.opts.SampleRate / 1000000
		}
		dec2 = 8
	}

	if1 := float64(r.opts.SampleRate) / float64(dec1)
	if2 := if1 / float64(dec2)

	shiftFreq := freq.Frequency - r.opts.CenterFreq

	bfoFreq := float64(shiftFreq) / if1
	bfoFreq -= math.Floor(bfoFreq)
	if bfoFreq < -0.5 {
		bfoFreq += 1.0
	}
	if bfoFreq > 0.5 {
		bfoFreq -= 1.0
	}

	r.logger.Info().
		Int("system_id", freq.SystemID).
		Int("tgid", freq.TalkGroup).
		Str("frequency", util.MHzToString(freq.Frequency)).
		Str("channel_type", "voice").
		Int("decimation_1", dec1).
		Int("decimation_2", dec2).
		Int("intermediate_freq_1", int(if1)).
		Int("intermediate_freq_2", int(if2)).
		Str("shift_freq", util.MHzToString(shiftFreq)).
		Msg("initializing channel")

	bpfCoeffs := fir.MakeComplexBandPass(1.0,
		float64(r.opts.SampleRate),
		float64(shiftFreq)-if1/2.0,
		float64(shiftFreq)+if1/2.0,
		if1/2,
		fir.Hamming,
	)
	freq.proc.AddBlock(processor.NewDSPWorkerCC(
		"bandpass_decimator",
		r.opts.SampleRate,
		int(if1),
		dsp.MakeDecimationCTFirFilter(dec1, bpfCoeffs),
	))

	freq.proc.AddBlock(processor.NewDSPWorkerCC(
		"bfo_mixer",
		int(if1),
		int(if1),
		mixer.NewWaveformMixer(int(if1), int(if1*bfoFreq)),
	))

	lpfCoeffs := fir.MakeLowPass(1.0, if1, 4000, 2000, fir.Hamming)
	freq.proc.AddBlock(processor.NewDSPWorkerCC(
		"lowpass_decimator",
		int(if1),
		int(if2),
		dsp.MakeDecimationFirFilter(dec2, lpfCoeffs),
	))

	freq.proc.AddBlock(processor.NewDSPWorkerCC(
		"squelch",
		int(if2),
		int(if2),
		dsp.MakeSquelch(float32(sys.SquelchLevel), 0.1),
	))

	deviation := 4000

	freq.proc.AddBlock(processor.NewDSPWorkerCF(
		"quad_demod",
		int(if2),
		int(if2),
		quad.MakeQuadDemod(float32(if2)/(4*math.Pi*float32(deviation))),
	))

	freq.proc.AddBlock(processor.NewDSPWorkerFF(
		"fm_deemphasis",
		int(if2),
		int(if2),
		dsp.MakeFMDeemph(0.000075, float32(if2)),
	))

	freq.proc.AddBlock(processor.NewDSPWorkerFF(
		"first_stage",
		int(if2),
		int(if2),
		dsp.MakeFloatFirFilter(
			fir.MakeLowPass(1.0, if2, 3000, 200, fir.Hamming),
		),
	))

	freq.proc.AddBlock(processor.NewDSPWorkerFF(
		"final_highpass",
		int(if2),
		int(if2),
		dsp.MakeFloatFirFilter(
			fir.MakeHighPass(1.0, if2, 200, 100, fir.Hamming),
		),
	))

	freq.proc.AddBlock(processor.NewDSPWorkerFF(
		"resampler",
		int(if2),
		r.opts.VoiceOutputSampleRate,
		dsp.MakeFloatResampler(127, float32(r.opts.VoiceOutputSampleRate)/float32(if2)),
	))

	freq.proc.AddBlock(processor.NewDSPWorkerFF(
		"final_bandpass",
		r.opts.VoiceOutputSampleRate,
		r.opts.VoiceOutputSampleRate,
		dsp.MakeFloatFirFilter(
			fir.MakeBandPass(1.15, float64(r.opts.VoiceOutputSampleRate), 300, 3400, 100, fir.Hamming),
		),
	))
}

func (r *Receiver) processVoiceChannel(ctx context.Context, buf *types.SegmentComplex64, freq *VoiceFrequency) error {
	start := time.Now()
	metrics := map[string]interface{}{
		"sample_length": len(buf.Data),
		"sample_bytes":  len(buf.Data) * 8,
	}

	defer func() {
		metrics["duration"] = time.Since(start).Microseconds()

		go r.writeAPI.WritePoint(influxdb2.NewPoint("voice.processed",
			map[string]string{
				"frequency":    util.MHzToString(freq.Frequency),
				"sample_type":  "complex64",
				"channel_type": "voice",
			},
			metrics, time.Now()))
	}()

	samples, err := freq.proc.ProcessComplexToFloat(buf, metrics)
	if err != nil {
		return err
	}
	samples.Frequency = freq.Frequency

	if len(samples.Data) == 0 {
		return nil
	}

	r.tracker.HandleAudioFrame(&lmr.AudioFrame{
		SystemID:  freq.SystemID,
		TalkGroup: freq.TalkGroup,
		RadioID:   freq.RadioID,
		Timestamp: time.Now().UTC(),
		PCM:       floatToPCM(samples.Data),
	})

	return nil
}

// floatToPCM converts unit-range float samples to signed 16-bit PCM
// with clamping.
func floatToPCM(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		switch {
		case s > 1.0:
			out[i] = math.MaxInt16
		case s < -1.0:
			out[i] = math.MinInt16
		default:
			out[i] = int16(s * 32767)
		}
	}
	return out
}
