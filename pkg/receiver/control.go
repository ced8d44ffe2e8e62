package receiver

import (
	"context"
	"fmt"
	"math"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/norasector/cyclone/pkg/dsp/agc/rmsagc"
	"github.com/norasector/cyclone/pkg/dsp/demodulators/dqpsk"
	"github.com/norasector/cyclone/pkg/dsp/demodulators/fsk4"
	"github.com/norasector/cyclone/pkg/dsp/demodulators/quad"
	"github.com/norasector/cyclone/pkg/dsp/filters/fir"
	"github.com/norasector/cyclone/pkg/dsp/mixer"
	"github.com/norasector/cyclone/pkg/dsp/processor"
	"github.com/norasector/cyclone/pkg/dsp/spectrum"
	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	dmrframe "github.com/norasector/cyclone/pkg/lmr/frame/dmr"
	p25frame "github.com/norasector/cyclone/pkg/lmr/frame/p25"
	snframe "github.com/norasector/cyclone/pkg/lmr/frame/smartnet"
	tetraframe "github.com/norasector/cyclone/pkg/lmr/frame/tetra"
	"github.com/norasector/cyclone/pkg/lmr/slicer"
	"github.com/norasector/cyclone/pkg/types"
	"github.com/norasector/cyclone/pkg/util"
	"github.com/racerxdl/segdsp/dsp"
)

// Intermediate rates for the symbol chains. The 4-level and binary FSK
// paths process at 5 samples per symbol; the DQPSK path at 4.
const (
	ifRateFSK4  = 24000 // 4800 baud * 5
	ifRateBFSK  = 18000 // 3600 baud * 5
	ifRateDQPSK = 72000 // 18000 baud * 4
)

// ControlFrequency is one monitored control channel: the DSP chain from
// the wideband capture down to sliced symbols, plus the frame assembler
// consuming them.
type ControlFrequency struct {
	SystemID   int
	SystemType lmr.SystemType
	Frequency  int
	SymbolRate int

	initialized bool
	sampleNum   int

	proc      *processor.Processor
	assembler frame.Assembler

	// Quality hooks, filled per modulation family.
	quality func() float32
	locked  func() bool
	stats   func() frame.Stats
}

func NewControlFrequency(r *Receiver, sys *internalSystem, freq int) *ControlFrequency {
	f := &ControlFrequency{
		SystemID:   sys.ID,
		SymbolRate: sys.SymbolRate,
		Frequency:  freq,
		SystemType: sys.Type,
	}

	f.init(r, sys)

	return f
}

func (freq *ControlFrequency) init(r *Receiver, sys *internalSystem) {
	if freq.initialized {
		return
	}

	switch freq.SystemType {
	case lmr.SystemTypeP25:
		freq.initFSK4(r, sys)
		asm := p25frame.NewAssembler(r.ctx, sys.ID, sys.packetChan, r.logger)
		freq.assembler = asm
		freq.locked = asm.Locked
		freq.stats = asm.Stats

	case lmr.SystemTypeDMR:
		freq.initFSK4(r, sys)
		asm := dmrframe.NewAssembler(r.ctx, sys.ID, sys.ColorCode, sys.packetChan, r.logger)
		freq.assembler = asm
		freq.locked = asm.Locked
		freq.stats = asm.Stats

	case lmr.SystemTypeSmartnet, lmr.SystemTypeSmartZone:
		freq.initBFSK(r, sys)
		asm := snframe.NewAssembler(r.ctx, sys.ID, sys.packetChan, r.logger)
		freq.assembler = asm
		freq.locked = func() bool { return asm.Stats().FramesOK > 0 }
		freq.stats = asm.Stats

	case lmr.SystemTypeTETRA:
		freq.initDQPSK(r, sys)
		asm := tetraframe.NewAssembler(r.ctx, sys.ID, sys.packetChan, r.logger)
		freq.assembler = asm
		freq.locked = func() bool { return asm.State() == tetraframe.StateLocked }
		freq.stats = asm.Stats

	default:
		panic(fmt.Errorf("unknown system type %s", freq.SystemType))
	}

	freq.initialized = true
}

func (r *Receiver) processControlChannel(ctx context.Context, buf *types.SegmentComplex64, freq *ControlFrequency) error {
	start := time.Now()
	metrics := map[string]interface{}{
		"sample_length": len(buf.Data),
		"sample_bytes":  len(buf.Data) * 8,
	}

	defer func() {
		metrics["duration"] = time.Since(start).Microseconds()

		go r.writeAPI.WritePoint(influxdb2.NewPoint("control.processed",
			map[string]string{
				"frequency":    util.MHzToString(freq.Frequency),
				"sample_type":  "complex64",
				"channel_type": "control",
			},
			metrics, start))
	}()

	sliced, err := freq.proc.ProcessComplexToBinary(buf, metrics)
	if err != nil {
		return err
	}

	metrics["assembler_duration"] = util.TimeOperationMicroseconds(func() {
		freq.assembler.Receive(sliced.Data)
	})

	freq.sampleNum++

	return nil
}

// frontEnd appends the shared channelization blocks: bandpass
// decimation to if1, BFO shift to baseband, lowpass decimation to if2.
// Returns if1 and if2.
func (freq *ControlFrequency) frontEnd(r *Receiver, dec1, dec2 int, channelHalfWidth float64) (float64, float64) {
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
		Str("system_type", string(freq.SystemType)).
		Str("frequency", util.MHzToString(freq.Frequency)).
		Str("channel_type", "control").
		Int("decimation_1", dec1).
		Int("decimation_2", dec2).
		Int("intermediate_freq_1", int(if1)).
		Int("intermediate_freq_2", int(if2)).
		Str("shift_freq", util.MHzToString(shiftFreq)).
		Str("bfo_freq", util.MHzToString(int(if1*bfoFreq))).
		Msg("initializing channel")

	bpfCoeffs := fir.MakeComplexBandPass(1.0,
		float64(r.opts.SampleRate),
		float64(shiftFreq)-if1/2.0,
		float64(shiftFreq)+if1/2.0,
		if1/2,
		fir.Hamming,
	)

	var bpOpts []processor.DSPWorkerOption
	if r.spectrum != nil {
		a := spectrum.NewAnalyzer(fmt.Sprintf("%d-control-%d", freq.SystemID, freq.Frequency), 1024, int(if1))
		r.spectrum.Register("control", a)
		bpOpts = append(bpOpts, processor.WithComplexTap(a))
	}

	freq.proc.AddBlock(processor.NewDSPWorkerCC(
		"bandpass_decimator",
		r.opts.SampleRate,
		int(if1),
		dsp.MakeDecimationCTFirFilter(dec1, bpfCoeffs),
		bpOpts...,
	))

	// Beat frequency oscillator shifts the channel down to baseband.
	freq.proc.AddBlock(processor.NewDSPWorkerCC(
		"bfo_mixer",
		int(if1),
		int(if1),
		mixer.NewWaveformMixer(int(if1), int(if1*bfoFreq)),
	))

	fa := channelHalfWidth
	fb := if2 / 2

	lpfCoeffs := fir.MakeLowPass(1.0, if1, (fb+fa)/2, fb-fa, fir.Hamming)
	freq.proc.AddBlock(processor.NewDSPWorkerCC(
		"lowpass_decimator",
		int(if1),
		int(if2),
		dsp.MakeDecimationFirFilter(dec2, lpfCoeffs),
	))

	return if1, if2
}

// decimations picks the two decimation stages for the configured
// capture rate, mirroring the supported hardware rates.
func (r *Receiver) decimations() (int, int) {
	switch r.opts.SampleRate {
	case 10000000:
		return 25, 16
	case 8000000:
		return 20, 16
	default:
		dec1 := 10
		if r.opts.SampleRate > 1000000 {
			dec1 *= r.opts.SampleRate / 1000000
		}
		return dec1, 4
	}
}

// initFSK4 builds the C4FM / 4-level FSK chain shared by P25 and DMR:
// FM discriminator, RMS AGC, RRC symbol filter, tracking FSK4
// demodulator and the adaptive quaternary slicer.
func (freq *ControlFrequency) initFSK4(r *Receiver, sys *internalSystem) {
	freq.proc = processor.NewProcessor(fmt.Sprintf("%d-control-%d", sys.ID, freq.Frequency))

	dec1, dec2 := r.decimations()
	_, if2 := freq.frontEnd(r, dec1, dec2, 6250)

	ifRate := ifRateFSK4

	freq.proc.AddBlock(processor.NewDSPWorkerCC(
		"resampler",
		int(if2),
		ifRate,
		dsp.MakeRationalResampler(ifRate/1000, int(if2)/1000),
	))

	fa := float64(6250)
	fb := fa + 625

	cutoffLpfCoeffs := fir.MakeLowPass(1.0,
		float64(ifRate),
		(fb+fa)/2,
		fb-fa,
		fir.Hann)

	freq.proc.AddBlock(processor.NewDSPWorkerCC(
		"cutoff",
		ifRate,
		ifRate,
		dsp.MakeFirFilter(cutoffLpfCoeffs),
	))

	freq.proc.AddBlock(processor.NewDSPWorkerCF(
		"quad_demod",
		ifRate,
		ifRate,
		quad.MakeQuadDemod(
			float32(ifRate)/(2*math.Pi*float32(freq.SymbolRate)),
		)))

	freq.proc.AddBlock(processor.NewDSPWorkerFF(
		"baseband_amp",
		ifRate,
		ifRate,
		rmsagc.NewRMSAGC(0.01, 0.61)))

	sps := ifRate / freq.SymbolRate
	ntaps := (7 * sps) | 1
	symbolFilterTaps := dsp.MakeRRC(1.0, float64(ifRate), float64(freq.SymbolRate), 0.35, ntaps)

	freq.proc.AddBlock(processor.NewDSPWorkerFF(
		"symbol_filter",
		ifRate,
		ifRate,
		dsp.MakeFloatFirFilter(symbolFilterTaps)))

	freq.proc.AddBlock(processor.NewDSPWorkerFF(
		"fsk4_demodulator",
		ifRate,
		freq.SymbolRate,
		fsk4.NewFSK4Demodulator(ifRate, freq.SymbolRate, false),
	))

	quaternary := slicer.NewQuaternarySlicer()
	freq.quality = quaternary.EyeOpening

	freq.proc.AddBlock(processor.NewDSPWorkerFB(
		"quaternary_slicer",
		freq.SymbolRate,
		freq.SymbolRate,
		quaternary))
}

// initBFSK builds the binary FSK chain for the SmartNet control channel.
func (freq *ControlFrequency) initBFSK(r *Receiver, sys *internalSystem) {
	freq.proc = processor.NewProcessor(fmt.Sprintf("%d-control-%d", sys.ID, freq.Frequency))

	dec1, dec2 := r.decimations()
	_, if2 := freq.frontEnd(r, dec1, dec2, 6250)

	ifRate := ifRateBFSK

	freq.proc.AddBlock(processor.NewDSPWorkerCC(
		"resampler",
		int(if2),
		ifRate,
		dsp.MakeRationalResampler(ifRate/1000, int(if2)/1000),
	))

	fa := float64(6250)
	fb := fa + 625

	cutoffLpfCoeffs := fir.MakeLowPass(1.0,
		float64(ifRate),
		(fb+fa)/2,
		fb-fa,
		fir.Hann)

	freq.proc.AddBlock(processor.NewDSPWorkerCC(
		"cutoff",
		ifRate,
		ifRate,
		dsp.MakeFirFilter(cutoffLpfCoeffs),
	))

	freq.proc.AddBlock(processor.NewDSPWorkerCF(
		"quad_demod",
		ifRate,
		ifRate,
		quad.MakeQuadDemod(
			float32(ifRate)/(2*math.Pi*float32(freq.SymbolRate)),
		)))

	freq.proc.AddBlock(processor.NewDSPWorkerFF(
		"baseband_amp",
		ifRate,
		ifRate,
		rmsagc.NewRMSAGC(0.01, 0.61)))

	sps := ifRate / freq.SymbolRate
	ntaps := (7 * sps) | 1
	symbolFilterTaps := dsp.MakeRRC(1.0, float64(ifRate), float64(freq.SymbolRate), 0.35, ntaps)

	freq.proc.AddBlock(processor.NewDSPWorkerFF(
		"symbol_filter",
		ifRate,
		ifRate,
		dsp.MakeFloatFirFilter(symbolFilterTaps)))

	demod := fsk4.NewFSK4Demodulator(ifRate, freq.SymbolRate, true)
	freq.quality = func() float32 { return 0 }

	freq.proc.AddBlock(processor.NewDSPWorkerFF(
		"fsk_demodulator",
		ifRate,
		freq.SymbolRate,
		demod,
	))

	freq.proc.AddBlock(processor.NewDSPWorkerFB(
		"binary_slicer",
		freq.SymbolRate,
		freq.SymbolRate,
		slicer.NewBinarySlicer(true)))
}

// initDQPSK builds the pi/4-DQPSK chain for TETRA: complex RRC matched
// filter, Costas carrier recovery and Gardner timing inside the
// demodulator, then a pass-through slicer to dibit bytes.
func (freq *ControlFrequency) initDQPSK(r *Receiver, sys *internalSystem) {
	freq.proc = processor.NewProcessor(fmt.Sprintf("%d-control-%d", sys.ID, freq.Frequency))

	// TETRA carriers are 25 kHz wide; stop at a higher if2 so the
	// resampler reaches 4 samples per symbol at 18 kbaud.
	dec1, _ := r.decimations()
	dec2 := 2
	_, if2 := freq.frontEnd(r, dec1, dec2, 12500)

	ifRate := ifRateDQPSK

	freq.proc.AddBlock(processor.NewDSPWorkerCC(
		"resampler",
		int(if2),
		ifRate,
		dsp.MakeRationalResampler(ifRate/1000, int(if2)/1000),
	))

	sps := ifRate / freq.SymbolRate
	ntaps := (8 * sps) | 1
	matchedTaps := dsp.MakeRRC(1.0, float64(ifRate), float64(freq.SymbolRate), 0.35, ntaps)

	freq.proc.AddBlock(processor.NewDSPWorkerCC(
		"matched_filter",
		ifRate,
		ifRate,
		dsp.MakeFirFilter(matchedTaps),
	))

	demod := dqpsk.NewDemodulator(ifRate, freq.SymbolRate, 0.01)
	freq.quality = func() float32 { return float32(demod.EVM()) }

	freq.proc.AddBlock(processor.NewDSPWorkerCF(
		"dqpsk_demodulator",
		ifRate,
		freq.SymbolRate,
		demod,
	))

	freq.proc.AddBlock(processor.NewDSPWorkerFB(
		"dibit_slicer",
		freq.SymbolRate,
		freq.SymbolRate,
		slicer.NewRoundingSlicer()))
}
