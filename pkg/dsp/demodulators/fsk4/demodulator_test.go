package fsk4

import (
	"math/rand"
	"testing"

	"github.com/norasector/cyclone/pkg/lmr/slicer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSampleRate = 24000
	testSymbolRate = 4800
	settleSymbols  = 100
)

var levels = [4]float32{-3, -1, 1, 3}

// Ideal waveform in, identical symbol stream out once the timing loop
// settles.
func TestFSK4DemodulatorIdealWaveform(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sps := testSampleRate / testSymbolRate

	syms := make([]byte, 600)
	wave := make([]float32, 0, len(syms)*sps)
	for i := range syms {
		syms[i] = byte(rng.Intn(4))
		for j := 0; j < sps; j++ {
			wave = append(wave, levels[syms[i]])
		}
	}

	demod := NewFSK4Demodulator(testSampleRate, testSymbolRate, false)
	out := demod.Work(wave)
	require.InDelta(t, len(syms), len(out), 2)

	decided := slicer.NewQuaternarySlicer().Work(out)

	errs := 0
	for i := settleSymbols; i < len(decided) && i < len(syms); i++ {
		if decided[i] != syms[i] {
			errs++
		}
	}
	assert.Zero(t, errs, "nonzero BER on ideal waveform")
}

func TestFSK4DemodulatorBinaryMode(t *testing.T) {
	rng := rand.New(rand.NewSource(43))
	sps := testSampleRate / testSymbolRate

	bits := make([]byte, 600)
	wave := make([]float32, 0, len(bits)*sps)
	for i := range bits {
		bits[i] = byte(rng.Intn(2))
		level := float32(-1)
		if bits[i] == 1 {
			level = 1
		}
		for j := 0; j < sps; j++ {
			wave = append(wave, level)
		}
	}

	demod := NewFSK4Demodulator(testSampleRate, testSymbolRate, true)
	out := demod.Work(wave)
	require.InDelta(t, len(bits), len(out), 2)

	errs := 0
	for i := settleSymbols; i < len(out) && i < len(bits); i++ {
		got := byte(0)
		if out[i] >= 0 {
			got = 1
		}
		if got != bits[i] {
			errs++
		}
	}
	assert.Zero(t, errs, "nonzero BER on ideal binary waveform")
}

func TestFSK4DemodulatorReset(t *testing.T) {
	demod := NewFSK4Demodulator(testSampleRate, testSymbolRate, false)
	demod.Work(make([]float32, 500))
	demod.Reset()

	assert.Equal(t, float32(0), demod.symbolClock)
	assert.Equal(t, float32(defaultSymbolSpread), demod.symbolSpread)
}
