package fsk4

import (
	"math"
)

// FSK4Demodulator recovers symbols from a filtered FM discriminator
// stream. It tracks symbol timing with an MMSE fractional interpolator and
// adapts to deviation (symbol spread) and frequency offset. In bfsk mode
// it decides between two levels instead of four.
type FSK4Demodulator struct {
	sampleRate int
	symbolRate int

	history     [kNumTaps]float32
	historyLast int

	symbolClock  float32
	symbolSpread float32
	symbolTime   float32

	fineFreqCorrection   float32
	coarseFreqCorrection float32

	bfsk bool
}

func NewFSK4Demodulator(sampleRate, symbolRate int, bfsk bool) *FSK4Demodulator {
	return &FSK4Demodulator{
		sampleRate:   sampleRate,
		symbolRate:   symbolRate,
		symbolClock:  0.0,
		symbolSpread: defaultSymbolSpread,
		symbolTime:   float32(symbolRate) / float32(sampleRate),
		bfsk:         bfsk,
	}
}

// trackingLoopMMSE consumes one input sample; returns true when a symbol
// was produced in *output. Output is normalized so the four nominal levels
// sit at -3, -1, +1, +3 (or -1/+1 in bfsk mode times spread).
func (f *FSK4Demodulator) trackingLoopMMSE(input float32, output *float32) bool {
	f.symbolClock += f.symbolTime
	f.history[f.historyLast] = input
	f.historyLast++
	f.historyLast %= kNumTaps

	if f.symbolClock <= 1.0 {
		return false
	}

	f.symbolClock -= 1.0

	// MMSE interpolation at the current fractional timing offset, plus one
	// step ahead for the timing error direction.
	imu := int(math.Floor(float64(0.5 + (float32(kNumSteps) * (f.symbolClock / f.symbolTime)))))
	imuP1 := imu + 1

	if imu >= kNumSteps {
		imu = kNumSteps - 1
		imuP1 = kNumSteps
	}

	j := f.historyLast
	var interp float32
	var interpP1 float32
	for i := 0; i < kNumTaps; i++ {
		interp += taps[imu][i] * f.history[j]
		interpP1 += taps[imuP1][i] * f.history[j]
		j = (j + 1) % kNumTaps
	}

	interp -= f.fineFreqCorrection
	interpP1 -= f.fineFreqCorrection

	*output = 2.0 * interp / f.symbolSpread

	// Hard decision against the nominal level positions, then use the
	// residual as the error signal for spread, timing and frequency.
	var symbolError float32

	if f.bfsk {
		if interp < 0.0 {
			symbolError = interp + (0.5 * f.symbolSpread)
			f.symbolSpread -= (symbolError * kSymbolSpread)
		} else {
			symbolError = interp - (0.5 * f.symbolSpread)
			f.symbolSpread += (symbolError * kSymbolSpread)
		}
	} else {
		switch {
		case interp < -f.symbolSpread:
			symbolError = interp + (1.5 * f.symbolSpread)
			f.symbolSpread -= (symbolError * 0.5 * kSymbolSpread)
		case interp < 0.0:
			symbolError = interp + (0.5 * f.symbolSpread)
			f.symbolSpread -= (symbolError * kSymbolSpread)
		case interp < f.symbolSpread:
			symbolError = interp - (0.5 * f.symbolSpread)
			f.symbolSpread += (symbolError * kSymbolSpread)
		default:
			symbolError = interp - (1.5 * f.symbolSpread)
			f.symbolSpread += (symbolError * 0.5 * kSymbolSpread)
		}
	}

	if interpP1 < interp {
		f.symbolClock += (symbolError * kSymbolTiming)
	} else {
		f.symbolClock -= (symbolError * kSymbolTiming)
	}

	f.symbolSpread = float32(math.Max(float64(f.symbolSpread), kSymbolSpreadMin))
	f.symbolSpread = float32(math.Min(float64(f.symbolSpread), kSymbolSpreadMax))

	f.coarseFreqCorrection += ((f.fineFreqCorrection - f.coarseFreqCorrection) * kCoarseFrequency)
	f.fineFreqCorrection += (symbolError * kFineFrequency)

	return true
}

func (f *FSK4Demodulator) WorkBuffer(inputItems, outputItems []float32) int {
	n := 0
	for i := 0; i < len(inputItems); i++ {
		if f.trackingLoopMMSE(inputItems[i], &outputItems[n]) {
			n++
		}
	}

	return n
}

func (f *FSK4Demodulator) Work(inputItems []float32) []float32 {
	outputItems := make([]float32, len(inputItems))
	length := f.WorkBuffer(inputItems, outputItems)
	return outputItems[:length]
}

func (f *FSK4Demodulator) Reset() {
	f.coarseFreqCorrection = 0.0
	f.fineFreqCorrection = 0.0
	f.symbolClock = 0.0
	f.symbolSpread = defaultSymbolSpread
}

func (f *FSK4Demodulator) PredictOutputSize(inputSize int) int {
	// At most one symbol per input sample.
	return inputSize
}
