package fsk4

import "math"

const (
	kNumTaps  = 8
	kNumSteps = 128

	defaultSymbolSpread = 2.0

	// Loop constants for the tracking demodulator.
	kSymbolSpread    = 0.0100
	kSymbolTiming    = 0.025
	kFineFrequency   = 0.00125
	kCoarseFrequency = 0.00125

	// Symbol spread is allowed to adapt +/- 20% around nominal.
	kSymbolSpreadMax = defaultSymbolSpread * 1.2
	kSymbolSpreadMin = defaultSymbolSpread * 0.8
)

// taps is a bank of fractional-delay interpolators, one row per timing
// step. Row imu interpolates the input at a delay of (kNumTaps/2 - 1) +
// imu/kNumSteps samples using a Hamming-windowed sinc.
var taps [kNumSteps + 1][kNumTaps]float32

func init() {
	center := float64(kNumTaps)/2 - 1

	for imu := 0; imu <= kNumSteps; imu++ {
		mu := float64(imu) / float64(kNumSteps)
		delay := center + mu

		var sum float64
		var row [kNumTaps]float64
		for i := 0; i < kNumTaps; i++ {
			x := float64(i) - delay
			s := 1.0
			if math.Abs(x) > 1e-9 {
				s = math.Sin(math.Pi*x) / (math.Pi * x)
			}
			// Hamming window centered on the delay point.
			w := 0.54 + 0.46*math.Cos(math.Pi*x/(float64(kNumTaps)/2))
			row[i] = s * w
			sum += row[i]
		}

		// Normalize to unity gain so interpolation does not alter levels.
		for i := 0; i < kNumTaps; i++ {
			taps[imu][i] = float32(row[i] / sum)
		}
	}
}
