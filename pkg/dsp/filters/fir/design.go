package fir

import (
	"math"
)

// MakeLowPass designs a windowed-sinc low-pass filter with unity (times
// gain) response at DC.
func MakeLowPass(gain, sampleRate, cutFrequency, transitionWidth float64, winType WindowType) []float32 {
	ntaps := computeNTaps(sampleRate, transitionWidth, winType)
	return MakeLowPassFixed(gain, sampleRate, cutFrequency, ntaps, winType)
}

// MakeLowPassFixed is MakeLowPass with an explicit tap count, for stages
// where the filter length is part of the design (e.g. the 51-tap baseband
// filter ahead of the discriminator).
func MakeLowPassFixed(gain, sampleRate, cutFrequency float64, ntaps int, winType WindowType) []float32 {
	ntaps |= 1
	taps := make([]float32, ntaps)
	w := makeWindow(winType, ntaps)

	M := (ntaps - 1) / 2
	fwT0 := 2 * math.Pi * cutFrequency / sampleRate

	for i := -M; i <= M; i++ {
		if i == 0 {
			taps[i+M] = float32(fwT0 / math.Pi * w[i+M])
		} else {
			fi := float64(i)
			taps[i+M] = float32(math.Sin(fi*fwT0) / (fi * math.Pi) * w[i+M])
		}
	}

	fmax := float64(taps[M])
	for i := 1; i <= M; i++ {
		fmax += 2 * float64(taps[i+M])
	}

	gain /= fmax

	for i := 0; i < ntaps; i++ {
		taps[i] = float32(float64(taps[i]) * gain)
	}

	return taps
}

// MakeHighPass designs a windowed-sinc high-pass filter with unity (times
// gain) response at the Nyquist frequency.
func MakeHighPass(gain, sampleRate, cutFrequency, transitionWidth float64, winType WindowType) []float32 {
	ntaps := computeNTaps(sampleRate, transitionWidth, winType)
	taps := make([]float32, ntaps)
	w := makeWindow(winType, ntaps)

	M := (ntaps - 1) / 2
	fwT0 := 2 * math.Pi * cutFrequency / sampleRate

	for i := -M; i <= M; i++ {
		if i == 0 {
			taps[i+M] = float32((1.0 - fwT0/math.Pi) * w[i+M])
		} else {
			fi := float64(i)
			taps[i+M] = float32(-math.Sin(fi*fwT0) / (fi * math.Pi) * w[i+M])
		}
	}

	// Normalize response at Nyquist; alternate signs sample the filter at fs/2.
	fmax := float64(taps[M])
	sign := -1.0
	for i := 1; i <= M; i++ {
		fmax += 2 * sign * float64(taps[i+M])
		sign = -sign
	}

	gain /= fmax

	for i := 0; i < ntaps; i++ {
		taps[i] = float32(float64(taps[i]) * gain)
	}

	return taps
}

// MakeBandPass designs a real band-pass filter as the difference of two
// low-pass prototypes.
func MakeBandPass(gain, sampleRate, lowCutoff, highCutoff, transitionWidth float64, winType WindowType) []float32 {
	ntaps := computeNTaps(sampleRate, transitionWidth, winType)
	taps := make([]float32, ntaps)
	w := makeWindow(winType, ntaps)

	M := (ntaps - 1) / 2
	fwT0 := 2 * math.Pi * lowCutoff / sampleRate
	fwT1 := 2 * math.Pi * highCutoff / sampleRate

	for i := -M; i <= M; i++ {
		if i == 0 {
			taps[i+M] = float32((fwT1 - fwT0) / math.Pi * w[i+M])
		} else {
			fi := float64(i)
			taps[i+M] = float32((math.Sin(fi*fwT1) - math.Sin(fi*fwT0)) / (fi * math.Pi) * w[i+M])
		}
	}

	// Normalize at the center of the passband.
	fc := (fwT0 + fwT1) / 2
	fmax := 0.0
	for i := -M; i <= M; i++ {
		fmax += float64(taps[i+M]) * math.Cos(float64(i)*fc)
	}

	gain /= fmax

	for i := 0; i < ntaps; i++ {
		taps[i] = float32(float64(taps[i]) * gain)
	}

	return taps
}

// MakeComplexBandPass designs a complex band-pass filter by modulating a
// low-pass prototype up to the band center. Used to pull a single channel
// out of the wideband capture before decimation.
func MakeComplexBandPass(gain, sampleRate, lowCutoff, highCutoff, transitionWidth float64, winType WindowType) []complex64 {
	proto := MakeLowPass(gain, sampleRate, (highCutoff-lowCutoff)/2, transitionWidth, winType)
	taps := make([]complex64, len(proto))

	center := (lowCutoff + highCutoff) / 2
	phaseInc := 2 * math.Pi * center / sampleRate
	M := (len(proto) - 1) / 2

	for i := range proto {
		phase := phaseInc * float64(i-M)
		s, c := math.Sincos(phase)
		taps[i] = complex(proto[i]*float32(c), proto[i]*float32(s))
	}

	return taps
}
