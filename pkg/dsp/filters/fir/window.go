package fir

import (
	"errors"

	"gonum.org/v1/gonum/dsp/window"
)

type WindowType int

const (
	Hamming WindowType = iota
	Hann
	Blackman
	BlackmanHarris
)

// windowMaxAttenuation is the classic worst-case sidelobe attenuation per
// window, used to size the tap count for a requested transition width.
var windowMaxAttenuation = map[WindowType]int{
	Hamming:        53,
	Hann:           44,
	Blackman:       74,
	BlackmanHarris: 92,
}

var windowFuncs = map[WindowType]func([]float64) []float64{
	Hamming:        window.Hamming,
	Hann:           window.Hann,
	Blackman:       window.Blackman,
	BlackmanHarris: window.BlackmanHarris,
}

// makeWindow returns the window weights themselves by applying the gonum
// window to a unit sequence.
func makeWindow(winType WindowType, ntaps int) []float64 {
	fn, ok := windowFuncs[winType]
	if !ok {
		panic(errors.New("unspecified window type"))
	}
	w := make([]float64, ntaps)
	for i := range w {
		w[i] = 1.0
	}
	return fn(w)
}

func computeNTaps(sampleRate, transitionWidth float64, winType WindowType) int {
	att := windowMaxAttenuation[winType]
	ntaps := int(float64(att) * sampleRate / (22.0 * transitionWidth))
	ntaps |= 1 // always odd

	return ntaps
}
