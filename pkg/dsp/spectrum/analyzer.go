package spectrum

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
)

// Analyzer accumulates samples from one DSP stage and renders power
// spectra on demand. It satisfies the processor tap interfaces so it can
// be attached to any block output.
type Analyzer struct {
	Name       string
	SampleRate int

	size int
	buf  []complex128
	pos  int
	full bool
	mu   sync.Mutex
}

func NewAnalyzer(name string, size, sampleRate int) *Analyzer {
	return &Analyzer{
		Name:       name,
		SampleRate: sampleRate,
		size:       size,
		buf:        make([]complex128, size),
	}
}

func (a *Analyzer) AppendComplex(data []complex64) {
	a.mu.Lock()
	for _, s := range data {
		a.buf[a.pos] = complex128(s)
		a.pos++
		if a.pos == a.size {
			a.pos = 0
			a.full = true
		}
	}
	a.mu.Unlock()
}

func (a *Analyzer) AppendFloat(data []float32) {
	a.mu.Lock()
	for _, s := range data {
		a.buf[a.pos] = complex(float64(s), 0)
		a.pos++
		if a.pos == a.size {
			a.pos = 0
			a.full = true
		}
	}
	a.mu.Unlock()
}

// Snapshot computes the current power spectrum in dBFS, DC-centered, with
// the matching frequency axis in Hz relative to the stage center.
func (a *Analyzer) Snapshot() (freqs []float64, powerDB []float64) {
	a.mu.Lock()
	if !a.full && a.pos == 0 {
		a.mu.Unlock()
		return nil, nil
	}
	window := make([]complex128, a.size)
	copy(window, a.buf[a.pos:])
	copy(window[a.size-a.pos:], a.buf[:a.pos])
	a.mu.Unlock()

	spec := fft.FFT(window)

	n := len(spec)
	freqs = make([]float64, n)
	powerDB = make([]float64, n)

	binWidth := float64(a.SampleRate) / float64(n)

	for i := 0; i < n; i++ {
		// fftshift: negative frequencies first.
		src := (i + n/2) % n
		mag := cmplx.Abs(spec[src]) / float64(n)
		if mag < 1e-12 {
			mag = 1e-12
		}
		powerDB[i] = 20 * math.Log10(mag)
		freqs[i] = (float64(i) - float64(n)/2) * binWidth
	}

	return freqs, powerDB
}
