package dqpsk

import (
	"math"
	"math/cmplx"
)

const (
	pi    = math.Pi
	twoPi = 2 * math.Pi
)

// Demodulator recovers pi/4-DQPSK dibits from matched-filtered complex
// baseband. Carrier recovery is a second-order Costas loop with a
// four-quadrant error detector; symbol timing is a Gardner loop. The
// alternating pi/4 constellation rotation is removed with an eighth-rate
// derotator before quadrant demapping, and information is taken from the
// quadrant difference between consecutive symbols.
//
// Output is one float per symbol holding the dibit value (0..3, MSB-first
// within the pair).
type Demodulator struct {
	sampleRate int
	symbolRate int
	sps        int

	carrierPhase float64
	carrierFreq  float64
	carrierAlpha float64
	carrierBeta  float64

	timingPhase float64
	timingFreq  float64
	timingAlpha float64
	timingBeta  float64

	sampleCount int
	midSample   complex64
	prevStrobe  complex64

	derotStep  int
	prevIndex  int
	haveSymbol bool

	evm float64
}

// dibitForDiff maps the differential quadrant index to its dibit value:
// 0 -> 00, 1 -> 01, 2 -> 11, 3 -> 10.
var dibitForDiff = [4]byte{0, 1, 3, 2}

func NewDemodulator(sampleRate, symbolRate int, loopBandwidth float64) *Demodulator {
	d := &Demodulator{
		sampleRate: sampleRate,
		symbolRate: symbolRate,
		sps:        sampleRate / symbolRate,
	}

	damping := 0.707

	denom := 1.0 + 2.0*damping*loopBandwidth + loopBandwidth*loopBandwidth
	d.carrierAlpha = (4.0 * damping * loopBandwidth) / denom
	d.carrierBeta = (4.0 * loopBandwidth * loopBandwidth) / denom

	denom = 1.0 + 2.0*damping*loopBandwidth + loopBandwidth*loopBandwidth
	d.timingAlpha = (4.0 * damping * loopBandwidth) / denom
	d.timingBeta = (4.0 * loopBandwidth * loopBandwidth) / denom
	d.timingFreq = 1.0 / float64(d.sps)

	return d
}

func (d *Demodulator) Reset() {
	d.carrierPhase = 0
	d.carrierFreq = 0
	d.timingPhase = 0
	d.timingFreq = 1.0 / float64(d.sps)
	d.sampleCount = 0
	d.derotStep = 0
	d.prevIndex = 0
	d.haveSymbol = false
	d.prevStrobe = 0
	d.midSample = 0
}

// phaseError is the four-quadrant Costas detector for QPSK.
func phaseError(s complex64) float64 {
	i := float64(real(s))
	q := float64(imag(s))

	switch {
	case i >= 0 && q >= 0:
		return -i + q
	case i < 0 && q >= 0:
		return -i - q
	case i < 0 && q < 0:
		return i - q
	default:
		return i + q
	}
}

func (d *Demodulator) carrierTrack(s complex64) complex64 {
	sin, cos := math.Sincos(d.carrierPhase)
	corrected := s * complex(float32(cos), float32(-sin))

	err := phaseError(corrected)

	d.carrierFreq += d.carrierBeta * err
	d.carrierPhase += d.carrierFreq + d.carrierAlpha*err

	for d.carrierPhase > twoPi {
		d.carrierPhase -= twoPi
	}
	for d.carrierPhase < -twoPi {
		d.carrierPhase += twoPi
	}

	return corrected
}

// quadrant maps a phase to the symbol index: [-pi/4, pi/4) -> 0,
// [pi/4, 3pi/4) -> 1, the opposite half-plane -> 2, [-3pi/4, -pi/4) -> 3.
func quadrant(phase float64) int {
	switch {
	case phase >= -pi/4 && phase < pi/4:
		return 0
	case phase >= pi/4 && phase < 3*pi/4:
		return 1
	case phase >= -3*pi/4 && phase < -pi/4:
		return 3
	default:
		return 2
	}
}

// strobe handles one symbol-rate decision point.
func (d *Demodulator) strobe(prompt complex64, output []float32, n int) int {
	// Gardner error wants a previous strobe and the half-symbol sample.
	if d.haveSymbol {
		diff := prompt - d.prevStrobe
		errVec := complex128(diff) * cmplx.Conj(complex128(d.midSample))
		gardner := real(errVec)

		d.timingFreq += d.timingBeta * gardner
		lo := 0.9 / float64(d.sps)
		hi := 1.1 / float64(d.sps)
		if d.timingFreq < lo {
			d.timingFreq = lo
		} else if d.timingFreq > hi {
			d.timingFreq = hi
		}
		d.timingPhase += d.timingAlpha * gardner
	}

	mag := cmplx.Abs(complex128(prompt))
	if mag < 1e-9 {
		d.prevStrobe = prompt
		return n
	}

	d.evm = 0.9*d.evm + 0.1*math.Abs(1.0-mag)

	// Remove the accumulated pi/4-per-symbol rotation so both alternating
	// constellations land on the quadrant centers.
	derot := float64(d.derotStep) * pi / 4
	d.derotStep = (d.derotStep + 1) % 8

	phase := cmplx.Phase(complex128(prompt)) - derot
	for phase > pi {
		phase -= twoPi
	}
	for phase < -pi {
		phase += twoPi
	}

	idx := quadrant(phase)

	if d.haveSymbol {
		diff := (idx - d.prevIndex + 4) % 4
		output[n] = float32(dibitForDiff[diff])
		n++
	}

	d.prevIndex = idx
	d.prevStrobe = prompt
	d.haveSymbol = true

	return n
}

func (d *Demodulator) WorkBuffer(input []complex64, output []float32) int {
	n := 0
	half := false

	for i := 0; i < len(input); i++ {
		s := d.carrierTrack(input[i])

		d.timingPhase += d.timingFreq
		if !half && d.timingPhase >= 0.5 {
			d.midSample = s
			half = true
		}
		if d.timingPhase >= 1.0 {
			d.timingPhase -= 1.0
			half = false
			n = d.strobe(s, output, n)
		}
	}

	return n
}

func (d *Demodulator) Work(input []complex64) []float32 {
	out := make([]float32, d.PredictOutputSize(len(input)))
	length := d.WorkBuffer(input, out)
	return out[:length]
}

func (d *Demodulator) PredictOutputSize(inputSize int) int {
	return inputSize/d.sps + 2
}

// EVM reports the smoothed error-vector magnitude as a link quality
// estimate.
func (d *Demodulator) EVM() float64 {
	return d.evm
}
