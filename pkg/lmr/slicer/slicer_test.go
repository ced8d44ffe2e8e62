package slicer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

var nominalLevels = [4]float32{-3, -1, 1, 3}

func TestQuaternarySlicerIdealLevels(t *testing.T) {
	s := NewQuaternarySlicer()
	rng := rand.New(rand.NewSource(1))

	syms := make([]byte, 1000)
	vals := make([]float32, len(syms))
	for i := range syms {
		syms[i] = byte(rng.Intn(4))
		vals[i] = nominalLevels[syms[i]]
	}

	got := s.Work(vals)
	assert.Equal(t, syms, got)
	assert.InDelta(t, 2.0, float64(s.EyeOpening()), 0.01)
}

func TestQuaternarySlicerAdaptsToOffset(t *testing.T) {
	// A constant DC offset walks the class means; after settling, the
	// midpoint thresholds follow and decisions are clean again.
	s := NewQuaternarySlicer()
	rng := rand.New(rand.NewSource(2))

	const offset = 0.4

	syms := make([]byte, 4000)
	vals := make([]float32, len(syms))
	for i := range syms {
		syms[i] = byte(rng.Intn(4))
		vals[i] = nominalLevels[syms[i]] + offset
	}

	got := s.Work(vals)

	errs := 0
	for i := 1000; i < len(syms); i++ {
		if got[i] != syms[i] {
			errs++
		}
	}
	assert.Zero(t, errs, "slicer failed to adapt to DC offset")
}

func TestBinarySlicer(t *testing.T) {
	in := []float32{-1.5, 0.5, 0, -0.1, 2}

	plain := NewBinarySlicer(false).Work(in)
	assert.Equal(t, []byte{0, 1, 1, 0, 1}, plain)

	inverted := NewBinarySlicer(true).Work(in)
	assert.Equal(t, []byte{1, 0, 0, 1, 0}, inverted)
}

func TestRoundingSlicer(t *testing.T) {
	in := []float32{0, 0.9, 2.1, 3, 3.9, -0.4}
	got := NewRoundingSlicer().Work(in)
	assert.Equal(t, []byte{0, 1, 2, 3, 3, 0}, got)
}
