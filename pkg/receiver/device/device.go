package device

import (
	"context"
	"errors"

	"github.com/norasector/cyclone/pkg/types"
)

// Sentinel device errors. Implementations wrap driver failures in one of
// these so callers can decide fatality without knowing the driver.
var (
	// ErrNotPresent means the requested device could not be opened.
	ErrNotPresent = errors.New("device not present")
	// ErrInvalidParam means the device rejected a tuning or rate value.
	ErrInvalidParam = errors.New("invalid device parameter")
)

// Device is a sample source: it delivers contiguous complex-baseband
// buffers to the output channel until Stop. Tune is idempotent when the
// device is already at the requested frequency. DroppedSamples counts
// samples discarded when the consumer fell behind; drops are not fatal
// and the stream continues.
type Device interface {
	Start(ctx context.Context, centerFreq int, sampleRate int, complexSamples chan *types.SegmentComplex64) error
	Stop() error
	Tune(freqHz int) error
	MaxSampleRate() int
	DroppedSamples() uint64
}

// Info describes one attached device for enumeration.
type Info struct {
	Index  int
	Name   string
	Serial string
}
