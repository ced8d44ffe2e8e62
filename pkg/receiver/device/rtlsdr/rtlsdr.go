package rtlsdr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	gsdr "github.com/jpoirier/gortlsdr"
	"github.com/norasector/cyclone/pkg/receiver/device"
	"github.com/norasector/cyclone/pkg/types"
)

const maxSampleRate = 2400000

// RTLSDRDevice drives an RTL2832U dongle through the librtlsdr async
// read interface. Gain is either tuner AGC or a fixed value in tenths
// of a dB; a PPM correction is applied at open time.
type RTLSDRDevice struct {
	deviceIdx    int
	gainTenthsDB int
	autoGain     bool
	ppm          int

	device *gsdr.Context

	centerFreq int
	sampleRate int
	dropped    uint64

	outputChan chan *types.SegmentComplex64
	ctx        context.Context
	mu         sync.Mutex
	wg         sync.WaitGroup
}

type Option func(r *RTLSDRDevice)

// WithAutoGain enables the tuner AGC.
func WithAutoGain() Option {
	return func(r *RTLSDRDevice) {
		r.autoGain = true
	}
}

// WithGain sets a fixed tuner gain in dB.
func WithGain(gainDB float64) Option {
	return func(r *RTLSDRDevice) {
		r.gainTenthsDB = int(gainDB * 10)
	}
}

// WithPPMCorrection sets the frequency correction in parts per million.
func WithPPMCorrection(ppm int) Option {
	return func(r *RTLSDRDevice) {
		r.ppm = ppm
	}
}

func NewRTLSDRDevice(deviceIdx int, opts ...Option) (*RTLSDRDevice, error) {
	r := &RTLSDRDevice{deviceIdx: deviceIdx, autoGain: true}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *RTLSDRDevice) MaxSampleRate() int {
	return maxSampleRate
}

func (r *RTLSDRDevice) callback(buf []byte) {
	r.wg.Add(1)
	defer r.wg.Done()

	seg := types.SegmentCU8Raw{
		SampleRate: r.sampleRate,
		Data:       buf,
		Frequency:  r.centerFreq,
	}

	complexSegment := seg.ToComplex64()
	select {
	case <-r.ctx.Done():
	case r.outputChan <- complexSegment:
	default:
		// Consumer fell behind; drop the buffer and keep streaming.
		atomic.AddUint64(&r.dropped, uint64(len(complexSegment.Data)))
	}
}

func (r *RTLSDRDevice) Start(ctx context.Context, centerFreq int, sampleRate int, complexSamples chan *types.SegmentComplex64) error {
	var err error
	r.device, err = gsdr.Open(r.deviceIdx)
	if err != nil {
		return fmt.Errorf("%w: rtlsdr index %d: %v", device.ErrNotPresent, r.deviceIdx, err)
	}
	r.ctx = ctx
	r.centerFreq = centerFreq
	r.sampleRate = sampleRate
	r.outputChan = complexSamples

	if err := r.device.SetCenterFreq(centerFreq); err != nil {
		return fmt.Errorf("%w: center frequency %d: %v", device.ErrInvalidParam, centerFreq, err)
	}
	if err := r.device.SetSampleRate(sampleRate); err != nil {
		return fmt.Errorf("%w: sample rate %d: %v", device.ErrInvalidParam, sampleRate, err)
	}
	if r.ppm != 0 {
		if err := r.device.SetFreqCorrection(r.ppm); err != nil {
			return fmt.Errorf("%w: ppm correction %d: %v", device.ErrInvalidParam, r.ppm, err)
		}
	}

	if r.autoGain {
		if err := r.device.SetTunerGainMode(false); err != nil {
			return fmt.Errorf("%w: auto gain: %v", device.ErrInvalidParam, err)
		}
	} else {
		if err := r.device.SetTunerGainMode(true); err != nil {
			return fmt.Errorf("%w: manual gain mode: %v", device.ErrInvalidParam, err)
		}
		if err := r.device.SetTunerGain(r.gainTenthsDB); err != nil {
			return fmt.Errorf("%w: gain %d: %v", device.ErrInvalidParam, r.gainTenthsDB, err)
		}
	}

	if err := r.device.ResetBuffer(); err != nil {
		return err
	}

	r.wg.Add(1)
	defer r.wg.Done()
	return r.device.ReadAsync(r.callback, nil, 0, 0)
}

// Tune retunes the dongle; a request for the current frequency is a
// no-op.
func (r *RTLSDRDevice) Tune(freqHz int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if freqHz == r.centerFreq {
		return nil
	}
	if r.device == nil {
		r.centerFreq = freqHz
		return nil
	}
	if err := r.device.SetCenterFreq(freqHz); err != nil {
		return fmt.Errorf("%w: center frequency %d: %v", device.ErrInvalidParam, freqHz, err)
	}
	r.centerFreq = freqHz
	return nil
}

func (r *RTLSDRDevice) Stop() error {
	err := r.device.CancelAsync()

	r.wg.Wait()
	if err != nil {
		return err
	}

	return r.device.Close()
}

// DroppedSamples counts samples discarded when the pipeline backed up.
func (r *RTLSDRDevice) DroppedSamples() uint64 {
	return atomic.LoadUint64(&r.dropped)
}

// Enumerate lists the attached RTL-SDR devices for the --devices flag.
func Enumerate() []device.Info {
	count := gsdr.GetDeviceCount()
	infos := make([]device.Info, 0, count)

	for i := 0; i < count; i++ {
		info := device.Info{
			Index: i,
			Name:  gsdr.GetDeviceName(i),
		}
		if _, _, serial, err := gsdr.GetDeviceUsbStrings(i); err == nil {
			info.Serial = serial
		}
		infos = append(infos, info)
	}

	return infos
}
