package hackrf

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/norasector/cyclone/pkg/receiver/device"
	"github.com/norasector/cyclone/pkg/types"
	"github.com/samuel/go-hackrf/hackrf"
)

const maxSampleRate = 20000000

// HackRFDevice drives a HackRF One for wideband capture. The recording
// variant writes the raw CS8 stream to disk instead of feeding the
// pipeline, producing files the file device can replay.
type HackRFDevice struct {
	dev *hackrf.Device

	centerFreq int
	sampleRate int
	dropped    uint64

	outputChan chan *types.SegmentComplex64
	ctx        context.Context
	mu         sync.Mutex

	recordLocation string
	outputFile     *os.File
}

func NewHackRFDevice() (*HackRFDevice, error) {
	dev, err := hackrf.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: hackrf: %v", device.ErrNotPresent, err)
	}

	return &HackRFDevice{dev: dev}, nil
}

func NewRecordingHackRFDevice(recordLocation string) (*HackRFDevice, error) {
	dev, err := hackrf.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: hackrf: %v", device.ErrNotPresent, err)
	}

	outFile, err := os.Create(recordLocation)
	if err != nil {
		return nil, err
	}

	return &HackRFDevice{
		dev:            dev,
		outputFile:     outFile,
		recordLocation: recordLocation,
	}, nil
}

func (h *HackRFDevice) MaxSampleRate() int {
	return maxSampleRate
}

func (h *HackRFDevice) callback(buf []byte) error {
	if h.outputFile != nil {
		if _, err := h.outputFile.Write(buf); err != nil {
			return err
		}
		return nil
	}

	seg := types.SegmentCS8Raw{
		SampleRate: h.sampleRate,
		Data:       make([]byte, len(buf)),
		Frequency:  h.centerFreq,
	}
	copy(seg.Data, buf)

	complexSegment := seg.ToComplex64()
	select {
	case <-h.ctx.Done():
		return h.ctx.Err()
	case h.outputChan <- complexSegment:
	default:
		atomic.AddUint64(&h.dropped, uint64(len(complexSegment.Data)))
	}

	return nil
}

func (h *HackRFDevice) Start(ctx context.Context, centerFreq int, sampleRate int, complexSamples chan *types.SegmentComplex64) error {
	h.ctx = ctx
	h.outputChan = complexSamples
	h.centerFreq = centerFreq
	h.sampleRate = sampleRate

	if err := h.dev.SetFreq(uint64(centerFreq)); err != nil {
		return fmt.Errorf("%w: center frequency %d: %v", device.ErrInvalidParam, centerFreq, err)
	}
	if err := h.dev.SetSampleRateManual(sampleRate*2, 2); err != nil {
		return fmt.Errorf("%w: sample rate %d: %v", device.ErrInvalidParam, sampleRate, err)
	}
	if err := h.dev.SetLNAGain(39); err != nil {
		return err
	}
	if err := h.dev.SetBasebandFilterBandwidth(sampleRate); err != nil {
		return err
	}
	if err := h.dev.SetAmpEnable(true); err != nil {
		return err
	}
	return h.dev.StartRX(h.callback)
}

// Tune retunes the radio; a request for the current frequency is a
// no-op.
func (h *HackRFDevice) Tune(freqHz int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if freqHz == h.centerFreq {
		return nil
	}
	if err := h.dev.SetFreq(uint64(freqHz)); err != nil {
		return fmt.Errorf("%w: center frequency %d: %v", device.ErrInvalidParam, freqHz, err)
	}
	h.centerFreq = freqHz
	return nil
}

func (h *HackRFDevice) Stop() error {
	if h.outputFile != nil {
		defer h.outputFile.Close()
	}
	return h.dev.StopRX()
}

func (h *HackRFDevice) DroppedSamples() uint64 {
	return atomic.LoadUint64(&h.dropped)
}
