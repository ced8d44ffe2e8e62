package file

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/norasector/cyclone/pkg/types"
)

// FileDevice replays a raw CS8 capture at a paced rate, standing in for
// live hardware in tests and offline decoding. Tune only records the
// requested frequency; the capture is whatever it is.
type FileDevice struct {
	readFile    *os.File
	readSize    int
	timeBetween time.Duration
	sampleRate  int
	centerFreq  int
}

func NewFileDevice(path string, readSize int, sampleRate int, centerFreq int, timeBetween time.Duration) (*FileDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	return &FileDevice{
		readFile:    f,
		readSize:    readSize,
		timeBetween: timeBetween,
		sampleRate:  sampleRate,
		centerFreq:  centerFreq,
	}, nil
}

func (f *FileDevice) Start(ctx context.Context, centerFreq int, sampleRate int, complexSamples chan *types.SegmentComplex64) error {
	tick := time.NewTicker(f.timeBetween)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			buf := make([]byte, f.readSize)
			n, err := f.readFile.Read(buf)
			if errors.Is(err, io.EOF) {
				// End of capture is a clean shutdown, not a failure.
				return nil
			}
			if err != nil {
				return err
			}

			seg := types.SegmentCS8Raw{
				SampleRate: f.sampleRate,
				Data:       buf[:n],
				Frequency:  f.centerFreq,
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case complexSamples <- seg.ToComplex64():
			}
		}
	}
}

func (f *FileDevice) Tune(freqHz int) error {
	f.centerFreq = freqHz
	return nil
}

func (f *FileDevice) Stop() error {
	return f.readFile.Close()
}

func (f *FileDevice) MaxSampleRate() int {
	return 20000000
}

func (f *FileDevice) DroppedSamples() uint64 {
	return 0
}
