package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/norasector/cyclone/pkg/lmr"
)

// Sink consumes one tagged audio frame at a time. Writes may block on
// the underlying output; the router's worker absorbs that.
type Sink interface {
	Write(frame *lmr.AudioFrame) error
}

// WriterSink streams signed 16-bit little-endian PCM to any io.Writer
// (a file, a pipe into an audio player, stdout).
type WriterSink struct {
	mu   sync.Mutex
	dest io.Writer
	buf  bytes.Buffer
}

func NewWriterSink(dest io.Writer) *WriterSink {
	return &WriterSink{dest: dest}
}

func (s *WriterSink) Write(frame *lmr.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
	if err := binary.Write(&s.buf, binary.LittleEndian, frame.PCM); err != nil {
		return err
	}
	_, err := s.buf.WriteTo(s.dest)
	return err
}

// MultiSink fans one frame out to several sinks; the first error wins
// but every sink still sees the frame.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Write(frame *lmr.AudioFrame) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Write(frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
