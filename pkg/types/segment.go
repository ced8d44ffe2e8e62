package types

import "time"

// SegmentComplex64 is one contiguous buffer of complex baseband samples as
// delivered by a device.
type SegmentComplex64 struct {
	SampleRate    int
	Frequency     int
	SegmentNumber int
	Data          []complex64
}

// SegmentFloat32 is a buffer of real-valued samples (discriminator output,
// audio) tagged with its origin frequency.
type SegmentFloat32 struct {
	SampleRate    int
	Frequency     int
	SegmentNumber int
	Data          []float32
}

// SegmentBinaryBytes carries sliced symbols, one symbol per byte, no bit
// packing.
type SegmentBinaryBytes struct {
	SymbolRate    int
	SegmentNumber int
	Data          []byte
}

// SegmentCS8Raw is the interleaved signed-8-bit I/Q format produced by the
// HackRF and by raw capture files.
type SegmentCS8Raw struct {
	SampleRate int
	Frequency  int
	Data       []byte
}

// ToComplex64 converts interleaved CS8 into unit-range complex samples.
func (s *SegmentCS8Raw) ToComplex64() *SegmentComplex64 {
	out := &SegmentComplex64{
		SampleRate: s.SampleRate,
		Frequency:  s.Frequency,
		Data:       make([]complex64, len(s.Data)/2),
	}
	for i := 0; i < len(out.Data); i++ {
		out.Data[i] = complex(
			float32(int8(s.Data[2*i]))/128.0,
			float32(int8(s.Data[2*i+1]))/128.0,
		)
	}
	return out
}

// SegmentCU8Raw is the unsigned-8-bit I/Q format produced by the RTL-SDR.
type SegmentCU8Raw struct {
	SampleRate int
	Frequency  int
	Data       []byte
}

// ToComplex64 converts interleaved CU8 into unit-range complex samples.
func (s *SegmentCU8Raw) ToComplex64() *SegmentComplex64 {
	out := &SegmentComplex64{
		SampleRate: s.SampleRate,
		Frequency:  s.Frequency,
		Data:       make([]complex64, len(s.Data)/2),
	}
	for i := 0; i < len(out.Data); i++ {
		out.Data[i] = complex(
			(float32(s.Data[2*i])-127.5)/127.5,
			(float32(s.Data[2*i+1])-127.5)/127.5,
		)
	}
	return out
}

// TaggedAudioSegment is demodulated voice audio attributed to a talkgroup.
type TaggedAudioSegment struct {
	TalkGroup int
	RadioID   int
	SystemID  int
	Timestamp time.Time
	Audio     *SegmentFloat32
}
