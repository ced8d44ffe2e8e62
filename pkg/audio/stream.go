package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/hraban/opus"
	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Destination is one UDP endpoint receiving the encoded stream.
type Destination struct {
	Host string
	Port int
}

// Opus packets are cut at 20 ms of input audio.
const opusFrameMS = 20

// streamHeader precedes every Opus payload on the wire. Fixed-size and
// little-endian so any consumer can parse it without a schema.
type streamHeader struct {
	SystemID    uint16
	TalkGroup   uint32
	RadioID     uint32
	TimestampMS int64
	Length      uint16
}

// OpusStreamSink encodes tagged voice as Opus and sends length-prefixed
// datagrams to every configured destination. One encoder is kept per
// talkgroup so interleaved calls do not share codec state.
type OpusStreamSink struct {
	sampleRate int
	dests      []*net.UDPAddr
	conn       *net.UDPConn
	logger     zerolog.Logger

	mu       sync.Mutex
	encoders map[int]*talkgroupEncoder
}

type talkgroupEncoder struct {
	enc     *opus.Encoder
	pending []int16
}

func NewOpusStreamSink(sampleRate int, dests []Destination, logger *zerolog.Logger) (*OpusStreamSink, error) {
	s := &OpusStreamSink{
		sampleRate: sampleRate,
		encoders:   make(map[int]*talkgroupEncoder),
		logger:     log.Logger,
	}
	if logger != nil {
		s.logger = *logger
	}

	for _, dest := range dests {
		ips, err := net.LookupIP(dest.Host)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", dest.Host, err)
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("no addresses for %s", dest.Host)
		}
		addr := &net.UDPAddr{IP: ips[0], Port: dest.Port}
		s.dests = append(s.dests, addr)
		s.logger.Info().
			IPAddr("dest_ip", addr.IP).
			Int("port", dest.Port).
			Msg("stream output starting")
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	s.conn = conn

	return s, nil
}

func (s *OpusStreamSink) encoderFor(talkgroup int) (*talkgroupEncoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.encoders[talkgroup]; ok {
		return e, nil
	}

	enc, err := opus.NewEncoder(s.sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	if err := enc.SetPacketLossPerc(20); err != nil {
		return nil, err
	}

	e := &talkgroupEncoder{enc: enc}
	s.encoders[talkgroup] = e
	return e, nil
}

func (s *OpusStreamSink) Write(frame *lmr.AudioFrame) error {
	e, err := s.encoderFor(frame.TalkGroup)
	if err != nil {
		return err
	}

	samplesPerPacket := s.sampleRate * opusFrameMS / 1000

	e.pending = append(e.pending, frame.PCM...)

	encBuf := make([]byte, 4096)
	for len(e.pending) >= samplesPerPacket {
		n, err := e.enc.Encode(e.pending[:samplesPerPacket], encBuf)
		if err != nil {
			return err
		}
		e.pending = e.pending[samplesPerPacket:]

		if err := s.send(frame, encBuf[:n]); err != nil {
			return err
		}
	}

	return nil
}

func (s *OpusStreamSink) send(frame *lmr.AudioFrame, payload []byte) error {
	var msg bytes.Buffer
	hdr := streamHeader{
		SystemID:    uint16(frame.SystemID),
		TalkGroup:   uint32(frame.TalkGroup),
		RadioID:     uint32(frame.RadioID),
		TimestampMS: frame.Timestamp.UnixNano() / 1e6,
		Length:      uint16(len(payload)),
	}
	if err := binary.Write(&msg, binary.LittleEndian, hdr); err != nil {
		return err
	}
	if _, err := msg.Write(payload); err != nil {
		return err
	}

	var firstErr error
	for _, dest := range s.dests {
		if _, err := s.conn.WriteToUDP(msg.Bytes(), dest); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases the UDP socket.
func (s *OpusStreamSink) Close() error {
	return s.conn.Close()
}
