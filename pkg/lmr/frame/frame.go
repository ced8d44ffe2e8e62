package frame

import (
	"context"
	"time"

	"github.com/norasector/cyclone/pkg/lmr"
)

// Assembler takes sliced symbols demodulated over the air and assembles
// them into validated frames.
type Assembler interface {
	// Receive expects a buffer of symbols, one per byte, no bit packing.
	// 4-level modes deliver 0..3; binary modes deliver 0..1.
	Receive([]byte)
}

// Processor consumes assembled packets and emits protocol events.
// Configuration is implementation specific; see the per-protocol decode
// packages.
type Processor interface {
	Start(context.Context) error
}

// Packet is the envelope an assembler pushes toward its processor.
// Payload holds the protocol-specific frame struct.
type Packet struct {
	SystemID   int
	SystemType lmr.SystemType
	Payload    interface{}
	Timestamp  time.Time
}

// Stats are the signal-quality counters every assembler maintains.
type Stats struct {
	FramesOK          uint64
	CRCErrors         uint64
	SyncLosses        uint64
	ColorCodeMismatch uint64
}
