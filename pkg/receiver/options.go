package receiver

import (
	"time"

	"github.com/norasector/cyclone/pkg/lmr/frame"
	"github.com/norasector/cyclone/pkg/receiver/config"
)

// Options is everything the receiver needs wired up front; the
// functional options on NewReceiver attach the optional collaborators.
type Options struct {
	CenterFreq            int
	SampleRate            int
	VoiceOutputSampleRate int
	Systems               []config.System
	FrequencyTimeout      time.Duration
	RecordLocation        string
	PlaybackLocation      string
}

type internalSystem struct {
	config.System
	packetChan chan frame.Packet
}
