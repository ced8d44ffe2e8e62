package lmr

import "time"

// SystemType names a trunking protocol family as spelled in config files.
type SystemType string

const (
	SystemTypeP25       SystemType = "p25"
	SystemTypeP25Phase2 SystemType = "p25_phase2"
	SystemTypeSmartnet  SystemType = "smartnet"
	SystemTypeSmartZone SystemType = "smartzone"
	SystemTypeDMR       SystemType = "dmr"
	SystemTypeNXDN      SystemType = "nxdn"
	SystemTypeTETRA     SystemType = "tetra"
	SystemTypeEDACS     SystemType = "edacs"
	SystemTypeLTR       SystemType = "ltr"
)

// Decodable reports whether a decoder exists for the system type. The
// config parser accepts the full enum; wiring rejects the rest.
func (s SystemType) Decodable() bool {
	switch s {
	case SystemTypeP25, SystemTypeSmartnet, SystemTypeSmartZone, SystemTypeDMR, SystemTypeTETRA:
		return true
	}
	return false
}

type CallType int

const (
	CallTypeGroup CallType = iota
	CallTypePrivate
	CallTypeEmergency
	CallTypeEncrypted
)

func (c CallType) String() string {
	switch c {
	case CallTypeGroup:
		return "group"
	case CallTypePrivate:
		return "private"
	case CallTypeEmergency:
		return "emergency"
	case CallTypeEncrypted:
		return "encrypted"
	}
	return "unknown"
}

// EncryptionType identifies the air-interface cipher announced in a
// grant. Only TETRA distinguishes algorithms; other protocols report
// EncryptionUnknown when the encrypted flag is set.
type EncryptionType int

const (
	EncryptionNone EncryptionType = iota
	EncryptionTEA1
	EncryptionTEA2
	EncryptionTEA3
	EncryptionTEA4
	EncryptionUnknown
)

func (e EncryptionType) String() string {
	switch e {
	case EncryptionNone:
		return "none"
	case EncryptionTEA1:
		return "tea1"
	case EncryptionTEA2:
		return "tea2"
	case EncryptionTEA3:
		return "tea3"
	case EncryptionTEA4:
		return "tea4"
	}
	return "unknown"
}

// CallGrant is the canonical cross-protocol event: a control channel has
// assigned a talkgroup to a traffic frequency.
type CallGrant struct {
	SystemID   int
	TalkGroup  int
	RadioID    int
	Frequency  int
	CallID     int
	Type       CallType
	Priority   int
	Timestamp  time.Time
	Encrypted  bool
	Encryption EncryptionType
}

// SystemInfo is the decoded network identity of the monitored system.
// Fields are populated per protocol; zero values mean not yet seen.
type SystemInfo struct {
	SystemID int
	Type     SystemType

	// P25
	NAC   uint16
	WACN  uint32
	SysID uint16

	// TETRA
	MCC          int
	MNC          int
	LocationArea int
	NetworkName  string
	Emergency    bool

	// DMR / TETRA
	ColorCode int

	// SmartNet / DMR
	RestChannelFreq int

	Timestamp time.Time
}

// TextEvent carries a short-data message (TETRA SDS) or a reassembled
// DMR talker alias.
type TextEvent struct {
	SystemID    int
	Source      int
	Destination int
	Text        string
	Timestamp   time.Time
}

// CallEnd is an explicit protocol-level release.
type CallEnd struct {
	SystemID  int
	TalkGroup int
	CallID    int
	Timestamp time.Time
}

// Update is the envelope posted by protocol decoders to the controller's
// inbox. Exactly one pointer field is set per message. A nonzero
// ControlFrequency with no pointer field set makes the receiver monitor
// that frequency as a further control channel; none of the decoders in
// this module post such a message.
type Update struct {
	Grant            *CallGrant
	SystemInfo       *SystemInfo
	Text             *TextEvent
	End              *CallEnd
	ControlFrequency int
	SystemID         int
}

// AudioFrame is one block of decoded voice attributed to a talkgroup.
// PCM is signed 16-bit mono at 8 kHz.
type AudioFrame struct {
	SystemID  int
	TalkGroup int
	RadioID   int
	Timestamp time.Time
	RSSI      float32
	PCM       []int16
}
