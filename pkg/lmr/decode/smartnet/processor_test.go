package smartnet

import (
	"context"
	"testing"
	"time"

	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/norasector/cyclone/pkg/lmr/frame"
	snframe "github.com/norasector/cyclone/pkg/lmr/frame/smartnet"
	"github.com/norasector/cyclone/pkg/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func startProcessor(t *testing.T, base, spacing int) (chan frame.Packet, chan lmr.Update) {
	t.Helper()
	packets := make(chan frame.Packet, 16)
	updates := make(chan lmr.Update, 16)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	p := NewProcessor(1, base, spacing, packets, updates, &util.MockWriteAPI{}, zerolog.Nop())
	go p.Start(ctx)
	return packets, updates
}

func push(packets chan frame.Packet, osw snframe.OSW) {
	packets <- frame.Packet{
		SystemID:   1,
		SystemType: lmr.SystemTypeSmartnet,
		Payload:    osw,
		Timestamp:  time.Now(),
	}
}

func nextGrant(t *testing.T, updates chan lmr.Update) *lmr.CallGrant {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case u := <-updates:
			if u.Grant != nil {
				return u.Grant
			}
		case <-deadline:
			t.Fatalf("no grant received")
			return nil
		}
	}
}

// Group call: base 851 MHz, 25 kHz spacing, channel 10 lands at
// 851.25 MHz with the address as the talkgroup.
func TestGroupCallGrant(t *testing.T) {
	packets, updates := startProcessor(t, 851000000, 25000)

	push(packets, snframe.OSW{Address: 101, Group: 1, Command: 10})

	grant := nextGrant(t, updates)
	assert.Equal(t, 101, grant.TalkGroup)
	assert.Equal(t, 851250000, grant.Frequency)
	assert.Equal(t, 0, grant.RadioID, "SmartNet carries no radio ID")
	assert.Equal(t, lmr.CallTypeGroup, grant.Type)
}

func TestNonChannelCommandsIgnored(t *testing.T) {
	packets, updates := startProcessor(t, 851000000, 25000)

	// Idle and a high command are not channel assignments.
	push(packets, snframe.OSW{Address: 0x1F00, Group: 0, Command: 0x2F0})
	push(packets, snframe.OSW{Address: 55, Group: 1, Command: 0x308})

	// Only the system-info announcement shows up.
	var sawGrant bool
	timeout := time.After(100 * time.Millisecond)
drain:
	for {
		select {
		case u := <-updates:
			if u.Grant != nil {
				sawGrant = true
			}
		case <-timeout:
			break drain
		}
	}
	assert.False(t, sawGrant)
}
