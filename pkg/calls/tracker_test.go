package calls

import (
	"sync"
	"testing"
	"time"

	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	mu     sync.Mutex
	frames []*lmr.AudioFrame
}

func (f *fakeRouter) Enqueue(frame *lmr.AudioFrame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return false
}

func (f *fakeRouter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// fakeClock is an injected, manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(10000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(t *testing.T) (*Tracker, *fakeRouter, *fakeClock) {
	t.Helper()
	router := &fakeRouter{}
	clock := newFakeClock()
	tracker := NewTracker(router, WithClock(clock.Now), WithLogger(zerolog.Nop()))
	return tracker, router, clock
}

func grantFor(tg int) lmr.CallGrant {
	return lmr.CallGrant{SystemID: 1, TalkGroup: tg, RadioID: 42, Frequency: 851000000}
}

// Grant, no audio, clock past the timeout, one maintenance tick: the
// call is evicted exactly once and the total never decreases.
func TestTimeoutEviction(t *testing.T) {
	tracker, _, clock := newTestTracker(t)

	tracker.HandleGrant(grantFor(777))
	require.Equal(t, 1, tracker.ActiveCount())
	require.Equal(t, uint64(1), tracker.TotalCalls())

	clock.Advance(5001 * time.Millisecond)

	assert.Equal(t, 1, tracker.Sweep())
	assert.Equal(t, 0, tracker.ActiveCount())
	assert.Equal(t, uint64(1), tracker.TimedOut())
	assert.Equal(t, uint64(1), tracker.TotalCalls(), "total_calls never decreases")

	// A second sweep finds nothing.
	assert.Equal(t, 0, tracker.Sweep())
	assert.Equal(t, uint64(1), tracker.TimedOut())
}

func TestAudioRefreshesActivity(t *testing.T) {
	tracker, router, clock := newTestTracker(t)

	tracker.HandleGrant(grantFor(777))

	clock.Advance(4 * time.Second)
	tracker.HandleAudioFrame(&lmr.AudioFrame{TalkGroup: 777, PCM: make([]int16, 80)})

	clock.Advance(4 * time.Second)
	assert.Equal(t, 0, tracker.Sweep(), "activity within timeout keeps the call")
	assert.Equal(t, 1, router.count())

	calls := tracker.Snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].FrameCount)
}

func TestAudioForInactiveCallDropped(t *testing.T) {
	tracker, router, _ := newTestTracker(t)

	tracker.HandleAudioFrame(&lmr.AudioFrame{TalkGroup: 555, PCM: make([]int16, 80)})

	assert.Zero(t, router.count(), "audio must not create calls implicitly")
	assert.Equal(t, 0, tracker.ActiveCount())
}

func TestEnabledSetSemantics(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	// Empty enabled set admits everything.
	tracker.HandleGrant(grantFor(1))
	assert.Equal(t, 1, tracker.ActiveCount())

	tracker.EndCall(1)

	// A non-empty set admits only listed talkgroups.
	tracker.EnableTalkgroup(100, 7)
	tracker.HandleGrant(grantFor(1))
	assert.Equal(t, 0, tracker.ActiveCount())

	tracker.HandleGrant(grantFor(100))
	assert.Equal(t, 1, tracker.ActiveCount())

	calls := tracker.Snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, 7, calls[0].Grant.Priority, "configured priority stamped onto the grant")
}

// Disabling a talkgroup only affects future grants; the call already in
// progress stays until it times out or ends.
func TestDisableDoesNotEndActiveCall(t *testing.T) {
	tracker, router, _ := newTestTracker(t)

	tracker.EnableTalkgroup(100, 5)
	tracker.HandleGrant(grantFor(100))
	require.Equal(t, 1, tracker.ActiveCount())

	tracker.DisableTalkgroup(100)
	assert.Equal(t, 1, tracker.ActiveCount())

	// Audio still flows for the active call.
	tracker.HandleAudioFrame(&lmr.AudioFrame{TalkGroup: 100, PCM: make([]int16, 80)})
	assert.Equal(t, 1, router.count())

	// But a fresh grant after the call ends is refused.
	tracker.EndCall(100)
	tracker.HandleGrant(grantFor(100))
	assert.Equal(t, 0, tracker.ActiveCount())
}

func TestRepeatGrantRefreshesNotDuplicates(t *testing.T) {
	tracker, _, clock := newTestTracker(t)

	tracker.HandleGrant(grantFor(777))
	clock.Advance(3 * time.Second)
	tracker.HandleGrant(grantFor(777))

	assert.Equal(t, 1, tracker.ActiveCount())
	assert.Equal(t, uint64(1), tracker.TotalCalls())

	// The refresh pushed last_activity forward.
	clock.Advance(3 * time.Second)
	assert.Equal(t, 0, tracker.Sweep())
}

func TestEndCallExplicit(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	tracker.HandleGrant(grantFor(777))
	tracker.EndCall(777)
	assert.Equal(t, 0, tracker.ActiveCount())

	// Ending a nonexistent call is a no-op.
	tracker.EndCall(777)
}

func TestSnapshotReturnsCopies(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	tracker.HandleGrant(grantFor(777))
	snap := tracker.Snapshot()
	require.Len(t, snap, 1)

	snap[0].FrameCount = 999
	assert.Zero(t, tracker.Snapshot()[0].FrameCount)
}

func TestLabels(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	tracker.SetLabel(1234, "PD Dispatch")
	assert.Equal(t, "PD Dispatch", tracker.Label(1234))
	assert.Equal(t, "", tracker.Label(1))
}
