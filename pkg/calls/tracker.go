package calls

import (
	"context"
	"sync"
	"time"

	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultCallTimeout   = 5 * time.Second
	defaultSweepInterval = time.Second
)

// ActiveCall is the tracked state of one talkgroup's call.
type ActiveCall struct {
	Grant        lmr.CallGrant
	StartTime    time.Time
	LastActivity time.Time
	FrameCount   int
	Recording    bool
}

// Router is the playback queue the tracker feeds. Enqueue reports
// whether an older frame was dropped to make room.
type Router interface {
	Enqueue(*lmr.AudioFrame) bool
}

// Tracker owns the active-call map and the talkgroup policy. Call state
// and policy configuration are guarded independently so policy updates
// never block the audio hot path for more than a map lookup.
//
// An empty enabled set admits all talkgroups. Policy is consulted only
// when a grant arrives: disabling a talkgroup does not tear down a call
// already in progress.
type Tracker struct {
	router Router
	logger zerolog.Logger
	now    func() time.Time

	callTimeout   time.Duration
	sweepInterval time.Duration
	recordCalls   bool

	callsMu sync.Mutex
	active  map[int]*ActiveCall

	policyMu   sync.Mutex
	enabled    map[int]bool
	priorities map[int]int
	labels     map[int]string

	totalCalls      uint64
	timedOut        uint64
	droppedDisabled uint64
	droppedNoCall   uint64
}

type TrackerOption func(t *Tracker)

// WithClock injects the time source, used by tests to drive eviction.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

func WithLogger(logger zerolog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

func WithCallTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		t.callTimeout = d
	}
}

// WithRecording marks new calls for recording.
func WithRecording(record bool) TrackerOption {
	return func(t *Tracker) {
		t.recordCalls = record
	}
}

func NewTracker(router Router, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		router:        router,
		logger:        log.Logger,
		now:           time.Now,
		callTimeout:   defaultCallTimeout,
		sweepInterval: defaultSweepInterval,
		active:        make(map[int]*ActiveCall),
		enabled:       make(map[int]bool),
		priorities:    make(map[int]int),
		labels:        make(map[int]string),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// HandleGrant admits or refreshes a call for the granted talkgroup.
func (t *Tracker) HandleGrant(grant lmr.CallGrant) {
	if !t.IsTalkgroupEnabled(grant.TalkGroup) {
		t.policyMu.Lock()
		t.droppedDisabled++
		t.policyMu.Unlock()
		t.logger.Debug().
			Int("tgid", grant.TalkGroup).
			Msg("grant for disabled talkgroup dropped")
		return
	}

	if pri, ok := t.Priority(grant.TalkGroup); ok {
		grant.Priority = pri
	}

	t.callsMu.Lock()
	defer t.callsMu.Unlock()

	now := t.now()

	if call, ok := t.active[grant.TalkGroup]; ok {
		call.LastActivity = now
		call.Grant = grant
		return
	}

	t.active[grant.TalkGroup] = &ActiveCall{
		Grant:        grant,
		StartTime:    now,
		LastActivity: now,
		Recording:    t.recordCalls,
	}
	t.totalCalls++

	t.logger.Info().
		Int("tgid", grant.TalkGroup).
		Int("source", grant.RadioID).
		Int("frequency", grant.Frequency).
		Str("label", t.Label(grant.TalkGroup)).
		Str("call_type", grant.Type.String()).
		Bool("encrypted", grant.Encrypted).
		Msg("call started")
}

// HandleAudioFrame attributes decoded voice to its call and queues it
// for playback. Audio for a talkgroup with no active call is dropped;
// frames never create calls implicitly.
func (t *Tracker) HandleAudioFrame(frame *lmr.AudioFrame) {
	t.callsMu.Lock()

	call, ok := t.active[frame.TalkGroup]
	if !ok {
		t.droppedNoCall++
		t.callsMu.Unlock()
		t.logger.Debug().
			Int("tgid", frame.TalkGroup).
			Msg("audio for inactive call dropped")
		return
	}

	call.LastActivity = t.now()
	call.FrameCount++
	if frame.RadioID == 0 {
		frame.RadioID = call.Grant.RadioID
	}
	t.callsMu.Unlock()

	t.router.Enqueue(frame)
}

// EndCall is the explicit-termination path driven by protocol release
// messages.
func (t *Tracker) EndCall(talkgroup int) {
	t.callsMu.Lock()
	defer t.callsMu.Unlock()

	call, ok := t.active[talkgroup]
	if !ok {
		return
	}
	delete(t.active, talkgroup)

	t.logger.Info().
		Int("tgid", talkgroup).
		Dur("duration", call.LastActivity.Sub(call.StartTime)).
		Int("frames", call.FrameCount).
		Msg("call ended")
}

// Sweep evicts calls idle longer than the timeout. Returns the number
// evicted.
func (t *Tracker) Sweep() int {
	t.callsMu.Lock()
	defer t.callsMu.Unlock()

	now := t.now()
	evicted := 0

	for tgid, call := range t.active {
		if now.Sub(call.LastActivity) > t.callTimeout {
			delete(t.active, tgid)
			t.timedOut++
			evicted++
			t.logger.Info().
				Int("tgid", tgid).
				Int("frames", call.FrameCount).
				Msg("call timeout")
		}
	}

	return evicted
}

// Run drives the periodic sweep until the context closes.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// EnableTalkgroup admits a talkgroup with the given priority.
func (t *Tracker) EnableTalkgroup(talkgroup, priority int) {
	t.policyMu.Lock()
	t.enabled[talkgroup] = true
	t.priorities[talkgroup] = priority
	t.policyMu.Unlock()
}

// DisableTalkgroup blocks future grants for a talkgroup. A call already
// active stays until it ends or times out.
func (t *Tracker) DisableTalkgroup(talkgroup int) {
	t.policyMu.Lock()
	t.enabled[talkgroup] = false
	t.policyMu.Unlock()
}

// IsTalkgroupEnabled implements the empty-set-admits-all policy.
func (t *Tracker) IsTalkgroupEnabled(talkgroup int) bool {
	t.policyMu.Lock()
	defer t.policyMu.Unlock()

	if len(t.enabled) == 0 {
		return true
	}
	return t.enabled[talkgroup]
}

// SetPriority updates a talkgroup's priority without touching its
// enabled state.
func (t *Tracker) SetPriority(talkgroup, priority int) {
	t.policyMu.Lock()
	t.priorities[talkgroup] = priority
	t.policyMu.Unlock()
}

// Priority reports the configured priority for a talkgroup.
func (t *Tracker) Priority(talkgroup int) (int, bool) {
	t.policyMu.Lock()
	defer t.policyMu.Unlock()
	pri, ok := t.priorities[talkgroup]
	return pri, ok
}

// SetLabel attaches a display label used for log enrichment.
func (t *Tracker) SetLabel(talkgroup int, label string) {
	t.policyMu.Lock()
	t.labels[talkgroup] = label
	t.policyMu.Unlock()
}

// Label returns the display label for a talkgroup, empty if none.
func (t *Tracker) Label(talkgroup int) string {
	t.policyMu.Lock()
	defer t.policyMu.Unlock()
	return t.labels[talkgroup]
}

// Snapshot returns copies of every active call; callers never see
// interior references.
func (t *Tracker) Snapshot() []ActiveCall {
	t.callsMu.Lock()
	defer t.callsMu.Unlock()

	out := make([]ActiveCall, 0, len(t.active))
	for _, call := range t.active {
		out = append(out, *call)
	}
	return out
}

// ActiveCount reports the number of calls currently tracked.
func (t *Tracker) ActiveCount() int {
	t.callsMu.Lock()
	defer t.callsMu.Unlock()
	return len(t.active)
}

// TotalCalls is monotonic: it counts every call ever admitted.
func (t *Tracker) TotalCalls() uint64 {
	t.callsMu.Lock()
	defer t.callsMu.Unlock()
	return t.totalCalls
}

// TimedOut counts calls evicted by the sweep.
func (t *Tracker) TimedOut() uint64 {
	t.callsMu.Lock()
	defer t.callsMu.Unlock()
	return t.timedOut
}
