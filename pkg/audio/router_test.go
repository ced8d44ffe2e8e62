package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	frames []*lmr.AudioFrame
	fail   bool
}

func (c *captureSink) Write(frame *lmr.AudioFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("sink broken")
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *captureSink) talkgroups() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.TalkGroup
	}
	return out
}

func (c *captureSink) setFail(fail bool) {
	c.mu.Lock()
	c.fail = fail
	c.mu.Unlock()
}

func frameFor(tg int) *lmr.AudioFrame {
	return &lmr.AudioFrame{TalkGroup: tg, PCM: []int16{100, -100, 200}}
}

func TestEnqueueOrderPreserved(t *testing.T) {
	sink := &captureSink{}
	r := NewRouter(sink, WithHighWater(16), WithRouterLogger(zerolog.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for tg := 1; tg <= 5; tg++ {
		assert.False(t, r.Enqueue(frameFor(tg)))
	}

	require.Eventually(t, func() bool {
		return len(sink.talkgroups()) == 5
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, sink.talkgroups())
	assert.Zero(t, r.Dropped())
}

func TestDropOldestAboveHighWater(t *testing.T) {
	// No worker running: the queue fills and the oldest entries fall
	// out first.
	r := NewRouter(&captureSink{}, WithHighWater(3), WithRouterLogger(zerolog.Nop()))

	assert.False(t, r.Enqueue(frameFor(1)))
	assert.False(t, r.Enqueue(frameFor(2)))
	assert.False(t, r.Enqueue(frameFor(3)))
	assert.True(t, r.Enqueue(frameFor(4)), "fourth frame evicts the oldest")

	assert.Equal(t, 3, r.Depth())
	assert.Equal(t, uint64(1), r.Dropped())

	// Frame 1 is gone; 2 is now at the head.
	r.mu.Lock()
	head := r.queue[0].TalkGroup
	r.mu.Unlock()
	assert.Equal(t, 2, head)
}

func TestGainClampAndApplication(t *testing.T) {
	sink := &captureSink{}
	r := NewRouter(sink, WithGain(0.5), WithRouterLogger(zerolog.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Enqueue(&lmr.AudioFrame{TalkGroup: 1, PCM: []int16{1000, -1000}})

	require.Eventually(t, func() bool {
		return len(sink.talkgroups()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	pcm := sink.frames[0].PCM
	sink.mu.Unlock()
	assert.Equal(t, []int16{500, -500}, pcm)

	// Out-of-range gains clamp instead of amplifying.
	loud := NewRouter(sink, WithGain(4.0))
	assert.Equal(t, float32(1.0), loud.gain)
	quiet := NewRouter(sink, WithGain(-1))
	assert.Equal(t, float32(0), quiet.gain)
}

func TestSinkFailureMarksUnhealthyButWorkerSurvives(t *testing.T) {
	sink := &captureSink{}
	r := NewRouter(sink, WithRouterLogger(zerolog.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	sink.setFail(true)
	r.Enqueue(frameFor(1))

	require.Eventually(t, func() bool {
		return !r.Healthy()
	}, 2*time.Second, 10*time.Millisecond)

	// The worker keeps draining; recovery clears the flag.
	sink.setFail(false)
	r.Enqueue(frameFor(2))

	require.Eventually(t, func() bool {
		return r.Healthy() && len(sink.talkgroups()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{2}, sink.talkgroups())
}
