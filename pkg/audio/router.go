package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultHighWater = 64

	// The worker drains at roughly 100 Hz.
	drainInterval = 10 * time.Millisecond
)

// Router is the bounded playback queue between the call tracker and the
// audio sink. A single worker dequeues in order, applies the clamped
// gain, and blocks on the sink. When the queue tops the high-water mark
// the oldest frame is dropped and counted; a sink failure marks
// playback unhealthy but never kills the worker.
type Router struct {
	sink      Sink
	highWater int
	gain      float32
	logger    zerolog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	queue []*lmr.AudioFrame

	dropped   uint64
	played    uint64
	unhealthy int32
	playing   int32
}

type RouterOption func(r *Router)

func WithHighWater(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.highWater = n
		}
	}
}

// WithGain sets the per-frame playback gain, clamped to 0.0..1.0.
func WithGain(gain float64) RouterOption {
	return func(r *Router) {
		switch {
		case gain < 0:
			r.gain = 0
		case gain > 1:
			r.gain = 1
		default:
			r.gain = float32(gain)
		}
	}
}

func WithRouterLogger(logger zerolog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func NewRouter(sink Sink, opts ...RouterOption) *Router {
	r := &Router{
		sink:      sink,
		highWater: defaultHighWater,
		gain:      1.0,
		logger:    log.Logger,
	}
	r.cond = sync.NewCond(&r.mu)

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Enqueue appends a frame, dropping the oldest entry first when the
// queue is at the high-water mark. Reports whether a drop occurred.
func (r *Router) Enqueue(frame *lmr.AudioFrame) bool {
	r.mu.Lock()
	droppedOldest := false

	if len(r.queue) >= r.highWater {
		r.queue = r.queue[1:]
		r.dropped++
		droppedOldest = true
	}
	r.queue = append(r.queue, frame)

	r.mu.Unlock()
	r.cond.Signal()
	return droppedOldest
}

// Run drains the queue until the context closes.
func (r *Router) Run(ctx context.Context) error {
	// Wake the worker when the context dies so the cond wait cannot
	// outlive the pipeline.
	go func() {
		<-ctx.Done()
		r.cond.Broadcast()
	}()

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		frame := r.dequeue(ctx)
		if frame == nil {
			atomic.StoreInt32(&r.playing, 0)
			return ctx.Err()
		}
		atomic.StoreInt32(&r.playing, 1)

		r.applyGain(frame)
		if err := r.sink.Write(frame); err != nil {
			if atomic.SwapInt32(&r.unhealthy, 1) == 0 {
				r.logger.Error().Err(err).Msg("audio sink write failed; playback unhealthy")
			}
		} else {
			atomic.StoreInt32(&r.unhealthy, 0)
			r.played++
		}

		select {
		case <-ctx.Done():
			atomic.StoreInt32(&r.playing, 0)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Router) dequeue(ctx context.Context) *lmr.AudioFrame {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.queue) == 0 {
		if ctx.Err() != nil {
			return nil
		}
		r.cond.Wait()
	}

	frame := r.queue[0]
	r.queue = r.queue[1:]
	return frame
}

func (r *Router) applyGain(frame *lmr.AudioFrame) {
	if r.gain == 1.0 {
		return
	}
	for i, s := range frame.PCM {
		frame.PCM[i] = int16(float32(s) * r.gain)
	}
}

// Depth reports the current queue length.
func (r *Router) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Dropped counts frames discarded to honor the high-water mark.
func (r *Router) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Healthy reports whether the last sink write succeeded.
func (r *Router) Healthy() bool {
	return atomic.LoadInt32(&r.unhealthy) == 0
}

// Playing reports whether the worker is actively draining frames.
func (r *Router) Playing() bool {
	return atomic.LoadInt32(&r.playing) == 1
}
