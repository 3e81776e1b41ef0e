// Package playback drives synthesized voice clips and derives the
// position-aware "speaking" signal the avatar animation follows.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrPlaybackFailed wraps any failure to load or start a clip.
var ErrPlaybackFailed = errors.New("playback: failed")

// Clip is a loaded audio resource. PCM carries the raw sample payload for
// delivery to an attached Sink.
type Clip struct {
	Ref      string
	Duration time.Duration
	PCM      []byte
}

// Loader resolves an audio ref (file path or URI) into a playable clip.
type Loader interface {
	Load(ctx context.Context, ref string) (Clip, error)
}

// Controller plays at most one clip at a time. Play stops any prior clip
// first; natural completion auto-unloads, so a following Stop is a no-op.
type Controller struct {
	loader   Loader
	tick     time.Duration
	onStatus func(Status)

	mu      sync.Mutex
	sink    Sink
	cancel  context.CancelFunc
	done    chan struct{}
	playing bool
}

// NewController builds a controller reporting status updates through
// onStatus (may be nil). Updates arrive on an internal goroutine.
func NewController(loader Loader, onStatus func(Status)) *Controller {
	return &Controller{loader: loader, tick: 50 * time.Millisecond, onStatus: onStatus}
}

// SetSink routes the PCM of subsequent clips to s (nil to disconnect).
func (c *Controller) SetSink(s Sink) {
	c.mu.Lock()
	c.sink = s
	c.mu.Unlock()
}

// Play loads ref and begins position-tracked playback. Any live clip is
// stopped and unloaded before the new one starts.
func (c *Controller) Play(ctx context.Context, ref string) error {
	c.Stop()

	clip, err := c.loader.Load(ctx, ref)
	if err != nil {
		c.emit(Errored{Message: err.Error()})
		return fmt.Errorf("%w: load %s: %v", ErrPlaybackFailed, ref, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.playing = true
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		sink.Reset()
		sink.WritePCM(clip.PCM)
	}
	go c.run(runCtx, clip, done)
	return nil
}

// Stop tears down any live clip and reports Unloaded. Idempotent; safe when
// nothing is loaded.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	wasPlaying := c.playing
	c.playing = false
	sink := c.sink
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if wasPlaying {
		if sink != nil {
			sink.Reset()
		}
		c.emit(Unloaded{})
	}
}

// Live reports whether a playback resource is currently held.
func (c *Controller) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *Controller) run(ctx context.Context, clip Clip, done chan struct{}) {
	defer close(done)

	start := time.Now()
	c.emit(Loaded{PositionMillis: 0, IsPlaying: true})

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pos := time.Since(start)
			if pos >= clip.Duration {
				// natural completion: report finish and auto-unload
				c.emit(Loaded{PositionMillis: clip.Duration.Milliseconds(), IsPlaying: false, DidJustFinish: true})
				c.mu.Lock()
				if c.done == done {
					c.cancel, c.done = nil, nil
					c.playing = false
				}
				c.mu.Unlock()
				c.emit(Unloaded{})
				return
			}
			c.emit(Loaded{PositionMillis: pos.Milliseconds(), IsPlaying: true})
		}
	}
}

func (c *Controller) emit(st Status) {
	if c.onStatus != nil {
		c.onStatus(st)
	}
}
