// Package capture implements Section 4.5's Capture Source: locating the
// emulator's window and producing a lazy, finite sequence of raw video
// frames and PCM audio buffers at a target cadence.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	media "github.com/pixelstream/streamhost"
	"github.com/pixelstream/streamhost/streamerr"
)

// ErrEndOfStream is returned by NextFrame/NextSamples once the capture
// source has no more data to produce (the emulator window closed, or the
// source was explicitly stopped).
var ErrEndOfStream = errors.New("capture: end of stream")

// WindowHandle identifies the emulator's render target. Its concrete
// value is platform-specific (an X11 Window id, an HWND, …); the capture
// backend that Open was called against is the only thing that interprets
// it.
type WindowHandle uintptr

// Config describes the target capture cadence and format, mirroring the
// width/height/fps fields of Section 3's StreamConfig.
type Config struct {
	Width      int
	Height     int
	FPS        int
	SampleRate int // audio only
	Channels   int // audio only
}

// VideoCapture is the Contract of Section 4.5 for the video sequence:
// `open(window_handle) -> CaptureHandle`, `next_frame() -> Frame |
// EndOfStream | TransientError`.
type VideoCapture interface {
	// NextFrame blocks until a frame is available, ctx is done, or the
	// stream ends. The returned frame is valid until the next call.
	NextFrame(ctx context.Context) (*media.VideoFrame, error)
	Close() error
}

// AudioCapture is the audio-sequence half of the same contract.
type AudioCapture interface {
	NextSamples(ctx context.Context) (*media.AudioSamples, error)
	Close() error
}

// StallPolicy bounds how long NextFrame/NextSamples will wait for the
// backend before reporting a transient stall, per Section 4.4's "Capture
// source stall > one frame interval" tie-break.
type StallPolicy struct {
	FrameInterval time.Duration
}

func (p StallPolicy) deadline(now time.Time) time.Time {
	interval := p.FrameInterval
	if interval <= 0 {
		interval = time.Second / 30
	}
	return now.Add(interval)
}

// openError classifies a backend open failure into the Capture taxonomy.
func openError(op string, err error) error {
	if err == nil {
		return nil
	}
	return streamerr.Wrap(streamerr.Capture, op, err)
}

// frameTicker paces a deterministic source at Config.FPS, used by the
// software test source and by any backend that doesn't have its own
// hardware vsync signal to wait on.
type frameTicker struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func newFrameTicker(fps int) *frameTicker {
	if fps <= 0 {
		fps = 30
	}
	return &frameTicker{interval: time.Second / time.Duration(fps)}
}

// wait blocks until the next tick is due or ctx is cancelled.
func (t *frameTicker) wait(ctx context.Context, now func() time.Time) error {
	t.mu.Lock()
	if t.next.IsZero() {
		t.next = now()
	}
	target := t.next
	t.next = t.next.Add(t.interval)
	t.mu.Unlock()

	delay := target.Sub(now())
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errClosed = fmt.Errorf("capture: source closed")

// OpenVideo opens the best available video capture backend for window,
// falling back to the deterministic TestPatternSource when no native
// backend could be loaded.
func OpenVideo(window WindowHandle, cfg Config) (VideoCapture, error) {
	if NativeAvailable() {
		if nc, err := OpenWindowCapture(window, cfg); err == nil {
			return nc, nil
		}
	}
	return NewTestPatternSource(cfg.Width, cfg.Height, cfg.FPS), nil
}

// OpenAudio opens the best available audio capture backend, falling back
// to the deterministic ToneSource when no native backend could be
// loaded.
func OpenAudio(cfg Config) (AudioCapture, error) {
	if NativeAvailable() {
		if nc, err := OpenAudioLoopback(cfg); err == nil {
			return nc, nil
		}
	}
	return NewToneSource(cfg.SampleRate, cfg.Channels, 20), nil
}
