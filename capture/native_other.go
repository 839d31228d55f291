//go:build !linux || nocapture || cgo

package capture

import (
	"context"
	"fmt"

	media "github.com/pixelstream/streamhost"
)

// NativeAvailable always reports false on platforms (or build
// configurations) without a native capture backend wired up; callers fall
// back to TestPatternSource/ToneSource.
func NativeAvailable() bool { return false }

// OpenWindowCapture has no native implementation on this platform/build.
func OpenWindowCapture(window WindowHandle, cfg Config) (*NativeWindowCapture, error) {
	return nil, openError("open_window_capture", fmt.Errorf("native window capture unavailable on this platform"))
}

// OpenAudioLoopback has no native implementation on this platform/build.
func OpenAudioLoopback(cfg Config) (*NativeAudioLoopback, error) {
	return nil, openError("open_audio_loopback", fmt.Errorf("native audio loopback unavailable on this platform"))
}

// NativeWindowCapture is an opaque placeholder type on platforms without a
// native backend, kept so code referencing *NativeWindowCapture still
// compiles; OpenWindowCapture above always fails before one is allocated.
type NativeWindowCapture struct{}

func (c *NativeWindowCapture) NextFrame(ctx context.Context) (*media.VideoFrame, error) {
	return nil, ErrEndOfStream
}

func (c *NativeWindowCapture) Close() error { return nil }

// NativeAudioLoopback mirrors NativeWindowCapture's role for audio.
type NativeAudioLoopback struct{}

func (c *NativeAudioLoopback) NextSamples(ctx context.Context) (*media.AudioSamples, error) {
	return nil, ErrEndOfStream
}

func (c *NativeAudioLoopback) Close() error { return nil }
