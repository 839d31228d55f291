//go:build linux && !nocapture && !cgo

package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	media "github.com/pixelstream/streamhost"
)

// This file implements the Linux capture backend against a native shared
// library that knows how to grab an emulator window's composited output
// (X11/Wayland specifics live entirely on the native side) and to read
// back a loopback PCM audio stream. Bindings are resolved at runtime with
// purego rather than cgo, so this package stays usable from a pure-Go
// build without a C toolchain.

var (
	winOnce    sync.Once
	winHandle  uintptr
	winInitErr error
	winLoaded  bool
)

var (
	winCaptureOpen       func(window uintptr, width, height, fps int32) uint64
	winCaptureNextFrame  func(handle uint64, yBuf, uBuf, vBuf uintptr, yLen, uLen, vLen int32) int32
	winCaptureClose      func(handle uint64)
	winCaptureGetError   func() uintptr
	audioLoopbackOpen    func(sampleRate, channels int32) uint64
	audioLoopbackRead    func(handle uint64, buf uintptr, bufLen int32) int32
	audioLoopbackClose   func(handle uint64)
	audioLoopbackGetErr  func() uintptr
)

func findCaptureLibrary(name string) string {
	paths := []string{os.Getenv("STREAMHOST_CAPTURE_LIB_PATH")}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Dir(exe))
	}
	paths = append(paths,
		"build", "build/ffi",
		"../build", "../build/ffi",
		"/usr/local/lib", "/usr/lib",
	)
	for _, p := range paths {
		if p == "" {
			continue
		}
		candidate := filepath.Join(p, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func initWindowCapture() {
	winOnce.Do(func() {
		libPath := findCaptureLibrary("libstreamhost_capture.so")
		if libPath == "" {
			winInitErr = fmt.Errorf("libstreamhost_capture.so not found")
			return
		}
		handle, err := purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			winInitErr = fmt.Errorf("capture: failed to load %s: %w", libPath, err)
			return
		}
		winHandle = handle
		purego.RegisterLibFunc(&winCaptureOpen, winHandle, "streamhost_window_capture_open")
		purego.RegisterLibFunc(&winCaptureNextFrame, winHandle, "streamhost_window_capture_next_frame")
		purego.RegisterLibFunc(&winCaptureClose, winHandle, "streamhost_window_capture_close")
		purego.RegisterLibFunc(&winCaptureGetError, winHandle, "streamhost_window_capture_get_error")
		purego.RegisterLibFunc(&audioLoopbackOpen, winHandle, "streamhost_audio_loopback_open")
		purego.RegisterLibFunc(&audioLoopbackRead, winHandle, "streamhost_audio_loopback_read")
		purego.RegisterLibFunc(&audioLoopbackClose, winHandle, "streamhost_audio_loopback_close")
		purego.RegisterLibFunc(&audioLoopbackGetErr, winHandle, "streamhost_audio_loopback_get_error")
		winLoaded = true
	})
}

// NativeAvailable reports whether the native capture library could be
// located and loaded on this host. Callers should fall back to
// TestPatternSource/ToneSource when it returns false.
func NativeAvailable() bool {
	initWindowCapture()
	return winLoaded
}

// nativeLastError reads a native *char error string without transferring
// ownership; the native side keeps a thread-local buffer it overwrites on
// the next call, so this must be read before issuing another native call.
func nativeLastError(getter func() uintptr) string {
	ptr := getter()
	if ptr == 0 {
		return ""
	}
	return goStringFromPtr(ptr)
}

// goStringFromPtr converts a native NUL-terminated C string to a Go
// string without requiring cgo.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	var length int
	for {
		b := *(*byte)(unsafe.Pointer(ptr + uintptr(length)))
		if b == 0 {
			break
		}
		length++
	}
	buf := make([]byte, length)
	for i := 0; i < length; i++ {
		buf[i] = *(*byte)(unsafe.Pointer(ptr + uintptr(i)))
	}
	return string(buf)
}

// NativeWindowCapture implements VideoCapture against the native window
// grabber. Frame buffers are pre-allocated and reused across NextFrame
// calls (zero-copy handoff into the capture library, then copied out
// once into a fresh media.VideoFrame so callers can retain it safely).
type NativeWindowCapture struct {
	handle uint64
	width  int
	height int

	mu     sync.Mutex
	closed bool
	yBuf   []byte
	uBuf   []byte
	vBuf   []byte
}

// OpenWindowCapture opens the native window capture backend for the given
// window handle at the requested resolution and frame rate.
func OpenWindowCapture(window WindowHandle, cfg Config) (*NativeWindowCapture, error) {
	initWindowCapture()
	if !winLoaded {
		return nil, openError("open_window_capture", winInitErr)
	}
	handle := winCaptureOpen(uintptr(window), int32(cfg.Width), int32(cfg.Height), int32(cfg.FPS))
	if handle == 0 {
		return nil, openError("open_window_capture", fmt.Errorf("%s", nativeLastError(winCaptureGetError)))
	}
	ySize := cfg.Width * cfg.Height
	uvSize := (cfg.Width / 2) * (cfg.Height / 2)
	return &NativeWindowCapture{
		handle: handle,
		width:  cfg.Width,
		height: cfg.Height,
		yBuf:   make([]byte, ySize),
		uBuf:   make([]byte, uvSize),
		vBuf:   make([]byte, uvSize),
	}, nil
}

func (c *NativeWindowCapture) NextFrame(ctx context.Context) (*media.VideoFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrEndOfStream
	}

	type result struct {
		frame *media.VideoFrame
		err   error
	}
	done := make(chan result, 1)
	go func() {
		rc := winCaptureNextFrame(c.handle,
			uintptr(unsafe.Pointer(&c.yBuf[0])), uintptr(unsafe.Pointer(&c.uBuf[0])), uintptr(unsafe.Pointer(&c.vBuf[0])),
			int32(len(c.yBuf)), int32(len(c.uBuf)), int32(len(c.vBuf)))
		switch rc {
		case 0:
			done <- result{frame: &media.VideoFrame{
				Data:   [][]byte{append([]byte(nil), c.yBuf...), append([]byte(nil), c.uBuf...), append([]byte(nil), c.vBuf...)},
				Stride: []int{c.width, c.width / 2, c.width / 2},
				Width:  c.width,
				Height: c.height,
				Format: media.PixelFormatI420,
			}}
		case 1:
			done <- result{err: ErrEndOfStream}
		default:
			done <- result{err: openError("next_frame", fmt.Errorf("%s", nativeLastError(winCaptureGetError)))}
		}
	}()

	select {
	case r := <-done:
		return r.frame, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *NativeWindowCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	winCaptureClose(c.handle)
	return nil
}

// NativeAudioLoopback implements AudioCapture against the native ALSA-style
// loopback reader.
type NativeAudioLoopback struct {
	handle     uint64
	sampleRate int
	channels   int

	mu     sync.Mutex
	closed bool
	buf    []byte
}

// OpenAudioLoopback opens the native audio loopback capture backend.
func OpenAudioLoopback(cfg Config) (*NativeAudioLoopback, error) {
	initWindowCapture()
	if !winLoaded {
		return nil, openError("open_audio_loopback", winInitErr)
	}
	handle := audioLoopbackOpen(int32(cfg.SampleRate), int32(cfg.Channels))
	if handle == 0 {
		return nil, openError("open_audio_loopback", fmt.Errorf("%s", nativeLastError(audioLoopbackGetErr)))
	}
	chunkSamples := cfg.SampleRate / 50 // 20ms chunks
	return &NativeAudioLoopback{
		handle:     handle,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		buf:        make([]byte, chunkSamples*cfg.Channels*2),
	}, nil
}

func (c *NativeAudioLoopback) NextSamples(ctx context.Context) (*media.AudioSamples, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrEndOfStream
	}

	type result struct {
		samples *media.AudioSamples
		err     error
	}
	done := make(chan result, 1)
	go func() {
		n := audioLoopbackRead(c.handle, uintptr(unsafe.Pointer(&c.buf[0])), int32(len(c.buf)))
		switch {
		case n > 0:
			data := append([]byte(nil), c.buf[:n]...)
			done <- result{samples: &media.AudioSamples{
				Data:        data,
				SampleRate:  c.sampleRate,
				Channels:    c.channels,
				SampleCount: int(n) / (c.channels * 2),
				Format:      media.AudioFormatS16,
			}}
		case n == 0:
			done <- result{err: ErrEndOfStream}
		default:
			done <- result{err: openError("next_samples", fmt.Errorf("%s", nativeLastError(audioLoopbackGetErr)))}
		}
	}()

	select {
	case r := <-done:
		return r.samples, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *NativeAudioLoopback) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	audioLoopbackClose(c.handle)
	return nil
}
