//go:build (darwin || linux) && !noh264 && !cgo

package encoder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"

	media "github.com/pixelstream/streamhost"
)

// Encode-only H.264 bindings against libstreamhost_h264, resolved at
// runtime with purego. There is no decode path: this host never decodes
// the stream it produces.

var (
	h264Once    sync.Once
	h264Handle  uintptr
	h264InitErr error
	h264Loaded  bool
)

var (
	h264EncoderCreate     func(width, height, fps, bitrateKbps, profile int32) uint64
	h264EncoderEncode     func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe int32, outData uintptr, outCapacity int32, outFrameType uintptr) int32
	h264EncoderMaxOutput  func(encoder uint64) int32
	h264EncoderSetBitrate func(encoder uint64, bitrateKbps int32) int32
	h264EncoderGetStats   func(encoder uint64, framesEncoded, keyframesEncoded, bytesEncoded uintptr)
	h264EncoderDestroy    func(encoder uint64)
	h264GetError          func() uintptr
)

const (
	h264ProfileBaseline = 66
	h264ProfileMain     = 77
	h264ProfileHigh     = 100

	h264FrameP   = 1
	h264FrameIDR = 3
)

func h264ProfileToNative(p media.H264Profile) int32 {
	switch p {
	case media.H264ProfileMain:
		return h264ProfileMain
	case media.H264ProfileHigh:
		return h264ProfileHigh
	default:
		return h264ProfileBaseline
	}
}

func loadH264Lib(libName string) error {
	var paths []string
	if envPath := os.Getenv("STREAMHOST_H264_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), libName))
	}
	paths = append(paths,
		filepath.Join("build", libName),
		filepath.Join("build", "ffi", libName),
		filepath.Join("/usr/local/lib", libName),
		filepath.Join("/usr/lib", libName),
	)

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			h264Handle = handle
			purego.RegisterLibFunc(&h264EncoderCreate, handle, "streamhost_h264_encoder_create")
			purego.RegisterLibFunc(&h264EncoderEncode, handle, "streamhost_h264_encoder_encode")
			purego.RegisterLibFunc(&h264EncoderMaxOutput, handle, "streamhost_h264_encoder_max_output")
			purego.RegisterLibFunc(&h264EncoderSetBitrate, handle, "streamhost_h264_encoder_set_bitrate")
			purego.RegisterLibFunc(&h264EncoderGetStats, handle, "streamhost_h264_encoder_get_stats")
			purego.RegisterLibFunc(&h264EncoderDestroy, handle, "streamhost_h264_encoder_destroy")
			purego.RegisterLibFunc(&h264GetError, handle, "streamhost_h264_get_error")
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load %s: %w", libName, lastErr)
	}
	return errors.New(libName + " not found in any standard location")
}

func initH264() {
	h264Once.Do(func() {
		libName := "libstreamhost_h264.so"
		if runtime.GOOS == "darwin" {
			libName = "libstreamhost_h264.dylib"
		}
		h264InitErr = loadH264Lib(libName)
		h264Loaded = h264InitErr == nil
	})
}

func init() {
	initH264()
	if h264Loaded {
		media.SetProviderAvailable(media.ProviderX264)
		media.RegisterVideoEncoder(media.VideoCodecH264, media.ProviderX264, newNativeH264Encoder)
	}
}

// nativeH264Encoder wraps one libstreamhost_h264 encoder instance.
type nativeH264Encoder struct {
	handle uint64
	cfg    media.VideoEncoderConfig

	mu            sync.Mutex
	forceKeyframe atomic.Bool
	outBuf        []byte
	stats         media.EncoderStats
}

func newNativeH264Encoder(cfg media.VideoEncoderConfig) (media.VideoEncoder, error) {
	if !h264Loaded {
		return nil, fmt.Errorf("libstreamhost_h264 unavailable: %w", h264InitErr)
	}
	handle := h264EncoderCreate(int32(cfg.Width), int32(cfg.Height), int32(cfg.FPS),
		int32(cfg.BitrateBps/1000), h264ProfileToNative(cfg.H264Profile))
	if handle == 0 {
		return nil, fmt.Errorf("streamhost_h264_encoder_create failed: %s", nativeErrString(h264GetError))
	}
	maxOut := int(h264EncoderMaxOutput(handle))
	if maxOut <= 0 {
		maxOut = cfg.Width * cfg.Height * 3 / 2
	}
	return &nativeH264Encoder{handle: handle, cfg: cfg, outBuf: make([]byte, maxOut)}, nil
}

func (e *nativeH264Encoder) Encode(frame *media.VideoFrame) (*media.EncodedFrame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(frame.Data) < 3 {
		return nil, fmt.Errorf("h264 encoder requires I420 input, got %d planes", len(frame.Data))
	}
	force := int32(0)
	if e.forceKeyframe.CompareAndSwap(true, false) {
		force = 1
	}

	var frameType int32
	n := h264EncoderEncode(e.handle,
		uintptr(unsafe.Pointer(&frame.Data[0][0])), uintptr(unsafe.Pointer(&frame.Data[1][0])), uintptr(unsafe.Pointer(&frame.Data[2][0])),
		int32(frame.Stride[0]), int32(frame.Stride[1]), force,
		uintptr(unsafe.Pointer(&e.outBuf[0])), int32(len(e.outBuf)),
		uintptr(unsafe.Pointer(&frameType)))
	if n < 0 {
		return nil, fmt.Errorf("streamhost_h264_encoder_encode failed: %s", nativeErrString(h264GetError))
	}

	e.stats.FramesEncoded++
	e.stats.BytesEncoded += uint64(n)
	ft := media.FrameTypeDelta
	if frameType == h264FrameIDR {
		ft = media.FrameTypeKey
		e.stats.KeyframesEncoded++
	}

	return &media.EncodedFrame{
		Data:      append([]byte(nil), e.outBuf[:n]...),
		FrameType: ft,
		Timestamp: uint32(frame.Timestamp / 1000 * 90 / 1000), // ns -> 90kHz ticks
	}, nil
}

func (e *nativeH264Encoder) RequestKeyframe() { e.forceKeyframe.Store(true) }

func (e *nativeH264Encoder) SetBitrate(bitrateBps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rc := h264EncoderSetBitrate(e.handle, int32(bitrateBps/1000)); rc != 0 {
		return fmt.Errorf("streamhost_h264_encoder_set_bitrate failed: %s", nativeErrString(h264GetError))
	}
	e.cfg.BitrateBps = bitrateBps
	return nil
}

func (e *nativeH264Encoder) Provider() media.Provider           { return media.ProviderX264 }
func (e *nativeH264Encoder) Config() media.VideoEncoderConfig   { return e.cfg }
func (e *nativeH264Encoder) Codec() media.VideoCodec            { return media.VideoCodecH264 }
func (e *nativeH264Encoder) Stats() media.EncoderStats          { return e.stats }

func (e *nativeH264Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		h264EncoderDestroy(e.handle)
		e.handle = 0
	}
	return nil
}

func nativeErrString(getter func() uintptr) string {
	ptr := getter()
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
