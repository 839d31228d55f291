//go:build (darwin || linux) && !noopus && !cgo

package encoder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	media "github.com/pixelstream/streamhost"
)

// Encode-only Opus bindings against libstreamhost_opus, resolved at
// runtime with purego. No decode path.

var (
	opusOnce    sync.Once
	opusHandle  uintptr
	opusInitErr error
	opusLoaded  bool
)

var (
	opusEncoderCreate     func(sampleRate, channels, application int32) uint64
	opusEncoderEncode     func(encoder uint64, pcm uintptr, frameSize int32, outData uintptr, outCapacity int32) int32
	opusEncoderSetBitrate func(encoder uint64, bitrate int32) int32
	opusEncoderDestroy    func(encoder uint64)
	opusGetError          func() uintptr
)

const opusApplicationAudio = 2049

func loadOpusLib(libName string) error {
	var paths []string
	if envPath := os.Getenv("STREAMHOST_OPUS_LIB_PATH"); envPath != "" {
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
			opusHandle = handle
			purego.RegisterLibFunc(&opusEncoderCreate, handle, "streamhost_opus_encoder_create")
			purego.RegisterLibFunc(&opusEncoderEncode, handle, "streamhost_opus_encoder_encode")
			purego.RegisterLibFunc(&opusEncoderSetBitrate, handle, "streamhost_opus_encoder_set_bitrate")
			purego.RegisterLibFunc(&opusEncoderDestroy, handle, "streamhost_opus_encoder_destroy")
			purego.RegisterLibFunc(&opusGetError, handle, "streamhost_opus_get_error")
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load %s: %w", libName, lastErr)
	}
	return errors.New(libName + " not found in any standard location")
}

func initOpus() {
	opusOnce.Do(func() {
		libName := "libstreamhost_opus.so"
		if runtime.GOOS == "darwin" {
			libName = "libstreamhost_opus.dylib"
		}
		opusInitErr = loadOpusLib(libName)
		opusLoaded = opusInitErr == nil
	})
}

func init() {
	initOpus()
	if opusLoaded {
		media.SetProviderAvailable(media.ProviderLibopus)
		media.RegisterAudioEncoder(media.AudioCodecOpus, media.ProviderLibopus, newNativeOpusEncoder)
	}
}

type nativeOpusEncoder struct {
	handle uint64
	cfg    media.AudioEncoderConfig

	mu     sync.Mutex
	outBuf []byte
	stats  media.AudioEncoderStats
}

func newNativeOpusEncoder(cfg media.AudioEncoderConfig) (media.AudioEncoder, error) {
	if !opusLoaded {
		return nil, fmt.Errorf("libstreamhost_opus unavailable: %w", opusInitErr)
	}
	handle := opusEncoderCreate(int32(cfg.SampleRate), int32(cfg.Channels), opusApplicationAudio)
	if handle == 0 {
		return nil, fmt.Errorf("streamhost_opus_encoder_create failed: %s", nativeErrString(opusGetError))
	}
	if cfg.BitrateBps > 0 {
		opusEncoderSetBitrate(handle, int32(cfg.BitrateBps))
	}
	return &nativeOpusEncoder{handle: handle, cfg: cfg, outBuf: make([]byte, 4000)}, nil
}

func (e *nativeOpusEncoder) Encode(samples *media.AudioSamples) (*media.EncodedAudio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(samples.Data) == 0 {
		return nil, fmt.Errorf("opus encoder requires non-empty PCM input")
	}
	frameSize := int32(samples.SampleCount)
	n := opusEncoderEncode(e.handle, uintptr(unsafe.Pointer(&samples.Data[0])), frameSize,
		uintptr(unsafe.Pointer(&e.outBuf[0])), int32(len(e.outBuf)))
	if n < 0 {
		return nil, fmt.Errorf("streamhost_opus_encoder_encode failed: %s", nativeErrString(opusGetError))
	}

	e.stats.FramesEncoded++
	e.stats.BytesEncoded += uint64(n)
	e.stats.SamplesEncoded += uint64(samples.SampleCount)

	return &media.EncodedAudio{
		Data:      append([]byte(nil), e.outBuf[:n]...),
		Timestamp: uint32(samples.Timestamp / 1000 * 48 / 1000), // ns -> 48kHz ticks
		Duration:  uint32(samples.SampleCount),
	}, nil
}

func (e *nativeOpusEncoder) Provider() media.Provider           { return media.ProviderLibopus }
func (e *nativeOpusEncoder) Config() media.AudioEncoderConfig   { return e.cfg }
func (e *nativeOpusEncoder) Codec() media.AudioCodec            { return media.AudioCodecOpus }
func (e *nativeOpusEncoder) Stats() media.AudioEncoderStats     { return e.stats }

func (e *nativeOpusEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		opusEncoderDestroy(e.handle)
		e.handle = 0
	}
	return nil
}
