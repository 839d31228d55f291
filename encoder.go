package media

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pixelstream/streamhost/streamerr"
)

// Common errors
var (
	ErrBufferTooSmall    = errors.New("buffer too small")
	ErrProviderNotFound  = errors.New("provider not available")
	ErrCodecNotSupported = errors.New("codec not supported by provider")
)

// VideoEncoderConfig configures a video encoder, per Section 4.6's Hardware
// Encoder contract and Section 3's StreamConfig.
type VideoEncoderConfig struct {
	Codec    VideoCodec
	Provider Provider

	Width      int
	Height     int
	FPS        int
	BitrateBps int

	MaxBitrateBps int
	MinBitrateBps int

	// KeyframeInterval bounds the time between forced keyframes (P2/I4);
	// the Open Question decision fixes the default at 2s, valid range
	// 500ms-10s. RequestKeyframe still forces an out-of-cadence keyframe.
	KeyframeInterval int // milliseconds
	RateControlMode  RateControlMode
	PayloadType      uint8

	H264Profile H264Profile
}

// DefaultVideoEncoderConfig returns a default encoder configuration with
// the Open Question's 2s keyframe interval.
func DefaultVideoEncoderConfig(codec VideoCodec, width, height int) VideoEncoderConfig {
	return VideoEncoderConfig{
		Codec:            codec,
		Provider:         ProviderAuto,
		Width:            width,
		Height:           height,
		FPS:              30,
		BitrateBps:       8_000_000,
		KeyframeInterval: 2000,
		RateControlMode:  RateControlVBR,
		PayloadType:      codec.DefaultPayloadType(),
	}
}

// MinKeyframeIntervalMs and MaxKeyframeIntervalMs bound the configurable
// keyframe cadence per the Open Question decision.
const (
	MinKeyframeIntervalMs = 500
	MaxKeyframeIntervalMs = 10000
)

// EncoderStats provides encoding metrics.
type EncoderStats struct {
	FramesEncoded    uint64
	KeyframesEncoded uint64
	BytesEncoded     uint64
	DroppedFrames    uint64
}

// VideoEncoder encodes raw video frames to a compressed bitstream. A
// VideoEncoder is single-session, single-goroutine: Encode is never
// called concurrently with itself by the session that owns it.
type VideoEncoder interface {
	io.Closer

	// Encode encodes one frame. The returned EncodedFrame's Data is valid
	// until the next Encode call.
	Encode(frame *VideoFrame) (*EncodedFrame, error)

	// RequestKeyframe forces the next Encode call to emit a keyframe,
	// independent of the configured cadence (used by the Adaptive
	// Controller on detected loss and by the Session on resync).
	RequestKeyframe()

	// SetBitrate updates the target bitrate dynamically, the Adaptive
	// Controller's primary lever (Section 4.8).
	SetBitrate(bitrateBps int) error

	Provider() Provider
	Config() VideoEncoderConfig
	Codec() VideoCodec
	Stats() EncoderStats
}

// AudioEncoderConfig configures an audio encoder.
type AudioEncoderConfig struct {
	Codec    AudioCodec
	Provider Provider

	SampleRate  int
	Channels    int
	BitrateBps  int
	FrameSizeMs int
	PayloadType uint8
}

// DefaultAudioEncoderConfig returns a default audio encoder configuration.
func DefaultAudioEncoderConfig(codec AudioCodec) AudioEncoderConfig {
	return AudioEncoderConfig{
		Codec:       codec,
		Provider:    ProviderAuto,
		SampleRate:  48000,
		Channels:    2,
		BitrateBps:  128000,
		FrameSizeMs: 20,
		PayloadType: codec.DefaultPayloadType(),
	}
}

// AudioEncoderStats provides audio encoding metrics.
type AudioEncoderStats struct {
	FramesEncoded  uint64
	BytesEncoded   uint64
	SamplesEncoded uint64
}

// AudioEncoder encodes raw PCM samples to a compressed bitstream.
type AudioEncoder interface {
	io.Closer
	Encode(samples *AudioSamples) (*EncodedAudio, error)
	Provider() Provider
	Config() AudioEncoderConfig
	Codec() AudioCodec
	Stats() AudioEncoderStats
}

// --- Registry ---

type videoEncoderFactory func(VideoEncoderConfig) (VideoEncoder, error)
type audioEncoderFactory func(AudioEncoderConfig) (AudioEncoder, error)

type encoderRegistry struct {
	mu sync.RWMutex

	videoProviders map[VideoCodec]map[Provider]videoEncoderFactory
	audioProviders map[AudioCodec]map[Provider]audioEncoderFactory

	videoDefaults map[VideoCodec]Provider
	audioDefaults map[AudioCodec]Provider
}

var globalEncoderRegistry = &encoderRegistry{
	videoProviders: make(map[VideoCodec]map[Provider]videoEncoderFactory),
	audioProviders: make(map[AudioCodec]map[Provider]audioEncoderFactory),
	videoDefaults:  make(map[VideoCodec]Provider),
	audioDefaults:  make(map[AudioCodec]Provider),
}

// RegisterVideoEncoder registers a video encoder factory for a
// codec+provider pair. Called from encoder package init() functions, one
// per provider implementation, mirroring the teacher's own
// provider-registration pattern.
func RegisterVideoEncoder(codec VideoCodec, provider Provider, factory func(VideoEncoderConfig) (VideoEncoder, error)) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()

	if globalEncoderRegistry.videoProviders[codec] == nil {
		globalEncoderRegistry.videoProviders[codec] = make(map[Provider]videoEncoderFactory)
	}
	globalEncoderRegistry.videoProviders[codec][provider] = factory

	current, exists := globalEncoderRegistry.videoDefaults[codec]
	if !exists || (provider.License().Permissive() && !current.License().Permissive()) {
		globalEncoderRegistry.videoDefaults[codec] = provider
	}
}

// RegisterAudioEncoder registers an audio encoder factory for a
// codec+provider pair.
func RegisterAudioEncoder(codec AudioCodec, provider Provider, factory func(AudioEncoderConfig) (AudioEncoder, error)) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()

	if globalEncoderRegistry.audioProviders[codec] == nil {
		globalEncoderRegistry.audioProviders[codec] = make(map[Provider]audioEncoderFactory)
	}
	globalEncoderRegistry.audioProviders[codec][provider] = factory

	current, exists := globalEncoderRegistry.audioDefaults[codec]
	if !exists || (provider.License().Permissive() && !current.License().Permissive()) {
		globalEncoderRegistry.audioDefaults[codec] = provider
	}
}

// NewVideoEncoder creates a video encoder, resolving config.Provider via
// the registry (ProviderAuto picks the most permissive registered
// provider for the codec).
func NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	if config.KeyframeInterval != 0 &&
		(config.KeyframeInterval < MinKeyframeIntervalMs || config.KeyframeInterval > MaxKeyframeIntervalMs) {
		return nil, streamerr.Wrap(streamerr.Encoder, "media.NewVideoEncoder",
			fmt.Errorf("keyframe interval %dms out of range [%d,%d]",
				config.KeyframeInterval, MinKeyframeIntervalMs, MaxKeyframeIntervalMs))
	}

	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()

	providers := globalEncoderRegistry.videoProviders[config.Codec]
	if providers == nil {
		return nil, fmt.Errorf("%w: no providers for %s", ErrCodecNotSupported, config.Codec)
	}

	p := config.Provider
	if p == ProviderAuto {
		p = globalEncoderRegistry.videoDefaults[config.Codec]
	}

	factory, ok := providers[p]
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, p, config.Codec)
	}

	return factory(config)
}

// NewAudioEncoder creates an audio encoder, resolving config.Provider via
// the registry the same way NewVideoEncoder does.
func NewAudioEncoder(config AudioEncoderConfig) (AudioEncoder, error) {
	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()

	providers := globalEncoderRegistry.audioProviders[config.Codec]
	if providers == nil {
		return nil, fmt.Errorf("%w: no providers for %s", ErrCodecNotSupported, config.Codec)
	}

	p := config.Provider
	if p == ProviderAuto {
		p = globalEncoderRegistry.audioDefaults[config.Codec]
	}

	factory, ok := providers[p]
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, p, config.Codec)
	}

	return factory(config)
}

// VideoEncoderProviders returns available providers for a video codec.
func VideoEncoderProviders(codec VideoCodec) []Provider {
	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()

	providers := globalEncoderRegistry.videoProviders[codec]
	result := make([]Provider, 0, len(providers))
	for p := range providers {
		if p.Available() {
			result = append(result, p)
		}
	}
	return result
}

// AudioEncoderProviders returns available providers for an audio codec.
func AudioEncoderProviders(codec AudioCodec) []Provider {
	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()

	providers := globalEncoderRegistry.audioProviders[codec]
	result := make([]Provider, 0, len(providers))
	for p := range providers {
		if p.Available() {
			result = append(result, p)
		}
	}
	return result
}
