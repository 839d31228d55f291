// Package encoder implements the Hardware Encoder stage: turning raw
// capture frames/samples into H.264/H.265 NAL units and Opus packets,
// ready for the wire packetizer. Provider implementations register
// themselves into the root media package's encoder registry from their
// own init() functions; callers always go through media.NewVideoEncoder/
// media.NewAudioEncoder and never reference a provider type directly.
package encoder

import (
	"sync"
	"sync/atomic"

	media "github.com/pixelstream/streamhost"
)

func init() {
	media.RegisterVideoEncoder(media.VideoCodecH264, media.ProviderSoftware, newSoftwareVideoEncoder)
	media.RegisterVideoEncoder(media.VideoCodecH265, media.ProviderSoftware, newSoftwareVideoEncoder)
	media.RegisterAudioEncoder(media.AudioCodecOpus, media.ProviderSoftware, newSoftwareAudioEncoder)
}

// softwareVideoEncoder is the deterministic, dependency-free video
// encoder stand-in spec.md's Design Notes call for: it never touches a
// native library, and its output is an identity mapping of the input
// frame plus a small fixed header, so tests can assert byte-exact
// round-trips through capture -> encode -> packetize -> depacketize.
type softwareVideoEncoder struct {
	cfg media.VideoEncoderConfig

	mu            sync.Mutex
	frameNo       uint64
	keyframeEvery uint64
	forceKeyframe atomic.Bool
	stats         media.EncoderStats
}

func newSoftwareVideoEncoder(cfg media.VideoEncoderConfig) (media.VideoEncoder, error) {
	every := uint64(1)
	if cfg.FPS > 0 && cfg.KeyframeInterval > 0 {
		every = uint64(cfg.FPS) * uint64(cfg.KeyframeInterval) / 1000
		if every == 0 {
			every = 1
		}
	}
	return &softwareVideoEncoder{cfg: cfg, keyframeEvery: every}, nil
}

// softwareFrameHeader is prepended to the identity-mapped payload so a
// matching software decoder (used only in tests) can recover the frame's
// dimensions and format without an out-of-band SPS/PPS exchange.
type softwareFrameHeader struct {
	width, height int32
	format        int32
}

const softwareFrameHeaderSize = 12

func encodeSoftwareFrameHeader(h softwareFrameHeader) []byte {
	buf := make([]byte, softwareFrameHeaderSize)
	putInt32(buf[0:4], h.width)
	putInt32(buf[4:8], h.height)
	putInt32(buf[8:12], h.format)
	return buf
}

func putInt32(b []byte, v int32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func (e *softwareVideoEncoder) Encode(frame *media.VideoFrame) (*media.EncodedFrame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	header := encodeSoftwareFrameHeader(softwareFrameHeader{
		width: int32(frame.Width), height: int32(frame.Height), format: int32(frame.Format),
	})
	total := len(header)
	for _, plane := range frame.Data {
		total += len(plane)
	}
	data := make([]byte, 0, total)
	data = append(data, header...)
	for _, plane := range frame.Data {
		data = append(data, plane...)
	}

	isKeyframe := e.frameNo == 0 || e.forceKeyframe.CompareAndSwap(true, false)
	if !isKeyframe && e.keyframeEvery > 0 && e.frameNo%e.keyframeEvery == 0 {
		isKeyframe = true
	}
	e.frameNo++

	ft := media.FrameTypeDelta
	e.stats.FramesEncoded++
	e.stats.BytesEncoded += uint64(len(data))
	if isKeyframe {
		ft = media.FrameTypeKey
		e.stats.KeyframesEncoded++
	}

	return &media.EncodedFrame{
		Data:      data,
		FrameType: ft,
		Timestamp: uint32(frame.Timestamp / 1000 * 90 / 1000),
		Duration:  e.cfg.Codec.ClockRate() / uint32(max1(e.cfg.FPS)),
	}, nil
}

func max1(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}

func (e *softwareVideoEncoder) RequestKeyframe() { e.forceKeyframe.Store(true) }

func (e *softwareVideoEncoder) SetBitrate(bitrateBps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.BitrateBps = bitrateBps
	return nil
}

func (e *softwareVideoEncoder) Provider() media.Provider         { return media.ProviderSoftware }
func (e *softwareVideoEncoder) Config() media.VideoEncoderConfig { return e.cfg }
func (e *softwareVideoEncoder) Codec() media.VideoCodec          { return e.cfg.Codec }
func (e *softwareVideoEncoder) Stats() media.EncoderStats        { return e.stats }
func (e *softwareVideoEncoder) Close() error                     { return nil }

// softwareAudioEncoder mirrors softwareVideoEncoder's identity mapping
// for PCM chunks: no compression, a tiny header carrying sample rate and
// channel count.
type softwareAudioEncoder struct {
	cfg media.AudioEncoderConfig

	mu      sync.Mutex
	sampleN uint64
	stats   media.AudioEncoderStats
}

func newSoftwareAudioEncoder(cfg media.AudioEncoderConfig) (media.AudioEncoder, error) {
	return &softwareAudioEncoder{cfg: cfg}, nil
}

func (e *softwareAudioEncoder) Encode(samples *media.AudioSamples) (*media.EncodedAudio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	header := make([]byte, 8)
	putInt32(header[0:4], int32(samples.SampleRate))
	putInt32(header[4:8], int32(samples.Channels))
	data := append(header, samples.Data...)

	e.stats.FramesEncoded++
	e.stats.BytesEncoded += uint64(len(data))
	e.stats.SamplesEncoded += uint64(samples.SampleCount)
	e.sampleN += uint64(samples.SampleCount)

	return &media.EncodedAudio{
		Data:      data,
		Timestamp: uint32(samples.Timestamp / 1000 * 48 / 1000),
		Duration:  uint32(samples.SampleCount),
	}, nil
}

func (e *softwareAudioEncoder) Provider() media.Provider         { return media.ProviderSoftware }
func (e *softwareAudioEncoder) Config() media.AudioEncoderConfig { return e.cfg }
func (e *softwareAudioEncoder) Codec() media.AudioCodec          { return e.cfg.Codec }
func (e *softwareAudioEncoder) Stats() media.AudioEncoderStats   { return e.stats }
func (e *softwareAudioEncoder) Close() error                     { return nil }
