package session

import (
	"encoding/binary"

	media "github.com/pixelstream/streamhost"
	"github.com/pixelstream/streamhost/wire"
)

// qualityChangeBodySize is the fixed encoding of a StreamConfig used on
// the control channel's QualityChange variant: width, height, fps,
// bitrate, audio channels and sample rate as 4-byte big-endian words,
// then controllers, codec and one reserved byte. The FEC tier is not
// carried.
const qualityChangeBodySize = 4*6 + 1 + 1 + 1

// EncodeQualityChangeBody serializes a StreamConfig for ControlMessage.Body.
func EncodeQualityChangeBody(cfg StreamConfig) []byte {
	b := make([]byte, qualityChangeBodySize)
	binary.BigEndian.PutUint32(b[0:4], uint32(cfg.Width))
	binary.BigEndian.PutUint32(b[4:8], uint32(cfg.Height))
	binary.BigEndian.PutUint32(b[8:12], uint32(cfg.FPS))
	binary.BigEndian.PutUint32(b[12:16], uint32(cfg.TargetBitrate))
	binary.BigEndian.PutUint32(b[16:20], uint32(cfg.AudioChannels))
	binary.BigEndian.PutUint32(b[20:24], uint32(cfg.AudioSampleRate))
	b[24] = byte(cfg.Controllers)
	b[25] = byte(cfg.Codec)
	b[26] = 0 // reserved
	return b
}

// decodeQualityChangeBody parses EncodeQualityChangeBody's layout,
// carrying forward every field base doesn't mention (FEC tier) from the
// session's current config, since the wire format only negotiates the
// fields the adaptive controller or a client request can change.
func decodeQualityChangeBody(body []byte, base StreamConfig) (StreamConfig, bool) {
	if len(body) < qualityChangeBodySize {
		return StreamConfig{}, false
	}
	next := base
	next.Width = int(binary.BigEndian.Uint32(body[0:4]))
	next.Height = int(binary.BigEndian.Uint32(body[4:8]))
	next.FPS = int(binary.BigEndian.Uint32(body[8:12]))
	next.TargetBitrate = int(binary.BigEndian.Uint32(body[12:16]))
	next.AudioChannels = int(binary.BigEndian.Uint32(body[16:20]))
	next.AudioSampleRate = int(binary.BigEndian.Uint32(body[20:24]))
	next.Controllers = int(body[24])
	next.Codec = media.VideoCodec(body[25])
	return next, true
}

// EncodeStatisticsBody serializes a SessionStats summary for the
// Statistics control variant, the subset a client-facing HUD would want.
func EncodeStatisticsBody(st SessionStats) []byte {
	b := make([]byte, 8*4)
	binary.BigEndian.PutUint64(b[0:8], st.FramesEncoded)
	binary.BigEndian.PutUint64(b[8:16], st.KeyframesEncoded)
	binary.BigEndian.PutUint64(b[16:24], st.VideoDropped)
	binary.BigEndian.PutUint64(b[24:32], st.AudioDropped)
	return b
}

// NewStatisticsMessage wraps EncodeStatisticsBody as a ready-to-send
// ControlMessage.
func NewStatisticsMessage(st SessionStats) *wire.ControlMessage {
	return &wire.ControlMessage{Tag: wire.ControlStatistics, Body: EncodeStatisticsBody(st)}
}
