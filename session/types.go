package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	media "github.com/pixelstream/streamhost"
	"github.com/pixelstream/streamhost/wire"
)

// ClientID is the 128-bit opaque identifier assigned to a client at first
// pairing, stable across every future session it launches.
type ClientID = uuid.UUID

// SessionID is the 128-bit identifier minted fresh for each Launch.
type SessionID = uuid.UUID

// NewSessionID mints a fresh session identifier.
func NewSessionID() SessionID { return uuid.New() }

// StreamConfig is Section 3's immutable-after-start configuration for one
// session's video and audio streams.
type StreamConfig struct {
	Width           int
	Height          int
	FPS             int // 30 or 60
	Codec           media.VideoCodec
	TargetBitrate   int // bits per second
	AudioChannels   int // 2 or 6
	AudioSampleRate int // 48000
	Controllers     int // 1..4
	FEC             wire.FECConfig
}

// Validate checks StreamConfig against Section 3's stated domains.
func (c StreamConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("session: invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.FPS != 30 && c.FPS != 60 {
		return fmt.Errorf("session: fps must be 30 or 60, got %d", c.FPS)
	}
	if c.Codec != media.VideoCodecH264 && c.Codec != media.VideoCodecH265 {
		return fmt.Errorf("session: unsupported codec %s", c.Codec)
	}
	if c.AudioChannels != 2 && c.AudioChannels != 6 {
		return fmt.Errorf("session: audio channels must be 2 or 6, got %d", c.AudioChannels)
	}
	if c.Controllers < 1 || c.Controllers > 4 {
		return fmt.Errorf("session: controller count must be 1..4, got %d", c.Controllers)
	}
	if c.TargetBitrate <= 0 {
		return fmt.Errorf("session: target bitrate must be positive")
	}
	return nil
}

// needsEncoderRebuild reports whether new differs from c in resolution,
// fps, or codec, which ApplyQuality can only apply by recreating the
// encoder; bitrate and FEC tier changes are carried across an IDR
// boundary without a rebuild.
func (c StreamConfig) needsEncoderRebuild(new StreamConfig) bool {
	return c.Width != new.Width || c.Height != new.Height || c.FPS != new.FPS || c.Codec != new.Codec
}

// TeardownReason is one of Section 6's control-plane teardown codes.
type TeardownReason string

const (
	ReasonOK                TeardownReason = "ok"
	ReasonPeerTimeout        TeardownReason = "peer_timeout"
	ReasonProtocolViolation  TeardownReason = "protocol_violation"
	ReasonFatalResource      TeardownReason = "fatal_resource"
	ReasonAdminStop          TeardownReason = "admin_stop"
)

// SessionStats is the non-blocking snapshot Observe() returns, matching
// the fields Section 4.4's observe() operation and Section 8's Testable
// Properties need to assert against.
type SessionStats struct {
	State  State
	Uptime time.Duration

	FramesEncoded    uint64
	KeyframesEncoded uint64
	BytesSentVideo   uint64
	BytesSentAudio   uint64
	VideoDropped     uint64
	AudioDropped     uint64

	InputApplied    uint64
	InputDuplicates uint64
	InputDropped    uint64

	LastHeartbeat time.Time
	StallRepeats  uint64

	TeardownReason TeardownReason
}
