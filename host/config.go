// Package host wires the discovery responder, pairing service, session
// registry, transport endpoints, and stats aggregator into the single
// running process Section 6 calls the "process surface." It owns the
// only two pieces of explicit-lifetime global state Section 5 allows:
// the registry and the stats aggregator.
package host

import (
	"time"

	"github.com/google/uuid"

	media "github.com/pixelstream/streamhost"
	"github.com/pixelstream/streamhost/capture"
	"github.com/pixelstream/streamhost/session"
	"github.com/pixelstream/streamhost/wire"
)

// Config is Section 6's process surface configuration, plus the handful
// of fields (HostID, Hostname, Codecs, AdminAddr, Window) the host needs
// to actually stand the process up that Section 6's external-interface
// view doesn't itemize.
type Config struct {
	BindAddr    string
	ControlPort int
	VideoPort   int
	AudioPort   int
	InputPort   int

	MaxClients          int
	DefaultStreamConfig session.StreamConfig
	KeystorePath        string
	KeyframeIntervalMs  int
	MTUPayloadBytes     int

	// HostID identifies this host in discovery advertisements and is
	// also what the keystore's host identity ultimately signs for.
	HostID   uuid.UUID
	Hostname string
	Codecs   []string

	// AdminAddr binds the chi-routed health/status/metrics surface
	// (Section 6 supplemental: /healthz, /metrics).
	AdminAddr string

	// Window is the emulator render target every session on this host
	// captures from. One streamhostd process serves one emulator
	// instance, so this is fixed for the process's lifetime rather than
	// negotiated per Launch.
	Window capture.WindowHandle

	// LaunchTimeout bounds how long a Launch's ECDHE/admission/session
	// startup sequence may take before the control connection is
	// abandoned.
	LaunchTimeout time.Duration
}

// DefaultConfig returns Section 6's documented port and capacity
// defaults, plus a sensible default stream configuration.
func DefaultConfig() Config {
	return Config{
		BindAddr:    "0.0.0.0",
		ControlPort: 47989,
		VideoPort:   47998,
		AudioPort:   47996,
		InputPort:   47999,

		MaxClients:         10,
		KeystorePath:       "streamhost.keystore",
		KeyframeIntervalMs: 2000,
		MTUPayloadBytes:    1200,

		DefaultStreamConfig: session.StreamConfig{
			Width: 1920, Height: 1080, FPS: 60,
			Codec:           media.VideoCodecH264,
			TargetBitrate:   8_000_000,
			AudioChannels:   2,
			AudioSampleRate: 48000,
			Controllers:     1,
			FEC:             wire.DefaultFEC,
		},

		Hostname:  "streamhost",
		Codecs:    []string{"h264", "h265"},
		AdminAddr: "0.0.0.0:47990",

		LaunchTimeout: 10 * time.Second,
	}
}
