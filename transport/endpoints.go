// Package transport implements Section 2's Transport Endpoints component:
// one reliable control stream plus the video, audio, and input UDP
// channels, bound per session over process-wide shared sockets, with the
// per-channel back-pressure policies Section 5 specifies.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Config holds the bind address and fixed default ports from Section 6.
type Config struct {
	BindAddr    string
	ControlPort int
	VideoPort   int
	AudioPort   int
	InputPort   int

	// VideoQueueDepth bounds the drop-oldest video send queue.
	VideoQueueDepth int
	// AudioQueueDepth bounds the block-brief audio send queue.
	AudioQueueDepth int
	// AudioGrace is how long an audio send blocks before dropping.
	AudioGrace time.Duration
	// InputRingDepth bounds the lock-free input receive ring.
	InputRingDepth int
}

// DefaultConfig returns Section 6's documented port defaults.
func DefaultConfig() Config {
	return Config{
		BindAddr:        "0.0.0.0",
		ControlPort:     47989,
		VideoPort:       47998,
		AudioPort:       47996,
		InputPort:       47999,
		VideoQueueDepth: 64,
		AudioQueueDepth: 32,
		AudioGrace:      15 * time.Millisecond,
		InputRingDepth:  256,
	}
}

// Transport owns the process-wide listening sockets shared by every
// session. It is created once at host startup.
type Transport struct {
	cfg Config

	control *ControlListener
	video   *sharedSocket
	audio   *sharedSocket
	input   *sharedSocket
}

// Listen binds the control TCP listener and the three UDP sockets. Callers
// should treat a bind failure here as initialization failure (Section 6's
// "non-zero on unrecoverable initialization failure").
func Listen(cfg Config) (*Transport, error) {
	control, err := listenControl(cfg.BindAddr, cfg.ControlPort)
	if err != nil {
		return nil, err
	}
	video, err := listenUDP(cfg.BindAddr, cfg.VideoPort)
	if err != nil {
		control.Close()
		return nil, err
	}
	audio, err := listenUDP(cfg.BindAddr, cfg.AudioPort)
	if err != nil {
		control.Close()
		video.close()
		return nil, err
	}
	input, err := listenUDP(cfg.BindAddr, cfg.InputPort)
	if err != nil {
		control.Close()
		video.close()
		audio.close()
		return nil, err
	}
	return &Transport{cfg: cfg, control: control, video: video, audio: audio, input: input}, nil
}

// AcceptControl blocks for the next inbound control connection, which
// begins either a pairing attempt or a Launch against an already-paired
// client.
func (t *Transport) AcceptControl() (*ControlConn, error) {
	return t.control.Accept()
}

// Endpoints bundles the four bound channels belonging to one Session
// (Section 3's Session.channel_endpoints, I2's "exactly four bound
// endpoints").
type Endpoints struct {
	Control *ControlConn
	Video   *VideoEndpoint
	Audio   *AudioEndpoint
	Input   *InputEndpoint
}

// BindSession wires a session's video/audio/input endpoints against the
// process-wide UDP sockets, completing the four endpoints I2 requires. The
// client's IP is known from its control connection; the exact UDP port it
// is sending/listening on each channel is learned from that channel's
// first inbound datagram (its punch/keepalive packet), bounded by ctx.
func (t *Transport) BindSession(ctx context.Context, control *ControlConn) (*Endpoints, error) {
	ip, err := remoteIP(control)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve session remote ip: %w", err)
	}

	videoAddr, err := t.video.awaitFirstFrom(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("transport: video rendezvous: %w", err)
	}
	audioAddr, err := t.audio.awaitFirstFrom(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("transport: audio rendezvous: %w", err)
	}
	inputAddr, err := t.input.awaitFirstFrom(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("transport: input rendezvous: %w", err)
	}

	return &Endpoints{
		Control: control,
		Video:   newVideoEndpoint(t.video, videoAddr, t.cfg.VideoQueueDepth),
		Audio:   newAudioEndpoint(t.audio, audioAddr, t.cfg.AudioQueueDepth, t.cfg.AudioGrace),
		Input:   newInputEndpoint(t.input, inputAddr, t.cfg.InputRingDepth),
	}, nil
}

// remoteIP derives the client's IP from its control connection's TCP
// remote address.
func remoteIP(control *ControlConn) (net.IP, error) {
	host, _, err := net.SplitHostPort(control.RemoteAddr().String())
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("transport: could not parse remote ip %q", host)
	}
	return ip, nil
}

// Close releases an endpoint bundle's video/audio/input registrations.
// The control connection is closed separately by its owner, since its
// lifetime may outlive a single Endpoints bundle during re-launch.
func (e *Endpoints) Close() {
	e.Video.Close()
	e.Audio.Close()
	e.Input.Close()
}

// Close shuts down every process-wide listening socket.
func (t *Transport) Close() error {
	t.control.Close()
	t.video.close()
	t.audio.close()
	t.input.close()
	return nil
}
