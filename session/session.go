package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	media "github.com/pixelstream/streamhost"
	"github.com/pixelstream/streamhost/adaptive"
	"github.com/pixelstream/streamhost/capture"
	"github.com/pixelstream/streamhost/pairing"
	"github.com/pixelstream/streamhost/streamerr"
	"github.com/pixelstream/streamhost/transport"
	"github.com/pixelstream/streamhost/wire"
)

// DefaultPeerTimeout is Section 4.4's default T_timeout: how long a
// session tolerates a missing heartbeat before tearing down.
const DefaultPeerTimeout = 5 * time.Second

// maxStallRepeats is Section 4.4's K: how many times a stalled capture
// source's last encoded frame is repeated (keyframe=false) before the
// session degrades.
const maxStallRepeats = 3

// Deps bundles the already-opened resources a Session needs; the
// registry/host layer constructs these (so capture handle lifetime and
// admission stay outside the Session itself) and hands ownership to
// Start.
type Deps struct {
	ClientID  ClientID
	SessionID SessionID
	Keys      wire.SessionKeys
	Endpoints *transport.Endpoints
	Window    capture.WindowHandle
	Logger    logging.LeveledLogger

	// Offenders is the shared rate-limit table a protocol violation on
	// this session records into (Section 4.4, scenario 6). Optional: a
	// nil table just means protocol violations aren't rate-limited.
	Offenders *pairing.OffenderTable
}

// Session is the per-client orchestrator of Section 4.4: it owns one
// capture handle, one encoder pair, the four transport endpoints, and the
// session keys, and drives them through the state machine until Stop.
type Session struct {
	clientID  ClientID
	sessionID SessionID
	logger    logging.LeveledLogger

	state     stateWord
	startedAt time.Time

	cfg       atomic.Pointer[StreamConfig]
	pendingCfg atomic.Pointer[StreamConfig]

	keys wire.SessionKeys
	ep   *transport.Endpoints

	videoCapture capture.VideoCapture
	audioCapture capture.AudioCapture
	// videoEncoder is rebuilt in place by applyStagedQuality (running on
	// the encode goroutine) while captureVideoLoop and Observe read it
	// from other goroutines; atomic.Pointer guards that reassignment the
	// same way cfg/pendingCfg do above.
	videoEncoder atomic.Pointer[media.VideoEncoder]
	audioEncoder media.AudioEncoder
	videoPkt     *wire.Packetizer
	audioPkt     *wire.Packetizer
	adaptiveCtl  *adaptive.Controller

	window capture.WindowHandle

	forceKeyframe atomic.Bool

	stats      statCounters
	lastHeartbeat atomic.Pointer[time.Time]
	peerTimeout   time.Duration

	lossRate atomic.Uint64 // bits of a float64, last client-reported fraction lost
	jitterMs atomic.Uint64 // bits of a float64, last client-reported jitter in ms

	teardownReason atomic.Pointer[TeardownReason]

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	streamingCh chan struct{}
	streamedOnce sync.Once

	teardownOnce sync.Once
	reaperDone   chan struct{}

	controllerLast [4]uint16 // per-controller last-applied input sequence

	injector InputInjector

	offenders *pairing.OffenderTable
}

// SetInjector installs the controller input sink. Must be called before
// Start; the host layer owns the concrete emulator-facing implementation.
func (s *Session) SetInjector(inj InputInjector) { s.injector = inj }

// loadVideoEncoder returns the current video encoder, or nil if Start
// hasn't installed one yet.
func (s *Session) loadVideoEncoder() media.VideoEncoder {
	if enc := s.videoEncoder.Load(); enc != nil {
		return *enc
	}
	return nil
}

// statCounters holds the atomic counters backing Observe()'s snapshot.
type statCounters struct {
	inputApplied, inputDuplicates, inputDropped atomic.Uint64
	stallRepeats                                atomic.Uint64
}

// New constructs a Session in the Negotiating state. The caller (normally
// the registry, after admission succeeds) still must call Start.
func New(d Deps) *Session {
	s := &Session{
		clientID:    d.ClientID,
		sessionID:   d.SessionID,
		logger:      d.Logger,
		keys:        d.Keys,
		ep:          d.Endpoints,
		window:      d.Window,
		peerTimeout: DefaultPeerTimeout,
		streamingCh: make(chan struct{}),
		reaperDone:  make(chan struct{}),
		offenders:   d.Offenders,
	}
	s.state.init(Negotiating)
	now := time.Now()
	s.lastHeartbeat.Store(&now)
	return s
}

// ClientID reports the owning client.
func (s *Session) ClientID() ClientID { return s.clientID }

// SessionID reports this session's identifier.
func (s *Session) SessionID() SessionID { return s.sessionID }

// State returns the current state, safe to call concurrently.
func (s *Session) State() State { return s.state.load() }

// Done returns a channel closed once the session has fully torn down
// and reached Terminated, whether that teardown was requested by an
// explicit Stop or triggered internally (peer timeout, protocol
// violation, fatal resource error). Callers that only need to know when
// a session has ended — the registry's owning orchestrator, typically —
// can select on this instead of calling the blocking Stop.
func (s *Session) Done() <-chan struct{} { return s.reaperDone }

// Start opens the capture and encoder resources for config, binds the
// session's worker tasks, and blocks until the first encoded frame has
// been sent (Launching -> Streaming) or setup fails, in which case every
// partially-opened resource is released before returning the error —
// Section 3's I2 holds for every observer from the moment Start returns.
func (s *Session) Start(ctx context.Context, config StreamConfig) error {
	if err := config.Validate(); err != nil {
		return streamerr.Wrap(streamerr.Admission, "session.Start", err)
	}
	if !s.state.set(Launching) {
		return fmt.Errorf("session: Start called from state %s", s.state.load())
	}
	s.cfg.Store(&config)
	s.startedAt = time.Now()

	capCfg := capture.Config{
		Width: config.Width, Height: config.Height, FPS: config.FPS,
		SampleRate: config.AudioSampleRate, Channels: config.AudioChannels,
	}
	videoCap, err := capture.OpenVideo(s.window, capCfg)
	if err != nil {
		return s.failStart(streamerr.Wrap(streamerr.Capture, "session.Start.video", err))
	}
	audioCap, err := capture.OpenAudio(capCfg)
	if err != nil {
		videoCap.Close()
		return s.failStart(streamerr.Wrap(streamerr.Capture, "session.Start.audio", err))
	}

	videoEnc, err := media.NewVideoEncoder(media.VideoEncoderConfig{
		Codec: config.Codec, Provider: media.ProviderAuto,
		Width: config.Width, Height: config.Height, FPS: config.FPS,
		BitrateBps: config.TargetBitrate, KeyframeInterval: 2000,
	})
	if err != nil {
		videoCap.Close()
		audioCap.Close()
		return s.failStart(streamerr.Wrap(streamerr.Encoder, "session.Start.videoEncoder", err))
	}
	audioEnc, err := media.NewAudioEncoder(media.AudioEncoderConfig{
		Codec: media.AudioCodecOpus, Provider: media.ProviderAuto,
		SampleRate: config.AudioSampleRate, Channels: config.AudioChannels,
		BitrateBps: 128000, FrameSizeMs: 20,
	})
	if err != nil {
		videoCap.Close()
		audioCap.Close()
		videoEnc.Close()
		return s.failStart(streamerr.Wrap(streamerr.Encoder, "session.Start.audioEncoder", err))
	}

	s.videoCapture = videoCap
	s.audioCapture = audioCap
	s.videoEncoder.Store(&videoEnc)
	s.audioEncoder = audioEnc
	s.videoPkt = wire.NewVideoPacketizer(1200, config.FEC, s.keys.Video)
	s.audioPkt = wire.NewAudioPacketizer(s.keys.Audio)
	s.adaptiveCtl = adaptive.NewController(adaptive.DefaultConfig(config.TargetBitrate))

	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.wg.Add(4)
	go s.videoPipeline(s.runCtx)
	go s.audioPipeline(s.runCtx)
	go s.inputDispatch(s.runCtx)
	go s.heartbeatLoop(s.runCtx)

	select {
	case <-s.streamingCh:
		return nil
	case <-s.reaperDone:
		// A worker hit a fatal error before the first frame and already
		// drove teardown through to Terminated; streamingCh will never
		// close, so report the reason that actually killed it instead of
		// hanging here forever.
		reason := ReasonFatalResource
		if tr := s.teardownReason.Load(); tr != nil {
			reason = *tr
		}
		return fmt.Errorf("session: start failed: %s", reason)
	case <-ctx.Done():
		s.Stop(ReasonFatalResource)
		return ctx.Err()
	}
}

func (s *Session) failStart(err error) error {
	s.state.set(TearingDown)
	s.state.set(Terminated)
	return err
}

// markStreaming performs the one-shot Launching -> Streaming transition
// once the first frame has been encoded and handed to the transport.
func (s *Session) markStreaming() {
	s.streamedOnce.Do(func() {
		s.state.set(Streaming)
		close(s.streamingCh)
	})
}

// degrade transitions Streaming -> Degraded, a no-op if already degraded
// or not streaming.
func (s *Session) degrade() {
	s.state.set(Degraded)
}

// recover transitions Degraded -> Streaming once metrics improve.
func (s *Session) recover() {
	s.state.set(Streaming)
}

// RequestKeyframe marks a keyframe as due on the next encode opportunity.
// Idempotent and coalescing: repeated calls within the same frame interval
// collapse to the one pending request the flag represents.
func (s *Session) RequestKeyframe() {
	s.forceKeyframe.Store(true)
}

// ApplyQuality stages a new StreamConfig to take effect on the next IDR
// boundary, per Section 4.4's "staged, applied on next IDR boundary".
func (s *Session) ApplyQuality(newConfig StreamConfig) error {
	if err := newConfig.Validate(); err != nil {
		return streamerr.Wrap(streamerr.Admission, "session.ApplyQuality", err)
	}
	cur := s.cfg.Load()
	if cur != nil && *cur == newConfig {
		return nil
	}
	s.pendingCfg.Store(&newConfig)
	s.RequestKeyframe()
	return nil
}

// Observe returns a non-blocking snapshot of session statistics.
func (s *Session) Observe() SessionStats {
	st := SessionStats{
		State:           s.state.load(),
		InputApplied:    s.stats.inputApplied.Load(),
		InputDuplicates: s.stats.inputDuplicates.Load(),
		InputDropped:    s.stats.inputDropped.Load(),
		StallRepeats:    s.stats.stallRepeats.Load(),
	}
	if !s.startedAt.IsZero() {
		st.Uptime = time.Since(s.startedAt)
	}
	if lh := s.lastHeartbeat.Load(); lh != nil {
		st.LastHeartbeat = *lh
	}
	if tr := s.teardownReason.Load(); tr != nil {
		st.TeardownReason = *tr
	}
	if enc := s.loadVideoEncoder(); enc != nil {
		vs := enc.Stats()
		st.FramesEncoded = vs.FramesEncoded
		st.KeyframesEncoded = vs.KeyframesEncoded
		st.BytesSentVideo = vs.BytesEncoded
	}
	if s.audioEncoder != nil {
		as := s.audioEncoder.Stats()
		st.BytesSentAudio = as.BytesEncoded
	}
	if s.ep != nil {
		st.VideoDropped = s.ep.Video.DroppedPackets()
		st.AudioDropped = s.ep.Audio.DroppedPackets()
	}
	return st
}

// Stop tears the session down and blocks until every owned resource is
// released, satisfying I5 and P4: no outbound packet is sent after Stop
// returns, and every bound port is closed. Safe to call more than once
// and safe to call concurrently with the session's own worker tasks
// (which use triggerTeardown instead, since they must not block waiting
// on their own group).
func (s *Session) Stop(reason TeardownReason) {
	s.triggerTeardown(reason)
	<-s.reaperDone
}

// triggerTeardown requests teardown without blocking: it cancels the run
// context and, the first time it's called, spawns the reaper goroutine
// that waits for every worker task to exit before releasing resources.
// Session's own worker goroutines call this (via reportError or a direct
// control message) rather than Stop, since Stop's wg.Wait would deadlock
// against the very goroutine calling it.
func (s *Session) triggerTeardown(reason TeardownReason) {
	s.teardownOnce.Do(func() {
		from := s.state.load()
		if from == Terminated {
			close(s.reaperDone)
			return
		}
		if !s.state.set(TearingDown) {
			// Negotiating -> TearingDown is not in the diagram, but
			// teardown must still be safe before Start reaches Streaming.
			s.state.init(TearingDown)
		}
		s.teardownReason.Store(&reason)
		if s.runCancel != nil {
			s.runCancel()
		}
		go s.reap()
	})
}

// reap waits for every worker task to exit, releases every owned OS
// resource in capture -> encoder -> channels -> keys order (Section 3's
// documented destructor order), and marks the session Terminated.
func (s *Session) reap() {
	s.wg.Wait()

	if s.videoCapture != nil {
		s.videoCapture.Close()
	}
	if s.audioCapture != nil {
		s.audioCapture.Close()
	}
	if enc := s.loadVideoEncoder(); enc != nil {
		enc.Close()
	}
	if s.audioEncoder != nil {
		s.audioEncoder.Close()
	}
	if s.ep != nil {
		s.ep.Close()
	}
	s.keys.Zero()

	s.state.set(Terminated)
	close(s.reaperDone)
}
