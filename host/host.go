package host

import (
	"context"
	"net/http"
	"time"

	"github.com/pion/logging"

	"github.com/pixelstream/streamhost/discovery"
	_ "github.com/pixelstream/streamhost/encoder" // registers video/audio encoder providers
	"github.com/pixelstream/streamhost/metrics"
	"github.com/pixelstream/streamhost/pairing"
	"github.com/pixelstream/streamhost/registry"
	"github.com/pixelstream/streamhost/streamerr"
	"github.com/pixelstream/streamhost/transport"
	"github.com/pixelstream/streamhost/wire"
)

// Host is the running process: every component Section 6 describes as
// "the process surface," bound together. Its registry and Aggregator are
// the only global mutable state Section 5 permits, both created here
// with the process's own lifetime.
type Host struct {
	cfg    Config
	logger logging.LeveledLogger

	transport *transport.Transport
	registry  *registry.Registry
	keystore  *pairing.Keystore
	pairingMg *pairing.Manager
	responder *discovery.Responder
	agg       *metrics.Aggregator
	admin     *http.Server

	runCancel context.CancelFunc
}

// New assembles every component against cfg without starting any network
// activity yet; Start does that.
func New(cfg Config, logger logging.LeveledLogger) (*Host, error) {
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("host")
	}

	ks, err := pairing.Open(cfg.KeystorePath)
	if err != nil {
		return nil, streamerr.Wrap(streamerr.Fatal, "host.New.keystore", err)
	}
	mgr := pairing.NewManager(ks, logger)

	tpCfg := transport.DefaultConfig()
	tpCfg.BindAddr = cfg.BindAddr
	tpCfg.ControlPort = cfg.ControlPort
	tpCfg.VideoPort = cfg.VideoPort
	tpCfg.AudioPort = cfg.AudioPort
	tpCfg.InputPort = cfg.InputPort
	tp, err := transport.Listen(tpCfg)
	if err != nil {
		return nil, streamerr.Wrap(streamerr.Transport, "host.New.transport", err)
	}

	reg := registry.New(cfg.MaxClients)
	reg.SetOffenders(mgr.Offenders())

	agg, err := metrics.New(reg, logger)
	if err != nil {
		tp.Close()
		return nil, streamerr.Wrap(streamerr.Fatal, "host.New.metrics", err)
	}

	resp, err := discovery.New(discovery.Config{
		InstanceName: cfg.Hostname,
		Hostname:     cfg.Hostname,
		Port:         uint16(cfg.ControlPort),
		HostID:       cfg.HostID,
		MaxClients:   cfg.MaxClients,
		Codecs:       cfg.Codecs,
		Logger:       logger,
	})
	if err != nil {
		tp.Close()
		return nil, streamerr.Wrap(streamerr.Transport, "host.New.discovery", err)
	}

	h := &Host{
		cfg:       cfg,
		logger:    logger,
		transport: tp,
		registry:  reg,
		keystore:  ks,
		pairingMg: mgr,
		responder: resp,
		agg:       agg,
	}
	h.admin = &http.Server{Addr: cfg.AdminAddr, Handler: h.adminRouter()}
	return h, nil
}

// CurrentPIN exposes the pairing PIN a user enters on a client device.
func (h *Host) CurrentPIN() string { return h.pairingMg.CurrentPIN() }

// Start brings every component up: discovery begins advertising, the
// admin HTTP surface starts serving, and the control accept loop begins
// handling connections. Start returns once everything is listening;
// Shutdown tears it all back down.
func (h *Host) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	h.runCancel = cancel

	h.responder.Start(runCtx)

	go func() {
		if err := h.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Errorf("host: admin server stopped: %v", err)
		}
	}()

	go h.acceptLoop(runCtx)

	h.logger.Infof("host: listening control=%d video=%d audio=%d input=%d admin=%s",
		h.cfg.ControlPort, h.cfg.VideoPort, h.cfg.AudioPort, h.cfg.InputPort, h.cfg.AdminAddr)
	return nil
}

// Shutdown releases every resource Start acquired, in roughly reverse
// order: stop accepting new work first, then tear down what's running.
func (h *Host) Shutdown(ctx context.Context) error {
	if h.runCancel != nil {
		h.runCancel()
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(h.responder.Close())
	record(h.admin.Shutdown(ctx))
	record(h.transport.Close())
	return firstErr
}

// acceptLoop accepts inbound control connections and hands each to its
// own goroutine; Section 5's ordering guarantees apply per connection, not
// across them, so there is no shared state to serialize here beyond the
// registry and keystore, both already safe for concurrent use.
func (h *Host) acceptLoop(ctx context.Context) {
	for {
		conn, err := h.transport.AcceptControl()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				h.logger.Warnf("host: accept control: %v", err)
				continue
			}
		}
		go h.serveControl(ctx, conn)
	}
}

// serveControl runs one client's control connection from its first
// message through either a completed pairing handshake followed by a
// Launch, or straight into Launch handling for an already-paired client.
func (h *Host) serveControl(ctx context.Context, conn *transport.ControlConn) {
	defer conn.Close()

	msg, err := conn.RecvPlain(time.Now().Add(h.cfg.LaunchTimeout))
	if err != nil {
		h.logger.Warnf("host: initial control read: %v", err)
		return
	}

	if isPairingTag(msg.Tag) {
		if !h.runPairing(conn, msg) {
			return
		}
		msg, err = conn.RecvPlain(time.Now().Add(h.cfg.LaunchTimeout))
		if err != nil {
			h.logger.Warnf("host: post-pairing control read: %v", err)
			return
		}
	}

	if msg.Tag != wire.ControlLaunch {
		h.logger.Warnf("host: expected Launch, got %s", msg.Tag)
		return
	}
	h.runSession(ctx, conn, msg)
}

func isPairingTag(tag wire.ControlTag) bool {
	switch tag {
	case wire.ControlPairBegin, wire.ControlPairPinProof, wire.ControlPairChallengeSig, wire.ControlPairFinish:
		return true
	default:
		return false
	}
}

// runPairing drives the pairing handshake to completion over the
// connection's plaintext framing, returning false if the attempt failed
// or the connection dropped.
func (h *Host) runPairing(conn *transport.ControlConn, first *wire.ControlMessage) bool {
	msg := first
	for {
		resp, err := h.pairingMg.Handle(msg)
		if err != nil {
			h.logger.Warnf("host: pairing failed: %v", err)
			return false
		}
		if err := conn.SendPlain(resp, time.Now().Add(h.cfg.LaunchTimeout)); err != nil {
			h.logger.Warnf("host: pairing response send: %v", err)
			return false
		}
		if resp.Tag == wire.ControlPairComplete {
			return true
		}
		msg, err = conn.RecvPlain(time.Now().Add(h.cfg.LaunchTimeout))
		if err != nil {
			h.logger.Warnf("host: pairing read: %v", err)
			return false
		}
	}
}
