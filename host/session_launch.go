package host

import (
	"context"
	"time"

	"github.com/pixelstream/streamhost/pairing"
	"github.com/pixelstream/streamhost/session"
	"github.com/pixelstream/streamhost/transport"
	"github.com/pixelstream/streamhost/wire"
)

// runSession carries one already-paired client from its Launch request
// through admission and session startup, then waits for the Session's
// own worker tasks to carry it to termination. Once Start returns, the
// Session owns its control connection outright (its heartbeat task reads
// KeepAlive/QualityChange/Stop directly off ep.Control); the host's job
// here is admission, startup, and registry cleanup around that lifetime,
// not a second reader racing the session's own.
func (h *Host) runSession(ctx context.Context, conn *transport.ControlConn, launchMsg *wire.ControlMessage) {
	clientID, clientEphemeralPub, cfg, err := decodeLaunchBody(launchMsg.Body)
	if err != nil {
		h.logger.Warnf("host: malformed Launch body: %v", err)
		return
	}
	if _, ok := h.keystore.Lookup(clientID); !ok {
		h.logger.Warnf("host: Launch from unpaired client %s", clientID)
		return
	}
	if err := cfg.Validate(); err != nil {
		h.logger.Warnf("host: Launch with unsupported config from %s: %v", clientID, err)
		return
	}

	keys, err := h.completeLaunchHandshake(conn, clientEphemeralPub)
	if err != nil {
		h.logger.Warnf("host: Launch key exchange with %s: %v", clientID, err)
		return
	}
	conn.SetKey(keys.Control)

	launchCtx, cancel := context.WithTimeout(ctx, h.cfg.LaunchTimeout)
	endpoints, err := h.transport.BindSession(launchCtx, conn)
	cancel()
	if err != nil {
		h.logger.Warnf("host: bind endpoints for %s: %v", clientID, err)
		return
	}

	sess := session.New(session.Deps{
		ClientID:  clientID,
		SessionID: session.NewSessionID(),
		Keys:      keys,
		Endpoints: endpoints,
		Window:    h.cfg.Window,
		Logger:    h.logger,
		Offenders: h.pairingMg.Offenders(),
	})

	if err := h.registry.TryAdmit(sess); err != nil {
		h.logger.Warnf("host: admission rejected for %s: %v", clientID, err)
		endpoints.Close()
		h.sendLaunchRejected(conn, err)
		return
	}
	defer h.registry.Terminate(sess.SessionID())

	startCtx, startCancel := context.WithTimeout(ctx, h.cfg.LaunchTimeout)
	err = sess.Start(startCtx, cfg)
	startCancel()
	if err != nil {
		h.logger.Warnf("host: session start failed for %s: %v", clientID, err)
		return
	}

	h.logger.Infof("host: session %s streaming for client %s", sess.SessionID(), clientID)

	select {
	case <-sess.Done():
		st := sess.Observe()
		h.logger.Infof("host: session %s ended: %s", sess.SessionID(), st.TeardownReason)
	case <-ctx.Done():
		sess.Stop(session.ReasonAdminStop)
	}
}

// completeLaunchHandshake runs the host's half of Launch's per-session
// ECDHE exchange and derives the four session keys, sending the host's
// ephemeral public key back as LaunchAck before either side has a
// control key installed.
func (h *Host) completeLaunchHandshake(conn *transport.ControlConn, clientEphemeralPub []byte) (wire.SessionKeys, error) {
	hostPriv, err := pairing.EphemeralKeyPair()
	if err != nil {
		return wire.SessionKeys{}, err
	}
	secret, err := pairing.SharedSecret(hostPriv, clientEphemeralPub)
	if err != nil {
		return wire.SessionKeys{}, err
	}

	ack := &wire.ControlMessage{Tag: wire.ControlLaunch, Body: EncodeLaunchAckBody(ecdhPublicKeyBytes(hostPriv))}
	if err := conn.SendPlain(ack, time.Now().Add(h.cfg.LaunchTimeout)); err != nil {
		return wire.SessionKeys{}, err
	}

	var sessionID [16]byte
	copy(sessionID[:], []byte(conn.RemoteAddr().String()))
	return pairing.DeriveLaunchKeys(secret, sessionID)
}

// sendLaunchRejected reports an admission failure back to the client
// before the connection closes, matching try_admit's documented
// rejection reasons. The key is already installed by this point, so the
// rejection itself rides the authenticated channel.
func (h *Host) sendLaunchRejected(conn *transport.ControlConn, err error) {
	msg := &wire.ControlMessage{Tag: wire.ControlStop, Body: []byte(err.Error())}
	_ = conn.Send(msg, time.Now().Add(h.cfg.LaunchTimeout))
}
