// Package pairing implements Section 4.2's Pairing/Handshake Service:
// the Idle->Complete mutual-authentication exchange that turns a freshly
// seen ClientId into a persisted ClientRecord, plus the on-disk keystore
// backing it and the per-Launch session key derivation that follows a
// completed pairing.
package pairing

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/randutil"

	"github.com/pixelstream/streamhost/streamerr"
	"github.com/pixelstream/streamhost/wire"
)

// DefaultAttemptExpiry is Section 4.2's default 60s attempt timeout.
const DefaultAttemptExpiry = 60 * time.Second

// pinGenerator rolls the non-cryptographic 4-digit pairing PIN. The PIN is
// entered out-of-band by a human and never itself carries the security
// boundary (the KDF(PIN||salt) exchange and certificate checks do), so a
// math-backed generator is the right tier, the same generator pion/ice
// reaches for to roll non-secret ufrag/pwd values.
var pinGenerator = randutil.NewMathRandomGenerator()

// attempt is the transient state for one in-flight pairing exchange.
// Everything here is erased the moment the attempt fails or completes,
// per "Failure at any step erases all transient state."
type attempt struct {
	state AttemptState

	clientID  uuid.UUID
	label     string
	clientPub ed25519.PublicKey

	salt             []byte
	challenge        []byte // server's nonce, for the client to sign
	counterChallenge []byte // client's nonce, for the server to sign

	expiresAt time.Time
}

// Manager runs every in-flight pairing attempt against the shared
// Keystore. One Manager serves every client the host's control listener
// accepts; attempts are independent per ClientId.
type Manager struct {
	ks     *Keystore
	logger logging.LeveledLogger
	expiry time.Duration

	mu       sync.Mutex
	attempts map[uuid.UUID]*attempt
	pin      string

	offenders *OffenderTable
}

// NewManager constructs a Manager over an already-open Keystore with a
// freshly rolled pairing PIN.
func NewManager(ks *Keystore, logger logging.LeveledLogger) *Manager {
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("pairing")
	}
	m := &Manager{
		ks:        ks,
		logger:    logger,
		expiry:    DefaultAttemptExpiry,
		attempts:  map[uuid.UUID]*attempt{},
		offenders: NewOffenderTable(DefaultRateLimitWindow),
	}
	m.RegeneratePIN()
	return m
}

// Offenders returns the rate-limit table this Manager records handshake
// failures into, so the Session Registry and Session can consult (and
// record into) the same ClientId space for protocol violations elsewhere
// in the pipeline.
func (m *Manager) Offenders() *OffenderTable { return m.offenders }

// CurrentPIN returns the PIN a user must enter on the client to pair,
// good until the next RegeneratePIN call.
func (m *Manager) CurrentPIN() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pin
}

// RegeneratePIN rolls a fresh 4-digit pairing PIN, matching the
// original implementation's PIN shape, and returns it.
func (m *Manager) RegeneratePIN() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pin = fmt.Sprintf("%04d", pinGenerator.Uint32()%10000)
	return m.pin
}

// Handle dispatches one incoming pairing control message to the
// matching state transition and returns the response to send back, or
// an error: streamerr.Pairing for a failed step, streamerr.Protocol for a
// tag that is not a pairing step. An out-of-order step fails the attempt;
// an unrecognized tag is rejected without touching any attempt.
func (m *Manager) Handle(msg *wire.ControlMessage) (*wire.ControlMessage, error) {
	switch msg.Tag {
	case wire.ControlPairBegin:
		return m.handleBegin(msg.Body)
	case wire.ControlPairPinProof:
		return m.handlePinProof(msg.Body)
	case wire.ControlPairChallengeSig:
		return m.handleChallengeSig(msg.Body)
	case wire.ControlPairFinish:
		return m.handleFinish(msg.Body)
	default:
		return nil, streamerr.Wrap(streamerr.Protocol, "pairing.Handle", fmt.Errorf("unexpected control tag %s during pairing", msg.Tag))
	}
}

func (m *Manager) handleBegin(body []byte) (*wire.ControlMessage, error) {
	clientID, pub, label, err := decodePairBeginBody(body)
	if err != nil {
		return nil, streamerr.Wrap(streamerr.Pairing, "pairing.handleBegin", err)
	}
	if m.offenders.Blocked(clientID) {
		return nil, streamerr.Wrap(streamerr.Pairing, "pairing.handleBegin", fmt.Errorf("client %s is rate-limited after a prior handshake failure", clientID))
	}

	salt, err := wire.RandomBytes(saltSize)
	if err != nil {
		return nil, streamerr.Wrap(streamerr.Pairing, "pairing.handleBegin", err)
	}

	m.mu.Lock()
	m.attempts[clientID] = &attempt{
		state:     SaltIssued,
		clientID:  clientID,
		label:     label,
		clientPub: pub,
		salt:      salt,
		expiresAt: time.Now().Add(m.expiry),
	}
	m.mu.Unlock()

	return &wire.ControlMessage{Tag: wire.ControlPairSalt, Body: salt}, nil
}

func (m *Manager) handlePinProof(body []byte) (*wire.ControlMessage, error) {
	if len(body) < 16+32 {
		return nil, streamerr.Wrap(streamerr.Pairing, "pairing.handlePinProof", fmt.Errorf("truncated PairPinProof body"))
	}
	att, err := m.lookupAttempt(decodeClientIDPrefix(body), SaltIssued)
	if err != nil {
		return nil, err
	}
	proof := body[16:]

	pinKey := derivePINKey(m.CurrentPIN(), att.salt)
	if !verifyPINProof(pinKey, att.clientID[:], att.salt, proof) {
		m.failAttempt(att.clientID)
		return nil, streamerr.Wrap(streamerr.Pairing, "pairing.handlePinProof", fmt.Errorf("pin proof mismatch for client %s", att.clientID))
	}

	challenge, err := wire.RandomBytes(nonceSize)
	if err != nil {
		return nil, streamerr.Wrap(streamerr.Pairing, "pairing.handlePinProof", err)
	}

	m.mu.Lock()
	att.state = ChallengeIssued
	att.challenge = challenge
	m.mu.Unlock()

	return &wire.ControlMessage{Tag: wire.ControlPairChallenge, Body: challenge}, nil
}

func (m *Manager) handleChallengeSig(body []byte) (*wire.ControlMessage, error) {
	att, err := m.lookupAttempt(decodeClientIDPrefix(body), ChallengeIssued)
	if err != nil {
		return nil, err
	}
	sig, counterChallenge, err := decodeChallengeSigBody(body)
	if err != nil {
		return nil, streamerr.Wrap(streamerr.Pairing, "pairing.handleChallengeSig", err)
	}

	if !ed25519.Verify(att.clientPub, att.challenge, sig) {
		m.failAttempt(att.clientID)
		return nil, streamerr.Wrap(streamerr.Pairing, "pairing.handleChallengeSig", fmt.Errorf("client signature invalid for %s", att.clientID))
	}

	m.mu.Lock()
	att.state = ClientVerified
	att.counterChallenge = counterChallenge
	m.mu.Unlock()

	_, hostPriv := m.ks.HostIdentity()
	serverSig := ed25519.Sign(hostPriv, counterChallenge)

	m.mu.Lock()
	att.state = ServerVerified
	m.mu.Unlock()

	return &wire.ControlMessage{Tag: wire.ControlPairServerAuth, Body: serverSig}, nil
}

func (m *Manager) handleFinish(body []byte) (*wire.ControlMessage, error) {
	att, err := m.lookupAttempt(decodeClientIDPrefix(body), ServerVerified)
	if err != nil {
		return nil, err
	}
	if len(body) < 17 || body[16] != 0x01 {
		m.failAttempt(att.clientID)
		return nil, streamerr.Wrap(streamerr.Pairing, "pairing.handleFinish", fmt.Errorf("malformed finish ack from %s", att.clientID))
	}

	rec := ClientRecord{
		ClientID:  att.clientID,
		PublicKey: att.clientPub,
		Label:     att.label,
		PairedAt:  time.Now(),
	}
	if err := m.ks.Put(rec); err != nil {
		return nil, streamerr.Wrap(streamerr.Pairing, "pairing.handleFinish", err)
	}

	m.mu.Lock()
	att.state = Complete
	delete(m.attempts, att.clientID)
	m.mu.Unlock()

	return &wire.ControlMessage{Tag: wire.ControlPairComplete, Body: att.clientID[:]}, nil
}

// lookupAttempt fetches the attempt for clientID, failing it (and
// returning an error) if it doesn't exist, has expired, or isn't in
// from.
func (m *Manager) lookupAttempt(clientID uuid.UUID, from AttemptState) (*attempt, error) {
	m.mu.Lock()
	att, ok := m.attempts[clientID]
	m.mu.Unlock()

	if !ok {
		return nil, streamerr.Wrap(streamerr.Pairing, "pairing.lookupAttempt", fmt.Errorf("no pairing attempt for client %s", clientID))
	}
	if time.Now().After(att.expiresAt) {
		m.failAttempt(clientID)
		return nil, streamerr.Wrap(streamerr.Pairing, "pairing.lookupAttempt", fmt.Errorf("pairing attempt for client %s expired", clientID))
	}
	if att.state != from {
		m.failAttempt(clientID)
		return nil, streamerr.Wrap(streamerr.Pairing, "pairing.lookupAttempt", fmt.Errorf("out-of-order pairing request: client %s in state %s, need %s", clientID, att.state, from))
	}
	return att, nil
}

// failAttempt erases the in-flight attempt's transient state and records
// clientID as an offender: every caller reaches failAttempt because the
// client sent something that failed verification (bad PIN proof, bad
// signature, malformed finish ack, stale/out-of-order message), which is
// exactly the "handshake tampering" scenario 6 requires rate-limiting
// for.
func (m *Manager) failAttempt(clientID uuid.UUID) {
	m.mu.Lock()
	delete(m.attempts, clientID)
	m.mu.Unlock()
	m.offenders.Record(clientID)
}

// --- body encodings ---

func decodePairBeginBody(b []byte) (uuid.UUID, ed25519.PublicKey, string, error) {
	minLen := 16 + ed25519.PublicKeySize + 1
	if len(b) < minLen {
		return uuid.UUID{}, nil, "", fmt.Errorf("pairing: truncated PairBegin body")
	}
	var clientID uuid.UUID
	copy(clientID[:], b[0:16])
	pub := append(ed25519.PublicKey(nil), b[16:16+ed25519.PublicKeySize]...)
	off := 16 + ed25519.PublicKeySize
	labelLen := int(b[off])
	off++
	if len(b) < off+labelLen {
		return uuid.UUID{}, nil, "", fmt.Errorf("pairing: truncated PairBegin label")
	}
	return clientID, pub, string(b[off : off+labelLen]), nil
}

// EncodePairBeginBody is used by a pairing client implementation (tests,
// or a future client-side package) to build the wire body handleBegin
// decodes.
func EncodePairBeginBody(clientID uuid.UUID, pub ed25519.PublicKey, label string) []byte {
	if len(label) > 255 {
		label = label[:255]
	}
	buf := make([]byte, 16+ed25519.PublicKeySize+1+len(label))
	copy(buf[0:16], clientID[:])
	copy(buf[16:16+ed25519.PublicKeySize], pub)
	buf[16+ed25519.PublicKeySize] = byte(len(label))
	copy(buf[16+ed25519.PublicKeySize+1:], label)
	return buf
}

func decodeClientIDPrefix(b []byte) uuid.UUID {
	var id uuid.UUID
	if len(b) >= 16 {
		copy(id[:], b[0:16])
	}
	return id
}

// EncodePinProofBody builds the PairPinProof body: ClientId prefix then
// the HMAC proof.
func EncodePinProofBody(clientID uuid.UUID, proof []byte) []byte {
	buf := make([]byte, 16+len(proof))
	copy(buf[0:16], clientID[:])
	copy(buf[16:], proof)
	return buf
}

// EncodeChallengeSigBody builds the PairChallengeSig body: ClientId
// prefix, the client's signature over the server challenge, then the
// client's own counter-challenge for the server to sign back.
func EncodeChallengeSigBody(clientID uuid.UUID, sig, counterChallenge []byte) []byte {
	buf := make([]byte, 16+len(sig)+len(counterChallenge))
	copy(buf[0:16], clientID[:])
	copy(buf[16:16+len(sig)], sig)
	copy(buf[16+len(sig):], counterChallenge)
	return buf
}

func decodeChallengeSigBody(b []byte) (sig, counterChallenge []byte, err error) {
	want := 16 + ed25519.SignatureSize + nonceSize
	if len(b) < want {
		return nil, nil, fmt.Errorf("pairing: truncated PairChallengeSig body")
	}
	sig = b[16 : 16+ed25519.SignatureSize]
	counterChallenge = b[16+ed25519.SignatureSize : want]
	return sig, counterChallenge, nil
}

// EncodeFinishBody builds the PairFinish body: ClientId prefix then a
// single ack byte.
func EncodeFinishBody(clientID uuid.UUID) []byte {
	buf := make([]byte, 17)
	copy(buf[0:16], clientID[:])
	buf[16] = 0x01
	return buf
}

