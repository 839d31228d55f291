package pairing

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/pixelstream/streamhost/wire"
)

const (
	pinKDFIterations = 100_000
	pinKeyLength     = 32
	saltSize         = 16
	nonceSize        = 32
)

// derivePINKey implements Section 4.2's KDF(PIN || salt): a PBKDF2-HMAC-
// SHA256 stretch of the short out-of-band PIN, so a captured proof can't
// be brute-forced offline as cheaply as the raw 4-digit PIN would allow.
func derivePINKey(pin string, salt []byte) []byte {
	return pbkdf2.Key([]byte(pin), salt, pinKDFIterations, pinKeyLength, sha256.New)
}

// pinProof is the client's blob proving knowledge of the shared PIN
// without ever putting the PIN or its derived key on the wire: an HMAC
// over the attempt's own client id and salt, keyed by the PIN-derived
// key, so a proof from one attempt can't be replayed into another.
func pinProof(pinKey, clientID, salt []byte) []byte {
	mac := hmac.New(sha256.New, pinKey)
	mac.Write(clientID)
	mac.Write(salt)
	return mac.Sum(nil)
}

func verifyPINProof(pinKey, clientID, salt, proof []byte) bool {
	return hmac.Equal(pinProof(pinKey, clientID, salt), proof)
}

// generateEd25519Identity mints a fresh host signing keypair. It is
// called once, the first time a keystore is created, and persisted from
// then on.
func generateEd25519Identity() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("pairing: generate host identity: %w", err)
	}
	return pub, priv, nil
}

// EphemeralKeyPair mints a fresh ECDHE keypair for one Launch's key
// exchange (Section 4.2: "session_master is a fresh ECDHE-derived
// secret"). Curve25519 is used both because it's the lightest ECDH curve
// stdlib offers and because there is no X.509/TLS handshake anywhere in
// this protocol to piggyback on.
func EphemeralKeyPair() (*ecdh.PrivateKey, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("pairing: generate ephemeral key: %w", err)
	}
	return priv, nil
}

// SharedSecret completes one side of the ECDHE exchange given the
// peer's raw public key bytes.
func SharedSecret(priv *ecdh.PrivateKey, peerPub []byte) ([]byte, error) {
	pub, err := ecdh.X25519().NewPublicKey(peerPub)
	if err != nil {
		return nil, fmt.Errorf("pairing: invalid peer public key: %w", err)
	}
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("pairing: ecdh: %w", err)
	}
	return secret, nil
}

// hkdfKeys is the HKDF(session_master, context) step: one extract-and-
// expand pass over the ECDHE secret, salted with the session id so two
// sessions for the same client never share a derived key even if a
// future bug reused an ephemeral key, then four consecutive 32-byte
// reads from that one expand stream (video, audio, input, control). All
// four share the single info string; the labels only name the key in
// error messages.
func hkdfKeys(sessionMaster []byte, sessionID []byte) (wire.SessionKeys, error) {
	var keys wire.SessionKeys
	reader := hkdf.New(sha256.New, sessionMaster, sessionID, []byte("streamhost-session-keys-v1"))

	slots := []struct {
		label string
		out   *[32]byte
	}{
		{"video", &keys.Video},
		{"audio", &keys.Audio},
		{"input", &keys.Input},
		{"control", &keys.Control},
	}
	for _, slot := range slots {
		if _, err := io.ReadFull(reader, slot.out[:]); err != nil {
			return wire.SessionKeys{}, fmt.Errorf("pairing: hkdf expand %s key: %w", slot.label, err)
		}
	}
	return keys, nil
}

// DeriveLaunchKeys runs HKDF over an already-completed ECDHE exchange to
// produce the four per-session AEAD keys Section 4.2 specifies. Callers
// (the Launch handler, outside this package) are responsible for running
// the ECDHE exchange itself — EphemeralKeyPair/SharedSecret above — over
// whatever control-message pair that handler uses to carry the public
// keys; DeriveLaunchKeys only covers the algorithm from the point a
// shared secret exists.
func DeriveLaunchKeys(ecdheSecret []byte, sessionID [16]byte) (wire.SessionKeys, error) {
	return hkdfKeys(ecdheSecret, sessionID[:])
}
