package pairing

import (
	"bytes"
	"testing"
)

func TestPinProofRoundTrips(t *testing.T) {
	salt := []byte("0123456789abcdef")
	clientID := []byte("client-identifier")
	key := derivePINKey("4242", salt)

	proof := pinProof(key, clientID, salt)
	if !verifyPINProof(key, clientID, salt, proof) {
		t.Fatal("a proof built from the same key/clientID/salt should verify")
	}
}

func TestPinProofRejectsWrongPIN(t *testing.T) {
	salt := []byte("0123456789abcdef")
	clientID := []byte("client-identifier")

	correctKey := derivePINKey("4242", salt)
	wrongKey := derivePINKey("1337", salt)
	proof := pinProof(correctKey, clientID, salt)

	if verifyPINProof(wrongKey, clientID, salt, proof) {
		t.Fatal("a proof from the wrong PIN must not verify")
	}
}

func TestPinProofRejectsReplayIntoDifferentClientOrSalt(t *testing.T) {
	salt := []byte("0123456789abcdef")
	key := derivePINKey("4242", salt)
	proof := pinProof(key, []byte("client-a"), salt)

	if verifyPINProof(key, []byte("client-b"), salt, proof) {
		t.Fatal("a proof for client-a must not verify for client-b")
	}

	otherSalt := []byte("ffffffffffffffff")
	if verifyPINProof(key, []byte("client-a"), otherSalt, proof) {
		t.Fatal("a proof bound to one salt must not verify under another")
	}
}

func TestECDHESharedSecretMatchesBothSides(t *testing.T) {
	alicePriv, err := EphemeralKeyPair()
	if err != nil {
		t.Fatalf("EphemeralKeyPair (alice): %v", err)
	}
	bobPriv, err := EphemeralKeyPair()
	if err != nil {
		t.Fatalf("EphemeralKeyPair (bob): %v", err)
	}

	aliceSecret, err := SharedSecret(alicePriv, bobPriv.PublicKey().Bytes())
	if err != nil {
		t.Fatalf("SharedSecret (alice): %v", err)
	}
	bobSecret, err := SharedSecret(bobPriv, alicePriv.PublicKey().Bytes())
	if err != nil {
		t.Fatalf("SharedSecret (bob): %v", err)
	}

	if !bytes.Equal(aliceSecret, bobSecret) {
		t.Fatal("both sides of an ECDHE exchange must derive the same shared secret")
	}
}

func TestDeriveLaunchKeysIsDeterministicPerSessionID(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, 32)
	var sessionA, sessionB [16]byte
	sessionB[0] = 1

	keysA1, err := DeriveLaunchKeys(secret, sessionA)
	if err != nil {
		t.Fatalf("DeriveLaunchKeys: %v", err)
	}
	keysA2, err := DeriveLaunchKeys(secret, sessionA)
	if err != nil {
		t.Fatalf("DeriveLaunchKeys: %v", err)
	}
	if keysA1 != keysA2 {
		t.Fatal("deriving twice from the same secret and session id should be deterministic")
	}

	keysB, err := DeriveLaunchKeys(secret, sessionB)
	if err != nil {
		t.Fatalf("DeriveLaunchKeys: %v", err)
	}
	if keysA1 == keysB {
		t.Fatal("different session ids must derive different key sets from the same secret")
	}
	if keysA1.Video == keysA1.Audio || keysA1.Video == keysA1.Input || keysA1.Video == keysA1.Control {
		t.Fatal("the four derived keys for one session must be distinct")
	}
}
