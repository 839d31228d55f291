package wire

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// SessionKeys holds the four per-session AEAD keys derived by the pairing
// service via HKDF from the ECDHE master secret (Section 4.2). Each key is
// 32 bytes, suitable for AES-256-GCM.
type SessionKeys struct {
	Video   [32]byte
	Audio   [32]byte
	Input   [32]byte
	Control [32]byte
}

// Zero overwrites all four keys with zero bytes. The Session calls this on
// teardown so keys never outlive the Session that owns them.
func (k *SessionKeys) Zero() {
	for i := range k.Video {
		k.Video[i] = 0
	}
	for i := range k.Audio {
		k.Audio[i] = 0
	}
	for i := range k.Input {
		k.Input[i] = 0
	}
	for i := range k.Control {
		k.Control[i] = 0
	}
}

// aeadFor builds an AES-256-GCM AEAD from a 32-byte key.
func aeadFor(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("wire: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("wire: gcm: %w", err)
	}
	return gcm, nil
}

// SealMediaPacket authenticates p's header+payload under key, writing the
// resulting tag into p.AuthTag and returning marshaled wire bytes. Media
// packets use a short per-packet tag rather than full AEAD framing: the
// payload itself is unencrypted (the transport is a closed local-network
// protocol, confidentiality is not Section 6's concern here), only
// integrity is required so loss-tolerant media stays cheap to authenticate.
func SealMediaPacket(p *MediaPacket, key [32]byte) ([]byte, error) {
	gcm, err := aeadFor(key)
	if err != nil {
		return nil, err
	}
	nonce := sequenceNonce(p.Stream, p.Sequence, gcm.NonceSize())

	header := headerBytesForAuth(p)
	tagged := gcm.Seal(nil, nonce, nil, append(header, p.Payload...))
	// AES-GCM appends a 16-byte tag to the ciphertext; since we pass no
	// plaintext to encrypt (media payload stays in the clear on the wire),
	// tagged is exactly the tag bytes over the authenticated associated data.
	if len(tagged) != AuthTagSize {
		return nil, fmt.Errorf("wire: unexpected tag length %d", len(tagged))
	}
	copy(p.AuthTag[:], tagged)
	return p.Marshal()
}

// VerifyMediaPacket checks p's auth tag against key, returning an error if
// the packet has been tampered with.
func VerifyMediaPacket(p *MediaPacket, key [32]byte) error {
	gcm, err := aeadFor(key)
	if err != nil {
		return err
	}
	nonce := sequenceNonce(p.Stream, p.Sequence, gcm.NonceSize())
	header := headerBytesForAuth(p)
	expect := gcm.Seal(nil, nonce, nil, append(header, p.Payload...))
	if len(expect) != AuthTagSize {
		return fmt.Errorf("wire: unexpected tag length %d", len(expect))
	}
	for i := range expect {
		if expect[i] != p.AuthTag[i] {
			return fmt.Errorf("wire: auth tag mismatch on stream %d seq %d", p.Stream, p.Sequence)
		}
	}
	return nil
}

// headerBytesForAuth returns the header fields covered by the auth tag,
// excluding the tag slot itself.
func headerBytesForAuth(p *MediaPacket) []byte {
	b := make([]byte, 16)
	b[0] = byte(p.Flags >> 8)
	b[1] = byte(p.Flags)
	b[2] = byte(p.Stream >> 8)
	b[3] = byte(p.Stream)
	b[4] = byte(p.Sequence >> 24)
	b[5] = byte(p.Sequence >> 16)
	b[6] = byte(p.Sequence >> 8)
	b[7] = byte(p.Sequence)
	b[8] = byte(p.Timestamp >> 24)
	b[9] = byte(p.Timestamp >> 16)
	b[10] = byte(p.Timestamp >> 8)
	b[11] = byte(p.Timestamp)
	b[12] = byte(p.FragIndex >> 8)
	b[13] = byte(p.FragIndex)
	b[14] = p.SourceCount
	b[15] = p.ParityCount
	return b
}

// sequenceNonce derives a deterministic 96-bit (or AEAD-specific) nonce
// from the stream id and sequence number so every packet on a stream uses
// a distinct nonce without needing to carry one on the wire.
func sequenceNonce(stream StreamID, seq uint32, size int) []byte {
	n := make([]byte, size)
	n[size-6] = byte(stream >> 8)
	n[size-5] = byte(stream)
	n[size-4] = byte(seq >> 24)
	n[size-3] = byte(seq >> 16)
	n[size-2] = byte(seq >> 8)
	n[size-1] = byte(seq)
	return n
}

// inputStreamID is a reserved stream identifier used only to derive the
// input channel's per-packet nonce, distinct from StreamVideo/StreamAudio
// so the nonce space the input key authenticates under never overlaps the
// media streams' nonce space even though all four keys are independent.
const inputStreamID = StreamID(0)

// SealInputPacket authenticates p's fixed-layout fields under key, writing
// the resulting tag into p.AuthTag and returning marshaled wire bytes.
// Like media packets, the payload (controller state) is not confidential,
// only integrity- and freshness-protected; the nonce is derived from the
// packet's own sequence number, matching SealMediaPacket's construction.
func SealInputPacket(p *InputPacket, key [32]byte) ([]byte, error) {
	gcm, err := aeadFor(key)
	if err != nil {
		return nil, err
	}
	nonce := sequenceNonce(inputStreamID, uint32(p.Sequence), gcm.NonceSize())
	tagged := gcm.Seal(nil, nonce, nil, inputHeaderBytesForAuth(p))
	if len(tagged) != AuthTagSize {
		return nil, fmt.Errorf("wire: unexpected input tag length %d", len(tagged))
	}
	copy(p.AuthTag[:], tagged)
	return p.Marshal()
}

// VerifyInputPacket checks p's auth tag against key, returning an error
// if the packet has been tampered with or forged.
func VerifyInputPacket(p *InputPacket, key [32]byte) error {
	gcm, err := aeadFor(key)
	if err != nil {
		return err
	}
	nonce := sequenceNonce(inputStreamID, uint32(p.Sequence), gcm.NonceSize())
	expect := gcm.Seal(nil, nonce, nil, inputHeaderBytesForAuth(p))
	if len(expect) != AuthTagSize {
		return fmt.Errorf("wire: unexpected input tag length %d", len(expect))
	}
	for i := range expect {
		if expect[i] != p.AuthTag[i] {
			return fmt.Errorf("wire: input auth tag mismatch on controller %d seq %d", p.ControllerIndex, p.Sequence)
		}
	}
	return nil
}

// inputHeaderBytesForAuth returns every InputPacket field the auth tag
// covers, which is everything except the tag slot and the reserved
// padding bytes.
func inputHeaderBytesForAuth(p *InputPacket) []byte {
	b := make([]byte, 40)
	binary.BigEndian.PutUint16(b[0:2], p.Sequence)
	binary.BigEndian.PutUint32(b[2:6], p.Timestamp)
	b[6] = p.ControllerIndex
	binary.BigEndian.PutUint32(b[7:11], p.Buttons)
	putInt16(b[11:13], p.LeftStick.X)
	putInt16(b[13:15], p.LeftStick.Y)
	putInt16(b[15:17], p.RightStick.X)
	putInt16(b[17:19], p.RightStick.Y)
	b[19] = p.LeftTrigger
	b[20] = p.RightTrigger
	putInt16(b[21:23], p.Accel.X)
	putInt16(b[23:25], p.Accel.Y)
	putInt16(b[25:27], p.Accel.Z)
	putInt16(b[27:29], p.Gyro.X)
	putInt16(b[29:31], p.Gyro.Y)
	putInt16(b[31:33], p.Gyro.Z)
	putInt16(b[33:35], p.Pointer.X)
	putInt16(b[35:37], p.Pointer.Y)
	return b
}

// RandomBytes fills a buffer of n cryptographically random bytes, used for
// the pairing salt and challenge nonces.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("wire: random bytes: %w", err)
	}
	return b, nil
}
