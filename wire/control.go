package wire

import (
	"encoding/binary"
	"fmt"
)

// ControlTag identifies a ControlMessage variant.
type ControlTag uint8

const (
	ControlServerInfo ControlTag = iota + 1
	ControlPairBegin
	ControlPairSalt
	ControlPairPinProof
	ControlPairChallenge
	ControlPairChallengeSig
	ControlPairServerAuth
	ControlPairFinish
	ControlPairComplete
	ControlAppList
	ControlLaunch
	ControlResume
	ControlStop
	ControlQualityChange
	ControlStatistics
	ControlKeepAlive
)

func (t ControlTag) String() string {
	switch t {
	case ControlServerInfo:
		return "ServerInfo"
	case ControlPairBegin:
		return "PairBegin"
	case ControlPairSalt:
		return "PairSalt"
	case ControlPairPinProof:
		return "PairPinProof"
	case ControlPairChallenge:
		return "PairChallenge"
	case ControlPairChallengeSig:
		return "PairChallengeSig"
	case ControlPairServerAuth:
		return "PairServerAuth"
	case ControlPairFinish:
		return "PairFinish"
	case ControlPairComplete:
		return "PairComplete"
	case ControlAppList:
		return "AppList"
	case ControlLaunch:
		return "Launch"
	case ControlResume:
		return "Resume"
	case ControlStop:
		return "Stop"
	case ControlQualityChange:
		return "QualityChange"
	case ControlStatistics:
		return "Statistics"
	case ControlKeepAlive:
		return "KeepAlive"
	default:
		return "Unknown"
	}
}

// ControlMessage is a tagged variant over the control-plane message set
// (Section 3). Body holds the canonical binary encoding of the variant's
// fields with fixed field ordering; the concrete encode/decode for each
// variant's body lives with the package that owns its semantics (pairing,
// session), keeping wire.ControlMessage itself variant-agnostic framing.
type ControlMessage struct {
	Tag  ControlTag
	Body []byte
}

// Marshal encodes the message body as: 1 byte tag, then Body verbatim.
// This is wrapped by EncodeControlFrame for transmission.
func (m *ControlMessage) Marshal() []byte {
	buf := make([]byte, 1+len(m.Body))
	buf[0] = byte(m.Tag)
	copy(buf[1:], m.Body)
	return buf
}

// Unmarshal parses a tag+body buffer produced by Marshal.
func (m *ControlMessage) Unmarshal(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("wire: control message empty")
	}
	m.Tag = ControlTag(data[0])
	m.Body = append([]byte(nil), data[1:]...)
	return nil
}

// EncodeControlFrame authenticates and length-prefixes a ControlMessage
// for the control stream: a 4-byte big-endian length followed by an
// AES-GCM sealed frame (nonce derived from seq, ciphertext+tag appended).
func EncodeControlFrame(msg *ControlMessage, key [32]byte, seq uint64) ([]byte, error) {
	gcm, err := aeadFor(key)
	if err != nil {
		return nil, err
	}
	nonce := controlNonce(seq, gcm.NonceSize())
	plain := msg.Marshal()
	sealed := gcm.Seal(nil, nonce, plain, nil)

	frame := make([]byte, 4+len(sealed))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(sealed)))
	copy(frame[4:], sealed)
	return frame, nil
}

// DecodeControlFrame reverses EncodeControlFrame, verifying the AEAD tag.
// body must be exactly the sealed bytes following the 4-byte length prefix.
func DecodeControlFrame(body []byte, key [32]byte, seq uint64) (*ControlMessage, error) {
	gcm, err := aeadFor(key)
	if err != nil {
		return nil, err
	}
	nonce := controlNonce(seq, gcm.NonceSize())
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: control frame auth failed: %w", err)
	}
	msg := &ControlMessage{}
	if err := msg.Unmarshal(plain); err != nil {
		return nil, err
	}
	return msg, nil
}

// ReadControlFrameLength parses the 4-byte big-endian length prefix, used
// by the transport layer to know how many more bytes to read from the
// reliable control stream before calling DecodeControlFrame.
func ReadControlFrameLength(prefix [4]byte) uint32 {
	return binary.BigEndian.Uint32(prefix[:])
}

func controlNonce(seq uint64, size int) []byte {
	n := make([]byte, size)
	binary.BigEndian.PutUint64(n[size-8:], seq)
	return n
}
