// Package wire implements the bit-exact on-wire framing for the streaming
// host: the media packet header used on the video/audio channels, the
// fixed-size input packet used on the input channel, and the length-prefixed
// authenticated control message framing. It also fragments/reassembles
// encoded frames into MTU-sized packets with FEC parity, the responsibility
// Section 4.7 calls the Packetizer/Depacketizer.
package wire

import (
	"encoding/binary"
	"fmt"
)

// StreamID tags which logical channel a MediaPacket belongs to.
type StreamID uint16

const (
	StreamVideo StreamID = 1
	StreamAudio StreamID = 2
)

// Flags is the 2-byte flag field in a MediaPacket header.
type Flags uint16

const (
	FlagKeyframe    Flags = 1 << 0
	FlagLastFrag    Flags = 1 << 1
	FlagFECRepair   Flags = 1 << 2
)

// HeaderSize is the fixed MediaPacket header length in bytes, not counting
// payload: 2 (flags) + 2 (stream id) + 4 (sequence) + 4 (timestamp) +
// 2 (fragment index) + 2 (total fragments) + 16 (auth tag).
const HeaderSize = 32

// AuthTagSize is the size in bytes of the per-packet authentication tag.
const AuthTagSize = 16

// MediaPacket is the wire-exact representation of a single video or audio
// fragment, matching Section 6's "Media packet header" layout exactly.
type MediaPacket struct {
	Flags        Flags
	Stream       StreamID
	Sequence     uint32 // per-stream, wraps modulo 2^32
	Timestamp    uint32 // 90kHz for video, 48kHz for audio
	FragIndex    uint16 // fragment index within the encoded frame
	SourceCount  uint8  // high byte of "total fragments": FEC source count
	ParityCount  uint8  // low byte of "total fragments": FEC parity count
	AuthTag      [AuthTagSize]byte
	Payload      []byte
}

// Keyframe reports whether the keyframe flag is set.
func (p *MediaPacket) Keyframe() bool { return p.Flags&FlagKeyframe != 0 }

// LastFragment reports whether this is the last fragment in its frame.
func (p *MediaPacket) LastFragment() bool { return p.Flags&FlagLastFrag != 0 }

// FECRepair reports whether this packet carries FEC parity data rather
// than source data.
func (p *MediaPacket) FECRepair() bool { return p.Flags&FlagFECRepair != 0 }

// TotalFragments returns the declared source+parity fragment count for the
// FEC group this packet belongs to.
func (p *MediaPacket) TotalFragments() int { return int(p.SourceCount) + int(p.ParityCount) }

// Marshal encodes the packet into network byte order. The AuthTag field
// must already be populated (see SealMediaPacket) — Marshal does not compute it.
func (p *MediaPacket) Marshal() ([]byte, error) {
	buf := make([]byte, HeaderSize+len(p.Payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(p.Flags))
	binary.BigEndian.PutUint16(buf[2:4], uint16(p.Stream))
	binary.BigEndian.PutUint32(buf[4:8], p.Sequence)
	binary.BigEndian.PutUint32(buf[8:12], p.Timestamp)
	binary.BigEndian.PutUint16(buf[12:14], p.FragIndex)
	buf[14] = p.SourceCount
	buf[15] = p.ParityCount
	copy(buf[16:32], p.AuthTag[:])
	copy(buf[32:], p.Payload)
	return buf, nil
}

// Unmarshal decodes a MediaPacket from wire bytes.
func (p *MediaPacket) Unmarshal(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("wire: media packet too short: %d bytes", len(data))
	}
	p.Flags = Flags(binary.BigEndian.Uint16(data[0:2]))
	p.Stream = StreamID(binary.BigEndian.Uint16(data[2:4]))
	p.Sequence = binary.BigEndian.Uint32(data[4:8])
	p.Timestamp = binary.BigEndian.Uint32(data[8:12])
	p.FragIndex = binary.BigEndian.Uint16(data[12:14])
	p.SourceCount = data[14]
	p.ParityCount = data[15]
	copy(p.AuthTag[:], data[16:32])
	if len(data) > HeaderSize {
		p.Payload = append([]byte(nil), data[HeaderSize:]...)
	} else {
		p.Payload = nil
	}
	return nil
}

// SequenceLess reports whether a precedes b modulo 2^32, using the window
// the source compares RTP timestamps with: a precedes b if (b-a) < 2^31.
// P1 relies on this for wrap-safe ordering checks.
func SequenceLess(a, b uint32) bool {
	if a == b {
		return false
	}
	return b-a < 0x80000000
}
