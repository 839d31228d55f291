package wire

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// FECConfig configures the parity group size for video packetization.
// Section 9 fixes 8 source + 2 parity as the default while requiring
// reassembly to accept any declared group size from the packet header.
type FECConfig struct {
	SourceCount int
	ParityCount int
}

// DefaultFEC is the spec's fixed default group size.
var DefaultFEC = FECConfig{SourceCount: 8, ParityCount: 2}

// streamSequencer produces a monotonically increasing uint32 sequence for
// one stream by composing pion's 16-bit rtp.Sequencer with its rollover
// counter, giving the full-width counter Section 6's header calls for.
type streamSequencer struct {
	mu   sync.Mutex
	seq  rtp.Sequencer
	base uint32
	last uint16
	init bool
}

func newStreamSequencer() *streamSequencer {
	return &streamSequencer{seq: rtp.NewRandomSequencer()}
}

func (s *streamSequencer) next() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.seq.NextSequenceNumber()
	if s.init && n < s.last {
		s.base++
	}
	s.last = n
	s.init = true
	return s.base<<16 | uint32(n)
}

// Packetizer fragments encoded frames into wire.MediaPackets for one
// stream (video or audio), computing FEC parity for video groups.
type Packetizer struct {
	stream    StreamID
	mtu       int
	fec       FECConfig
	sequencer *streamSequencer
	key       [32]byte
}

// NewVideoPacketizer creates a packetizer for the video stream.
func NewVideoPacketizer(mtuPayload int, fec FECConfig, key [32]byte) *Packetizer {
	if mtuPayload <= 0 {
		mtuPayload = 1200
	}
	if fec.SourceCount <= 0 {
		fec = DefaultFEC
	}
	return &Packetizer{stream: StreamVideo, mtu: mtuPayload, fec: fec, sequencer: newStreamSequencer(), key: key}
}

// NewAudioPacketizer creates a packetizer for the audio stream. Audio never
// fragments or carries FEC: one encoded Opus frame per packet.
func NewAudioPacketizer(key [32]byte) *Packetizer {
	return &Packetizer{stream: StreamAudio, sequencer: newStreamSequencer(), key: key}
}

// PacketizeVideo splits an encoded video frame into MTU-sized source
// fragments grouped for FEC, appending parity fragments per group, and
// seals every fragment with the stream's AEAD key.
func (p *Packetizer) PacketizeVideo(data []byte, timestamp uint32, keyframe bool) ([][]byte, error) {
	if p.stream != StreamVideo {
		return nil, fmt.Errorf("wire: PacketizeVideo called on non-video packetizer")
	}
	if len(data) == 0 {
		return nil, nil
	}

	var fragments [][]byte
	for off := 0; off < len(data); off += p.mtu {
		end := off + p.mtu
		if end > len(data) {
			end = len(data)
		}
		fragments = append(fragments, data[off:end])
	}

	var out [][]byte
	fragIdx := uint16(0)
	for groupStart := 0; groupStart < len(fragments); groupStart += p.fec.SourceCount {
		groupEnd := groupStart + p.fec.SourceCount
		if groupEnd > len(fragments) {
			groupEnd = len(fragments)
		}
		group := fragments[groupStart:groupEnd]

		_, parity, blockSize, err := encodeParity(group, p.fec.ParityCount)
		if err != nil {
			return nil, err
		}

		for i, frag := range group {
			isLastOverall := groupStart+i == len(fragments)-1
			pkt := &MediaPacket{
				Stream:      StreamVideo,
				Sequence:    p.sequencer.next(),
				Timestamp:   timestamp,
				FragIndex:   fragIdx,
				SourceCount: uint8(len(group)),
				ParityCount: uint8(p.fec.ParityCount),
				Payload:     frag,
			}
			if keyframe {
				pkt.Flags |= FlagKeyframe
			}
			if isLastOverall {
				pkt.Flags |= FlagLastFrag
			}
			raw, err := SealMediaPacket(pkt, p.key)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
			fragIdx++
		}

		for _, par := range parity {
			payload := make([]byte, blockSize)
			copy(payload, par)
			pkt := &MediaPacket{
				Stream:      StreamVideo,
				Sequence:    p.sequencer.next(),
				Timestamp:   timestamp,
				FragIndex:   fragIdx,
				SourceCount: uint8(len(group)),
				ParityCount: uint8(p.fec.ParityCount),
				Flags:       FlagFECRepair,
				Payload:     payload,
			}
			raw, err := SealMediaPacket(pkt, p.key)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
			fragIdx++
		}
	}
	return out, nil
}

// PacketizeAudio wraps a single encoded Opus frame as one sealed packet.
func (p *Packetizer) PacketizeAudio(data []byte, timestamp uint32) ([]byte, error) {
	if p.stream != StreamAudio {
		return nil, fmt.Errorf("wire: PacketizeAudio called on non-audio packetizer")
	}
	pkt := &MediaPacket{
		Stream:      StreamAudio,
		Sequence:    p.sequencer.next(),
		Timestamp:   timestamp,
		FragIndex:   0,
		SourceCount: 1,
		ParityCount: 0,
		Flags:       FlagLastFrag,
		Payload:     data,
	}
	return SealMediaPacket(pkt, p.key)
}
