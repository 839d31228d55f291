package host

import (
	"crypto/ecdh"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	media "github.com/pixelstream/streamhost"
	"github.com/pixelstream/streamhost/session"
	"github.com/pixelstream/streamhost/wire"
)

// launchBodySize is ControlLaunch's fixed encoding: the client's own
// ClientId (so the host can look it up in the keystore without trusting
// whatever pairing attempt most recently used this TCP connection), its
// ephemeral X25519 public key, then every StreamConfig field: width,
// height, fps, bitrate, audio channels and sample rate as 4-byte
// big-endian words, then controllers, codec, FEC source count and FEC
// parity count as one byte each. Section 4.2: "session_master is a fresh
// ECDHE-derived secret... per Launch," so the ephemeral key rides on the
// same request that carries the stream configuration rather than a
// separate round trip.
const launchBodySize = 16 + 32 + 4*6 + 1 + 1 + 1 + 1

// EncodeLaunchBody serializes a client's Launch request: its ClientId,
// its ephemeral ECDHE public key, then the requested StreamConfig.
func EncodeLaunchBody(clientID uuid.UUID, ephemeralPub []byte, cfg session.StreamConfig) []byte {
	b := make([]byte, launchBodySize)
	copy(b[0:16], clientID[:])
	copy(b[16:48], ephemeralPub)
	off := 48
	binary.BigEndian.PutUint32(b[off:off+4], uint32(cfg.Width))
	binary.BigEndian.PutUint32(b[off+4:off+8], uint32(cfg.Height))
	binary.BigEndian.PutUint32(b[off+8:off+12], uint32(cfg.FPS))
	binary.BigEndian.PutUint32(b[off+12:off+16], uint32(cfg.TargetBitrate))
	binary.BigEndian.PutUint32(b[off+16:off+20], uint32(cfg.AudioChannels))
	binary.BigEndian.PutUint32(b[off+20:off+24], uint32(cfg.AudioSampleRate))
	off += 24
	b[off] = byte(cfg.Controllers)
	b[off+1] = byte(cfg.Codec)
	b[off+2] = byte(cfg.FEC.SourceCount)
	b[off+3] = byte(cfg.FEC.ParityCount)
	return b
}

func decodeLaunchBody(b []byte) (clientID uuid.UUID, ephemeralPub []byte, cfg session.StreamConfig, err error) {
	if len(b) < launchBodySize {
		return uuid.UUID{}, nil, session.StreamConfig{}, fmt.Errorf("host: truncated Launch body")
	}
	copy(clientID[:], b[0:16])
	ephemeralPub = append([]byte(nil), b[16:48]...)
	off := 48
	cfg.Width = int(binary.BigEndian.Uint32(b[off : off+4]))
	cfg.Height = int(binary.BigEndian.Uint32(b[off+4 : off+8]))
	cfg.FPS = int(binary.BigEndian.Uint32(b[off+8 : off+12]))
	cfg.TargetBitrate = int(binary.BigEndian.Uint32(b[off+12 : off+16]))
	cfg.AudioChannels = int(binary.BigEndian.Uint32(b[off+16 : off+20]))
	cfg.AudioSampleRate = int(binary.BigEndian.Uint32(b[off+20 : off+24]))
	off += 24
	cfg.Controllers = int(b[off])
	cfg.Codec = media.VideoCodec(b[off+1])
	cfg.FEC = wire.FECConfig{SourceCount: int(b[off+2]), ParityCount: int(b[off+3])}
	return clientID, ephemeralPub, cfg, nil
}

// EncodeLaunchAckBody serializes the server's half of the Launch ECDHE
// exchange: its own ephemeral public key, so the client can derive the
// same session_master this host just derived.
func EncodeLaunchAckBody(ephemeralPub []byte) []byte {
	return append([]byte(nil), ephemeralPub...)
}

// ecdhPublicKeyBytes extracts the raw public key bytes from a generated
// ephemeral keypair, the form Launch/LaunchAck carry on the wire.
func ecdhPublicKeyBytes(priv *ecdh.PrivateKey) []byte {
	return priv.PublicKey().Bytes()
}
