package host

import (
	"testing"

	"github.com/google/uuid"

	media "github.com/pixelstream/streamhost"
	"github.com/pixelstream/streamhost/session"
	"github.com/pixelstream/streamhost/wire"
)

func TestEncodeDecodeLaunchBodyRoundTrip(t *testing.T) {
	clientID := uuid.New()
	ephemeralPub := make([]byte, 32)
	for i := range ephemeralPub {
		ephemeralPub[i] = byte(i + 1)
	}
	cfg := session.StreamConfig{
		Width: 1920, Height: 1080, FPS: 60,
		Codec: media.VideoCodecH264, TargetBitrate: 8_000_000,
		AudioChannels: 2, AudioSampleRate: 48000, Controllers: 2,
		FEC: wire.FECConfig{SourceCount: 8, ParityCount: 2},
	}

	body := EncodeLaunchBody(clientID, ephemeralPub, cfg)
	if len(body) != launchBodySize {
		t.Fatalf("body length = %d, want %d", len(body), launchBodySize)
	}

	gotClient, gotPub, gotCfg, err := decodeLaunchBody(body)
	if err != nil {
		t.Fatalf("decodeLaunchBody: %v", err)
	}
	if gotClient != clientID {
		t.Errorf("clientID = %s, want %s", gotClient, clientID)
	}
	if string(gotPub) != string(ephemeralPub) {
		t.Errorf("ephemeralPub = %x, want %x", gotPub, ephemeralPub)
	}
	if gotCfg != cfg {
		t.Errorf("cfg = %+v, want %+v", gotCfg, cfg)
	}
}

func TestDecodeLaunchBodyTruncated(t *testing.T) {
	if _, _, _, err := decodeLaunchBody(make([]byte, 10)); err == nil {
		t.Fatal("expected error decoding a truncated Launch body")
	}
}

func TestEncodeLaunchAckBody(t *testing.T) {
	pub := []byte{1, 2, 3, 4}
	got := EncodeLaunchAckBody(pub)
	if string(got) != string(pub) {
		t.Errorf("EncodeLaunchAckBody = %x, want %x", got, pub)
	}

	// Mutating the caller's slice afterward must not affect the copy.
	pub[0] = 0xff
	if got[0] == 0xff {
		t.Error("EncodeLaunchAckBody did not copy its input")
	}
}

func TestIsPairingTag(t *testing.T) {
	cases := []struct {
		tag  wire.ControlTag
		want bool
	}{
		{wire.ControlPairBegin, true},
		{wire.ControlPairPinProof, true},
		{wire.ControlPairChallengeSig, true},
		{wire.ControlPairFinish, true},
		{wire.ControlLaunch, false},
		{wire.ControlKeepAlive, false},
		{wire.ControlStop, false},
	}
	for _, c := range cases {
		if got := isPairingTag(c.tag); got != c.want {
			t.Errorf("isPairingTag(%s) = %v, want %v", c.tag, got, c.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxClients <= 0 {
		t.Error("DefaultConfig: MaxClients must be positive")
	}
	if err := cfg.DefaultStreamConfig.Validate(); err != nil {
		t.Errorf("DefaultConfig: DefaultStreamConfig invalid: %v", err)
	}
	if cfg.ControlPort == cfg.VideoPort || cfg.ControlPort == cfg.AudioPort || cfg.ControlPort == cfg.InputPort {
		t.Error("DefaultConfig: ports must be distinct")
	}
}
