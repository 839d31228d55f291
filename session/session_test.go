package session

import (
	"testing"

	media "github.com/pixelstream/streamhost"
	"github.com/pixelstream/streamhost/wire"
)

func validConfig() StreamConfig {
	return StreamConfig{
		Width: 1280, Height: 720, FPS: 30,
		Codec:           media.VideoCodecH264,
		TargetBitrate:   4_000_000,
		AudioChannels:   2,
		AudioSampleRate: 48000,
		Controllers:     1,
		FEC:             wire.DefaultFEC,
	}
}

func TestStreamConfigValidateRejectsBadFPS(t *testing.T) {
	cfg := validConfig()
	cfg.FPS = 45
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for fps not in {30,60}")
	}
}

func TestStreamConfigValidateRejectsBadAudioChannels(t *testing.T) {
	cfg := validConfig()
	cfg.AudioChannels = 4
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for audio channels not in {2,6}")
	}
}

func TestStreamConfigValidateRejectsOutOfRangeControllers(t *testing.T) {
	cfg := validConfig()
	cfg.Controllers = 5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for controller count > 4")
	}
}

func TestStreamConfigNeedsEncoderRebuildOnResolutionChange(t *testing.T) {
	cur := validConfig()
	next := cur
	next.Width = 1920
	next.Height = 1080
	if !cur.needsEncoderRebuild(next) {
		t.Fatal("resolution change should require an encoder rebuild")
	}
}

func TestStreamConfigNoRebuildOnBitrateOnlyChange(t *testing.T) {
	cur := validConfig()
	next := cur
	next.TargetBitrate = 2_000_000
	if cur.needsEncoderRebuild(next) {
		t.Fatal("bitrate-only change should not require an encoder rebuild")
	}
}

func TestStateMachineValidTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{Negotiating, Launching, true},
		{Launching, Streaming, true},
		{Launching, TearingDown, true},
		{Streaming, Degraded, true},
		{Degraded, Streaming, true},
		{Streaming, TearingDown, true},
		{Degraded, TearingDown, true},
		{TearingDown, Terminated, true},
		{Terminated, Launching, false},
		{Negotiating, Streaming, false},
		{Streaming, Negotiating, false},
	}
	for _, c := range cases {
		if got := canTransition(c.from, c.to); got != c.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStateWordRejectsInvalidTransition(t *testing.T) {
	var w stateWord
	w.init(Negotiating)
	if w.set(Streaming) {
		t.Fatal("Negotiating -> Streaming should be rejected")
	}
	if w.load() != Negotiating {
		t.Fatalf("state changed despite rejected transition: %s", w.load())
	}
	if !w.set(Launching) {
		t.Fatal("Negotiating -> Launching should be accepted")
	}
}

func TestRequestKeyframeCoalesces(t *testing.T) {
	s := &Session{}
	s.RequestKeyframe()
	s.RequestKeyframe()
	s.RequestKeyframe()
	// Three calls still collapse to one pending flag: the first
	// CompareAndSwap observes it, subsequent ones see it already cleared.
	first := s.forceKeyframe.CompareAndSwap(true, false)
	second := s.forceKeyframe.CompareAndSwap(true, false)
	if !first {
		t.Fatal("expected the coalesced keyframe request to be observed once")
	}
	if second {
		t.Fatal("expected no second pending keyframe request")
	}
}

func TestInputSequenceWindowDropsStaleAndDuplicate(t *testing.T) {
	s := &Session{}
	s.controllerLast[0] = 100

	// Duplicate.
	if wire.SequenceInWindow(s.controllerLast[0], 100) {
		t.Fatal("duplicate sequence should not be in window")
	}
	// Stale (outside the 256 window, wrapped backwards).
	if wire.SequenceInWindow(s.controllerLast[0], 99) {
		t.Fatal("sequence 99 behind last=100 should not be in window (wraps to 65535 diff)")
	}
	// Fresh.
	if !wire.SequenceInWindow(s.controllerLast[0], 101) {
		t.Fatal("sequence 101 after last=100 should be in window")
	}
}

func TestHandleInputDatagramDropsOnBadAuthTag(t *testing.T) {
	s := &Session{}
	pkt := &wire.InputPacket{Sequence: 1, ControllerIndex: 0}
	raw, err := pkt.Marshal() // AuthTag left zeroed, won't verify against any key
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s.handleInputDatagram(raw)
	if s.stats.inputDropped.Load() != 1 {
		t.Fatalf("expected 1 dropped input packet, got %d", s.stats.inputDropped.Load())
	}
	if s.stats.inputApplied.Load() != 0 {
		t.Fatal("unauthenticated input packet must not be applied")
	}
}

func TestHandleInputDatagramAppliesAuthenticatedFreshPacket(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	s := &Session{}
	s.keys.Input = key

	pkt := &wire.InputPacket{Sequence: 5, ControllerIndex: 0, Buttons: 0xFF}
	raw, err := wire.SealInputPacket(pkt, key)
	if err != nil {
		t.Fatalf("SealInputPacket: %v", err)
	}

	s.handleInputDatagram(raw)
	if s.stats.inputApplied.Load() != 1 {
		t.Fatalf("expected 1 applied input packet, got %d", s.stats.inputApplied.Load())
	}
	if s.controllerLast[0] != 5 {
		t.Fatalf("controllerLast[0] = %d, want 5", s.controllerLast[0])
	}
}

func TestHandleInputDatagramCountsDuplicate(t *testing.T) {
	var key [32]byte
	s := &Session{}
	s.keys.Input = key
	s.controllerLast[0] = 7

	pkt := &wire.InputPacket{Sequence: 7, ControllerIndex: 0}
	raw, err := wire.SealInputPacket(pkt, key)
	if err != nil {
		t.Fatalf("SealInputPacket: %v", err)
	}

	s.handleInputDatagram(raw)
	if s.stats.inputDuplicates.Load() != 1 {
		t.Fatalf("expected 1 duplicate, got %d", s.stats.inputDuplicates.Load())
	}
}

func TestQualityChangeRoundTrip(t *testing.T) {
	base := validConfig()
	body := EncodeQualityChangeBody(base)
	got, ok := decodeQualityChangeBody(body, base)
	if !ok {
		t.Fatal("decodeQualityChangeBody failed")
	}
	if got != base {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, base)
	}
}

func TestObserveReflectsStateWithoutStarting(t *testing.T) {
	s := &Session{}
	s.state.init(Negotiating)
	st := s.Observe()
	if st.State != Negotiating {
		t.Fatalf("State = %s, want Negotiating", st.State)
	}
}
