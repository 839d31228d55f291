package wire

import (
	"bytes"
	"testing"
)

func TestMediaPacketRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	pkt := &MediaPacket{
		Flags:       FlagKeyframe | FlagLastFrag,
		Stream:      StreamVideo,
		Sequence:    42,
		Timestamp:   90000,
		FragIndex:   3,
		SourceCount: 8,
		ParityCount: 2,
		Payload:     []byte("hello fragment"),
	}

	raw, err := SealMediaPacket(pkt, key)
	if err != nil {
		t.Fatalf("SealMediaPacket: %v", err)
	}

	var got MediaPacket
	if err := got.Unmarshal(raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Sequence != pkt.Sequence || got.Timestamp != pkt.Timestamp || !bytes.Equal(got.Payload, pkt.Payload) {
		t.Fatalf("round-trip mismatch: got %+v", got)
	}
	if err := VerifyMediaPacket(&got, key); err != nil {
		t.Fatalf("VerifyMediaPacket: %v", err)
	}
}

func TestMediaPacketTamperedAuthFails(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	pkt := &MediaPacket{Stream: StreamVideo, Sequence: 1, Payload: []byte("x")}
	raw, err := SealMediaPacket(pkt, key)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xFF // tamper with payload

	var got MediaPacket
	if err := got.Unmarshal(raw); err != nil {
		t.Fatal(err)
	}
	if err := VerifyMediaPacket(&got, key); err == nil {
		t.Fatal("expected auth failure on tampered payload")
	}
}

func TestSequenceLessWraparound(t *testing.T) {
	if !SequenceLess(0xFFFFFFFF, 0) {
		t.Fatal("expected wraparound sequence 0xFFFFFFFF to precede 0")
	}
	if SequenceLess(0, 0xFFFFFFFF) {
		t.Fatal("expected 0 to not precede 0xFFFFFFFF across the wrap window")
	}
	if SequenceLess(5, 5) {
		t.Fatal("equal sequences should not be less")
	}
}

func TestInputPacketRoundTrip(t *testing.T) {
	p := &InputPacket{
		Sequence:        7,
		Timestamp:       123456,
		ControllerIndex: 2,
		Buttons:         0xDEADBEEF,
		LeftStick:       Stick{X: -100, Y: 200},
		RightStick:      Stick{X: 300, Y: -400},
		LeftTrigger:     10,
		RightTrigger:    20,
		Accel:           Vector3{X: 1, Y: -2, Z: 3},
		Gyro:            Vector3{X: -4, Y: 5, Z: -6},
		Pointer:         Point{X: 7, Y: -8},
	}
	raw, err := p.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != InputPacketSize {
		t.Fatalf("expected %d bytes, got %d", InputPacketSize, len(raw))
	}

	var got InputPacket
	if err := got.Unmarshal(raw); err != nil {
		t.Fatal(err)
	}
	if got != *p {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, *p)
	}
}

func TestInputPacketZeroFillsMotionWhenAbsent(t *testing.T) {
	p := &InputPacket{Sequence: 1, ControllerIndex: 0, Buttons: 1}
	raw, _ := p.Marshal()
	var got InputPacket
	if err := got.Unmarshal(raw); err != nil {
		t.Fatal(err)
	}
	if got.Accel != (Vector3{}) || got.Gyro != (Vector3{}) || got.Pointer != (Point{}) {
		t.Fatalf("expected zero-filled motion/pointer fields, got %+v", got)
	}
}

func TestSequenceInWindow(t *testing.T) {
	if SequenceInWindow(100, 100) {
		t.Fatal("duplicate sequence should not be newer")
	}
	if !SequenceInWindow(100, 101) {
		t.Fatal("101 should be newer than 100")
	}
	if SequenceInWindow(100, 99) {
		t.Fatal("99 should not be newer than 100")
	}
	if !SequenceInWindow(65530, 10) {
		t.Fatal("expected wraparound sequence to be treated as newer within the window")
	}
}

func TestControlFrameRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("abcdefghijklmnopqrstuvwxyz012345"))

	msg := &ControlMessage{Tag: ControlKeepAlive, Body: []byte("ping")}
	frame, err := EncodeControlFrame(msg, key, 17)
	if err != nil {
		t.Fatal(err)
	}

	length := ReadControlFrameLength([4]byte(frame[0:4]))
	body := frame[4 : 4+int(length)]

	got, err := DecodeControlFrame(body, key, 17)
	if err != nil {
		t.Fatal(err)
	}
	if got.Tag != ControlKeepAlive || string(got.Body) != "ping" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestControlFrameWrongSequenceFails(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("abcdefghijklmnopqrstuvwxyz012345"))

	msg := &ControlMessage{Tag: ControlStop}
	frame, err := EncodeControlFrame(msg, key, 1)
	if err != nil {
		t.Fatal(err)
	}
	length := ReadControlFrameLength([4]byte(frame[0:4]))
	body := frame[4 : 4+int(length)]

	if _, err := DecodeControlFrame(body, key, 2); err == nil {
		t.Fatal("expected auth failure when nonce sequence mismatches")
	}
}
