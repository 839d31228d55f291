package wire

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func testKey() [32]byte {
	var k [32]byte
	copy(k[:], []byte("packetizer-test-key-32-bytes!!!!"))
	return k
}

func TestVideoPacketizeDepacketizeRoundTrip(t *testing.T) {
	key := testKey()
	p := NewVideoPacketizer(256, FECConfig{SourceCount: 8, ParityCount: 2}, key)

	frame := make([]byte, 3000)
	if _, err := rand.Read(frame); err != nil {
		t.Fatal(err)
	}

	raws, err := p.PacketizeVideo(frame, 90000, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(raws) == 0 {
		t.Fatal("expected at least one packet")
	}

	d := NewDepacketizer()
	var assembled []byte
	var done bool
	for _, raw := range raws {
		var pkt MediaPacket
		if err := pkt.Unmarshal(raw); err != nil {
			t.Fatal(err)
		}
		if err := VerifyMediaPacket(&pkt, key); err != nil {
			t.Fatal(err)
		}
		assembled, done, err = d.AddFragment(&pkt)
		if err != nil {
			t.Fatal(err)
		}
	}
	if !done {
		t.Fatal("expected frame to be complete after all fragments delivered")
	}
	if !bytes.Equal(assembled, frame) {
		t.Fatal("reassembled frame does not match original")
	}
	if !d.FrameType() {
		t.Fatal("expected keyframe flag to survive reassembly")
	}
}

func TestVideoPacketizeSurvivesFragmentLoss(t *testing.T) {
	key := testKey()
	p := NewVideoPacketizer(128, FECConfig{SourceCount: 8, ParityCount: 2}, key)

	frame := make([]byte, 2048)
	if _, err := rand.Read(frame); err != nil {
		t.Fatal(err)
	}

	raws, err := p.PacketizeVideo(frame, 90000, false)
	if err != nil {
		t.Fatal(err)
	}

	var pkts []*MediaPacket
	for _, raw := range raws {
		var pkt MediaPacket
		if err := pkt.Unmarshal(raw); err != nil {
			t.Fatal(err)
		}
		pkts = append(pkts, &pkt)
	}

	// Drop the first group's fragments 3 and 7 (within parity tolerance).
	var filtered []*MediaPacket
	for _, pkt := range pkts {
		group := int(pkt.FragIndex) / (int(pkt.SourceCount) + int(pkt.ParityCount))
		local := int(pkt.FragIndex) % (int(pkt.SourceCount) + int(pkt.ParityCount))
		if group == 0 && (local == 3 || local == 7) {
			continue
		}
		filtered = append(filtered, pkt)
	}

	d := NewDepacketizer()
	var assembled []byte
	var done bool
	for _, pkt := range filtered {
		assembled, done, err = d.AddFragment(pkt)
		if err != nil {
			t.Fatal(err)
		}
	}
	if !done {
		t.Fatal("expected reconstruction to complete within parity tolerance")
	}
	if !bytes.Equal(assembled, frame) {
		t.Fatal("reconstructed frame does not match original")
	}
}

func TestAudioPacketizeSinglePacketPerFrame(t *testing.T) {
	key := testKey()
	p := NewAudioPacketizer(key)
	opus := []byte("an opus frame")

	raw, err := p.PacketizeAudio(opus, 48000)
	if err != nil {
		t.Fatal(err)
	}

	var pkt MediaPacket
	if err := pkt.Unmarshal(raw); err != nil {
		t.Fatal(err)
	}
	if err := VerifyMediaPacket(&pkt, key); err != nil {
		t.Fatal(err)
	}
	if !pkt.LastFragment() {
		t.Fatal("audio packet must always be the last (and only) fragment")
	}
	if !bytes.Equal(pkt.Payload, opus) {
		t.Fatal("audio payload mismatch")
	}
}
