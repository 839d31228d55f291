package encoder

import (
	"bytes"
	"testing"

	media "github.com/pixelstream/streamhost"
)

func newTestFrame(width, height int, fill byte) *media.VideoFrame {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	y := bytes.Repeat([]byte{fill}, ySize)
	u := bytes.Repeat([]byte{fill + 1}, uvSize)
	v := bytes.Repeat([]byte{fill + 2}, uvSize)
	return &media.VideoFrame{
		Data:   [][]byte{y, u, v},
		Stride: []int{width, width / 2, width / 2},
		Width:  width,
		Height: height,
		Format: media.PixelFormatI420,
	}
}

func TestSoftwareVideoEncoderFirstFrameIsKeyframe(t *testing.T) {
	enc, err := media.NewVideoEncoder(media.VideoEncoderConfig{
		Codec: media.VideoCodecH264, Provider: media.ProviderSoftware,
		Width: 16, Height: 16, FPS: 30, KeyframeInterval: 2000,
	})
	if err != nil {
		t.Fatalf("NewVideoEncoder: %v", err)
	}
	defer enc.Close()

	out, err := enc.Encode(newTestFrame(16, 16, 10))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !out.IsKeyframe() {
		t.Fatal("first encoded frame must be a keyframe")
	}
}

func TestSoftwareVideoEncoderIdentityMapping(t *testing.T) {
	enc, err := media.NewVideoEncoder(media.VideoEncoderConfig{
		Codec: media.VideoCodecH264, Provider: media.ProviderSoftware,
		Width: 8, Height: 8, FPS: 30, KeyframeInterval: 2000,
	})
	if err != nil {
		t.Fatalf("NewVideoEncoder: %v", err)
	}
	defer enc.Close()

	frame := newTestFrame(8, 8, 5)
	out, err := enc.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	payload := out.Data[softwareFrameHeaderSize:]
	var want []byte
	for _, plane := range frame.Data {
		want = append(want, plane...)
	}
	if !bytes.Equal(payload, want) {
		t.Fatalf("software encoder is not identity-mapped: got %d bytes, want %d bytes", len(payload), len(want))
	}
}

func TestSoftwareVideoEncoderKeyframeCadence(t *testing.T) {
	enc, err := media.NewVideoEncoder(media.VideoEncoderConfig{
		Codec: media.VideoCodecH264, Provider: media.ProviderSoftware,
		Width: 8, Height: 8, FPS: 10, KeyframeInterval: 1000, // every 10 frames
	})
	if err != nil {
		t.Fatalf("NewVideoEncoder: %v", err)
	}
	defer enc.Close()

	var keyframes int
	for i := 0; i < 20; i++ {
		out, err := enc.Encode(newTestFrame(8, 8, byte(i)))
		if err != nil {
			t.Fatalf("Encode frame %d: %v", i, err)
		}
		if out.IsKeyframe() {
			keyframes++
		}
	}
	if keyframes != 2 {
		t.Fatalf("keyframes = %d, want 2 (frame 0 and frame 10)", keyframes)
	}
}

func TestSoftwareVideoEncoderRequestKeyframe(t *testing.T) {
	enc, err := media.NewVideoEncoder(media.VideoEncoderConfig{
		Codec: media.VideoCodecH264, Provider: media.ProviderSoftware,
		Width: 8, Height: 8, FPS: 30, KeyframeInterval: 2000,
	})
	if err != nil {
		t.Fatalf("NewVideoEncoder: %v", err)
	}
	defer enc.Close()

	if _, err := enc.Encode(newTestFrame(8, 8, 1)); err != nil {
		t.Fatal(err)
	}
	enc.RequestKeyframe()
	out, err := enc.Encode(newTestFrame(8, 8, 2))
	if err != nil {
		t.Fatal(err)
	}
	if !out.IsKeyframe() {
		t.Fatal("RequestKeyframe should force the next Encode to produce a keyframe")
	}
}

func TestNewVideoEncoderRejectsOutOfRangeKeyframeInterval(t *testing.T) {
	_, err := media.NewVideoEncoder(media.VideoEncoderConfig{
		Codec: media.VideoCodecH264, Provider: media.ProviderSoftware,
		Width: 8, Height: 8, FPS: 30, KeyframeInterval: 100, // below 500ms minimum
	})
	if err == nil {
		t.Fatal("expected error for keyframe interval below the configured minimum")
	}
}

func TestSoftwareAudioEncoderIdentityMapping(t *testing.T) {
	enc, err := media.NewAudioEncoder(media.AudioEncoderConfig{
		Codec: media.AudioCodecOpus, Provider: media.ProviderSoftware,
		SampleRate: 48000, Channels: 2,
	})
	if err != nil {
		t.Fatalf("NewAudioEncoder: %v", err)
	}
	defer enc.Close()

	samples := &media.AudioSamples{
		Data:        bytes.Repeat([]byte{0xAB}, 960*2*2),
		SampleRate:  48000,
		Channels:    2,
		SampleCount: 960,
		Format:      media.AudioFormatS16,
	}
	out, err := enc.Encode(samples)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(out.Data[8:], samples.Data) {
		t.Fatal("software audio encoder is not identity-mapped")
	}
}

func TestVideoEncoderProvidersAlwaysIncludesSoftware(t *testing.T) {
	providers := media.VideoEncoderProviders(media.VideoCodecH264)
	found := false
	for _, p := range providers {
		if p == media.ProviderSoftware {
			found = true
		}
	}
	if !found {
		t.Fatal("ProviderSoftware must always be available for VideoCodecH264")
	}
}
