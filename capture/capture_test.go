package capture

import (
	"context"
	"testing"
	"time"
)

func TestTestPatternSourceDeterministic(t *testing.T) {
	a := NewTestPatternSource(64, 32, 1000)
	b := NewTestPatternSource(64, 32, 1000)
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		fa, err := a.NextFrame(ctx)
		if err != nil {
			t.Fatalf("a.NextFrame: %v", err)
		}
		fb, err := b.NextFrame(ctx)
		if err != nil {
			t.Fatalf("b.NextFrame: %v", err)
		}
		if len(fa.Data) != len(fb.Data) {
			t.Fatalf("plane count mismatch: %d vs %d", len(fa.Data), len(fb.Data))
		}
		for p := range fa.Data {
			if string(fa.Data[p]) != string(fb.Data[p]) {
				t.Fatalf("frame %d plane %d diverged between independent sources", i, p)
			}
		}
	}
}

func TestTestPatternSourceEndOfStreamAfterClose(t *testing.T) {
	s := NewTestPatternSource(16, 16, 1000)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.NextFrame(context.Background()); err != ErrEndOfStream {
		t.Fatalf("NextFrame after Close: got %v, want ErrEndOfStream", err)
	}
}

func TestTestPatternSourceRespectsContextCancellation(t *testing.T) {
	s := NewTestPatternSource(16, 16, 1) // 1 fps, slow enough to cancel first
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.NextFrame(ctx); err == nil {
		t.Fatal("expected NextFrame to observe cancelled context")
	}
}

func TestToneSourceProducesStableChunkSize(t *testing.T) {
	s := NewToneSource(48000, 2, 20)
	defer s.Close()

	ctx := context.Background()
	samples, err := s.NextSamples(ctx)
	if err != nil {
		t.Fatalf("NextSamples: %v", err)
	}
	wantSamples := 48000 * 20 / 1000
	if samples.SampleCount != wantSamples {
		t.Fatalf("SampleCount = %d, want %d", samples.SampleCount, wantSamples)
	}
	wantBytes := wantSamples * 2 * 2
	if len(samples.Data) != wantBytes {
		t.Fatalf("len(Data) = %d, want %d", len(samples.Data), wantBytes)
	}
}

func TestToneSourceEndOfStreamAfterClose(t *testing.T) {
	s := NewToneSource(48000, 2, 20)
	s.Close()
	if _, err := s.NextSamples(context.Background()); err != ErrEndOfStream {
		t.Fatalf("NextSamples after Close: got %v, want ErrEndOfStream", err)
	}
}

func TestFrameTickerPacesCalls(t *testing.T) {
	ticker := newFrameTicker(100) // 10ms interval
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := ticker.wait(ctx, time.Now); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 30*time.Millisecond {
		t.Fatalf("ticker paced too fast: elapsed %v for 5 ticks at 10ms", elapsed)
	}
}

func TestOpenVideoFallsBackToTestPattern(t *testing.T) {
	v, err := OpenVideo(WindowHandle(1), Config{Width: 32, Height: 32, FPS: 1000})
	if err != nil {
		t.Fatalf("OpenVideo: %v", err)
	}
	defer v.Close()
	if _, err := v.NextFrame(context.Background()); err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
}

func TestOpenAudioFallsBackToToneSource(t *testing.T) {
	a, err := OpenAudio(Config{SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("OpenAudio: %v", err)
	}
	defer a.Close()
	if _, err := a.NextSamples(context.Background()); err != nil {
		t.Fatalf("NextSamples: %v", err)
	}
}
