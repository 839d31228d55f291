package capture

import (
	"context"
	"sync"
	"time"

	media "github.com/pixelstream/streamhost"
)

// TestPatternSource is a deterministic, dependency-free video capture
// backend used by tests and by any caller without real emulator window
// access. Unlike a hardware backend it never stalls and never errors,
// which makes it the capture-side half of the "deterministic software
// stand-in" Section 9 calls for on the encoder side.
type TestPatternSource struct {
	width, height int
	ticker        *frameTicker
	now           func() time.Time

	mu        sync.Mutex
	closed    bool
	frameNo   uint64
	yPlane    []byte
	uPlane    []byte
	vPlane    []byte
	startTime time.Time
}

// NewTestPatternSource creates a deterministic color-bars video source at
// the given resolution and frame rate.
func NewTestPatternSource(width, height, fps int) *TestPatternSource {
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	s := &TestPatternSource{
		width:  width,
		height: height,
		ticker: newFrameTicker(fps),
		now:    time.Now,
		yPlane: make([]byte, ySize),
		uPlane: make([]byte, uvSize),
		vPlane: make([]byte, uvSize),
	}
	s.paint(0)
	return s
}

// paint fills the I420 planes with a deterministic pattern that depends
// only on frameNo, so repeated runs against the same frame index always
// produce byte-identical output — required for any round-trip test built
// on top of this source plus the software encoder stand-in.
func (s *TestPatternSource) paint(frameNo uint64) {
	bar := s.width / 8
	if bar == 0 {
		bar = 1
	}
	shift := byte(frameNo % 8)
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			band := (byte(x/bar) + shift) % 8
			s.yPlane[y*s.width+x] = 32 + band*28
		}
	}
	uvW, uvH := s.width/2, s.height/2
	for y := 0; y < uvH; y++ {
		for x := 0; x < uvW; x++ {
			idx := y*uvW + x
			s.uPlane[idx] = byte(128 + int(shift)*4)
			s.vPlane[idx] = byte(128 - int(shift)*4)
		}
	}
}

// NextFrame implements VideoCapture. It paces itself to the configured
// frame rate and returns a fresh I420 frame with a deterministic pattern.
func (s *TestPatternSource) NextFrame(ctx context.Context) (*media.VideoFrame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrEndOfStream
	}
	s.mu.Unlock()

	if err := s.ticker.wait(ctx, s.now); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrEndOfStream
	}
	if s.startTime.IsZero() {
		s.startTime = s.now()
	}
	s.frameNo++
	s.paint(s.frameNo)

	frame := &media.VideoFrame{
		Data:      [][]byte{append([]byte(nil), s.yPlane...), append([]byte(nil), s.uPlane...), append([]byte(nil), s.vPlane...)},
		Stride:    []int{s.width, s.width / 2, s.width / 2},
		Width:     s.width,
		Height:    s.height,
		Format:    media.PixelFormatI420,
		Timestamp: s.now().Sub(s.startTime).Nanoseconds(),
	}
	return frame, nil
}

func (s *TestPatternSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ToneSource is a deterministic audio capture backend producing a fixed
// low-amplitude sine tone, used the same way TestPatternSource is used on
// the video side.
type ToneSource struct {
	sampleRate, channels, samplesPerChunk int
	ticker                                *frameTicker
	now                                   func() time.Time

	mu        sync.Mutex
	closed    bool
	chunkNo   uint64
	startTime time.Time
}

// NewToneSource creates a deterministic audio source delivering PCM
// chunks at the given sample rate, one chunk every chunkMs milliseconds.
func NewToneSource(sampleRate, channels, chunkMs int) *ToneSource {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if channels <= 0 {
		channels = 2
	}
	if chunkMs <= 0 {
		chunkMs = 20
	}
	samplesPerChunk := sampleRate * chunkMs / 1000
	return &ToneSource{
		sampleRate:      sampleRate,
		channels:        channels,
		samplesPerChunk: samplesPerChunk,
		ticker:          newFrameTicker(1000 / chunkMs),
		now:             time.Now,
	}
}

func (s *ToneSource) NextSamples(ctx context.Context) (*media.AudioSamples, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrEndOfStream
	}
	s.mu.Unlock()

	if err := s.ticker.wait(ctx, s.now); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrEndOfStream
	}
	if s.startTime.IsZero() {
		s.startTime = s.now()
	}
	s.chunkNo++

	data := make([]byte, s.samplesPerChunk*s.channels*2)
	const freqHz = 440.0
	for i := 0; i < s.samplesPerChunk; i++ {
		sampleIdx := s.chunkNo*uint64(s.samplesPerChunk) + uint64(i)
		v := sineSample(sampleIdx, s.sampleRate, freqHz)
		for ch := 0; ch < s.channels; ch++ {
			off := (i*s.channels + ch) * 2
			data[off] = byte(v)
			data[off+1] = byte(v >> 8)
		}
	}

	return &media.AudioSamples{
		Data:        data,
		SampleRate:  s.sampleRate,
		Channels:    s.channels,
		SampleCount: s.samplesPerChunk,
		Format:      media.AudioFormatS16,
		Timestamp:   s.now().Sub(s.startTime).Nanoseconds(),
	}, nil
}

func (s *ToneSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// sineSample computes a deterministic fixed-point sine sample without
// floating-point rounding depending on host architecture drift: a small
// precomputed quarter-wave table, reflected, is enough for a test tone.
var quarterWave = buildQuarterWave()

func buildQuarterWave() [256]int16 {
	var tbl [256]int16
	for i := range tbl {
		// sin(x) for x in [0, pi/2], scaled to int16 amplitude, computed
		// once via a Taylor-ish polynomial kept deterministic across runs.
		x := float64(i) / 256 * (3.14159265358979 / 2)
		x2 := x * x
		sinx := x * (1 - x2/6*(1-x2/20*(1-x2/42)))
		tbl[i] = int16(sinx * 8000)
	}
	return tbl
}

func sineSample(n uint64, sampleRate int, freqHz float64) int16 {
	period := float64(sampleRate) / freqHz
	phase := float64(n%uint64(period)) / period // 0..1
	quarter := phase * 4
	idx := int(quarter*256) % 256
	switch int(quarter) {
	case 0:
		return quarterWave[idx]
	case 1:
		return quarterWave[255-idx]
	case 2:
		return -quarterWave[idx]
	default:
		return -quarterWave[255-idx]
	}
}
