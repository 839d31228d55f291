package session

import (
	"context"
	"sync"
	"time"

	media "github.com/pixelstream/streamhost"
	"github.com/pixelstream/streamhost/streamerr"
)

// videoPipeline runs the capture->encode->packetize->send task for the
// video stream (Section 5's four logical tasks, two of which — capture-
// >encode and packetize->send — live in this one goroutine tree so the
// encoder backlog queue sits exactly where Section 4.4's tie-break
// expects it, between capture and encode).
func (s *Session) videoPipeline(ctx context.Context) {
	defer s.wg.Done()

	cfg := s.cfg.Load()
	frameInterval := time.Second / time.Duration(max1(cfg.FPS))
	queue := newVideoFrameQueue(3)

	var inner sync.WaitGroup
	inner.Add(1)
	go func() {
		defer inner.Done()
		s.captureVideoLoop(ctx, queue, frameInterval)
	}()

	s.encodeSendVideoLoop(ctx, queue, frameInterval)
	inner.Wait()
}

// captureVideoLoop pulls frames from the capture backend and pushes them
// into queue. A capture timeout is simply retried; Section 4.4's
// capture-stall repeat-last-frame policy lives in encodeSendVideoLoop,
// which sees the empty queue.
func (s *Session) captureVideoLoop(ctx context.Context, queue *videoFrameQueue, frameInterval time.Duration) {
	defer queue.close()
	for {
		frameCtx, cancel := context.WithTimeout(ctx, frameInterval)
		frame, err := s.videoCapture.NextFrame(frameCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if frameCtx.Err() != nil {
				// Capture stall: encodeSendVideoLoop handles frame
				// repetition itself when queue.pop times out, so just
				// retry the capture call.
				continue
			}
			s.reportError(streamerr.Wrap(streamerr.Capture, "session.captureVideo", err))
			return
		}
		if dropped := queue.push(frame); dropped {
			s.loadVideoEncoder().RequestKeyframe()
		}
	}
}

// encodeSendVideoLoop drains queue, encodes each frame, and sends the
// packetized result on the video endpoint. When the queue has nothing
// within one frame interval (capture stall), it repeats the last encoded
// frame up to maxStallRepeats times before degrading.
func (s *Session) encodeSendVideoLoop(ctx context.Context, queue *videoFrameQueue, frameInterval time.Duration) {
	var lastEncoded *media.EncodedFrame
	var stallRepeats int

	for {
		popCtx, cancel := context.WithTimeout(ctx, frameInterval)
		frame, ok := queue.pop(popCtx)
		cancel()

		if !ok {
			if ctx.Err() != nil {
				return
			}
			// Stall: repeat the last encoded frame with keyframe=false.
			if lastEncoded != nil && stallRepeats < maxStallRepeats {
				stallRepeats++
				s.stats.stallRepeats.Add(1)
				repeat := *lastEncoded
				repeat.FrameType = media.FrameTypeDelta
				s.sendEncodedVideo(&repeat)
				continue
			}
			s.degrade()
			continue
		}
		stallRepeats = 0

		if pending := s.pendingCfg.Load(); pending != nil {
			if err := s.applyStagedQuality(*pending); err != nil {
				s.reportError(err)
			}
		}

		enc := s.loadVideoEncoder()

		wantKeyframe := s.forceKeyframe.CompareAndSwap(true, false)
		if wantKeyframe {
			enc.RequestKeyframe()
		}

		encoded, err := enc.Encode(frame)
		if err != nil {
			disp := streamerr.Classify(streamerr.Wrap(streamerr.Encoder, "session.encodeVideo", err))
			switch disp {
			case streamerr.DispositionFatal:
				s.reportError(err)
				return
			default:
				s.degrade()
				enc.RequestKeyframe()
				continue
			}
		}

		lastEncoded = encoded
		if encoded.IsKeyframe() {
			s.adaptiveCtl.NoteKeyframe(time.Now())
		}
		if s.state.load() == Degraded {
			s.recover()
		}
		s.sendEncodedVideo(encoded)
		s.markStreaming()
	}
}

func (s *Session) sendEncodedVideo(frame *media.EncodedFrame) {
	packets, err := s.videoPkt.PacketizeVideo(frame.Data, frame.Timestamp, frame.IsKeyframe())
	if err != nil {
		s.reportError(streamerr.Wrap(streamerr.Transport, "session.packetizeVideo", err))
		return
	}
	for _, pkt := range packets {
		s.ep.Video.Send(pkt)
	}
}

func max1(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}

// applyStagedQuality performs the IDR-aligned ApplyQuality transition:
// rebuilding the encoder if resolution/fps/codec changed, or just
// adjusting bitrate in place otherwise.
func (s *Session) applyStagedQuality(next StreamConfig) error {
	cur := s.cfg.Load()
	s.pendingCfg.Store(nil)

	if cur.needsEncoderRebuild(next) {
		newEnc, err := media.NewVideoEncoder(media.VideoEncoderConfig{
			Codec: next.Codec, Provider: media.ProviderAuto,
			Width: next.Width, Height: next.Height, FPS: next.FPS,
			BitrateBps: next.TargetBitrate, KeyframeInterval: 2000,
		})
		if err != nil {
			return streamerr.Wrap(streamerr.Encoder, "session.applyStagedQuality", err)
		}
		old := s.videoEncoder.Swap(&newEnc)
		if old != nil {
			(*old).Close()
		}
	} else if err := s.loadVideoEncoder().SetBitrate(next.TargetBitrate); err != nil {
		return streamerr.Wrap(streamerr.Encoder, "session.applyStagedQuality.bitrate", err)
	}

	s.cfg.Store(&next)
	return nil
}
