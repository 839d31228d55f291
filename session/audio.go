package session

import (
	"context"
	"time"

	"github.com/pixelstream/streamhost/streamerr"
)

// audioPipeline runs the capture->encode->packetize->send task for the
// audio stream. Audio frames are small and cheap to encode, so unlike
// video there is no decoupling queue: a capture stall simply means this
// loop waits, which is fine since audio never blocks behind video.
func (s *Session) audioPipeline(ctx context.Context) {
	defer s.wg.Done()

	chunkInterval := 20 * time.Millisecond

	for {
		chunkCtx, cancel := context.WithTimeout(ctx, 5*chunkInterval)
		samples, err := s.audioCapture.NextSamples(chunkCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if chunkCtx.Err() != nil {
				continue // transient stall, try again next tick
			}
			s.reportError(streamerr.Wrap(streamerr.Capture, "session.captureAudio", err))
			return
		}

		encoded, err := s.audioEncoder.Encode(samples)
		if err != nil {
			disp := streamerr.Classify(streamerr.Wrap(streamerr.Encoder, "session.encodeAudio", err))
			if disp == streamerr.DispositionFatal {
				s.reportError(err)
				return
			}
			continue
		}

		pkt, err := s.audioPkt.PacketizeAudio(encoded.Data, encoded.Timestamp)
		if err != nil {
			s.reportError(streamerr.Wrap(streamerr.Transport, "session.packetizeAudio", err))
			continue
		}
		if sent := s.ep.Audio.Send(pkt); !sent {
			// Audio send queue blocks briefly then drops under sustained
			// back-pressure (Section 5); nothing further to do here, the
			// drop is already counted by AudioEndpoint.DroppedPackets.
			continue
		}
	}
}
