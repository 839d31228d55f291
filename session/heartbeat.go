package session

import (
	"context"
	"math"
	"time"

	"github.com/pion/rtcp"

	"github.com/pixelstream/streamhost/adaptive"
	"github.com/pixelstream/streamhost/wire"
)

// heartbeatLoop runs the heartbeat/adaptive task: reading KeepAlive and
// QualityChange/Stop control messages, detecting peer timeout, and
// sampling the adaptive controller every 200ms.
func (s *Session) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	recvDone := make(chan struct{})
	go s.controlRecvLoop(ctx, recvDone)

	ticker := time.NewTicker(adaptive.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-recvDone
			return
		case <-ticker.C:
			s.sampleAdaptive()
			if s.peerTimedOut() {
				s.triggerTeardown(ReasonPeerTimeout)
			}
		}
	}
}

func (s *Session) peerTimedOut() bool {
	lh := s.lastHeartbeat.Load()
	if lh == nil {
		return false
	}
	return time.Since(*lh) > s.peerTimeout
}

// controlRecvLoop blocks on ControlConn.Recv, which requires an absolute
// deadline per Section 5; it re-arms a short deadline each iteration so
// ctx cancellation is observed within roughly one poll interval.
func (s *Session) controlRecvLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := s.ep.Control.Recv(time.Now().Add(500 * time.Millisecond))
		if err != nil {
			continue // deadline exceeded or transient read error, retry
		}
		s.handleControlMessage(msg)
	}
}

func (s *Session) handleControlMessage(msg *wire.ControlMessage) {
	now := time.Now()
	switch msg.Tag {
	case wire.ControlKeepAlive:
		s.lastHeartbeat.Store(&now)
	case wire.ControlStop:
		s.triggerTeardown(ReasonAdminStop)
	case wire.ControlQualityChange:
		if cfg := s.cfg.Load(); cfg != nil {
			if next, ok := decodeQualityChangeBody(msg.Body, *cfg); ok {
				_ = s.ApplyQuality(next)
			}
		}
		s.lastHeartbeat.Store(&now)
	case wire.ControlStatistics:
		s.applyReceiverReport(msg.Body)
		s.lastHeartbeat.Store(&now)
	default:
		s.lastHeartbeat.Store(&now)
	}
}

// applyReceiverReport decodes a client-pushed RTCP receiver report and
// stores its loss/jitter fields for the next adaptive sample; Section
// 4.8's policy reacts to these on its own 200ms cadence rather than
// here, so a malformed or absent report just leaves the last known
// values in place.
func (s *Session) applyReceiverReport(body []byte) {
	packets, err := rtcp.Unmarshal(body)
	if err != nil {
		return
	}
	for _, p := range packets {
		rr, ok := p.(*rtcp.ReceiverReport)
		if !ok || len(rr.Reports) == 0 {
			continue
		}
		rep := rr.Reports[0]
		lossRate := float64(rep.FractionLost) / 256
		jitterMs := float64(rep.Jitter) / 90 // 90kHz RTP clock, the video track's rate
		s.lossRate.Store(math.Float64bits(lossRate))
		s.jitterMs.Store(math.Float64bits(jitterMs))
		return
	}
}

// sampleAdaptive feeds the controller's 200ms sample using the most
// recent encoder/transport counters and applies its decision.
func (s *Session) sampleAdaptive() {
	if s.adaptiveCtl == nil {
		return
	}
	var queueDepth int
	if s.ep != nil && s.ep.Video.DroppedPackets() > 0 {
		queueDepth = 3
	}

	decision := s.adaptiveCtl.Sample(time.Now(), adaptive.Metrics{
		LossRate:   math.Float64frombits(s.lossRate.Load()),
		JitterMs:   math.Float64frombits(s.jitterMs.Load()),
		QueueDepth: queueDepth,
	})

	for _, action := range decision.Actions {
		switch action {
		case adaptive.ActionRequestKeyframe:
			s.RequestKeyframe()
		case adaptive.ActionRaiseBitrate, adaptive.ActionReduceBitrate:
			if enc := s.loadVideoEncoder(); enc != nil {
				_ = enc.SetBitrate(decision.TargetBitrateBps)
			}
		}
	}
}
