package session

import (
	"context"
	"time"

	"github.com/pixelstream/streamhost/wire"
)

// inputPollInterval bounds how long inputDispatch sleeps between polls of
// the non-blocking input endpoint. The input channel is latency-critical
// but its Recv is a poll, not a blocking call (Section 5's lock-free SPSC
// ring), so this loop provides its own pacing.
const inputPollInterval = 2 * time.Millisecond

// InputInjector applies a decoded, freshness-checked input packet to the
// emulated controller. The host layer supplies the concrete
// implementation; Session only owns sequencing and freshness.
type InputInjector interface {
	Inject(pkt *wire.InputPacket)
}

// inputDispatch runs the receive->dispatch task: polling the input
// endpoint, verifying each packet's auth tag, applying Section 4.4's
// per-controller 256-entry modular freshness window, and handing fresh
// packets to the injector in non-decreasing sequence order.
func (s *Session) inputDispatch(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(inputPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				raw, ok := s.ep.Input.Recv()
				if !ok {
					break
				}
				s.handleInputDatagram(raw)
			}
		}
	}
}

func (s *Session) handleInputDatagram(raw []byte) {
	var pkt wire.InputPacket
	if err := pkt.Unmarshal(raw); err != nil {
		s.stats.inputDropped.Add(1)
		return
	}
	if err := wire.VerifyInputPacket(&pkt, s.keys.Input); err != nil {
		// A bad auth tag on the input channel is a protocol violation per
		// Section 4.4's failure semantics, but a single forged packet on
		// an otherwise-healthy session should not tear it down: drop and
		// count it, only the control channel's own auth failures escalate
		// to teardown.
		s.stats.inputDropped.Add(1)
		return
	}

	idx := int(pkt.ControllerIndex)
	if idx < 0 || idx >= len(s.controllerLast) {
		s.stats.inputDropped.Add(1)
		return
	}
	last := s.controllerLast[idx]
	if !wire.SequenceInWindow(last, pkt.Sequence) {
		if pkt.Sequence == last {
			s.stats.inputDuplicates.Add(1)
		} else {
			s.stats.inputDropped.Add(1)
		}
		return
	}
	s.controllerLast[idx] = pkt.Sequence
	s.stats.inputApplied.Add(1)

	if s.injector != nil {
		s.injector.Inject(&pkt)
	}
}
