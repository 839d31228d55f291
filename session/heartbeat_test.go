package session

import (
	"math"
	"testing"

	"github.com/pion/rtcp"
)

func TestApplyReceiverReportStoresLossAndJitter(t *testing.T) {
	s := New(Deps{ClientID: NewSessionID(), SessionID: NewSessionID()})

	rr := &rtcp.ReceiverReport{
		SSRC: 1,
		Reports: []rtcp.ReceptionReport{
			{SSRC: 2, FractionLost: 128, Jitter: 900},
		},
	}
	body, err := rr.Marshal()
	if err != nil {
		t.Fatalf("marshal receiver report: %v", err)
	}

	s.applyReceiverReport(body)

	gotLoss := math.Float64frombits(s.lossRate.Load())
	wantLoss := 128.0 / 256
	if gotLoss != wantLoss {
		t.Errorf("lossRate = %v, want %v", gotLoss, wantLoss)
	}

	gotJitter := math.Float64frombits(s.jitterMs.Load())
	wantJitter := 900.0 / 90
	if gotJitter != wantJitter {
		t.Errorf("jitterMs = %v, want %v", gotJitter, wantJitter)
	}
}

func TestApplyReceiverReportIgnoresMalformedBody(t *testing.T) {
	s := New(Deps{ClientID: NewSessionID(), SessionID: NewSessionID()})
	s.applyReceiverReport([]byte{0xff, 0x00, 0x01})
	if s.lossRate.Load() != 0 || s.jitterMs.Load() != 0 {
		t.Error("malformed body must not alter stored metrics")
	}
}

func TestApplyReceiverReportIgnoresEmptyReports(t *testing.T) {
	s := New(Deps{ClientID: NewSessionID(), SessionID: NewSessionID()})
	rr := &rtcp.ReceiverReport{SSRC: 1}
	body, err := rr.Marshal()
	if err != nil {
		t.Fatalf("marshal receiver report: %v", err)
	}
	s.applyReceiverReport(body)
	if s.lossRate.Load() != 0 || s.jitterMs.Load() != 0 {
		t.Error("a receiver report with no reception reports must not alter stored metrics")
	}
}
