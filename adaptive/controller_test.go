package adaptive

import (
	"testing"
	"time"
)

func TestSampleRaisesBitrateOnGoodConditions(t *testing.T) {
	c := NewController(Config{FloorBitrateBps: 1_000_000, CapBitrateBps: 8_000_000, StartTierIndex: 0})
	c.bitrate.Store(4_000_000)
	now := time.Now()

	d := c.Sample(now, Metrics{LossRate: 0, JitterMs: 2, QueueDepth: 0})
	if d.TargetBitrateBps <= 4_000_000 {
		t.Fatalf("expected bitrate to rise above 4_000_000, got %d", d.TargetBitrateBps)
	}
	found := false
	for _, a := range d.Actions {
		if a == ActionRaiseBitrate {
			found = true
		}
	}
	if !found {
		t.Fatal("expected ActionRaiseBitrate")
	}
}

func TestSampleCapsBitrateAtConfiguredCeiling(t *testing.T) {
	c := NewController(Config{FloorBitrateBps: 1_000_000, CapBitrateBps: 5_000_000, StartTierIndex: 0})
	c.bitrate.Store(4_900_000)
	now := time.Now()

	d := c.Sample(now, Metrics{LossRate: 0, JitterMs: 2, QueueDepth: 0})
	if d.TargetBitrateBps > 5_000_000 {
		t.Fatalf("bitrate exceeded cap: %d", d.TargetBitrateBps)
	}
}

func TestSampleHoldsAndRequestsKeyframeInMidRange(t *testing.T) {
	c := NewController(Config{FloorBitrateBps: 1_000_000, CapBitrateBps: 8_000_000, StartTierIndex: 0})
	c.bitrate.Store(4_000_000)
	now := time.Now()

	d := c.Sample(now, Metrics{LossRate: 0.02, JitterMs: 5, QueueDepth: 0})
	if d.TargetBitrateBps != 4_000_000 {
		t.Fatalf("expected bitrate to hold at 4_000_000, got %d", d.TargetBitrateBps)
	}
	found := false
	for _, a := range d.Actions {
		if a == ActionRequestKeyframe {
			found = true
		}
	}
	if !found {
		t.Fatal("expected ActionRequestKeyframe when no keyframe in last second")
	}
}

func TestSampleReducesBitrateAndStepsDownTierAtFloor(t *testing.T) {
	c := NewController(Config{FloorBitrateBps: 1_000_000, CapBitrateBps: 8_000_000, StartTierIndex: 0})
	c.bitrate.Store(1_100_000)
	now := time.Now()

	d := c.Sample(now, Metrics{LossRate: 0.1, JitterMs: 2, QueueDepth: 0})
	if d.TargetBitrateBps != 1_000_000 {
		t.Fatalf("expected bitrate to clamp at floor 1_000_000, got %d", d.TargetBitrateBps)
	}
	if d.TierIndex != 1 {
		t.Fatalf("expected step down to tier 1, got %d", d.TierIndex)
	}
}

func TestUpSwitchRequiresFiveSecondsOfGoodConditions(t *testing.T) {
	c := NewController(Config{FloorBitrateBps: 1_000_000, CapBitrateBps: 8_000_000, StartTierIndex: 1})
	now := time.Now()

	d := c.Sample(now, Metrics{LossRate: 0, JitterMs: 1, QueueDepth: 0})
	if d.TierIndex != 1 {
		t.Fatalf("tier should not step up immediately, got %d", d.TierIndex)
	}

	d = c.Sample(now.Add(6*time.Second), Metrics{LossRate: 0, JitterMs: 1, QueueDepth: 0})
	if d.TierIndex != 0 {
		t.Fatalf("expected step up to tier 0 after 5s of good conditions, got %d", d.TierIndex)
	}
}

func TestDownSwitchIsImmediate(t *testing.T) {
	c := NewController(Config{FloorBitrateBps: 100_000, CapBitrateBps: 8_000_000, StartTierIndex: 0})
	c.bitrate.Store(100_000)
	now := time.Now()

	d := c.Sample(now, Metrics{LossRate: 0.2, JitterMs: 2, QueueDepth: 0})
	if d.TierIndex != 1 {
		t.Fatalf("expected immediate step down to tier 1, got %d", d.TierIndex)
	}
}
