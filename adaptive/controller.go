// Package adaptive implements Section 4.8's Adaptive Controller: sampling
// loss, jitter, RTT, encoder queue depth, and goodput every 200ms and
// turning that into bitrate, keyframe, and resolution-tier decisions.
package adaptive

import (
	"sync/atomic"
	"time"
)

// SampleInterval is the fixed cadence inputs are sampled at.
const SampleInterval = 200 * time.Millisecond

// Resolution is one entry in the fixed resolution-tier ladder.
type Resolution struct {
	Width, Height, FPS int
}

// Tiers is Section 4.8's fixed ladder, ordered highest to lowest quality.
var Tiers = []Resolution{
	{Width: 1920, Height: 1080, FPS: 60},
	{Width: 1280, Height: 720, FPS: 60},
	{Width: 1280, Height: 720, FPS: 30},
}

// Metrics is one 200ms sample of the inputs the policy reacts to.
type Metrics struct {
	LossRate    float64 // fraction, 0..1
	JitterMs    float64 // smoothed jitter in milliseconds
	RTT         time.Duration
	QueueDepth  int // encoder backlog depth
	GoodputBps  int64
}

// Action is the decision the controller reached for this sample.
type Action int

const (
	ActionHold Action = iota
	ActionRaiseBitrate
	ActionReduceBitrate
	ActionRequestKeyframe
	ActionStepDownTier
	ActionStepUpTier
)

func (a Action) String() string {
	switch a {
	case ActionRaiseBitrate:
		return "raise_bitrate"
	case ActionReduceBitrate:
		return "reduce_bitrate"
	case ActionRequestKeyframe:
		return "request_keyframe"
	case ActionStepDownTier:
		return "step_down_tier"
	case ActionStepUpTier:
		return "step_up_tier"
	default:
		return "hold"
	}
}

// Decision is the controller's output for one sample: the actions to
// take and the resulting target bitrate, computed synchronously so the
// Session can apply it without a second round trip.
type Decision struct {
	Actions          []Action
	TargetBitrateBps int
	TierIndex        int
}

// Config bounds the controller's bitrate excursions for one session's
// negotiated StreamConfig.
type Config struct {
	FloorBitrateBps int
	CapBitrateBps   int
	StartTierIndex  int
}

// DefaultConfig derives a Config from a session's initially negotiated
// target bitrate: the cap is the negotiated value, the floor is a
// quarter of it, matching the teacher corpus's convention of deriving
// bounds from the caller-supplied baseline rather than hardcoding them.
func DefaultConfig(targetBitrateBps int) Config {
	floor := targetBitrateBps / 4
	if floor < 500_000 {
		floor = 500_000
	}
	return Config{FloorBitrateBps: floor, CapBitrateBps: targetBitrateBps, StartTierIndex: 0}
}

// Controller tracks the rolling state Section 4.8's piecewise policy
// needs across samples: the current bitrate, how long conditions have
// been good (for the 5s up-switch hysteresis), and when the last keyframe
// was requested.
type Controller struct {
	cfg Config

	bitrate     atomic.Int64
	tierIndex   atomic.Int32
	goodSince   atomic.Value // time.Time, zero value means "not currently good"
	lastKeyframe atomic.Value // time.Time
}

// NewController creates a Controller seeded at cfg's cap bitrate and
// starting resolution tier — sessions start at the best quality and step
// down only when conditions demand it.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}
	c.bitrate.Store(int64(cfg.CapBitrateBps))
	c.tierIndex.Store(int32(cfg.StartTierIndex))
	c.lastKeyframe.Store(time.Time{})
	return c
}

// CurrentBitrate reports the controller's current target, for stats.
func (c *Controller) CurrentBitrate() int { return int(c.bitrate.Load()) }

// CurrentTier reports the controller's current resolution tier.
func (c *Controller) CurrentTier() Resolution { return Tiers[c.tierIndex.Load()] }

// NoteKeyframe records that a keyframe was just emitted, resetting the
// "last keyframe > 1s ago" clock the hold branch checks.
func (c *Controller) NoteKeyframe(at time.Time) { c.lastKeyframe.Store(at) }

// Sample runs one 200ms tick of Section 4.8's piecewise policy against m,
// evaluated at wall-clock time now (passed in, never read internally, so
// the decision is reproducible in tests).
func (c *Controller) Sample(now time.Time, m Metrics) Decision {
	cur := c.bitrate.Load()
	tier := c.tierIndex.Load()
	d := Decision{TargetBitrateBps: int(cur), TierIndex: int(tier)}

	switch {
	case m.LossRate < 0.01 && m.JitterMs < 10 && m.QueueDepth <= 1:
		c.markGood(now)
		raised := cur + cur/10
		if raised > int64(c.cfg.CapBitrateBps) {
			raised = int64(c.cfg.CapBitrateBps)
		}
		if raised != cur {
			c.bitrate.Store(raised)
			d.Actions = append(d.Actions, ActionRaiseBitrate)
			d.TargetBitrateBps = int(raised)
		}
		if tier > 0 && c.goodFor(now) >= 5*time.Second {
			c.tierIndex.Store(tier - 1)
			d.TierIndex = int(tier - 1)
			d.Actions = append(d.Actions, ActionStepUpTier)
			c.goodSince.Store(now) // re-arm: next step-up needs its own 5s of good samples
		}

	case m.LossRate < 0.05 && m.JitterMs < 25 && m.QueueDepth <= 2:
		c.clearGood()
		last, _ := c.lastKeyframe.Load().(time.Time)
		if last.IsZero() || now.Sub(last) > time.Second {
			d.Actions = append(d.Actions, ActionRequestKeyframe)
		}

	default: // L >= 5% or J >= 25ms or Q > 2
		c.clearGood()
		reduced := cur - cur/5
		if reduced < int64(c.cfg.FloorBitrateBps) {
			reduced = int64(c.cfg.FloorBitrateBps)
			if tier < int32(len(Tiers)-1) {
				c.tierIndex.Store(tier + 1)
				d.TierIndex = int(tier + 1)
				d.Actions = append(d.Actions, ActionStepDownTier)
			}
		}
		if reduced != cur {
			c.bitrate.Store(reduced)
			d.Actions = append(d.Actions, ActionReduceBitrate)
			d.TargetBitrateBps = int(reduced)
		}
	}

	if len(d.Actions) == 0 {
		d.Actions = []Action{ActionHold}
	}
	return d
}

func (c *Controller) markGood(now time.Time) {
	if since, ok := c.goodSince.Load().(time.Time); !ok || since.IsZero() {
		c.goodSince.Store(now)
	}
}

func (c *Controller) clearGood() {
	c.goodSince.Store(time.Time{})
}

func (c *Controller) goodFor(now time.Time) time.Duration {
	since, ok := c.goodSince.Load().(time.Time)
	if !ok || since.IsZero() {
		return 0
	}
	return now.Sub(since)
}
