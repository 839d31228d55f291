// Package metrics implements Section 5's process-wide stats aggregator:
// the one piece of global mutable state besides the registry itself,
// initialized once at startup and scraped by the host's admin HTTP
// surface. It walks the registry at scrape time rather than duplicating
// each session's own counters, so a session's numbers never drift from
// what Observe() would report directly.
package metrics

import (
	"net/http"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pixelstream/streamhost/session"
)

// SessionSource is the slice of the registry the aggregator needs. It is
// an interface, not *registry.Registry directly, so metrics doesn't
// impose an import-direction requirement on the registry package and
// tests can supply a fake source.
type SessionSource interface {
	Sessions() []*session.Session
	Count() int
	Capacity() int
}

// Aggregator is a prometheus.Collector that reports, at every scrape:
// per-session counters pulled from each live Session's Observe(), the
// registry's admission pressure, and this process's own memory and CPU
// usage. It holds no counters of its own between scrapes; everything is
// computed fresh from the registry and gopsutil each time Collect runs.
type Aggregator struct {
	reg    *prometheus.Registry
	source SessionSource
	logger logging.LeveledLogger

	sampler *resourceSampler

	sessionsActive   *prometheus.Desc
	sessionsCapacity *prometheus.Desc

	framesEncoded    *prometheus.Desc
	keyframesEncoded *prometheus.Desc
	bytesSentVideo   *prometheus.Desc
	bytesSentAudio   *prometheus.Desc
	videoDropped     *prometheus.Desc
	audioDropped     *prometheus.Desc
	inputApplied     *prometheus.Desc
	inputDropped     *prometheus.Desc
	stallRepeats     *prometheus.Desc
	sessionUptime    *prometheus.Desc

	processRSSBytes     *prometheus.Desc
	processCPUPercent   *prometheus.Desc
	systemMemoryPercent *prometheus.Desc
}

// New constructs an Aggregator over source and registers it with a fresh
// prometheus.Registry. It fails only if gopsutil can't resolve this
// process's own handle, which would also mean the health surface has
// nothing meaningful to report.
func New(source SessionSource, logger logging.LeveledLogger) (*Aggregator, error) {
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("metrics")
	}
	sampler, err := newResourceSampler()
	if err != nil {
		return nil, err
	}

	sessionLabels := []string{"session_id", "client_id", "state"}
	a := &Aggregator{
		reg:     prometheus.NewRegistry(),
		source:  source,
		logger:  logger,
		sampler: sampler,

		sessionsActive:   prometheus.NewDesc("streamhost_sessions_active", "Number of sessions currently registered.", nil, nil),
		sessionsCapacity: prometheus.NewDesc("streamhost_sessions_capacity", "Configured cap on concurrent sessions.", nil, nil),

		framesEncoded:    prometheus.NewDesc("streamhost_session_frames_encoded_total", "Video frames encoded by this session.", sessionLabels, nil),
		keyframesEncoded: prometheus.NewDesc("streamhost_session_keyframes_encoded_total", "Keyframes encoded by this session.", sessionLabels, nil),
		bytesSentVideo:   prometheus.NewDesc("streamhost_session_video_bytes_total", "Video bytes encoded by this session.", sessionLabels, nil),
		bytesSentAudio:   prometheus.NewDesc("streamhost_session_audio_bytes_total", "Audio bytes encoded by this session.", sessionLabels, nil),
		videoDropped:     prometheus.NewDesc("streamhost_session_video_dropped_total", "Video packets dropped under back-pressure.", sessionLabels, nil),
		audioDropped:     prometheus.NewDesc("streamhost_session_audio_dropped_total", "Audio frames dropped under back-pressure.", sessionLabels, nil),
		inputApplied:     prometheus.NewDesc("streamhost_session_input_applied_total", "Input packets applied by this session.", sessionLabels, nil),
		inputDropped:     prometheus.NewDesc("streamhost_session_input_dropped_total", "Input packets dropped by this session.", sessionLabels, nil),
		stallRepeats:     prometheus.NewDesc("streamhost_session_stall_repeats_total", "Frames repeated during capture stalls by this session.", sessionLabels, nil),
		sessionUptime:    prometheus.NewDesc("streamhost_session_uptime_seconds", "Seconds since this session started.", sessionLabels, nil),

		processRSSBytes:     prometheus.NewDesc("streamhost_process_rss_bytes", "Resident set size of this process.", nil, nil),
		processCPUPercent:   prometheus.NewDesc("streamhost_process_cpu_percent", "CPU percent used by this process since the previous scrape.", nil, nil),
		systemMemoryPercent: prometheus.NewDesc("streamhost_system_memory_percent", "System-wide memory utilization.", nil, nil),
	}

	a.reg.MustRegister(a)
	return a, nil
}

// Describe satisfies prometheus.Collector.
func (a *Aggregator) Describe(ch chan<- *prometheus.Desc) {
	ch <- a.sessionsActive
	ch <- a.sessionsCapacity
	ch <- a.framesEncoded
	ch <- a.keyframesEncoded
	ch <- a.bytesSentVideo
	ch <- a.bytesSentAudio
	ch <- a.videoDropped
	ch <- a.audioDropped
	ch <- a.inputApplied
	ch <- a.inputDropped
	ch <- a.stallRepeats
	ch <- a.sessionUptime
	ch <- a.processRSSBytes
	ch <- a.processCPUPercent
	ch <- a.systemMemoryPercent
}

// Collect satisfies prometheus.Collector, walking the registry and
// sampling process resources fresh on every call.
func (a *Aggregator) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(a.sessionsActive, prometheus.GaugeValue, float64(a.source.Count()))
	ch <- prometheus.MustNewConstMetric(a.sessionsCapacity, prometheus.GaugeValue, float64(a.source.Capacity()))

	for _, sess := range a.source.Sessions() {
		st := sess.Observe()
		labels := []string{sess.SessionID().String(), sess.ClientID().String(), st.State.String()}

		ch <- prometheus.MustNewConstMetric(a.framesEncoded, prometheus.CounterValue, float64(st.FramesEncoded), labels...)
		ch <- prometheus.MustNewConstMetric(a.keyframesEncoded, prometheus.CounterValue, float64(st.KeyframesEncoded), labels...)
		ch <- prometheus.MustNewConstMetric(a.bytesSentVideo, prometheus.CounterValue, float64(st.BytesSentVideo), labels...)
		ch <- prometheus.MustNewConstMetric(a.bytesSentAudio, prometheus.CounterValue, float64(st.BytesSentAudio), labels...)
		ch <- prometheus.MustNewConstMetric(a.videoDropped, prometheus.CounterValue, float64(st.VideoDropped), labels...)
		ch <- prometheus.MustNewConstMetric(a.audioDropped, prometheus.CounterValue, float64(st.AudioDropped), labels...)
		ch <- prometheus.MustNewConstMetric(a.inputApplied, prometheus.CounterValue, float64(st.InputApplied), labels...)
		ch <- prometheus.MustNewConstMetric(a.inputDropped, prometheus.CounterValue, float64(st.InputDropped), labels...)
		ch <- prometheus.MustNewConstMetric(a.stallRepeats, prometheus.CounterValue, float64(st.StallRepeats), labels...)
		ch <- prometheus.MustNewConstMetric(a.sessionUptime, prometheus.GaugeValue, st.Uptime.Seconds(), labels...)
	}

	sample, err := a.sampler.sample()
	if err != nil {
		a.logger.Warnf("metrics: resource sample failed: %v", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(a.processRSSBytes, prometheus.GaugeValue, float64(sample.ProcessRSSBytes))
	ch <- prometheus.MustNewConstMetric(a.processCPUPercent, prometheus.GaugeValue, sample.ProcessCPUPercent)
	ch <- prometheus.MustNewConstMetric(a.systemMemoryPercent, prometheus.GaugeValue, sample.SystemMemPercent)
}

// Handler returns the /metrics endpoint the host's admin HTTP surface
// mounts, serving this Aggregator's own registry rather than the global
// default one so tests can spin up isolated Aggregators side by side.
func (a *Aggregator) Handler() http.Handler {
	return promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{})
}
