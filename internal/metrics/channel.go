// Package metrics provides Prometheus metrics for framebuf channels.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "framebuf"
	subsystem = "channel"
)

var (
	framesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "frames_written_total",
		Help:      "Frames published by the producer",
	}, []string{"channel"})

	framesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "frames_read_total",
		Help:      "Frames returned to consumers",
	}, []string{"channel"})

	noNewFrame = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "no_new_frame_total",
		Help:      "Reads that found no frame newer than the last one",
	}, []string{"channel"})

	sizeMismatch = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "size_mismatch_total",
		Help:      "Writes rejected because the frame shape did not match the block",
	}, []string{"channel"})

	recoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "recoveries_total",
		Help:      "Poisoned or stale blocks scrapped by a producer",
	}, []string{"channel"})

	reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "reconnects_total",
		Help:      "Consumer attachments after the first",
	}, []string{"channel"})

	frameUID = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "frame_uid",
		Help:      "Latest published frame uid",
	}, []string{"channel"})

	fps = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "fps",
		Help:      "Frames per second observed by the monitor",
	}, []string{"channel"})

	alive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "alive",
		Help:      "1 when the block is active and its producer is running",
	}, []string{"channel"})

	poisoned = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "poisoned",
		Help:      "1 when the producer died without deactivating the block",
	}, []string{"channel"})

	readLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "read_latency_seconds",
		Help:      "Time between frame acquisition and a consumer reading it",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"channel"})

	// Local cache for API and SSE exporter access.
	cache   = make(map[string]*ChannelMetrics)
	cacheMu sync.RWMutex
)

// ChannelMetrics holds current metric values for a channel.
type ChannelMetrics struct {
	State         string
	FrameUID      uint64
	FPS           float64
	Alive         bool
	Poisoned      bool
	FramesWritten uint64
	FramesRead    uint64
	Recoveries    uint64
	Reconnects    uint64
}

// AddFramesWritten counts frames published to a channel.
func AddFramesWritten(channel string, n int) {
	framesWritten.WithLabelValues(channel).Add(float64(n))
	updateCache(channel, func(m *ChannelMetrics) { m.FramesWritten += uint64(n) })
}

// AddFramesRead counts frames read from a channel.
func AddFramesRead(channel string, n int) {
	framesRead.WithLabelValues(channel).Add(float64(n))
	updateCache(channel, func(m *ChannelMetrics) { m.FramesRead += uint64(n) })
}

// IncNoNewFrame counts a read that returned no new frame.
func IncNoNewFrame(channel string) {
	noNewFrame.WithLabelValues(channel).Inc()
}

// IncSizeMismatch counts a rejected write.
func IncSizeMismatch(channel string) {
	sizeMismatch.WithLabelValues(channel).Inc()
}

// IncRecoveries counts a scrapped block.
func IncRecoveries(channel string) {
	recoveries.WithLabelValues(channel).Inc()
	updateCache(channel, func(m *ChannelMetrics) { m.Recoveries++ })
}

// IncReconnects counts a consumer re-attachment.
func IncReconnects(channel string) {
	reconnects.WithLabelValues(channel).Inc()
	updateCache(channel, func(m *ChannelMetrics) { m.Reconnects++ })
}

// ObserveReadLatency records how old a frame was when it was read.
func ObserveReadLatency(channel string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	readLatency.WithLabelValues(channel).Observe(d.Seconds())
}

// SetChannelState sets the monitored state of a channel.
func SetChannelState(channel, state string, isAlive, isPoisoned bool) {
	alive.WithLabelValues(channel).Set(boolToFloat(isAlive))
	poisoned.WithLabelValues(channel).Set(boolToFloat(isPoisoned))
	updateCache(channel, func(m *ChannelMetrics) {
		m.State = state
		m.Alive = isAlive
		m.Poisoned = isPoisoned
	})
}

// SetFrameUID sets the latest published uid of a channel.
func SetFrameUID(channel string, uid uint64) {
	frameUID.WithLabelValues(channel).Set(float64(uid))
	updateCache(channel, func(m *ChannelMetrics) { m.FrameUID = uid })
}

// SetFPS sets the observed frame rate of a channel.
func SetFPS(channel string, v float64) {
	fps.WithLabelValues(channel).Set(v)
	updateCache(channel, func(m *ChannelMetrics) { m.FPS = v })
}

// DeleteChannelMetrics removes all metrics for a channel.
func DeleteChannelMetrics(channel string) {
	framesWritten.DeleteLabelValues(channel)
	framesRead.DeleteLabelValues(channel)
	noNewFrame.DeleteLabelValues(channel)
	sizeMismatch.DeleteLabelValues(channel)
	recoveries.DeleteLabelValues(channel)
	reconnects.DeleteLabelValues(channel)
	frameUID.DeleteLabelValues(channel)
	fps.DeleteLabelValues(channel)
	alive.DeleteLabelValues(channel)
	poisoned.DeleteLabelValues(channel)
	readLatency.DeleteLabelValues(channel)

	cacheMu.Lock()
	delete(cache, channel)
	cacheMu.Unlock()
}

// GetChannelMetrics returns current metric values for a channel.
func GetChannelMetrics(channel string) *ChannelMetrics {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	if m, ok := cache[channel]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllChannelMetrics returns metrics for all known channels.
func GetAllChannelMetrics() map[string]*ChannelMetrics {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	result := make(map[string]*ChannelMetrics, len(cache))
	for name, m := range cache {
		dup := *m
		result[name] = &dup
	}
	return result
}

func updateCache(channel string, update func(*ChannelMetrics)) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	m, ok := cache[channel]
	if !ok {
		m = &ChannelMetrics{}
		cache[channel] = m
	}
	update(m)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
