//go:build linux

// Package monitor polls named frame blocks and reports their health.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/framebuf/internal/config"
	"github.com/smazurov/framebuf/internal/events"
	"github.com/smazurov/framebuf/internal/metrics"
	"github.com/smazurov/framebuf/pkg/shmframe"
)

// DefaultInterval is the polling period.
const DefaultInterval = time.Second

// EventPublisher publishes monitor events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Options configures a Monitor.
type Options struct {
	// Dir is the segment directory. Default is shmframe.DefaultDir.
	Dir string
	// Interval is the polling period. Default is DefaultInterval.
	Interval time.Duration
	// Discover adds every block found in Dir to the configured channels.
	Discover bool
	Logger   *slog.Logger
	Bus      EventPublisher
}

// ChannelStatus is the last observed state of one channel.
type ChannelStatus struct {
	Name       string          `json:"name"`
	State      string          `json:"state"`
	Configured bool            `json:"configured"`
	Expected   *config.Channel `json:"expected,omitempty"`
	Block      *shmframe.Info  `json:"block,omitempty"`
	Mismatch   bool            `json:"mismatch"`
	FPS        float64         `json:"fps"`
	Error      string          `json:"error,omitempty"`
	Since      time.Time       `json:"since"`
	CheckedAt  time.Time       `json:"checked_at"`
}

type sample struct {
	uid uint64
	at  time.Time
}

// Monitor periodically stats a set of blocks, keeps their latest status,
// updates metrics and publishes state transitions.
type Monitor struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	channels map[string]config.Channel
	status   map[string]*ChannelStatus
	samples  map[string]sample
	dead     map[string]shmframe.Info // last stale or poisoned block per channel

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor. Call SetChannels and Start.
func New(opts Options) *Monitor {
	if opts.Dir == "" {
		opts.Dir = shmframe.DefaultDir
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{
		opts:     opts,
		logger:   opts.Logger,
		channels: make(map[string]config.Channel),
		status:   make(map[string]*ChannelStatus),
		samples:  make(map[string]sample),
		dead:     make(map[string]shmframe.Info),
	}
}

// SetChannels replaces the configured channel set. Channels no longer
// configured or discovered are dropped on the next poll.
func (m *Monitor) SetChannels(set config.Channels) {
	m.mu.Lock()
	m.channels = maps.Clone(set.Channels)
	if m.channels == nil {
		m.channels = make(map[string]config.Channel)
	}
	m.mu.Unlock()
	m.logger.Info("Channel set updated", "channels", set.Names())
}

// Start runs the polling loop until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()

		m.Poll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Poll()
			}
		}
	}()
	m.logger.Info("Monitor started", "dir", m.opts.Dir, "interval", m.opts.Interval)
}

// Stop stops the polling loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Poll checks every channel once.
func (m *Monitor) Poll() {
	names := m.names()
	now := time.Now()

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		seen[name] = true
		m.check(name, now)
	}

	m.mu.Lock()
	var removed []string
	for name := range m.status {
		if !seen[name] {
			delete(m.status, name)
			delete(m.samples, name)
			delete(m.dead, name)
			removed = append(removed, name)
		}
	}
	m.mu.Unlock()

	for _, name := range removed {
		metrics.DeleteChannelMetrics(name)
		m.logger.Debug("Channel no longer monitored", "channel", name)
	}
}

func (m *Monitor) names() []string {
	m.mu.RLock()
	set := make(map[string]bool, len(m.channels))
	for name := range m.channels {
		set[name] = true
	}
	m.mu.RUnlock()

	if m.opts.Discover {
		found, err := shmframe.List(shmframe.WithDir(m.opts.Dir))
		if err != nil {
			m.logger.Warn("Failed to list blocks", "error", err)
		}
		for _, name := range found {
			set[name] = true
		}
	}
	return slices.Sorted(maps.Keys(set))
}

func (m *Monitor) check(name string, now time.Time) {
	info, err := shmframe.Stat(name, shmframe.WithDir(m.opts.Dir), shmframe.WithLogger(m.logger))

	state := events.StateMissing
	var errMsg string
	switch {
	case err == nil && info.Alive:
		state = events.StateAlive
	case err == nil && info.Poisoned:
		state = events.StatePoisoned
	case err == nil:
		state = events.StateStale
	case errors.Is(err, shmframe.ErrCorrupt):
		state = events.StateStale
		errMsg = err.Error()
	case errors.Is(err, shmframe.ErrNotFound), errors.Is(err, shmframe.ErrNotReady):
	default:
		errMsg = err.Error()
		m.logger.Warn("Failed to stat block", "channel", name, "error", err)
	}

	m.mu.Lock()
	expected, configured := m.channels[name]
	st, ok := m.status[name]
	if !ok {
		st = &ChannelStatus{Name: name, State: events.StateMissing, Since: now}
		m.status[name] = st
	}
	previous := st.State
	firstCheck := !ok
	prevBlock := st.Block

	st.Configured = configured
	st.Expected = nil
	if configured {
		st.Expected = &expected
	}
	st.Block = nil
	st.Mismatch = false
	st.FPS = 0
	if err == nil {
		st.Block = &info
		st.FPS = m.fps(name, info, now)
		st.Mismatch = configured && (info.Width != expected.Width ||
			info.Height != expected.Height || info.Depth != expected.Depth)
	} else {
		delete(m.samples, name)
	}
	st.Error = errMsg
	st.CheckedAt = now
	if state != previous {
		st.State = state
		st.Since = now
	}
	mismatch, rate := st.Mismatch, st.FPS

	var recovered *shmframe.Info
	newGeneration := err == nil && info.Alive && (prevBlock == nil || !prevBlock.Alive ||
		prevBlock.OwnerPID != info.OwnerPID || !prevBlock.CreatedAt.Equal(info.CreatedAt))
	switch {
	case err == nil && !info.Alive:
		m.dead[name] = info
	case newGeneration:
		if d, ok := m.dead[name]; ok {
			recovered = &d
			delete(m.dead, name)
		}
	}
	m.mu.Unlock()

	if newGeneration {
		m.publishGeneration(name, info, firstCheck, recovered, now)
	}
	if previous == events.StateAlive && state != events.StateAlive {
		m.publish(events.BlockLostEvent{Name: name, Timestamp: timestamp(now)})
	}

	metrics.SetChannelState(name, state, state == events.StateAlive, state == events.StatePoisoned)
	metrics.SetFPS(name, rate)
	if err == nil {
		metrics.SetFrameUID(name, info.FrameUID)
	}

	if state == previous {
		return
	}
	logger := m.logger.With("channel", name, "previous", previous, "state", state)
	switch state {
	case events.StatePoisoned:
		logger.Warn("Block poisoned", "owner_pid", info.OwnerPID)
	case events.StateAlive:
		logger.Info("Block alive", "owner_pid", info.OwnerPID, "mismatch", mismatch)
	default:
		logger.Info("Block state changed")
	}
	m.publish(events.ChannelStateChangedEvent{
		Name:      name,
		Previous:  previous,
		State:     state,
		Timestamp: timestamp(now),
	})
}

// publishGeneration reports a block generation seen for the first time. A
// block already running when the channel is first checked is reported as
// attached; one that appears later as created, preceded by a recovery event
// when it replaced a dead block.
func (m *Monitor) publishGeneration(name string, info shmframe.Info, firstCheck bool, recovered *shmframe.Info, now time.Time) {
	ts := timestamp(now)
	if firstCheck {
		m.publish(events.BlockAttachedEvent{
			Name:      name,
			OwnerPID:  info.OwnerPID,
			FrameUID:  info.FrameUID,
			Timestamp: ts,
		})
		return
	}
	if recovered != nil {
		m.publish(events.BlockRecoveredEvent{
			Name:      name,
			Poisoned:  recovered.Poisoned,
			StalePID:  recovered.OwnerPID,
			Timestamp: ts,
		})
	}
	m.publish(events.BlockCreatedEvent{
		Name:      name,
		Width:     info.Width,
		Height:    info.Height,
		Depth:     info.Depth,
		OwnerPID:  info.OwnerPID,
		Timestamp: ts,
	})
}

func (m *Monitor) publish(ev events.Event) {
	if m.opts.Bus != nil {
		m.opts.Bus.Publish(ev)
	}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// fps computes the publish rate since the previous sample. Callers hold m.mu.
func (m *Monitor) fps(name string, info shmframe.Info, now time.Time) float64 {
	prev, ok := m.samples[name]
	m.samples[name] = sample{uid: info.FrameUID, at: now}
	if !ok || info.FrameUID < prev.uid {
		return 0
	}
	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(info.FrameUID-prev.uid) / elapsed
}

// Snapshot returns the status of every channel, sorted by name.
func (m *Monitor) Snapshot() []ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChannelStatus, 0, len(m.status))
	for _, name := range slices.Sorted(maps.Keys(m.status)) {
		out = append(out, *m.status[name])
	}
	return out
}

// Get returns the status of one channel.
func (m *Monitor) Get(name string) (ChannelStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.status[name]
	if !ok {
		return ChannelStatus{}, false
	}
	return *st, true
}

// Scrap destroys the named block if its producer is gone. It fails with
// shmframe.ErrNotOwner when the block is alive and shmframe.ErrNotReady when
// a segment without a header is too young to be abandoned.
func (m *Monitor) Scrap(name string) error {
	info, err := shmframe.Destroy(name, shmframe.WithDir(m.opts.Dir), shmframe.WithLogger(m.logger))
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.dead, name)
	m.mu.Unlock()
	m.logger.Info("Block scrapped", "channel", name, "poisoned", info.Poisoned, "owner_pid", info.OwnerPID)
	m.Poll()
	return nil
}
