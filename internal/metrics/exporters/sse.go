package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/framebuf/internal/events"
	"github.com/smazurov/framebuf/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter periodically publishes a ChannelStatsEvent per channel from the
// metrics cache.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 1 * time.Second,
	}
}

// SetInterval changes the publish interval. Call before Start.
func (s *SSEExporter) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Start begins the SSE export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
}

// Stop stops the SSE exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.publishMetrics()
		}
	}
}

func (s *SSEExporter) publishMetrics() {
	for name, m := range metrics.GetAllChannelMetrics() {
		if m.State == "" {
			// Only monitored channels have a state.
			continue
		}
		s.eventBus.Publish(events.ChannelStatsEvent{
			EventType: "channel_stats",
			Name:      name,
			State:     m.State,
			FrameUID:  m.FrameUID,
			FPS:       m.FPS,
		})
	}
}

// GetEventTypes returns event types for SSE endpoint registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"channel-stats": events.ChannelStatsEvent{},
	}
}
