//go:build linux

package api

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/framebuf/internal/events"
	"github.com/smazurov/framebuf/internal/metrics/exporters"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time block lifecycle and channel state events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func() map[string]any {
		eventTypes := map[string]any{
			"block-created":         events.BlockCreatedEvent{},
			"block-recovered":       events.BlockRecoveredEvent{},
			"block-attached":        events.BlockAttachedEvent{},
			"block-lost":            events.BlockLostEvent{},
			"channel-state-changed": events.ChannelStateChangedEvent{},
		}
		maps.Copy(eventTypes, exporters.GetEventTypes())
		return eventTypes
	}(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.BlockCreatedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.BlockRecoveredEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.BlockAttachedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.BlockLostEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ChannelStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ChannelStatsEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Current states first, so a new client does not wait for a transition.
		if s.monitor != nil {
			for _, st := range s.monitor.Snapshot() {
				if err := send.Data(events.ChannelStateChangedEvent{
					Name:      st.Name,
					Previous:  st.State,
					State:     st.State,
					Timestamp: st.Since.UTC().Format(time.RFC3339),
				}); err != nil {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
