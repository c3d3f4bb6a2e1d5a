//go:build linux

package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/framebuf/internal/api/models"
	"github.com/smazurov/framebuf/internal/events"
	"github.com/smazurov/framebuf/internal/logging"
)

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Return the newest entries of the in-memory log history",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401, 422},
	}, func(_ context.Context, input *models.LogsRequest) (*models.LogsResponse, error) {
		entries := filterModule(logging.GetHistory().Tail(0), input.Module)
		if input.Limit > 0 && input.Limit < len(entries) {
			entries = entries[len(entries)-input.Limit:]
		}
		return &models.LogsResponse{
			Body: models.LogsData{Entries: entries, Count: len(entries)},
		}, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends historical logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying so nothing logged in between is lost.
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		for _, entry := range logging.GetHistory().Tail(0) {
			if err := send.Data(toLogEvent(entry)); err != nil {
				return
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

func filterModule(entries []logging.Entry, module string) []logging.Entry {
	if module == "" {
		return entries
	}
	out := entries[:0:0]
	for _, e := range entries {
		if e.Module == module {
			out = append(out, e)
		}
	}
	return out
}

func toLogEvent(entry logging.Entry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

// LogPublisher returns a logging sink publishing every entry on bus.
func LogPublisher(bus *events.Bus) logging.Sink {
	var seq atomic.Uint64
	return func(entry logging.Entry) {
		ev := toLogEvent(entry)
		ev.Seq = seq.Add(1)
		bus.Publish(ev)
	}
}
