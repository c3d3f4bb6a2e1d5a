//go:build linux

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/framebuf/internal/api/models"
	"github.com/smazurov/framebuf/internal/monitor"
	"github.com/smazurov/framebuf/pkg/shmframe"
)

func (s *Server) registerChannelRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-channels",
		Method:      http.MethodGet,
		Path:        "/api/channels",
		Summary:     "List Channels",
		Description: "List every monitored channel with its block state",
		Tags:        []string{"channels"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.ChannelListResponse, error) {
		if s.monitor == nil {
			return nil, huma.Error503ServiceUnavailable("Monitor is not running")
		}
		snap := s.monitor.Snapshot()
		data := models.ChannelListData{
			Channels: make([]models.ChannelData, 0, len(snap)),
			Count:    len(snap),
		}
		for _, st := range snap {
			data.Channels = append(data.Channels, toChannelData(st))
		}
		return &models.ChannelListResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-channel",
		Method:      http.MethodGet,
		Path:        "/api/channels/{name}",
		Summary:     "Get Channel",
		Description: "Get the state of one channel",
		Tags:        []string{"channels"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 503},
	}, func(_ context.Context, input *models.ChannelRequest) (*models.ChannelResponse, error) {
		if s.monitor == nil {
			return nil, huma.Error503ServiceUnavailable("Monitor is not running")
		}
		st, ok := s.monitor.Get(input.Name)
		if !ok {
			return nil, huma.Error404NotFound("Channel not found: " + input.Name)
		}
		return &models.ChannelResponse{Body: toChannelData(st)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-channel-block",
		Method:      http.MethodDelete,
		Path:        "/api/channels/{name}",
		Summary:     "Scrap Block",
		Description: "Destroy a poisoned or stale block so the next producer starts clean. Live blocks are refused.",
		Tags:        []string{"channels"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 409, 500, 503},
	}, func(_ context.Context, input *models.ChannelRequest) (*models.ChannelDeleteResponse, error) {
		if s.monitor == nil {
			return nil, huma.Error503ServiceUnavailable("Monitor is not running")
		}
		if err := s.monitor.Scrap(input.Name); err != nil {
			return nil, scrapError(input.Name, err)
		}
		s.logger.Info("Block scrapped via API", "channel", input.Name)
		return &models.ChannelDeleteResponse{
			Body: models.ChannelDeleteData{Name: input.Name, Message: "Block destroyed"},
		}, nil
	})
}

func scrapError(name string, err error) error {
	switch {
	case errors.Is(err, shmframe.ErrNotOwner):
		return huma.Error409Conflict("Block " + name + " has a running producer")
	case errors.Is(err, shmframe.ErrNotReady):
		return huma.Error409Conflict("Block " + name + " is still being initialised")
	case errors.Is(err, shmframe.ErrNotFound):
		return huma.Error404NotFound("Block not found: " + name)
	case errors.Is(err, shmframe.ErrInvalidName):
		return huma.Error400BadRequest("Invalid channel name", err)
	default:
		return huma.Error500InternalServerError("Failed to destroy block", err)
	}
}

func toChannelData(st monitor.ChannelStatus) models.ChannelData {
	data := models.ChannelData{
		Name:       st.Name,
		State:      st.State,
		Configured: st.Configured,
		Mismatch:   st.Mismatch,
		FPS:        st.FPS,
		Error:      st.Error,
		Since:      st.Since,
		CheckedAt:  st.CheckedAt,
	}
	if st.Expected != nil {
		data.Expected = &models.ExpectedShape{
			Width:   st.Expected.Width,
			Height:  st.Expected.Height,
			Depth:   st.Expected.Depth,
			FPS:     st.Expected.FPS,
			Pattern: st.Expected.Pattern,
		}
	}
	if b := st.Block; b != nil {
		data.Block = &models.BlockData{
			Path:      b.Path,
			Width:     b.Width,
			Height:    b.Height,
			Depth:     b.Depth,
			ImageSize: b.ImageSize,
			FrameUID:  b.FrameUID,
			Active:    b.Active,
			Poisoned:  b.Poisoned,
			OwnerPID:  b.OwnerPID,
			CreatedAt: b.CreatedAt,
		}
	}
	return data
}
