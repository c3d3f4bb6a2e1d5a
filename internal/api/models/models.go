// Package models defines the request and response bodies of the monitor API.
package models

import (
	"time"

	"github.com/smazurov/framebuf/internal/logging"
)

// Health check models
type HealthData struct {
	Status   string `json:"status" example:"ok" doc:"Service status"`
	Message  string `json:"message" example:"API is healthy" doc:"Status message"`
	Version  string `json:"version" example:"v0.3.0" doc:"Application version"`
	Channels int    `json:"channels" example:"2" doc:"Number of monitored channels"`
	Alive    int    `json:"alive" example:"1" doc:"Number of channels with a running producer"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"v0.3.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"a1b2c3d" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-01-27T10:30:00Z" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Channel models
type ExpectedShape struct {
	Width   int    `json:"width" example:"640" doc:"Configured frame width"`
	Height  int    `json:"height" example:"480" doc:"Configured frame height"`
	Depth   int    `json:"depth" example:"3" doc:"Configured bytes per pixel"`
	FPS     int    `json:"fps" example:"30" doc:"Configured frame rate"`
	Pattern string `json:"pattern" example:"gradient" doc:"Demo pattern"`
}

type BlockData struct {
	Path      string    `json:"path" example:"/dev/shm/framebuf-cam0" doc:"Segment file"`
	Width     int       `json:"width" example:"640" doc:"Frame width"`
	Height    int       `json:"height" example:"480" doc:"Frame height"`
	Depth     int       `json:"depth" example:"3" doc:"Bytes per pixel"`
	ImageSize int       `json:"image_size" example:"921600" doc:"Bytes per frame"`
	FrameUID  uint64    `json:"frame_uid" example:"1200" doc:"Latest published frame uid"`
	Active    bool      `json:"active" doc:"Whether the block is marked active"`
	Poisoned  bool      `json:"poisoned" doc:"Whether the producer died without deactivating"`
	OwnerPID  int       `json:"owner_pid" example:"4242" doc:"Producer process id"`
	CreatedAt time.Time `json:"created_at" doc:"When the block was created"`
}

type ChannelData struct {
	Name       string         `json:"name" example:"cam0" doc:"Channel name"`
	State      string         `json:"state" example:"alive" enum:"missing,alive,stale,poisoned" doc:"Block state"`
	Configured bool           `json:"configured" doc:"Whether the channel is in the channels file"`
	Expected   *ExpectedShape `json:"expected,omitempty" doc:"Configured geometry"`
	Block      *BlockData     `json:"block,omitempty" doc:"Block header snapshot"`
	Mismatch   bool           `json:"mismatch" doc:"Whether the block geometry differs from the configuration"`
	FPS        float64        `json:"fps" example:"29.97" doc:"Observed publish rate"`
	Error      string         `json:"error,omitempty" doc:"Last stat error"`
	Since      time.Time      `json:"since" doc:"When the channel entered its current state"`
	CheckedAt  time.Time      `json:"checked_at" doc:"Last poll time"`
}

type ChannelListData struct {
	Channels []ChannelData `json:"channels" doc:"Monitored channels"`
	Count    int           `json:"count" example:"2" doc:"Number of channels"`
}

type ChannelListResponse struct {
	Body ChannelListData
}

type ChannelRequest struct {
	Name string `path:"name" example:"cam0" doc:"Channel name"`
}

type ChannelResponse struct {
	Body ChannelData
}

type ChannelDeleteData struct {
	Name    string `json:"name" example:"cam0" doc:"Channel name"`
	Message string `json:"message" example:"Block destroyed" doc:"Result"`
}

type ChannelDeleteResponse struct {
	Body ChannelDeleteData
}

// Log models
type LogsRequest struct {
	Limit  int    `query:"limit" minimum:"0" default:"100" doc:"Maximum number of entries, 0 for all"`
	Module string `query:"module" example:"monitor" doc:"Only entries from this module"`
}

type LogsData struct {
	Entries []logging.Entry `json:"entries" doc:"Log entries, oldest first"`
	Count   int             `json:"count" example:"100" doc:"Number of entries"`
}

type LogsResponse struct {
	Body LogsData
}
