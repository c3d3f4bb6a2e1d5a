package shmframe

import "time"

// Info is a point-in-time snapshot of a block's header.
type Info struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Depth     int       `json:"depth"`
	ImageSize int       `json:"image_size"`
	FrameUID  uint64    `json:"frame_uid"`
	Active    bool      `json:"active"`
	Alive     bool      `json:"alive"`
	Poisoned  bool      `json:"poisoned"`
	OwnerPID  int       `json:"owner_pid"`
	CreatedAt time.Time `json:"created_at"`
}
