package events

// Event type constants for kelindar/event.
const (
	TypeBlockCreated uint32 = iota + 1
	TypeBlockRecovered
	TypeBlockAttached
	TypeBlockLost
	TypeChannelStateChanged
	TypeChannelStats
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Channel states reported in ChannelStateChangedEvent.
const (
	StateMissing  = "missing"
	StateAlive    = "alive"
	StateStale    = "stale"
	StatePoisoned = "poisoned"
)

// BlockCreatedEvent is published when a producer created its block.
type BlockCreatedEvent struct {
	Name      string `json:"name" example:"cam0" doc:"Block name"`
	Width     int    `json:"width" example:"640" doc:"Frame width"`
	Height    int    `json:"height" example:"480" doc:"Frame height"`
	Depth     int    `json:"depth" example:"3" doc:"Bytes per pixel"`
	OwnerPID  int    `json:"owner_pid" example:"4242" doc:"Producer process id"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BlockCreatedEvent.
func (e BlockCreatedEvent) Type() uint32 { return TypeBlockCreated }

// BlockRecoveredEvent is published when a producer scrapped a poisoned or
// stale block before creating its own.
type BlockRecoveredEvent struct {
	Name      string `json:"name" example:"cam0" doc:"Block name"`
	Poisoned  bool   `json:"poisoned" doc:"Whether the scrapped block was poisoned"`
	StalePID  int    `json:"stale_pid" example:"4241" doc:"Process id recorded in the scrapped block"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BlockRecoveredEvent.
func (e BlockRecoveredEvent) Type() uint32 { return TypeBlockRecovered }

// BlockAttachedEvent is published when a consumer attached to a block.
type BlockAttachedEvent struct {
	Name      string `json:"name" example:"cam0" doc:"Block name"`
	OwnerPID  int    `json:"owner_pid" example:"4242" doc:"Producer process id"`
	FrameUID  uint64 `json:"frame_uid" example:"120" doc:"Latest frame uid at attach time"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BlockAttachedEvent.
func (e BlockAttachedEvent) Type() uint32 { return TypeBlockAttached }

// BlockLostEvent is published when a consumer observed its producer going away.
type BlockLostEvent struct {
	Name      string `json:"name" example:"cam0" doc:"Block name"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BlockLostEvent.
func (e BlockLostEvent) Type() uint32 { return TypeBlockLost }

// ChannelStateChangedEvent reports a monitored channel moving between
// missing, alive, stale and poisoned.
type ChannelStateChangedEvent struct {
	Name      string `json:"name" example:"cam0" doc:"Channel name"`
	Previous  string `json:"previous" example:"missing" doc:"Previous state"`
	State     string `json:"state" example:"alive" doc:"Current state"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ChannelStateChangedEvent.
func (e ChannelStateChangedEvent) Type() uint32 { return TypeChannelStateChanged }

// GetChannel returns the channel name.
func (e ChannelStateChangedEvent) GetChannel() string {
	return e.Name
}

// IsAlive reports whether the channel has a running producer.
func (e ChannelStateChangedEvent) IsAlive() bool {
	return e.State == StateAlive
}

// ChannelStatsEvent carries per-tick statistics of a monitored channel.
type ChannelStatsEvent struct {
	EventType string  `json:"type"`
	Name      string  `json:"name"`
	State     string  `json:"state"`
	FrameUID  uint64  `json:"frame_uid"`
	FPS       float64 `json:"fps"`
}

// Type returns the event type identifier for ChannelStatsEvent.
func (e ChannelStatsEvent) Type() uint32 { return TypeChannelStats }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2026-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
