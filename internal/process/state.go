package process

import "time"

// State represents the current state of a managed process.
type State string

// Process states.
const (
	StateIdle     State = "idle"     // Not running
	StateStarting State = "starting" // Being started
	StateRunning  State = "running"  // Active
	StateStopping State = "stopping" // Being stopped
	StateExited   State = "exited"   // Exited on its own with status 0
	StateError    State = "error"    // Failed to start, crashed or was killed
)

// Info contains information about a managed process.
type Info struct {
	ID        string
	State     State
	PID       int
	StartedAt time.Time
	ExitCode  int
	LastError error
}
