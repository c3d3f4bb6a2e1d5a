package collectors

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Reporter sends progress reports to a ProgressCollector.
type Reporter struct {
	channel string
	mu      sync.Mutex
	conn    net.Conn
}

// DialReporter connects to the collector socket at socketPath.
func DialReporter(socketPath, channel string) (*Reporter, error) {
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to progress socket: %w", err)
	}
	return &Reporter{channel: channel, conn: conn}, nil
}

// Report sends the running frame total and the latency of the last frame.
func (r *Reporter) Report(frames uint64, latency time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return net.ErrClosed
	}
	_, err := fmt.Fprintf(r.conn, "channel=%s\nframes=%d\nlatency_us=%d\nprogress=continue\n",
		r.channel, frames, latency.Microseconds())
	return err
}

// Close closes the connection.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
