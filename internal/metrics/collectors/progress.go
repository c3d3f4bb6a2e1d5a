// Package collectors gathers channel metrics from consumer processes.
package collectors

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/framebuf/internal/metrics"
)

// ProgressCollector accepts progress reports from consumer processes on a
// Unix socket and feeds them into the channel metrics. A report is a block of
// key=value lines terminated by a progress= line:
//
//	channel=cam0
//	frames=1200
//	latency_us=850
//	progress=continue
//
// frames is the consumer's running total; the collector adds the delta since
// the previous report on the same connection.
type ProgressCollector struct {
	logger     *slog.Logger
	socketPath string
	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewProgressCollector creates a collector listening on socketPath.
func NewProgressCollector(socketPath string, logger *slog.Logger) *ProgressCollector {
	return &ProgressCollector{
		logger:     logger.With("component", "progress_collector"),
		socketPath: socketPath,
	}
}

// SocketPath returns the listening socket path.
func (p *ProgressCollector) SocketPath() string {
	return p.socketPath
}

// Start creates the socket and begins accepting reports.
func (p *ProgressCollector) Start(ctx context.Context) error {
	if err := os.Remove(p.socketPath); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("Failed to clean up old socket file", "error", err)
	}
	listener, err := net.Listen("unix", p.socketPath)
	if err != nil {
		return err
	}
	p.listener = listener
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("Starting socket listener", "socket", p.socketPath)
	p.wg.Add(1)
	go p.accept()
	return nil
}

// Stop closes the socket and waits for connection handlers to exit.
func (p *ProgressCollector) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		if p.listener != nil {
			err = p.listener.Close()
		}
		p.wg.Wait()
		os.Remove(p.socketPath)
	})
	return err
}

func (p *ProgressCollector) accept() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || p.ctx.Err() != nil {
				return
			}
			p.logger.Warn("Error accepting connection", "error", err)
			continue
		}
		p.wg.Add(1)
		go p.handleConnection(conn)
	}
}

func (p *ProgressCollector) handleConnection(conn net.Conn) {
	defer p.wg.Done()
	defer conn.Close()

	go func() {
		<-p.ctx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	scanner := bufio.NewScanner(conn)
	data := make(map[string]string)
	var lastFrames uint64

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		data[key] = strings.TrimSpace(value)

		if key == "progress" {
			lastFrames = p.apply(data, lastFrames)
			data = make(map[string]string)
		}
	}
}

// apply records one report and returns the new running frame total.
func (p *ProgressCollector) apply(data map[string]string, lastFrames uint64) uint64 {
	channel := data["channel"]
	if channel == "" {
		p.logger.Debug("Dropping progress report without channel")
		return lastFrames
	}
	if frames, err := strconv.ParseUint(data["frames"], 10, 64); err == nil {
		if frames >= lastFrames {
			metrics.AddFramesRead(channel, int(frames-lastFrames))
		}
		lastFrames = frames
	}
	if us, err := strconv.ParseInt(data["latency_us"], 10, 64); err == nil {
		metrics.ObserveReadLatency(channel, time.Duration(us)*time.Microsecond)
	}
	return lastFrames
}
