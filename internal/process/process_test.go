package process

import (
	"bytes"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const trapLoop = "trap 'exit 0' INT TERM; while :; do sleep 0.1; done"

// newTestProcess creates a Process with short timeouts for testing.
func newTestProcess(args ...string) *Process {
	p := NewProcess("test", args, testLogger())
	p.gracefulTimeout = 100 * time.Millisecond
	p.killTimeout = 100 * time.Millisecond
	return p
}

// runAsync runs the process in a goroutine and returns the exit code channel.
func runAsync(p *Process) <-chan int {
	done := make(chan int, 1)
	go func() {
		done <- p.Run()
	}()
	return done
}

// waitForExit waits for exit code with timeout, fails test on timeout.
func waitForExit(t *testing.T, done <-chan int, timeout time.Duration) int {
	t.Helper()
	select {
	case exitCode := <-done:
		return exitCode
	case <-time.After(timeout):
		t.Fatal("timeout waiting for process to exit")
		return -1
	}
}

func waitForPID(t *testing.T, p *Process) int {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pid := p.PID(); pid != 0 {
			return pid
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("process never started")
	return 0
}

func TestGracefulShutdown(t *testing.T) {
	p := newTestProcess("sh", "-c", trapLoop)
	p.SetGracefulTimeout(500 * time.Millisecond)

	done := runAsync(p)
	time.Sleep(100 * time.Millisecond)
	p.Shutdown()

	if exitCode := waitForExit(t, done, time.Second); exitCode != 0 {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}
}

func TestForceKillOnTimeout(t *testing.T) {
	// Process that ignores SIGINT
	p := newTestProcess("sh", "-c", "trap '' INT; exec sleep 10")
	p.gracefulTimeout = 50 * time.Millisecond

	done := runAsync(p)
	time.Sleep(50 * time.Millisecond)
	p.Shutdown()

	if exitCode := waitForExit(t, done, 500*time.Millisecond); exitCode != 137 {
		t.Errorf("expected exit code 137, got %d", exitCode)
	}
}

func TestKill(t *testing.T) {
	p := newTestProcess("sleep", "10")

	if err := p.Kill(); err == nil {
		t.Error("expected error killing a process that never started")
	}

	done := runAsync(p)
	waitForPID(t, p)

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if exitCode := waitForExit(t, done, time.Second); exitCode != 137 {
		t.Errorf("expected exit code 137, got %d", exitCode)
	}
	if err := p.Kill(); err != nil {
		t.Errorf("Kill after exit = %v, want nil", err)
	}
}

func TestSignalExitCode(t *testing.T) {
	p := newTestProcess("sh", "-c", "kill -TERM $$")
	if exitCode := p.Run(); exitCode != 143 {
		t.Errorf("expected exit code 143, got %d", exitCode)
	}
}

func TestProcessAlreadyExited(t *testing.T) {
	p := newTestProcess("true")

	done := runAsync(p)
	if exitCode := waitForExit(t, done, 500*time.Millisecond); exitCode != 0 {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}

	// Shutdown after process has already exited - should not panic
	p.Shutdown()
	p.sendStopSignal()
}

func TestArgsAreCopied(t *testing.T) {
	args := []string{"echo", "hello world"}
	p := newTestProcess(args...)
	args[1] = "changed"
	if got := p.Args(); !slices.Equal(got, []string{"echo", "hello world"}) {
		t.Errorf("Args() = %v", got)
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"empty command", nil, 1},
		{"nonexistent command", []string{"/nonexistent/command/that/does/not/exist"}, 1},
		{"exit status", []string{"sh", "-c", "exit 42"}, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if exitCode := newTestProcess(tt.args...).Run(); exitCode != tt.want {
				t.Errorf("expected exit code %d, got %d", tt.want, exitCode)
			}
		})
	}
}

func TestSetEnv(t *testing.T) {
	var lines []string
	handler := &testOutputHandler{lines: &lines}

	p := NewProcessWithOutput("test", []string{"sh", "-c", "echo $FRAMEBUF_TEST_VALUE"}, testLogger(), handler)
	p.SetEnv([]string{"FRAMEBUF_TEST_VALUE=from-parent"})

	if exitCode := p.Run(); exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", exitCode)
	}
	if !slices.Equal(lines, []string{"from-parent"}) {
		t.Errorf("output = %v", lines)
	}
}

func TestOutputHandler(t *testing.T) {
	var lines []string
	handler := &testOutputHandler{lines: &lines}

	p := NewProcessWithOutput("test", []string{"sh", "-c", "echo line1; echo line2 >&2"}, testLogger(), handler)

	if exitCode := p.Run(); exitCode != 0 {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}
	slices.Sort(lines)
	if !slices.Equal(lines, []string{"line1", "line2"}) {
		t.Errorf("expected both lines, got %v", lines)
	}
}

type testOutputHandler struct {
	mu    sync.Mutex
	lines *[]string
}

func (h *testOutputHandler) HandleLine(_, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.lines = append(*h.lines, line)
}

func TestSlogTextParser(t *testing.T) {
	tests := []struct {
		line      string
		wantLevel string
	}{
		{`time=2026-01-02T15:04:05Z level=WARN msg="Producer recovered"`, "warn"},
		{`time=2026-01-02T15:04:05Z level=ERROR msg=boom`, "error"},
		{`level=DEBUG msg=x`, "debug"},
		{`plain output`, "info"},
	}
	for _, tt := range tests {
		level, msg := SlogTextParser(tt.line)
		if level != tt.wantLevel {
			t.Errorf("SlogTextParser(%q) level = %q, want %q", tt.line, level, tt.wantLevel)
		}
		if msg != tt.line {
			t.Errorf("SlogTextParser(%q) msg = %q", tt.line, msg)
		}
	}
}

func TestLogParserRoutesLevels(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	p := newTestProcess("sh", "-c", "echo 'level=WARN msg=careful'; echo 'level=INFO msg=quiet'")
	p.SetLogParser(logger, SlogTextParser)

	if exitCode := p.Run(); exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", exitCode)
	}
	out := buf.String()
	if !strings.Contains(out, "careful") {
		t.Errorf("warn line missing from output: %q", out)
	}
	if strings.Contains(out, "quiet") {
		t.Errorf("info line should be filtered: %q", out)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
