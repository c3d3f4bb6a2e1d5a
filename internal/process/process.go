package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"
)

// OutputHandler receives output lines from the subprocess.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
type LogParser func(line string) (level, msg string)

// Process manages the lifecycle of one subprocess.
type Process struct {
	id            string
	args          []string
	env           []string
	logger        *slog.Logger
	processLogger *slog.Logger // logger for process output (nil = use logger)
	logParser     LogParser    // parses process output for log level (nil = no parsing)
	outputHandler OutputHandler

	mu  sync.Mutex
	cmd *exec.Cmd

	ctx             context.Context
	cancel          context.CancelFunc
	gracefulTimeout time.Duration // timeout for graceful shutdown before force kill
	killTimeout     time.Duration // timeout after Kill() before giving up
}

// NewProcess creates a process running args[0] with args[1:].
func NewProcess(id string, args []string, logger *slog.Logger) *Process {
	return NewProcessWithOutput(id, args, logger, nil)
}

// NewProcessWithOutput creates a new process with an output handler.
// The handler receives each line of stdout/stderr from the subprocess.
func NewProcessWithOutput(id string, args []string, logger *slog.Logger, handler OutputHandler) *Process {
	ctx, cancel := context.WithCancel(context.Background())
	return &Process{
		id:              id,
		args:            slices.Clone(args),
		logger:          logger,
		outputHandler:   handler,
		ctx:             ctx,
		cancel:          cancel,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
	}
}

// Args returns the command line.
func (p *Process) Args() []string {
	return slices.Clone(p.args)
}

// SetEnv adds KEY=VALUE pairs to the inherited environment.
func (p *Process) SetEnv(env []string) {
	p.env = slices.Clone(env)
}

// SetLogParser sets a logger and log parser for process output.
func (p *Process) SetLogParser(logger *slog.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// SetGracefulTimeout sets how long Shutdown waits before SIGKILL.
func (p *Process) SetGracefulTimeout(d time.Duration) {
	p.gracefulTimeout = d
}

// PID returns the subprocess pid, or 0 when it is not running.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Shutdown triggers a graceful shutdown of the process.
func (p *Process) Shutdown() {
	p.cancel()
}

// Kill sends SIGKILL immediately. The subprocess gets no chance to clean up.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("process %s is not running", p.id)
	}
	p.logger.Warn("Killing process", "id", p.id, "pid", p.cmd.Process.Pid)
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// runningProcess holds channels for monitoring a running subprocess.
type runningProcess struct {
	processDone <-chan error
	outputDone  chan struct{} // receives twice, once per output stream
}

func (p *Process) startProcess() (*runningProcess, error) {
	if len(p.args) == 0 {
		p.logger.Error("Empty command")
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.Command(p.args[0], p.args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(p.env) > 0 {
		cmd.Env = append(os.Environ(), p.env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.logger.Error("Failed to create stdout pipe", "error", err)
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.logger.Error("Failed to create stderr pipe", "error", err)
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		p.logger.Error("Failed to start process", "error", err, "args", p.args)
		return nil, err
	}
	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()

	p.logger.Info("Process started", "id", p.id, "pid", cmd.Process.Pid, "args", strings.Join(p.args, " "))

	outputDone := make(chan struct{}, 2)
	go func() {
		p.streamOutput(stdout, "stdout")
		outputDone <- struct{}{}
	}()
	go func() {
		p.streamOutput(stderr, "stderr")
		outputDone <- struct{}{}
	}()

	processDone := make(chan error, 1)
	go func() {
		processDone <- cmd.Wait()
	}()

	return &runningProcess{processDone: processDone, outputDone: outputDone}, nil
}

func (p *Process) waitOutputDone(outputDone <-chan struct{}) {
	<-outputDone
	<-outputDone
}

// ExitCode converts an exec error to a shell-style exit code: 0 for nil,
// 128+signal for a signalled process, the exit status otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}

// Run starts the subprocess and blocks until it exits, Shutdown is called or
// the parent receives SIGINT/SIGTERM. Returns the exit code of the subprocess.
func (p *Process) Run() int {
	rp, err := p.startProcess()
	if err != nil {
		return 1
	}
	defer p.waitOutputDone(rp.outputDone)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-p.ctx.Done():
		p.logger.Info("Shutting down process", "id", p.id)
		p.sendStopSignal()
		return p.waitForExit(rp.processDone, p.gracefulTimeout)
	case sig := <-sigChan:
		p.logger.Info("Received shutdown signal", "id", p.id, "signal", sig.String())
		p.sendStopSignal()
		return p.waitForExit(rp.processDone, p.gracefulTimeout)
	case processErr := <-rp.processDone:
		exitCode := ExitCode(processErr)
		p.logger.Info("Process exited", "id", p.id, "exit_code", exitCode)
		return exitCode
	}
}

// sendStopSignal sends SIGINT to the subprocess without waiting.
func (p *Process) sendStopSignal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	p.logger.Debug("Sending SIGINT to process", "pid", p.cmd.Process.Pid)
	if err := p.cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to send SIGINT", "error", err)
	}
}

// waitForExit waits for the process to exit with a timeout, force-killing if needed.
func (p *Process) waitForExit(processDone <-chan error, timeout time.Duration) int {
	select {
	case err := <-processDone:
		return ExitCode(err)
	case <-time.After(timeout):
		p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", timeout)
		if err := p.Kill(); err != nil {
			p.logger.Error("Failed to kill process", "error", err)
		}
		select {
		case err := <-processDone:
			return ExitCode(err)
		case <-time.After(p.killTimeout):
			p.logger.Error("Process did not exit after kill signal")
			return 137
		}
	}
}

// streamOutput logs each output line at the level the parser reports.
func (p *Process) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch level {
		case "error":
			logger.Error(msg)
		case "warn", "warning":
			logger.Warn(msg)
		case "debug":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "source", source, "error", err)
	}
}

// SlogTextParser reads the level from a line written by slog's text handler
// (time=... level=WARN msg=...). Lines without a level are info.
func SlogTextParser(line string) (level, msg string) {
	_, rest, ok := strings.Cut(line, "level=")
	if !ok {
		return "info", line
	}
	lvl, _, _ := strings.Cut(rest, " ")
	return strings.ToLower(lvl), line
}
