package process

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Pool manages multiple named processes with lifecycle control.
type Pool interface {
	// Start starts a process by ID. Returns error if already running.
	Start(id string) error

	// Stop gracefully stops a process by ID.
	Stop(id string) error

	// Kill sends SIGKILL to a process by ID and waits for it to exit.
	Kill(id string) error

	// Restart stops and restarts a process.
	Restart(id string) error

	// GetStatus returns process info. Returns idle state if not found.
	GetStatus(id string) *Info

	// List returns info for every tracked process, sorted by ID.
	List() []*Info

	// IsRunning checks if a process is currently running.
	IsRunning(id string) bool

	// StopAll gracefully stops all running processes.
	StopAll()
}

// managedProcess tracks a running process within the pool.
type managedProcess struct {
	proc      *Process
	id        string
	state     State
	startedAt time.Time
	exitCode  int
	lastError error
	cancel    context.CancelFunc
	done      chan struct{}
}

type pool struct {
	opts      PoolOptions
	processes map[string]*managedProcess
	mu        sync.RWMutex
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPool creates a new process pool.
func NewPool(opts *PoolOptions) Pool {
	if opts == nil || opts.CommandProvider == nil {
		panic("PoolOptions with CommandProvider is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &pool{
		opts:      *opts,
		processes: make(map[string]*managedProcess),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts a process by ID.
func (p *pool) Start(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx.Err() != nil {
		return fmt.Errorf("pool is stopped")
	}
	if mp, exists := p.processes[id]; exists {
		if mp.state == StateRunning || mp.state == StateStarting || mp.state == StateStopping {
			return fmt.Errorf("process %s already running", id)
		}
	}

	args, err := p.opts.CommandProvider(id)
	if err != nil {
		return fmt.Errorf("failed to generate command: %w", err)
	}
	if len(args) == 0 {
		return fmt.Errorf("empty command for process %s", id)
	}

	return p.startProcess(id, args)
}

// startProcess starts a process with the given command (must hold lock).
func (p *pool) startProcess(id string, args []string) error {
	ctx, cancel := context.WithCancel(p.ctx)

	mp := &managedProcess{
		id:        id,
		state:     StateStarting,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	mp.proc = NewProcess(id, args, p.logger.With("process", id))

	if p.opts.ConfigureProcess != nil {
		p.opts.ConfigureProcess(id, mp.proc)
	}

	p.processes[id] = mp

	p.notifyStateChange(id, StateIdle, StateStarting, nil)
	p.logger.Debug("Starting process", "id", id, "args", strings.Join(args, " "))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(mp.done)
		p.runProcess(ctx, mp)
	}()

	return nil
}

// runProcess runs the process and handles state transitions.
func (p *pool) runProcess(ctx context.Context, mp *managedProcess) {
	p.mu.Lock()
	oldState := mp.state
	mp.state = StateRunning
	p.mu.Unlock()
	p.notifyStateChange(mp.id, oldState, StateRunning, nil)

	exitCode := mp.proc.Run()

	p.mu.Lock()
	oldState = mp.state
	mp.exitCode = exitCode
	switch {
	case ctx.Err() != nil:
		mp.state = StateIdle
	case exitCode != 0:
		mp.state = StateError
		mp.lastError = fmt.Errorf("process exited with code %d", exitCode)
		p.logger.Error("Process crashed", "id", mp.id, "exit_code", exitCode)
	default:
		mp.state = StateExited
	}
	newState := mp.state
	lastErr := mp.lastError
	p.mu.Unlock()

	p.notifyStateChange(mp.id, oldState, newState, lastErr)
	p.logger.Info("Process stopped", "id", mp.id, "exit_code", exitCode)
}

// Stop gracefully stops a process by ID.
func (p *pool) Stop(id string) error {
	p.mu.Lock()
	mp, exists := p.processes[id]
	if !exists {
		p.mu.Unlock()
		return nil
	}

	if mp.state != StateRunning && mp.state != StateStarting {
		delete(p.processes, id)
		p.mu.Unlock()
		return nil
	}

	oldState := mp.state
	mp.state = StateStopping
	p.mu.Unlock()

	p.notifyStateChange(id, oldState, StateStopping, nil)
	p.logger.Info("Stopping process", "id", id)

	mp.cancel()
	mp.proc.Shutdown()

	select {
	case <-mp.done:
	case <-time.After(10 * time.Second):
		p.logger.Warn("Timeout waiting for process to stop", "id", id)
	}

	p.mu.Lock()
	delete(p.processes, id)
	p.mu.Unlock()

	return nil
}

// Kill sends SIGKILL to a running process and waits until it has exited. The
// process stays in the pool in the error state so its exit code remains
// visible to GetStatus.
func (p *pool) Kill(id string) error {
	p.mu.RLock()
	mp, exists := p.processes[id]
	running := exists && (mp.state == StateRunning || mp.state == StateStarting)
	p.mu.RUnlock()

	if !running {
		return fmt.Errorf("process %s is not running", id)
	}

	if err := mp.proc.Kill(); err != nil {
		return err
	}

	select {
	case <-mp.done:
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("process %s did not exit after kill", id)
	}
}

// Restart stops and restarts a process.
func (p *pool) Restart(id string) error {
	p.logger.Info("Restarting process", "id", id)
	if err := p.Stop(id); err != nil {
		return fmt.Errorf("failed to stop process: %w", err)
	}
	return p.Start(id)
}

// GetStatus returns process info.
func (p *pool) GetStatus(id string) *Info {
	p.mu.RLock()
	defer p.mu.RUnlock()

	mp, exists := p.processes[id]
	if !exists {
		return &Info{ID: id, State: StateIdle}
	}
	return mp.info()
}

// List returns info for every tracked process.
func (p *pool) List() []*Info {
	p.mu.RLock()
	defer p.mu.RUnlock()

	infos := make([]*Info, 0, len(p.processes))
	for _, mp := range p.processes {
		infos = append(infos, mp.info())
	}
	slices.SortFunc(infos, func(a, b *Info) int { return strings.Compare(a.ID, b.ID) })
	return infos
}

// info snapshots the process (caller holds the pool lock).
func (mp *managedProcess) info() *Info {
	return &Info{
		ID:        mp.id,
		State:     mp.state,
		PID:       mp.proc.PID(),
		StartedAt: mp.startedAt,
		ExitCode:  mp.exitCode,
		LastError: mp.lastError,
	}
}

// IsRunning checks if a process is currently running.
func (p *pool) IsRunning(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	mp, exists := p.processes[id]
	return exists && mp.state == StateRunning
}

// StopAll gracefully stops all running processes.
func (p *pool) StopAll() {
	p.logger.Info("Stopping all processes")

	p.mu.Lock()
	p.cancel()
	ids := make([]string, 0, len(p.processes))
	for id := range p.processes {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Stop(id)
		}()
	}
	wg.Wait()

	p.wg.Wait()
	p.logger.Info("All processes stopped")
}

// notifyStateChange invokes the OnStateChange callback if configured.
func (p *pool) notifyStateChange(id string, oldState, newState State, err error) {
	if p.opts.OnStateChange != nil {
		p.opts.OnStateChange(id, oldState, newState, err)
	}
}
