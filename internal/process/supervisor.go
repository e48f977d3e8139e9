package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/config"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/logging"
)

// State is the lifecycle state of the supervised child.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StateBackoff State = "backoff"
	StateFailed  State = "failed"
)

// Default timings applied to zero Config fields.
const (
	defaultRestartDelay = 5 * time.Second
	defaultStopTimeout  = 10 * time.Second
	maxLogLine          = 64 * 1024
)

var (
	// ErrNoCommand is returned by Start when Config.Command is empty.
	ErrNoCommand = errors.New("process: command is required")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("process: already started")

	// ErrNotRunning is returned by HealthCheck while the child is down.
	ErrNotRunning = errors.New("process: bridge not running")
)

// Config describes the child process.
type Config struct {
	// Name is used in logs.
	Name string

	// Command is the executable; Args are passed verbatim.
	Command string
	Args    []string

	// Env is appended to the parent environment (KEY=value).
	Env []string

	// RestartDelay is the pause before restarting after an unexpected exit.
	RestartDelay time.Duration

	// MaxRestarts caps the number of restarts. 0 means unlimited.
	MaxRestarts int

	// StopTimeout is how long Stop waits after SIGTERM before SIGKILL.
	StopTimeout time.Duration
}

// FromConfig maps switcher.bridge_process.
func FromConfig(cfg config.BridgeProcessConfig) Config {
	return Config{
		Name:         "switcher-bridge",
		Command:      cfg.Command,
		Args:         cfg.Args,
		Env:          cfg.Env,
		RestartDelay: time.Duration(cfg.RestartDelay) * time.Second,
		MaxRestarts:  cfg.MaxRestarts,
	}
}

// Stats is a snapshot of the supervisor for logs and diagnostics.
type Stats struct {
	Name      string `json:"name"`
	State     State  `json:"state"`
	PID       int    `json:"pid,omitempty"`
	Restarts  int    `json:"restarts"`
	LastError string `json:"last_error,omitempty"`
}

// Supervisor runs one child process and restarts it when it dies.
//
// Thread Safety: All methods are safe for concurrent use.
type Supervisor struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	state    State
	restarts int
	lastErr  error
	stopping bool
	started  bool
	done     chan struct{}
}

// New creates a supervisor. Nothing runs until Start.
func New(cfg Config, logger *logging.Logger) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "child"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger.With("component", "process", "process", cfg.Name),
		state:  StateStopped,
	}
}

// Start launches the child and the restart loop. A child that cannot be
// spawned at all is reported here rather than retried.
//
// Parameters:
//   - ctx: Cancelling it stops restarts; the child itself is stopped by Stop
//
// Returns:
//   - error: ErrNoCommand, ErrAlreadyStarted or the spawn error
func (s *Supervisor) Start(ctx context.Context) error {
	if s.cfg.Command == "" {
		return ErrNoCommand
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.stopping = false
	s.done = make(chan struct{})
	s.mu.Unlock()

	cmd, err := s.spawn()
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.state = StateFailed
		s.lastErr = err
		close(s.done)
		s.mu.Unlock()
		return err
	}

	go s.supervise(ctx, cmd)
	return nil
}

// spawn starts one instance of the child with its output logged line by line.
func (s *Supervisor) spawn() (*exec.Cmd, error) {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...) //nolint:gosec // command comes from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	cmd.Stdout = &lineLogger{logger: s.logger, stream: "stdout"}
	cmd.Stderr = &lineLogger{logger: s.logger, stream: "stderr"}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("bridge process started", "pid", cmd.Process.Pid, "command", s.cfg.Command)
	return cmd, nil
}

// lineLogger is an io.Writer that logs each complete line at debug level.
// exec.Cmd copies each stream from a single goroutine.
type lineLogger struct {
	logger *logging.Logger
	stream string
	buf    []byte
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.logger.Debug("bridge output", "stream", w.stream, "line", string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLogLine {
		w.logger.Debug("bridge output", "stream", w.stream, "line", string(w.buf))
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// supervise waits for the child and restarts it until stopped.
func (s *Supervisor) supervise(ctx context.Context, cmd *exec.Cmd) {
	defer close(s.done)

	for {
		err := cmd.Wait()

		s.mu.Lock()
		if s.stopping {
			s.state = StateStopped
			s.cmd = nil
			s.mu.Unlock()
			return
		}
		if err == nil {
			err = errors.New("exited with status 0")
		}
		s.lastErr = err
		s.state = StateBackoff
		s.cmd = nil
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		s.logger.Warn("bridge process exited", "error", err, "restarts", attempt)

		if s.cfg.MaxRestarts > 0 && attempt > s.cfg.MaxRestarts {
			s.setFailed()
			s.logger.Error("bridge process restart limit reached", "restarts", attempt-1)
			return
		}

		select {
		case <-ctx.Done():
			s.setFailed()
			return
		case <-time.After(s.cfg.RestartDelay):
		}

		s.mu.Lock()
		stopping := s.stopping
		s.mu.Unlock()
		if stopping {
			s.setState(StateStopped)
			return
		}

		next, spawnErr := s.spawn()
		for spawnErr != nil {
			s.logger.Error("bridge process restart failed", "error", spawnErr)
			s.mu.Lock()
			s.lastErr = spawnErr
			stopping = s.stopping
			s.mu.Unlock()
			if stopping {
				s.setState(StateStopped)
				return
			}
			select {
			case <-ctx.Done():
				s.setFailed()
				return
			case <-time.After(s.cfg.RestartDelay):
			}
			next, spawnErr = s.spawn()
		}

		// Stop may have run between the backoff check and spawn
		s.mu.Lock()
		stopping = s.stopping
		s.mu.Unlock()
		if stopping {
			//nolint:errcheck // Wait below observes the exit
			syscall.Kill(-next.Process.Pid, syscall.SIGTERM)
		}
		cmd = next
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.cmd = nil
	s.mu.Unlock()
}

func (s *Supervisor) setFailed() {
	s.setState(StateFailed)
}

// Stop terminates the child's process group, escalating to SIGKILL after
// StopTimeout, and waits for the restart loop to end. Safe to call more
// than once and before Start.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.stopping = true
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			s.logger.Warn("signalling bridge process failed", "pid", pid, "error", err)
		}

		select {
		case <-done:
			s.logger.Info("bridge process stopped", "pid", pid)
			return
		case <-time.After(s.cfg.StopTimeout):
			s.logger.Warn("bridge process ignored SIGTERM, killing", "pid", pid)
			//nolint:errcheck // the group may already be gone
			syscall.Kill(-pid, syscall.SIGKILL)
		}
	}

	<-done
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HealthCheck reports ErrNotRunning unless the child is up.
func (s *Supervisor) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		if s.lastErr != nil {
			return fmt.Errorf("%w (%s): %w", ErrNotRunning, s.state, s.lastErr)
		}
		return fmt.Errorf("%w (%s)", ErrNotRunning, s.state)
	}
	return nil
}

// Stats returns a snapshot for diagnostics.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Name: s.cfg.Name, State: s.state, Restarts: s.restarts}
	if s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
