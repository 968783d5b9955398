// Package supervisor manages a service process through its lifecycle:
// launch, readiness, periodic health probing, and termination.
//
// States: Starting -> Ready -> {Healthy, Unhealthy} -> Terminated. The
// supervisor never restarts the process; remediation after a crash or a
// failed start is the caller's policy.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/kilnhq/kiln/lib/recipe"
)

// State of the supervised process.
type State string

const (
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateHealthy    State = "healthy"
	StateUnhealthy  State = "unhealthy"
	StateTerminated State = "terminated"
)

var ErrTerminated = errors.New("process terminated")

// Probe checks the process once. A nil return means healthy. The context
// carries the per-probe timeout; implementations must honor it.
type Probe func(ctx context.Context) error

// Config for starting a supervised process.
type Config struct {
	Command []string
	Env     []string
	Dir     string

	Healthcheck *recipe.Healthcheck
	// Probe overrides the default command probe. Ignored when
	// Healthcheck is nil.
	Probe Probe

	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// OnTransition, if set, observes every state change.
	OnTransition func(from, to State)
}

// Supervisor owns one managed process.
type Supervisor struct {
	cmd    *exec.Cmd
	logger *slog.Logger
	onMove func(from, to State)

	probe       Probe
	healthcheck *recipe.Healthcheck
	probeCancel context.CancelFunc

	mu       sync.Mutex
	state    State
	exitCode int
	exited   bool
	changed  chan struct{}

	done chan struct{}
}

// Start launches the entry command and begins supervision.
//
// The process enters Ready as soon as the launch succeeds. When a
// healthcheck is configured a probe loop runs until termination; without
// one the process simply stays Ready while it lives.
func Start(ctx context.Context, cfg Config) (*Supervisor, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("no command to supervise")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Env = cfg.Env
	cmd.Dir = cfg.Dir
	cmd.Stdout = cfg.Stdout
	cmd.Stderr = cfg.Stderr

	s := &Supervisor{
		cmd:         cmd,
		logger:      cfg.Logger,
		onMove:      cfg.OnTransition,
		healthcheck: cfg.Healthcheck,
		state:       StateStarting,
		changed:     make(chan struct{}),
		done:        make(chan struct{}),
	}

	if cfg.Healthcheck != nil {
		s.probe = cfg.Probe
		if s.probe == nil {
			s.probe = commandProbe(cfg.Healthcheck.Command)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}
	s.setState(StateReady)
	s.logger.InfoContext(ctx, "process started", "pid", cmd.Process.Pid, "command", cfg.Command[0])

	if s.probe != nil {
		probeCtx, cancel := context.WithCancel(context.Background())
		s.probeCancel = cancel
		go s.probeLoop(probeCtx)
	}

	go s.wait()

	return s, nil
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ExitCode returns the process exit code and whether the process has
// exited.
func (s *Supervisor) ExitCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, s.exited
}

// Done is closed when the process has terminated.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// WaitState blocks until the supervisor reaches want.
//
// Returns ErrTerminated if the process terminates first (unless
// termination is what was asked for), or the context error on
// cancellation.
func (s *Supervisor) WaitState(ctx context.Context, want State) error {
	for {
		s.mu.Lock()
		state := s.state
		changed := s.changed
		s.mu.Unlock()

		if state == want {
			return nil
		}
		if state == StateTerminated {
			return ErrTerminated
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Stop sends SIGTERM to the process and waits for it to exit. If the
// context expires first the process is killed outright. Stopping an
// already terminated process is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal process: %w", err)
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.cmd.Process.Kill()
		<-s.done
		return nil
	}
}

// wait reaps the process and drives the terminal transition.
func (s *Supervisor) wait() {
	err := s.cmd.Wait()

	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	if s.probeCancel != nil {
		s.probeCancel()
	}

	s.mu.Lock()
	s.exitCode = code
	s.exited = true
	s.mu.Unlock()

	s.setState(StateTerminated)
	s.logger.Info("process terminated", "exit_code", code)
	close(s.done)
}

// probeLoop runs the healthcheck on a fixed interval.
//
// Within the start period, failures are a normal slow start and only the
// first success matters. After the grace period expires without a
// success the process is marked Unhealthy but never restarted. In steady
// state, Retries consecutive failures mark Unhealthy and a single
// success returns to Healthy.
func (s *Supervisor) probeLoop(ctx context.Context) {
	hc := s.healthcheck
	graceDeadline := time.Now().Add(hc.StartPeriod.Std())

	everHealthy := false
	failures := 0

	ticker := time.NewTicker(hc.Interval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := s.runProbe(ctx)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			everHealthy = true
			failures = 0
			s.setState(StateHealthy)
			continue
		}

		s.logger.Debug("probe failed", "error", err)

		if !everHealthy {
			if time.Now().After(graceDeadline) {
				// Slow start: flag it, keep probing, leave restart
				// decisions to the operator.
				s.setState(StateUnhealthy)
			}
			continue
		}

		failures++
		if failures >= hc.Retries {
			s.setState(StateUnhealthy)
		}
	}
}

// runProbe invokes the probe with a hard timeout. A probe that does not
// return within the timeout counts as a failure and is cancelled so slow
// probes cannot pile up.
func (s *Supervisor) runProbe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, s.healthcheck.Timeout.Std())
	defer cancel()
	return s.probe(probeCtx)
}

// setState transitions the state machine. Terminated is absorbing; no
// transition leaves it. Observers are notified outside the lock.
func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == StateTerminated || from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if s.onMove != nil {
		s.onMove(from, to)
	}
}
