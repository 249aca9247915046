package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// DefaultGracePeriod is how long Stop waits after SIGTERM before killing.
	DefaultGracePeriod = 10 * time.Second

	// killWait bounds the wait for exit after a forced kill.
	killWait = 5 * time.Second
)

var (
	// ErrEngineNotFound is returned when the engine entry point is missing.
	ErrEngineNotFound = errors.New("engine entry point not found")

	// ErrEngineLocked is returned when another service instance holds the
	// engine lock file.
	ErrEngineLocked = errors.New("engine is locked by another instance")

	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("engine already started")
)

// State is the supervisor lifecycle state.
type State string

// Supervisor states.
const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Config describes how to launch the engine.
type Config struct {
	// Dir is the engine's working directory.
	Dir string

	// Interpreter runs Entry when set (e.g. "python3"). When empty, Entry is
	// executed directly.
	Interpreter string

	// Entry is the engine entry point, relative to Dir unless absolute.
	Entry string

	// Args are appended after Entry.
	Args []string

	// Env entries are appended to the service's environment.
	Env []string

	// LockPath, when set, is flock'd for the engine's lifetime so only one
	// service instance supervises an engine install.
	LockPath string

	// GracePeriod bounds the wait between SIGTERM and SIGKILL.
	GracePeriod time.Duration
}

// Supervisor owns the single engine child process. It starts the process
// with both output streams captured, drives one classifier loop per stream,
// and terminates the process on Stop. Crashes are not restarted.
type Supervisor struct {
	cfg        Config
	classifier *Classifier
	broker     *LogBroker
	logger     *slog.Logger

	mu      sync.Mutex
	state   State
	started bool
	cmd     *exec.Cmd
	lock    *flock.Flock
	done    chan struct{}
	exitErr error
	drains  sync.WaitGroup
}

// NewSupervisor creates a supervisor in the stopped state. broker, if not
// nil, is closed when the engine exits.
func NewSupervisor(cfg Config, classifier *Classifier, broker *LogBroker, logger *slog.Logger) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Supervisor{
		cfg:        cfg,
		classifier: classifier,
		broker:     broker,
		logger:     logger,
		state:      StateStopped,
		done:       make(chan struct{}),
	}
}

// EntryPath returns the resolved path of the engine entry point.
func (s *Supervisor) EntryPath() string {
	if filepath.IsAbs(s.cfg.Entry) {
		return s.cfg.Entry
	}
	return filepath.Join(s.cfg.Dir, s.cfg.Entry)
}

// Start spawns the engine and its two drain loops. It fails with
// ErrEngineNotFound before spawning if the entry point does not exist.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = StateStarting

	if err := s.spawn(); err != nil {
		s.state = StateStopped
		s.unlock()
		return err
	}

	s.started = true
	s.state = StateRunning
	engineUp.Set(1)
	s.logger.Info("engine started",
		"pid", s.cmd.Process.Pid,
		"entry", s.EntryPath(),
		"dir", s.cfg.Dir,
	)

	go s.monitor()
	return nil
}

// spawn must be called with mu held.
func (s *Supervisor) spawn() error {
	entry := s.EntryPath()
	if _, err := os.Stat(entry); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrEngineNotFound, entry)
		}
		return fmt.Errorf("stat engine entry: %w", err)
	}

	if s.cfg.LockPath != "" {
		lock := flock.New(s.cfg.LockPath)
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire engine lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrEngineLocked, s.cfg.LockPath)
		}
		s.lock = lock
	}

	var cmd *exec.Cmd
	if s.cfg.Interpreter != "" {
		cmd = exec.Command(s.cfg.Interpreter, append([]string{entry}, s.cfg.Args...)...)
	} else {
		cmd = exec.Command(entry, s.cfg.Args...)
	}
	cmd.Dir = s.cfg.Dir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	s.cmd = cmd

	s.drains.Go(func() {
		if err := s.classifier.Drain(StreamStdout, stdout); err != nil {
			s.logger.Error("engine stream failed", "stream", StreamStdout, "error", err)
		}
	})
	s.drains.Go(func() {
		if err := s.classifier.Drain(StreamStderr, stderr); err != nil {
			s.logger.Error("engine stream failed", "stream", StreamStderr, "error", err)
		}
	})

	return nil
}

// monitor waits for both streams to reach end of file, then reaps the
// process. Pipes must be fully read before Wait closes them.
func (s *Supervisor) monitor() {
	s.drains.Wait()
	err := s.cmd.Wait()

	s.mu.Lock()
	s.exitErr = err
	if s.state == StateRunning {
		s.logger.Error("engine exited unexpectedly", "error", err)
		s.state = StateStopped
	} else {
		s.logger.Info("engine exited", "error", err)
	}
	s.unlock()
	s.mu.Unlock()

	engineUp.Set(0)
	if s.broker != nil {
		s.broker.Close()
	}
	close(s.done)
}

// unlock releases the engine lock file. Must be called with mu held.
func (s *Supervisor) unlock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("release engine lock", "error", err)
	}
	s.lock = nil
}

// Stop sends SIGTERM, waits up to the grace period (or until ctx is done),
// then kills the process. It is a no-op if the engine is not running.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StateStopping:
		s.mu.Unlock()
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.state = StateStopping
	cmd := s.cmd
	s.mu.Unlock()

	s.logger.Info("stopping engine", "pid", cmd.Process.Pid, "grace_period", s.cfg.GracePeriod)
	if err := terminate(cmd); err != nil {
		s.logger.Warn("send SIGTERM to engine", "error", err)
	}

	timer := time.NewTimer(s.cfg.GracePeriod)
	defer timer.Stop()

	select {
	case <-s.done:
	case <-timer.C:
		s.kill(cmd, "grace period elapsed")
	case <-ctx.Done():
		s.kill(cmd, "shutdown context done")
	}

	select {
	case <-s.done:
	case <-time.After(killWait):
		return fmt.Errorf("engine pid %d did not exit after kill", cmd.Process.Pid)
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.logger.Info("engine stopped")
	return nil
}

func (s *Supervisor) kill(cmd *exec.Cmd, reason string) {
	select {
	case <-s.done:
		return
	default:
	}
	s.logger.Warn("killing engine", "pid", cmd.Process.Pid, "reason", reason)
	if err := forceKill(cmd); err != nil {
		s.logger.Error("kill engine", "error", err)
	}
}

// IsRunning reports whether the engine process is alive. It never blocks
// on the process.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the engine process has exited and both streams have
// been drained.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// ExitErr returns the process exit error after Done is closed.
func (s *Supervisor) ExitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitErr
}
