// Package supervisor starts and stops the LLM host subprocess and
// probes the image generation server for readiness. It owns nothing
// about scene processing itself; it only runs the LLM host and reports
// whether the two external services are reachable.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/haasonsaas/dndvisualizer/internal/imageclient"
	"github.com/haasonsaas/dndvisualizer/internal/llmclient"
)

// Config configures a Supervisor.
type Config struct {
	// LaunchCommand is the argv executed directly (the serve command
	// passes "bash -c <launch>"), in its own process group so it can be
	// torn down as a unit.
	LaunchCommand  []string
	StartupWindow  time.Duration
	ShutdownGrace  time.Duration
	HealthInterval time.Duration
}

// Supervisor manages the LLM host's lifecycle and exposes readiness
// probes for both the LLM host and the image server.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	llm    *llmclient.Client
	img    *imageclient.Client

	mu      sync.Mutex
	cmd     *exec.Cmd
	waitErr chan error
}

// New creates a Supervisor. llm and img are used for readiness
// probing; the supervisor does not own their configuration.
func New(cfg Config, llm *llmclient.Client, img *imageclient.Client, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.StartupWindow <= 0 {
		cfg.StartupWindow = 30 * time.Second
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger.With("component", "supervisor"),
		llm:    llm,
		img:    img,
	}
}

// LineSink receives subprocess output, one line at a time, so callers
// can route it to the rotating log sinks described in the logging
// contract.
type LineSink func(line string)

// Start launches the LLM host subprocess in its own process group,
// pumps its stdout/stderr to the given sinks, and waits the full
// StartupWindow before running a health check.
func (s *Supervisor) Start(ctx context.Context, stdout, stderr LineSink) error {
	if len(s.cfg.LaunchCommand) == 0 {
		return fmt.Errorf("supervisor: no launch command configured")
	}

	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: already started")
	}

	cmd := exec.Command(s.cfg.LaunchCommand[0], s.cfg.LaunchCommand[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: start: %w", err)
	}
	s.logger.Info("llm host started", "pid", cmd.Process.Pid)

	s.cmd = cmd
	s.waitErr = make(chan error, 1)
	s.mu.Unlock()

	go pumpLines(stdoutPipe, stdout)
	go pumpLines(stderrPipe, stderr)
	go func() {
		s.waitErr <- cmd.Wait()
	}()

	s.logger.Info("waiting for llm host startup window", "seconds", s.cfg.StartupWindow.Seconds())
	select {
	case <-time.After(s.cfg.StartupWindow):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.llm.HealthCheck(ctx); err != nil {
		return fmt.Errorf("supervisor: llm host failed startup health check: %w", err)
	}
	s.logger.Info("llm host ready")
	return nil
}

func pumpLines(r io.Reader, sink LineSink) {
	if sink == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		sink(scanner.Text())
	}
}

// Healthy runs the LLM host's health check. It does not restart the
// process; that decision belongs to the Runner.
func (s *Supervisor) Healthy(ctx context.Context) error {
	return s.llm.HealthCheck(ctx)
}

// WaitForImageServer polls the image server with a bare TCP connect,
// up to maxRetries attempts spaced by interval, per the configured
// retry schedule. It returns nil on the first successful probe, or an
// error once the attempts are exhausted or the context is done.
func (s *Supervisor) WaitForImageServer(ctx context.Context, maxRetries int, interval time.Duration) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := s.img.Probe(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("supervisor: image server not ready after %d attempts: %w", maxRetries, lastErr)
}

// Stop signals the subprocess group with SIGTERM, waits up to
// ShutdownGrace, and escalates to SIGKILL if it hasn't exited.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	waitErr := s.waitErr
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return fmt.Errorf("supervisor: getpgid: %w", err)
	}

	s.logger.Info("stopping llm host", "pid", cmd.Process.Pid)
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("supervisor: sigterm process group: %w", err)
	}

	select {
	case err := <-waitErr:
		s.logger.Info("llm host exited", "error", err)
		return nil
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn("llm host did not exit in time, force killing")
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
			return fmt.Errorf("supervisor: sigkill process group: %w", err)
		}
		<-waitErr
		return nil
	}
}
