// Package supervisor owns the Factorio server child process and its pipes.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/factorioctl/schema"
)

// Config controls how the server process is spawned.
type Config struct {
	// Command is the full argv used for every start and restart.
	Command []string
	// Echo receives output lines drained while waiting for the child to
	// exit, so shutdown chatter still reaches the console.
	Echo func(line string)
	// Logger is optional.
	Logger pslog.Logger
}

// Supervisor starts, stops and restarts the server process. It exclusively
// owns the child handle and replaces it wholesale on restart; the output
// channel stays stable across replacements.
type Supervisor struct {
	cfg  Config
	out  chan string
	proc *process
}

type process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	done    chan struct{}
	waitErr error
	started time.Time
}

// New constructs a supervisor for the given startup command.
func New(cfg Config) (*Supervisor, error) {
	if len(cfg.Command) == 0 {
		return nil, schema.ErrEmptyCommandLine
	}
	if cfg.Echo == nil {
		cfg.Echo = func(string) {}
	}
	return &Supervisor{
		cfg: cfg,
		out: make(chan string, 256),
	}, nil
}

// Start spawns the server with stdin captured and stderr merged into the
// stdout pipe. A spawn failure is returned as-is; the caller treats it as
// fatal.
func (s *Supervisor) Start(ctx context.Context) error {
	log := s.log(ctx)
	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("server stdin: %w", err)
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("server output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		if log != nil {
			log.Error("server spawn failed", "binary", s.cfg.Command[0], "err", err)
		}
		return fmt.Errorf("spawn %s: %w", s.cfg.Command[0], err)
	}
	_ = pw.Close()

	p := &process{
		cmd:     cmd,
		stdin:   stdin,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	s.proc = p
	if log != nil {
		log.Info("server started", "pid", cmd.Process.Pid, "binary", s.cfg.Command[0])
	}

	readerDone := make(chan struct{})
	go s.readOutput(pr, readerDone, log)
	go func() {
		<-readerDone
		p.waitErr = cmd.Wait()
		if log != nil {
			log.Info("server exited",
				"pid", cmd.Process.Pid,
				"exit_code", exitCode(p.waitErr),
				"uptime_s", int(time.Since(p.started).Seconds()),
			)
		}
		close(p.done)
	}()
	return nil
}

func (s *Supervisor) readOutput(r io.ReadCloser, done chan struct{}, log pslog.Logger) {
	defer close(done)
	defer func() { _ = r.Close() }()
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		s.out <- scanner.Text()
	}
	if err := scanner.Err(); err != nil && log != nil {
		log.Warn("server output read failed", "err", err)
	}
}

// Stop interrupts the child and blocks until it exits, echoing any output it
// still produces on the way down. Valid only while the child is running.
func (s *Supervisor) Stop(ctx context.Context) error {
	p := s.proc
	if p == nil {
		return schema.ErrServerNotRunning
	}
	log := s.log(ctx)
	if log != nil {
		log.Info("server stop requested", "pid", p.cmd.Process.Pid)
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("interrupt server: %w", err)
	}
	for {
		select {
		case line := <-s.out:
			s.cfg.Echo(line)
		case <-p.done:
			s.drainPending()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Supervisor) drainPending() {
	for {
		select {
		case line := <-s.out:
			s.cfg.Echo(line)
		default:
			return
		}
	}
}

// Restart stops the child and starts a fresh one with the original command
// line. No intermediate state is observable by other components.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// WriteLine writes one newline-terminated line to the child's stdin.
func (s *Supervisor) WriteLine(line string) error {
	p := s.proc
	if p == nil {
		return schema.ErrServerNotRunning
	}
	if _, err := fmt.Fprintln(p.stdin, line); err != nil {
		return fmt.Errorf("write to server: %w", err)
	}
	return nil
}

// Lines returns the merged stdout/stderr line channel. The channel survives
// restarts.
func (s *Supervisor) Lines() <-chan string {
	return s.out
}

// Done returns a channel closed when the current child has exited.
func (s *Supervisor) Done() <-chan struct{} {
	p := s.proc
	if p == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.done
}

// Exited reports whether the current child has terminated.
func (s *Supervisor) Exited() bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

func (s *Supervisor) log(ctx context.Context) pslog.Logger {
	if s.cfg.Logger != nil {
		return s.cfg.Logger
	}
	return pslog.Ctx(ctx)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}
