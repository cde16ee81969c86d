package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Process is a host child process spoken to over its stdin/stdout.
type Process struct {
	*Stream
	cmd *exec.Cmd
	// grace is how long Close waits for the child to exit after its stdin
	// closes before killing it.
	grace time.Duration
}

const defaultExitGrace = 3 * time.Second

// StartProcess launches argv and returns a connection to it. The child's
// stderr is forwarded to logger line by line.
func StartProcess(ctx context.Context, logger *slog.Logger, argv []string) (*Process, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, fmt.Errorf("start host: empty command")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("host stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("host stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("host stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start host %q: %w", argv[0], err)
	}
	logger.Info("host process started", "cmd", argv[0], "pid", cmd.Process.Pid)

	go forwardStderr(logger, stderr)

	p := &Process{cmd: cmd, grace: defaultExitGrace}
	p.Stream = NewStream(logger, stdout, stdin, stdin, closerFunc(p.wait))
	return p, nil
}

func (p *Process) wait() error {
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return err
	case <-time.After(p.grace):
		_ = p.cmd.Process.Kill()
		return <-done
	}
}

func forwardStderr(logger *slog.Logger, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		txt := strings.TrimSpace(sc.Text())
		if txt != "" {
			logger.Debug("host stderr", "line", txt)
		}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
