package evaluator

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ErrTimeout is returned when a command outlives its timeout.
var ErrTimeout = stderrors.New("command timed out")

// maxCapture bounds how much stderr is kept per command.
const maxCapture = 64 << 10

// Command is one shell invocation.
type Command struct {
	// Line is interpreted by sh -c.
	Line string
	// Dir is the working directory.
	Dir string
	// Env entries are appended to the inherited environment.
	Env []string
	// Timeout bounds the whole invocation.
	Timeout time.Duration
}

// CommandResult describes a command that ran to completion.
type CommandResult struct {
	ExitCode int
	Stderr   []byte
	Elapsed  time.Duration
}

// runCommand executes cmd in its own process group. On timeout or context
// cancellation the whole group is killed, so build tools cannot leave
// orphaned children holding the artifact.
func runCommand(ctx context.Context, cmd Command) (*CommandResult, error) {
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.Command("sh", "-c", cmd.Line)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderr := &tailBuffer{limit: maxCapture}
	c.Stdout = nil
	c.Stderr = stderr

	start := time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Wait()
	}()

	var err error
	select {
	case <-runCtx.Done():
		// Kill the process group (negative PID)
		_ = unix.Kill(-c.Process.Pid, unix.SIGKILL)
		<-done
		if ctx.Err() != nil {
			return nil, fmt.Errorf("command cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, cmd.Timeout)
	case err = <-done:
	}
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !stderrors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &CommandResult{
		ExitCode: exitCode,
		Stderr:   stderr.Bytes(),
		Elapsed:  elapsed,
	}, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > t.limit {
		p = p[len(p)-t.limit:]
	}
	if over := t.buf.Len() + len(p) - t.limit; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) Bytes() []byte {
	return t.buf.Bytes()
}
