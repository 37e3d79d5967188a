package hostexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/creack/pty"
)

const DefaultTimeout = 30 * time.Second

// Local runs commands on this machine with os/exec.
type Local struct {
	Timeout time.Duration
}

func NewLocal() *Local {
	return &Local{Timeout: DefaultTimeout}
}

func (l *Local) Run(ctx context.Context, host string, cmd Command) (Result, error) {
	argv := cmd.Argv()
	if len(argv) == 0 {
		return Result{}, errors.New("empty command")
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var (
		res Result
		err error
	)
	if cmd.TTY {
		res, err = runPTY(c)
	} else {
		var stdout, stderr bytes.Buffer
		c.Stdout = &stdout
		c.Stderr = &stderr
		err = c.Run()
		res = Result{Stdout: stdout.String(), Stderr: stderr.String()}
	}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, fmt.Errorf("%s: %w", argv[0], ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}

// runPTY runs c on a pseudo-terminal. Output of both streams lands in
// Stdout, as it would on a terminal.
func runPTY(c *exec.Cmd) (Result, error) {
	f, err := pty.Start(c)
	if err != nil {
		return Result{}, fmt.Errorf("start %s on pty: %w", c.Path, err)
	}
	defer func() { _ = f.Close() }()

	var out bytes.Buffer
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		// Linux returns EIO once the child side is closed.
		_, _ = io.Copy(&out, f)
	}()

	err = c.Wait()
	select {
	case <-readerDone:
	case <-time.After(time.Second):
		// a grandchild still holds the terminal open
		_ = f.Close()
		<-readerDone
	}
	return Result{Stdout: out.String()}, err
}
