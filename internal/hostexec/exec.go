// Package hostexec runs account-management commands on target hosts.
//
// Commands are argument vectors. They are never built by string
// interpolation; when a remote shell has to see a single command line the
// vector is quoted with shellquote.Join.
package hostexec

import (
	"context"
	"errors"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/hnrobert/lumprov/internal/logger"
)

var ErrUnknownHost = errors.New("no executor for host")

// Command is one privileged invocation on a host.
type Command struct {
	Args []string
	// Sudo prefixes the command with non-interactive sudo.
	Sudo bool
	// TTY allocates a terminal, for tools that refuse to run without one.
	TTY bool
}

// Argv returns the full argument vector, including the sudo prefix.
func (c Command) Argv() []string {
	if !c.Sudo {
		return append([]string(nil), c.Args...)
	}
	return append([]string{"sudo", "-n", "--"}, c.Args...)
}

// String is the shell-quoted command line.
func (c Command) String() string {
	return shellquote.Join(c.Argv()...)
}

// Result is the outcome of a command that ran to completion. A non-zero
// ExitCode is not an error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Message is the trimmed stderr, or stdout when stderr is empty.
func (r Result) Message() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

// Executor runs a command on a named host. Errors are reserved for
// transport failures: the command could not be started or its status is
// unknown.
type Executor interface {
	Run(ctx context.Context, host string, cmd Command) (Result, error)
}

// IsLocal reports whether host names the machine lumprov runs on.
func IsLocal(host string) bool {
	switch host {
	case "localhost", "local", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Router sends local host names to Local and everything else to Remote.
type Router struct {
	Local  Executor
	Remote Executor
}

func (r *Router) Run(ctx context.Context, host string, cmd Command) (Result, error) {
	if IsLocal(host) && r.Local != nil {
		return r.Local.Run(ctx, host, cmd)
	}
	if r.Remote == nil {
		return Result{}, ErrUnknownHost
	}
	return r.Remote.Run(ctx, host, cmd)
}

// DryRun logs commands instead of running them and reports success.
type DryRun struct{}

func (DryRun) Run(ctx context.Context, host string, cmd Command) (Result, error) {
	logger.Info("[dry-run] %s: %s", host, cmd.String())
	return Result{}, nil
}
