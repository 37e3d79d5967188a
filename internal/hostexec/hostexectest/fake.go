// Package hostexectest provides an in-memory hostexec.Executor for tests.
package hostexectest

import (
	"context"
	"strings"
	"sync"

	"github.com/hnrobert/lumprov/internal/hostexec"
)

// Call is one recorded invocation.
type Call struct {
	Host string
	Cmd  hostexec.Command
}

// Line is the command without the sudo prefix, space-joined.
func (c Call) Line() string {
	return strings.Join(c.Cmd.Args, " ")
}

// Handler decides the outcome of a call. Returning ok=false falls through
// to the default, a zero Result.
type Handler func(host string, cmd hostexec.Command) (res hostexec.Result, ok bool, err error)

// Fake records calls and answers them through Handlers, first match wins.
// It is safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	calls    []Call
	Handlers []Handler
}

func (f *Fake) Run(ctx context.Context, host string, cmd hostexec.Command) (hostexec.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Host: host, Cmd: cmd})
	handlers := f.Handlers
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return hostexec.Result{}, err
	}
	for _, h := range handlers {
		if res, ok, err := h(host, cmd); ok {
			return res, err
		}
	}
	return hostexec.Result{}, nil
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls for host whose program is prog.
func (f *Fake) CallsTo(host, prog string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Host == host && len(c.Cmd.Args) > 0 && c.Cmd.Args[0] == prog {
			out = append(out, c)
		}
	}
	return out
}

// Exit answers calls to prog on any host with the given exit code.
func Exit(prog string, code int) Handler {
	return ExitOn("", prog, code)
}

// ExitOn answers calls to prog on host ("" for any) with the given exit code.
func ExitOn(host, prog string, code int) Handler {
	return func(h string, cmd hostexec.Command) (hostexec.Result, bool, error) {
		if (host == "" || h == host) && len(cmd.Args) > 0 && cmd.Args[0] == prog {
			return hostexec.Result{ExitCode: code, Stderr: prog + " failed"}, true, nil
		}
		return hostexec.Result{}, false, nil
	}
}

// Output answers calls to prog with exit 0 and the given stdout.
func Output(prog, stdout string) Handler {
	return func(h string, cmd hostexec.Command) (hostexec.Result, bool, error) {
		if len(cmd.Args) > 0 && cmd.Args[0] == prog {
			return hostexec.Result{Stdout: stdout}, true, nil
		}
		return hostexec.Result{}, false, nil
	}
}

// Fail answers every call on host with a transport error.
func Fail(host string, err error) Handler {
	return func(h string, cmd hostexec.Command) (hostexec.Result, bool, error) {
		if h == host {
			return hostexec.Result{}, true, err
		}
		return hostexec.Result{}, false, nil
	}
}
