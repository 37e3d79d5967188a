package hostexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandArgv(t *testing.T) {
	c := Command{Args: []string{"useradd", "-c", "First Last - it's me", "bob"}}
	assert.Equal(t, c.Args, c.Argv())

	c.Sudo = true
	argv := c.Argv()
	assert.Equal(t, []string{"sudo", "-n", "--", "useradd", "-c", "First Last - it's me", "bob"}, argv)

	words, err := shellquote.Split(c.String())
	require.NoError(t, err)
	assert.Equal(t, argv, words)
}

func TestCommandStringQuotesMetacharacters(t *testing.T) {
	c := Command{Args: []string{"usermod", "-c", "x; rm -rf / $(id)", "bob"}}
	words, err := shellquote.Split(c.String())
	require.NoError(t, err)
	assert.Equal(t, c.Args, words)
}

func TestResultMessage(t *testing.T) {
	assert.Equal(t, "bad", Result{Stderr: " bad\n", Stdout: "ok"}.Message())
	assert.Equal(t, "ok", Result{Stdout: "ok\n"}.Message())
}

type recordingExecutor struct{ hosts []string }

func (r *recordingExecutor) Run(ctx context.Context, host string, cmd Command) (Result, error) {
	r.hosts = append(r.hosts, host)
	return Result{}, nil
}

func TestRouter(t *testing.T) {
	local, remote := &recordingExecutor{}, &recordingExecutor{}
	r := &Router{Local: local, Remote: remote}
	ctx := context.Background()
	for _, h := range []string{"localhost", "server1", "127.0.0.1", "server2"} {
		_, err := r.Run(ctx, h, Command{Args: []string{"true"}})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, local.hosts)
	assert.Equal(t, []string{"server1", "server2"}, remote.hosts)

	_, err := (&Router{Local: local}).Run(ctx, "server3", Command{Args: []string{"true"}})
	assert.ErrorIs(t, err, ErrUnknownHost)
}

func TestDryRun(t *testing.T) {
	res, err := DryRun{}.Run(context.Background(), "server1", Command{Args: []string{"userdel", "-r", "bob"}, Sudo: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestLocalExitCodes(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	res, err := l.Run(ctx, "localhost", Command{Args: []string{"sh", "-c", "echo out; echo err >&2"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)

	res, err = l.Run(ctx, "localhost", Command{Args: []string{"sh", "-c", "exit 9"}})
	require.NoError(t, err)
	assert.Equal(t, 9, res.ExitCode)

	_, err = l.Run(ctx, "localhost", Command{Args: []string{"/nonexistent/lumprov-binary"}})
	assert.Error(t, err)

	_, err = l.Run(ctx, "localhost", Command{})
	assert.Error(t, err)
}

func TestLocalTimeout(t *testing.T) {
	l := &Local{Timeout: 100 * time.Millisecond}
	_, err := l.Run(context.Background(), "localhost", Command{Args: []string{"sleep", "5"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), err)
}

func TestLocalPTY(t *testing.T) {
	l := NewLocal()
	res, err := l.Run(context.Background(), "localhost", Command{Args: []string{"sh", "-c", "test -t 0 && echo tty; exit 4"}, TTY: true})
	require.NoError(t, err)
	assert.Equal(t, 4, res.ExitCode)
	assert.Contains(t, res.Stdout, "tty")
}
