package usercmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/lumprov/internal/hostexec"
	"github.com/hnrobert/lumprov/internal/hostexec/hostexectest"
)

func TestGroupAdd(t *testing.T) {
	f := &hostexectest.Fake{Handlers: []hostexectest.Handler{
		hostexectest.ExitOn("server2", "groupadd", 9),
		hostexectest.ExitOn("server3", "groupadd", 10),
	}}
	r := New(f, true)
	ctx := context.Background()

	st, err := r.GroupAdd(ctx, "server1", "group1")
	require.NoError(t, err)
	assert.Equal(t, GroupAdded, st)

	st, err = r.GroupAdd(ctx, "server2", "group1")
	require.NoError(t, err)
	assert.Equal(t, GroupExists, st)
	assert.Equal(t, "exists", st.String())

	_, err = r.GroupAdd(ctx, "server3", "group1")
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 10, ce.ExitCode)
	assert.Equal(t, "groupadd", ce.Command)
	assert.Contains(t, ce.Error(), "groupadd failed")

	calls := f.Calls()
	require.Len(t, calls, 3)
	assert.True(t, calls[0].Cmd.Sudo)
	assert.Equal(t, "groupadd group1", calls[0].Line())
}

func TestAddUser(t *testing.T) {
	f := &hostexectest.Fake{Handlers: []hostexectest.Handler{hostexectest.ExitOn("server2", "useradd", 9)}}
	r := New(f, false)
	u := NewUser{Username: "username1", FullName: "First Last1", Comment: "Comment", Groups: []string{"group1", "group2"}}

	require.NoError(t, r.AddUser(context.Background(), "server1", u))
	calls := f.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"useradd", "-c", "First Last1 - Comment", "-m", "-G", "group1,group2", "username1"}, calls[0].Cmd.Args)
	assert.False(t, calls[0].Cmd.Sudo)

	err := r.AddUser(context.Background(), "server2", u)
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestAddUserWithoutGroups(t *testing.T) {
	f := &hostexectest.Fake{}
	r := New(f, false)
	require.NoError(t, r.AddUser(context.Background(), "h", NewUser{Username: "u", FullName: "U"}))
	assert.Equal(t, []string{"useradd", "-c", "U", "-m", "u"}, f.Calls()[0].Cmd.Args)
}

func TestSetPasswordHashUsesTTY(t *testing.T) {
	f := &hostexectest.Fake{}
	r := New(f, true)
	require.NoError(t, r.SetPasswordHash(context.Background(), "server1", "username1", "$6$salt$hash"))
	c := f.Calls()[0]
	assert.True(t, c.Cmd.TTY)
	assert.Equal(t, []string{"usermod", "--password", "$6$salt$hash", "username1"}, c.Cmd.Args)

	f.Handlers = []hostexectest.Handler{hostexectest.Exit("usermod", 1)}
	assert.Error(t, r.SetPasswordHash(context.Background(), "server1", "username1", "$6$salt$hash"))
}

func TestSetAging(t *testing.T) {
	f := &hostexectest.Fake{}
	r := New(f, true)
	now := time.Date(2026, 3, 25, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.SetAging(context.Background(), "server1", "username1", DefaultAging(), now))
	assert.Equal(t,
		[]string{"chage", "-E", "-1", "-W", "11", "-m", "7", "-M", "42", "-I", "30", "-d", "2026-02-09", "username1"},
		f.Calls()[0].Cmd.Args)
}

func TestUserExists(t *testing.T) {
	f := &hostexectest.Fake{Handlers: []hostexectest.Handler{hostexectest.ExitOn("server2", "id", 1)}}
	r := New(f, true)
	ok, err := r.UserExists(context.Background(), "server1", "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"id", "bob"}, f.Calls()[0].Cmd.Argv(), "queries run without sudo")
	ok, err = r.UserExists(context.Background(), "server2", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	f.Handlers = []hostexectest.Handler{hostexectest.Fail("server3", errors.New("connection refused"))}
	_, err = r.UserExists(context.Background(), "server3", "bob")
	assert.ErrorContains(t, err, "connection refused")
}

func TestLookup(t *testing.T) {
	f := &hostexectest.Fake{Handlers: []hostexectest.Handler{
		hostexectest.ExitOn("server2", "getent", 2),
		hostexectest.Output("getent", "bob:x:1001:1001:Bob - ops:/home/bob:/bin/bash\n"),
	}}
	r := New(f, true)
	e, err := r.Lookup(context.Background(), "server1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob - ops", e.Gecos)
	assert.False(t, f.Calls()[0].Cmd.Sudo)

	_, err = r.Lookup(context.Background(), "server2", "bob")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestShadowEntryAndGroup(t *testing.T) {
	f := &hostexectest.Fake{Handlers: []hostexectest.Handler{
		func(host string, cmd hostexec.Command) (hostexec.Result, bool, error) {
			if cmd.Args[0] != "getent" {
				return hostexec.Result{}, false, nil
			}
			switch cmd.Args[1] {
			case "shadow":
				return hostexec.Result{Stdout: "bob:$6$s$h:19000:7:42:11:30::\n"}, true, nil
			case "group":
				if cmd.Args[2] == "missing" {
					return hostexec.Result{ExitCode: 2}, true, nil
				}
				return hostexec.Result{Stdout: "group1:x:1005:bob\n"}, true, nil
			}
			return hostexec.Result{}, false, nil
		},
	}}
	r := New(f, true)
	ctx := context.Background()

	s, err := r.ShadowEntry(ctx, "server1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "$6$s$h", s.Hash)
	assert.Equal(t, "42", s.Max)

	g, err := r.Group(ctx, "server1", "group1")
	require.NoError(t, err)
	assert.True(t, g.HasMember("bob"))

	g, err = r.Group(ctx, "server1", "missing")
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestSetCommentAndDelUser(t *testing.T) {
	f := &hostexectest.Fake{Handlers: []hostexectest.Handler{
		hostexectest.ExitOn("server2", "usermod", 6),
		hostexectest.ExitOn("server2", "userdel", 6),
		hostexectest.ExitOn("server3", "userdel", 12),
	}}
	r := New(f, true)
	ctx := context.Background()

	require.NoError(t, r.SetComment(ctx, "server1", "bob", "new comment"))
	assert.Equal(t, []string{"usermod", "-c", "new comment", "bob"}, f.Calls()[0].Cmd.Args)
	assert.ErrorIs(t, r.SetComment(ctx, "server2", "bob", "x"), ErrUserNotFound)

	require.NoError(t, r.DelUser(ctx, "server1", "bob", true))
	assert.Equal(t, []string{"userdel", "-r", "bob"}, f.CallsTo("server1", "userdel")[0].Cmd.Args)
	assert.ErrorIs(t, r.DelUser(ctx, "server2", "bob", true), ErrUserNotFound)

	err := r.DelUser(ctx, "server3", "bob", false)
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 12, ce.ExitCode)
	assert.Equal(t, []string{"userdel", "bob"}, f.CallsTo("server3", "userdel")[0].Cmd.Args)
}

func TestPing(t *testing.T) {
	f := &hostexectest.Fake{Handlers: []hostexectest.Handler{hostexectest.ExitOn("server2", "true", 1)}}
	r := New(f, true)
	require.NoError(t, r.Ping(context.Background(), "server1"))
	assert.Equal(t, []string{"sudo", "-n", "--", "true"}, f.Calls()[0].Cmd.Argv())

	var ce *CommandError
	assert.True(t, errors.As(r.Ping(context.Background(), "server2"), &ce))
}
