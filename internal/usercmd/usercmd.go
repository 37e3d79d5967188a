package usercmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hnrobert/lumprov/internal/hostexec"
	"github.com/hnrobert/lumprov/internal/usermgr"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

// Exit codes shared by the shadow-utils tools.
const (
	exitNameInUse    = 9 // useradd, groupadd
	exitUserNotFound = 6 // userdel, usermod
	exitGetentAbsent = 2 // getent: key not found
)

// CommandError is a command that ran but exited non-zero.
type CommandError struct {
	Host     string
	Command  string
	ExitCode int
	Message  string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s on %s: exit status %d", e.Command, e.Host, e.ExitCode)
	}
	return fmt.Sprintf("%s on %s: exit status %d: %s", e.Command, e.Host, e.ExitCode, e.Message)
}

// GroupStatus is the outcome of GroupAdd.
type GroupStatus int

const (
	GroupAdded GroupStatus = iota
	GroupExists
)

func (s GroupStatus) String() string {
	if s == GroupExists {
		return "exists"
	}
	return "added"
}

// NewUser is the input to AddUser.
type NewUser struct {
	Username string
	FullName string
	Comment  string
	Groups   []string
}

// Gecos is the comment field written for the account.
func (u NewUser) Gecos() string {
	if u.Comment == "" {
		return u.FullName
	}
	return u.FullName + " - " + u.Comment
}

// Aging is the chage(1) policy applied to new accounts. Setting the last
// change further in the past than MaxDays forces a password change at the
// first login.
type Aging struct {
	AccountExpire     string `yaml:"account_expire"`
	WarnDays          int    `yaml:"warn_days"`
	MinDays           int    `yaml:"min_days"`
	MaxDays           int    `yaml:"max_days"`
	InactiveDays      int    `yaml:"inactive_days"`
	LastChangeDaysAgo int    `yaml:"last_change_days_ago"`
}

func DefaultAging() Aging {
	return Aging{
		AccountExpire:     "-1",
		WarnDays:          11,
		MinDays:           7,
		MaxDays:           42,
		InactiveDays:      30,
		LastChangeDaysAgo: 44,
	}
}

// Runner issues account-management commands through an Executor.
type Runner struct {
	Exec hostexec.Executor
	Sudo bool
}

func New(exec hostexec.Executor, sudo bool) *Runner {
	return &Runner{Exec: exec, Sudo: sudo}
}

func (r *Runner) run(ctx context.Context, host string, tty bool, args ...string) (hostexec.Result, error) {
	cmd := hostexec.Command{Args: args, Sudo: r.Sudo, TTY: tty}
	return r.Exec.Run(ctx, host, cmd)
}

// runUnprivileged runs a read-only query without sudo, so a broken sudo
// setup cannot turn into a wrong answer.
func (r *Runner) runUnprivileged(ctx context.Context, host string, args ...string) (hostexec.Result, error) {
	return r.Exec.Run(ctx, host, hostexec.Command{Args: args})
}

func commandError(host string, res hostexec.Result, args ...string) error {
	return &CommandError{Host: host, Command: args[0], ExitCode: res.ExitCode, Message: res.Message()}
}

// Ping runs true(1) on host, through sudo when configured, to check that
// the host answers and privileged commands are allowed.
func (r *Runner) Ping(ctx context.Context, host string) error {
	args := []string{"true"}
	res, err := r.run(ctx, host, false, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return commandError(host, res, args...)
	}
	return nil
}

func (r *Runner) GroupAdd(ctx context.Context, host, group string) (GroupStatus, error) {
	args := []string{"groupadd", group}
	res, err := r.run(ctx, host, false, args...)
	if err != nil {
		return 0, err
	}
	switch res.ExitCode {
	case 0:
		return GroupAdded, nil
	case exitNameInUse:
		return GroupExists, nil
	}
	return 0, commandError(host, res, args...)
}

func (r *Runner) AddUser(ctx context.Context, host string, u NewUser) error {
	args := []string{"useradd", "-c", u.Gecos(), "-m"}
	if len(u.Groups) > 0 {
		args = append(args, "-G", strings.Join(u.Groups, ","))
	}
	args = append(args, u.Username)
	res, err := r.run(ctx, host, false, args...)
	if err != nil {
		return err
	}
	switch res.ExitCode {
	case 0:
		return nil
	case exitNameInUse:
		return fmt.Errorf("%w: %s on %s", ErrUserExists, u.Username, host)
	}
	return commandError(host, res, args...)
}

// SetPasswordHash installs an already-hashed password. The hash is passed
// as an argument, so it is visible in the process table of the target for
// the lifetime of usermod; the plaintext never leaves this process.
func (r *Runner) SetPasswordHash(ctx context.Context, host, username, hash string) error {
	args := []string{"usermod", "--password", hash, username}
	res, err := r.run(ctx, host, true, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return commandError(host, res, args...)
	}
	return nil
}

func (r *Runner) SetAging(ctx context.Context, host, username string, a Aging, now time.Time) error {
	lastChange := now.AddDate(0, 0, -a.LastChangeDaysAgo).Format("2006-01-02")
	args := []string{"chage",
		"-E", a.AccountExpire,
		"-W", strconv.Itoa(a.WarnDays),
		"-m", strconv.Itoa(a.MinDays),
		"-M", strconv.Itoa(a.MaxDays),
		"-I", strconv.Itoa(a.InactiveDays),
		"-d", lastChange,
		username,
	}
	res, err := r.run(ctx, host, false, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return commandError(host, res, args...)
	}
	return nil
}

// UserExists runs id(1) as the connecting user.
func (r *Runner) UserExists(ctx context.Context, host, username string) (bool, error) {
	res, err := r.runUnprivileged(ctx, host, "id", username)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// Lookup returns the passwd entry of username on host.
func (r *Runner) Lookup(ctx context.Context, host, username string) (*usermgr.PasswdEntry, error) {
	args := []string{"getent", "passwd", username}
	res, err := r.runUnprivileged(ctx, host, args...)
	if err != nil {
		return nil, err
	}
	switch res.ExitCode {
	case 0:
		return usermgr.FirstPasswd(strings.NewReader(res.Stdout))
	case exitGetentAbsent:
		return nil, fmt.Errorf("%w: %s on %s", ErrUserNotFound, username, host)
	}
	return nil, commandError(host, res, args...)
}

// ShadowEntry returns the shadow entry of username on host.
func (r *Runner) ShadowEntry(ctx context.Context, host, username string) (*usermgr.ShadowEntry, error) {
	args := []string{"getent", "shadow", username}
	res, err := r.run(ctx, host, false, args...)
	if err != nil {
		return nil, err
	}
	switch res.ExitCode {
	case 0:
		return usermgr.FirstShadow(strings.NewReader(res.Stdout))
	case exitGetentAbsent:
		return nil, fmt.Errorf("%w: %s on %s", ErrUserNotFound, username, host)
	}
	return nil, commandError(host, res, args...)
}

// Group returns the group entry of group on host, or nil if it does not exist.
func (r *Runner) Group(ctx context.Context, host, group string) (*usermgr.GroupEntry, error) {
	args := []string{"getent", "group", group}
	res, err := r.runUnprivileged(ctx, host, args...)
	if err != nil {
		return nil, err
	}
	switch res.ExitCode {
	case 0:
		return usermgr.FirstGroup(strings.NewReader(res.Stdout))
	case exitGetentAbsent:
		return nil, nil
	}
	return nil, commandError(host, res, args...)
}

func (r *Runner) SetComment(ctx context.Context, host, username, comment string) error {
	args := []string{"usermod", "-c", comment, username}
	res, err := r.run(ctx, host, false, args...)
	if err != nil {
		return err
	}
	switch res.ExitCode {
	case 0:
		return nil
	case exitUserNotFound:
		return fmt.Errorf("%w: %s on %s", ErrUserNotFound, username, host)
	}
	return commandError(host, res, args...)
}

func (r *Runner) DelUser(ctx context.Context, host, username string, removeHome bool) error {
	args := []string{"userdel"}
	if removeHome {
		args = append(args, "-r")
	}
	args = append(args, username)
	res, err := r.run(ctx, host, false, args...)
	if err != nil {
		return err
	}
	switch res.ExitCode {
	case 0:
		return nil
	case exitUserNotFound:
		return fmt.Errorf("%w: %s on %s", ErrUserNotFound, username, host)
	}
	return commandError(host, res, args...)
}
