package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/hnrobert/lumprov/internal/config"
	"github.com/hnrobert/lumprov/internal/logger"
	"github.com/hnrobert/lumprov/internal/provision"
	"github.com/hnrobert/lumprov/internal/pwgen"
)

const (
	exitFailed = 1
	exitConfig = 2
)

var errRunFailed = errors.New("one or more operations failed")

type globalOptions struct {
	Config  string `short:"c" long:"config" env:"LUMPROV_CONFIG" default:"roster.yaml" description:"Roster file"`
	LogDir  string `long:"log-dir" env:"LUMPROV_LOG_DIR" description:"Also write daily log files to this directory"`
	DryRun  bool   `long:"dry-run" description:"Log commands instead of running them"`
	Verbose bool   `short:"v" long:"verbose" description:"Debug output"`

	ctx context.Context
}

func newParser(opts *globalOptions) *flags.Parser {
	p := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	p.ShortDescription = "Provision a fixed roster of user accounts on remote hosts"
	mustAdd(p, "adduser", "Create roster users on every host",
		"Creates groups and accounts, sets a generated password and expires it so it must be changed at first login.",
		&addUserCommand{global: opts})
	mustAdd(p, "deluser", "Remove roster users from every host",
		"Removes every roster account and its home directory. Groups are left in place.",
		&delUserCommand{global: opts})
	mustAdd(p, "mod-comment", "Change the comment of an account on every host",
		"Sets the GECOS comment of an existing account. Hosts without the account are reported and skipped.",
		&modCommentCommand{global: opts})
	mustAdd(p, "status", "Show which roster accounts exist on each host", "", &statusCommand{global: opts})
	mustAdd(p, "genpw", "Print passwords generated with the configured policy", "", &genpwCommand{global: opts})
	mustAdd(p, "check", "Validate the roster and password policy", "", &checkCommand{global: opts})
	return p
}

func mustAdd(p *flags.Parser, name, short, long string, data interface{}) {
	if _, err := p.AddCommand(name, short, long, data); err != nil {
		panic(err)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &globalOptions{ctx: ctx}
	_, err := newParser(opts).Parse()
	if err == nil {
		logger.Close()
		return
	}
	var fe *flags.Error
	if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
		fmt.Fprintln(os.Stdout, fe.Message)
		return
	}
	if !errors.Is(err, errRunFailed) {
		logger.Error("%v", err)
	}
	logger.Close()
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	var fe *flags.Error
	switch {
	case errors.As(err, &fe),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, pwgen.ErrInvalidPolicy),
		errors.Is(err, provision.ErrInvalidArgs):
		return exitConfig
	}
	return exitFailed
}
