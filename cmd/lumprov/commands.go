package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hnrobert/lumprov/internal/auth"
	"github.com/hnrobert/lumprov/internal/config"
	"github.com/hnrobert/lumprov/internal/hostexec"
	"github.com/hnrobert/lumprov/internal/logger"
	"github.com/hnrobert/lumprov/internal/provision"
	"github.com/hnrobert/lumprov/internal/pwgen"
	"github.com/hnrobert/lumprov/internal/usercmd"
)

// session is the state shared by the commands that touch hosts.
type session struct {
	cfg  config.Config
	exec hostexec.Executor
	ssh  *hostexec.SSH
}

// load sets up logging and reads the roster.
func (g *globalOptions) load() (config.Config, error) {
	logger.SetVerbose(g.Verbose)
	if g.LogDir != "" {
		if err := logger.Init(g.LogDir); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load(g.Config)
	if err != nil {
		return config.Config{}, err
	}
	logger.Debug("loaded %s: %d hosts, %d users", g.Config, len(cfg.Hosts), len(cfg.Users))
	return cfg, nil
}

func (g *globalOptions) open() (*session, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg}
	if g.DryRun {
		s.exec = hostexec.DryRun{}
		return s, nil
	}
	router := &hostexec.Router{Local: &hostexec.Local{Timeout: hostexec.DefaultTimeout}}
	for _, h := range cfg.Hosts {
		if hostexec.IsLocal(h) {
			continue
		}
		s.ssh, err = hostexec.NewSSH(cfg.SSH.SSHConfig)
		if err != nil {
			return nil, err
		}
		router.Remote = s.ssh
		break
	}
	s.exec = router
	return s, nil
}

func (s *session) workflow() (*provision.Workflow, error) {
	h, err := auth.NewHasher(nil)
	if err != nil {
		return nil, err
	}
	_, dryRun := s.exec.(hostexec.DryRun)
	return &provision.Workflow{
		Config:    s.cfg,
		Runner:    usercmd.New(s.exec, s.cfg.SSH.Sudo),
		Passwords: &pwgen.Generator{},
		Hasher:    h,
		DryRun:    dryRun,
	}, nil
}

func (s *session) close() {
	if s.ssh == nil {
		return
	}
	if err := s.ssh.Close(); err != nil {
		logger.Debug("closing ssh connections: %v", err)
	}
}

type outputOptions struct {
	Report string `long:"report" description:"Write the report to this file (mode 0600) instead of stdout"`
	Format string `long:"format" choice:"text" choice:"markdown" choice:"html" default:"text" description:"Report format"`
}

type addUserCommand struct {
	global *globalOptions

	PerHostPassword bool `long:"per-host-password" description:"Generate a separate password for every host"`
	Parallel        int  `long:"parallel" default:"1" description:"Number of hosts processed at once"`
	Verify          bool `long:"verify" description:"Check the stored hash against the generated password"`
	outputOptions
}

func (c *addUserCommand) Execute([]string) error {
	s, err := c.global.open()
	if err != nil {
		return err
	}
	defer s.close()
	w, err := s.workflow()
	if err != nil {
		return err
	}
	rep, runErr := w.AddUsers(c.global.ctx, provision.AddOptions{
		PerHostPasswords: c.PerHostPassword || !s.cfg.SharedPassword,
		Parallel:         c.Parallel,
		Verify:           c.Verify,
	})
	return finish(rep, runErr, c.outputOptions)
}

type delUserCommand struct {
	global *globalOptions

	KeepHome bool `long:"keep-home" description:"Leave home directories and mail spools in place"`
	Parallel int  `long:"parallel" default:"1" description:"Number of hosts processed at once"`
	Yes      bool `short:"y" long:"yes" description:"Do not ask for confirmation"`
	outputOptions
}

func (c *delUserCommand) Execute([]string) error {
	s, err := c.global.open()
	if err != nil {
		return err
	}
	defer s.close()
	if !c.Yes && !c.global.DryRun {
		q := fmt.Sprintf("Delete %d users on %d hosts (%s)?", len(s.cfg.Users), len(s.cfg.Hosts), strings.Join(s.cfg.Hosts, ", "))
		if !confirm(os.Stdin, os.Stderr, q) {
			logger.Info("aborted")
			return nil
		}
	}
	w, err := s.workflow()
	if err != nil {
		return err
	}
	rep, runErr := w.DeleteUsers(c.global.ctx, provision.DeleteOptions{KeepHome: c.KeepHome, Parallel: c.Parallel})
	return finish(rep, runErr, c.outputOptions)
}

type modCommentCommand struct {
	global *globalOptions

	User     string `short:"u" long:"user" required:"true" description:"Account to change"`
	Comment  string `long:"comment" required:"true" description:"New comment"`
	Parallel int    `long:"parallel" default:"1" description:"Number of hosts processed at once"`
}

func (c *modCommentCommand) Execute([]string) error {
	s, err := c.global.open()
	if err != nil {
		return err
	}
	defer s.close()
	w, err := s.workflow()
	if err != nil {
		return err
	}
	rep, runErr := w.ModComment(c.global.ctx, c.User, c.Comment, c.Parallel)
	return finish(rep, runErr, outputOptions{Format: "text"})
}

type statusCommand struct {
	global *globalOptions

	Parallel int `long:"parallel" default:"4" description:"Number of hosts processed at once"`
	outputOptions
}

func (c *statusCommand) Execute([]string) error {
	s, err := c.global.open()
	if err != nil {
		return err
	}
	defer s.close()
	w, err := s.workflow()
	if err != nil {
		return err
	}
	rep, runErr := w.Status(c.global.ctx, c.Parallel)
	return finish(rep, runErr, c.outputOptions)
}

type genpwCommand struct {
	global *globalOptions

	Count int `short:"n" long:"count" default:"1" description:"Number of passwords"`
}

func (c *genpwCommand) Execute([]string) error {
	cfg, err := c.global.load()
	if err != nil {
		return err
	}
	return generatePasswords(os.Stdout, &pwgen.Generator{}, cfg.Policy, c.Count)
}

func generatePasswords(w io.Writer, src provision.PasswordSource, p pwgen.Policy, n int) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		pw, err := src.Generate(p)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, pw); err != nil {
			return err
		}
	}
	return nil
}

type checkCommand struct {
	global *globalOptions
}

func (c *checkCommand) Execute([]string) error {
	cfg, err := c.global.load()
	if err != nil {
		return err
	}
	summarize(os.Stdout, c.global.Config, cfg)
	return nil
}

func summarize(w io.Writer, path string, cfg config.Config) {
	p := cfg.Policy
	fmt.Fprintf(w, "%s: ok\n", path)
	fmt.Fprintf(w, "  hosts:  %s\n", strings.Join(cfg.Hosts, ", "))
	fmt.Fprintf(w, "  groups: %s\n", strings.Join(cfg.Groups, ", "))
	fmt.Fprintf(w, "  users:  %d\n", len(cfg.Users))
	fmt.Fprintf(w, "  policy: length %d, min upper %d, lower %d, digits %d, special %d (%q), excluded %q\n",
		p.Length, p.MinUpper, p.MinLower, p.MinDigits, p.MinSpecial, p.Specials, p.Exclude)
	mode := "shared per run"
	if !cfg.SharedPassword {
		mode = "per host"
	}
	fmt.Fprintf(w, "  passwords: %s\n", mode)
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
