package hostexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/hnrobert/lumprov/internal/logger"
)

var ErrNoAuthMethod = errors.New("no ssh authentication method configured")

// SSHConfig describes how to reach target hosts.
type SSHConfig struct {
	User                  string        `yaml:"user"`
	Port                  int           `yaml:"port"`
	IdentityFiles         []string      `yaml:"identity_files"`
	KnownHosts            string        `yaml:"known_hosts"`
	UseAgent              bool          `yaml:"use_agent"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
	Timeout               time.Duration `yaml:"timeout"`
}

// SSH runs commands over one cached connection per host.
type SSH struct {
	cfg    SSHConfig
	client *ssh.ClientConfig

	mu        sync.Mutex
	clients   map[string]*ssh.Client
	agentConn net.Conn
}

// NewSSH prepares authentication and host key checking. It does not dial.
func NewSSH(cfg SSHConfig) (*SSH, error) {
	s := &SSH{cfg: cfg, clients: map[string]*ssh.Client{}}

	var auths []ssh.AuthMethod
	var signers []ssh.Signer
	for _, p := range cfg.IdentityFiles {
		b, err := os.ReadFile(expandHome(p))
		if err != nil {
			return nil, fmt.Errorf("read identity %s: %w", p, err)
		}
		signer, err := ssh.ParsePrivateKey(b)
		if err != nil {
			return nil, fmt.Errorf("parse identity %s: %w", p, err)
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		auths = append(auths, ssh.PublicKeys(signers...))
	}
	if cfg.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				return nil, fmt.Errorf("connect ssh-agent: %w", err)
			}
			s.agentConn = conn
			auths = append(auths, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			logger.Warn("use_agent is set but SSH_AUTH_SOCK is empty")
		}
	}
	if len(auths) == 0 {
		s.closeAgent()
		return nil, ErrNoAuthMethod
	}

	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		s.closeAgent()
		return nil, err
	}

	s.client = &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auths,
		HostKeyCallback: hostKeys,
		Timeout:         cfg.Timeout,
	}
	return s, nil
}

func hostKeyCallback(cfg SSHConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		logger.Warn("ssh host key verification is disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := cfg.KnownHosts
	if path == "" {
		path = "~/.ssh/known_hosts"
	}
	cb, err := knownhosts.New(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Address returns host with the configured port unless it already names one.
func (s *SSH) Address(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	port := s.cfg.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *SSH) cached(host string) *ssh.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[host]
}

// dial returns the cached client for host or connects a new one. The lock
// is not held while connecting, so one slow host does not stall the others.
func (s *SSH) dial(ctx context.Context, host string) (*ssh.Client, error) {
	if c := s.cached(host); c != nil {
		return c, nil
	}
	addr := s.Address(host)
	d := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if s.cfg.Timeout > 0 {
		// bound the handshake, ClientConfig.Timeout only covers ssh.Dial
		_ = conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}
	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, s.client)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	c := ssh.NewClient(cc, chans, reqs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev := s.clients[host]; prev != nil {
		// lost a race with another dial for the same host
		_ = c.Close()
		return prev, nil
	}
	s.clients[host] = c
	logger.Debug("connected to %s as %s", addr, s.cfg.User)
	return c, nil
}

func (s *SSH) forget(host string, c *ssh.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[host] == c {
		delete(s.clients, host)
	}
	_ = c.Close()
}

func (s *SSH) Run(ctx context.Context, host string, cmd Command) (Result, error) {
	if len(cmd.Args) == 0 {
		return Result{}, errors.New("empty command")
	}
	c, err := s.dial(ctx, host)
	if err != nil {
		return Result{}, err
	}
	sess, err := c.NewSession()
	if err != nil {
		// the cached connection is probably dead
		s.forget(host, c)
		return Result{}, fmt.Errorf("open session on %s: %w", host, err)
	}
	defer func() { _ = sess.Close() }()

	if cmd.TTY {
		modes := ssh.TerminalModes{ssh.ECHO: 0}
		if err := sess.RequestPty("xterm", 40, 120, modes); err != nil {
			return Result{}, fmt.Errorf("request pty on %s: %w", host, err)
		}
	}
	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	errc := make(chan error, 1)
	go func() { errc <- sess.Run(cmd.String()) }()
	select {
	case err = <-errc:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		return Result{}, fmt.Errorf("%s on %s: %w", cmd.Args[0], host, ctx.Err())
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	return res, fmt.Errorf("%s on %s: %w", cmd.Args[0], host, err)
}

// Close drops every cached connection.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for h, c := range s.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", h, err))
		}
		delete(s.clients, h)
	}
	s.closeAgent()
	return errors.Join(errs...)
}

func (s *SSH) closeAgent() {
	if s.agentConn != nil {
		_ = s.agentConn.Close()
		s.agentConn = nil
	}
}
