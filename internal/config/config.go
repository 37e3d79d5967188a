package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hnrobert/lumprov/internal/hostexec"
	"github.com/hnrobert/lumprov/internal/pwgen"
	"github.com/hnrobert/lumprov/internal/usercmd"
	"github.com/hnrobert/lumprov/internal/usermgr"
)

var ErrInvalidConfig = errors.New("invalid config")

const DefaultPath = "roster.yaml"

// User is one roster entry.
type User struct {
	Name     string `yaml:"name"`
	Comment  string `yaml:"comment"`
	Username string `yaml:"username"`
}

type SSH struct {
	hostexec.SSHConfig `yaml:",inline"`
	// Sudo runs every account command through sudo -n.
	Sudo bool `yaml:"sudo"`
}

// Config is the provisioning roster. It is loaded once per run and must be
// treated as read-only afterwards.
type Config struct {
	Hosts  []string      `yaml:"hosts"`
	Groups []string      `yaml:"groups"`
	Users  []User        `yaml:"users"`
	Policy pwgen.Policy  `yaml:"policy"`
	Aging  usercmd.Aging `yaml:"aging"`
	SSH    SSH           `yaml:"ssh"`
	// SharedPassword gives each user one password for every host in the run.
	SharedPassword bool `yaml:"shared_password"`
}

// Default returns the settings used for keys missing from the file.
func Default() Config {
	return Config{
		Policy: pwgen.DefaultPolicy(),
		Aging:  usercmd.DefaultAging(),
		SSH: SSH{
			SSHConfig: hostexec.SSHConfig{
				User:       os.Getenv("USER"),
				Port:       22,
				KnownHosts: "~/.ssh/known_hosts",
				UseAgent:   true,
				Timeout:    10 * time.Second,
			},
			Sudo: true,
		},
		SharedPassword: true,
	}
}

// Load reads and validates the roster at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result.
// Unknown keys are rejected.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("%w: empty file", ErrInvalidConfig)
		}
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks the roster and the password policy. Policy errors wrap
// both ErrInvalidConfig and pwgen.ErrInvalidPolicy.
func (c Config) Validate() error {
	if len(c.Hosts) == 0 {
		return invalid("no hosts")
	}
	seenHost := map[string]bool{}
	for _, h := range c.Hosts {
		if strings.TrimSpace(h) == "" || strings.ContainsAny(h, " \t\n") {
			return invalid("bad host name %q", h)
		}
		if seenHost[h] {
			return invalid("duplicate host %q", h)
		}
		seenHost[h] = true
	}
	for _, g := range c.Groups {
		if !usermgr.ValidGroupName(g) {
			return invalid("bad group name %q", g)
		}
	}
	if len(c.Users) == 0 {
		return invalid("no users")
	}
	seenUser := map[string]bool{}
	for i, u := range c.Users {
		if !usermgr.ValidUsername(u.Username) {
			return invalid("users[%d]: bad username %q", i, u.Username)
		}
		if seenUser[u.Username] {
			return invalid("users[%d]: duplicate username %q", i, u.Username)
		}
		seenUser[u.Username] = true
		if strings.TrimSpace(u.Name) == "" {
			return invalid("users[%d]: name is required", i)
		}
		// GECOS is a colon-separated passwd field.
		if strings.ContainsAny(u.Name+u.Comment, ":\n") {
			return invalid("users[%d]: name and comment must not contain ':' or newlines", i)
		}
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: policy: %w", ErrInvalidConfig, err)
	}
	if c.Aging.AccountExpire == "" {
		return invalid("aging.account_expire is required")
	}
	if c.SSH.Timeout < 0 {
		return invalid("ssh.timeout must not be negative")
	}
	return nil
}

// Find returns the roster entry for username.
func (c Config) Find(username string) (User, bool) {
	for _, u := range c.Users {
		if u.Username == username {
			return u, true
		}
	}
	return User{}, false
}
