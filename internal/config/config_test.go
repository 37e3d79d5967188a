package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/lumprov/internal/pwgen"
)

const roster = `
hosts: [server1, server2]
groups: [group1, group2]
users:
  - {name: First Last1, comment: Comment, username: username1}
  - {name: First Last2, comment: Comment, username: username2}
policy:
  length: 16
ssh:
  user: admin
  port: 2222
  timeout: 3s
  sudo: false
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(roster))
	require.NoError(t, err)

	assert.Equal(t, []string{"server1", "server2"}, cfg.Hosts)
	assert.Equal(t, []string{"group1", "group2"}, cfg.Groups)
	require.Len(t, cfg.Users, 2)
	assert.Equal(t, User{Name: "First Last2", Comment: "Comment", Username: "username2"}, cfg.Users[1])

	// unspecified policy keys keep their defaults
	want := pwgen.DefaultPolicy()
	want.Length = 16
	assert.Equal(t, want, cfg.Policy)

	assert.Equal(t, "admin", cfg.SSH.User)
	assert.Equal(t, 2222, cfg.SSH.Port)
	assert.Equal(t, 3*time.Second, cfg.SSH.Timeout)
	assert.True(t, cfg.SSH.UseAgent)
	assert.False(t, cfg.SSH.Sudo)
	assert.True(t, cfg.SharedPassword)
	assert.Equal(t, 42, cfg.Aging.MaxDays)

	u, ok := cfg.Find("username1")
	assert.True(t, ok)
	assert.Equal(t, "First Last1", u.Name)
	_, ok = cfg.Find("nobody")
	assert.False(t, ok)
}

func TestParseErrors(t *testing.T) {
	base := "hosts: [h1]\nusers: [{name: N, username: u1}]\n"
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", "", "empty file"},
		{"unknown key", base + "colour: blue\n", "colour"},
		{"no hosts", "users: [{name: N, username: u1}]\n", "no hosts"},
		{"duplicate host", "hosts: [h1, h1]\nusers: [{name: N, username: u1}]\n", "duplicate host"},
		{"no users", "hosts: [h1]\n", "no users"},
		{"bad username", "hosts: [h1]\nusers: [{name: N, username: 'Bad User'}]\n", "bad username"},
		{"duplicate user", "hosts: [h1]\nusers: [{name: N, username: u1}, {name: M, username: u1}]\n", "duplicate username"},
		{"missing name", "hosts: [h1]\nusers: [{username: u1}]\n", "name is required"},
		{"colon in comment", "hosts: [h1]\nusers: [{name: N, comment: 'a:b', username: u1}]\n", "must not contain"},
		{"bad group", base + "groups: ['wheel;rm']\n", "bad group name"},
		{"policy", base + "policy: {length: 5, min_upper: 4, min_lower: 4}\n", "more than length"},
		{"negative timeout", base + "ssh: {timeout: -1s}\n", "ssh.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestPolicyErrorIsPolicyError(t *testing.T) {
	_, err := Parse([]byte("hosts: [h1]\nusers: [{name: N, username: u1}]\npolicy: {length: 5, min_upper: 4, min_lower: 4}\n"))
	assert.ErrorIs(t, err, pwgen.ErrInvalidPolicy)
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(p, []byte(roster), 0600))
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Len(t, cfg.Users, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadExampleRoster(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "roster.example.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Hosts, 3)
	assert.Equal(t, pwgen.DefaultPolicy(), cfg.Policy)
	assert.Equal(t, 10*time.Second, cfg.SSH.Timeout)
	assert.Equal(t, []string{"~/.ssh/id_ed25519"}, cfg.SSH.IdentityFiles)
	assert.True(t, cfg.SSH.Sudo)
}
