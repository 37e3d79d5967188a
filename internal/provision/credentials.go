package provision

import (
	"github.com/hnrobert/lumprov/internal/config"
	"github.com/hnrobert/lumprov/internal/pwgen"
)

// PasswordSource produces passwords for a policy. *pwgen.Generator
// implements it.
type PasswordSource interface {
	Generate(p pwgen.Policy) (string, error)
}

// Credential is the generated password of one user, or the reason there
// is none.
type Credential struct {
	Username string
	Password string
	Err      error
}

// Credentials maps username to its credential for one run. It is built
// before any host is touched and only read afterwards.
type Credentials map[string]Credential

// GenerateCredentials creates one credential per roster user. A failure is
// recorded on that user's entry and does not affect the others.
func GenerateCredentials(src PasswordSource, p pwgen.Policy, users []config.User) Credentials {
	creds := make(Credentials, len(users))
	for _, u := range users {
		creds[u.Username] = newCredential(src, p, u.Username)
	}
	return creds
}

func newCredential(src PasswordSource, p pwgen.Policy, username string) Credential {
	pw, err := src.Generate(p)
	if err != nil {
		return Credential{Username: username, Err: err}
	}
	return Credential{Username: username, Password: pw}
}
