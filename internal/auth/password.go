package auth

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/GehirnInc/crypt"
	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/GehirnInc/crypt/sha256_crypt"
	"github.com/GehirnInc/crypt/sha512_crypt"
	"github.com/sethvargo/go-password/password"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserLocked         = errors.New("user is locked")
	ErrUnsupportedHash    = errors.New("unsupported password hash")
)

const (
	sha512Prefix = "$6$"
	saltLength   = 16

	// crypt(3) salt alphabet is [./0-9A-Za-z]
	saltLower   = "abcdefghijklmnopqrstuvwxyz"
	saltUpper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	saltDigits  = "0123456789"
	saltSymbols = "./"
)

// Hasher turns plaintext passwords into SHA-512 crypt strings.
type Hasher struct {
	salts *password.Generator
}

// NewHasher returns a Hasher drawing salts from r, or crypto/rand when r is nil.
func NewHasher(r io.Reader) (*Hasher, error) {
	g, err := password.NewGenerator(&password.GeneratorInput{
		LowerLetters: saltLower,
		UpperLetters: saltUpper,
		Digits:       saltDigits,
		Symbols:      saltSymbols,
		Reader:       r,
	})
	if err != nil {
		return nil, err
	}
	return &Hasher{salts: g}, nil
}

// Salt returns a new random salt of the crypt alphabet.
func (h *Hasher) Salt() (string, error) {
	return h.salts.Generate(saltLength, 4, 2, false, true)
}

// HashPassword returns a $6$ crypt string for pw using a fresh salt.
func (h *Hasher) HashPassword(pw string) (string, error) {
	salt, err := h.Salt()
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return HashWithSalt(pw, salt)
}

// HashWithSalt hashes pw with the given salt (without the $6$ prefix).
func HashWithSalt(pw, salt string) (string, error) {
	if salt == "" {
		return "", errors.New("empty salt")
	}
	return sha512_crypt.New().Generate([]byte(pw), []byte(sha512Prefix+salt))
}

// VerifyPassword checks pw against a shadow-style hash.
func VerifyPassword(hash, pw string) error {
	if hash == "" || strings.HasPrefix(hash, "!") || strings.HasPrefix(hash, "*") {
		return ErrUserLocked
	}
	ok, err := verifyCrypt(hash, pw)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}

func verifyCrypt(hash, pw string) (bool, error) {
	// $1$ (md5-crypt), $5$ (sha256-crypt), $6$ (sha512-crypt).
	// yescrypt ($y$) and bcrypt are not supported.
	crypters := []crypt.Crypter{
		sha512_crypt.New(),
		sha256_crypt.New(),
		md5_crypt.New(),
	}
	for _, c := range crypters {
		if err := c.Verify(hash, []byte(pw)); err == nil {
			return true, nil
		}
	}
	if strings.HasPrefix(hash, "$y$") || strings.HasPrefix(hash, "$7$") || strings.HasPrefix(hash, "$2") {
		return false, ErrUnsupportedHash
	}
	return false, nil
}

// HumanAuthError renders err for operator-facing output.
func HumanAuthError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Password does not match the stored hash."
	case errors.Is(err, ErrUserLocked):
		return "This account is locked."
	case errors.Is(err, ErrUnsupportedHash):
		return "This host uses an uncommon password hash format."
	default:
		return fmt.Sprintf("Verification failed: %v", err)
	}
}
