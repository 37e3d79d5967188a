package pwgen

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrInvalidPolicy     = errors.New("invalid password policy")
	ErrGenerationTimeout = errors.New("password generation exceeded retry budget")
	ErrPolicyViolation   = errors.New("password does not satisfy policy")
)

const (
	upperChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars = "abcdefghijklmnopqrstuvwxyz"
	digitChars = "0123456789"

	DefaultMaxAttempts = 10000
)

// Policy is the complexity rule set for generated passwords.
// It is a plain value; copies are independent.
type Policy struct {
	Length      int    `yaml:"length"`
	MinUpper    int    `yaml:"min_upper"`
	MinLower    int    `yaml:"min_lower"`
	MinDigits   int    `yaml:"min_digits"`
	MinSpecial  int    `yaml:"min_special"`
	Specials    string `yaml:"specials"`
	Exclude     string `yaml:"exclude"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// DefaultPolicy returns 13 characters with 4 upper, 3 lower, 3 digits and
// 3 specials, avoiding characters that are easy to misread.
func DefaultPolicy() Policy {
	return Policy{
		Length:      13,
		MinUpper:    4,
		MinLower:    3,
		MinDigits:   3,
		MinSpecial:  3,
		Specials:    "!@#$&*",
		Exclude:     "oOIl0",
		MaxAttempts: DefaultMaxAttempts,
	}
}

type class int

const (
	classUpper class = iota
	classLower
	classDigit
	classSpecial
	numClasses
)

func (c class) String() string {
	switch c {
	case classUpper:
		return "uppercase"
	case classLower:
		return "lowercase"
	case classDigit:
		return "digit"
	case classSpecial:
		return "special"
	}
	return "unknown"
}

// alphabet is a policy compiled into per-class character sets.
type alphabet struct {
	classes  [numClasses][]rune
	mins     [numClasses]int
	combined []rune
	member   map[rune]class
}

func (p Policy) minSum() int {
	return p.MinUpper + p.MinLower + p.MinDigits + p.MinSpecial
}

func (p Policy) attempts() int {
	if p.MaxAttempts == 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidPolicy, fmt.Sprintf(format, args...))
}

// Validate reports configuration errors. It never samples.
func (p Policy) Validate() error {
	_, err := p.compile()
	return err
}

func (p Policy) compile() (*alphabet, error) {
	if p.Length <= 0 {
		return nil, invalid("length must be positive, got %d", p.Length)
	}
	if p.MaxAttempts < 0 {
		return nil, invalid("max_attempts must not be negative, got %d", p.MaxAttempts)
	}
	for _, m := range []struct {
		name string
		v    int
	}{
		{"min_upper", p.MinUpper},
		{"min_lower", p.MinLower},
		{"min_digits", p.MinDigits},
		{"min_special", p.MinSpecial},
	} {
		if m.v < 0 {
			return nil, invalid("%s must not be negative, got %d", m.name, m.v)
		}
	}
	if sum := p.minSum(); sum > p.Length {
		return nil, invalid("class minimums sum to %d, more than length %d", sum, p.Length)
	}
	for _, r := range p.Specials {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return nil, invalid("special character %q is a letter or digit", r)
		}
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == unicode.ReplacementChar {
			return nil, invalid("special character %q is not printable", r)
		}
	}

	a := &alphabet{member: map[rune]class{}}
	a.mins = [numClasses]int{p.MinUpper, p.MinLower, p.MinDigits, p.MinSpecial}
	sources := [numClasses]string{upperChars, lowerChars, digitChars, p.Specials}
	for c, src := range sources {
		for _, r := range src {
			if strings.ContainsRune(p.Exclude, r) {
				continue
			}
			if _, dup := a.member[r]; dup {
				continue
			}
			a.member[r] = class(c)
			a.classes[c] = append(a.classes[c], r)
			a.combined = append(a.combined, r)
		}
	}
	for c := class(0); c < numClasses; c++ {
		if a.mins[c] > 0 && len(a.classes[c]) == 0 {
			return nil, invalid("%s class is required but empty after exclusions", c)
		}
	}
	if len(a.combined) == 0 {
		return nil, invalid("no characters left after exclusions")
	}
	return a, nil
}

// Check verifies pw against the policy.
func (p Policy) Check(pw string) error {
	a, err := p.compile()
	if err != nil {
		return err
	}
	return a.check([]rune(pw), p.Length)
}

func (a *alphabet) check(pw []rune, length int) error {
	if len(pw) != length {
		return fmt.Errorf("%w: length %d, want %d", ErrPolicyViolation, len(pw), length)
	}
	var counts [numClasses]int
	for _, r := range pw {
		c, ok := a.member[r]
		if !ok {
			return fmt.Errorf("%w: character %q not allowed", ErrPolicyViolation, r)
		}
		counts[c]++
	}
	for c := class(0); c < numClasses; c++ {
		if counts[c] < a.mins[c] {
			return fmt.Errorf("%w: %d %s characters, want at least %d", ErrPolicyViolation, counts[c], c, a.mins[c])
		}
	}
	return nil
}
