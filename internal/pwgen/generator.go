package pwgen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// Generator produces passwords for a Policy. The zero value draws from
// crypto/rand and is safe for concurrent use.
type Generator struct {
	// Rand overrides the entropy source. It must be cryptographically
	// secure outside of tests.
	Rand io.Reader
}

// Generate returns a password satisfying p using crypto/rand.
func Generate(p Policy) (string, error) {
	var g Generator
	return g.Generate(p)
}

// Generate validates p and returns a password satisfying it.
//
// When the class minimums leave slack, candidates are drawn uniformly from
// the combined alphabet and rejected until one passes Check, at most
// p.MaxAttempts times. When the minimums fill the whole length, the
// password is constructed from a random permutation of class slots, which
// gives the same distribution without retries.
func (g *Generator) Generate(p Policy) (string, error) {
	a, err := p.compile()
	if err != nil {
		return "", err
	}
	if p.minSum() == p.Length {
		return g.construct(a, p.Length)
	}
	pw, err := g.sample(a, p.Length, p.attempts())
	if errors.Is(err, ErrGenerationTimeout) {
		return "", fmt.Errorf("%w (minimums take %d of %d characters; leave more slack or make them equal to the length)",
			err, p.minSum(), p.Length)
	}
	return pw, err
}

func (g *Generator) sample(a *alphabet, length, attempts int) (string, error) {
	buf := make([]rune, length)
	defer wipe(buf)
	for i := 0; i < attempts; i++ {
		for j := range buf {
			r, err := g.pick(a.combined)
			if err != nil {
				return "", err
			}
			buf[j] = r
		}
		if a.check(buf, length) == nil {
			return string(buf), nil
		}
	}
	return "", fmt.Errorf("%w: no valid candidate in %d attempts", ErrGenerationTimeout, attempts)
}

func (g *Generator) construct(a *alphabet, length int) (string, error) {
	slots := make([]class, 0, length)
	for c := class(0); c < numClasses; c++ {
		for i := 0; i < a.mins[c]; i++ {
			slots = append(slots, c)
		}
	}
	for i := len(slots) - 1; i > 0; i-- {
		j, err := g.intn(i + 1)
		if err != nil {
			return "", err
		}
		slots[i], slots[j] = slots[j], slots[i]
	}
	buf := make([]rune, length)
	defer wipe(buf)
	for i, c := range slots {
		r, err := g.pick(a.classes[c])
		if err != nil {
			return "", err
		}
		buf[i] = r
	}
	if err := a.check(buf, length); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (g *Generator) pick(set []rune) (rune, error) {
	i, err := g.intn(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func (g *Generator) intn(n int) (int, error) {
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}
	b, err := rand.Int(src, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(b.Int64()), nil
}

func wipe(buf []rune) {
	for i := range buf {
		buf[i] = 0
	}
}
