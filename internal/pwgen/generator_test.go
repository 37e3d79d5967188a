package pwgen

import (
	"errors"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy source closed")
}

func countClasses(pw, specials string) (upper, lower, digit, special int) {
	for _, r := range pw {
		switch {
		case r >= 'A' && r <= 'Z':
			upper++
		case r >= 'a' && r <= 'z':
			lower++
		case unicode.IsDigit(r):
			digit++
		case strings.ContainsRune(specials, r):
			special++
		}
	}
	return
}

func assertSatisfies(t *testing.T, p Policy, pw string) {
	t.Helper()
	assert.Len(t, []rune(pw), p.Length)
	upper, lower, digit, special := countClasses(pw, p.Specials)
	assert.GreaterOrEqual(t, upper, p.MinUpper, pw)
	assert.GreaterOrEqual(t, lower, p.MinLower, pw)
	assert.GreaterOrEqual(t, digit, p.MinDigits, pw)
	assert.GreaterOrEqual(t, special, p.MinSpecial, pw)
	assert.Equal(t, p.Length, upper+lower+digit+special, "unexpected character in %q", pw)
	assert.False(t, strings.ContainsAny(pw, p.Exclude), "excluded character in %q", pw)
}

func TestGenerateDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	for i := 0; i < 10000; i++ {
		pw, err := Generate(p)
		require.NoError(t, err)
		assertSatisfies(t, p, pw)
		if t.Failed() {
			return
		}
	}
}

// Every position must be equally likely to hold an uppercase letter, for
// both the constructed and the sampled path.
func TestGenerateHasNoPositionBias(t *testing.T) {
	slack := DefaultPolicy()
	slack.Length = 16
	for name, p := range map[string]Policy{
		"exact minimums": DefaultPolicy(),
		"with slack":     slack,
	} {
		t.Run(name, func(t *testing.T) {
			const n = 10000
			upperAt := make([]int, p.Length)
			total := 0
			for i := 0; i < n; i++ {
				pw, err := Generate(p)
				require.NoError(t, err)
				assertSatisfies(t, p, pw)
				if t.Failed() {
					return
				}
				for j, r := range []rune(pw) {
					if unicode.IsUpper(r) {
						upperAt[j]++
						total++
					}
				}
			}
			mean := float64(total) / float64(n*p.Length)
			if p.minSum() == p.Length {
				assert.InDelta(t, float64(p.MinUpper)/float64(p.Length), mean, 1e-9)
			}
			for j, c := range upperAt {
				assert.InDelta(t, mean, float64(c)/n, 0.03, "position %d", j)
			}
		})
	}
}

func TestGenerateNearlyFullMinimumsTimesOut(t *testing.T) {
	p := Policy{
		Length:      40,
		MinUpper:    10,
		MinLower:    10,
		MinDigits:   10,
		MinSpecial:  9,
		Specials:    "!@#$&*",
		Exclude:     "oOIl0",
		MaxAttempts: 100,
	}
	require.NoError(t, p.Validate())
	_, err := Generate(p)
	assert.ErrorIs(t, err, ErrGenerationTimeout)
	assert.ErrorContains(t, err, "minimums take 39 of 40 characters")
}

func TestGenerateWithSlack(t *testing.T) {
	p := Policy{
		Length:     20,
		MinUpper:   2,
		MinLower:   2,
		MinDigits:  2,
		MinSpecial: 2,
		Specials:   "!@#$&*",
		Exclude:    "oOIl0",
	}
	for i := 0; i < 2000; i++ {
		pw, err := Generate(p)
		require.NoError(t, err)
		assertSatisfies(t, p, pw)
	}
}

func TestGenerateNoMinimums(t *testing.T) {
	p := Policy{Length: 8, Specials: "-"}
	pw, err := Generate(p)
	require.NoError(t, err)
	assert.Len(t, pw, 8)
	assert.NoError(t, p.Check(pw))
}

func TestGenerateExactMinimumsWithRejectionBudget(t *testing.T) {
	// minimum sum equals length; the retry budget must not matter
	p := DefaultPolicy()
	p.MaxAttempts = 1
	for i := 0; i < 1000; i++ {
		pw, err := Generate(p)
		require.NoError(t, err)
		assertSatisfies(t, p, pw)
	}
}

func TestGenerateSingleClassBoundary(t *testing.T) {
	p := Policy{Length: 6, MinDigits: 6, Exclude: "0"}
	pw, err := Generate(p)
	require.NoError(t, err)
	assert.Len(t, pw, 6)
	assert.NotContains(t, pw, "0")
	for _, r := range pw {
		assert.True(t, unicode.IsDigit(r))
	}
}

func TestGenerateProducesDistinctPasswords(t *testing.T) {
	const n = 200
	p := DefaultPolicy()
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		pw, err := Generate(p)
		require.NoError(t, err)
		seen[pw] = struct{}{}
	}
	assert.Greater(t, len(seen), n/2)
}

func TestGenerateRejectsInconsistentPolicyBeforeSampling(t *testing.T) {
	p := Policy{Length: 5, MinUpper: 4, MinLower: 4}
	g := Generator{Rand: failingReader{}}
	_, err := g.Generate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestGenerateTimeout(t *testing.T) {
	// an all-zero source always draws the first alphabet character
	p := Policy{Length: 10, MinUpper: 1, MinLower: 1, MaxAttempts: 50}
	g := Generator{Rand: zeroReader{}}
	_, err := g.Generate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationTimeout)
	assert.NotErrorIs(t, err, ErrInvalidPolicy)
}

func TestGenerateDeterministicSourceStillValid(t *testing.T) {
	g := Generator{Rand: zeroReader{}}
	p := DefaultPolicy()
	pw, err := g.Generate(p)
	require.NoError(t, err)
	assertSatisfies(t, p, pw)
}

func TestGenerateEntropyFailure(t *testing.T) {
	g := Generator{Rand: failingReader{}}
	_, err := g.Generate(DefaultPolicy())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entropy source closed")
	assert.NotErrorIs(t, err, ErrGenerationTimeout)
}
