// Package pwgen generates random passwords that satisfy a character-class
// complexity policy.
//
// Every returned password has exactly Policy.Length characters, meets each
// class minimum, and contains no excluded character. A policy that cannot
// be satisfied is rejected with ErrInvalidPolicy before any randomness is
// consumed.
package pwgen
