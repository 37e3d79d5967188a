package auth

// Package auth hashes account passwords into crypt(3) strings accepted by
// usermod --password, and verifies such hashes.
//
// Every hash gets a freshly generated salt.
