package core

import "math/rand/v2"

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const passwordLength = 20

// GeneratePassword returns a 20-character password drawn from [A-Za-z0-9].
// This identifies a worker connection to the master; it is not a
// cryptographic secret, so a fast, non-crypto random source is sufficient.
func GeneratePassword() string {
	b := make([]byte, passwordLength)
	for i := range b {
		//nolint:gosec // G404: non-crypto randomness is fine for a worker identity token.
		b[i] = passwordAlphabet[rand.IntN(len(passwordAlphabet))]
	}
	return string(b)
}
