package common

import (
	"crypto/rand"
	"encoding/hex"
)

// MakeRandHexString returns size random bytes encoded as hex, so the result
// is 2*size characters long.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateRandByteArray returns size random bytes. crypto/rand.Read never
// fails on supported platforms, so the error is not surfaced.
func GenerateRandByteArray(size int) []byte {
	b := make([]byte, size)
	_, _ = rand.Read(b)
	return b
}

// WipeByteArray zeroes b in place. Used for passwords read from a terminal.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// MustRandHex is MakeRandHexString for callers that cannot handle an error
// from the system random source.
func MustRandHex(size int) string {
	s, err := MakeRandHexString(size)
	if err != nil {
		panic(err)
	}
	return s
}
