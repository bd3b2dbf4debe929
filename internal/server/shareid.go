package server

import (
	"crypto/rand"
	"fmt"
)

// shareIDAlphabet is the alphabet share identifiers are drawn from. Lower
// case keeps the links case-insensitive-friendly when read aloud or typed.
const shareIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// shareIDLength gives log2(36^12) ≈ 62 bits of entropy. The share ID is the
// only access control on an uploaded package, so it must be unguessable.
const shareIDLength = 12

// newShareID mints a random share identifier from a CSPRNG. Rejection
// sampling keeps the distribution over the alphabet uniform.
func newShareID() (string, error) {
	const max = byte(252) // largest multiple of len(shareIDAlphabet) below 256

	id := make([]byte, 0, shareIDLength)
	buf := make([]byte, shareIDLength*2)
	for len(id) < shareIDLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= max {
				continue
			}
			id = append(id, shareIDAlphabet[int(b)%len(shareIDAlphabet)])
			if len(id) == shareIDLength {
				break
			}
		}
	}
	return string(id), nil
}
