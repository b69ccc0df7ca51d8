// Package secret generates the opaque bearer tokens that authorize joining a
// protected game and reconnecting to a player.
package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
)

// DefaultLength is the length of game and player secrets.
const DefaultLength = 64

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var alphabetSize = big.NewInt(int64(len(alphabet)))

// Generate returns a string of length characters drawn uniformly and
// independently from [A-Za-z0-9]. A non-positive length yields "".
func Generate(length int) string {
	if length <= 0 {
		return ""
	}
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is unusable.
			panic("secret: read random: " + err.Error())
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out)
}

// Equal reports whether candidate matches expected without leaking the
// position of the first mismatch through timing.
func Equal(expected, candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1
}
