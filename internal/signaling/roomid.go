package signaling

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultRoomIDLength gives 36^4 (about 1.7M) identifiers.
	DefaultRoomIDLength = 4

	// attemptsPerLength is how many collisions CreateRoom tolerates before
	// it grows the identifier by one character.
	attemptsPerLength = 16
)

// randomRoomID returns n characters drawn uniformly from roomIDAlphabet.
func randomRoomID(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(roomIDAlphabet[randomIndex(len(roomIDAlphabet))])
	}
	return b.String()
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("signaling: failed to generate random index: " + err.Error())
	}
	return int(n.Int64())
}

// NormalizeRoomID accepts what a user is likely to paste: the bare id in any
// case, or a link ending in /r/<id>.
func NormalizeRoomID(input string) string {
	id := strings.TrimSpace(input)
	if i := strings.LastIndex(id, "/r/"); i >= 0 {
		id = id[i+len("/r/"):]
	}
	id = strings.Trim(id, "/")
	if i := strings.IndexAny(id, "?#"); i >= 0 {
		id = id[:i]
	}
	return strings.ToUpper(id)
}
