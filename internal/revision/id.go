package revision

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// idLen is the fixed length of an encoded revision id (spec.md §4 "22-char
// base57 unique id").
const idLen = 22

// base57Alphabet omits the lowercase letter 'o' from base58, on top of
// base58's own omission of '0', 'O', 'I' and 'l', leaving no digit/letter pair
// that is visually ambiguous in a terminal or a log line.
const base57Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz"

var base57Base = big.NewInt(int64(len(base57Alphabet)))

// NewID generates a fresh revision id: a UUIDv7 (time-ordered, so ids sort
// roughly by creation order) re-encoded in base57 and left-padded to 22
// characters.
func NewID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("revision: generate uuid: %w", err)
	}
	return encodeBase57(u[:]), nil
}

func encodeBase57(raw []byte) string {
	n := new(big.Int).SetBytes(raw)
	if n.Sign() == 0 {
		return string(base57Alphabet[0]) + zeroPad(idLen-1)
	}

	var digits []byte
	mod := new(big.Int)
	for n.Sign() > 0 {
		n.DivMod(n, base57Base, mod)
		digits = append(digits, base57Alphabet[mod.Int64()])
	}
	// digits were produced least-significant first; reverse in place.
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	if len(digits) < idLen {
		return zeroPad(idLen-len(digits)) + string(digits)
	}
	return string(digits)
}

func zeroPad(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = base57Alphabet[0]
	}
	return string(b)
}

// ValidID reports whether s has the shape of an id produced by NewID: 22
// characters, all drawn from base57Alphabet.
func ValidID(s string) bool {
	if len(s) != idLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if indexInAlphabet(s[i]) < 0 {
			return false
		}
	}
	return true
}

func indexInAlphabet(c byte) int {
	for i := 0; i < len(base57Alphabet); i++ {
		if base57Alphabet[i] == c {
			return i
		}
	}
	return -1
}
