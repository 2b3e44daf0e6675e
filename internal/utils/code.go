package utils

import (
	"crypto/rand"
	"math/big"
)

// codeAlphabet omits 0/O and 1/I so codes survive being read aloud or
// typed from a phone screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewReservationCode returns a random code of n characters drawn from
// codeAlphabet using crypto/rand.
func NewReservationCode(n int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		k, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[k.Int64()]
	}
	return string(buf), nil
}
