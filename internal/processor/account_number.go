package processor

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

// AccountNumberGenerator returns a new public account number.
type AccountNumberGenerator func() (string, error)

var accountNumberSpan = big.NewInt(9_000_000_000)

// RandomAccountNumber returns a 10-digit number whose first digit is 1-9.
func RandomAccountNumber() (string, error) {
	n, err := rand.Int(rand.Reader, accountNumberSpan)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+1_000_000_000, 10), nil
}
