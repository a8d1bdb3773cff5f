// internal/utils/crypto.go
package utils

import (
	"crypto/rand"
	"math/big"
)

const (
	upperAlnum  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	txRefLength = 12
)

// GenerateTxRef returns prefix followed by 12 uppercase alphanumerics,
// e.g. TX-7K2M9QW4ZP1B.
func GenerateTxRef(prefix string) (string, error) {
	suffix, err := randomFrom(upperAlnum, txRefLength)
	if err != nil {
		return "", err
	}
	return prefix + suffix, nil
}

func randomFrom(charset string, length int) (string, error) {
	b := make([]byte, length)

	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}

	return string(b), nil
}
