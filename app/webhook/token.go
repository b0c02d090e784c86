package webhook

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const TokenLength = 32

// GenerateToken returns a random alphanumeric auth token.
func GenerateToken() (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	buf := make([]byte, TokenLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return string(buf), nil
}
