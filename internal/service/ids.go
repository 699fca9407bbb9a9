package service

import (
	"crypto/rand"
	"fmt"
)

const (
	shareTokenLength = 32
	tokenAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// largest multiple of len(tokenAlphabet) below 256
	tokenByteCeil = 248
)

func newShareToken() (string, error) {
	out := make([]byte, 0, shareTokenLength)
	buf := make([]byte, shareTokenLength*2)
	for len(out) < shareTokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if b >= tokenByteCeil {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == shareTokenLength {
				break
			}
		}
	}
	return string(out), nil
}

// IsValidShareToken checks the token shape only. Tokens carry no structure.
func IsValidShareToken(token string) bool {
	if len(token) != shareTokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
