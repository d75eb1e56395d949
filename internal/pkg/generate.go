package pkg

import (
	"crypto/rand"
	"fmt"
)

const (
	gameIDLength = 8

	// 64 symbols, so every byte masked to 6 bits maps to exactly one symbol.
	gameIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
)

// GenerateGameID returns a random URL-safe game id carrying 48 bits of entropy.
func GenerateGameID() (string, error) {
	buf := make([]byte, gameIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	for i, b := range buf {
		buf[i] = gameIDAlphabet[b&63]
	}

	return string(buf), nil
}
