package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	idLength    = 8
	tokenLength = 48
	alphabets   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func GenerateRandomString(length int) (string, error) {
	id := make([]byte, length)

	for i := range length {
		char, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabets))))
		if err != nil {
			return "", err
		}
		id[i] = alphabets[char.Int64()]
	}

	return string(id), nil
}

func GenerateID() (string, error) {
	return GenerateRandomString(idLength)
}

// GenerateToken returns an opaque session token
func GenerateToken() (string, error) {
	return GenerateRandomString(tokenLength)
}

// MaskSecret keeps the first n characters of a secret for log output
func MaskSecret(secret string, n int) string {
	if len(secret) <= n {
		return "***"
	}
	return secret[:n] + "***"
}

// SplitList splits a comma separated value, dropping blanks
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
