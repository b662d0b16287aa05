package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// CodeGenerator produces one-time codes. The service depends on this
// interface so tests can pin the code.
type CodeGenerator interface {
	Generate(length int) (string, error)
}

// RandomCodes generates uppercase hexadecimal codes from crypto/rand.
type RandomCodes struct{}

// Generate reads length random bytes, hex-encodes them and keeps the first
// length characters, uppercased. The result uses the alphabet [0-9A-F].
func (RandomCodes) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("otp length must be positive")
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}

	return strings.ToUpper(hex.EncodeToString(buf)[:length]), nil
}
