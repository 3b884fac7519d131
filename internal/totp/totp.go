// Package totp generates time-step one-time codes (HMAC-SHA1, 30 second step,
// 6 digits) from raw secret bytes.
package totp

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

const (
	// Period is the time step in seconds
	Period = 30
	// Digits is the code length
	Digits = 6
)

// ErrEmptySecret is returned when no key material is supplied
var ErrEmptySecret = errors.New("totp: empty secret")

var opts = hotp.ValidateOpts{
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Counter returns floor(epochSeconds / Period)
func Counter(epochSeconds int64) uint64 {
	step := epochSeconds / Period
	if epochSeconds < 0 && epochSeconds%Period != 0 {
		step--
	}
	return uint64(step)
}

// Generate returns the code for a hex-encoded secret at epochSeconds
func Generate(secretHex string, epochSeconds int64) (string, error) {
	key, err := hex.DecodeString(secretHex)
	if err != nil {
		return "", fmt.Errorf("totp: decode secret: %w", err)
	}
	return GenerateBytes(key, epochSeconds)
}

// GenerateBytes returns the code for raw key bytes at epochSeconds
func GenerateBytes(key []byte, epochSeconds int64) (string, error) {
	if len(key) == 0 {
		return "", ErrEmptySecret
	}

	// hotp takes the key as base32 text
	encoded := base32.StdEncoding.EncodeToString(key)

	code, err := hotp.GenerateCodeCustom(encoded, Counter(epochSeconds), opts)
	if err != nil {
		return "", fmt.Errorf("totp: generate: %w", err)
	}
	return code, nil
}
