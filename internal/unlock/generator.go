package unlock

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// CodeGenerator produces one-time unlock codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// HOTPGenerator derives a six-digit HOTP code from a fresh random secret and counter per call.
type HOTPGenerator struct{}

// Generate returns a zero-padded six-digit code.
func (HOTPGenerator) Generate() (string, error) {
	var seed [28]byte
	if _, errRead := rand.Read(seed[:]); errRead != nil {
		return "", fmt.Errorf("unlock: read random seed: %w", errRead)
	}
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(seed[:20])
	counter := binary.BigEndian.Uint64(seed[20:])
	code, errCode := hotp.GenerateCodeCustom(secret, counter, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if errCode != nil {
		return "", fmt.Errorf("unlock: generate code: %w", errCode)
	}
	return code, nil
}

// ValidCodeFormat reports whether code is exactly six ASCII digits.
func ValidCodeFormat(code string) bool {
	if len(code) != int(otp.DigitsSix) {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
