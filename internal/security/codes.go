package security

import "golang.org/x/crypto/bcrypt"

// unlockCodeCost is the bcrypt work factor for stored unlock codes.
const unlockCodeCost = bcrypt.DefaultCost

// HashUnlockCode hashes a plaintext unlock code for storage on the card row.
func HashUnlockCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), unlockCodeCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckUnlockCode compares a stored hash with a submitted code.
func CheckUnlockCode(hash, code string) bool {
	if hash == "" || code == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
