package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

const otpLength = 6

var otpSpace = big.NewInt(1_000_000)

// generateOTPCode returns a uniformly random 6-digit code; leading zeros are kept.
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpLength, n.Int64()), nil
}

// hashOTPHex returns SHA-256(phone:code:salt) as hex for DB storage
func hashOTPHex(phone, code, salt string) string {
	return hex.EncodeToString(hashOTPBytes(phone, code, salt))
}

func hashOTPBytes(phone, code, salt string) []byte {
	data := fmt.Sprintf("%s:%s:%s", phone, code, salt)
	hash := sha256.Sum256([]byte(data))
	return hash[:]
}

func constantTimeCompare(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
