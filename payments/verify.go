package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Hmac256 generates the hex HMAC-SHA256 digest the gateway signs webhook
// bodies with.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// VerifySignature checks a webhook body against the signature header using
// the shared HMAC key. Comparison is constant time.
func VerifySignature(body []byte, key []byte, receivedHMAC string) bool {
	expected := Hmac256(body, key)
	return hmac.Equal([]byte(receivedHMAC), []byte(expected))
}

// GenerateKeyHash derives the stored hash for a gateway's shared API key.
func GenerateKeyHash(key []byte) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(key, bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CompareKeyHash checks a presented API key against the stored hash.
func CompareKeyHash(storedHash, presented []byte) bool {
	return bcrypt.CompareHashAndPassword(storedHash, presented) == nil
}
