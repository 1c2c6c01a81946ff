package wompi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// IntegritySignature is the hash the gateway re-verifies on transaction
// creation. Field order and formatting must match the gateway's own
// computation exactly: reference, amount in cents, currency, secret,
// concatenated with no separators.
func IntegritySignature(reference string, amountInCents int64, currency, secret string) string {
	h := sha256.New()
	h.Write([]byte(reference))
	h.Write([]byte(strconv.FormatInt(amountInCents, 10)))
	h.Write([]byte(currency))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// SignEvent computes the webhook signature over the raw, unparsed body bytes
// as delivered on the wire.
func SignEvent(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyEvent compares in constant time.
func VerifyEvent(rawBody []byte, signature, secret string) bool {
	expected := SignEvent(rawBody, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
