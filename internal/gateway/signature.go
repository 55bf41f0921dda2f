package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrSignatureInvalid: konfirmasi pembayaran tidak cocok dengan shared secret.
// Fail closed: order dibiarkan awaiting_payment, boleh dicoba lagi.
var ErrSignatureInvalid = errors.New("payment signature invalid")

func sign(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignPayment: HMAC-SHA256(secret, "{gatewayOrderID}|{paymentID}") hex.
// Dipakai juga oleh test & simulator gateway.
func SignPayment(secret, gatewayOrderID, paymentID string) string {
	return sign(secret, []byte(gatewayOrderID+"|"+paymentID))
}

func VerifyPaymentSignature(secret, gatewayOrderID, paymentID, signature string) bool {
	expected := SignPayment(secret, gatewayOrderID, paymentID)
	// constant-time, anti timing leak
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignWebhook: HMAC-SHA256(secret, rawPayload) hex; dibandingkan dengan header.
func SignWebhook(secret string, payload []byte) string {
	return sign(secret, payload)
}

func VerifyWebhookSignature(secret string, payload []byte, signature string) bool {
	expected := SignWebhook(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
