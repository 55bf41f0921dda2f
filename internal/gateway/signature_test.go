package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentSignature_RoundTrip(t *testing.T) {
	secret := "whsec_test_123"
	sig := SignPayment(secret, "gw_order_abc", "pay_xyz")
	require.NotEmpty(t, sig)

	assert.True(t, VerifyPaymentSignature(secret, "gw_order_abc", "pay_xyz", sig))
}

func TestPaymentSignature_AnyFieldMutationFails(t *testing.T) {
	secret := "whsec_test_123"
	sig := SignPayment(secret, "gw_order_abc", "pay_xyz")

	// order id berubah satu karakter
	assert.False(t, VerifyPaymentSignature(secret, "gw_order_abd", "pay_xyz", sig))
	// payment id berubah satu karakter
	assert.False(t, VerifyPaymentSignature(secret, "gw_order_abc", "pay_xyy", sig))
	// signature berubah satu karakter
	mutated := []byte(sig)
	if mutated[0] == 'a' {
		mutated[0] = 'b'
	} else {
		mutated[0] = 'a'
	}
	assert.False(t, VerifyPaymentSignature(secret, "gw_order_abc", "pay_xyz", string(mutated)))
	// secret beda
	assert.False(t, VerifyPaymentSignature("other_secret", "gw_order_abc", "pay_xyz", sig))
}

func TestWebhookSignature(t *testing.T) {
	secret := "whsec_test_123"
	payload := []byte(`{"event":"payment.captured","order_id":"o1","payment_id":"p1"}`)

	sig := SignWebhook(secret, payload)
	assert.True(t, VerifyWebhookSignature(secret, payload, sig))

	// payload dimodifikasi satu byte -> tolak
	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] = '2'
	assert.False(t, VerifyWebhookSignature(secret, tampered, sig))
	assert.False(t, VerifyWebhookSignature(secret, payload, ""))
}

func TestClientVerifyDelegates(t *testing.T) {
	c := NewClient("https://api.gateway.test", "key", "secret", 0)
	sig := SignPayment("secret", "gw1", "pay1")
	assert.True(t, c.VerifyPaymentSignature("gw1", "pay1", sig))
	assert.False(t, c.VerifyPaymentSignature("gw1", "pay2", sig))
}
