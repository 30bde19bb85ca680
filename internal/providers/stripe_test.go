package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradervault/subscription-backend/internal/models"
)

func stripeSign(secret string, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripe_VerifySignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"type":"invoice.paid"}`)
	provider := NewStripe(secret, false)

	t.Run("valid signature", func(t *testing.T) {
		sig := stripeSign(secret, "1700000000", body)
		assert.NoError(t, provider.VerifySignature(body, sig))
	})

	t.Run("wrong secret", func(t *testing.T) {
		sig := stripeSign("whsec_other", "1700000000", body)
		assert.ErrorIs(t, provider.VerifySignature(body, sig), ErrInvalidSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		sig := stripeSign(secret, "1700000000", body)
		assert.ErrorIs(t, provider.VerifySignature([]byte(`{"type":"other"}`), sig), ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		assert.ErrorIs(t, provider.VerifySignature(body, ""), ErrInvalidSignature)
	})

	t.Run("malformed header", func(t *testing.T) {
		assert.ErrorIs(t, provider.VerifySignature(body, "v1only"), ErrInvalidSignature)
	})

	t.Run("skip verify accepts anything", func(t *testing.T) {
		unsigned := NewStripe("", true)
		assert.NoError(t, unsigned.VerifySignature(body, ""))
	})
}

func TestStripe_Normalize(t *testing.T) {
	provider := NewStripe("secret", false)

	t.Run("checkout session completed is activation", func(t *testing.T) {
		body := []byte(`{
			"id": "evt_1",
			"type": "checkout.session.completed",
			"data": {"object": {
				"customer": "cus_123",
				"customer_details": {"email": "Buyer@Example.com"},
				"subscription": "sub_123",
				"metadata": {"plan": "quarterly"}
			}}
		}`)
		ev, err := provider.Normalize(body)
		require.NoError(t, err)
		assert.Equal(t, models.EventActivated, ev.Kind)
		assert.Equal(t, "stripe", ev.Provider)
		assert.Equal(t, "Buyer@Example.com", ev.Email)
		assert.Equal(t, "cus_123", ev.CustomerID)
		assert.Equal(t, "sub_123", ev.SubscriptionID)
		assert.Equal(t, "quarterly", ev.PlanHint)
	})

	t.Run("invoice paid with subscription_create is activation", func(t *testing.T) {
		body := []byte(`{
			"type": "invoice.paid",
			"data": {"object": {
				"customer": "cus_123",
				"customer_email": "buyer@example.com",
				"subscription": "sub_123",
				"billing_reason": "subscription_create",
				"lines": {"data": [{
					"period": {"end": 1735689600},
					"price": {"nickname": "Monthly"}
				}]}
			}}
		}`)
		ev, err := provider.Normalize(body)
		require.NoError(t, err)
		assert.Equal(t, models.EventActivated, ev.Kind)
		assert.Equal(t, "Monthly", ev.PlanHint)
		require.NotNil(t, ev.PeriodEnd)
		assert.Equal(t, time.Unix(1735689600, 0).UTC(), *ev.PeriodEnd)
	})

	t.Run("invoice paid with subscription_cycle is renewal", func(t *testing.T) {
		body := []byte(`{
			"type": "invoice.paid",
			"data": {"object": {
				"customer": "cus_123",
				"subscription": "sub_123",
				"billing_reason": "subscription_cycle"
			}}
		}`)
		ev, err := provider.Normalize(body)
		require.NoError(t, err)
		assert.Equal(t, models.EventRenewed, ev.Kind)
	})

	t.Run("invoice.payment_succeeded is recognized too", func(t *testing.T) {
		body := []byte(`{
			"type": "invoice.payment_succeeded",
			"data": {"object": {"subscription": "sub_123", "billing_reason": "subscription_cycle"}}
		}`)
		ev, err := provider.Normalize(body)
		require.NoError(t, err)
		assert.Equal(t, models.EventRenewed, ev.Kind)
	})

	t.Run("invoice payment failed", func(t *testing.T) {
		body := []byte(`{
			"type": "invoice.payment_failed",
			"data": {"object": {"customer": "cus_123", "subscription": "sub_123"}}
		}`)
		ev, err := provider.Normalize(body)
		require.NoError(t, err)
		assert.Equal(t, models.EventPaymentFailed, ev.Kind)
		assert.Equal(t, "cus_123", ev.CustomerID)
	})

	t.Run("subscription deleted is deactivation", func(t *testing.T) {
		body := []byte(`{
			"type": "customer.subscription.deleted",
			"data": {"object": {"id": "sub_123", "customer": "cus_123"}}
		}`)
		ev, err := provider.Normalize(body)
		require.NoError(t, err)
		assert.Equal(t, models.EventDeactivated, ev.Kind)
		assert.Equal(t, "sub_123", ev.SubscriptionID)
	})

	t.Run("unrecognized event", func(t *testing.T) {
		body := []byte(`{"type": "charge.refunded", "data": {"object": {}}}`)
		_, err := provider.Normalize(body)
		assert.ErrorIs(t, err, ErrUnrecognizedEvent)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := provider.Normalize([]byte(`not json`))
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestStripe_OnDeactivate(t *testing.T) {
	assert.Equal(t, ResetPlan, NewStripe("", false).OnDeactivate())
}
