package stripe

import (
	"context"
	"fmt"
	"testing"
	"time"

	paymentdomain "github.com/cvforge/creditengine/internal/payment/domain"
	subscriptiondomain "github.com/cvforge/creditengine/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func TestVerify(t *testing.T) {
	adapter := NewAdapter(testSecret, "")
	ctx := context.Background()
	payload := []byte(`{"id":"evt_1","type":"ping"}`)

	valid := SignPayload(payload, testSecret, time.Now())
	assert.NoError(t, adapter.Verify(ctx, payload, valid))

	wrongSecret := SignPayload(payload, "whsec_other", time.Now())
	assert.ErrorIs(t, adapter.Verify(ctx, payload, wrongSecret), paymentdomain.ErrInvalidSignature)

	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] = 'x'
	assert.ErrorIs(t, adapter.Verify(ctx, tampered, valid), paymentdomain.ErrInvalidSignature)

	assert.ErrorIs(t, adapter.Verify(ctx, payload, ""), paymentdomain.ErrInvalidSignature)
	assert.ErrorIs(t, adapter.Verify(ctx, payload, "garbage"), paymentdomain.ErrInvalidSignature)
}

func TestParseCheckoutCompleted(t *testing.T) {
	adapter := NewAdapter(testSecret, "")
	ctx := context.Background()

	payload := []byte(`{
		"id": "evt_checkout_1",
		"type": "checkout.session.completed",
		"created": 1756700000,
		"data": {"object": {
			"id": "cs_1",
			"mode": "payment",
			"payment_status": "paid",
			"client_reference_id": "7242838383742",
			"amount_total": 500,
			"currency": "usd",
			"metadata": {"price_id": "price_starter"}
		}}
	}`)

	event, err := adapter.Parse(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, "stripe", event.Provider)
	assert.Equal(t, "evt_checkout_1", event.ProviderEventID)
	assert.Equal(t, paymentdomain.EventTypeCheckoutCompleted, event.Type)
	require.NotNil(t, event.Checkout)
	assert.Equal(t, "cs_1", event.Checkout.SessionID)
	assert.Equal(t, int64(7242838383742), int64(event.Checkout.UserID))
	assert.Equal(t, "price_starter", event.Checkout.ExternalPriceID)
	assert.Equal(t, int64(500), event.Checkout.AmountTotal)
	assert.Equal(t, "USD", event.Checkout.Currency)
}

func TestParseCheckoutIgnoresSubscriptionMode(t *testing.T) {
	adapter := NewAdapter(testSecret, "")

	payload := []byte(`{
		"id": "evt_checkout_2",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_2", "mode": "subscription", "payment_status": "paid"}}
	}`)

	_, err := adapter.Parse(context.Background(), payload)
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
}

func TestParseSubscriptionUpdated(t *testing.T) {
	adapter := NewAdapter(testSecret, "")

	payload := []byte(`{
		"id": "evt_sub_1",
		"type": "customer.subscription.updated",
		"created": 1756700100,
		"data": {"object": {
			"id": "sub_1",
			"status": "active",
			"current_period_start": 1756000000,
			"current_period_end": 1758678400,
			"cancel_at_period_end": false,
			"metadata": {"user_id": "7242838383742"},
			"items": {"data": [{"price": {"id": "price_pro_monthly"}}]}
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypeSubscriptionUpdated, event.Type)
	assert.Equal(t, time.Unix(1756700100, 0).UTC(), event.OccurredAt)
	require.NotNil(t, event.Subscription)
	assert.Equal(t, "sub_1", event.Subscription.ExternalSubscriptionID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, event.Subscription.Status)
	assert.Equal(t, "price_pro_monthly", event.Subscription.ExternalPriceID)
	assert.Nil(t, event.Subscription.CanceledAt)
}

func TestParseSubscriptionUnknownStatus(t *testing.T) {
	adapter := NewAdapter(testSecret, "")

	payload := []byte(`{
		"id": "evt_sub_2",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_2",
			"status": "paused",
			"metadata": {"user_id": "7242838383742"}
		}}
	}`)

	_, err := adapter.Parse(context.Background(), payload)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStatus)
}

func TestParseMissingUser(t *testing.T) {
	adapter := NewAdapter(testSecret, "")

	payload := []byte(`{
		"id": "evt_sub_3",
		"type": "customer.subscription.created",
		"data": {"object": {"id": "sub_3", "status": "active", "metadata": {}}}
	}`)

	_, err := adapter.Parse(context.Background(), payload)
	assert.ErrorIs(t, err, paymentdomain.ErrUnknownUser)
}

func TestParseIgnoredAndInvalid(t *testing.T) {
	adapter := NewAdapter(testSecret, "")
	ctx := context.Background()

	_, err := adapter.Parse(ctx, []byte(`{"id":"evt_x","type":"invoice.paid"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)

	_, err = adapter.Parse(ctx, []byte(`not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = adapter.Parse(ctx, []byte(`{"type":"checkout.session.completed"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}

func TestSignPayloadRoundTrip(t *testing.T) {
	adapter := NewAdapter(testSecret, "")
	at := time.Unix(1756700200, 0)

	for i := 0; i < 3; i++ {
		payload := []byte(fmt.Sprintf(`{"id":"evt_%d"}`, i))
		header := SignPayload(payload, testSecret, at)
		assert.NoError(t, adapter.Verify(context.Background(), payload, header))
	}
}
