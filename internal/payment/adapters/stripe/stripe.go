package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/cvforge/creditengine/internal/payment/domain"
	subscriptiondomain "github.com/cvforge/creditengine/internal/subscription/domain"
)

type Adapter struct {
	webhookSecret string
	apiKey        string

	httpClient *http.Client
}

func NewAdapter(webhookSecret, apiKey string) *Adapter {
	return &Adapter{
		webhookSecret: strings.TrimSpace(webhookSecret),
		apiKey:        strings.TrimSpace(apiKey),
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *Adapter) Provider() string { return "stripe" }

func (a *Adapter) Verify(ctx context.Context, payload []byte, signatureHeader string) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.ProviderEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return a.parseCheckoutCompleted(event, payload)
	case "customer.subscription.created":
		return a.parseSubscriptionChange(event, payload, paymentdomain.EventTypeSubscriptionCreated)
	case "customer.subscription.updated":
		return a.parseSubscriptionChange(event, payload, paymentdomain.EventTypeSubscriptionUpdated)
	case "customer.subscription.deleted":
		return a.parseSubscriptionChange(event, payload, paymentdomain.EventTypeSubscriptionDeleted)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Created           int64             `json:"created"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Created            int64             `json:"created"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	TrialStart         int64             `json:"trial_start"`
	TrialEnd           int64             `json:"trial_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (a *Adapter) parseCheckoutCompleted(event stripeEvent, payload []byte) (*paymentdomain.ProviderEvent, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	// Subscription-mode checkouts are covered by the subscription.created
	// event; only one-time payments carry a credit grant.
	if session.Mode != "payment" {
		return nil, paymentdomain.ErrEventIgnored
	}
	if session.PaymentStatus != "" && session.PaymentStatus != "paid" {
		return nil, paymentdomain.ErrEventIgnored
	}

	userRaw := strings.TrimSpace(session.ClientReferenceID)
	if userRaw == "" {
		userRaw = strings.TrimSpace(session.Metadata["user_id"])
	}
	userID, err := snowflake.ParseString(userRaw)
	if err != nil || userID == 0 {
		return nil, paymentdomain.ErrUnknownUser
	}

	priceID := strings.TrimSpace(session.Metadata["price_id"])
	if priceID == "" {
		return nil, paymentdomain.ErrUnknownPlan
	}

	return &paymentdomain.ProviderEvent{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventTypeCheckoutCompleted,
		OccurredAt:      unixTime(session.Created, event.Created),
		RawPayload:      payload,
		Checkout: &paymentdomain.CheckoutCompleted{
			SessionID:       session.ID,
			UserID:          userID,
			ExternalPriceID: priceID,
			AmountTotal:     session.AmountTotal,
			Currency:        strings.ToUpper(strings.TrimSpace(session.Currency)),
		},
	}, nil
}

func (a *Adapter) parseSubscriptionChange(event stripeEvent, payload []byte, eventType paymentdomain.EventType) (*paymentdomain.ProviderEvent, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(sub.Metadata["user_id"]))
	if err != nil || userID == 0 {
		return nil, paymentdomain.ErrUnknownUser
	}

	status, err := subscriptiondomain.ParseStatus(strings.TrimSpace(sub.Status))
	if err != nil {
		return nil, err
	}

	priceID := ""
	if len(sub.Items.Data) > 0 {
		priceID = strings.TrimSpace(sub.Items.Data[0].Price.ID)
	}

	change := &paymentdomain.SubscriptionChange{
		ExternalSubscriptionID: sub.ID,
		UserID:                 userID,
		ExternalPriceID:        priceID,
		Status:                 status,
		CurrentPeriodStart:     unixTime(sub.CurrentPeriodStart, 0),
		CurrentPeriodEnd:       unixTime(sub.CurrentPeriodEnd, 0),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		TrialStart:             optionalUnixTime(sub.TrialStart),
		TrialEnd:               optionalUnixTime(sub.TrialEnd),
		CanceledAt:             optionalUnixTime(sub.CanceledAt),
	}

	return &paymentdomain.ProviderEvent{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Type:            eventType,
		OccurredAt:      unixTime(event.Created, 0),
		RawPayload:      payload,
		Subscription:    change,
	}, nil
}

// CreateCheckoutSession calls the provider's checkout API. Nothing local
// changes until the webhook lands.
func (a *Adapter) CreateCheckoutSession(ctx context.Context, params paymentdomain.CheckoutParams) (*paymentdomain.CheckoutSession, error) {
	if a.apiKey == "" {
		return nil, errors.New("stripe api key not configured")
	}

	data := url.Values{}
	if params.OneTime {
		data.Set("mode", "payment")
	} else {
		data.Set("mode", "subscription")
	}
	data.Set("success_url", params.SuccessURL)
	data.Set("cancel_url", params.CancelURL)
	data.Set("line_items[0][price]", params.ExternalPriceID)
	data.Set("line_items[0][quantity]", "1")
	data.Set("client_reference_id", params.UserID)
	data.Set("metadata[user_id]", params.UserID)
	data.Set("metadata[price_id]", params.ExternalPriceID)
	if !params.OneTime {
		// Stamped onto the subscription object so every subscription.*
		// webhook can be attributed to the user.
		data.Set("subscription_data[metadata][user_id]", params.UserID)
	}
	for k, v := range params.Metadata {
		data.Set("metadata["+k+"]", v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.stripe.com/v1/checkout/sessions",
		strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d body %s", paymentdomain.ErrProviderUnreachable, resp.StatusCode, string(body))
	}

	var session struct {
		ID        string `json:"id"`
		URL       string `json:"url"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, err
	}

	return &paymentdomain.CheckoutSession{
		ID:        session.ID,
		URL:       session.URL,
		ExpiresAt: time.Unix(session.ExpiresAt, 0).UTC(),
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("malformed signature header")
	}
	return timestamp, signatures, nil
}

// SignPayload produces a valid Stripe-Signature header for the given payload
// and secret. Exposed for tests and local webhook replay tooling.
func SignPayload(payload []byte, secret string, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp + "." + string(payload)))
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func unixTime(primary, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}

func optionalUnixTime(value int64) *time.Time {
	if value == 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}
