package domain

import "context"

// ProviderAdapter translates one payment provider's webhook wire format into
// canonical events. Verify must pass before Parse output is trusted.
type ProviderAdapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, signatureHeader string) error
	// Parse returns ErrEventIgnored for event types the engine does not
	// consume.
	Parse(ctx context.Context, payload []byte) (*ProviderEvent, error)
	// CreateCheckoutSession is the outbound collaborator call; it performs
	// no local writes.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
}

// CheckoutParams is the provider-facing view of a session request.
type CheckoutParams struct {
	ExternalPriceID string
	OneTime         bool
	UserID          string
	SuccessURL      string
	CancelURL       string
	Metadata        map[string]string
}
