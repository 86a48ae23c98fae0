package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/cvforge/creditengine/internal/subscription/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventType is the engine's canonical view of provider webhook events.
type EventType string

const (
	EventTypeCheckoutCompleted   EventType = "checkout_completed"
	EventTypeSubscriptionCreated EventType = "subscription_created"
	EventTypeSubscriptionUpdated EventType = "subscription_updated"
	EventTypeSubscriptionDeleted EventType = "subscription_deleted"
)

// ProviderEvent is the adapter-parsed, signature-verified event. Exactly one
// of Checkout or Subscription is set, matching Type.
type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	Type            EventType
	// Provider-side creation time; the out-of-order guard compares on it.
	OccurredAt time.Time
	RawPayload []byte

	Checkout     *CheckoutCompleted
	Subscription *SubscriptionChange
}

// CheckoutCompleted is a finished one-time purchase (credit pack).
type CheckoutCompleted struct {
	SessionID       string
	UserID          snowflake.ID
	ExternalPriceID string
	AmountTotal     int64
	Currency        string
}

// SubscriptionChange carries the provider's subscription object fields the
// engine persists.
type SubscriptionChange struct {
	ExternalSubscriptionID string
	UserID                 snowflake.ID
	ExternalPriceID        string
	Status                 subscriptiondomain.SubscriptionStatus
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	CancelAtPeriodEnd      bool
	TrialStart             *time.Time
	TrialEnd               *time.Time
	CanceledAt             *time.Time
}

// EventRecord is the processed-event table backing webhook idempotency. The
// unique index on (provider, provider_event_id) rejects replays.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       EventType      `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// Outcome describes what processing one event did. Everything except
// OutcomeFailed maps to a success response so the provider stops retrying.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
)

type Synchronizer interface {
	// IngestWebhook verifies, parses, and applies one delivery. Processing
	// is a single atomic unit; on error everything rolls back so the
	// provider's retry can reapply it cleanly.
	IngestWebhook(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error)

	// ProcessEvent applies an already-verified canonical event.
	ProcessEvent(ctx context.Context, event *ProviderEvent) (Outcome, error)
}

type EventRepository interface {
	// InsertEventRecord returns false when the provider event id was
	// already recorded.
	InsertEventRecord(ctx context.Context, db *gorm.DB, record *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

type CheckoutSessionInput struct {
	UserID     snowflake.ID
	PlanID     snowflake.ID
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CheckoutService interface {
	// CreateSession builds a provider checkout session for a plan. Nothing
	// local is written; failures surface as ErrProviderUnreachable.
	CreateSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSession, error)
}

var (
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrUnknownUser           = errors.New("unknown_user")
	ErrUnknownPlan           = errors.New("unknown_plan")
	ErrProviderUnreachable   = errors.New("payment_provider_unreachable")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)
