package domain

import (
	"context"
)

// EventBus decouples transaction recording from referral processing and
// rule administration from cache invalidation. Backed by Go channels
// in-process or NATS across instances.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names.
const (
	TopicTransactionRecorded = "feecore.transaction.recorded"
	TopicAccountReferred     = "feecore.account.referred"
	TopicRulesChanged        = "feecore.rules.changed"
	TopicReferralAwarded     = "feecore.referral.awarded"
)

// TransactionEvent is the payload published on TopicTransactionRecorded.
type TransactionEvent struct {
	TxID       string   `json:"txId"`
	Type       string   `json:"type"`
	Amount     int64    `json:"amount"`
	Commission int64    `json:"commission"`
	SenderID   string   `json:"senderId,omitempty"`
	ReceiverID string   `json:"receiverId,omitempty"`
	Audience   Audience `json:"audience,omitempty"`
}

// ReferralEvent is the payload published on TopicAccountReferred.
type ReferralEvent struct {
	ReferralID string `json:"referralId"`
	RefereeID  string `json:"refereeId"`
}

// RulesChangedEvent is the payload published on TopicRulesChanged.
// Family is "commission" or "referral".
type RulesChangedEvent struct {
	Family string `json:"family"`
	RuleID string `json:"ruleId"`
}
