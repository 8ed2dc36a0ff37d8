// Package events publishes domain events to a RabbitMQ topic exchange.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Routing keys.
const (
	AccountCreated       = "account.created"
	TransactionAccepted  = "transaction.accepted"
	TransactionSucceeded = "transaction.succeeded"
	TransactionFailed    = "transaction.failed"
	TransactionTimedOut  = "transaction.timed_out"
)

// DefaultExchange is the topic exchange events are published to.
const DefaultExchange = "mobilemoney.events"

const defaultPublishTimeout = 5 * time.Second

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close()
}

// AccountEvent is the payload of account.created.
type AccountEvent struct {
	AccountID     uuid.UUID `json:"compte_id"`
	ClientID      string    `json:"id_client"`
	AccountNumber string    `json:"numero_compte"`
	Phone         string    `json:"telephone"`
	Timestamp     time.Time `json:"timestamp"`
}

// TransactionEvent is the payload of transaction.* events.
type TransactionEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Reference     string    `json:"reference"`
	AccountID     uuid.UUID `json:"compte_id"`
	Type          string    `json:"type"`
	Amount        string    `json:"montant"`
	Currency      string    `json:"devise"`
	Status        string    `json:"statut"`
	Reason        string    `json:"raison_echec,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
